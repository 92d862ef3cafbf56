package snapshot

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisSinkWritesLatestState(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	sink := NewRedisSink(rdb, RedisOptions{KeyPrefix: "test:", Stream: "test:cycles", MaxLen: 10})
	defer sink.Close()
	ctx := context.Background()

	_, err := sink.Latest(ctx)
	assert.ErrorIs(t, err, ErrNoCycle)

	c := sampleCycle(t)
	require.NoError(t, sink.Write(ctx, c))
	require.NoError(t, sink.Write(ctx, c))

	px, err := rdb.HGet(ctx, "test:prices", "coinbase:BTC-USD").Float64()
	require.NoError(t, err)
	assert.Equal(t, 102.0, px)
	assert.True(t, mr.Exists("test:spreads"))
	n, err := rdb.HLen(ctx, "test:spreads").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	streamLen, err := rdb.XLen(ctx, "test:cycles").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(2), streamLen)

	latest, err := sink.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, c.ID, latest.ID)
	assert.Equal(t, c.Summary, latest.Summary)
	require.Len(t, latest.Spreads, 1)
	assert.Equal(t, "bitstamp", latest.Spreads[0].Buy.Venue)
}

func TestRedisSinkReplacesStalePrices(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	sink := NewRedisSink(rdb, RedisOptions{})
	ctx := context.Background()

	c := sampleCycle(t)
	require.NoError(t, sink.Write(ctx, c))
	require.True(t, mr.Exists("arb:prices"))

	// 同一张价格表，只保留 XRP
	c.Symbols = []string{"XRP-USD"}
	c.Spreads = nil
	require.NoError(t, sink.Write(ctx, c))

	fields, err := rdb.HKeys(ctx, "arb:prices").Result()
	require.NoError(t, err)
	assert.Equal(t, []string{"kraken:XRP-USD"}, fields)
	assert.False(t, mr.Exists("arb:spreads"))
}

func TestDialRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	rdb, err := DialRedis(context.Background(), addr, "", 0)
	require.NoError(t, err)
	require.NoError(t, rdb.Close())

	// Close 之后 miniredis 不再暴露 Addr，只能用先前保存的地址
	mr.Close()
	_, err = DialRedis(context.Background(), addr, "", 0)
	assert.Error(t, err)
}
