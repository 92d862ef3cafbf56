package market

import (
	"context"
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"arb-watch-go/gateway"
)

type fakeSource struct {
	name   string
	prices map[string]float64
	delay  time.Duration
	panic  bool
}

func (f *fakeSource) Name() string { return f.name }

func (f *fakeSource) FetchPrices(ctx context.Context, symbols []string) map[string]float64 {
	if f.panic {
		panic("adapter exploded")
	}
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil
		}
	}
	return f.prices
}

func TestCollectKeepsConfigOrderAndDropsEmptyVenues(t *testing.T) {
	agg := NewAggregator([]gateway.Source{
		&fakeSource{name: "kraken", prices: map[string]float64{"BTC-USD": 100}},
		&fakeSource{name: "empty", prices: map[string]float64{}},
		&fakeSource{name: "coinbase", prices: map[string]float64{"BTC-USD": 101, "XRP-USD": 0.6}},
		&fakeSource{name: "binance", prices: map[string]float64{"btc-usd": 99}},
	}, 0, nil)

	col := agg.Collect(context.Background(), []string{"BTC-USD", "XRP-USD"})
	assert.Equal(t, []string{"kraken", "coinbase", "binance"}, col.Table.Venues())
	assert.ErrorIs(t, col.Errors["empty"], ErrNoPrices)

	quotes := col.Table.Quotes("BTC-USD")
	require.Len(t, quotes, 3)
	assert.Equal(t, "kraken", quotes[0].Venue)
	assert.Equal(t, 99.0, quotes[2].Price)
	assert.Len(t, col.Table.Quotes("XRP-USD"), 1)
}

func TestCollectFiltersNonPositiveAndUnrequested(t *testing.T) {
	agg := NewAggregator([]gateway.Source{
		&fakeSource{name: "a", prices: map[string]float64{"BTC-USD": -1, "XRP-USD": 0, "ETH-USD": 5}},
		&fakeSource{name: "b", prices: map[string]float64{"BTC-USD": 100, "ETH-USD": 5}},
	}, 0, nil)
	col := agg.Collect(context.Background(), []string{"BTC-USD", "XRP-USD"})
	assert.Equal(t, []string{"b"}, col.Table.Venues())
	_, ok := col.Table.Price("b", "ETH-USD")
	assert.False(t, ok)
	assert.ErrorIs(t, col.Errors["a"], ErrNoPrices)
}

func TestCollectRecoversPanics(t *testing.T) {
	agg := NewAggregator([]gateway.Source{
		&fakeSource{name: "boom", panic: true},
		&fakeSource{name: "ok", prices: map[string]float64{"BTC-USD": 100}},
	}, 0, nil)
	col := agg.Collect(context.Background(), []string{"BTC-USD"})
	assert.Equal(t, []string{"ok"}, col.Table.Venues())
	require.Error(t, col.Errors["boom"])
	assert.Contains(t, col.Errors["boom"].Error(), "adapter exploded")
}

func TestCollectAggregateTimeout(t *testing.T) {
	agg := NewAggregator([]gateway.Source{
		&fakeSource{name: "slow", prices: map[string]float64{"BTC-USD": 100}, delay: time.Second},
		&fakeSource{name: "fast", prices: map[string]float64{"BTC-USD": 101}},
	}, 50*time.Millisecond, nil)
	start := time.Now()
	col := agg.Collect(context.Background(), []string{"BTC-USD"})
	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.Equal(t, []string{"fast"}, col.Table.Venues())
	assert.ErrorIs(t, col.Errors["slow"], ErrAggregateTimeout)
}

func TestCollectNoSources(t *testing.T) {
	col := NewAggregator(nil, 0, nil).Collect(context.Background(), []string{"BTC-USD"})
	assert.Equal(t, 0, col.Table.Len())
	assert.Empty(t, col.Errors)
}

func TestPriceTableJSONRoundTrip(t *testing.T) {
	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	tbl := NewPriceTable(at)
	tbl.Set("kraken", "btc-usd", 100)
	tbl.Set("coinbase", "BTC-USD", 101)
	tbl.Set("ignored", "BTC-USD", 0)

	raw, err := json.Marshal(tbl)
	require.NoError(t, err)
	assert.JSONEq(t, `{"time":"2024-01-02T03:04:05Z","venues":["kraken","coinbase"],"prices":{"kraken":{"BTC-USD":100},"coinbase":{"BTC-USD":101}}}`, string(raw))

	var back PriceTable
	require.NoError(t, json.Unmarshal(raw, &back))
	assert.Equal(t, tbl.Venues(), back.Venues())
	px, ok := back.Price("coinbase", "BTC-USD")
	assert.True(t, ok)
	assert.Equal(t, 101.0, px)
	assert.True(t, at.Equal(back.Time()))
}

func TestCollectFiltersNonFinite(t *testing.T) {
	agg := NewAggregator([]gateway.Source{
		&fakeSource{name: "a", prices: map[string]float64{"BTC-USD": math.NaN(), "XRP-USD": math.Inf(1)}},
		&fakeSource{name: "b", prices: map[string]float64{"BTC-USD": 100, "XRP-USD": math.Inf(-1)}},
	}, 0, nil)
	col := agg.Collect(context.Background(), []string{"BTC-USD", "XRP-USD"})
	assert.Equal(t, []string{"b"}, col.Table.Venues())
	assert.Len(t, col.Table.Quotes("BTC-USD"), 1)
	assert.Empty(t, col.Table.Quotes("XRP-USD"))
	assert.ErrorIs(t, col.Errors["a"], ErrNoPrices)

	_, err := json.Marshal(col.Table)
	assert.NoError(t, err)
}

func TestPriceTableSetIgnoresNonFinite(t *testing.T) {
	tbl := NewPriceTable(time.Unix(0, 0))
	tbl.Set("a", "BTC-USD", math.NaN())
	tbl.Set("a", "BTC-USD", math.Inf(1))
	tbl.Set("b", "BTC-USD", math.Inf(-1))
	assert.Empty(t, tbl.Venues())

	assert.True(t, ValidPrice(0.5))
	assert.False(t, ValidPrice(0))
	assert.False(t, ValidPrice(math.NaN()))
	assert.False(t, ValidPrice(math.Inf(1)))
}
