package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisOptions 最新状态发布参数。
type RedisOptions struct {
	KeyPrefix string // 默认 "arb:"
	Stream    string // 为空则不写 stream
	MaxLen    int64  // stream 近似长度上限，0 表示 1000
}

// RedisSink 把最新一轮写入 Redis：
//
//	{prefix}latest  完整 cycle JSON
//	{prefix}prices  hash，field 为 venue:symbol
//	{prefix}spreads hash，field 为 symbol，value 为 Result JSON
//	stream          每轮一条摘要
type RedisSink struct {
	rdb  redis.UniversalClient
	opts RedisOptions
}

// ErrNoCycle Redis 里还没有任何 cycle。
var ErrNoCycle = errors.New("no cycle stored")

func NewRedisSink(rdb redis.UniversalClient, opts RedisOptions) *RedisSink {
	if opts.KeyPrefix == "" {
		opts.KeyPrefix = "arb:"
	}
	if opts.MaxLen <= 0 {
		opts.MaxLen = 1000
	}
	return &RedisSink{rdb: rdb, opts: opts}
}

// DialRedis 建立连接并 PING。
func DialRedis(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return rdb, nil
}

func (s *RedisSink) Name() string { return "redis" }

func (s *RedisSink) key(k string) string { return s.opts.KeyPrefix + k }

func (s *RedisSink) Write(ctx context.Context, c *Cycle) error {
	payload, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal cycle: %w", err)
	}
	prices := make(map[string]interface{})
	if c.Prices != nil {
		for _, v := range c.Prices.Venues() {
			for _, sym := range c.Symbols {
				if px, ok := c.Prices.Price(v, sym); ok {
					prices[v+":"+sym] = px
				}
			}
		}
	}
	spreads := make(map[string]interface{}, len(c.Spreads))
	for _, r := range c.Spreads {
		raw, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("marshal spread %s: %w", r.Symbol, err)
		}
		spreads[r.Symbol] = string(raw)
	}

	_, err = s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, s.key("latest"), payload, 0)
		p.Del(ctx, s.key("prices"), s.key("spreads"))
		if len(prices) > 0 {
			p.HSet(ctx, s.key("prices"), prices)
		}
		if len(spreads) > 0 {
			p.HSet(ctx, s.key("spreads"), spreads)
		}
		if s.opts.Stream != "" {
			p.XAdd(ctx, &redis.XAddArgs{
				Stream: s.opts.Stream,
				MaxLen: s.opts.MaxLen,
				Approx: true,
				Values: map[string]interface{}{
					"cycle_id": c.ID,
					"ts":       strconv.FormatInt(c.Started.UnixMilli(), 10),
					"results":  len(c.Spreads),
					"summary":  c.Summary,
				},
			})
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis pipeline: %w", err)
	}
	return nil
}

// Latest 读取最近一次写入的 cycle，进程重启后用来预热内存状态。
func (s *RedisSink) Latest(ctx context.Context) (*Cycle, error) {
	raw, err := s.rdb.Get(ctx, s.key("latest")).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNoCycle
	}
	if err != nil {
		return nil, fmt.Errorf("redis get latest: %w", err)
	}
	var c Cycle
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("decode latest cycle: %w", err)
	}
	return &c, nil
}

func (s *RedisSink) Close() error {
	return s.rdb.Close()
}
