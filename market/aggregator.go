package market

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"arb-watch-go/gateway"
	"arb-watch-go/infrastructure/logger"
)

var (
	// ErrNoPrices 交易所本轮没有返回任何有效价格。
	ErrNoPrices = errors.New("no prices")
	// ErrAggregateTimeout 整轮聚合超时，交易所未及时返回。
	ErrAggregateTimeout = errors.New("aggregate timeout")
)

// Collection 一轮聚合的产出。
type Collection struct {
	Table    *PriceTable
	Errors   map[string]error // venue -> 原因，只用于观测
	Started  time.Time
	Duration time.Duration
}

// Aggregator 并发调用所有启用的 adapter，合并为 PriceTable。
type Aggregator struct {
	sources []gateway.Source
	timeout time.Duration
	log     *logger.Logger
	now     func() time.Time
}

// NewAggregator timeout<=0 表示不设整轮超时，仍受调用方 ctx 约束。
func NewAggregator(sources []gateway.Source, timeout time.Duration, log *logger.Logger) *Aggregator {
	if log == nil {
		log = logger.NewNop()
	}
	return &Aggregator{sources: sources, timeout: timeout, log: log, now: time.Now}
}

// Sources 参与聚合的 adapter，按配置顺序。
func (a *Aggregator) Sources() []gateway.Source {
	out := make([]gateway.Source, len(a.sources))
	copy(out, a.sources)
	return out
}

type venueResult struct {
	idx    int
	prices map[string]float64
	err    error
}

// Collect 拉取一轮价格。单个 adapter 的 panic/超时不会影响其他 adapter；
// 返回的 PriceTable 只包含至少有一个价格的交易所，顺序与 sources 一致。
func (a *Aggregator) Collect(ctx context.Context, symbols []string) Collection {
	started := a.now()
	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}
	wanted := make(map[string]struct{}, len(symbols))
	for _, s := range symbols {
		wanted[strings.ToUpper(s)] = struct{}{}
	}

	results := make(chan venueResult, len(a.sources))
	for i, src := range a.sources {
		go func(i int, src gateway.Source) {
			defer func() {
				if r := recover(); r != nil {
					a.log.LogError(fmt.Errorf("panic: %v", r), map[string]interface{}{
						"venue": src.Name(),
						"stack": string(debug.Stack()),
					})
					results <- venueResult{idx: i, err: fmt.Errorf("panic: %v", r)}
				}
			}()
			results <- venueResult{idx: i, prices: src.FetchPrices(ctx, symbols)}
		}(i, src)
	}

	slots := make([]*venueResult, len(a.sources))
	pending := len(a.sources)
wait:
	for pending > 0 {
		select {
		case r := <-results:
			slots[r.idx] = &r
			pending--
		case <-ctx.Done():
			break wait
		}
	}

	col := Collection{
		Table:   NewPriceTable(a.now()),
		Errors:  make(map[string]error),
		Started: started,
	}
	for i, src := range a.sources {
		name := src.Name()
		r := slots[i]
		switch {
		case r == nil:
			err := ctx.Err()
			if errors.Is(err, context.DeadlineExceeded) {
				err = ErrAggregateTimeout
			}
			col.Errors[name] = err
			continue
		case r.err != nil:
			col.Errors[name] = r.err
			continue
		}
		n := 0
		for _, sym := range symbols {
			sym = strings.ToUpper(sym)
			px, ok := lookup(r.prices, sym)
			if !ok || !ValidPrice(px) {
				continue
			}
			if _, ok := wanted[sym]; !ok {
				continue
			}
			col.Table.Set(name, sym, px)
			n++
		}
		if n == 0 {
			col.Errors[name] = ErrNoPrices
		}
	}
	col.Duration = a.now().Sub(started)
	return col
}

// lookup adapter 可能按请求原样的大小写作 key。
func lookup(prices map[string]float64, sym string) (float64, bool) {
	if px, ok := prices[sym]; ok {
		return px, true
	}
	for k, px := range prices {
		if strings.EqualFold(k, sym) {
			return px, true
		}
	}
	return 0, false
}
