// Package snapshot records finished aggregation cycles to history sinks.
package snapshot

import (
	"time"

	"arb-watch-go/arbitrage"
	"arb-watch-go/market"
)

// Cycle 一次完整的聚合 + 计算结果。写入各 sink 后只读。
type Cycle struct {
	ID       string               `json:"id"`
	Started  time.Time            `json:"started"`
	Duration time.Duration        `json:"durationNs"`
	Symbols  []string             `json:"symbols"`
	Options  arbitrage.Options    `json:"options"`
	Prices   *market.PriceTable   `json:"prices"`
	Errors   map[string]string    `json:"errors,omitempty"` // venue -> 错误信息
	Spreads  []arbitrage.Result   `json:"spreads"`
	Edges    []arbitrage.PairEdge `json:"edges"`
	Summary  string               `json:"summary"`
}

// BestEdges 每个 symbol 的最优交易所对。
func (c *Cycle) BestEdges() []arbitrage.PairEdge {
	return arbitrage.BestEdges(c.Edges)
}
