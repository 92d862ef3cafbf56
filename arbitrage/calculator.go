// Package arbitrage computes cross-venue spreads from a price table.
package arbitrage

import (
	"strings"

	"arb-watch-go/fees"
	"arb-watch-go/market"
)

// FeeSource 计算所需的费率查询，*fees.Table 实现了它。
type FeeSource interface {
	Rate(venue string, role fees.Role) float64
	Overhead(symbol string) float64
	Withdraw(venue, symbol string) float64
	DefaultNotional() float64
}

// Options 计算参数。
type Options struct {
	IncludeFees bool      `json:"includeFees"`
	Role        fees.Role `json:"role"`     // 为空按 taker
	Notional    float64   `json:"notional"` // <=0 使用费率表默认值
}

// Leg 一侧（买或卖）的选择结果。
type Leg struct {
	Venue     string  `json:"venue"`
	Price     float64 `json:"price"`     // 原始报价
	Effective float64 `json:"effective"` // 含费率与网络成本后的有效价格；不含费时等于 Price
	FeeRate   float64 `json:"feeRate"`
}

// Result 单个 symbol 的最优价差。
type Result struct {
	Symbol     string  `json:"symbol"`
	Buy        Leg     `json:"buy"`
	Sell       Leg     `json:"sell"`
	Venues     int     `json:"venues"`
	Gross      float64 `json:"gross"`
	GrossPct   float64 `json:"grossPct"`
	Overhead   float64 `json:"overhead"`
	Net        float64 `json:"net"`
	NetPct     float64 `json:"netPct"`
	Notional   float64 `json:"notional"`
	NetDollars float64 `json:"netDollars"`
	FeesOn     bool    `json:"feesIncluded"`
}

// Calculator 无状态，给定相同输入与费率表时输出确定。
type Calculator struct {
	fees FeeSource
	opts Options
}

// NewCalculator fs 为 nil 时使用未加载配置的费率表（统一回落费率）。
func NewCalculator(fs FeeSource, opts Options) *Calculator {
	if fs == nil {
		fs = fees.New(nil)
	}
	if opts.Role != fees.Maker {
		opts.Role = fees.Taker
	}
	return &Calculator{fees: fs, opts: opts}
}

// Options 返回生效的参数。
func (c *Calculator) Options() Options { return c.opts }

// Notional 生效的名义金额。
func (c *Calculator) Notional() float64 {
	if c.opts.Notional > 0 {
		return c.opts.Notional
	}
	return c.fees.DefaultNotional()
}

type candidate struct {
	venue string
	price float64
	fee   float64
	buy   float64
	sell  float64
}

func (c *Calculator) candidates(table *market.PriceTable, symbol string) []candidate {
	overhead := 0.0
	if c.opts.IncludeFees {
		overhead = c.fees.Overhead(symbol)
	}
	quotes := table.Quotes(symbol)
	out := make([]candidate, 0, len(quotes))
	seen := make(map[string]bool, len(quotes))
	for _, q := range quotes {
		if !market.ValidPrice(q.Price) || seen[q.Venue] {
			continue
		}
		seen[q.Venue] = true
		cd := candidate{venue: q.Venue, price: q.Price, buy: q.Price, sell: q.Price}
		if c.opts.IncludeFees {
			cd.fee = c.fees.Rate(q.Venue, c.opts.Role)
			cd.buy = q.Price*(1+cd.fee) + overhead
			cd.sell = q.Price*(1-cd.fee) - overhead
		}
		out = append(out, cd)
	}
	return out
}

// Compute 计算单个 symbol；少于两个交易所报价时返回 false。
func (c *Calculator) Compute(table *market.PriceTable, symbol string) (Result, bool) {
	symbol = strings.ToUpper(symbol)
	cands := c.candidates(table, symbol)
	if len(cands) < 2 {
		return Result{}, false
	}
	// 买卖两侧独立选择，相同有效价格取先出现的交易所
	buy, sell := cands[0], cands[0]
	for _, cd := range cands[1:] {
		if cd.buy < buy.buy {
			buy = cd
		}
		if cd.sell > sell.sell {
			sell = cd
		}
	}

	r := Result{
		Symbol:   symbol,
		Buy:      Leg{Venue: buy.venue, Price: buy.price, Effective: buy.buy, FeeRate: buy.fee},
		Sell:     Leg{Venue: sell.venue, Price: sell.price, Effective: sell.sell, FeeRate: sell.fee},
		Venues:   len(cands),
		Gross:    sell.price - buy.price,
		Notional: c.Notional(),
		FeesOn:   c.opts.IncludeFees,
	}
	if c.opts.IncludeFees {
		r.Overhead = c.fees.Overhead(symbol)
	}
	if buy.price != 0 {
		r.GrossPct = r.Gross / buy.price * 100
	}
	r.Net = sell.sell - buy.buy
	if buy.buy != 0 {
		r.NetPct = r.Net / buy.buy * 100
		r.NetDollars = r.Notional * r.Net / buy.buy
	}
	return r, true
}

// Spreads 按 symbols 顺序返回每个可计算的 symbol 的结果。
func (c *Calculator) Spreads(table *market.PriceTable, symbols []string) []Result {
	out := make([]Result, 0, len(symbols))
	if table == nil {
		return out
	}
	for _, sym := range symbols {
		if r, ok := c.Compute(table, sym); ok {
			out = append(out, r)
		}
	}
	return out
}
