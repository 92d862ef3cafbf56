package arbitrage

import (
	"sort"
	"strings"

	"arb-watch-go/market"
)

// PairEdge 有序交易所对（买 A 卖 B）的原始价差，以及按名义金额估算的美元收益。
type PairEdge struct {
	Symbol      string  `json:"symbol"`
	BuyVenue    string  `json:"buyVenue"`
	BuyPrice    float64 `json:"buyPrice"`
	SellVenue   string  `json:"sellVenue"`
	SellPrice   float64 `json:"sellPrice"`
	EdgePct     float64 `json:"edgePct"`
	Notional    float64 `json:"notional"`
	Quantity    float64 `json:"quantity"`
	GrossUSD    float64 `json:"grossUsd"`
	BuyFeeRate  float64 `json:"buyFeeRate"`
	SellFeeRate float64 `json:"sellFeeRate"`
	BuyFeeUSD   float64 `json:"buyFeeUsd"`
	SellFeeUSD  float64 `json:"sellFeeUsd"`
	Withdraw    float64 `json:"withdrawCoin"`
	WithdrawUSD float64 `json:"withdrawUsd"`
	NetUSD      float64 `json:"netUsd"`
	NetPct      float64 `json:"netPct"`
}

// PairEdges 所有买卖交易所不同的有序组合，按 symbols 顺序、同一 symbol 内 EdgePct 降序。
// 费用拆分始终使用费率表，与 IncludeFees 无关。
func (c *Calculator) PairEdges(table *market.PriceTable, symbols []string) []PairEdge {
	if table == nil {
		return nil
	}
	notional := c.Notional()
	out := make([]PairEdge, 0)
	for _, sym := range symbols {
		sym = strings.ToUpper(sym)
		quotes := table.Quotes(sym)
		group := make([]PairEdge, 0, len(quotes)*len(quotes))
		for _, b := range quotes {
			for _, s := range quotes {
				if b.Venue == s.Venue || !market.ValidPrice(b.Price) || !market.ValidPrice(s.Price) {
					continue
				}
				group = append(group, c.edge(sym, b, s, notional))
			}
		}
		sort.SliceStable(group, func(i, j int) bool { return group[i].EdgePct > group[j].EdgePct })
		out = append(out, group...)
	}
	return out
}

func (c *Calculator) edge(sym string, b, s market.Quote, notional float64) PairEdge {
	e := PairEdge{
		Symbol:      sym,
		BuyVenue:    b.Venue,
		BuyPrice:    b.Price,
		SellVenue:   s.Venue,
		SellPrice:   s.Price,
		EdgePct:     (s.Price - b.Price) / b.Price * 100,
		Notional:    notional,
		BuyFeeRate:  c.fees.Rate(b.Venue, c.opts.Role),
		SellFeeRate: c.fees.Rate(s.Venue, c.opts.Role),
		Withdraw:    c.fees.Withdraw(b.Venue, sym),
	}
	e.Quantity = notional / b.Price
	grossSell := e.Quantity * s.Price
	e.GrossUSD = grossSell - notional
	e.BuyFeeUSD = notional * e.BuyFeeRate
	e.SellFeeUSD = grossSell * e.SellFeeRate
	e.WithdrawUSD = e.Withdraw * s.Price
	e.NetUSD = e.GrossUSD - e.BuyFeeUSD - e.SellFeeUSD - e.WithdrawUSD
	if notional > 0 {
		e.NetPct = e.NetUSD / notional * 100
	}
	return e
}

// BestEdges 每个 symbol 取 EdgePct 最大的一条，输入需为 PairEdges 的输出顺序。
func BestEdges(edges []PairEdge) []PairEdge {
	out := make([]PairEdge, 0)
	seen := make(map[string]bool)
	for _, e := range edges {
		if seen[e.Symbol] {
			continue
		}
		seen[e.Symbol] = true
		out = append(out, e)
	}
	return out
}
