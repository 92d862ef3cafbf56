// Package market merges per-venue quotes into a price table.
package market

import (
	"encoding/json"
	"strings"
	"time"

	"arb-watch-go/gateway"
)

// Quote 单个交易所对单个 symbol 的最新成交价，仅在一个周期内有效。
type Quote struct {
	Venue  string    `json:"venue"`
	Symbol string    `json:"symbol"`
	Price  float64   `json:"price"`
	Time   time.Time `json:"time"`
}

// PriceTable venue -> symbol -> price，venue 的遍历顺序固定为插入顺序（即配置顺序）。
// 构造完成后只读，非并发安全的写入只发生在聚合阶段。
type PriceTable struct {
	venues []string
	prices map[string]map[string]float64
	at     time.Time
}

func NewPriceTable(at time.Time) *PriceTable {
	return &PriceTable{prices: make(map[string]map[string]float64), at: at}
}

// ValidPrice 与 adapter 使用同一规则，NaN/Inf/<=0 一律不进表。
func ValidPrice(px float64) bool { return gateway.ValidPrice(px) }

// Set 写入价格，无效价格直接忽略。
func (t *PriceTable) Set(venue, symbol string, px float64) {
	if !ValidPrice(px) || venue == "" || symbol == "" {
		return
	}
	row, ok := t.prices[venue]
	if !ok {
		row = make(map[string]float64)
		t.prices[venue] = row
		t.venues = append(t.venues, venue)
	}
	row[strings.ToUpper(symbol)] = px
}

// Venues 至少有一个价格的交易所，按插入顺序。
func (t *PriceTable) Venues() []string {
	out := make([]string, len(t.venues))
	copy(out, t.venues)
	return out
}

func (t *PriceTable) Price(venue, symbol string) (float64, bool) {
	px, ok := t.prices[venue][strings.ToUpper(symbol)]
	return px, ok
}

// Quotes 按 venue 顺序返回某个 symbol 的全部报价。
func (t *PriceTable) Quotes(symbol string) []Quote {
	symbol = strings.ToUpper(symbol)
	out := make([]Quote, 0, len(t.venues))
	for _, v := range t.venues {
		if px, ok := t.prices[v][symbol]; ok {
			out = append(out, Quote{Venue: v, Symbol: symbol, Price: px, Time: t.at})
		}
	}
	return out
}

// Time 聚合完成时间。
func (t *PriceTable) Time() time.Time { return t.at }

// Len 交易所数量。
func (t *PriceTable) Len() int { return len(t.venues) }

type priceTableJSON struct {
	Time   time.Time                     `json:"time"`
	Venues []string                      `json:"venues"`
	Prices map[string]map[string]float64 `json:"prices"`
}

func (t *PriceTable) MarshalJSON() ([]byte, error) {
	venues := t.venues
	if venues == nil {
		venues = []string{}
	}
	return json.Marshal(priceTableJSON{Time: t.at, Venues: venues, Prices: t.prices})
}

func (t *PriceTable) UnmarshalJSON(raw []byte) error {
	var in priceTableJSON
	if err := json.Unmarshal(raw, &in); err != nil {
		return err
	}
	*t = *NewPriceTable(in.Time)
	for _, v := range in.Venues {
		for sym, px := range in.Prices[v] {
			t.Set(v, sym, px)
		}
	}
	return nil
}
