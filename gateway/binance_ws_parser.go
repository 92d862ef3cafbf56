package gateway

import (
	"errors"
	"fmt"
	"time"

	"github.com/tidwall/gjson"
)

// MiniTicker 24hrMiniTicker 的核心字段。
type MiniTicker struct {
	Symbol    string // 交易所原始 symbol，如 BTCUSDT
	Close     float64
	EventTime time.Time
}

// ParseMiniTickers 解析 miniTicker 消息，兼容 combined stream 包装、单条对象与 !miniTicker@arr 数组。
func ParseMiniTickers(raw []byte) ([]MiniTicker, error) {
	if !gjson.ValidBytes(raw) {
		return nil, errors.New("invalid json")
	}
	root := gjson.ParseBytes(raw)
	if data := root.Get("data"); data.Exists() {
		root = data
	}
	var items []gjson.Result
	if root.IsArray() {
		items = root.Array()
	} else {
		items = []gjson.Result{root}
	}
	out := make([]MiniTicker, 0, len(items))
	for _, it := range items {
		if ev := it.Get("e").String(); ev != "" && ev != "24hrMiniTicker" {
			continue
		}
		sym := it.Get("s").String()
		if sym == "" {
			return nil, errors.New("miniTicker without symbol")
		}
		px, err := parsePrice(it.Get("c"))
		if err != nil {
			return nil, fmt.Errorf("miniTicker %s: %w", sym, err)
		}
		out = append(out, MiniTicker{
			Symbol:    sym,
			Close:     px,
			EventTime: time.UnixMilli(it.Get("E").Int()),
		})
	}
	return out, nil
}
