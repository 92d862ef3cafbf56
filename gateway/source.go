// Package gateway holds the per-venue quote adapters.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"
)

// ErrUnknownVenue 配置里出现了未编译进来的 adapter。
var ErrUnknownVenue = errors.New("unknown venue")

// Source 从单个交易所拉取最新成交价。
// FetchPrices 只返回成功取到且价格 > 0 的 symbol，失败的 symbol 直接省略，不向调用方抛错。
type Source interface {
	Name() string
	FetchPrices(ctx context.Context, symbols []string) map[string]float64
}

// ErrorHook 仅用于观测（日志、指标），symbol 为空表示整个源出错。
type ErrorHook func(venue, symbol string, err error)

// Options 构造 adapter 的参数，零值字段使用 adapter 默认值。
type Options struct {
	BaseURL    string
	StreamURL  string
	Timeout    time.Duration
	RateLimit  float64
	Burst      int
	Prices     map[string]float64 // static
	Symbols    []string           // 流式源需要提前订阅
	HTTPClient *http.Client
	OnError    ErrorHook
}

// Factory 根据名字和参数构造 Source。
type Factory func(name string, opts Options) (Source, error)

var registry = map[string]Factory{
	"coinbase":       newCoinbase,
	"binance":        newBinance,
	"kraken":         newKraken,
	"bitstamp":       newBitstamp,
	"bitfinex":       newBitfinex,
	"coingecko":      newCoingecko,
	"binance-stream": newBinanceStreamSource,
	"static":         newStatic,
}

// Names 返回编译进来的 adapter 名称（排序后）。
func Names() []string {
	out := make([]string, 0, len(registry))
	for k := range registry {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// New 按名字构造 adapter。"static:demo" 这种带后缀的名字使用 static adapter，
// 同时保留完整名字作为交易所名，方便配置多个演示源。
func New(name string, opts Options) (Source, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	kind := name
	if i := strings.IndexByte(name, ':'); i > 0 {
		kind = name[:i]
	}
	f, ok := registry[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownVenue, name)
	}
	return f(name, opts)
}

// StatusError 非 2xx 响应。
type StatusError struct {
	Code int
	URL  string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: status %d", e.URL, e.Code)
}

// clientSide 4xx（429 除外）通常意味着 symbol 不被支持，不计入熔断失败。
func (e *StatusError) clientSide() bool {
	return e.Code >= 400 && e.Code < 500 && e.Code != http.StatusTooManyRequests
}
