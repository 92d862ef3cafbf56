package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	binanceStreamEndpoint = "wss://stream.binance.com:9443"
	streamReadTimeout     = 30 * time.Second
	streamMaxBackoff      = 30 * time.Second
	defaultStreamMaxAge   = 30 * time.Second
)

type cachedPrice struct {
	price float64
	at    time.Time
}

// BinanceStream 订阅 miniTicker 并缓存最新价；FetchPrices 只读缓存，不发起请求。
// 需要先 Start，否则缓存为空，所有 symbol 都被省略。
type BinanceStream struct {
	name     string
	endpoint string
	symbols  []string // 原始 symbol，例如 BTC-USD
	byPair   map[string]string
	dialer   *websocket.Dialer
	maxAge   time.Duration
	onError  ErrorHook
	now      func() time.Time

	mu     sync.RWMutex
	prices map[string]cachedPrice

	cancel context.CancelFunc
	done   chan struct{}
}

func newBinanceStreamSource(name string, opts Options) (Source, error) {
	return NewBinanceStream(name, opts)
}

// NewBinanceStream 构造 websocket 源，opts.Symbols 决定订阅哪些 stream。
func NewBinanceStream(name string, opts Options) (*BinanceStream, error) {
	if len(opts.Symbols) == 0 {
		return nil, errors.New("binance stream: symbols required")
	}
	endpoint := opts.StreamURL
	if endpoint == "" {
		endpoint = binanceStreamEndpoint
	}
	byPair := make(map[string]string, len(opts.Symbols))
	for _, sym := range opts.Symbols {
		pair, err := binanceSymbol(sym)
		if err != nil {
			return nil, fmt.Errorf("binance stream: %w", err)
		}
		byPair[pair] = strings.ToUpper(sym)
	}
	maxAge := opts.Timeout * 3
	if maxAge <= 0 {
		maxAge = defaultStreamMaxAge
	}
	return &BinanceStream{
		name:     name,
		endpoint: strings.TrimRight(endpoint, "/"),
		symbols:  opts.Symbols,
		byPair:   byPair,
		dialer:   websocket.DefaultDialer,
		maxAge:   maxAge,
		onError:  opts.OnError,
		now:      time.Now,
		prices:   make(map[string]cachedPrice),
	}, nil
}

func (b *BinanceStream) Name() string { return b.name }

// FetchPrices 返回 maxAge 内收到过的价格。
func (b *BinanceStream) FetchPrices(_ context.Context, symbols []string) map[string]float64 {
	now := b.now()
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[string]float64, len(symbols))
	for _, sym := range symbols {
		cp, ok := b.prices[strings.ToUpper(sym)]
		if !ok || now.Sub(cp.at) > b.maxAge {
			continue
		}
		out[sym] = cp.price
	}
	return out
}

// StreamURL combined stream 地址。
func (b *BinanceStream) StreamURL() string {
	streams := make([]string, 0, len(b.byPair))
	for _, sym := range b.symbols {
		pair, _ := binanceSymbol(sym)
		streams = append(streams, strings.ToLower(pair)+"@miniTicker")
	}
	q := url.Values{}
	q.Set("streams", strings.Join(streams, "/"))
	return b.endpoint + "/stream?" + q.Encode()
}

// Start 在后台维持连接，断线后指数退避重连。
func (b *BinanceStream) Start(ctx context.Context) error {
	if b.cancel != nil {
		return errors.New("binance stream already started")
	}
	ctx, b.cancel = context.WithCancel(ctx)
	b.done = make(chan struct{})
	go func() {
		defer close(b.done)
		_ = b.Run(ctx)
	}()
	return nil
}

// Stop 断开连接并等待后台 goroutine 退出。
func (b *BinanceStream) Stop() error {
	if b.cancel == nil {
		return nil
	}
	b.cancel()
	<-b.done
	return nil
}

// Run 阻塞直到 ctx 结束。
func (b *BinanceStream) Run(ctx context.Context) error {
	backoff := time.Second
	for {
		connected, err := b.runOnce(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		b.report("", err)
		if connected {
			backoff = time.Second
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > streamMaxBackoff {
			backoff = streamMaxBackoff
		}
	}
}

func (b *BinanceStream) runOnce(ctx context.Context) (bool, error) {
	conn, _, err := b.dialer.DialContext(ctx, b.StreamURL(), nil)
	if err != nil {
		return false, fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-stop:
		}
	}()

	for {
		_ = conn.SetReadDeadline(time.Now().Add(streamReadTimeout))
		_, message, err := conn.ReadMessage()
		if err != nil {
			return true, fmt.Errorf("read: %w", err)
		}
		b.OnRawMessage(message)
	}
}

// OnRawMessage 解析一条消息并更新缓存，未订阅的 symbol 忽略。
func (b *BinanceStream) OnRawMessage(raw []byte) {
	tickers, err := ParseMiniTickers(raw)
	if err != nil {
		b.report("", err)
		return
	}
	now := b.now()
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, t := range tickers {
		sym, ok := b.byPair[t.Symbol]
		if !ok || !ValidPrice(t.Close) {
			continue
		}
		b.prices[sym] = cachedPrice{price: t.Close, at: now}
	}
}

func (b *BinanceStream) report(symbol string, err error) {
	if b.onError != nil && err != nil {
		b.onError(b.name, symbol, err)
	}
}
