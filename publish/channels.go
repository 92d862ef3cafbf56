package publish

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"arb-watch-go/arbitrage"
	"arb-watch-go/infrastructure/logger"
)

// LogChannel 把摘要写进结构化日志
type LogChannel struct {
	log  *logger.Logger
	name string
}

// NewLogChannel 创建日志通道
func NewLogChannel(name string, log *logger.Logger) *LogChannel {
	if log == nil {
		log = logger.NewNop()
	}
	return &LogChannel{log: log, name: name}
}

// Send 每个 symbol 一条 info 日志
func (c *LogChannel) Send(_ context.Context, r Report) error {
	c.log.Info("spread_report",
		zap.String("cycle_id", r.CycleID),
		zap.String("title", r.Title),
		zap.Int("results", len(r.Spreads)),
	)
	for _, s := range r.Spreads {
		c.log.Info("spread",
			zap.String("cycle_id", r.CycleID),
			zap.String("symbol", s.Symbol),
			zap.String("buy", s.Buy.Venue),
			zap.Float64("buy_price", s.Buy.Price),
			zap.String("sell", s.Sell.Venue),
			zap.Float64("sell_price", s.Sell.Price),
			zap.Float64("gross_pct", s.GrossPct),
			zap.Float64("net_pct", s.NetPct),
		)
	}
	return nil
}

// Name 返回通道名称
func (c *LogChannel) Name() string { return c.name }

// bodyLines 邮件/Notion 共用的正文：摘要 + 每个 symbol 的最优交易所对明细
func bodyLines(r Report) []string {
	lines := []string{r.Summary}
	if len(r.Best) == 0 {
		return lines
	}
	lines = append(lines, "")
	for _, e := range r.Best {
		lines = append(lines, fmt.Sprintf("%s: buy %s @ %s, sell %s @ %s, edge %s%%, net %s on %s",
			e.Symbol,
			e.BuyVenue, arbitrage.FormatPrice(e.Symbol, e.BuyPrice),
			e.SellVenue, arbitrage.FormatPrice(e.Symbol, e.SellPrice),
			arbitrage.FormatPct(e.EdgePct),
			arbitrage.FormatUSD(e.Symbol, e.NetUSD),
			arbitrage.FormatUSD(e.Symbol, e.Notional),
		))
	}
	return lines
}

// TextBody 纯文本正文
func TextBody(r Report) string {
	return strings.Join(bodyLines(r), "\n") + "\n"
}

// MockChannel 记录收到的报告（用于测试）
type MockChannel struct {
	name      string
	reports   []Report
	shouldErr bool
	mu        sync.Mutex
}

// NewMockChannel 创建模拟通道
func NewMockChannel(name string) *MockChannel {
	return &MockChannel{name: name}
}

// Send 记录报告
func (c *MockChannel) Send(_ context.Context, r Report) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.shouldErr {
		return fmt.Errorf("mock error")
	}
	c.reports = append(c.reports, r)
	return nil
}

// Name 返回通道名称
func (c *MockChannel) Name() string { return c.name }

// GetReports 获取所有收到的报告
func (c *MockChannel) GetReports() []Report {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Report, len(c.reports))
	copy(out, c.reports)
	return out
}

// SetShouldError 设置是否返回错误
func (c *MockChannel) SetShouldError(shouldErr bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.shouldErr = shouldErr
}

// Count 返回收到的报告数量
func (c *MockChannel) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.reports)
}
