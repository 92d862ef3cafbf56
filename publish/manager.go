// Package publish pushes cycle reports to outbound channels.
package publish

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"arb-watch-go/arbitrage"
	"arb-watch-go/snapshot"
)

// ErrNoChannels 没有配置任何推送通道。
var ErrNoChannels = errors.New("no publish channels configured")

// Report 一次推送的内容。
type Report struct {
	Title     string
	CycleID   string
	Timestamp time.Time
	Summary   string
	Spreads   []arbitrage.Result
	Best      []arbitrage.PairEdge
	CSV       []byte // sym_summary 附件
}

// NewReport 从 cycle 生成报告，topN 控制摘要行数。
func NewReport(c *snapshot.Cycle, topN int) (Report, error) {
	csvData, err := c.SummaryCSV()
	if err != nil {
		return Report{}, fmt.Errorf("build csv: %w", err)
	}
	return Report{
		Title:     "Crypto spreads " + c.Started.UTC().Format("2006-01-02 15:04 UTC"),
		CycleID:   c.ID,
		Timestamp: c.Started,
		Summary:   arbitrage.Summary(c.Spreads, topN),
		Spreads:   arbitrage.TopByGross(c.Spreads, topN),
		Best:      c.BestEdges(),
		CSV:       csvData,
	}, nil
}

// Channel 推送通道接口
type Channel interface {
	Send(ctx context.Context, r Report) error
	Name() string
}

// Throttler 推送限流器，按 key 控制最小间隔
type Throttler struct {
	lastSent map[string]time.Time
	interval time.Duration
	now      func() time.Time
	mu       sync.Mutex
}

// NewThrottler 创建限流器
func NewThrottler(interval time.Duration) *Throttler {
	return &Throttler{
		lastSent: make(map[string]time.Time),
		interval: interval,
		now:      time.Now,
	}
}

// Allow 检查是否允许发送
func (t *Throttler) Allow(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	last, ok := t.lastSent[key]
	if !ok || now.Sub(last) >= t.interval {
		t.lastSent[key] = now
		return true
	}
	return false
}

// Clear 清空所有限流记录
func (t *Throttler) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastSent = make(map[string]time.Time)
}

// Manager 推送管理器
type Manager struct {
	channels []Channel
	throttle *Throttler
	onError  func(channel string, err error)
	mu       sync.RWMutex
}

// NewManager 创建推送管理器，onError 用于日志/指标，可为 nil
func NewManager(channels []Channel, throttleInterval time.Duration, onError func(channel string, err error)) *Manager {
	return &Manager{
		channels: channels,
		throttle: NewThrottler(throttleInterval),
		onError:  onError,
	}
}

// Publish 限流后推送到所有通道；被限流返回 (false, nil)。
// 只有全部通道都失败时才返回错误，单个失败通过 onError 上报。
func (m *Manager) Publish(ctx context.Context, r Report) (bool, error) {
	if !m.throttle.Allow("report") {
		return false, nil
	}
	return true, m.PublishNow(ctx, r)
}

// PublishNow 忽略限流立即推送。
func (m *Manager) PublishNow(ctx context.Context, r Report) error {
	m.mu.RLock()
	channels := make([]Channel, len(m.channels))
	copy(channels, m.channels)
	m.mu.RUnlock()

	if len(channels) == 0 {
		return ErrNoChannels
	}
	var lastErr error
	success := 0
	for _, ch := range channels {
		if err := ch.Send(ctx, r); err != nil {
			lastErr = fmt.Errorf("channel %s failed: %w", ch.Name(), err)
			if m.onError != nil {
				m.onError(ch.Name(), err)
			}
			continue
		}
		success++
	}
	if success == 0 {
		return lastErr
	}
	return nil
}

// AddChannel 添加通道
func (m *Manager) AddChannel(ch Channel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels = append(m.channels, ch)
}

// GetChannels 获取所有通道名称
func (m *Manager) GetChannels() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.channels))
	for _, ch := range m.channels {
		names = append(names, ch.Name())
	}
	return names
}

// ResetThrottle 重置限流器
func (m *Manager) ResetThrottle() {
	m.throttle.Clear()
}
