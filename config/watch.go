package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// HotReloadConfig 热更新配置
type HotReloadConfig struct {
	Enabled      bool          // 是否启用热更新
	CooldownTime time.Duration // 冷却时间，避免编辑器多次写入触发重复加载
}

// DefaultHotReloadConfig 默认热更新配置
func DefaultHotReloadConfig() HotReloadConfig {
	return HotReloadConfig{
		Enabled:      true,
		CooldownTime: 500 * time.Millisecond,
	}
}

// HotReloader 监听单个文件的变化并调用 reload 回调。
// 监听的是文件所在目录，按文件名过滤，这样编辑器"写临时文件再 rename"的保存方式也能触发。
type HotReloader struct {
	config        HotReloadConfig
	path          string
	watcher       *fsnotify.Watcher
	lastReload    time.Time
	mu            sync.Mutex
	stopChan      chan struct{}
	doneChan      chan struct{}
	started       bool
	reloadHandler func() error
	errorHandler  func(error)
}

// NewHotReloader 创建热更新器
func NewHotReloader(path string, cfg HotReloadConfig) (*HotReloader, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	return &HotReloader{
		config:   cfg,
		path:     filepath.Clean(path),
		watcher:  watcher,
		stopChan: make(chan struct{}),
		doneChan: make(chan struct{}),
	}, nil
}

// SetReloadHandler 设置重载处理函数
func (h *HotReloader) SetReloadHandler(handler func() error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.reloadHandler = handler
}

// SetErrorHandler 设置错误回调（watcher 错误、reload 失败）
func (h *HotReloader) SetErrorHandler(handler func(error)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.errorHandler = handler
}

// Start 启动热更新监听
func (h *HotReloader) Start(ctx context.Context) error {
	if !h.config.Enabled {
		return nil
	}
	if err := h.watcher.Add(filepath.Dir(h.path)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", h.path, err)
	}
	h.mu.Lock()
	h.started = true
	h.mu.Unlock()
	go h.watch(ctx)
	return nil
}

// Stop 停止热更新
func (h *HotReloader) Stop() error {
	select {
	case <-h.stopChan:
	default:
		close(h.stopChan)
	}
	h.mu.Lock()
	started := h.started
	h.mu.Unlock()
	if started {
		select {
		case <-h.doneChan:
		case <-time.After(time.Second):
		}
	}
	return h.watcher.Close()
}

// GetLastReloadTime 获取最后重载时间
func (h *HotReloader) GetLastReloadTime() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastReload
}

func (h *HotReloader) watch(ctx context.Context) {
	defer close(h.doneChan)
	for {
		select {
		case <-ctx.Done():
			return
		case <-h.stopChan:
			return
		case event, ok := <-h.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != h.path {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				h.handleChange()
			}
		case err, ok := <-h.watcher.Errors:
			if !ok {
				return
			}
			h.reportError(fmt.Errorf("watcher: %w", err))
		}
	}
}

func (h *HotReloader) handleChange() {
	h.mu.Lock()
	if time.Since(h.lastReload) < h.config.CooldownTime {
		h.mu.Unlock()
		return
	}
	handler := h.reloadHandler
	h.lastReload = time.Now()
	h.mu.Unlock()

	if handler == nil {
		return
	}
	if err := handler(); err != nil {
		h.reportError(fmt.Errorf("reload %s: %w", h.path, err))
	}
}

func (h *HotReloader) reportError(err error) {
	h.mu.Lock()
	fn := h.errorHandler
	h.mu.Unlock()
	if fn != nil {
		fn(err)
	}
}
