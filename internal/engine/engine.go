package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"arb-watch-go/arbitrage"
	"arb-watch-go/infrastructure/logger"
	"arb-watch-go/infrastructure/monitor"
	"arb-watch-go/internal/store"
	"arb-watch-go/market"
	"arb-watch-go/publish"
	"arb-watch-go/snapshot"
)

// ErrNoCycle 还没有跑完任何一轮。
var ErrNoCycle = errors.New("no completed cycle yet")

// EngineState 引擎状态
type EngineState int

const (
	// StateIdle 空闲状态
	StateIdle EngineState = iota
	// StateRunning 运行状态
	StateRunning
	// StateStopped 停止状态
	StateStopped
)

// String 返回状态名称
func (s EngineState) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateRunning:
		return "RUNNING"
	case StateStopped:
		return "STOPPED"
	default:
		return "UNKNOWN"
	}
}

// Config 引擎配置
type Config struct {
	Symbols     []string
	CycleSpec   string // cron 表达式，默认 "@every 60s"
	PublishSpec string // 为空则不定时推送
	TopN        int    // 摘要行数
	RunOnStart  bool   // Start 时立即跑一轮
}

// Components 引擎依赖组件
type Components struct {
	Aggregator *market.Aggregator
	Calculator *arbitrage.Calculator
	Store      *store.Store
	Sink       snapshot.Sink    // 可为 nil
	Publisher  *publish.Manager // 可为 nil
	Monitor    *monitor.Monitor
	Logger     *logger.Logger
}

// Statistics 引擎统计信息
type Statistics struct {
	StartTime       time.Time
	TotalCycles     int64
	TotalVenueErrs  int64
	TotalPublishes  int64
	LastCycleID     string
	LastCycleTime   time.Time
	LastPublishTime time.Time
}

// Engine 按 cron 调度执行 聚合 → 计算 → 落盘 → 推送。
// 同一时刻最多只有一轮在跑。
type Engine struct {
	config Config

	aggregator *market.Aggregator
	calculator *arbitrage.Calculator
	store      *store.Store
	sink       snapshot.Sink
	publisher  *publish.Manager
	monitor    *monitor.Monitor
	logger     *logger.Logger

	state  EngineState
	mu     sync.RWMutex
	runMu  sync.Mutex // 串行化 RunOnce
	cron   *cron.Cron
	cancel context.CancelFunc
	wg     sync.WaitGroup

	stats   Statistics
	statsMu sync.RWMutex
	now     func() time.Time
}

// New 创建引擎
func New(cfg Config, components Components) (*Engine, error) {
	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if err := validateComponents(components); err != nil {
		return nil, fmt.Errorf("invalid components: %w", err)
	}
	if components.Logger == nil {
		components.Logger = logger.NewNop()
	}
	if components.Monitor == nil {
		components.Monitor = monitor.New(monitor.DefaultConfig())
	}
	return &Engine{
		config:     cfg,
		aggregator: components.Aggregator,
		calculator: components.Calculator,
		store:      components.Store,
		sink:       components.Sink,
		publisher:  components.Publisher,
		monitor:    components.Monitor,
		logger:     components.Logger,
		state:      StateIdle,
		now:        time.Now,
	}, nil
}

func validateConfig(cfg *Config) error {
	if len(cfg.Symbols) == 0 {
		return errors.New("symbols is required")
	}
	if cfg.CycleSpec == "" {
		cfg.CycleSpec = "@every 60s"
	}
	if _, err := cron.ParseStandard(cfg.CycleSpec); err != nil {
		return fmt.Errorf("cycle schedule %q: %w", cfg.CycleSpec, err)
	}
	if cfg.PublishSpec != "" {
		if _, err := cron.ParseStandard(cfg.PublishSpec); err != nil {
			return fmt.Errorf("publish schedule %q: %w", cfg.PublishSpec, err)
		}
	}
	if cfg.TopN <= 0 {
		cfg.TopN = 4
	}
	return nil
}

func validateComponents(c Components) error {
	if c.Aggregator == nil {
		return errors.New("aggregator is required")
	}
	if c.Calculator == nil {
		return errors.New("calculator is required")
	}
	if c.Store == nil {
		return errors.New("store is required")
	}
	return nil
}

// State 当前状态
func (e *Engine) State() EngineState {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

// Start 注册 cron 任务并启动调度。
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.state == StateRunning {
		e.mu.Unlock()
		return fmt.Errorf("engine already started (state: %s)", e.state)
	}
	runCtx, cancel := context.WithCancel(ctx)
	cl := cronLogger{l: e.logger.Sugar()}
	c := cron.New(
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	if _, err := c.AddFunc(e.config.CycleSpec, func() { e.runScheduled(runCtx) }); err != nil {
		e.mu.Unlock()
		cancel()
		return fmt.Errorf("schedule cycle: %w", err)
	}
	if e.config.PublishSpec != "" && e.publisher != nil {
		if _, err := c.AddFunc(e.config.PublishSpec, func() { e.publishScheduled(runCtx) }); err != nil {
			e.mu.Unlock()
			cancel()
			return fmt.Errorf("schedule publish: %w", err)
		}
	}
	e.cron = c
	e.cancel = cancel
	e.state = StateRunning
	e.mu.Unlock()

	e.statsMu.Lock()
	e.stats.StartTime = e.now()
	e.statsMu.Unlock()

	e.logger.Info("Engine starting",
		zap.Strings("symbols", e.config.Symbols),
		zap.String("cycle", e.config.CycleSpec),
		zap.String("publish", e.config.PublishSpec),
		zap.Int("sources", len(e.aggregator.Sources())))

	c.Start()
	if e.config.RunOnStart {
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			e.runScheduled(runCtx)
		}()
	}
	return nil
}

// Stop 停止调度并等待正在执行的任务结束。重复调用安全。
func (e *Engine) Stop() error {
	e.mu.Lock()
	if e.state != StateRunning {
		e.mu.Unlock()
		return nil
	}
	c, cancel := e.cron, e.cancel
	e.state = StateStopped
	e.mu.Unlock()

	e.logger.Info("Engine stopping...")
	done := c.Stop()
	cancel()
	select {
	case <-done.Done():
	case <-time.After(10 * time.Second):
		e.logger.Warn("Timeout waiting for running jobs")
	}
	// RunOnStart 的那一轮不受 cron 管理
	e.wg.Wait()
	e.logger.Info("Engine stopped")
	return nil
}

func (e *Engine) runScheduled(ctx context.Context) {
	if _, err := e.RunOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
		e.logger.Error("cycle failed", zap.Error(err))
	}
}

func (e *Engine) publishScheduled(ctx context.Context) {
	if err := e.PublishLatest(ctx, false); err != nil && !errors.Is(err, context.Canceled) {
		e.logger.Warn("scheduled publish failed", zap.Error(err))
	}
}

// RunOnce 执行一轮：拉价 → 计算 → 存储 → 落盘。
// 交易所失败、落盘失败都不会让本轮失败，只有 ctx 已取消时返回错误。
func (e *Engine) RunOnce(ctx context.Context) (*snapshot.Cycle, error) {
	e.runMu.Lock()
	defer e.runMu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	id := uuid.NewString()
	col := e.aggregator.Collect(ctx, e.config.Symbols)
	table := col.Table

	spreads := e.calculator.Spreads(table, e.config.Symbols)
	edges := e.calculator.PairEdges(table, e.config.Symbols)
	cycle := &snapshot.Cycle{
		ID:      id,
		Started: col.Started,
		Symbols: append([]string(nil), e.config.Symbols...),
		Options: e.calculator.Options(),
		Prices:  table,
		Errors:  make(map[string]string, len(col.Errors)),
		Spreads: spreads,
		Edges:   edges,
		Summary: arbitrage.Summary(spreads, e.config.TopN),
	}
	for venue, err := range col.Errors {
		cycle.Errors[venue] = err.Error()
		e.monitor.RecordVenueError(venue)
		e.logger.LogVenue("collect", venue, err, map[string]interface{}{"cycle_id": id})
	}
	e.recordQuotes(table)
	cycle.Duration = e.now().Sub(col.Started)

	if e.sink != nil {
		// 各 sink 的错误已由 Multi 的 onError 记录
		if err := e.sink.Write(ctx, cycle); err != nil {
			e.logger.Warn("snapshot write failed", zap.String("cycle_id", id), zap.Error(err))
		}
	}
	e.store.Put(cycle)

	gross := make(map[string]float64, len(spreads))
	net := make(map[string]float64, len(spreads))
	for _, r := range spreads {
		gross[r.Symbol] = r.GrossPct
		net[r.Symbol] = r.NetPct
	}
	e.monitor.SetSpreads(gross, net)
	e.monitor.ObserveCycle(cycle.Duration)

	e.statsMu.Lock()
	e.stats.TotalCycles++
	e.stats.TotalVenueErrs += int64(len(col.Errors))
	e.stats.LastCycleID = id
	e.stats.LastCycleTime = col.Started
	e.statsMu.Unlock()

	e.logger.LogCycle("cycle_done", id, map[string]interface{}{
		"venues":      table.Len(),
		"venue_errs":  len(col.Errors),
		"results":     len(spreads),
		"edges":       len(edges),
		"duration_ms": cycle.Duration.Milliseconds(),
	})
	return cycle, nil
}

func (e *Engine) recordQuotes(table *market.PriceTable) {
	counts := make(map[string]int)
	for _, sym := range e.config.Symbols {
		for _, q := range table.Quotes(sym) {
			counts[q.Venue]++
		}
	}
	for _, src := range e.aggregator.Sources() {
		e.monitor.SetVenueQuotes(src.Name(), counts[src.Name()])
	}
}

// PublishLatest 推送最新一轮结果；force 时忽略限流。
func (e *Engine) PublishLatest(ctx context.Context, force bool) error {
	if e.publisher == nil {
		return publish.ErrNoChannels
	}
	cycle, ok := e.store.Latest()
	if !ok {
		return ErrNoCycle
	}
	report, err := publish.NewReport(cycle, e.config.TopN)
	if err != nil {
		return err
	}
	sent := true
	if force {
		err = e.publisher.PublishNow(ctx, report)
	} else {
		sent, err = e.publisher.Publish(ctx, report)
	}
	if err != nil {
		return fmt.Errorf("publish cycle %s: %w", cycle.ID, err)
	}
	if !sent {
		e.logger.Debug("publish throttled", zap.String("cycle_id", cycle.ID))
		return nil
	}
	e.statsMu.Lock()
	e.stats.TotalPublishes++
	e.stats.LastPublishTime = e.now()
	e.statsMu.Unlock()
	e.logger.LogCycle("published", cycle.ID, map[string]interface{}{"channels": e.publisher.GetChannels()})
	return nil
}

// GetStatistics 获取统计信息
func (e *Engine) GetStatistics() Statistics {
	e.statsMu.RLock()
	defer e.statsMu.RUnlock()
	return e.stats
}

// Store 结果存储，供 API 读取。
func (e *Engine) Store() *store.Store { return e.store }

// cronLogger 把 cron 的日志接到 zap。
type cronLogger struct {
	l *zap.SugaredLogger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debugw("cron: "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Errorw("cron: "+msg, append(keysAndValues, "error", err)...)
}
