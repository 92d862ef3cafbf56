package container

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"arb-watch-go/arbitrage"
	"arb-watch-go/config"
	"arb-watch-go/fees"
	"arb-watch-go/gateway"
	"arb-watch-go/infrastructure/logger"
	"arb-watch-go/infrastructure/monitor"
	"arb-watch-go/internal/api"
	"arb-watch-go/internal/engine"
	"arb-watch-go/internal/store"
	"arb-watch-go/market"
	"arb-watch-go/publish"
	"arb-watch-go/snapshot"
)

// historySize API 可回看的 cycle 数量。
const historySize = 60

// Container 依赖注入容器，管理所有组件的生命周期
type Container struct {
	// 配置
	cfg *config.AppConfig

	// 基础设施
	logger  *logger.Logger
	monitor *monitor.Monitor

	// 行情源
	sources []gateway.Source
	streams []*gateway.BinanceStream

	// 核心服务
	fees      *fees.Table
	feeWatch  *config.HotReloader
	store     *store.Store
	sinks     *snapshot.Multi
	publisher *publish.Manager
	engine    *engine.Engine
	api       *api.Server

	// 生命周期管理
	lifecycle *LifecycleManager
}

// New 创建新的Container实例
func New(configPath string) (*Container, error) {
	cfg, err := config.LoadWithEnvOverrides(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config failed: %w", err)
	}
	return NewFromConfig(cfg), nil
}

// NewFromConfig 使用已加载的配置
func NewFromConfig(cfg config.AppConfig) *Container {
	return &Container{
		cfg:       &cfg,
		lifecycle: NewLifecycleManager(),
	}
}

// Build 构建所有组件
func (c *Container) Build(ctx context.Context) error {
	if err := c.buildInfrastructure(); err != nil {
		return fmt.Errorf("build infrastructure failed: %w", err)
	}
	c.buildFees()
	if err := c.buildGateway(); err != nil {
		return fmt.Errorf("build gateway failed: %w", err)
	}
	c.buildSinks(ctx)
	if err := c.buildPublisher(); err != nil {
		return fmt.Errorf("build publisher failed: %w", err)
	}
	if err := c.buildEngine(); err != nil {
		return fmt.Errorf("build engine failed: %w", err)
	}

	c.registerLifecycleComponents()
	c.logger.Info("container built successfully", zap.Strings("components", c.lifecycle.Names()))
	return nil
}

func (c *Container) buildInfrastructure() error {
	var err error
	c.logger, err = logger.New(c.cfg.Log)
	if err != nil {
		return fmt.Errorf("create logger failed: %w", err)
	}
	c.logger = c.logger.WithFields(map[string]interface{}{"env": c.cfg.Env})
	c.monitor = monitor.New(monitor.DefaultConfig())
	c.store = store.New(historySize)
	return nil
}

// buildFees 费率文件缺失或损坏不是致命错误，退回内置费率表。
func (c *Container) buildFees() {
	if c.cfg.Fees.Path == "" {
		c.fees = fees.New(fees.DefaultSchedule())
		return
	}
	t, err := fees.Load(c.cfg.Fees.Path)
	if err != nil {
		c.logger.Warn("fee file unusable, using built-in defaults",
			zap.String("path", c.cfg.Fees.Path), zap.Error(err))
	}
	c.fees = t
	if !c.cfg.Fees.Watch {
		return
	}
	w, err := config.NewHotReloader(c.cfg.Fees.Path, config.DefaultHotReloadConfig())
	if err != nil {
		c.logger.Warn("fee watcher disabled", zap.Error(err))
		return
	}
	w.SetReloadHandler(c.ReloadFees)
	w.SetErrorHandler(func(err error) {
		c.logger.LogError(err, map[string]interface{}{"component": "fee_watcher"})
	})
	c.feeWatch = w
}

// ReloadFees 重新读取费率文件；失败时保留当前费率表。
func (c *Container) ReloadFees() error {
	err := c.fees.Reload()
	c.monitor.RecordFeeReload(err == nil)
	if err != nil {
		return err
	}
	c.logger.Info("fee schedule reloaded", zap.String("path", c.fees.Path()))
	return nil
}

func (c *Container) buildGateway() error {
	hook := func(venue, symbol string, err error) {
		c.monitor.RecordVenueError(venue)
		c.logger.LogVenue("fetch", venue, err, map[string]interface{}{"symbol": symbol})
	}
	for _, v := range c.cfg.EnabledVenues() {
		src, err := gateway.New(v.Name, gateway.Options{
			BaseURL:   v.BaseURL,
			StreamURL: v.StreamURL,
			Timeout:   time.Duration(v.TimeoutMs) * time.Millisecond,
			RateLimit: v.RateLimit,
			Burst:     v.Burst,
			Prices:    v.Prices,
			Symbols:   c.cfg.Symbols,
			OnError:   hook,
		})
		if err != nil {
			return fmt.Errorf("venue %s: %w", v.Name, err)
		}
		if s, ok := src.(*gateway.BinanceStream); ok {
			c.streams = append(c.streams, s)
		}
		c.sources = append(c.sources, src)
	}
	c.logger.Info("gateway built", zap.Int("sources", len(c.sources)), zap.Int("streams", len(c.streams)))
	return nil
}

// buildSinks Redis/Postgres 连不上时只告警，不影响其他 sink。
func (c *Container) buildSinks(ctx context.Context) {
	sc := c.cfg.Snapshot
	var sinks []snapshot.Sink
	if sc.CSV {
		sinks = append(sinks, snapshot.NewCSVSink(sc.Dir))
	}
	if sc.JSON {
		sinks = append(sinks, snapshot.NewJSONSink(sc.Dir))
	}
	if sc.Redis.Addr != "" {
		rdb, err := snapshot.DialRedis(ctx, sc.Redis.Addr, sc.Redis.Password, sc.Redis.DB)
		if err != nil {
			c.logger.Warn("redis sink disabled", zap.Error(err))
		} else {
			rs := snapshot.NewRedisSink(rdb, snapshot.RedisOptions{
				KeyPrefix: sc.Redis.KeyPrefix,
				Stream:    sc.Redis.Stream,
				MaxLen:    sc.Redis.MaxLen,
			})
			c.warmStore(ctx, rs)
			sinks = append(sinks, rs)
		}
	}
	if sc.Postgres.DSN != "" {
		db, err := snapshot.OpenPostgres(ctx, sc.Postgres.DSN)
		if err != nil {
			c.logger.Warn("postgres sink disabled", zap.Error(err))
		} else {
			ps := snapshot.NewPostgresSink(db, sc.Postgres.Table)
			if err := ps.Migrate(ctx); err != nil {
				c.logger.Warn("postgres sink disabled", zap.Error(err))
				_ = db.Close()
			} else {
				sinks = append(sinks, ps)
			}
		}
	}
	c.sinks = snapshot.NewMulti(func(sink string, err error) {
		c.monitor.RecordSnapshotError(sink)
		c.logger.LogError(err, map[string]interface{}{"component": "snapshot", "sink": sink})
	}, sinks...)
}

// warmStore 重启后先用 Redis 里的上一轮结果填充，API 不必等第一轮跑完。
func (c *Container) warmStore(ctx context.Context, rs *snapshot.RedisSink) {
	prev, err := rs.Latest(ctx)
	switch {
	case errors.Is(err, snapshot.ErrNoCycle):
	case err != nil:
		c.logger.Warn("redis warm-up failed", zap.Error(err))
	default:
		c.store.Put(prev)
		c.logger.Info("store warmed from redis", zap.String("cycle_id", prev.ID))
	}
}

func (c *Container) buildPublisher() error {
	pc := c.cfg.Publish
	var channels []publish.Channel
	if pc.Log {
		channels = append(channels, publish.NewLogChannel("log", c.logger))
	}
	if pc.Email.Enabled {
		ch, err := publish.NewEmailChannel(publish.EmailConfig{
			Host:     pc.Email.Host,
			Port:     pc.Email.Port,
			Username: pc.Email.Username,
			Password: pc.Email.Password,
			From:     pc.Email.From,
			To:       pc.Email.To,
		})
		if err != nil {
			return fmt.Errorf("email channel: %w", err)
		}
		channels = append(channels, ch)
	}
	if pc.Notion.Enabled {
		ch, err := publish.NewNotionChannel(publish.NotionConfig{
			Token:   pc.Notion.Token,
			PageID:  pc.Notion.PageID,
			BaseURL: pc.Notion.BaseURL,
			Version: pc.Notion.Version,
		}, nil)
		if err != nil {
			return fmt.Errorf("notion channel: %w", err)
		}
		channels = append(channels, ch)
	}
	if len(channels) == 0 {
		return nil
	}
	c.publisher = publish.NewManager(channels, time.Duration(pc.ThrottleSec)*time.Second, func(channel string, err error) {
		c.monitor.RecordPublishError(channel)
		c.logger.LogError(err, map[string]interface{}{"component": "publish", "channel": channel})
	})
	return nil
}

func (c *Container) buildEngine() error {
	agg := market.NewAggregator(c.sources,
		time.Duration(c.cfg.Schedule.AggregateTimeoutMs)*time.Millisecond, c.logger)
	calc := arbitrage.NewCalculator(c.fees, arbitrage.Options{
		IncludeFees: c.cfg.Spread.IncludeFees,
		Role:        fees.ParseRole(c.cfg.Spread.Role),
		Notional:    c.cfg.Spread.Notional,
	})
	eng, err := engine.New(engine.Config{
		Symbols:     c.cfg.Symbols,
		CycleSpec:   c.cfg.Schedule.Cycle,
		PublishSpec: c.cfg.Schedule.Publish,
		TopN:        c.cfg.Spread.TopN,
		RunOnStart:  true,
	}, engine.Components{
		Aggregator: agg,
		Calculator: calc,
		Store:      c.store,
		Sink:       c.sinks,
		Publisher:  c.publisher,
		Monitor:    c.monitor,
		Logger:     c.logger,
	})
	if err != nil {
		return err
	}
	c.engine = eng
	if c.cfg.HTTP.Addr != "" {
		c.api = api.NewServer(c.cfg.HTTP.Addr, api.Deps{
			Store:   c.store,
			Fees:    c.fees,
			Runner:  eng,
			Metrics: c.monitor.Handler(),
			Logger:  c.logger,
		})
	}
	return nil
}

// registerLifecycleComponents 启动顺序：费率监听 → websocket → 引擎 → HTTP。
func (c *Container) registerLifecycleComponents() {
	if c.feeWatch != nil {
		w := c.feeWatch
		c.lifecycle.Register(&funcComponent{name: "fee_watcher", start: w.Start, stop: w.Stop})
	}
	for _, s := range c.streams {
		c.lifecycle.Register(&funcComponent{name: "stream_" + s.Name(), start: s.Start, stop: s.Stop})
	}
	c.lifecycle.Register(&funcComponent{name: "engine", start: c.engine.Start, stop: c.engine.Stop})
	if c.api != nil {
		c.lifecycle.Register(&httpServerComponent{server: c.api, logger: c.logger})
	}
}

// Start 启动所有组件
func (c *Container) Start(ctx context.Context) error {
	c.logger.Info("starting container...")
	if err := c.lifecycle.StartAll(ctx); err != nil {
		return fmt.Errorf("start failed: %w", err)
	}
	c.logger.Info("container started")
	return nil
}

// Stop 停止所有组件并关闭外部连接
func (c *Container) Stop() error {
	c.logger.Info("stopping container...")
	err := c.lifecycle.StopAll()
	if err != nil {
		c.logger.LogError(err, map[string]interface{}{"action": "stop"})
	}
	if cerr := c.Close(); cerr != nil {
		err = errors.Join(err, cerr)
	}
	return err
}

// Close 关闭 sink 与日志，不经过 Start 的一次性命令直接调用。
func (c *Container) Close() error {
	var errs []error
	if c.sinks != nil {
		if err := c.sinks.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if c.logger != nil {
		_ = c.logger.Close()
	}
	return errors.Join(errs...)
}

// HealthCheck 所有组件健康时返回 nil
func (c *Container) HealthCheck() error {
	return c.lifecycle.CheckHealth()
}

func (c *Container) Config() config.AppConfig { return *c.cfg }

func (c *Container) Logger() *logger.Logger { return c.logger }

func (c *Container) Monitor() *monitor.Monitor { return c.monitor }

func (c *Container) Engine() *engine.Engine { return c.engine }

func (c *Container) Fees() *fees.Table { return c.fees }

func (c *Container) Sources() []gateway.Source { return c.sources }

func (c *Container) Store() *store.Store { return c.store }

func (c *Container) Publisher() *publish.Manager { return c.publisher }
