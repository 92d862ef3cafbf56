package monitor

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Monitor Prometheus监控指标收集器，使用独立 registry，测试之间互不影响
type Monitor struct {
	registry *prometheus.Registry

	// 周期指标
	cycleDuration prometheus.Histogram
	cyclesTotal   prometheus.Counter

	// 交易所指标
	venueErrors *prometheus.CounterVec
	venueQuotes *prometheus.GaugeVec

	// 价差指标
	spreadGross *prometheus.GaugeVec
	spreadNet   *prometheus.GaugeVec

	// 输出指标
	publishErrors  *prometheus.CounterVec
	snapshotErrors *prometheus.CounterVec
	feeReloads     *prometheus.CounterVec
}

// Config 监控配置
type Config struct {
	Namespace string
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{Namespace: "arb"}
}

// New 创建新的Monitor实例
func New(cfg Config) *Monitor {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	ns := cfg.Namespace

	return &Monitor{
		registry: reg,

		cycleDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: ns,
			Name:      "cycle_duration_seconds",
			Help:      "单轮聚合+计算耗时（秒）",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}),
		cyclesTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "cycles_total",
			Help:      "完成的聚合周期总数",
		}),
		venueErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "venue_fetch_errors_total",
			Help:      "交易所拉取失败次数",
		}, []string{"venue"}),
		venueQuotes: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: ns,
			Name:      "venue_quotes",
			Help:      "最近一轮各交易所返回的有效报价数",
		}, []string{"venue"}),
		spreadGross: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: ns,
			Name:      "spread_gross_pct",
			Help:      "最近一轮各 symbol 的毛价差（%）",
		}, []string{"symbol"}),
		spreadNet: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: ns,
			Name:      "spread_net_pct",
			Help:      "最近一轮各 symbol 的净价差（%）",
		}, []string{"symbol"}),
		publishErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "publish_errors_total",
			Help:      "推送失败次数",
		}, []string{"channel"}),
		snapshotErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "snapshot_errors_total",
			Help:      "快照写入失败次数",
		}, []string{"sink"}),
		feeReloads: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "fee_reloads_total",
			Help:      "费率表重载次数",
		}, []string{"result"}),
	}
}

// 周期相关方法
func (m *Monitor) ObserveCycle(d time.Duration) {
	m.cycleDuration.Observe(d.Seconds())
	m.cyclesTotal.Inc()
}

// 交易所相关方法
func (m *Monitor) RecordVenueError(venue string) {
	m.venueErrors.WithLabelValues(venue).Inc()
}

func (m *Monitor) SetVenueQuotes(venue string, n int) {
	m.venueQuotes.WithLabelValues(venue).Set(float64(n))
}

// SetSpreads 先清空再写入，避免已下线的 symbol 留下旧值
func (m *Monitor) SetSpreads(gross, net map[string]float64) {
	m.spreadGross.Reset()
	m.spreadNet.Reset()
	for sym, v := range gross {
		m.spreadGross.WithLabelValues(sym).Set(v)
	}
	for sym, v := range net {
		m.spreadNet.WithLabelValues(sym).Set(v)
	}
}

// 输出相关方法
func (m *Monitor) RecordPublishError(channel string) {
	m.publishErrors.WithLabelValues(channel).Inc()
}

func (m *Monitor) RecordSnapshotError(sink string) {
	m.snapshotErrors.WithLabelValues(sink).Inc()
}

func (m *Monitor) RecordFeeReload(ok bool) {
	result := "ok"
	if !ok {
		result = "error"
	}
	m.feeReloads.WithLabelValues(result).Inc()
}

// Handler 返回HTTP handler用于暴露指标
func (m *Monitor) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry 返回prometheus registry
func (m *Monitor) Registry() *prometheus.Registry {
	return m.registry
}
