package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"arb-watch-go/infrastructure/logger"
)

// AppConfig holds the main runtime configuration.
type AppConfig struct {
	Env      string         `yaml:"env"`
	Symbols  []string       `yaml:"symbols"`
	Venues   []VenueConfig  `yaml:"venues"`
	Spread   SpreadConfig   `yaml:"spread"`
	Fees     FeesConfig     `yaml:"fees"`
	Schedule ScheduleConfig `yaml:"schedule"`
	Snapshot SnapshotConfig `yaml:"snapshot"`
	Publish  PublishConfig  `yaml:"publish"`
	HTTP     HTTPConfig     `yaml:"http"`
	Log      logger.Config  `yaml:"log"`
}

// VenueConfig 单个行情源的开关与连接参数；列表顺序即聚合时的交易所顺序。
type VenueConfig struct {
	Name      string             `yaml:"name"`      // 编译期注册的 adapter 名称，如 coinbase/binance
	Enabled   bool               `yaml:"enabled"`   // 关闭后不参与聚合
	BaseURL   string             `yaml:"baseURL"`   // 为空时使用 adapter 默认地址
	StreamURL string             `yaml:"streamURL"` // 仅 websocket 源使用
	TimeoutMs int                `yaml:"timeoutMs"` // 单次请求超时
	RateLimit float64            `yaml:"rateLimit"` // 每秒请求数
	Burst     int                `yaml:"burst"`     // 令牌桶突发容量
	Prices    map[string]float64 `yaml:"prices"`    // 仅 static 源使用的固定价格
}

type SpreadConfig struct {
	IncludeFees bool    `yaml:"includeFees"`
	Role        string  `yaml:"role"`     // maker 或 taker，默认 taker
	Notional    float64 `yaml:"notional"` // 0 表示使用费率表中的默认名义金额
	TopN        int     `yaml:"topN"`
}

type FeesConfig struct {
	Path  string `yaml:"path"`
	Watch bool   `yaml:"watch"`
}

type ScheduleConfig struct {
	Cycle              string `yaml:"cycle"`   // cron 表达式，例如 "@every 60s"
	Publish            string `yaml:"publish"` // 为空则不定时推送
	AggregateTimeoutMs int    `yaml:"aggregateTimeoutMs"`
}

type SnapshotConfig struct {
	Dir      string         `yaml:"dir"`
	CSV      bool           `yaml:"csv"`
	JSON     bool           `yaml:"json"`
	Redis    RedisConfig    `yaml:"redis"`
	Postgres PostgresConfig `yaml:"postgres"`
}

type RedisConfig struct {
	Addr      string `yaml:"addr"`
	DB        int    `yaml:"db"`
	Password  string `yaml:"password"`
	KeyPrefix string `yaml:"keyPrefix"`
	Stream    string `yaml:"stream"`
	MaxLen    int64  `yaml:"maxLen"`
}

type PostgresConfig struct {
	DSN   string `yaml:"dsn"`
	Table string `yaml:"table"`
}

type PublishConfig struct {
	ThrottleSec int          `yaml:"throttleSec"`
	Log         bool         `yaml:"log"`
	Email       EmailConfig  `yaml:"email"`
	Notion      NotionConfig `yaml:"notion"`
}

type EmailConfig struct {
	Enabled  bool     `yaml:"enabled"`
	Host     string   `yaml:"host"`
	Port     int      `yaml:"port"`
	Username string   `yaml:"username"`
	Password string   `yaml:"password"`
	From     string   `yaml:"from"`
	To       []string `yaml:"to"`
}

type NotionConfig struct {
	Enabled bool   `yaml:"enabled"`
	Token   string `yaml:"token"`
	PageID  string `yaml:"pageID"`
	BaseURL string `yaml:"baseURL"`
	Version string `yaml:"version"`
}

type HTTPConfig struct {
	Addr string `yaml:"addr"` // 为空则不启动 API/metrics 服务
}

// Load reads YAML config from path, fills defaults and applies basic validation.
func Load(path string) (AppConfig, error) {
	cfg, err := load(path)
	if err != nil {
		return cfg, err
	}
	deriveDefaults(&cfg)
	if err := Validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// load 只解析并填默认值，不做校验；env 覆盖之后才能校验。
func load(path string) (AppConfig, error) {
	var cfg AppConfig
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parse yaml: %w", err)
	}
	applyDefaults(&cfg)
	return cfg, nil
}

// deriveDefaults 依赖其他字段最终值的默认项，必须在 env 覆盖之后执行。
func deriveDefaults(cfg *AppConfig) {
	if cfg.Publish.Email.From == "" {
		cfg.Publish.Email.From = cfg.Publish.Email.Username
	}
}

// LoadWithEnvOverrides loads .env (if present) and config, then overrides secrets from env vars.
func LoadWithEnvOverrides(path string) (AppConfig, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return AppConfig{}, fmt.Errorf("load .env: %w", err)
	}
	cfg, err := load(path)
	if err != nil {
		return cfg, err
	}
	if v := os.Getenv("ARB_SMTP_PASSWORD"); v != "" {
		cfg.Publish.Email.Password = v
	}
	if v := os.Getenv("ARB_SMTP_USER"); v != "" {
		cfg.Publish.Email.Username = v
	}
	if v := os.Getenv("ARB_EMAIL_TO"); v != "" {
		cfg.Publish.Email.To = splitList(v)
	}
	if v := os.Getenv("ARB_NOTION_TOKEN"); v != "" {
		cfg.Publish.Notion.Token = v
	}
	if v := os.Getenv("ARB_NOTION_PAGE_ID"); v != "" {
		cfg.Publish.Notion.PageID = v
	}
	if v := os.Getenv("ARB_REDIS_PASSWORD"); v != "" {
		cfg.Snapshot.Redis.Password = v
	}
	if v := os.Getenv("ARB_POSTGRES_DSN"); v != "" {
		cfg.Snapshot.Postgres.DSN = v
	}
	if v := os.Getenv("ARB_SYMBOLS"); v != "" {
		cfg.Symbols = splitList(strings.ToUpper(v))
	}
	if v := os.Getenv("ARB_NOTIONAL"); v != "" {
		if n, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Spread.Notional = n
		}
	}
	deriveDefaults(&cfg)
	return cfg, Validate(cfg)
}

// EnabledVenues 按配置顺序返回启用的交易所。
func (c AppConfig) EnabledVenues() []VenueConfig {
	out := make([]VenueConfig, 0, len(c.Venues))
	for _, v := range c.Venues {
		if v.Enabled {
			out = append(out, v)
		}
	}
	return out
}

func applyDefaults(cfg *AppConfig) {
	if cfg.Env == "" {
		cfg.Env = "dev"
	}
	for i, s := range cfg.Symbols {
		cfg.Symbols[i] = strings.ToUpper(strings.TrimSpace(s))
	}
	for i := range cfg.Venues {
		cfg.Venues[i].Name = strings.ToLower(strings.TrimSpace(cfg.Venues[i].Name))
		if cfg.Venues[i].TimeoutMs == 0 {
			cfg.Venues[i].TimeoutMs = 10_000
		}
	}
	if cfg.Spread.Role == "" {
		cfg.Spread.Role = "taker"
	}
	if cfg.Spread.TopN == 0 {
		cfg.Spread.TopN = 4
	}
	if cfg.Schedule.Cycle == "" {
		cfg.Schedule.Cycle = "@every 60s"
	}
	if cfg.Snapshot.Dir == "" {
		cfg.Snapshot.Dir = "data"
	}
	if cfg.Snapshot.Redis.KeyPrefix == "" {
		cfg.Snapshot.Redis.KeyPrefix = "arb:"
	}
	if cfg.Snapshot.Postgres.Table == "" {
		cfg.Snapshot.Postgres.Table = "spread_history"
	}
	if cfg.Publish.ThrottleSec == 0 {
		cfg.Publish.ThrottleSec = 300
	}
	if cfg.Publish.Email.Port == 0 {
		cfg.Publish.Email.Port = 587
	}
	if cfg.Log.Level == "" {
		cfg.Log = logger.DefaultConfig()
	}
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}
