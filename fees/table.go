// Package fees resolves exchange trading fees and per-symbol transfer overheads.
package fees

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync/atomic"

	"gopkg.in/yaml.v3"
)

// Role 费率角色：taker 吃单、maker 挂单。
type Role string

const (
	Maker Role = "maker"
	Taker Role = "taker"
)

// ParseRole 解析角色，未知值按 taker 处理。
func ParseRole(s string) Role {
	if strings.EqualFold(strings.TrimSpace(s), string(Maker)) {
		return Maker
	}
	return Taker
}

const (
	// FallbackRate 未加载任何配置时使用的费率（0.2%）。
	FallbackRate = 0.002
	// DefaultNotional 未配置时的名义交易金额（USD）。
	DefaultNotional = 100.0
)

// RolePair 一组 maker/taker 费率，nil 表示未配置、交由上一级默认值决定。
type RolePair struct {
	Maker *float64 `yaml:"maker" json:"maker,omitempty"`
	Taker *float64 `yaml:"taker" json:"taker,omitempty"`
}

func (p RolePair) get(role Role) (float64, bool) {
	v := p.Taker
	if role == Maker {
		v = p.Maker
	}
	if v == nil {
		return 0, false
	}
	return *v, true
}

// VenueFees 单个交易所的费率覆盖及提币费（按币计）。
type VenueFees struct {
	RolePair `yaml:",inline"`
	Withdraw map[string]float64 `yaml:"withdraw" json:"withdraw,omitempty"`
}

// Defaults 全局默认值。
type Defaults struct {
	RolePair `yaml:",inline"`
	Notional float64 `yaml:"notional" json:"notional"`
}

// Schedule 一份完整的费率配置；加载后只读。
type Schedule struct {
	Defaults  Defaults             `yaml:"defaults" json:"defaults"`
	Exchanges map[string]VenueFees `yaml:"exchanges" json:"exchanges"`
	Overhead  map[string]float64   `yaml:"overhead" json:"overhead"` // 每单位网络/链上成本（USD），按 symbol
}

func rate(v float64) *float64 { return &v }

// DefaultSchedule 内置费率表，配置文件缺失或损坏时使用。
func DefaultSchedule() *Schedule {
	return &Schedule{
		Defaults: Defaults{
			RolePair: RolePair{Maker: rate(0.002), Taker: rate(0.002)},
			Notional: DefaultNotional,
		},
		Exchanges: map[string]VenueFees{
			"kraken":   {RolePair: RolePair{Maker: rate(0.0020), Taker: rate(0.0035)}},
			"bitfinex": {RolePair: RolePair{Maker: rate(0.0010), Taker: rate(0.0020)}},
			"bitstamp": {RolePair: RolePair{Maker: rate(0.0010), Taker: rate(0.0020)}},
			"coinbase": {RolePair: RolePair{Maker: rate(0.0040), Taker: rate(0.0060)}},
			"binance":  {RolePair: RolePair{Maker: rate(0.0010), Taker: rate(0.0010)}},
		},
	}
}

// ParseSchedule 解析 YAML 并做范围校验，key 统一成小写交易所名/大写 symbol。
func ParseSchedule(raw []byte) (*Schedule, error) {
	var s Schedule
	if err := yaml.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("parse fee yaml: %w", err)
	}
	norm := &Schedule{
		Defaults:  s.Defaults,
		Exchanges: make(map[string]VenueFees, len(s.Exchanges)),
		Overhead:  make(map[string]float64, len(s.Overhead)),
	}
	if err := checkPair("defaults", s.Defaults.RolePair); err != nil {
		return nil, err
	}
	if s.Defaults.Notional < 0 {
		return nil, errors.New("defaults.notional must be >= 0")
	}
	for name, vf := range s.Exchanges {
		key := venueKey(name)
		if err := checkPair("exchanges."+key, vf.RolePair); err != nil {
			return nil, err
		}
		withdraw := make(map[string]float64, len(vf.Withdraw))
		for sym, amt := range vf.Withdraw {
			if amt < 0 {
				return nil, fmt.Errorf("exchanges.%s.withdraw.%s must be >= 0", key, sym)
			}
			withdraw[strings.ToUpper(sym)] = amt
		}
		vf.Withdraw = withdraw
		norm.Exchanges[key] = vf
	}
	for sym, v := range s.Overhead {
		if v < 0 {
			return nil, fmt.Errorf("overhead.%s must be >= 0", sym)
		}
		norm.Overhead[strings.ToUpper(sym)] = v
	}
	return norm, nil
}

func checkPair(where string, p RolePair) error {
	for _, v := range []*float64{p.Maker, p.Taker} {
		if v != nil && (*v < 0 || *v >= 1) {
			return fmt.Errorf("%s fee %v must be in [0, 1)", where, *v)
		}
	}
	return nil
}

// Table 线程安全的费率表，Reload/Swap 是唯一改变输出的途径。
type Table struct {
	path  string
	sched atomic.Pointer[Schedule]
}

// New 用给定的 schedule 构造；nil 表示"没有加载任何配置"，所有查询返回 FallbackRate。
func New(s *Schedule) *Table {
	t := &Table{}
	if s != nil {
		t.sched.Store(s)
	}
	return t
}

// Load 从文件加载。文件缺失或格式错误时退回内置费率表并返回错误供调用方记录，不视为致命。
func Load(path string) (*Table, error) {
	t := &Table{path: path}
	s, err := readSchedule(path)
	if err != nil {
		t.sched.Store(DefaultSchedule())
		return t, err
	}
	t.sched.Store(s)
	return t, nil
}

// Path 返回费率文件路径，未从文件加载时为空。
func (t *Table) Path() string { return t.path }

// Reload 重新读取文件；失败时保留当前费率表。
func (t *Table) Reload() error {
	if t.path == "" {
		return errors.New("fee table was not loaded from a file")
	}
	s, err := readSchedule(t.path)
	if err != nil {
		return err
	}
	t.sched.Store(s)
	return nil
}

// Swap 原子替换费率表。
func (t *Table) Swap(s *Schedule) {
	t.sched.Store(s)
}

// venueKey 费率表里交易所名一律小写且去掉首尾空白。
func venueKey(venue string) string {
	return strings.ToLower(strings.TrimSpace(venue))
}

// Rate 返回 venue 在 role 下的费率（小数，如 0.002 = 0.2%）。
// 顺序：交易所覆盖 → 默认角色费率 → FallbackRate。
func (t *Table) Rate(venue string, role Role) float64 {
	if role != Maker {
		role = Taker
	}
	s := t.sched.Load()
	if s == nil {
		return FallbackRate
	}
	if vf, ok := s.Exchanges[venueKey(venue)]; ok {
		if v, ok := vf.get(role); ok {
			return v
		}
	}
	if v, ok := s.Defaults.get(role); ok {
		return v
	}
	return FallbackRate
}

// Overhead 每单位的固定网络成本（USD），未配置为 0。
func (t *Table) Overhead(symbol string) float64 {
	s := t.sched.Load()
	if s == nil {
		return 0
	}
	return s.Overhead[strings.ToUpper(symbol)]
}

// Withdraw 从 venue 提出一单位 symbol 基础币的手续费（按币计），未配置为 0。
func (t *Table) Withdraw(venue, symbol string) float64 {
	s := t.sched.Load()
	if s == nil {
		return 0
	}
	vf, ok := s.Exchanges[venueKey(venue)]
	if !ok {
		return 0
	}
	return vf.Withdraw[strings.ToUpper(symbol)]
}

// DefaultNotional 默认名义交易金额。
func (t *Table) DefaultNotional() float64 {
	s := t.sched.Load()
	if s == nil || s.Defaults.Notional <= 0 {
		return DefaultNotional
	}
	return s.Defaults.Notional
}

// Schedule 返回当前费率表（只读，调用方不得修改）。
func (t *Table) Schedule() *Schedule {
	return t.sched.Load()
}

func readSchedule(path string) (*Schedule, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fee file: %w", err)
	}
	return ParseSchedule(raw)
}
