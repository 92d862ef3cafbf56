package config

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"arb-watch-go/gateway"
)

// Validate ensures required fields are present.
func Validate(cfg AppConfig) error {
	if cfg.Env == "" {
		return errors.New("env is required")
	}
	if len(cfg.Symbols) == 0 {
		return errors.New("symbols is required")
	}
	for i, s := range cfg.Symbols {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("symbols[%d] must not be empty", i)
		}
	}
	if len(cfg.Venues) == 0 {
		return errors.New("venues is required")
	}
	seen := make(map[string]struct{}, len(cfg.Venues))
	enabled := 0
	for i, v := range cfg.Venues {
		if v.Name == "" {
			return fmt.Errorf("venues[%d].name is required", i)
		}
		if _, dup := seen[v.Name]; dup {
			return fmt.Errorf("venue %s declared twice", v.Name)
		}
		seen[v.Name] = struct{}{}
		if v.TimeoutMs < 0 {
			return fmt.Errorf("venue %s timeoutMs must be >= 0", v.Name)
		}
		if v.RateLimit < 0 || v.Burst < 0 {
			return fmt.Errorf("venue %s rateLimit/burst must be >= 0", v.Name)
		}
		for sym, px := range v.Prices {
			if !gateway.ValidPrice(px) {
				return fmt.Errorf("venue %s price for %s must be a finite number > 0", v.Name, sym)
			}
		}
		if v.Enabled {
			enabled++
		}
	}
	if enabled == 0 {
		return errors.New("at least one venue must be enabled")
	}
	switch cfg.Spread.Role {
	case "", "maker", "taker":
	default:
		return fmt.Errorf("spread.role must be maker or taker, got %q", cfg.Spread.Role)
	}
	if n := cfg.Spread.Notional; !(n >= 0) || math.IsInf(n, 0) {
		return errors.New("spread.notional must be a finite number >= 0")
	}
	if cfg.Spread.TopN < 0 {
		return errors.New("spread.topN must be >= 0")
	}
	if cfg.Schedule.AggregateTimeoutMs < 0 {
		return errors.New("schedule.aggregateTimeoutMs must be >= 0")
	}
	if e := cfg.Publish.Email; e.Enabled {
		if e.Host == "" {
			return errors.New("publish.email.host is required when email is enabled")
		}
		if e.From == "" && e.Username == "" {
			return errors.New("publish.email.from (or username) is required when email is enabled")
		}
		if len(e.To) == 0 {
			return errors.New("publish.email.to is required when email is enabled")
		}
	}
	if n := cfg.Publish.Notion; n.Enabled {
		if n.Token == "" || n.PageID == "" {
			return errors.New("publish.notion.token/pageID is required (or env overrides)")
		}
	}
	return nil
}
