package config

import (
	"fmt"
	"net"
	"regexp"
	"strings"
	"time"
)

const (
	DefaultBatchSize       = 10
	DefaultBatchDelay      = time.Second
	DefaultMenuTTL         = 4 * time.Second
	DefaultStatsWindowDays = 7
	DefaultWorkers         = 64
	DefaultBrandCaption    = "Diunduh melalui: @iniuntukdonlotvidiotiktokbot"
	DefaultDebugAddr       = "127.0.0.1:6060"
)

// Base is the starting point when no config file is given; env and Normalize fill the rest.
func Base() *Config {
	return &Config{Logging: LoggingConfig{Level: "info", Console: true}}
}

// Normalize fills zero values with defaults. It never overrides explicit values.
func (c *Config) Normalize() {
	if len(c.Resolver.Patterns) == 0 {
		c.Resolver.Patterns = []PatternConfig{{Category: "tiktok", Match: `tiktok\.com`}}
	}
	if c.Relay.BatchSize <= 0 || c.Relay.BatchSize > DefaultBatchSize {
		c.Relay.BatchSize = DefaultBatchSize
	}
	if c.Relay.StatsWindowDays <= 0 {
		c.Relay.StatsWindowDays = DefaultStatsWindowDays
	}
	if strings.TrimSpace(c.Relay.BrandCaption) == "" {
		c.Relay.BrandCaption = DefaultBrandCaption
	}
	if c.Relay.Workers <= 0 {
		c.Relay.Workers = DefaultWorkers
	}
	if strings.TrimSpace(c.Storage.Driver) == "" {
		c.Storage.Driver = "sqlite"
	}
	if c.Storage.Driver == "sqlite" && strings.TrimSpace(c.Storage.Path) == "" {
		c.Storage.Path = "./data/linkrelay.db"
	}
	if c.Debug.Enabled && strings.TrimSpace(c.Debug.Addr) == "" {
		c.Debug.Addr = DefaultDebugAddr
	}
}

// Validate rejects configs that cannot run. It is also used to reject bad hot reloads.
func Validate(c *Config) error {
	if c == nil {
		return fmt.Errorf("config is nil")
	}
	if strings.TrimSpace(c.Telegram.Token) == "" {
		return fmt.Errorf("telegram.token is required (or BOT_TOKEN)")
	}
	if strings.TrimSpace(c.Resolver.Endpoint) == "" {
		return fmt.Errorf("resolver.endpoint is required (or apitiktok)")
	}
	for i, p := range c.Resolver.Patterns {
		if strings.TrimSpace(p.Category) == "" {
			return fmt.Errorf("resolver.patterns[%d].category is required", i)
		}
		if _, err := regexp.Compile(p.Match); err != nil {
			return fmt.Errorf("resolver.patterns[%d].match: %w", i, err)
		}
	}
	durations := map[string]string{
		"telegram.poll_timeout": c.Telegram.PollTimeout,
		"resolver.timeout":      c.Resolver.Timeout,
		"resolver.settle_delay": c.Resolver.SettleDelay,
		"relay.batch_delay":     c.Relay.BatchDelay,
		"relay.menu_ttl":        c.Relay.MenuTTL,
		"relay.handler_timeout": c.Relay.HandlerTimeout,
		"storage.busy_timeout":  c.Storage.BusyTimeout,
	}
	for path, raw := range durations {
		if _, err := ParseDurationField(path, raw); err != nil {
			return err
		}
	}
	switch strings.ToLower(strings.TrimSpace(c.Storage.Driver)) {
	case "sqlite", "sqlite3", "file":
		if strings.TrimSpace(c.Storage.Path) == "" {
			return fmt.Errorf("storage.path is required for driver %q", c.Storage.Driver)
		}
	case "postgres", "postgresql":
		if strings.TrimSpace(c.Storage.DSN) == "" {
			return fmt.Errorf("storage.dsn is required for driver postgres (or DATABASE_URL)")
		}
	case "redis":
		if strings.TrimSpace(c.Storage.RedisAddr) == "" {
			return fmt.Errorf("storage.redis_addr is required for driver redis (or REDIS_ADDR)")
		}
	case "memory":
	default:
		return fmt.Errorf("storage.driver: unknown driver %q", c.Storage.Driver)
	}
	if c.Debug.Enabled && strings.TrimSpace(c.Debug.Token) == "" && !IsLoopbackAddr(c.Debug.Addr) {
		return fmt.Errorf("debug.token is required when debug.addr %q is not loopback", c.Debug.Addr)
	}
	if tz := strings.TrimSpace(c.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("scheduler.timezone: invalid %q: %w", tz, err)
		}
	}
	return nil
}

// IsLoopbackAddr reports whether host:port binds to localhost only. An empty host
// means all interfaces.
func IsLoopbackAddr(addr string) bool {
	h, _, err := net.SplitHostPort(strings.TrimSpace(addr))
	if err != nil || h == "" {
		return false
	}
	if strings.EqualFold(h, "localhost") {
		return true
	}
	ip := net.ParseIP(h)
	return ip != nil && ip.IsLoopback()
}
