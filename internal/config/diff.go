package config

import (
	"slices"
	"strings"

	"linkrelay/pkg/logx"
)

// SummarizeChange lists the config sections that differ and returns safe log attrs.
// Secrets (token, DSN, redis password) are never included.
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 8)

	o, n := oldCfg.Telegram, newCfg.Telegram
	if o.Token != n.Token || o.LogChat != n.LogChat || o.PollTimeout != n.PollTimeout || !slices.Equal(o.AdminIDs, n.AdminIDs) {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.Int("telegram.admin_count", len(n.AdminIDs)),
			logx.Bool("telegram.token_changed", o.Token != n.Token),
		)
	}
	if oldCfg.Resolver.Endpoint != newCfg.Resolver.Endpoint ||
		oldCfg.Resolver.Timeout != newCfg.Resolver.Timeout ||
		oldCfg.Resolver.SettleDelay != newCfg.Resolver.SettleDelay ||
		!slices.Equal(oldCfg.Resolver.Patterns, newCfg.Resolver.Patterns) {
		changed = append(changed, "resolver")
		attrs = append(attrs, logx.Int("resolver.patterns", len(newCfg.Resolver.Patterns)))
	}
	if oldCfg.Relay != newCfg.Relay {
		changed = append(changed, "relay")
		attrs = append(attrs,
			logx.Int("relay.batch_size", newCfg.Relay.BatchSize),
			logx.String("relay.batch_delay", newCfg.Relay.BatchDelay),
		)
	}
	if oldCfg.Storage != newCfg.Storage {
		changed = append(changed, "storage")
		attrs = append(attrs, logx.String("storage.driver", strings.ToLower(newCfg.Storage.Driver)))
	}
	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs, logx.String("logging.level", newCfg.Logging.Level))
	}
	if oldCfg.Scheduler != newCfg.Scheduler {
		changed = append(changed, "scheduler")
		attrs = append(attrs, logx.String("scheduler.stats_digest", newCfg.Scheduler.StatsDigest))
	}
	if oldCfg.Debug != newCfg.Debug {
		changed = append(changed, "debug")
		attrs = append(attrs, logx.Bool("debug.enabled", newCfg.Debug.Enabled), logx.String("debug.addr", newCfg.Debug.Addr))
	}
	return changed, attrs
}
