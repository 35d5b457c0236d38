package app

import (
	"time"

	"linkrelay/internal/config"
	"linkrelay/internal/relay"
	"linkrelay/internal/resolver"
	"linkrelay/internal/scheduler"
	"linkrelay/internal/storage"
	telegram "linkrelay/internal/transport/telegram/adapter"
	"linkrelay/internal/transport/telegram/router"
	"linkrelay/pkg/logx"
)

func logConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    cfg.Logging.Telegram.Enabled,
			ChatID:     cfg.Telegram.LogChat,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}
}

func adapterConfig(cfg *config.Config) telegram.Config {
	return telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: config.DurationOr(cfg.Telegram.PollTimeout, 10*time.Second),
	}
}

func storageConfig(cfg *config.Config) storage.Config {
	sc := cfg.Storage
	return storage.Config{
		Driver:        sc.Driver,
		Path:          sc.Path,
		DSN:           sc.DSN,
		RedisAddr:     sc.RedisAddr,
		RedisPassword: sc.RedisPassword,
		RedisDB:       sc.RedisDB,
		BusyTimeout:   config.DurationOr(sc.BusyTimeout, 0),
	}
}

func resolverOptions(cfg *config.Config, log logx.Logger) resolver.Options {
	return resolver.Options{
		Endpoint:    cfg.Resolver.Endpoint,
		Timeout:     config.DurationOr(cfg.Resolver.Timeout, 0),
		SettleDelay: config.DurationOr(cfg.Resolver.SettleDelay, 0),
		Logger:      log,
	}
}

func patterns(cfg *config.Config) []resolver.Pattern {
	out := make([]resolver.Pattern, 0, len(cfg.Resolver.Patterns))
	for _, p := range cfg.Resolver.Patterns {
		out = append(out, resolver.Pattern{Category: p.Category, Match: p.Match})
	}
	return out
}

func relayOptions(cfg *config.Config, categories []string) relay.Options {
	return relay.Options{
		Categories:      categories,
		MenuTTL:         config.DurationOr(cfg.Relay.MenuTTL, relay.DefaultMenuTTL),
		StatsWindowDays: cfg.Relay.StatsWindowDays,
		BrandCaption:    cfg.Relay.BrandCaption,
		Dispatch: []relay.DispatcherOption{
			relay.WithBatchSize(cfg.Relay.BatchSize),
			relay.WithBatchDelay(config.DurationOr(cfg.Relay.BatchDelay, relay.DefaultBatchDelay)),
		},
	}
}

// handlerTimeout is 0 (unbounded) unless relay.handler_timeout is set; a broadcast
// to a large registry can legitimately run for minutes.
func handlerTimeout(cfg *config.Config) time.Duration {
	d, err := config.ParseDurationField("relay.handler_timeout", cfg.Relay.HandlerTimeout)
	if err != nil {
		return 0
	}
	return d
}

func routerOptions(cfg *config.Config) router.Options {
	return router.Options{
		Workers: cfg.Relay.Workers,
		Timeout: handlerTimeout(cfg),
	}
}

func schedulerConfig(cfg *config.Config) scheduler.Config {
	return scheduler.Config{Enabled: cfg.Scheduler.Enabled, Timezone: cfg.Scheduler.Timezone}
}

var adminCommands = []telegram.BotCommand{
	{Command: "broadcast", Description: "Kirim pengumuman ke semua user"},
	{Command: "stats", Description: "Statistik bot 7 hari terakhir"},
	{Command: "cancel", Description: "Batalkan broadcast yang menunggu"},
}
