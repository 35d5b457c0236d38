package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Environment keys. The names follow the .env files the bot has always been deployed with.
const (
	EnvToken       = "BOT_TOKEN"
	EnvAdminIDs    = "ADMIN_ID"
	EnvResolver    = "apitiktok"
	EnvDatabaseURL = "DATABASE_URL"
	EnvRedisAddr   = "REDIS_ADDR"
	EnvLogLevel    = "LOG_LEVEL"
)

// LoadEnv loads a dotenv file into the process environment.
// A missing file is not an error; variables already set are kept.
func LoadEnv(path string) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load env %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overlays environment values on cfg. Environment wins over the file,
// so secrets can stay out of config.json.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	if v, ok := lookup(EnvToken); ok && strings.TrimSpace(v) != "" {
		cfg.Telegram.Token = strings.TrimSpace(v)
	}
	if v, ok := lookup(EnvAdminIDs); ok && strings.TrimSpace(v) != "" {
		ids, err := parseIDList(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvAdminIDs, err)
		}
		cfg.Telegram.AdminIDs = ids
	}
	if v, ok := lookup(EnvResolver); ok && strings.TrimSpace(v) != "" {
		cfg.Resolver.Endpoint = strings.TrimSpace(v)
	}
	if v, ok := lookup(EnvDatabaseURL); ok && strings.TrimSpace(v) != "" {
		cfg.Storage.DSN = strings.TrimSpace(v)
		if cfg.Storage.Driver == "" {
			cfg.Storage.Driver = "postgres"
		}
	}
	if v, ok := lookup(EnvRedisAddr); ok && strings.TrimSpace(v) != "" {
		cfg.Storage.RedisAddr = strings.TrimSpace(v)
		if cfg.Storage.Driver == "" {
			cfg.Storage.Driver = "redis"
		}
	}
	if v, ok := lookup(EnvLogLevel); ok && strings.TrimSpace(v) != "" {
		cfg.Logging.Level = strings.TrimSpace(v)
	}
	return nil
}

func parseIDList(raw string) ([]int64, error) {
	parts := strings.Split(raw, ",")
	out := make([]int64, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		id, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid id %q", p)
		}
		out = append(out, id)
	}
	return out, nil
}
