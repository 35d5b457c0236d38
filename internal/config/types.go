package config

type Config struct {
	Telegram  TelegramConfig  `json:"telegram"`
	Resolver  ResolverConfig  `json:"resolver"`
	Relay     RelayConfig     `json:"relay"`
	Storage   StorageConfig   `json:"storage"`
	Logging   LoggingConfig   `json:"logging"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Debug     DebugConfig     `json:"debug"`
}

type TelegramConfig struct {
	Token    string  `json:"token"`
	AdminIDs []int64 `json:"admin_ids"`
	// LogChat receives WARN+ log lines when logging.telegram.enabled is set.
	LogChat int64 `json:"log_chat,omitempty"`
	// PollTimeout is a Go duration string (e.g. "10s").
	PollTimeout string `json:"poll_timeout,omitempty"`
}

// ResolverConfig points at the external resolution service.
//
// Endpoint is a URL prefix; the escaped link is appended to it, e.g.
//
//	"endpoint": "https://www.tikwm.com/api/?url="
type ResolverConfig struct {
	Endpoint    string          `json:"endpoint"`
	Timeout     string          `json:"timeout,omitempty"`
	SettleDelay string          `json:"settle_delay,omitempty"`
	Patterns    []PatternConfig `json:"patterns,omitempty"`
}

// PatternConfig maps a link regexp to a request category.
type PatternConfig struct {
	Category string `json:"category"`
	Match    string `json:"match"`
}

type RelayConfig struct {
	BatchSize       int    `json:"batch_size,omitempty"`
	BatchDelay      string `json:"batch_delay,omitempty"`
	MenuTTL         string `json:"menu_ttl,omitempty"`
	StatsWindowDays int    `json:"stats_window_days,omitempty"`
	BrandCaption    string `json:"brand_caption,omitempty"`
	// Workers caps how many chats are handled at once; updates of one chat always run in order.
	Workers        int    `json:"workers,omitempty"`
	HandlerTimeout string `json:"handler_timeout,omitempty"`
}

// StorageConfig selects a persistence driver.
//
// Driver values: "sqlite" (default), "postgres", "redis", "file", "memory".
type StorageConfig struct {
	Driver        string `json:"driver"`
	Path          string `json:"path,omitempty"`
	DSN           string `json:"dsn,omitempty"`
	RedisAddr     string `json:"redis_addr,omitempty"`
	RedisPassword string `json:"redis_password,omitempty"`
	RedisDB       int    `json:"redis_db,omitempty"`
	BusyTimeout   string `json:"busy_timeout,omitempty"` // sqlite only
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// SchedulerConfig controls periodic jobs. StatsDigest is a cron spec ("0 9 * * *");
// empty disables the digest.
type SchedulerConfig struct {
	Enabled     bool   `json:"enabled"`
	Timezone    string `json:"timezone,omitempty"`
	StatsDigest string `json:"stats_digest,omitempty"`
}

// DebugConfig enables the diagnostics HTTP server (health + pprof).
// A non-loopback Addr requires Token.
type DebugConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"`
	Token   string `json:"token,omitempty"`
}
