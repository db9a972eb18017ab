package config

type Config struct {
	Telegram  TelegramConfig  `json:"telegram"`
	Router    RouterConfig    `json:"router"`
	Resolver  ResolverConfig  `json:"resolver"`
	Broadcast BroadcastConfig `json:"broadcast"`
	Directory DirectoryConfig `json:"directory"`
	Session   SessionConfig   `json:"session"`
	Report    ReportConfig    `json:"report"`
	Texts     TextsConfig     `json:"texts"`
	Logging   LoggingConfig   `json:"logging"`
	Systemd   SystemdConfig   `json:"systemd"`
}

type TelegramConfig struct {
	Token    string  `json:"token"`
	AdminIDs []int64 `json:"admin_ids"`
	// GroupLog is the chat id receiving log lines when logging.telegram is enabled.
	GroupLog string `json:"group_log"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout"`
}

// RouterConfig controls the inbound dispatch loop.
//
// Workers shards messages by sender id, so messages from one user are always
// handled in arrival order regardless of the worker count.
type RouterConfig struct {
	Workers int `json:"workers,omitempty"`
	// HandlerTimeout bounds a single handler run. "0s" disables it.
	HandlerTimeout string `json:"handler_timeout,omitempty"`
}

type ResolverConfig struct {
	BaseURL   string `json:"base_url,omitempty"`
	Timeout   string `json:"timeout,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
}

type BroadcastConfig struct {
	// StartArg is the /start argument that opens the compose flow for admins.
	StartArg string `json:"start_arg,omitempty"`
	// Delay is the pause after every delivery attempt.
	Delay string `json:"delay,omitempty"`
}

// DirectoryConfig selects the user directory backend.
//
// Example:
//
//	"directory": { "driver": "sqlite", "path": "./data/users.db" }
type DirectoryConfig struct {
	Driver      string `json:"driver,omitempty"` // sqlite | file | memory
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
}

type SessionConfig struct {
	Driver        string `json:"driver,omitempty"` // memory | redis
	RedisAddr     string `json:"redis_addr,omitempty"`
	RedisPassword string `json:"redis_password,omitempty"`
	RedisDB       int    `json:"redis_db,omitempty"`
	KeyPrefix     string `json:"key_prefix,omitempty"`
	// TTL expires abandoned compose flows. "0s" keeps them forever.
	TTL string `json:"ttl,omitempty"`
}

// ReportConfig schedules the periodic admin report. An empty schedule disables it.
type ReportConfig struct {
	Schedule string `json:"schedule,omitempty"`
	Timezone string `json:"timezone,omitempty"`
}

type TextsConfig struct {
	Welcome string `json:"welcome,omitempty"`
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
	ThreadID   int    `json:"thread_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

type SystemdConfig struct {
	Notify bool `json:"notify"`
}

const (
	DefaultResolverBaseURL = "https://api.douyin.wtf/api"
	DefaultStartArg        = "email"
	DefaultBroadcastDelay  = "50ms"
	DefaultDirectoryPath   = "./data/users.db"
	DefaultKeyPrefix       = "tokbot:"
)

// ApplyDefaults fills omitted fields in place.
func (c *Config) ApplyDefaults() {
	if c.Router.Workers <= 0 {
		c.Router.Workers = 1
	}
	if c.Resolver.BaseURL == "" {
		c.Resolver.BaseURL = DefaultResolverBaseURL
	}
	if c.Broadcast.StartArg == "" {
		c.Broadcast.StartArg = DefaultStartArg
	}
	if c.Broadcast.Delay == "" {
		c.Broadcast.Delay = DefaultBroadcastDelay
	}
	if c.Directory.Driver == "" {
		c.Directory.Driver = "sqlite"
	}
	if c.Directory.Path == "" && c.Directory.Driver != "memory" {
		c.Directory.Path = DefaultDirectoryPath
	}
	if c.Session.Driver == "" {
		c.Session.Driver = "memory"
	}
	if c.Session.KeyPrefix == "" {
		c.Session.KeyPrefix = DefaultKeyPrefix
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// IsAdmin reports whether id is in telegram.admin_ids.
func (c *Config) IsAdmin(id int64) bool {
	for _, a := range c.Telegram.AdminIDs {
		if a == id {
			return true
		}
	}
	return false
}
