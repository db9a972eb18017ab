package config

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

var ErrInvalid = errors.New("invalid config")

// Validate checks cfg after defaults were applied. All problems are reported at once.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("%w: config is nil", ErrInvalid)
	}
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		add("telegram.token is required")
	}
	if len(cfg.Telegram.AdminIDs) == 0 {
		add("telegram.admin_ids must list at least one user id")
	}
	if gl := strings.TrimSpace(cfg.Telegram.GroupLog); gl != "" {
		if _, err := strconv.ParseInt(gl, 10, 64); err != nil {
			add("telegram.group_log: not a chat id: %q", gl)
		}
	}
	if cfg.Router.Workers < 1 || cfg.Router.Workers > 64 {
		add("router.workers must be in 1..64")
	}

	durations := []struct{ path, raw string }{
		{"telegram.poll_timeout", cfg.Telegram.PollTimeout},
		{"router.handler_timeout", cfg.Router.HandlerTimeout},
		{"resolver.timeout", cfg.Resolver.Timeout},
		{"broadcast.delay", cfg.Broadcast.Delay},
		{"directory.busy_timeout", cfg.Directory.BusyTimeout},
		{"session.ttl", cfg.Session.TTL},
	}
	for _, d := range durations {
		if _, err := ParseDurationField(d.path, d.raw); err != nil {
			errs = append(errs, err)
		}
	}

	if u, err := url.Parse(cfg.Resolver.BaseURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		add("resolver.base_url must be an absolute http(s) URL")
	}
	if strings.ContainsAny(cfg.Broadcast.StartArg, " \t\n") {
		add("broadcast.start_arg must be a single word")
	}

	switch cfg.Directory.Driver {
	case "memory":
	case "sqlite", "file":
		if strings.TrimSpace(cfg.Directory.Path) == "" {
			add("directory.path is required for driver %q", cfg.Directory.Driver)
		}
	default:
		add("directory.driver: unknown driver %q", cfg.Directory.Driver)
	}

	switch cfg.Session.Driver {
	case "memory":
	case "redis":
		if strings.TrimSpace(cfg.Session.RedisAddr) == "" {
			add("session.redis_addr is required for driver redis")
		}
	default:
		add("session.driver: unknown driver %q", cfg.Session.Driver)
	}

	if s := strings.TrimSpace(cfg.Report.Schedule); s != "" {
		if _, err := cron.ParseStandard(s); err != nil {
			add("report.schedule: %v", err)
		}
	}
	if tz := strings.TrimSpace(cfg.Report.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			add("report.timezone: %v", err)
		}
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
}

// GroupLogChatID returns telegram.group_log as a chat id, or 0 when unset.
func (c *Config) GroupLogChatID() int64 {
	id, err := strconv.ParseInt(strings.TrimSpace(c.Telegram.GroupLog), 10, 64)
	if err != nil {
		return 0
	}
	return id
}
