package app

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"

	"tokbot/internal/broadcast"
	"tokbot/internal/config"
	"tokbot/internal/directory"
	"tokbot/internal/report"
	"tokbot/internal/resolver"
	"tokbot/internal/session"
	"tokbot/internal/transport/telegram/router"
	logx "tokbot/pkg/logx"
)

// Config values reaching these mappers have passed config.Validate, so duration
// fields are read with config.Duration.

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    cfg.Logging.Telegram.Enabled,
			ThreadID:   cfg.Logging.Telegram.ThreadID,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}
}

func mapDirectoryConfig(cfg *config.Config) directory.Config {
	return directory.Config{
		Driver:      strings.ToLower(strings.TrimSpace(cfg.Directory.Driver)),
		Path:        strings.TrimSpace(cfg.Directory.Path),
		BusyTimeout: config.Duration(cfg.Directory.BusyTimeout),
	}
}

func mapResolverConfig(cfg *config.Config) resolver.Config {
	return resolver.Config{
		BaseURL:   strings.TrimSpace(cfg.Resolver.BaseURL),
		Timeout:   config.Duration(cfg.Resolver.Timeout),
		UserAgent: cfg.Resolver.UserAgent,
	}
}

func mapBroadcastConfig(cfg *config.Config) broadcast.Config {
	return broadcast.Config{Delay: config.Duration(cfg.Broadcast.Delay)}
}

func mapReportConfig(cfg *config.Config) report.Config {
	return report.Config{
		Schedule: cfg.Report.Schedule,
		Timezone: cfg.Report.Timezone,
		Admins:   cfg.Telegram.AdminIDs,
	}
}

func mapRouterSettings(cfg *config.Config) router.Settings {
	return router.Settings{
		Admins:         cfg.Telegram.AdminIDs,
		StartArg:       cfg.Broadcast.StartArg,
		Welcome:        cfg.Texts.Welcome,
		HandlerTimeout: config.Duration(cfg.Router.HandlerTimeout),
	}
}

func openSessionStore(ctx context.Context, cfg *config.Config) (session.Store, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Session.Driver)) {
	case "", "memory":
		return session.NewMemoryStore(), nil
	case "redis":
		s, err := session.OpenRedis(ctx, session.RedisConfig{
			Addr:      cfg.Session.RedisAddr,
			Password:  cfg.Session.RedisPassword,
			DB:        cfg.Session.RedisDB,
			KeyPrefix: cfg.Session.KeyPrefix,
			TTL:       config.Duration(cfg.Session.TTL),
		})
		if err != nil {
			return nil, fmt.Errorf("open session store: %w", err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown session.driver: %s", cfg.Session.Driver)
	}
}

// liveResolver lets a config reload swap the resolver client under running handlers.
type liveResolver struct {
	cur atomic.Pointer[resolver.Client]
}

func newLiveResolver(cfg resolver.Config) *liveResolver {
	l := &liveResolver{}
	l.Apply(cfg)
	return l
}

func (l *liveResolver) Apply(cfg resolver.Config) { l.cur.Store(resolver.New(cfg)) }

func (l *liveResolver) Resolve(ctx context.Context, link string) (resolver.ResolvedVideo, error) {
	return l.cur.Load().Resolve(ctx, link)
}
