package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"tokbot/internal/broadcast"
	"tokbot/internal/config"
	"tokbot/internal/directory"
	"tokbot/internal/eventbus"
	"tokbot/internal/report"
	"tokbot/internal/runtime/supervisor"
	"tokbot/internal/session"
	kit "tokbot/internal/transport"
	telegram "tokbot/internal/transport/telegram/adapter"
	"tokbot/internal/transport/telegram/router"
	logx "tokbot/pkg/logx"
	"tokbot/pkg/sdnotify"
)

type App struct {
	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	adapter  *telegram.Adapter
	dir      directory.Directory
	sessions session.Store
	resolver *liveResolver
	report   *report.Service
	notify   *sdnotify.Notifier

	runner *broadcast.Runner
	router *router.Router

	updates chan kit.Update
}

// NewApp loads the config and opens everything a start needs. A failure here is a
// startup failure: nothing is left open.
func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	bootLog := logx.NewConsole(cfg.Logging.Level)
	ad, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: config.Duration(cfg.Telegram.PollTimeout),
	}, bootLog)
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}

	// Bootstrap with the telegram sink off, set the target, then enable it:
	// Apply warns when the sink is on without a target.
	logCfg := mapLogConfig(cfg)
	bootCfg := logCfg
	bootCfg.Telegram.Enabled = false
	logSvc, log := logx.New(bootCfg, ad)
	logSvc.SetTelegramTarget(cfg.GroupLogChatID(), cfg.Logging.Telegram.ThreadID)
	logSvc.Apply(logCfg)
	log = log.With(logx.String("comp", "app"))

	dir, err := directory.Open(mapDirectoryConfig(cfg), log.With(logx.String("comp", "directory")))
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}

	octx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	sessions, err := openSessionStore(octx, cfg)
	if err != nil {
		_ = dir.Close()
		_ = logSvc.Close()
		return nil, err
	}

	log.Info("app configured",
		logx.String("bot", ad.Username()),
		logx.String("directory", cfg.Directory.Driver),
		logx.String("session", cfg.Session.Driver),
		logx.Int("admins", len(cfg.Telegram.AdminIDs)),
	)

	return &App{
		cfgm:     cfgm,
		log:      log,
		logs:     logSvc,
		bus:      eventbus.New(),
		adapter:  ad,
		dir:      dir,
		sessions: sessions,
		resolver: newLiveResolver(mapResolverConfig(cfg)),
		report:   report.New(mapReportConfig(cfg), dir, ad, log.With(logx.String("comp", "report"))),
		notify:   sdnotify.New(cfg.Systemd.Notify),
		updates:  make(chan kit.Update, 256),
	}, nil
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	cfg := a.cfgm.Get()

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, next *config.Config) error {
		if strings.TrimSpace(next.Telegram.Token) == "" {
			return fmt.Errorf("telegram.token must not be cleared by a reload")
		}
		return nil
	})

	a.runner = broadcast.New(mapBroadcastConfig(cfg), broadcast.Deps{
		Directory:  a.dir,
		Sender:     a.adapter,
		Supervisor: a.sup,
		Bus:        a.bus,
		Log:        a.log,
	})
	a.router = router.New(mapRouterSettings(cfg), cfg.Router.Workers, router.Deps{
		Adapter:     a.adapter,
		Directory:   a.dir,
		Sessions:    session.NewMachine(a.sessions),
		Resolver:    a.resolver,
		Broadcast:   a.runner,
		Log:         a.log,
		BotUsername: a.adapter.Username(),
	})

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}
	if err := a.report.Start(a.sup.Context()); err != nil {
		return fmt.Errorf("report: %w", err)
	}

	a.sup.Go("router.dispatch", func(c context.Context) error {
		return a.router.DispatchLoop(c, a.updates)
	})

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		last := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case next, ok := <-sub:
				if !ok {
					return
				}
				// coalesce bursts
				for drained := false; !drained; {
					select {
					case newer := <-sub:
						if newer != nil {
							next = newer
						}
					default:
						drained = true
					}
				}
				a.applyConfig(last, next)
				last = next
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})
	a.sup.Go0("systemd.watchdog", func(c context.Context) {
		if err := a.notify.Watchdog(c); err != nil {
			a.log.Warn("systemd watchdog stopped", logx.Err(err))
		}
	})

	if sent, err := a.notify.Ready(); err != nil {
		a.log.Warn("sd_notify ready failed", logx.Err(err))
	} else if sent {
		a.log.Debug("sd_notify ready sent")
	}
	a.log.Info("app started", logx.Int("workers", cfg.Router.Workers))
	return nil
}

// applyConfig pushes the live-reloadable sections into running components.
func (a *App) applyConfig(prev, next *config.Config) {
	change := config.SummarizeConfigChange(prev, next)
	if change.Empty() {
		a.log.Info("config reloaded (no changes)")
		return
	}
	if _, err := a.notify.Reloading(); err != nil {
		a.log.Debug("sd_notify reloading failed", logx.Err(err))
	}
	if len(change.RestartRequired) > 0 {
		a.log.Warn("config changed; restart required for changes to take effect",
			logx.String("sections", strings.Join(change.RestartRequired, ",")))
	}

	a.logs.SetTelegramTarget(next.GroupLogChatID(), next.Logging.Telegram.ThreadID)
	a.logs.Apply(mapLogConfig(next))

	a.router.Apply(mapRouterSettings(next))
	a.runner.Apply(mapBroadcastConfig(next))
	a.resolver.Apply(mapResolverConfig(next))
	if err := a.report.Apply(mapReportConfig(next)); err != nil {
		a.log.Warn("report schedule not applied; keeping previous", logx.Err(err))
	}

	a.bus.Publish(eventbus.Event{Type: eventbus.ConfigReloaded, Time: time.Now(), Data: change.Changed})
	if _, err := a.notify.Ready(); err != nil {
		a.log.Debug("sd_notify ready failed", logx.Err(err))
	}
	if _, err := a.notify.Status("config reloaded"); err != nil {
		a.log.Debug("sd_notify status failed", logx.Err(err))
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(change.Changed, ","))}, change.Attrs...)
	a.log.Info("config reloaded", fields...)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	if _, err := a.notify.Stopping(); err != nil {
		a.log.Debug("sd_notify stopping failed", logx.Err(err))
	}

	// Cancelling first interrupts a running broadcast and unwinds the loops.
	a.sup.Cancel()

	a.step(ctx, "report", 2*time.Second, func(context.Context) error { a.report.Stop(); return nil })
	a.step(ctx, "adapter", 2*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })
	a.step(ctx, "supervisor", 3*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	a.step(ctx, "sessions", time.Second, func(context.Context) error { return a.sessions.Close() })
	a.step(ctx, "directory", 2*time.Second, func(context.Context) error { return a.dir.Close() })

	c := a.sup.Counters()
	a.log.Info("stopped", logx.Int64("goroutines_left", c.Active), logx.Uint64("goroutines_started", c.Started))
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

// step runs one shutdown step with an upper bound so a stuck component cannot
// stall the whole stop. The caller's deadline is never extended.
func (a *App) step(ctx context.Context, name string, max time.Duration, fn func(context.Context) error) {
	start := time.Now()
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem < max {
			max = rem
		}
	}
	if max <= 0 {
		a.log.Warn("stop step skipped: no time left", logx.String("name", name))
		return
	}
	stepCtx, cancel := context.WithTimeout(ctx, max)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic in stop step %s: %v", name, r)
			}
		}()
		done <- fn(stepCtx)
	}()

	select {
	case err := <-done:
		if err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		took := time.Since(start)
		if took >= 500*time.Millisecond {
			a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
		} else {
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
		}
	case <-stepCtx.Done():
		a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Err(stepCtx.Err()))
		go func() {
			if err := <-done; err != nil {
				a.log.Warn("stop step finished after deadline", logx.String("name", name), logx.Err(err))
			}
		}()
	}
}
