// Package report sends admins a periodic summary of the bot on a cron schedule.
package report

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"tokbot/internal/transport"
	logx "tokbot/pkg/logx"
)

const sendTimeout = 30 * time.Second

type Config struct {
	// Schedule is a standard 5-field cron spec or a descriptor ("@daily", "@every 24h").
	// Empty disables the report.
	Schedule string
	Timezone string
	Admins   []int64
}

type Counter interface {
	Count(ctx context.Context) (int, error)
}

type Sender interface {
	SendText(ctx context.Context, to transport.ChatTarget, text string, opt *transport.SendOptions) (transport.MessageRef, error)
}

type Service struct {
	mu     sync.Mutex
	cfg    Config
	parser cron.Parser
	c      *cron.Cron
	ctx    context.Context

	// admins is read by running jobs, which must not take mu: Stop waits for them under mu.
	admins atomic.Pointer[[]int64]

	counter Counter
	sender  Sender
	log     logx.Logger
	now     func() time.Time
}

func New(cfg Config, counter Counter, sender Sender, log logx.Logger) *Service {
	s := &Service{
		cfg:     cfg,
		parser:  cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		counter: counter,
		sender:  sender,
		log:     log.With(logx.String("comp", "report")),
		now:     time.Now,
	}
	s.setAdmins(cfg.Admins)
	return s
}

func (s *Service) setAdmins(ids []int64) {
	cp := append([]int64(nil), ids...)
	s.admins.Store(&cp)
}

// Start schedules the report. It is a no-op when the schedule is empty.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ctx = ctx
	return s.restartLocked()
}

// Apply takes effect immediately; the cron is rebuilt when schedule or timezone change.
func (s *Service) Apply(cfg Config) error {
	s.setAdmins(cfg.Admins)
	s.mu.Lock()
	defer s.mu.Unlock()
	old := s.cfg
	s.cfg = cfg
	if s.ctx == nil {
		return nil
	}
	if strings.TrimSpace(old.Schedule) == strings.TrimSpace(cfg.Schedule) &&
		strings.TrimSpace(old.Timezone) == strings.TrimSpace(cfg.Timezone) {
		return nil
	}
	return s.restartLocked()
}

func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
	s.ctx = nil
}

func (s *Service) stopLocked() {
	if s.c != nil {
		<-s.c.Stop().Done()
		s.c = nil
	}
}

func (s *Service) restartLocked() error {
	s.stopLocked()
	spec := strings.TrimSpace(s.cfg.Schedule)
	if spec == "" {
		s.log.Debug("report disabled")
		return nil
	}

	loc := s.locationLocked()
	cl := cronLogger{log: s.log}
	c := cron.New(
		cron.WithParser(s.parser),
		cron.WithLocation(loc),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	ctx := s.ctx
	if _, err := c.AddFunc(spec, func() { s.run(ctx) }); err != nil {
		return fmt.Errorf("report schedule %q: %w", spec, err)
	}
	c.Start()
	s.c = c
	s.log.Info("report scheduled", logx.String("schedule", spec), logx.String("tz", loc.String()))
	return nil
}

func (s *Service) locationLocked() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone, falling back to Local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}

func (s *Service) run(ctx context.Context) {
	if ctx == nil || ctx.Err() != nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()
	if err := s.RunOnce(ctx); err != nil {
		s.log.Warn("report failed", logx.Err(err))
	}
}

// RunOnce builds the report and sends it to every admin. Delivery failures for
// one admin do not stop the others.
func (s *Service) RunOnce(ctx context.Context) error {
	n, err := s.counter.Count(ctx)
	if err != nil {
		return fmt.Errorf("count users: %w", err)
	}
	admins := *s.admins.Load()

	text := Text(n, s.now())
	sent := 0
	for _, id := range admins {
		if _, err := s.sender.SendText(ctx, transport.ChatTarget{ChatID: id}, text, nil); err != nil {
			s.log.Debug("report delivery failed", logx.Int64("admin", id), logx.Err(err))
			continue
		}
		sent++
	}
	s.log.Info("report sent", logx.Int("users", n), logx.Int("admins", sent))
	return nil
}

func Text(users int, at time.Time) string {
	return fmt.Sprintf("📊 Report for %s\nKnown users: %d", at.Format("2006-01-02 15:04"), users)
}

// cronLogger routes cron's own messages (recovered panics, skipped runs) to logx.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, kv ...any) {
	l.log.Debug("cron: "+msg, logx.Any("kv", kv))
}

func (l cronLogger) Error(err error, msg string, kv ...any) {
	l.log.Error("cron: "+msg, logx.Err(err), logx.Any("kv", kv))
}
