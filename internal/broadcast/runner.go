// Package broadcast copies an admin's message to every known user.
//
// Delivery is sequential with a fixed pause between recipients. Failures are
// counted, never retried.
package broadcast

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"tokbot/internal/directory"
	"tokbot/internal/eventbus"
	"tokbot/internal/runtime/supervisor"
	"tokbot/internal/transport"
	logx "tokbot/pkg/logx"
)

type Deps struct {
	Directory  directory.Directory
	Sender     Sender
	Supervisor *supervisor.Supervisor // required by Launch
	Bus        eventbus.Bus           // optional
	Log        logx.Logger
}

type Runner struct {
	mu  sync.Mutex
	cfg Config

	dir  directory.Directory
	send Sender
	sup  *supervisor.Supervisor
	bus  eventbus.Bus
	log  logx.Logger

	statusMu  sync.RWMutex
	status    map[string]*JobStatus
	statusMax int
	statusTTL time.Duration
}

func New(cfg Config, d Deps) *Runner {
	log := d.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Runner{
		cfg:    cfg,
		dir:    d.Directory,
		send:   d.Sender,
		sup:    d.Supervisor,
		bus:    d.Bus,
		log:    log.With(logx.String("comp", "broadcast")),
		status: map[string]*JobStatus{},
	}
}

// Apply swaps the config; a running broadcast picks it up on the next recipient.
func (r *Runner) Apply(cfg Config) {
	r.mu.Lock()
	r.cfg = cfg
	r.mu.Unlock()
}

func (r *Runner) delay() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cfg.Delay
}

// Launch starts the broadcast in the background and returns its id immediately.
// The job only stops early when the supervisor is cancelled (process shutdown).
func (r *Runner) Launch(req Request) string {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	r.register(req)
	// Run logs and records its own failures; a failed job must not stop the app.
	r.sup.Go0("broadcast:"+req.ID, func(ctx context.Context) {
		defer r.recoverJob(req.ID)
		_, _ = r.Run(ctx, req)
	})
	return req.ID
}

// recoverJob marks a panicked job as failed instead of letting the panic reach
// the supervisor.
func (r *Runner) recoverJob(id string) {
	p := recover()
	if p == nil {
		return
	}
	r.log.Error("broadcast panicked", logx.String("job", id), logx.Any("panic", p), logx.String("stack", string(debug.Stack())))
	r.finish(id, fmt.Errorf("panic: %v", p))
}

// Run performs the whole broadcast synchronously.
func (r *Runner) Run(ctx context.Context, req Request) (Summary, error) {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	r.register(req)
	log := r.log.With(logx.String("job", req.ID), logx.Int64("actor", req.ActorID))

	ids, err := r.dir.List(ctx)
	if err != nil {
		log.Warn("broadcast aborted: list users failed", logx.Err(err))
		r.finish(req.ID, fmt.Errorf("list users: %w", err))
		r.reply(ctx, req, listFailedText)
		return Summary{ID: req.ID}, fmt.Errorf("list users: %w", err)
	}

	r.setTotal(req.ID, len(ids))
	r.reply(ctx, req, StartText(len(ids)))
	r.publish(eventbus.BroadcastStarted, Summary{ID: req.ID, Total: len(ids)})
	log.Info("broadcast started", logx.Int("total", len(ids)))

	start := time.Now()
	outcomes := make([]Outcome, 0, len(ids))
	for _, uid := range ids {
		if ctx.Err() != nil {
			break
		}
		_, err := r.send.CopyMessage(ctx, transport.ChatTarget{ChatID: uid}, req.Source)
		o := Outcome{UserID: uid, Err: err}
		outcomes = append(outcomes, o)
		r.track(req.ID, o)
		if err != nil {
			log.Debug("broadcast delivery failed", logx.Int64("user_id", uid), logx.Err(err))
		}
		if err := sleep(ctx, r.delay()); err != nil {
			break
		}
	}

	sum := Summarize(req.ID, outcomes, time.Since(start))
	// recipients never attempted because of shutdown still count as not sent
	sum.Total = len(ids)
	sum.Failed = sum.Total - sum.Sent

	if err := ctx.Err(); err != nil {
		log.Warn("broadcast interrupted", logx.Int("attempted", len(outcomes)), logx.Int("total", len(ids)))
		r.finish(req.ID, err)
		return sum, err
	}

	r.finish(req.ID, nil)
	r.reply(ctx, req, SummaryText(sum))
	r.publish(eventbus.BroadcastFinished, sum)
	r.audit(ctx, req, sum)

	fields := []logx.Field{logx.Int("total", sum.Total), logx.Int("sent", sum.Sent), logx.Int("failed", sum.Failed), logx.Duration("took", sum.Elapsed)}
	if sum.Failed > 0 {
		log.Warn("broadcast finished with failures", fields...)
	} else {
		log.Info("broadcast finished", fields...)
	}
	return sum, nil
}

func (r *Runner) reply(ctx context.Context, req Request, text string) {
	if _, err := r.send.SendText(ctx, req.ReplyTo, text, nil); err != nil {
		r.log.Warn("broadcast reply failed", logx.String("job", req.ID), logx.Int64("chat_id", req.ReplyTo.ChatID), logx.Err(err))
	}
}

func (r *Runner) publish(typ string, s Summary) {
	if r.bus != nil {
		r.bus.Publish(eventbus.Event{Type: typ, Data: s})
	}
}

const auditAction = "broadcast"

func (r *Runner) audit(ctx context.Context, req Request, s Summary) {
	a, ok := r.dir.(directory.Auditor)
	if !ok {
		return
	}
	err := a.AppendAudit(ctx, directory.AuditEntry{
		At:            time.Now(),
		ActorID:       req.ActorID,
		ActorUsername: req.ActorUsername,
		Action:        auditAction,
		Target:        req.ID,
		Total:         s.Total,
		OK:            s.Sent,
		Fail:          s.Failed,
		TookMS:        s.Elapsed.Milliseconds(),
	})
	if err != nil && !errors.Is(err, directory.ErrClosed) {
		r.log.Debug("audit append failed", logx.String("job", req.ID), logx.Err(err))
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
