// Package router turns inbound chat messages into bot behavior: the /start entry,
// the admin compose-and-confirm broadcast flow, admin utility commands and the
// video link flow.
package router

import (
	"context"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"tokbot/internal/broadcast"
	"tokbot/internal/directory"
	"tokbot/internal/resolver"
	rtsup "tokbot/internal/runtime/supervisor"
	"tokbot/internal/session"
	kit "tokbot/internal/transport"
	logx "tokbot/pkg/logx"
)

// Settings are the live-reloadable parts of the router configuration.
type Settings struct {
	Admins         []int64
	StartArg       string
	Welcome        string
	HandlerTimeout time.Duration
}

type Resolver interface {
	Resolve(ctx context.Context, link string) (resolver.ResolvedVideo, error)
}

type Broadcaster interface {
	Launch(req broadcast.Request) string
	Recent(n int) []broadcast.JobStatus
}

type Deps struct {
	Adapter   kit.Adapter
	Directory directory.Directory
	Sessions  *session.Machine
	Resolver  Resolver
	Broadcast Broadcaster
	Log       logx.Logger

	// BotUsername filters "/cmd@otherbot" in groups. Empty accepts any suffix.
	BotUsername string
}

type Request struct {
	Msg    *kit.Message
	Chat   kit.ChatTarget
	FromID int64
	Route  string
	ReqID  string
	Logger logx.Logger
}

type Router struct {
	adapter   kit.Adapter
	dir       directory.Directory
	sessions  *session.Machine
	resolver  Resolver
	broadcast Broadcaster
	log       logx.Logger
	botName   string

	workers  int
	settings atomic.Pointer[Settings]
}

func New(s Settings, workers int, d Deps) *Router {
	log := d.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	if workers <= 0 {
		workers = 1
	}
	r := &Router{
		adapter:   d.Adapter,
		dir:       d.Directory,
		sessions:  d.Sessions,
		resolver:  d.Resolver,
		broadcast: d.Broadcast,
		log:       log.With(logx.String("comp", "telegram.router")),
		botName:   d.BotUsername,
		workers:   workers,
	}
	r.Apply(s)
	return r
}

// Apply swaps the live settings. Safe during hot reload.
func (r *Router) Apply(s Settings) {
	s.Admins = append([]int64(nil), s.Admins...)
	if s.Welcome == "" {
		s.Welcome = DefaultWelcome
	}
	r.settings.Store(&s)
}

func (r *Router) current() *Settings { return r.settings.Load() }

func (s *Settings) isAdmin(id int64) bool {
	for _, a := range s.Admins {
		if a == id {
			return true
		}
	}
	return false
}

// DispatchLoop reads updates until ctx is done or updates is closed. Messages are
// sharded by sender id, so one user's messages are always handled in order.
func (r *Router) DispatchLoop(ctx context.Context, updates <-chan kit.Update) error {
	sup := rtsup.New(ctx,
		rtsup.WithLogger(r.log),
		rtsup.WithCancelOnError(false),
	)

	queues := make([]chan *kit.Message, r.workers)
	for i := range queues {
		q := make(chan *kit.Message, 64)
		queues[i] = q
		idx := i
		sup.GoRestart("router.worker."+strconv.Itoa(idx), func(c context.Context) error {
			r.log.Debug("router worker started", logx.Int("worker", idx))
			for {
				select {
				case <-c.Done():
					return nil
				case msg := <-q:
					_ = r.Handle(c, msg)
				}
			}
		}, rtsup.WithRestartBackoff(200*time.Millisecond, 5*time.Second))
	}
	r.log.Info("dispatcher started", logx.Int("workers", r.workers))

	defer func() {
		sup.Cancel()
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Wait(wctx)
		cancel()
		r.log.Info("dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			if up.Kind != kit.UpdateMessage || up.Message == nil {
				continue
			}
			q := queues[shard(up.Message.FromID, len(queues))]
			select {
			case q <- up.Message:
			case <-ctx.Done():
				return nil
			}
		}
	}
}

func shard(id int64, n int) int {
	if n <= 1 {
		return 0
	}
	return int(uint64(id) % uint64(n))
}

// Handle runs one message through the middleware chain. Errors are logged, never
// surfaced to the sender.
func (r *Router) Handle(ctx context.Context, msg *kit.Message) error {
	if msg == nil {
		return nil
	}
	rid := uuid.NewString()[:8]
	req := &Request{
		Msg:    msg,
		Chat:   msg.Target(),
		FromID: msg.FromID,
		ReqID:  rid,
		Logger: r.log.With(
			logx.String("rid", rid),
			logx.Int64("chat_id", msg.ChatID),
			logx.Int("thread_id", msg.ThreadID),
			logx.Int64("from_id", msg.FromID),
		),
	}
	final := Chain(
		r.route,
		MWPanicRecover(r.log),
		MWRequestLog(r.log),
		MWTimeout(r.current().HandlerTimeout),
	)
	return final(ctx, req)
}

func (r *Router) route(ctx context.Context, req *Request) error {
	s := r.current()
	msg := req.Msg
	admin := s.isAdmin(req.FromID)

	var cmd, arg string
	var isCmd bool
	if msg.Kind == kit.ContentText {
		cmd, arg, isCmd = parseCommand(msg.Text, r.botName)
	}
	if isCmd && cmd == "start" {
		req.Route = "start"
		return r.handleStart(ctx, req, s, admin, arg)
	}

	if admin {
		st, err := r.sessions.State(ctx, req.FromID)
		if err != nil {
			req.Logger.Warn("session lookup failed", logx.Err(err))
		}
		switch st {
		case session.AwaitingBroadcastContent:
			if isBroadcastContent(msg.Kind) {
				req.Route = "mail.compose"
				return r.handleCompose(ctx, req)
			}
		case session.AwaitingConfirmation:
			req.Route = "mail.confirm"
			return r.handleConfirm(ctx, req)
		}

		if isCmd {
			switch cmd {
			case "stats":
				req.Route = "stats"
				return r.handleStats(ctx, req)
			case "mailstatus":
				req.Route = "mailstatus"
				return r.handleMailStatus(ctx, req)
			}
		}
	}

	return r.handleDefault(ctx, req, s)
}

func isBroadcastContent(k kit.ContentKind) bool {
	switch k {
	case kit.ContentText, kit.ContentPhoto, kit.ContentVideo, kit.ContentAnimation:
		return true
	}
	return false
}

// record upserts the sender. A directory failure never blocks the reply.
func (r *Router) record(ctx context.Context, req *Request) {
	err := r.dir.Record(ctx, directory.User{ID: req.FromID, Username: req.Msg.FromUsername})
	if err != nil {
		req.Logger.Warn("record user failed", logx.Err(err))
	}
}

func (r *Router) reply(ctx context.Context, req *Request, text string) error {
	_, err := r.adapter.SendText(ctx, req.Chat, text, &kit.SendOptions{DisablePreview: true})
	return err
}

func (r *Router) handleDefault(ctx context.Context, req *Request, s *Settings) error {
	r.record(ctx, req)
	if req.Msg.Kind == kit.ContentText && IsVideoLink(req.Msg.Text) {
		req.Route = "link"
		return r.handleLink(ctx, req, normalizeLink(req.Msg.Text))
	}
	req.Route = "welcome"
	return r.reply(ctx, req, s.Welcome)
}
