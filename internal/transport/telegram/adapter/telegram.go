package adapter

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	tele "gopkg.in/telebot.v4"

	rtsup "tokbot/internal/runtime/supervisor"
	kit "tokbot/internal/transport"
	logx "tokbot/pkg/logx"
	"tokbot/pkg/tgui"
)

type Config struct {
	Token       string
	PollTimeout time.Duration
}

// Adapter is the telebot-backed kit.Adapter. Media is sent by URL reference.
type Adapter struct {
	cfg Config
	log logx.Logger

	bot     *tele.Bot
	out     atomic.Value // chan<- kit.Update
	runMu   sync.Mutex
	running bool

	// sup owns the poll loop and the drop reporter. Created on Start, cancelled on Stop.
	sup *rtsup.Supervisor

	droppedUpdates uint64
}

var _ kit.Adapter = (*Adapter)(nil)

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	b, err := tele.NewBot(botSettings(cfg, log))
	if err != nil {
		return nil, err
	}
	return newAdapter(cfg, b, log), nil
}

func newAdapter(cfg Config, b *tele.Bot, log logx.Logger) *Adapter {
	if log.IsZero() {
		log = logx.Nop()
	}
	a := &Adapter{cfg: cfg, log: log.With(logx.String("comp", "telegram.adapter")), bot: b}
	var nilOut chan<- kit.Update
	a.out.Store(nilOut)
	a.registerHandlers()
	return a
}

// botSettings keeps the poller synchronous: handlers run one at a time in update
// order, so messages from one sender reach the router in the order they were sent.
// sendUpdate never blocks, so a slow router cannot stall polling.
func botSettings(cfg Config, log logx.Logger) tele.Settings {
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return tele.Settings{
		Token:       cfg.Token,
		Poller:      &tele.LongPoller{Timeout: timeout},
		Synchronous: true,
		OnError: func(err error, c tele.Context) {
			if log.IsZero() {
				return
			}
			log.Warn("telebot handler error", logx.Err(err))
		},
	}
}

// Username is the bot's own @name, used to strip /cmd@name suffixes.
func (a *Adapter) Username() string {
	if a.bot == nil || a.bot.Me == nil {
		return ""
	}
	return a.bot.Me.Username
}

func (a *Adapter) registerHandlers() {
	forward := func(kind kit.ContentKind) tele.HandlerFunc {
		return func(c tele.Context) error {
			if m := toMessage(c.Message(), kind); m != nil {
				a.sendUpdate(kit.Update{Kind: kit.UpdateMessage, Message: m})
			}
			return nil
		}
	}
	a.bot.Handle(tele.OnText, forward(kit.ContentText))
	a.bot.Handle(tele.OnPhoto, forward(kit.ContentPhoto))
	a.bot.Handle(tele.OnVideo, forward(kit.ContentVideo))
	a.bot.Handle(tele.OnAnimation, forward(kit.ContentAnimation))
	for _, ev := range []string{tele.OnAudio, tele.OnDocument, tele.OnSticker, tele.OnVoice, tele.OnVideoNote, tele.OnContact, tele.OnLocation, tele.OnPoll, tele.OnDice} {
		a.bot.Handle(ev, forward(kit.ContentOther))
	}
}

func toMessage(m *tele.Message, kind kit.ContentKind) *kit.Message {
	if m == nil || m.Chat == nil {
		return nil
	}
	out := &kit.Message{
		ID:       m.ID,
		ChatID:   m.Chat.ID,
		ThreadID: m.ThreadID,
		Kind:     kind,
	}
	if m.Sender != nil {
		out.FromID = m.Sender.ID
		out.FromUsername = m.Sender.Username
	}
	if kind == kit.ContentText {
		out.Text = m.Text
	} else {
		out.Text = m.Caption
	}
	return out
}

func (a *Adapter) sendUpdate(up kit.Update) {
	out, _ := a.out.Load().(chan<- kit.Update)
	if out == nil {
		return
	}
	select {
	case out <- up:
	default:
		atomic.AddUint64(&a.droppedUpdates, 1)
	}
}

func (a *Adapter) Start(ctx context.Context, out chan<- kit.Update) error {
	if ctx == nil {
		ctx = context.Background()
	}
	a.runMu.Lock()
	if a.running {
		a.runMu.Unlock()
		return nil
	}
	a.running = true
	a.out.Store(out)
	a.sup = rtsup.New(ctx,
		rtsup.WithLogger(a.log),
		rtsup.WithCancelOnError(false),
	)
	sup := a.sup
	a.runMu.Unlock()

	sup.Go0("updates.drop_report", func(c context.Context) {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		report := func() {
			if n := atomic.SwapUint64(&a.droppedUpdates, 0); n > 0 {
				a.log.Warn("incoming updates dropped (channel full)", logx.Uint64("count", n), logx.Int("chan_cap", cap(out)))
			}
		}
		for {
			select {
			case <-c.Done():
				report()
				return
			case <-ticker.C:
				report()
			}
		}
	})

	sup.Go0("telebot.stop_on_cancel", func(c context.Context) {
		<-c.Done()
		a.bot.Stop()
	})

	// bot.Start blocks until Stop; an early return while the context is alive is restarted.
	sup.GoRestart("telebot.poll", func(c context.Context) error {
		a.log.Info("polling started")
		a.bot.Start()
		a.log.Info("polling stopped")
		if c.Err() != nil {
			return nil
		}
		return errors.New("poller exited")
	}, rtsup.WithRestartBackoff(500*time.Millisecond, 10*time.Second))

	return nil
}

func (a *Adapter) Stop(ctx context.Context) error {
	a.runMu.Lock()
	sup := a.sup
	a.sup = nil
	wasRunning := a.running
	a.running = false
	var nilOut chan<- kit.Update
	a.out.Store(nilOut)
	a.runMu.Unlock()

	if !wasRunning || sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.Uint64("dropped_updates_pending", atomic.LoadUint64(&a.droppedUpdates)))
	sup.Cancel()

	// getUpdates may still be long-polling; do not hold shutdown for it.
	grace := 2 * time.Second
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem > 0 && rem < grace {
			grace = rem
		}
	}
	wctx, cancel := context.WithTimeout(ctx, grace)
	defer cancel()
	if err := sup.Wait(wctx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			a.log.Warn("telegram stop timed out", logx.Err(err))
			return nil
		}
		a.log.Debug("telegram stopped with supervisor error", logx.Err(err))
	}
	return nil
}

func sendOptions(to kit.ChatTarget, opt *kit.SendOptions) *tele.SendOptions {
	so := &tele.SendOptions{ThreadID: to.ThreadID}
	if opt != nil {
		so.ParseMode = opt.ParseMode
		so.DisableWebPagePreview = opt.DisablePreview
	}
	return so
}

func ref(to kit.ChatTarget, m *tele.Message) kit.MessageRef {
	if m == nil {
		return kit.MessageRef{}
	}
	return kit.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: m.ID}
}

// SendText sends text, split into several messages when it exceeds the Bot API limit.
// The returned ref points at the first chunk.
func (a *Adapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	parseMode := ""
	if opt != nil {
		parseMode = opt.ParseMode
	}
	chunks := splitTelegramText(text, telegramTextLimit, parseMode)

	chat := &tele.Chat{ID: to.ChatID}
	var first kit.MessageRef
	for i, chunk := range chunks {
		if err := ctx.Err(); err != nil {
			return first, err
		}
		msg, err := a.bot.Send(chat, chunk, sendOptions(to, opt))
		if err != nil {
			return first, err
		}
		if i == 0 {
			first = ref(to, msg)
		}
	}
	return first, nil
}

func (a *Adapter) SendVideo(ctx context.Context, to kit.ChatTarget, url, caption string) (kit.MessageRef, error) {
	if err := ctx.Err(); err != nil {
		return kit.MessageRef{}, err
	}
	v := &tele.Video{File: tele.FromURL(url), Caption: tgui.Caption(caption)}
	msg, err := a.bot.Send(&tele.Chat{ID: to.ChatID}, v, sendOptions(to, nil))
	if err != nil {
		return kit.MessageRef{}, err
	}
	return ref(to, msg), nil
}

func (a *Adapter) SendAudio(ctx context.Context, to kit.ChatTarget, url, title string) (kit.MessageRef, error) {
	if err := ctx.Err(); err != nil {
		return kit.MessageRef{}, err
	}
	au := &tele.Audio{File: tele.FromURL(url), Title: title, FileName: title}
	msg, err := a.bot.Send(&tele.Chat{ID: to.ChatID}, au, sendOptions(to, nil))
	if err != nil {
		return kit.MessageRef{}, err
	}
	return ref(to, msg), nil
}

func (a *Adapter) CopyMessage(ctx context.Context, to kit.ChatTarget, from kit.MessageRef) (kit.MessageRef, error) {
	if err := ctx.Err(); err != nil {
		return kit.MessageRef{}, err
	}
	src := &tele.Message{ID: from.MessageID, Chat: &tele.Chat{ID: from.ChatID}}
	msg, err := a.bot.Copy(&tele.Chat{ID: to.ChatID}, src, sendOptions(to, nil))
	if err != nil {
		return kit.MessageRef{}, err
	}
	return ref(to, msg), nil
}

func (a *Adapter) DeleteMessage(ctx context.Context, r kit.MessageRef) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return a.bot.Delete(&tele.Message{ID: r.MessageID, Chat: &tele.Chat{ID: r.ChatID}})
}
