package report

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tokbot/internal/transport"
	logx "tokbot/pkg/logx"
)

type fixedCount struct {
	n   int
	err error
}

func (c fixedCount) Count(context.Context) (int, error) { return c.n, c.err }

type recorder struct {
	mu   sync.Mutex
	sent map[int64]string
	fail map[int64]bool
}

func (r *recorder) SendText(_ context.Context, to transport.ChatTarget, text string, _ *transport.SendOptions) (transport.MessageRef, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail[to.ChatID] {
		return transport.MessageRef{}, errors.New("chat not found")
	}
	if r.sent == nil {
		r.sent = map[int64]string{}
	}
	r.sent[to.ChatID] = text
	return transport.MessageRef{ChatID: to.ChatID}, nil
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sent)
}

func TestRunOnceSendsEveryAdmin(t *testing.T) {
	t.Parallel()
	rec := &recorder{fail: map[int64]bool{2: true}}
	s := New(Config{Admins: []int64{1, 2, 3}}, fixedCount{n: 17}, rec, logx.Nop())
	s.now = func() time.Time { return time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC) }

	require.NoError(t, s.RunOnce(context.Background()))
	assert.Equal(t, map[int64]string{
		1: "📊 Report for 2024-05-01 09:00\nKnown users: 17",
		3: "📊 Report for 2024-05-01 09:00\nKnown users: 17",
	}, rec.sent)
}

func TestRunOnceCountFailure(t *testing.T) {
	t.Parallel()
	rec := &recorder{}
	s := New(Config{Admins: []int64{1}}, fixedCount{err: errors.New("db locked")}, rec, logx.Nop())
	assert.Error(t, s.RunOnce(context.Background()))
	assert.Zero(t, rec.count())
}

func TestScheduleFiresAndApplyDisables(t *testing.T) {
	t.Parallel()
	rec := &recorder{}
	s := New(Config{Schedule: "@every 1s", Admins: []int64{9}}, fixedCount{n: 1}, rec, logx.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, s.Start(ctx))
	defer s.Stop()
	require.Eventually(t, func() bool { return rec.count() >= 1 }, 3*time.Second, 20*time.Millisecond)

	require.NoError(t, s.Apply(Config{Admins: []int64{9}}))
	s.mu.Lock()
	assert.Nil(t, s.c, "empty schedule stops the cron")
	s.mu.Unlock()
}

func TestApplyRejectsBadSchedule(t *testing.T) {
	t.Parallel()
	s := New(Config{}, fixedCount{}, &recorder{}, logx.Nop())
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()
	assert.Error(t, s.Apply(Config{Schedule: "not a cron"}))
}
