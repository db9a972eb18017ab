package sdnotify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu     sync.Mutex
	states []string
}

func (r *recorder) notify(state string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, state)
	return true, nil
}

func (r *recorder) count(state string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, s := range r.states {
		if s == state {
			n++
		}
	}
	return n
}

func TestDisabledIsNoop(t *testing.T) {
	t.Parallel()
	rec := &recorder{}
	n := &Notifier{enabled: false, notify: rec.notify}
	sent, err := n.Ready()
	require.NoError(t, err)
	assert.False(t, sent)
	assert.Empty(t, rec.states)

	var nilN *Notifier
	_, err = nilN.Stopping()
	assert.NoError(t, err)
}

func TestStateMessages(t *testing.T) {
	t.Parallel()
	rec := &recorder{}
	n := &Notifier{enabled: true, notify: rec.notify}

	_, _ = n.Ready()
	_, _ = n.Reloading()
	_, _ = n.Ready()
	_, _ = n.Status("serving")
	_, _ = n.Stopping()
	assert.Equal(t, []string{"READY=1", "RELOADING=1", "READY=1", "STATUS=serving", "STOPPING=1"}, rec.states)
}

func TestNotifyErrorIsWrapped(t *testing.T) {
	t.Parallel()
	boom := errors.New("socket gone")
	n := &Notifier{enabled: true, notify: func(string) (bool, error) { return false, boom }}
	_, err := n.Ready()
	assert.ErrorIs(t, err, boom)
}

func TestWatchdogPingsUntilCancelled(t *testing.T) {
	t.Parallel()
	rec := &recorder{}
	n := &Notifier{
		enabled:  true,
		notify:   rec.notify,
		watchdog: func() (time.Duration, error) { return 20 * time.Millisecond, nil },
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- n.Watchdog(ctx) }()

	require.Eventually(t, func() bool { return rec.count("WATCHDOG=1") >= 2 }, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
}

func TestWatchdogDisabledReturnsImmediately(t *testing.T) {
	t.Parallel()
	n := &Notifier{enabled: true, notify: (&recorder{}).notify, watchdog: func() (time.Duration, error) { return 0, nil }}
	assert.NoError(t, n.Watchdog(context.Background()))
}
