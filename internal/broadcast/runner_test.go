package broadcast

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tokbot/internal/directory"
	"tokbot/internal/eventbus"
	"tokbot/internal/runtime/supervisor"
	"tokbot/internal/transport"
	logx "tokbot/pkg/logx"
)

type fakeSender struct {
	mu     sync.Mutex
	fail   map[int64]bool
	copies []transport.ChatTarget
	texts  []string
	from   []transport.MessageRef
}

func (f *fakeSender) SendText(_ context.Context, _ transport.ChatTarget, text string, _ *transport.SendOptions) (transport.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts = append(f.texts, text)
	return transport.MessageRef{}, nil
}

func (f *fakeSender) CopyMessage(_ context.Context, to transport.ChatTarget, from transport.MessageRef) (transport.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.copies = append(f.copies, to)
	f.from = append(f.from, from)
	if f.fail[to.ChatID] {
		return transport.MessageRef{}, errors.New("forbidden: bot was blocked by the user")
	}
	return transport.MessageRef{ChatID: to.ChatID, MessageID: 1}, nil
}

func (f *fakeSender) Texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.texts...)
}

type failingList struct{ directory.Directory }

func (failingList) List(context.Context) ([]int64, error) { return nil, errors.New("disk on fire") }

func seed(t *testing.T, ids ...int64) *directory.Memory {
	t.Helper()
	d := directory.NewMemory()
	for _, id := range ids {
		require.NoError(t, d.Record(context.Background(), directory.User{ID: id}))
	}
	return d
}

var source = transport.MessageRef{ChatID: 111, MessageID: 42}

func request() Request {
	return Request{ActorID: 111, ReplyTo: transport.ChatTarget{ChatID: 111}, Source: source}
}

func TestRunThreeUsersOneFailure(t *testing.T) {
	t.Parallel()
	dir := seed(t, 1, 2, 3)
	snd := &fakeSender{fail: map[int64]bool{2: true}}
	r := New(Config{}, Deps{Directory: dir, Sender: snd, Log: logx.Nop()})

	sum, err := r.Run(context.Background(), request())
	require.NoError(t, err)
	assert.Equal(t, 3, sum.Total)
	assert.Equal(t, 2, sum.Sent)
	assert.Equal(t, 1, sum.Failed)

	assert.Equal(t, []transport.ChatTarget{{ChatID: 1}, {ChatID: 2}, {ChatID: 3}}, snd.copies, "sequential, in directory order")
	for _, f := range snd.from {
		assert.Equal(t, source, f)
	}

	texts := snd.Texts()
	require.Len(t, texts, 2)
	assert.Equal(t, "Broadcast started\nTotal users: 3", texts[0])
	assert.Contains(t, texts[1], "Total users: 3")
	assert.Contains(t, texts[1], "Sent: 2")
	assert.Contains(t, texts[1], "Not sent: 1")
	assert.Contains(t, texts[1], "Elapsed: 0 seconds")

	audit, err := dir.RecentAudit(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, audit, 1)
	assert.Equal(t, directory.AuditEntry{
		At: audit[0].At, ActorID: 111, Action: "broadcast", Target: sum.ID,
		Total: 3, OK: 2, Fail: 1, TookMS: audit[0].TookMS,
	}, audit[0])
}

func TestRunCountsMatchFailures(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name  string
		users int
		fail  []int64
	}{
		{"no users", 0, nil},
		{"all delivered", 5, nil},
		{"some failed", 10, []int64{2, 5, 9}},
		{"all failed", 3, []int64{1, 2, 3}},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			ids := make([]int64, tc.users)
			for i := range ids {
				ids[i] = int64(i + 1)
			}
			snd := &fakeSender{fail: map[int64]bool{}}
			for _, id := range tc.fail {
				snd.fail[id] = true
			}
			r := New(Config{}, Deps{Directory: seed(t, ids...), Sender: snd})

			sum, err := r.Run(context.Background(), request())
			require.NoError(t, err)
			assert.Equal(t, tc.users, sum.Total)
			assert.Equal(t, tc.users-len(tc.fail), sum.Sent)
			assert.Equal(t, len(tc.fail), sum.Failed)
			assert.Equal(t, sum.Total, sum.Sent+sum.Failed)
		})
	}
}

func TestRunListFailureRepliesAndStops(t *testing.T) {
	t.Parallel()
	snd := &fakeSender{}
	r := New(Config{}, Deps{Directory: failingList{directory.NewMemory()}, Sender: snd})

	_, err := r.Run(context.Background(), request())
	require.Error(t, err)
	assert.Equal(t, []string{listFailedText}, snd.Texts())
	assert.Empty(t, snd.copies)
}

func TestRunStopsOnCancel(t *testing.T) {
	t.Parallel()
	snd := &fakeSender{}
	r := New(Config{Delay: time.Hour}, Deps{Directory: seed(t, 1, 2, 3), Sender: snd})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan Summary, 1)
	go func() {
		sum, _ := r.Run(ctx, request())
		done <- sum
	}()

	require.Eventually(t, func() bool {
		snd.mu.Lock()
		defer snd.mu.Unlock()
		return len(snd.copies) == 1
	}, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case sum := <-done:
		assert.Equal(t, 3, sum.Total)
		assert.Equal(t, 1, sum.Sent)
		assert.Equal(t, 2, sum.Failed)
	case <-time.After(2 * time.Second):
		t.Fatal("run did not stop after cancel")
	}
}

func TestLaunchRunsInBackgroundAndTracksStatus(t *testing.T) {
	t.Parallel()
	sup := supervisor.New(context.Background())
	bus := eventbus.New()
	events, unsub := bus.Subscribe(4)
	defer unsub()

	snd := &fakeSender{fail: map[int64]bool{}}
	r := New(Config{Delay: time.Millisecond}, Deps{Directory: seed(t, 1, 2), Sender: snd, Supervisor: sup, Bus: bus})

	id := r.Launch(request())
	require.NotEmpty(t, id)

	st, ok := r.Status(id)
	require.True(t, ok, "status exists as soon as Launch returns")
	assert.Equal(t, id, st.ID)

	require.Eventually(t, func() bool {
		st, _ := r.Status(id)
		return !st.Running
	}, 2*time.Second, 5*time.Millisecond)

	st, _ = r.Status(id)
	assert.Equal(t, 2, st.Total)
	assert.Equal(t, 2, st.Sent)
	assert.Equal(t, 0, st.Failed)
	assert.Empty(t, st.Err)

	var types []string
	for len(types) < 2 {
		select {
		case ev := <-events:
			types = append(types, ev.Type)
		case <-time.After(time.Second):
			t.Fatalf("missing events, got %v", types)
		}
	}
	assert.Equal(t, []string{eventbus.BroadcastStarted, eventbus.BroadcastFinished}, types)

	require.NoError(t, sup.Stop(context.Background()))
	recent := r.Recent(5)
	require.Len(t, recent, 1)
	assert.Contains(t, StatusText(recent), id)
}

type panickingSender struct{ fakeSender }

func (p *panickingSender) CopyMessage(context.Context, transport.ChatTarget, transport.MessageRef) (transport.MessageRef, error) {
	panic("copy exploded")
}

func TestLaunchPanicFailsJobNotSupervisor(t *testing.T) {
	t.Parallel()
	sup := supervisor.New(context.Background(), supervisor.WithCancelOnError(true))
	defer func() { _ = sup.Stop(context.Background()) }()

	r := New(Config{}, Deps{Directory: seed(t, 1, 2), Sender: &panickingSender{}, Supervisor: sup})
	id := r.Launch(request())

	require.Eventually(t, func() bool {
		st, _ := r.Status(id)
		return !st.Running
	}, 2*time.Second, 5*time.Millisecond)

	st, _ := r.Status(id)
	assert.Contains(t, st.Err, "copy exploded")
	assert.NoError(t, sup.Context().Err(), "app supervisor must stay alive")
	assert.NoError(t, sup.Err())
	assert.Contains(t, StatusText(r.Recent(1)), "failed")
}

func TestPruneStatusBoundsMemory(t *testing.T) {
	t.Parallel()
	r := New(Config{}, Deps{})
	r.statusMax = 3
	now := time.Now()
	for i := 0; i < 5; i++ {
		id := string(rune('a' + i))
		r.status[id] = &JobStatus{ID: id, DoneAt: now.Add(time.Duration(i) * time.Second)}
	}
	r.status["old"] = &JobStatus{ID: "old", DoneAt: now.Add(-48 * time.Hour)}
	r.status["live"] = &JobStatus{ID: "live", Running: true}

	r.pruneStatus(now.Add(10 * time.Second))

	_, hasOld := r.status["old"]
	_, hasLive := r.status["live"]
	assert.False(t, hasOld, "expired by ttl")
	assert.True(t, hasLive, "running jobs are kept")
	assert.Less(t, len(r.status), 3)
}

func TestHistoryTextOnlyListsBroadcasts(t *testing.T) {
	t.Parallel()
	assert.Empty(t, HistoryText(nil))
	assert.Empty(t, HistoryText([]directory.AuditEntry{{Action: "report"}}))

	at := time.Date(2026, 3, 1, 9, 30, 0, 0, time.Local)
	got := HistoryText([]directory.AuditEntry{
		{At: at, ActorID: 111, Action: "broadcast", Total: 5, OK: 4, Fail: 1, TookMS: 59_600},
		{Action: "report"},
	})
	assert.Equal(t, "History:\n2026-03-01 09:30 by 111: total 5, sent 4, not sent 1, 1m0s", got)
}

func TestSummaryText(t *testing.T) {
	t.Parallel()
	got := SummaryText(Summary{Total: 3, Sent: 2, Failed: 1, Elapsed: 2500 * time.Millisecond})
	assert.Equal(t, "✅ Broadcast finished\n👥 Total users: 3\n👍 Sent: 2\n👎 Not sent: 1\n🕐 Elapsed: 2 seconds", got)
}
