package supervisor

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func waitDone(t *testing.T, s *Supervisor) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := s.Wait(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		t.Fatal("supervisor goroutines did not finish")
	}
	return err
}

func TestGoRestartRecoversFromErrorAndPanic(t *testing.T) {
	t.Parallel()
	s := New(context.Background(), WithCancelOnError(true))

	var calls atomic.Int32
	s.GoRestart("worker", func(context.Context) error {
		switch calls.Add(1) {
		case 1:
			return errors.New("transient")
		case 2:
			panic("boom")
		default:
			return nil
		}
	}, WithRestartBackoff(time.Millisecond, 2*time.Millisecond))

	if err := waitDone(t, s); err != nil {
		t.Fatalf("Wait() = %v, want nil", err)
	}
	if got := calls.Load(); got != 3 {
		t.Fatalf("calls = %d, want 3", got)
	}
	if s.Context().Err() != nil {
		t.Fatal("restarted failures must not cancel the supervisor")
	}
}

func TestGoRestartStopsOnNilReturn(t *testing.T) {
	t.Parallel()
	s := New(context.Background())

	var calls atomic.Int32
	s.GoRestart("once", func(context.Context) error {
		calls.Add(1)
		return nil
	}, WithRestartBackoff(time.Millisecond, time.Millisecond))

	if err := waitDone(t, s); err != nil {
		t.Fatalf("Wait() = %v", err)
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("calls = %d, want 1", got)
	}
}

func TestGoRestartStopsOnCancel(t *testing.T) {
	t.Parallel()
	s := New(context.Background())

	var calls atomic.Int32
	s.GoRestart("failing", func(context.Context) error {
		calls.Add(1)
		return errors.New("always")
	}, WithRestartBackoff(time.Hour, time.Hour))

	deadline := time.Now().Add(time.Second)
	for calls.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	s.Cancel()
	if err := waitDone(t, s); err != nil {
		t.Fatalf("Wait() = %v", err)
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("calls = %d, want 1 (backoff interrupted by cancel)", got)
	}
}

func TestCancelOnError(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name       string
		cancelOn   bool
		wantCancel bool
	}{
		{"enabled", true, true},
		{"disabled", false, false},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			boom := errors.New("boom")
			s := New(context.Background(), WithCancelOnError(tc.cancelOn))
			s.Go("job", func(context.Context) error { return boom })

			if tc.wantCancel {
				select {
				case <-s.Context().Done():
				case <-time.After(time.Second):
					t.Fatal("context not cancelled after error")
				}
			}
			if err := waitDone(t, s); !errors.Is(err, boom) {
				t.Fatalf("Wait() = %v, want %v", err, boom)
			}
			if !tc.wantCancel && s.Context().Err() != nil {
				t.Fatal("context cancelled with cancel-on-error disabled")
			}
			s.Cancel()
		})
	}
}

func TestGoCapturesPanicAndIgnoresCanceled(t *testing.T) {
	t.Parallel()
	s := New(context.Background())
	s.Go("quiet", func(context.Context) error { return context.Canceled })
	if err := waitDone(t, s); err != nil {
		t.Fatalf("context.Canceled recorded as failure: %v", err)
	}

	s = New(context.Background())
	s.Go0("loud", func(context.Context) { panic("kaboom") })
	err := waitDone(t, s)
	if err == nil || !strings.Contains(err.Error(), "panic in loud") {
		t.Fatalf("Wait() = %v, want panic error", err)
	}
}

func TestWaitHonoursContext(t *testing.T) {
	t.Parallel()
	s := New(context.Background())
	s.Go0("blocker", func(ctx context.Context) { <-ctx.Done() })

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := s.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Wait() = %v, want deadline exceeded", err)
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), time.Second)
	defer stopCancel()
	if err := s.Stop(stopCtx); err != nil {
		t.Fatalf("Stop() = %v", err)
	}
}

func TestCounters(t *testing.T) {
	t.Parallel()
	s := New(context.Background())
	release := make(chan struct{})
	for i := 0; i < 3; i++ {
		s.Go0("held", func(context.Context) { <-release })
	}
	if c := s.Counters(); c.Started != 3 || c.Active != 3 {
		t.Fatalf("counters while running = %+v", c)
	}
	close(release)
	_ = waitDone(t, s)
	if c := s.Counters(); c.Started != 3 || c.Active != 0 {
		t.Fatalf("counters after exit = %+v", c)
	}
}
