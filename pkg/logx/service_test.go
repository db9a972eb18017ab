package logx

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	kit "tokbot/internal/transport"
)

type recordingSender struct {
	mu    sync.Mutex
	texts []string
	to    []kit.ChatTarget
}

func (r *recordingSender) SendText(_ context.Context, to kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.texts = append(r.texts, text)
	r.to = append(r.to, to)
	return kit.MessageRef{}, nil
}

func (r *recordingSender) snapshot() ([]string, []kit.ChatTarget) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.texts...), append([]kit.ChatTarget(nil), r.to...)
}

func TestTelegramSinkHonorsMinLevel(t *testing.T) {
	snd := &recordingSender{}
	svc, log := New(Config{
		Level:    "debug",
		Telegram: TelegramConfig{Enabled: true, ThreadID: 7, MinLevel: "warn", RatePerSec: 100},
	}, nil)
	defer svc.Close()
	svc.SetSender(snd)
	svc.SetTelegramTarget(-100123, 0)

	log.Info("quiet")
	log.Warn("broadcast finished with failures", Int("failed", 2))

	deadline := time.Now().Add(2 * time.Second)
	for {
		texts, to := snd.snapshot()
		if len(texts) > 0 {
			if len(texts) != 1 {
				t.Fatalf("got %d telegram lines, want 1: %q", len(texts), texts)
			}
			if !strings.HasPrefix(texts[0], "[WARN] broadcast finished with failures") {
				t.Fatalf("unexpected line %q", texts[0])
			}
			if !strings.Contains(texts[0], "failed=2") {
				t.Fatalf("fields missing from %q", texts[0])
			}
			if to[0] != (kit.ChatTarget{ChatID: -100123, ThreadID: 7}) {
				t.Fatalf("target = %+v", to[0])
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("no telegram line delivered")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestTelegramSinkWithoutTargetDrops(t *testing.T) {
	snd := &recordingSender{}
	svc, log := New(Config{Telegram: TelegramConfig{Enabled: true, MinLevel: "info"}}, snd)
	defer svc.Close()

	log.Error("nobody listens")
	time.Sleep(20 * time.Millisecond)
	if texts, _ := snd.snapshot(); len(texts) != 0 {
		t.Fatalf("expected no delivery without a target, got %q", texts)
	}
}

func TestWriterLoggerLevels(t *testing.T) {
	var buf bytes.Buffer
	log := NewWriter(&buf, "warn").With(String("comp", "test"))
	log.Info("hidden")
	log.Warn("shown")
	out := buf.String()
	if strings.Contains(out, "hidden") || !strings.Contains(out, "shown") {
		t.Fatalf("level filtering broken: %q", out)
	}
	if !strings.Contains(out, "comp=test") && !strings.Contains(out, `"comp":"test"`) {
		t.Fatalf("field missing: %q", out)
	}
}

func TestFormatTelegramJSONFallsBackToRaw(t *testing.T) {
	if got := formatTelegramJSON([]byte("not json\n")); got != "not json" {
		t.Fatalf("got %q", got)
	}
}
