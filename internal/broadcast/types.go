package broadcast

import (
	"context"
	"time"

	"tokbot/internal/transport"
)

type Config struct {
	// Delay is the pause after every delivery attempt. 0 disables it.
	Delay time.Duration
}

// Sender is the part of the chat adapter a broadcast needs.
type Sender interface {
	SendText(ctx context.Context, to transport.ChatTarget, text string, opt *transport.SendOptions) (transport.MessageRef, error)
	CopyMessage(ctx context.Context, to transport.ChatTarget, from transport.MessageRef) (transport.MessageRef, error)
}

// Request describes one broadcast: copy Source to every known user and report
// progress to ReplyTo.
type Request struct {
	ID            string // assigned by Launch/Run when empty
	ActorID       int64
	ActorUsername string
	ReplyTo       transport.ChatTarget
	Source        transport.MessageRef
}

// Outcome is the result of one delivery attempt.
type Outcome struct {
	UserID int64
	Err    error
}

func (o Outcome) Delivered() bool { return o.Err == nil }

// Summary aggregates outcomes. Failed is always Total - Sent.
type Summary struct {
	ID      string
	Total   int
	Sent    int
	Failed  int
	Elapsed time.Duration
}

// Summarize folds outcomes into counts.
func Summarize(id string, outcomes []Outcome, elapsed time.Duration) Summary {
	s := Summary{ID: id, Total: len(outcomes), Elapsed: elapsed}
	for _, o := range outcomes {
		if o.Delivered() {
			s.Sent++
		}
	}
	s.Failed = s.Total - s.Sent
	return s
}

// JobStatus is the live view of a broadcast, readable while it runs.
type JobStatus struct {
	ID        string
	ActorID   int64
	Total     int
	Attempted int
	Sent      int
	Failed    int
	StartedAt time.Time
	DoneAt    time.Time
	Running   bool
	Err       string
}
