package directory

import (
	"context"
	"errors"
	"time"
)

var ErrClosed = errors.New("directory closed")

// User is everyone who has ever talked to the bot. Users are never deleted.
type User struct {
	ID        int64
	Username  string // may be empty
	FirstSeen time.Time
	LastSeen  time.Time
}

// Directory is the persistent set of known users.
type Directory interface {
	// Record inserts the user on first contact and refreshes the username afterwards.
	Record(ctx context.Context, u User) error
	// List returns every known user id in first-contact order.
	List(ctx context.Context) ([]int64, error)
	Count(ctx context.Context) (int, error)
	Close() error
}

// Auditor is implemented by backends that can keep an operator audit trail.
type Auditor interface {
	AppendAudit(ctx context.Context, e AuditEntry) error
}

// AuditReader is implemented by backends that can read the audit trail back.
type AuditReader interface {
	// RecentAudit returns up to limit entries, newest first.
	RecentAudit(ctx context.Context, limit int) ([]AuditEntry, error)
}

// AuditEntry records an operator action such as a finished broadcast.
type AuditEntry struct {
	At            time.Time `json:"at"`
	ActorID       int64     `json:"actor_id"`
	ActorUsername string    `json:"actor_username,omitempty"`
	Action        string    `json:"action"`
	Target        string    `json:"target,omitempty"`
	Total         int       `json:"total"`
	OK            int       `json:"ok"`
	Fail          int       `json:"fail"`
	TookMS        int64     `json:"took_ms"`
	Error         string    `json:"error,omitempty"`
}

// Config configures the directory.
//
// Driver values:
//   - "sqlite": SQLite database file (default)
//   - "file":   JSON Lines journal + snapshot next to Path
//   - "memory": process lifetime only
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}
