package directory

import (
	"context"
	"sync"
	"time"
)

// Memory is an in-process Directory, used for tests and the "memory" driver.
type Memory struct {
	mu     sync.Mutex
	users  map[int64]*User
	order  []int64
	audit  []AuditEntry
	closed bool
}

func NewMemory() *Memory {
	return &Memory{users: map[int64]*User{}}
}

func (m *Memory) Record(_ context.Context, u User) error {
	now := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if cur, ok := m.users[u.ID]; ok {
		cur.Username = u.Username
		cur.LastSeen = now
		return nil
	}
	u.FirstSeen, u.LastSeen = now, now
	m.users[u.ID] = &u
	m.order = append(m.order, u.ID)
	return nil
}

func (m *Memory) List(context.Context) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	return append([]int64(nil), m.order...), nil
}

func (m *Memory) Count(context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, ErrClosed
	}
	return len(m.order), nil
}

func (m *Memory) AppendAudit(_ context.Context, e AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	m.audit = append(m.audit, e)
	return nil
}

func (m *Memory) RecentAudit(_ context.Context, limit int) ([]AuditEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	out := make([]AuditEntry, 0, len(m.audit))
	for i := len(m.audit) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		out = append(out, m.audit[i])
	}
	return out, nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}
