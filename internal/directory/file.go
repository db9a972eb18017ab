package directory

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	logx "tokbot/pkg/logx"
)

const fileCompactEvery = 1000

// fileStore keeps users in memory and persists them as:
//   - <prefix>.users.snapshot.json (users in first-contact order)
//   - <prefix>.users.journal.jsonl (append-only changes since the snapshot)
//   - <prefix>.audit.jsonl         (append-only audit trail)
//
// The journal is folded into the snapshot every fileCompactEvery writes and on Close.
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	snapshotPath string
	journal      *os.File
	auditFile    *os.File

	users  map[int64]*fileUser
	order  []int64
	writes int
}

type fileUser struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username,omitempty"`
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
}

func openFile(cfg Config, log logx.Logger) (*fileStore, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("directory.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	prefix := filepath.Join(dir, base)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	s := &fileStore{
		log:          log,
		snapshotPath: prefix + ".users.snapshot.json",
		users:        map[int64]*fileUser{},
	}
	if err := s.loadSnapshot(); err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	journalPath := prefix + ".users.journal.jsonl"
	if err := s.replayJournal(journalPath); err != nil {
		return nil, fmt.Errorf("replay journal: %w", err)
	}

	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}
	af, err := os.OpenFile(prefix+".audit.jsonl", os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		_ = jf.Close()
		return nil, err
	}
	s.journal, s.auditFile = jf, af
	return s, nil
}

func (s *fileStore) loadSnapshot() error {
	b, err := os.ReadFile(s.snapshotPath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	var list []fileUser
	if err := json.Unmarshal(b, &list); err != nil {
		return err
	}
	for i := range list {
		s.apply(list[i])
	}
	return nil
}

func (s *fileStore) replayJournal(path string) error {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var u fileUser
		// A torn last line after a crash is skipped.
		if err := json.Unmarshal(sc.Bytes(), &u); err != nil || u.ID == 0 {
			continue
		}
		s.apply(u)
	}
	return sc.Err()
}

// apply merges a persisted record; first_seen of an existing user is kept.
func (s *fileStore) apply(u fileUser) {
	if cur, ok := s.users[u.ID]; ok {
		cur.Username = u.Username
		cur.LastSeen = u.LastSeen
		return
	}
	cp := u
	s.users[u.ID] = &cp
	s.order = append(s.order, u.ID)
}

func (s *fileStore) Record(_ context.Context, u User) error {
	now := time.Now().UTC()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return ErrClosed
	}

	cur, ok := s.users[u.ID]
	if ok && cur.Username == u.Username {
		// unchanged username: last_seen reaches disk with the next snapshot only.
		cur.LastSeen = now
		return nil
	}
	rec := fileUser{ID: u.ID, Username: u.Username, FirstSeen: now, LastSeen: now}
	if ok {
		rec.FirstSeen = cur.FirstSeen
	}
	if err := json.NewEncoder(s.journal).Encode(rec); err != nil {
		return err
	}
	s.apply(rec)

	s.writes++
	if s.writes%fileCompactEvery == 0 {
		if err := s.compactLocked(); err != nil {
			s.log.Debug("directory compact failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) List(context.Context) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return nil, ErrClosed
	}
	return append([]int64(nil), s.order...), nil
}

func (s *fileStore) Count(context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return 0, ErrClosed
	}
	return len(s.order), nil
}

func (s *fileStore) AppendAudit(_ context.Context, e AuditEntry) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.auditFile == nil {
		return ErrClosed
	}
	return json.NewEncoder(s.auditFile).Encode(e)
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return nil
	}
	err := s.compactLocked()
	if cerr := s.journal.Close(); err == nil {
		err = cerr
	}
	if cerr := s.auditFile.Close(); err == nil {
		err = cerr
	}
	s.journal, s.auditFile = nil, nil
	return err
}

// compactLocked writes the snapshot atomically and truncates the journal.
func (s *fileStore) compactLocked() error {
	list := make([]fileUser, 0, len(s.order))
	for _, id := range s.order {
		list = append(list, *s.users[id])
	}

	tmp := s.snapshotPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(list); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.snapshotPath); err != nil {
		return err
	}
	if err := s.journal.Truncate(0); err != nil {
		return err
	}
	_, err = s.journal.Seek(0, io.SeekEnd)
	return err
}
