package broadcast

import (
	"sort"
	"time"
)

const (
	defaultStatusMax = 200
	defaultStatusTTL = 24 * time.Hour
)

func (r *Runner) register(req Request) {
	now := time.Now()
	r.pruneStatus(now)
	r.statusMu.Lock()
	defer r.statusMu.Unlock()
	if _, ok := r.status[req.ID]; ok {
		return
	}
	r.status[req.ID] = &JobStatus{ID: req.ID, ActorID: req.ActorID, StartedAt: now, Running: true}
}

func (r *Runner) setTotal(id string, n int) {
	r.statusMu.Lock()
	defer r.statusMu.Unlock()
	if st := r.status[id]; st != nil {
		st.Total = n
	}
}

func (r *Runner) track(id string, o Outcome) {
	r.statusMu.Lock()
	defer r.statusMu.Unlock()
	st := r.status[id]
	if st == nil {
		return
	}
	st.Attempted++
	if o.Delivered() {
		st.Sent++
	} else {
		st.Failed++
	}
}

func (r *Runner) finish(id string, err error) {
	r.statusMu.Lock()
	defer r.statusMu.Unlock()
	st := r.status[id]
	if st == nil {
		return
	}
	st.Running = false
	st.DoneAt = time.Now()
	st.Failed = st.Total - st.Sent
	if err != nil {
		st.Err = err.Error()
	}
}

// Status returns a copy of one job's status.
func (r *Runner) Status(id string) (JobStatus, bool) {
	r.statusMu.RLock()
	defer r.statusMu.RUnlock()
	st, ok := r.status[id]
	if !ok {
		return JobStatus{}, false
	}
	return *st, true
}

// Recent returns up to n job statuses, newest first.
func (r *Runner) Recent(n int) []JobStatus {
	r.statusMu.RLock()
	out := make([]JobStatus, 0, len(r.status))
	for _, st := range r.status {
		out = append(out, *st)
	}
	r.statusMu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

// pruneStatus drops finished jobs older than the TTL, then the oldest ones while
// the map is over capacity. Running jobs are never dropped.
func (r *Runner) pruneStatus(now time.Time) {
	r.statusMu.Lock()
	defer r.statusMu.Unlock()

	max := r.statusMax
	if max <= 0 {
		max = defaultStatusMax
	}
	ttl := r.statusTTL
	if ttl <= 0 {
		ttl = defaultStatusTTL
	}

	for id, st := range r.status {
		if !st.Running && now.Sub(st.DoneAt) > ttl {
			delete(r.status, id)
		}
	}
	if len(r.status) < max {
		return
	}

	done := make([]*JobStatus, 0, len(r.status))
	for _, st := range r.status {
		if !st.Running {
			done = append(done, st)
		}
	}
	sort.Slice(done, func(i, j int) bool { return done[i].DoneAt.Before(done[j].DoneAt) })
	for i := 0; len(r.status) >= max && i < len(done); i++ {
		delete(r.status, done[i].ID)
	}
}
