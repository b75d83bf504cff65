package gitsync

import (
	"strings"
	"sync"
	"time"
)

// DefaultHistoryLimit is the number of status records kept per repository.
const DefaultHistoryLimit = 100

// State is the sync state of a repository.
type State string

const (
	StateIdle    State = "IDLE"
	StateSyncing State = "SYNCING"
	StateSuccess State = "SUCCESS"
	StateFailed  State = "FAILED"
)

// Operation names the git operation a status record belongs to.
type Operation string

const (
	OpClone      Operation = "clone"
	OpPull       Operation = "pull"
	OpCommitPush Operation = "commit-push"
)

// Status is one sync status record of a repository.
type Status struct {
	Alias     string    `json:"repoAlias"`
	Operation Operation `json:"operation,omitempty"`
	State     State     `json:"state"`
	Time      time.Time `json:"lastSyncTime"`
	LastError string    `json:"lastError,omitempty"`
}

// StatusStore keeps the current sync status and a bounded history per
// repository alias. Aliases are compared case-insensitively.
type StatusStore struct {
	mtx     sync.RWMutex
	limit   int
	now     func() time.Time
	current map[string]Status
	history map[string][]Status
}

// NewStatusStore returns a store that keeps at most limit records per
// alias. A non-positive limit selects DefaultHistoryLimit.
func NewStatusStore(limit int) *StatusStore {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return &StatusStore{
		limit:   limit,
		now:     time.Now,
		current: make(map[string]Status),
		history: make(map[string][]Status),
	}
}

// Update records st as the current status of its alias. A zero Time is set
// to the current time.
func (s *StatusStore) Update(st Status) {
	key := strings.ToLower(st.Alias)

	s.mtx.Lock()
	defer s.mtx.Unlock()

	if st.Time.IsZero() {
		st.Time = s.now()
	}
	s.current[key] = st

	h := append(s.history[key], st)
	if len(h) > s.limit {
		h = h[len(h)-s.limit:]
	}
	s.history[key] = h
}

// Current returns the latest status of alias, or an idle status if nothing
// was recorded.
func (s *StatusStore) Current(alias string) Status {
	s.mtx.RLock()
	defer s.mtx.RUnlock()

	if st, ok := s.current[strings.ToLower(alias)]; ok {
		return st
	}
	return Status{Alias: alias, State: StateIdle, Time: s.now()}
}

// History returns the records of alias with from <= Time <= to, oldest
// first. A zero bound is open.
func (s *StatusStore) History(alias string, from, to time.Time) []Status {
	s.mtx.RLock()
	defer s.mtx.RUnlock()

	out := []Status{}
	for _, st := range s.history[strings.ToLower(alias)] {
		if !from.IsZero() && st.Time.Before(from) {
			continue
		}
		if !to.IsZero() && st.Time.After(to) {
			continue
		}
		out = append(out, st)
	}
	return out
}
