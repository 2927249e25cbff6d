package session

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/FACorreiaa/finance-import/internal/domain/import/model"
)

type entry struct {
	mu      sync.Mutex
	session *Session
}

// Store keeps sessions in memory. Do serializes all work on one session, which
// gives each wizard the single-writer guarantee it relies on.
type Store struct {
	mu       sync.RWMutex
	sessions map[uuid.UUID]*entry
	ttl      time.Duration
	now      func() time.Time
}

// NewStore creates a store whose idle sessions expire after ttl
func NewStore(ttl time.Duration) *Store {
	return &Store{
		sessions: make(map[uuid.UUID]*entry),
		ttl:      ttl,
		now:      time.Now,
	}
}

// Add registers a new session
func (st *Store) Add(s *Session) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.sessions[s.ID()] = &entry{session: s}
}

// Do runs fn with exclusive access to the session
func (st *Store) Do(id uuid.UUID, fn func(s *Session) error) error {
	st.mu.RLock()
	e, ok := st.sessions[id]
	st.mu.RUnlock()
	if !ok {
		return model.ErrSessionNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	// Deleted or purged while we waited
	st.mu.RLock()
	current, ok := st.sessions[id]
	st.mu.RUnlock()
	if !ok || current != e {
		return model.ErrSessionNotFound
	}
	return fn(e.session)
}

// Delete removes a session, cancelling any commit it has in flight
func (st *Store) Delete(id uuid.UUID) error {
	st.mu.Lock()
	e, ok := st.sessions[id]
	if ok {
		delete(st.sessions, id)
	}
	st.mu.Unlock()
	if !ok {
		return model.ErrSessionNotFound
	}

	e.mu.Lock()
	e.session.Reset()
	e.mu.Unlock()
	return nil
}

// Len returns the number of live sessions
func (st *Store) Len() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.sessions)
}

// PurgeExpired drops sessions idle for longer than the TTL. Sessions that are
// busy (locked) or committing are left alone. Returns how many were dropped.
func (st *Store) PurgeExpired() int {
	if st.ttl <= 0 {
		return 0
	}
	cutoff := st.now().Add(-st.ttl)

	st.mu.Lock()
	defer st.mu.Unlock()

	purged := 0
	for id, e := range st.sessions {
		if !e.mu.TryLock() {
			continue
		}
		if e.session.Step() != StepCommitting && e.session.UpdatedAt().Before(cutoff) {
			delete(st.sessions, id)
			purged++
		}
		e.mu.Unlock()
	}
	return purged
}
