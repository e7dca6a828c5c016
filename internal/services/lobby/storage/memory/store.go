// Package memory provides an in-memory session store.
//
// Each session has its own entry lock, so mutation is linearizable per code
// without a global lock: unrelated sessions never contend. The top-level
// map lock is held only for lookup, insertion, and purge.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/codeclash/arena/internal/services/lobby/domain/roomcode"
	"github.com/codeclash/arena/internal/services/lobby/domain/session"
	"github.com/codeclash/arena/internal/services/lobby/storage"
)

// defaultRetention is how long a terminal session keeps its code reserved.
const defaultRetention = 5 * time.Minute

// maxCodeAttempts caps fresh draws before giving up on code allocation.
const maxCodeAttempts = 8

// Option configures a Store.
type Option func(*Store)

// WithClock injects a clock, primarily for tests.
func WithClock(clock func() time.Time) Option {
	return func(s *Store) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithGenerator injects a room code generator, primarily for tests.
func WithGenerator(generate func() (string, error)) Option {
	return func(s *Store) {
		if generate != nil {
			s.generate = generate
		}
	}
}

// WithRetention overrides the terminal-code retention window.
func WithRetention(retention time.Duration) Option {
	return func(s *Store) {
		if retention > 0 {
			s.retention = retention
		}
	}
}

// Store is an in-memory SessionStore.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*entry

	generate  func() (string, error)
	clock     func() time.Time
	retention time.Duration
}

type entry struct {
	mu         sync.Mutex
	s          session.Session
	terminalAt time.Time
}

// New constructs an empty in-memory store.
func New(opts ...Option) *Store {
	s := &Store{
		sessions:  make(map[string]*entry),
		generate:  roomcode.Generate,
		clock:     time.Now,
		retention: defaultRetention,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// expireLocked applies lazy expiry. Caller holds e.mu.
func (st *Store) expireLocked(e *entry, now time.Time) {
	if e.s.State.Joinable() && !now.Before(e.s.ExpiresAt) {
		e.s.State = session.StateExpired
		e.s.UpdatedAt = now
		e.terminalAt = now
	}
}

// reservedLocked reports whether an entry still reserves its code.
// Caller holds e.mu.
func (st *Store) reservedLocked(e *entry, now time.Time) bool {
	st.expireLocked(e, now)
	if e.s.State.Live() {
		return true
	}
	return now.Before(e.terminalAt.Add(st.retention))
}

// allocate draws codes until one is not reserved, then stores s under it.
func (st *Store) allocate(s session.Session) (session.Session, error) {
	now := st.clock().UTC()
	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		code, err := st.generate()
		if err != nil {
			return session.Session{}, err
		}

		st.mu.Lock()
		existing, ok := st.sessions[code]
		if ok {
			existing.mu.Lock()
			reserved := st.reservedLocked(existing, now)
			existing.mu.Unlock()
			if reserved {
				st.mu.Unlock()
				continue
			}
		}
		s.Code = code
		st.sessions[code] = &entry{s: s.Clone()}
		st.mu.Unlock()
		return s.Clone(), nil
	}
	return session.Session{}, storage.ErrCodeSpaceExhausted
}

// CreateSession implements storage.SessionStore.
func (st *Store) CreateSession(ctx context.Context, difficulty session.Difficulty, creatorID string, ttl time.Duration) (session.Session, error) {
	now := st.clock().UTC()
	return st.allocate(session.Session{
		Difficulty:   difficulty,
		CreatorID:    creatorID,
		Participants: []string{creatorID},
		State:        session.StateCreated,
		CreatedAt:    now,
		ExpiresAt:    now.Add(ttl),
		UpdatedAt:    now,
	})
}

// CreateMatchedSession implements storage.SessionStore.
func (st *Store) CreateMatchedSession(ctx context.Context, difficulty session.Difficulty, identityA, identityB string, ttl time.Duration) (session.Session, error) {
	now := st.clock().UTC()
	return st.allocate(session.Session{
		Difficulty:   difficulty,
		CreatorID:    identityA,
		Participants: []string{identityA, identityB},
		State:        session.StateMatched,
		CreatedAt:    now,
		ExpiresAt:    now.Add(ttl),
		UpdatedAt:    now,
	})
}

func (st *Store) lookup(code string) (*entry, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	e, ok := st.sessions[code]
	return e, ok
}

// GetSession implements storage.SessionStore.
func (st *Store) GetSession(ctx context.Context, code string) (session.Session, error) {
	e, ok := st.lookup(code)
	if !ok {
		return session.Session{}, storage.ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	st.expireLocked(e, st.clock().UTC())
	return e.s.Clone(), nil
}

// TransitionSession implements storage.SessionStore.
func (st *Store) TransitionSession(ctx context.Context, code string, expected, next session.State) (session.Session, error) {
	if !expected.CanTransition(next) {
		return session.Session{}, storage.ErrConflict
	}
	e, ok := st.lookup(code)
	if !ok {
		return session.Session{}, storage.ErrNotFound
	}

	now := st.clock().UTC()
	e.mu.Lock()
	defer e.mu.Unlock()
	st.expireLocked(e, now)
	if e.s.State != expected {
		return session.Session{}, storage.ErrConflict
	}
	e.s.State = next
	e.s.UpdatedAt = now
	if next.Terminal() {
		e.terminalAt = now
	}
	return e.s.Clone(), nil
}

// AddParticipant implements storage.SessionStore.
func (st *Store) AddParticipant(ctx context.Context, code string, identity string) (session.Session, error) {
	e, ok := st.lookup(code)
	if !ok {
		return session.Session{}, storage.ErrNotFound
	}

	now := st.clock().UTC()
	e.mu.Lock()
	defer e.mu.Unlock()
	st.expireLocked(e, now)

	switch {
	case e.s.State == session.StateMatched:
		return session.Session{}, storage.ErrAlreadyFull
	case !e.s.State.Joinable():
		return session.Session{}, storage.ErrNotFound
	case e.s.Full():
		return session.Session{}, storage.ErrAlreadyFull
	case e.s.HasParticipant(identity):
		return session.Session{}, storage.ErrConflict
	}

	e.s.Participants = append(e.s.Participants, identity)
	if e.s.Full() {
		e.s.State = session.StateMatched
	}
	e.s.UpdatedAt = now
	return e.s.Clone(), nil
}

// OpenSessionByCreator implements storage.SessionStore.
func (st *Store) OpenSessionByCreator(ctx context.Context, creatorID string) (session.Session, error) {
	st.mu.RLock()
	entries := make([]*entry, 0, len(st.sessions))
	for _, e := range st.sessions {
		entries = append(entries, e)
	}
	st.mu.RUnlock()

	now := st.clock().UTC()
	var newest session.Session
	var found bool
	for _, e := range entries {
		e.mu.Lock()
		st.expireLocked(e, now)
		if e.s.CreatorID == creatorID && e.s.State.Joinable() {
			if !found || e.s.CreatedAt.After(newest.CreatedAt) {
				newest = e.s.Clone()
				found = true
			}
		}
		e.mu.Unlock()
	}
	if !found {
		return session.Session{}, storage.ErrNotFound
	}
	return newest, nil
}

// SweepExpiredSessions implements storage.SessionStore.
func (st *Store) SweepExpiredSessions(ctx context.Context, now time.Time) (int, error) {
	now = now.UTC()

	st.mu.RLock()
	entries := make(map[string]*entry, len(st.sessions))
	for code, e := range st.sessions {
		entries[code] = e
	}
	st.mu.RUnlock()

	expired := 0
	var purge []string
	for code, e := range entries {
		e.mu.Lock()
		wasJoinable := e.s.State.Joinable()
		st.expireLocked(e, now)
		if wasJoinable && e.s.State == session.StateExpired {
			expired++
		}
		if e.s.State.Terminal() && !now.Before(e.terminalAt.Add(st.retention)) {
			purge = append(purge, code)
		}
		e.mu.Unlock()
	}

	if len(purge) > 0 {
		st.mu.Lock()
		for _, code := range purge {
			delete(st.sessions, code)
		}
		st.mu.Unlock()
	}
	return expired, nil
}

// Close implements storage.SessionStore.
func (st *Store) Close() error {
	return nil
}

var _ storage.SessionStore = (*Store)(nil)
