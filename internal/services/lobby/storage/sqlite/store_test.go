package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/codeclash/arena/internal/services/lobby/domain/session"
	"github.com/codeclash/arena/internal/services/lobby/storage"
)

const testTTL = 10 * time.Minute

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func openTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "lobby.db"), opts...)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestOpenRequiresPath(t *testing.T) {
	if _, err := Open("  "); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestCreateAndGetSessionRoundTrip(t *testing.T) {
	clock := newFakeClock()
	store := openTestStore(t, WithClock(clock.Now))
	ctx := context.Background()

	created, err := store.CreateSession(ctx, session.DifficultyMedium, "u1", testTTL)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	got, err := store.GetSession(ctx, created.Code)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if got.State != session.StateCreated {
		t.Fatalf("expected CREATED, got %s", session.StateLabel(got.State))
	}
	if got.Difficulty != session.DifficultyMedium {
		t.Fatalf("expected Medium, got %s", session.DifficultyLabel(got.Difficulty))
	}
	if len(got.Participants) != 1 || got.Participants[0] != "u1" {
		t.Fatalf("expected [u1], got %v", got.Participants)
	}
	if !got.ExpiresAt.Equal(clock.Now().Add(testTTL)) {
		t.Fatalf("expected expiry at now+ttl, got %s", got.ExpiresAt)
	}
}

func TestSessionSurvivesReopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "lobby.db")
	store, err := Open(dbPath)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	created, err := store.CreateSession(context.Background(), session.DifficultyEasy, "u1", testTTL)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close store: %v", err)
	}

	reopened, err := Open(dbPath)
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}
	defer reopened.Close()

	got, err := reopened.GetSession(context.Background(), created.Code)
	if err != nil {
		t.Fatalf("get session after reopen: %v", err)
	}
	if got.Code != created.Code {
		t.Fatalf("expected %q, got %q", created.Code, got.Code)
	}
}

func TestCreateSessionCollisionRetry(t *testing.T) {
	codes := []string{"AAAAAA", "AAAAAA", "BBBBBB"}
	i := 0
	gen := func() (string, error) {
		code := codes[i%len(codes)]
		i++
		return code, nil
	}
	store := openTestStore(t, WithGenerator(gen))
	ctx := context.Background()

	if _, err := store.CreateSession(ctx, session.DifficultyEasy, "u1", testTTL); err != nil {
		t.Fatalf("create first: %v", err)
	}
	second, err := store.CreateSession(ctx, session.DifficultyEasy, "u2", testTTL)
	if err != nil {
		t.Fatalf("create second: %v", err)
	}
	if second.Code != "BBBBBB" {
		t.Fatalf("expected retry to draw BBBBBB, got %q", second.Code)
	}
}

func TestCreateSessionCodeSpaceExhausted(t *testing.T) {
	gen := func() (string, error) { return "AAAAAA", nil }
	store := openTestStore(t, WithGenerator(gen))
	ctx := context.Background()

	if _, err := store.CreateSession(ctx, session.DifficultyEasy, "u1", testTTL); err != nil {
		t.Fatalf("create first: %v", err)
	}
	if _, err := store.CreateSession(ctx, session.DifficultyEasy, "u2", testTTL); !errors.Is(err, storage.ErrCodeSpaceExhausted) {
		t.Fatalf("expected ErrCodeSpaceExhausted, got %v", err)
	}
}

func TestGetSessionNotFound(t *testing.T) {
	store := openTestStore(t)
	if _, err := store.GetSession(context.Background(), "ZZZZZZ"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestGetSessionLazyExpiry(t *testing.T) {
	clock := newFakeClock()
	store := openTestStore(t, WithClock(clock.Now))
	ctx := context.Background()

	created, err := store.CreateSession(ctx, session.DifficultyEasy, "u1", testTTL)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	clock.Advance(testTTL + time.Second)

	got, err := store.GetSession(ctx, created.Code)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if got.State != session.StateExpired {
		t.Fatalf("expected EXPIRED, got %s", session.StateLabel(got.State))
	}
}

func TestTransitionSessionCAS(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	created, err := store.CreateSession(ctx, session.DifficultyEasy, "u1", testTTL)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	got, err := store.TransitionSession(ctx, created.Code, session.StateCreated, session.StateWaiting)
	if err != nil {
		t.Fatalf("transition: %v", err)
	}
	if got.State != session.StateWaiting {
		t.Fatalf("expected WAITING, got %s", session.StateLabel(got.State))
	}

	if _, err := store.TransitionSession(ctx, created.Code, session.StateCreated, session.StateWaiting); !errors.Is(err, storage.ErrConflict) {
		t.Fatalf("expected ErrConflict for stale expected state, got %v", err)
	}
	if _, err := store.TransitionSession(ctx, "ZZZZZZ", session.StateCreated, session.StateCancelled); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestAddParticipantMatchesAndRejects(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	created, err := store.CreateSession(ctx, session.DifficultyEasy, "u1", testTTL)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	matched, err := store.AddParticipant(ctx, created.Code, "u2")
	if err != nil {
		t.Fatalf("add participant: %v", err)
	}
	if matched.State != session.StateMatched {
		t.Fatalf("expected MATCHED, got %s", session.StateLabel(matched.State))
	}
	if len(matched.Participants) != 2 || matched.Participants[1] != "u2" {
		t.Fatalf("expected [u1 u2], got %v", matched.Participants)
	}

	if _, err := store.AddParticipant(ctx, created.Code, "u3"); !errors.Is(err, storage.ErrAlreadyFull) {
		t.Fatalf("expected ErrAlreadyFull, got %v", err)
	}
	if _, err := store.AddParticipant(ctx, "ZZZZZZ", "u3"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestAddParticipantCreatorIdentityConflicts(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	created, err := store.CreateSession(ctx, session.DifficultyEasy, "u1", testTTL)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if _, err := store.AddParticipant(ctx, created.Code, "u1"); !errors.Is(err, storage.ErrConflict) {
		t.Fatalf("expected ErrConflict for duplicate identity, got %v", err)
	}
}

func TestConcurrentJoinersExactlyOneWins(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	created, err := store.CreateSession(ctx, session.DifficultyEasy, "creator", testTTL)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	var wg sync.WaitGroup
	results := make(chan error, 2)
	for _, joiner := range []string{"j1", "j2"} {
		wg.Add(1)
		go func(joiner string) {
			defer wg.Done()
			_, err := store.AddParticipant(ctx, created.Code, joiner)
			results <- err
		}(joiner)
	}
	wg.Wait()
	close(results)

	var wins, fulls int
	for err := range results {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, storage.ErrAlreadyFull):
			fulls++
		default:
			t.Fatalf("unexpected join error: %v", err)
		}
	}
	if wins != 1 || fulls != 1 {
		t.Fatalf("expected exactly one winner, got %d wins %d fulls", wins, fulls)
	}
}

func TestOpenSessionByCreator(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	if _, err := store.OpenSessionByCreator(ctx, "u1"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	created, err := store.CreateSession(ctx, session.DifficultyEasy, "u1", testTTL)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	got, err := store.OpenSessionByCreator(ctx, "u1")
	if err != nil {
		t.Fatalf("open session by creator: %v", err)
	}
	if got.Code != created.Code {
		t.Fatalf("expected %q, got %q", created.Code, got.Code)
	}
}

func TestSweepExpiredSessionsAndRetention(t *testing.T) {
	clock := newFakeClock()
	retention := 2 * time.Minute
	gen := func() (string, error) { return "AAAAAA", nil }
	store := openTestStore(t, WithClock(clock.Now), WithGenerator(gen), WithRetention(retention))
	ctx := context.Background()

	if _, err := store.CreateSession(ctx, session.DifficultyEasy, "u1", testTTL); err != nil {
		t.Fatalf("create session: %v", err)
	}

	clock.Advance(testTTL + time.Second)
	expired, err := store.SweepExpiredSessions(ctx, clock.Now())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if expired != 1 {
		t.Fatalf("expected 1 expired, got %d", expired)
	}

	// Code reserved during retention.
	if _, err := store.CreateSession(ctx, session.DifficultyEasy, "u2", testTTL); !errors.Is(err, storage.ErrCodeSpaceExhausted) {
		t.Fatalf("expected code reserved during retention, got %v", err)
	}

	// Freed after retention without an explicit sweep: allocation releases it.
	clock.Advance(retention + time.Second)
	reused, err := store.CreateSession(ctx, session.DifficultyEasy, "u2", testTTL)
	if err != nil {
		t.Fatalf("expected code released after retention, got %v", err)
	}
	if reused.Code != "AAAAAA" {
		t.Fatalf("expected recycled code, got %q", reused.Code)
	}
}

func TestCreateMatchedSessionSkipsWaiting(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	s, err := store.CreateMatchedSession(ctx, session.DifficultyHard, "a", "b", testTTL)
	if err != nil {
		t.Fatalf("create matched session: %v", err)
	}
	if s.State != session.StateMatched {
		t.Fatalf("expected MATCHED, got %s", session.StateLabel(s.State))
	}

	got, err := store.GetSession(ctx, s.Code)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if len(got.Participants) != 2 {
		t.Fatalf("expected both participants persisted, got %v", got.Participants)
	}
}
