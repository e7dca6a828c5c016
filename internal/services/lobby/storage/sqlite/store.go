// Package sqlite provides a SQLite-backed session store.
//
// Compare-and-swap semantics are implemented as conditional UPDATEs with
// affected-row checks, so concurrent writers on the same code serialize in
// the database and exactly one wins each race.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/codeclash/arena/internal/platform/storage/sqlitemigrate"
	"github.com/codeclash/arena/internal/services/lobby/domain/roomcode"
	"github.com/codeclash/arena/internal/services/lobby/domain/session"
	"github.com/codeclash/arena/internal/services/lobby/storage"
	"github.com/codeclash/arena/internal/services/lobby/storage/sqlite/migrations"
)

// defaultRetention is how long a terminal session keeps its code reserved.
const defaultRetention = 5 * time.Minute

// maxCodeAttempts caps fresh draws before giving up on code allocation.
const maxCodeAttempts = 8

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

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

// Store is a SQLite-backed SessionStore.
type Store struct {
	sqlDB *sql.DB

	generate  func() (string, error)
	clock     func() time.Time
	retention time.Duration
}

// Open opens a SQLite session store at the provided path and applies
// embedded migrations before handing the store to higher layers.
func Open(path string, opts ...Option) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	if err := sqlitemigrate.ApplyMigrations(sqlDB, migrations.SessionsFS, "sessions"); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	store := &Store{
		sqlDB:     sqlDB,
		generate:  roomcode.Generate,
		clock:     time.Now,
		retention: defaultRetention,
	}
	for _, opt := range opts {
		opt(store)
	}
	return store, nil
}

// Close closes the underlying SQLite database.
//
// Close is intentionally nil-safe so callers can defer it in all startup paths.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

const sessionColumns = "code, difficulty, creator_id, participant_a, participant_b, state, created_at, expires_at, updated_at"

func scanSession(row interface{ Scan(...any) error }) (session.Session, error) {
	var (
		out                    session.Session
		difficulty, state      string
		partA, partB           string
		created, expires, updd int64
	)
	if err := row.Scan(&out.Code, &difficulty, &out.CreatorID, &partA, &partB, &state, &created, &expires, &updd); err != nil {
		return session.Session{}, err
	}
	out.Difficulty = session.DifficultyFromLabel(difficulty)
	out.State = session.StateFromLabel(state)
	out.CreatedAt = fromMillis(created)
	out.ExpiresAt = fromMillis(expires)
	out.UpdatedAt = fromMillis(updd)
	if partA != "" {
		out.Participants = append(out.Participants, partA)
	}
	if partB != "" {
		out.Participants = append(out.Participants, partB)
	}
	return out, nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}

// releaseRetainedCode deletes a terminal record for code once its retention
// window has passed, freeing the code for reuse.
func (s *Store) releaseRetainedCode(ctx context.Context, code string, now time.Time) error {
	_, err := s.sqlDB.ExecContext(ctx, `
DELETE FROM sessions
WHERE code = ? AND state IN ('EXPIRED', 'CANCELLED')
  AND terminal_at IS NOT NULL AND terminal_at + ? <= ?`,
		code, s.retention.Milliseconds(), toMillis(now))
	if err != nil {
		return fmt.Errorf("release retained code: %w", err)
	}
	return nil
}

// expireLazily moves a joinable session past its deadline to EXPIRED.
func (s *Store) expireLazily(ctx context.Context, code string, now time.Time) error {
	_, err := s.sqlDB.ExecContext(ctx, `
UPDATE sessions SET state = 'EXPIRED', updated_at = ?, terminal_at = ?
WHERE code = ? AND state IN ('CREATED', 'WAITING') AND expires_at <= ?`,
		toMillis(now), toMillis(now), code, toMillis(now))
	if err != nil {
		return fmt.Errorf("lazy expire: %w", err)
	}
	return nil
}

func (s *Store) insert(ctx context.Context, sess session.Session) error {
	partA, partB := "", ""
	if len(sess.Participants) > 0 {
		partA = sess.Participants[0]
	}
	if len(sess.Participants) > 1 {
		partB = sess.Participants[1]
	}
	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO sessions (code, difficulty, creator_id, participant_a, participant_b, state, created_at, expires_at, updated_at, terminal_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, NULL)`,
		sess.Code,
		session.DifficultyLabel(sess.Difficulty),
		sess.CreatorID,
		partA,
		partB,
		session.StateLabel(sess.State),
		toMillis(sess.CreatedAt),
		toMillis(sess.ExpiresAt),
		toMillis(sess.UpdatedAt),
	)
	return err
}

func (s *Store) allocate(ctx context.Context, sess session.Session) (session.Session, error) {
	now := s.clock().UTC()
	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		code, err := s.generate()
		if err != nil {
			return session.Session{}, err
		}
		sess.Code = code

		if err := s.releaseRetainedCode(ctx, code, now); err != nil {
			return session.Session{}, err
		}
		if err := s.insert(ctx, sess); err != nil {
			if isUniqueViolation(err) {
				continue
			}
			return session.Session{}, fmt.Errorf("insert session: %w", err)
		}
		return sess.Clone(), nil
	}
	return session.Session{}, storage.ErrCodeSpaceExhausted
}

// CreateSession implements storage.SessionStore.
func (s *Store) CreateSession(ctx context.Context, difficulty session.Difficulty, creatorID string, ttl time.Duration) (session.Session, error) {
	now := s.clock().UTC()
	return s.allocate(ctx, session.Session{
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
func (s *Store) CreateMatchedSession(ctx context.Context, difficulty session.Difficulty, identityA, identityB string, ttl time.Duration) (session.Session, error) {
	now := s.clock().UTC()
	return s.allocate(ctx, session.Session{
		Difficulty:   difficulty,
		CreatorID:    identityA,
		Participants: []string{identityA, identityB},
		State:        session.StateMatched,
		CreatedAt:    now,
		ExpiresAt:    now.Add(ttl),
		UpdatedAt:    now,
	})
}

// GetSession implements storage.SessionStore.
func (s *Store) GetSession(ctx context.Context, code string) (session.Session, error) {
	now := s.clock().UTC()
	if err := s.expireLazily(ctx, code, now); err != nil {
		return session.Session{}, err
	}

	row := s.sqlDB.QueryRowContext(ctx, "SELECT "+sessionColumns+" FROM sessions WHERE code = ?", code)
	sess, err := scanSession(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return session.Session{}, storage.ErrNotFound
		}
		return session.Session{}, fmt.Errorf("select session: %w", err)
	}
	return sess, nil
}

// TransitionSession implements storage.SessionStore.
func (s *Store) TransitionSession(ctx context.Context, code string, expected, next session.State) (session.Session, error) {
	if !expected.CanTransition(next) {
		return session.Session{}, storage.ErrConflict
	}

	now := s.clock().UTC()
	if err := s.expireLazily(ctx, code, now); err != nil {
		return session.Session{}, err
	}

	var res sql.Result
	var err error
	if next.Terminal() {
		res, err = s.sqlDB.ExecContext(ctx, `
UPDATE sessions SET state = ?, updated_at = ?, terminal_at = ?
WHERE code = ? AND state = ?`,
			session.StateLabel(next), toMillis(now), toMillis(now), code, session.StateLabel(expected))
	} else {
		res, err = s.sqlDB.ExecContext(ctx, `
UPDATE sessions SET state = ?, updated_at = ?
WHERE code = ? AND state = ?`,
			session.StateLabel(next), toMillis(now), code, session.StateLabel(expected))
	}
	if err != nil {
		return session.Session{}, fmt.Errorf("transition session: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return session.Session{}, fmt.Errorf("transition rows affected: %w", err)
	}
	if affected == 0 {
		if _, getErr := s.GetSession(ctx, code); getErr != nil {
			return session.Session{}, getErr
		}
		return session.Session{}, storage.ErrConflict
	}
	return s.GetSession(ctx, code)
}

// AddParticipant implements storage.SessionStore.
func (s *Store) AddParticipant(ctx context.Context, code string, identity string) (session.Session, error) {
	now := s.clock().UTC()
	if err := s.expireLazily(ctx, code, now); err != nil {
		return session.Session{}, err
	}

	res, err := s.sqlDB.ExecContext(ctx, `
UPDATE sessions SET participant_b = ?, state = 'MATCHED', updated_at = ?
WHERE code = ? AND state IN ('CREATED', 'WAITING') AND participant_b = '' AND participant_a <> ?`,
		identity, toMillis(now), code, identity)
	if err != nil {
		return session.Session{}, fmt.Errorf("add participant: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return session.Session{}, fmt.Errorf("add participant rows affected: %w", err)
	}
	if affected == 1 {
		return s.GetSession(ctx, code)
	}

	// The CAS lost; diagnose why from the stored row.
	sess, err := s.GetSession(ctx, code)
	if err != nil {
		return session.Session{}, err
	}
	switch {
	case sess.State == session.StateMatched || sess.Full():
		return session.Session{}, storage.ErrAlreadyFull
	case sess.State.Terminal():
		return session.Session{}, storage.ErrNotFound
	case sess.HasParticipant(identity):
		return session.Session{}, storage.ErrConflict
	default:
		return session.Session{}, storage.ErrConflict
	}
}

// OpenSessionByCreator implements storage.SessionStore.
func (s *Store) OpenSessionByCreator(ctx context.Context, creatorID string) (session.Session, error) {
	now := s.clock().UTC()
	row := s.sqlDB.QueryRowContext(ctx, `
SELECT `+sessionColumns+` FROM sessions
WHERE creator_id = ? AND state IN ('CREATED', 'WAITING') AND expires_at > ?
ORDER BY created_at DESC LIMIT 1`,
		creatorID, toMillis(now))
	sess, err := scanSession(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return session.Session{}, storage.ErrNotFound
		}
		return session.Session{}, fmt.Errorf("select open session: %w", err)
	}
	return sess, nil
}

// SweepExpiredSessions implements storage.SessionStore.
func (s *Store) SweepExpiredSessions(ctx context.Context, now time.Time) (int, error) {
	now = now.UTC()

	res, err := s.sqlDB.ExecContext(ctx, `
UPDATE sessions SET state = 'EXPIRED', updated_at = ?, terminal_at = ?
WHERE state IN ('CREATED', 'WAITING') AND expires_at <= ?`,
		toMillis(now), toMillis(now), toMillis(now))
	if err != nil {
		return 0, fmt.Errorf("sweep expire: %w", err)
	}
	expired, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sweep rows affected: %w", err)
	}

	if _, err := s.sqlDB.ExecContext(ctx, `
DELETE FROM sessions
WHERE state IN ('EXPIRED', 'CANCELLED')
  AND terminal_at IS NOT NULL AND terminal_at + ? <= ?`,
		s.retention.Milliseconds(), toMillis(now)); err != nil {
		return 0, fmt.Errorf("sweep purge: %w", err)
	}
	return int(expired), nil
}

var _ storage.SessionStore = (*Store)(nil)
