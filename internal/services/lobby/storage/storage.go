// Package storage defines the session persistence contract for the lobby.
//
// The store is the single owner of session records and of all session state
// mutation. Every mutating operation is a per-key compare-and-swap so the
// lobby service never holds a lock across a caller round trip, and two
// racing writers on the same code are serialized with exactly one winner.
package storage

import (
	"context"
	"time"

	apperrors "github.com/codeclash/arena/internal/platform/errors"
	"github.com/codeclash/arena/internal/services/lobby/domain/session"
)

// ErrNotFound indicates no session record exists for a code. Late joiners
// of an expired session observe this rather than a dedicated expiry error.
var ErrNotFound = apperrors.New(apperrors.CodeSessionNotFound, "no live session for code")

// ErrAlreadyFull indicates the session already holds two participants.
var ErrAlreadyFull = apperrors.New(apperrors.CodeSessionAlreadyFull, "session already has two participants")

// ErrConflict indicates a compare-and-swap lost a race: the stored state
// no longer matches the expected state.
var ErrConflict = apperrors.New(apperrors.CodeSessionConflict, "session state changed concurrently")

// ErrCodeSpaceExhausted indicates the code allocation retry budget ran out.
// In practice this never triggers before the live-session count approaches
// the full 36^6 keyspace, but it must be handled for correctness.
var ErrCodeSpaceExhausted = apperrors.New(apperrors.CodeRoomCodeSpaceExhausted, "unable to allocate a unique room code")

// SessionStore owns session records keyed by room code.
//
// Code uniqueness covers live sessions plus terminal sessions still inside
// the retention window, so a just-expired code is never silently reissued
// mid-share.
type SessionStore interface {
	// CreateSession allocates a fresh unique code and stores a CREATED
	// session with the creator as participant 0, expiring after ttl.
	CreateSession(ctx context.Context, difficulty session.Difficulty, creatorID string, ttl time.Duration) (session.Session, error)

	// CreateMatchedSession materializes a quick-match pairing directly in
	// MATCHED state, skipping CREATED and WAITING.
	CreateMatchedSession(ctx context.Context, difficulty session.Difficulty, identityA, identityB string, ttl time.Duration) (session.Session, error)

	// GetSession returns the session for a code, applying lazy expiry:
	// a joinable session past its deadline is moved to EXPIRED first.
	GetSession(ctx context.Context, code string) (session.Session, error)

	// TransitionSession is a compare-and-swap state move. It fails with
	// ErrConflict when the stored state does not match expected or the
	// state machine forbids expected → next, and ErrNotFound when the
	// code has no record.
	TransitionSession(ctx context.Context, code string, expected, next session.State) (session.Session, error)

	// AddParticipant atomically appends identity and moves the session to
	// MATCHED on reaching capacity. Of two racing joiners exactly one
	// succeeds; the loser observes ErrAlreadyFull.
	AddParticipant(ctx context.Context, code string, identity string) (session.Session, error)

	// OpenSessionByCreator returns the creator's newest still-joinable
	// session, or ErrNotFound.
	OpenSessionByCreator(ctx context.Context, creatorID string) (session.Session, error)

	// SweepExpiredSessions moves joinable sessions past their deadline to
	// EXPIRED and purges terminal records older than the retention window,
	// releasing their codes. It returns the number of sessions expired.
	SweepExpiredSessions(ctx context.Context, now time.Time) (int, error)

	// Close releases store resources.
	Close() error
}
