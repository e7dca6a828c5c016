package service

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/codeclash/arena/internal/services/lobby/domain/roomcode"
	"github.com/codeclash/arena/internal/services/lobby/domain/session"
	"github.com/codeclash/arena/internal/services/lobby/storage"
)

// cancelRetries bounds the CAS retry loop when cancel races other writers.
const cancelRetries = 3

// CreateRoom opens a private room for a creator, returning the room code.
//
// Calling it again before anyone joins returns the creator's existing open
// session rather than allocating a second code, so abandoned codes are not
// orphaned. The existing session keeps its original difficulty even when
// the repeat call asks for a different one; a caller who wants a fresh
// code or difficulty cancels the old room first.
func (s *Service) CreateRoom(ctx context.Context, difficultyLabel, creatorID string) (session.Session, error) {
	ctx, span := s.tracer.Start(ctx, "lobby.create_room")
	defer span.End()

	creatorID, err := session.NormalizeIdentity(creatorID)
	if err != nil {
		return session.Session{}, err
	}
	difficulty, err := session.ParseDifficulty(difficultyLabel)
	if err != nil {
		return session.Session{}, err
	}

	existing, err := s.store.OpenSessionByCreator(ctx, creatorID)
	if err == nil {
		if existing.Difficulty != difficulty {
			s.logger.Info("create room returned open session with different difficulty",
				zap.String("code", existing.Code),
				zap.String("requested", session.DifficultyLabel(difficulty)),
				zap.String("existing", session.DifficultyLabel(existing.Difficulty)),
			)
		}
		return existing, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return session.Session{}, err
	}

	created, err := s.store.CreateSession(ctx, difficulty, creatorID, s.cfg.SessionTTL)
	if err != nil {
		return session.Session{}, err
	}
	s.logger.Info("room created",
		zap.String("code", created.Code),
		zap.String("difficulty", session.DifficultyLabel(created.Difficulty)),
	)
	return created, nil
}

// ConfirmRoom is the creator's own entry into the room: it marks the
// session WAITING, the externally visible ready-to-be-joined state.
// Confirming an already WAITING room is an idempotent success.
func (s *Service) ConfirmRoom(ctx context.Context, rawCode, creatorID string) (session.Session, error) {
	ctx, span := s.tracer.Start(ctx, "lobby.confirm_room")
	defer span.End()

	creatorID, err := session.NormalizeIdentity(creatorID)
	if err != nil {
		return session.Session{}, err
	}
	code, err := s.resolveCode(rawCode)
	if err != nil {
		return session.Session{}, err
	}

	sess, err := s.store.GetSession(ctx, code)
	if err != nil {
		return session.Session{}, err
	}
	if sess.State.Terminal() {
		return session.Session{}, storage.ErrNotFound
	}
	if sess.CreatorID != creatorID {
		return session.Session{}, ErrNotCreator
	}
	if sess.State == session.StateWaiting {
		return sess, nil
	}
	if sess.State != session.StateCreated {
		return session.Session{}, storage.ErrConflict
	}
	return s.store.TransitionSession(ctx, code, session.StateCreated, session.StateWaiting)
}

// JoinRoom attaches a second participant to a live session by code.
//
// Input codes are case-insensitive; expiry surfaces as not-found to late
// joiners. Two simultaneous joiners are serialized by the store: exactly
// one returns the MATCHED session.
func (s *Service) JoinRoom(ctx context.Context, rawCode, joinerID string) (session.Session, error) {
	ctx, span := s.tracer.Start(ctx, "lobby.join_room")
	defer span.End()

	joinerID, err := session.NormalizeIdentity(joinerID)
	if err != nil {
		return session.Session{}, err
	}
	code, err := s.resolveCode(rawCode)
	if err != nil {
		return session.Session{}, err
	}

	sess, err := s.store.GetSession(ctx, code)
	if err != nil {
		return session.Session{}, err
	}
	if sess.State.Terminal() {
		return session.Session{}, storage.ErrNotFound
	}
	if sess.CreatorID == joinerID {
		return session.Session{}, ErrSelfJoin
	}

	matched, err := s.store.AddParticipant(ctx, code, joinerID)
	if err != nil {
		return session.Session{}, err
	}
	s.logger.Info("room matched",
		zap.String("code", matched.Code),
		zap.Strings("participants", matched.Participants),
	)
	return matched, nil
}

// CancelRoom moves a live session to CANCELLED. Cancelling an already
// terminal or absent session is an idempotent success.
func (s *Service) CancelRoom(ctx context.Context, rawCode string) error {
	ctx, span := s.tracer.Start(ctx, "lobby.cancel_room")
	defer span.End()

	code, err := s.resolveCode(rawCode)
	if err != nil {
		return err
	}

	for attempt := 0; attempt < cancelRetries; attempt++ {
		sess, err := s.store.GetSession(ctx, code)
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if sess.State.Terminal() {
			return nil
		}

		_, err = s.store.TransitionSession(ctx, code, sess.State, session.StateCancelled)
		if err == nil {
			s.logger.Info("room cancelled", zap.String("code", code))
			return nil
		}
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		if !errors.Is(err, storage.ErrConflict) {
			return err
		}
		// Another writer moved the state first; re-read and retry.
	}
	// A concurrent join/expire/cancel kept winning; the final read decides.
	sess, err := s.store.GetSession(ctx, code)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if sess.State.Terminal() {
		return nil
	}
	return storage.ErrConflict
}

// resolveCode normalizes and validates external room code input.
func (s *Service) resolveCode(rawCode string) (string, error) {
	code := roomcode.Normalize(rawCode)
	if err := roomcode.Validate(code); err != nil {
		return "", err
	}
	return code, nil
}
