package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/codeclash/arena/internal/services/lobby/domain/matchmaking"
	"github.com/codeclash/arena/internal/services/lobby/domain/session"
)

// QuickMatchHandle is the pending side of a quick-match request.
//
// Paired delivers exactly one PairResult and is then closed; a handle
// whose ticket is cancelled or swept observes the channel closing. The
// channel has a single consumer: either the in-process caller or a
// transport-level watcher, not both.
type QuickMatchHandle struct {
	TicketID string
	Paired   <-chan PairResult
}

// TicketState describes where a quick-match ticket is in its lifecycle.
type TicketState int

const (
	// TicketStateUnspecified represents an invalid ticket state value.
	TicketStateUnspecified TicketState = iota
	// TicketStateQueued indicates the ticket is waiting for a peer.
	TicketStateQueued
	// TicketStateMatched indicates the ticket paired into a session.
	TicketStateMatched
)

// TicketStateLabel returns the string label for a ticket state.
func TicketStateLabel(s TicketState) string {
	switch s {
	case TicketStateQueued:
		return "QUEUED"
	case TicketStateMatched:
		return "MATCHED"
	default:
		return "UNSPECIFIED"
	}
}

// TicketStatus is the poll-based view of a quick-match ticket.
type TicketStatus struct {
	TicketID string
	State    TicketState
	Session  *session.Session // set when State is MATCHED
}

// QuickMatch enqueues identity for pairing at the given difficulty.
//
// Pairing is strict arrival order per difficulty bucket. When a peer is
// already waiting the session is materialized immediately — directly in
// MATCHED state, skipping CREATED and WAITING — and the result is already
// buffered on the handle's channel. Otherwise the ticket stays queued
// until paired, cancelled, or swept by the configured ticket TTL.
//
// An identity already queued for the same difficulty gets its existing
// handle back rather than a second ticket.
func (s *Service) QuickMatch(ctx context.Context, difficultyLabel, identity string) (QuickMatchHandle, error) {
	ctx, span := s.tracer.Start(ctx, "lobby.quick_match")
	defer span.End()

	identity, err := session.NormalizeIdentity(identity)
	if err != nil {
		return QuickMatchHandle{}, err
	}
	difficulty, err := session.ParseDifficulty(difficultyLabel)
	if err != nil {
		return QuickMatchHandle{}, err
	}

	ticket := s.queue.Enqueue(identity, difficulty)

	s.mu.Lock()
	ch, ok := s.waiters[ticket.ID]
	if !ok {
		ch = make(chan PairResult, 1)
		if p, hit := s.paired[ticket.ID]; hit {
			// A concurrent caller's TryPair consumed the ticket between
			// enqueue and registration; deliver the recorded result so
			// the handle still resolves.
			ch <- PairResult{Session: p.sess.Clone()}
			close(ch)
		} else {
			s.waiters[ticket.ID] = ch
		}
	}
	s.mu.Unlock()

	s.logger.Info("quick-match ticket queued",
		zap.String("ticket", ticket.ID),
		zap.String("difficulty", session.DifficultyLabel(difficulty)),
	)

	if a, b, paired := s.queue.TryPair(difficulty); paired {
		s.materialize(ctx, difficulty, a, b)
	}

	return QuickMatchHandle{TicketID: ticket.ID, Paired: ch}, nil
}

// materialize turns a ticket pairing into a MATCHED session and delivers
// the result to both waiters. Both tickets are already removed from the
// queue and are discarded here regardless of the outcome.
func (s *Service) materialize(ctx context.Context, difficulty session.Difficulty, a, b matchmaking.Ticket) {
	sess, err := s.store.CreateMatchedSession(ctx, difficulty, a.Identity, b.Identity, s.cfg.SessionTTL)
	if err != nil {
		s.logger.Error("quick-match materialize failed", zap.Error(err))
	} else {
		s.logger.Info("quick-match paired",
			zap.String("code", sess.Code),
			zap.Strings("participants", sess.Participants),
		)
	}

	now := s.clock().UTC()
	for _, ticket := range []matchmaking.Ticket{a, b} {
		s.mu.Lock()
		ch := s.waiters[ticket.ID]
		delete(s.waiters, ticket.ID)
		if err == nil {
			s.paired[ticket.ID] = pairedResult{sess: sess, pairedAt: now}
		}
		s.mu.Unlock()

		if ch != nil {
			ch <- PairResult{Session: sess, Err: err}
			close(ch)
		}
	}
}

// PollTicket reports a ticket's current state: queued, matched with its
// session, or not found once cancelled or swept.
func (s *Service) PollTicket(ctx context.Context, ticketID string) (TicketStatus, error) {
	_, span := s.tracer.Start(ctx, "lobby.poll_ticket")
	defer span.End()

	s.mu.Lock()
	if p, ok := s.paired[ticketID]; ok {
		s.mu.Unlock()
		sess := p.sess.Clone()
		return TicketStatus{TicketID: ticketID, State: TicketStateMatched, Session: &sess}, nil
	}
	s.mu.Unlock()

	if _, ok := s.queue.Lookup(ticketID); ok {
		return TicketStatus{TicketID: ticketID, State: TicketStateQueued}, nil
	}
	return TicketStatus{}, ErrTicketNotFound
}

// WatchTicket returns the delivery channel for a ticket. A ticket that
// already paired gets a closed single-result channel.
func (s *Service) WatchTicket(ctx context.Context, ticketID string) (<-chan PairResult, error) {
	_, span := s.tracer.Start(ctx, "lobby.watch_ticket")
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	if p, ok := s.paired[ticketID]; ok {
		ch := make(chan PairResult, 1)
		ch <- PairResult{Session: p.sess.Clone()}
		close(ch)
		return ch, nil
	}
	if ch, ok := s.waiters[ticketID]; ok {
		return ch, nil
	}
	return nil, ErrTicketNotFound
}

// CancelTicket removes a still-queued ticket. Cancelling a paired or
// absent ticket is an idempotent no-op.
func (s *Service) CancelTicket(ctx context.Context, ticketID string) error {
	_, span := s.tracer.Start(ctx, "lobby.cancel_ticket")
	defer span.End()

	if s.queue.Cancel(ticketID) {
		s.mu.Lock()
		ch := s.waiters[ticketID]
		delete(s.waiters, ticketID)
		s.mu.Unlock()
		if ch != nil {
			close(ch)
		}
		s.logger.Info("quick-match ticket cancelled", zap.String("ticket", ticketID))
	}
	return nil
}

// Sweep advances time-driven state: it expires overdue sessions, drops
// stale tickets when a ticket TTL is configured, and forgets pairing
// results past the result retention window.
func (s *Service) Sweep(ctx context.Context) error {
	ctx, span := s.tracer.Start(ctx, "lobby.sweep")
	defer span.End()

	now := s.clock().UTC()
	expired, err := s.store.SweepExpiredSessions(ctx, now)
	if err != nil {
		return err
	}
	if expired > 0 {
		s.logger.Info("sessions expired", zap.Int("count", expired))
	}

	for _, ticket := range s.queue.SweepStale(now, s.cfg.TicketTTL) {
		s.mu.Lock()
		ch := s.waiters[ticket.ID]
		delete(s.waiters, ticket.ID)
		s.mu.Unlock()
		if ch != nil {
			ch <- PairResult{Err: ErrTicketNotFound}
			close(ch)
		}
		s.logger.Info("quick-match ticket swept", zap.String("ticket", ticket.ID))
	}

	s.mu.Lock()
	for ticketID, p := range s.paired {
		if !now.Before(p.pairedAt.Add(s.cfg.ResultRetention)) {
			delete(s.paired, ticketID)
		}
	}
	s.mu.Unlock()
	return nil
}
