// Package service implements the public lobby operations on top of the
// session store and matchmaking queue.
//
// The service never holds its own lock across a store call for session
// state: all races between joiners, cancellation, and expiry are decided
// by the store's per-key compare-and-swap primitives.
package service

import (
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	apperrors "github.com/codeclash/arena/internal/platform/errors"
	"github.com/codeclash/arena/internal/services/lobby/domain/matchmaking"
	"github.com/codeclash/arena/internal/services/lobby/domain/session"
	"github.com/codeclash/arena/internal/services/lobby/storage"
)

const tracerName = "github.com/codeclash/arena/internal/services/lobby/service"

// defaultSessionTTL bounds how long an unmatched room stays joinable.
const defaultSessionTTL = 10 * time.Minute

// defaultResultRetention bounds how long a delivered pairing result stays
// pollable after both tickets are discarded.
const defaultResultRetention = 5 * time.Minute

var (
	// ErrSelfJoin indicates a creator tried the join path on their own room.
	ErrSelfJoin = apperrors.New(apperrors.CodeSelfJoin, "creator must use the confirm path, not join")
	// ErrNotCreator indicates a confirm attempt by someone other than the creator.
	ErrNotCreator = apperrors.New(apperrors.CodeSessionConflict, "only the creator may confirm a room")
	// ErrTicketNotFound indicates no queued or recently paired ticket.
	ErrTicketNotFound = apperrors.New(apperrors.CodeTicketNotFound, "no such matchmaking ticket")
)

// Config tunes lobby policy knobs.
type Config struct {
	// SessionTTL is how long an unmatched session stays joinable.
	SessionTTL time.Duration
	// TicketTTL bounds how long an idle quick-match ticket stays queued.
	// Zero disables ticket expiry; the queue-abandonment policy is
	// deliberately configurable rather than fixed.
	TicketTTL time.Duration
	// ResultRetention is how long a pairing result stays pollable.
	ResultRetention time.Duration
}

func (c Config) withDefaults() Config {
	if c.SessionTTL <= 0 {
		c.SessionTTL = defaultSessionTTL
	}
	if c.ResultRetention <= 0 {
		c.ResultRetention = defaultResultRetention
	}
	return c
}

// Service exposes the lobby operations.
type Service struct {
	store  storage.SessionStore
	queue  *matchmaking.Queue
	cfg    Config
	clock  func() time.Time
	logger *zap.Logger
	tracer trace.Tracer

	// mu guards the quick-match waiter and result maps only; session
	// state is owned by the store.
	mu      sync.Mutex
	waiters map[string]chan PairResult
	paired  map[string]pairedResult
}

type pairedResult struct {
	sess     session.Session
	pairedAt time.Time
}

// PairResult is delivered to a quick-match waiter once its ticket pairs.
type PairResult struct {
	Session session.Session
	Err     error
}

// Option configures a Service.
type Option func(*Service)

// WithClock injects a clock, primarily for tests.
func WithClock(clock func() time.Time) Option {
	return func(s *Service) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithLogger injects a structured logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New constructs a lobby service over the given session store.
func New(store storage.SessionStore, cfg Config, opts ...Option) *Service {
	s := &Service{
		store:   store,
		cfg:     cfg.withDefaults(),
		clock:   time.Now,
		logger:  zap.NewNop(),
		tracer:  otel.Tracer(tracerName),
		waiters: make(map[string]chan PairResult),
		paired:  make(map[string]pairedResult),
	}
	for _, opt := range opts {
		opt(s)
	}
	// The queue shares the service clock so ticket ages follow it.
	s.queue = matchmaking.NewQueueWithClock(s.clock)
	return s
}
