// Package app wires the lobby service, its session store, and the HTTP
// surface into a runnable server.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/codeclash/arena/internal/platform/timeouts"
	"github.com/codeclash/arena/internal/services/lobby/service"
	"github.com/codeclash/arena/internal/services/lobby/storage"
	"github.com/codeclash/arena/internal/services/lobby/storage/memory"
	"github.com/codeclash/arena/internal/services/lobby/storage/sqlite"
)

// Server hosts the lobby over HTTP with a background expiry sweeper.
type Server struct {
	cfg        Config
	svc        *service.Service
	store      storage.SessionStore
	httpServer *http.Server
	logger     *zap.Logger
}

// Option configures a Server.
type Option func(*serverDeps)

type serverDeps struct {
	logger *zap.Logger
	clock  func() time.Time
	store  storage.SessionStore
}

// WithLogger injects a structured logger.
func WithLogger(logger *zap.Logger) Option {
	return func(d *serverDeps) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithClock injects a clock, primarily for tests.
func WithClock(clock func() time.Time) Option {
	return func(d *serverDeps) {
		if clock != nil {
			d.clock = clock
		}
	}
}

// WithStore overrides config-driven store selection.
func WithStore(store storage.SessionStore) Option {
	return func(d *serverDeps) {
		if store != nil {
			d.store = store
		}
	}
}

// NewServer builds a configured lobby server. The store is SQLite when a
// database path is configured, in-memory otherwise.
func NewServer(cfg Config, opts ...Option) (*Server, error) {
	cfg = cfg.withDefaults()

	deps := &serverDeps{
		logger: zap.NewNop(),
		clock:  time.Now,
	}
	for _, opt := range opts {
		opt(deps)
	}

	store := deps.store
	if store == nil {
		var err error
		store, err = openStore(cfg, deps.clock)
		if err != nil {
			return nil, fmt.Errorf("open session store: %w", err)
		}
	}

	svc := service.New(store, service.Config{
		SessionTTL:      cfg.SessionTTL,
		TicketTTL:       cfg.TicketTTL,
		ResultRetention: cfg.ResultRetention,
	}, service.WithClock(deps.clock), service.WithLogger(deps.logger))

	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           newHandler(svc, deps.logger, cfg.AllowedOrigins),
		ReadHeaderTimeout: timeouts.ReadHeader,
	}

	return &Server{
		cfg:        cfg,
		svc:        svc,
		store:      store,
		httpServer: httpServer,
		logger:     deps.logger,
	}, nil
}

func openStore(cfg Config, clock func() time.Time) (storage.SessionStore, error) {
	if cfg.DBPath != "" {
		return sqlite.Open(cfg.DBPath,
			sqlite.WithClock(clock),
			sqlite.WithRetention(cfg.CodeRetention),
		)
	}
	return memory.New(
		memory.WithClock(clock),
		memory.WithRetention(cfg.CodeRetention),
	), nil
}

// Handler exposes the HTTP surface for in-process tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Service exposes the lobby service for in-process callers.
func (s *Server) Service() *service.Service {
	return s.svc
}

// ListenAndServe runs the HTTP server and the expiry sweeper until the
// context ends.
//
// On cancellation, it performs a bounded shutdown so in-flight requests
// are drained before hard close.
func (s *Server) ListenAndServe(ctx context.Context) error {
	sweepCtx, stopSweeper := context.WithCancel(ctx)
	defer stopSweeper()
	go s.runSweeper(sweepCtx)

	serveErr := make(chan error, 1)
	s.logger.Info("lobby listening", zap.String("addr", s.cfg.Addr))
	go func() {
		serveErr <- s.httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeouts.Shutdown)
		err := s.httpServer.Shutdown(shutdownCtx)
		cancel()
		if err != nil {
			return fmt.Errorf("shutdown http server: %w", err)
		}
		return nil
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve http: %w", err)
	}
}

// runSweeper drives time-based expiry on the configured interval. Lazy
// expiry on access still applies; the sweeper bounds how stale an
// untouched record can get.
func (s *Server) runSweeper(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.svc.Sweep(ctx); err != nil {
				s.logger.Warn("expiry sweep", zap.Error(err))
			}
		}
	}
}

// Close releases the session store.
func (s *Server) Close() error {
	return s.store.Close()
}
