// Package lobby parses lobby command flags and starts the match lobby server.
package lobby

import (
	"context"
	"flag"
	"fmt"
	"time"

	"go.uber.org/zap"

	entrypoint "github.com/codeclash/arena/internal/platform/cmd"
	"github.com/codeclash/arena/internal/services/lobby/app"
)

// Config holds lobby command configuration.
type Config struct {
	Port            int           `env:"CODECLASH_LOBBY_PORT" envDefault:"8080"`
	Addr            string        `env:"CODECLASH_LOBBY_ADDR"`
	DBPath          string        `env:"CODECLASH_LOBBY_DB_PATH"`
	SessionTTL      time.Duration `env:"CODECLASH_LOBBY_SESSION_TTL" envDefault:"10m"`
	CodeRetention   time.Duration `env:"CODECLASH_LOBBY_CODE_RETENTION" envDefault:"5m"`
	TicketTTL       time.Duration `env:"CODECLASH_LOBBY_TICKET_TTL" envDefault:"0"`
	ResultRetention time.Duration `env:"CODECLASH_LOBBY_RESULT_RETENTION" envDefault:"5m"`
	SweepInterval   time.Duration `env:"CODECLASH_LOBBY_SWEEP_INTERVAL" envDefault:"30s"`
	AllowedOrigins  []string      `env:"CODECLASH_LOBBY_ALLOWED_ORIGINS" envSeparator:","`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	fs.IntVar(&cfg.Port, "port", cfg.Port, "The lobby server port")
	fs.StringVar(&cfg.Addr, "addr", cfg.Addr, "The lobby server listen address (overrides -port)")
	fs.StringVar(&cfg.DBPath, "db", cfg.DBPath, "SQLite database path; empty keeps sessions in memory")
	fs.DurationVar(&cfg.SessionTTL, "session-ttl", cfg.SessionTTL, "How long an unmatched room stays joinable")
	fs.DurationVar(&cfg.TicketTTL, "ticket-ttl", cfg.TicketTTL, "Idle quick-match ticket lifetime; 0 disables expiry")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run starts the lobby HTTP service.
func Run(ctx context.Context, cfg Config) error {
	addr := cfg.Addr
	if addr == "" {
		addr = fmt.Sprintf(":%d", cfg.Port)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer logger.Sync()

	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceLobby, func(ctx context.Context) error {
		srv, err := app.NewServer(app.Config{
			Addr:            addr,
			DBPath:          cfg.DBPath,
			SessionTTL:      cfg.SessionTTL,
			CodeRetention:   cfg.CodeRetention,
			TicketTTL:       cfg.TicketTTL,
			ResultRetention: cfg.ResultRetention,
			SweepInterval:   cfg.SweepInterval,
			AllowedOrigins:  cfg.AllowedOrigins,
		}, app.WithLogger(logger))
		if err != nil {
			return err
		}
		defer srv.Close()
		return srv.ListenAndServe(ctx)
	})
}
