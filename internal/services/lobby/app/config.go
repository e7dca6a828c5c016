package app

import "time"

const (
	defaultAddr          = ":8080"
	defaultSweepInterval = 30 * time.Second
)

// Config carries the lobby server runtime settings.
type Config struct {
	// Addr is the HTTP listen address.
	Addr string
	// DBPath selects the SQLite store when set; empty keeps sessions
	// in memory.
	DBPath string
	// SessionTTL is how long an unmatched room stays joinable.
	SessionTTL time.Duration
	// CodeRetention keeps terminal codes reserved against reissue.
	CodeRetention time.Duration
	// TicketTTL bounds idle quick-match tickets; zero disables expiry.
	TicketTTL time.Duration
	// ResultRetention keeps delivered pairing results pollable.
	ResultRetention time.Duration
	// SweepInterval paces the background expiry sweeper.
	SweepInterval time.Duration
	// AllowedOrigins restricts CORS and websocket origins; empty
	// allows any origin.
	AllowedOrigins []string
}

func (c Config) withDefaults() Config {
	if c.Addr == "" {
		c.Addr = defaultAddr
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = defaultSweepInterval
	}
	if len(c.AllowedOrigins) == 0 {
		c.AllowedOrigins = []string{"*"}
	}
	return c
}
