// Package matchmaking provides the FIFO quick-match pairing queue.
//
// The queue owns tickets until it emits a pairing; the lobby service then
// materializes a matched session and both tickets are discarded.
package matchmaking

import (
	"time"

	"github.com/google/uuid"

	"github.com/codeclash/arena/internal/services/lobby/domain/session"
)

// Ticket represents one identity waiting for quick-match.
type Ticket struct {
	ID         string
	Identity   string
	Difficulty session.Difficulty
	EnqueuedAt time.Time
}

// newTicketID generates a ticket identifier.
func newTicketID() string {
	return uuid.NewString()
}
