package matchmaking

import (
	"sync"
	"time"

	"github.com/codeclash/arena/internal/services/lobby/domain/session"
)

// Queue pairs quick-match tickets in strict arrival order, one FIFO bucket
// per difficulty. Buckets lock independently so pairing for one difficulty
// never contends with another.
type Queue struct {
	mu      sync.RWMutex
	buckets map[session.Difficulty]*bucket
	clock   func() time.Time
}

type bucket struct {
	mu      sync.Mutex
	tickets []Ticket
}

// NewQueue constructs an empty queue.
func NewQueue() *Queue {
	return NewQueueWithClock(time.Now)
}

// NewQueueWithClock constructs a queue with an injected clock for tests.
func NewQueueWithClock(clock func() time.Time) *Queue {
	if clock == nil {
		clock = time.Now
	}
	return &Queue{
		buckets: make(map[session.Difficulty]*bucket),
		clock:   clock,
	}
}

func (q *Queue) bucket(d session.Difficulty) *bucket {
	q.mu.RLock()
	b, ok := q.buckets[d]
	q.mu.RUnlock()
	if ok {
		return b
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if b, ok = q.buckets[d]; ok {
		return b
	}
	b = &bucket{}
	q.buckets[d] = b
	return b
}

// Enqueue appends a ticket for identity to the difficulty bucket.
// If the identity already holds a queued ticket in that bucket, the
// existing ticket is returned instead of double-queueing.
func (q *Queue) Enqueue(identity string, difficulty session.Difficulty) Ticket {
	b := q.bucket(difficulty)
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, t := range b.tickets {
		if t.Identity == identity {
			return t
		}
	}

	ticket := Ticket{
		ID:         newTicketID(),
		Identity:   identity,
		Difficulty: difficulty,
		EnqueuedAt: q.clock().UTC(),
	}
	b.tickets = append(b.tickets, ticket)
	return ticket
}

// TryPair removes and returns the two oldest tickets in the difficulty
// bucket atomically. Partial removal never occurs: when fewer than two
// tickets are queued, the bucket is left untouched and ok is false.
func (q *Queue) TryPair(difficulty session.Difficulty) (a, b Ticket, ok bool) {
	bkt := q.bucket(difficulty)
	bkt.mu.Lock()
	defer bkt.mu.Unlock()

	if len(bkt.tickets) < 2 {
		return Ticket{}, Ticket{}, false
	}
	a, b = bkt.tickets[0], bkt.tickets[1]
	bkt.tickets = append(bkt.tickets[:0:0], bkt.tickets[2:]...)
	return a, b, true
}

// Cancel removes a still-queued ticket. It reports false when the ticket
// was already paired or never existed, which callers treat as a no-op.
func (q *Queue) Cancel(ticketID string) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()

	for _, b := range q.buckets {
		b.mu.Lock()
		for i, t := range b.tickets {
			if t.ID == ticketID {
				b.tickets = append(b.tickets[:i:i], b.tickets[i+1:]...)
				b.mu.Unlock()
				return true
			}
		}
		b.mu.Unlock()
	}
	return false
}

// Lookup returns a queued ticket by ID.
func (q *Queue) Lookup(ticketID string) (Ticket, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	for _, b := range q.buckets {
		b.mu.Lock()
		for _, t := range b.tickets {
			if t.ID == ticketID {
				b.mu.Unlock()
				return t, true
			}
		}
		b.mu.Unlock()
	}
	return Ticket{}, false
}

// Len reports the number of queued tickets for a difficulty.
func (q *Queue) Len(difficulty session.Difficulty) int {
	b := q.bucket(difficulty)
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.tickets)
}

// SweepStale removes tickets enqueued before now-ttl and returns them.
// A ttl of zero disables sweeping; idle-ticket expiry is a configurable
// policy, not a hard requirement.
func (q *Queue) SweepStale(now time.Time, ttl time.Duration) []Ticket {
	if ttl <= 0 {
		return nil
	}
	cutoff := now.Add(-ttl)

	q.mu.RLock()
	defer q.mu.RUnlock()

	var stale []Ticket
	for _, b := range q.buckets {
		b.mu.Lock()
		kept := b.tickets[:0:0]
		for _, t := range b.tickets {
			if t.EnqueuedAt.Before(cutoff) {
				stale = append(stale, t)
			} else {
				kept = append(kept, t)
			}
		}
		b.tickets = kept
		b.mu.Unlock()
	}
	return stale
}
