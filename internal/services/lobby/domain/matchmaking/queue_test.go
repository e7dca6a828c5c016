package matchmaking

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/codeclash/arena/internal/services/lobby/domain/session"
)

func TestEnqueueAssignsTicket(t *testing.T) {
	q := NewQueue()
	ticket := q.Enqueue("u1", session.DifficultyEasy)
	if ticket.ID == "" {
		t.Fatal("expected ticket id")
	}
	if ticket.Identity != "u1" {
		t.Fatalf("expected identity u1, got %q", ticket.Identity)
	}
	if ticket.EnqueuedAt.IsZero() {
		t.Fatal("expected enqueued timestamp")
	}
	if q.Len(session.DifficultyEasy) != 1 {
		t.Fatalf("expected 1 queued ticket, got %d", q.Len(session.DifficultyEasy))
	}
}

func TestEnqueueDeduplicatesIdentity(t *testing.T) {
	q := NewQueue()
	first := q.Enqueue("u1", session.DifficultyEasy)
	second := q.Enqueue("u1", session.DifficultyEasy)
	if first.ID != second.ID {
		t.Fatal("expected existing ticket for duplicate enqueue")
	}
	if q.Len(session.DifficultyEasy) != 1 {
		t.Fatalf("expected 1 queued ticket, got %d", q.Len(session.DifficultyEasy))
	}
}

func TestTryPairFIFOOrder(t *testing.T) {
	q := NewQueue()
	q.Enqueue("a", session.DifficultyEasy)
	q.Enqueue("b", session.DifficultyEasy)
	q.Enqueue("c", session.DifficultyEasy)

	first, second, ok := q.TryPair(session.DifficultyEasy)
	if !ok {
		t.Fatal("expected a pairing")
	}
	if first.Identity != "a" || second.Identity != "b" {
		t.Fatalf("expected (a,b) before c, got (%s,%s)", first.Identity, second.Identity)
	}

	if _, _, ok := q.TryPair(session.DifficultyEasy); ok {
		t.Fatal("c alone should not pair")
	}
	if q.Len(session.DifficultyEasy) != 1 {
		t.Fatalf("expected c still queued, got %d tickets", q.Len(session.DifficultyEasy))
	}
}

func TestTryPairRequiresTwoTickets(t *testing.T) {
	q := NewQueue()
	if _, _, ok := q.TryPair(session.DifficultyHard); ok {
		t.Fatal("empty bucket should not pair")
	}
	q.Enqueue("solo", session.DifficultyHard)
	if _, _, ok := q.TryPair(session.DifficultyHard); ok {
		t.Fatal("single ticket should not pair")
	}
	if q.Len(session.DifficultyHard) != 1 {
		t.Fatal("failed pairing must not remove the queued ticket")
	}
}

func TestBucketsAreIsolatedByDifficulty(t *testing.T) {
	q := NewQueue()
	q.Enqueue("easy1", session.DifficultyEasy)
	q.Enqueue("hard1", session.DifficultyHard)

	if _, _, ok := q.TryPair(session.DifficultyEasy); ok {
		t.Fatal("tickets from different difficulties must not pair")
	}
}

func TestCancelRemovesQueuedTicket(t *testing.T) {
	q := NewQueue()
	ticket := q.Enqueue("u1", session.DifficultyMedium)
	if !q.Cancel(ticket.ID) {
		t.Fatal("expected cancel to remove the ticket")
	}
	if q.Len(session.DifficultyMedium) != 0 {
		t.Fatal("expected empty bucket after cancel")
	}
	// Cancelling again is a no-op.
	if q.Cancel(ticket.ID) {
		t.Fatal("expected second cancel to report no-op")
	}
}

func TestCancelAfterPairIsNoop(t *testing.T) {
	q := NewQueue()
	a := q.Enqueue("a", session.DifficultyEasy)
	q.Enqueue("b", session.DifficultyEasy)
	if _, _, ok := q.TryPair(session.DifficultyEasy); !ok {
		t.Fatal("expected pairing")
	}
	if q.Cancel(a.ID) {
		t.Fatal("expected cancel of paired ticket to be a no-op")
	}
}

func TestLookup(t *testing.T) {
	q := NewQueue()
	ticket := q.Enqueue("u1", session.DifficultyEasy)
	got, ok := q.Lookup(ticket.ID)
	if !ok || got.Identity != "u1" {
		t.Fatalf("expected to find ticket, got %v %v", got, ok)
	}
	if _, ok := q.Lookup("missing"); ok {
		t.Fatal("expected missing ticket lookup to fail")
	}
}

func TestSweepStale(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	q := NewQueueWithClock(clock)

	q.Enqueue("old", session.DifficultyEasy)
	now = now.Add(10 * time.Minute)
	q.Enqueue("fresh", session.DifficultyEasy)

	stale := q.SweepStale(now, 5*time.Minute)
	if len(stale) != 1 || stale[0].Identity != "old" {
		t.Fatalf("expected only the old ticket swept, got %v", stale)
	}
	if q.Len(session.DifficultyEasy) != 1 {
		t.Fatalf("expected fresh ticket kept, got %d", q.Len(session.DifficultyEasy))
	}
}

func TestSweepStaleDisabledAtZeroTTL(t *testing.T) {
	q := NewQueue()
	q.Enqueue("u1", session.DifficultyEasy)
	if stale := q.SweepStale(time.Now().Add(time.Hour), 0); stale != nil {
		t.Fatalf("expected sweep disabled at zero ttl, got %v", stale)
	}
	if q.Len(session.DifficultyEasy) != 1 {
		t.Fatal("expected ticket kept when sweep disabled")
	}
}

func TestConcurrentPairingNeverSplitsAPair(t *testing.T) {
	q := NewQueue()
	const tickets = 100
	for i := 0; i < tickets; i++ {
		q.Enqueue(fmt.Sprintf("player-%d", i), session.DifficultyEasy)
	}

	var wg sync.WaitGroup
	pairs := make(chan [2]Ticket, tickets/2)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				a, b, ok := q.TryPair(session.DifficultyEasy)
				if !ok {
					return
				}
				pairs <- [2]Ticket{a, b}
			}
		}()
	}
	wg.Wait()
	close(pairs)

	seen := make(map[string]bool)
	count := 0
	for p := range pairs {
		for _, ticket := range p {
			if seen[ticket.ID] {
				t.Fatalf("ticket %s paired twice", ticket.ID)
			}
			seen[ticket.ID] = true
		}
		count++
	}
	if count != tickets/2 {
		t.Fatalf("expected %d pairs, got %d", tickets/2, count)
	}
	if q.Len(session.DifficultyEasy) != 0 {
		t.Fatalf("expected empty bucket, got %d", q.Len(session.DifficultyEasy))
	}
}
