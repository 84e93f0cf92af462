package ratelimiter

import (
	"context"
	"sync"
)

// Waiter is a single-use signalling primitive bound to exactly one Ticket.
// It is created when a caller must block waiting for admission, dequeued
// and signalled exactly once by the limiter, and then discarded: a Waiter
// is never reset and rewaited on. See DESIGN.md for why this diverges
// deliberately from a reusable, resettable event primitive.
type Waiter struct {
	done chan struct{}

	mu        sync.Mutex
	ticket    Ticket
	signalled bool
}

// newWaiter creates a Waiter parked on ticket's current (not-yet-issued)
// state.
func newWaiter(ticket Ticket) *Waiter {
	return &Waiter{done: make(chan struct{}), ticket: ticket}
}

// signal fires the waiter exactly once, updating the ticket it will hand
// back to the blocked caller. A second signal is a no-op: if the Waiter
// was already signalled (e.g. the ticket was promoted between bucket
// transfer and caller parking), the first signal wins and the caller sees
// it immediately.
func (w *Waiter) signal(ticket Ticket) {
	w.mu.Lock()
	if w.signalled {
		w.mu.Unlock()
		return
	}
	w.ticket = ticket
	w.signalled = true
	w.mu.Unlock()
	close(w.done)
}

// wait blocks until the Waiter is signalled or ctx is done, returning the
// most recent Ticket state observed at signal time.
func (w *Waiter) wait(ctx context.Context) (Ticket, error) {
	select {
	case <-w.done:
		w.mu.Lock()
		t := w.ticket
		w.mu.Unlock()
		return t, nil
	case <-ctx.Done():
		return Ticket{}, ctx.Err()
	}
}

// signalledTicket returns the ticket the waiter fired with, if it has
// fired. Used by the limiter when a caller abandons a wait, to observe
// whether a concurrent signal already issued the ticket.
func (w *Waiter) signalledTicket() (Ticket, bool) {
	select {
	case <-w.done:
		w.mu.Lock()
		t := w.ticket
		w.mu.Unlock()
		return t, true
	default:
		return Ticket{}, false
	}
}

// waiterRegistry maps request id to the Waiter blocking that request.
// It carries no locking of its own: callers must hold the owning Limiter's
// mutex while touching it.
type waiterRegistry map[int64]*Waiter

func (r waiterRegistry) park(requestID int64, ticket Ticket) *Waiter {
	w := newWaiter(ticket)
	r[requestID] = w
	return w
}

func (r waiterRegistry) take(requestID int64) (*Waiter, bool) {
	w, ok := r[requestID]
	if ok {
		delete(r, requestID)
	}
	return w, ok
}
