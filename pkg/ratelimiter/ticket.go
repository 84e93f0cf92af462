// Package ratelimiter implements a client-side admission controller for
// quota-limited upstream services: callers acquire a Ticket before making a
// request, and the limiter issues tickets up to a ramped per-second quota,
// queueing overflow for future seconds instead of rejecting it outright.
package ratelimiter

// Ticket represents one admission request tracked through its lifecycle.
// It is a value type: callers and buckets pass Tickets and RateLimitEvents
// by value, so there is never a need to deep-copy one before handing it
// between buckets or back to a caller.
//
// Invariants: a ticket with Issued set always also has a valid IssuedSecond;
// Finished requires a prior issuance; every RateLimitEvent has a non-zero
// LimitedSecond and a Reissued flag that is either false (still waiting) or
// true with ReissuedSecond strictly greater than LimitedSecond.
type Ticket struct {
	// RequestID is unique within the owning Limiter and monotonically
	// increasing, assigned when the ticket is first requested.
	RequestID int64

	// InitialRequestSecond is the epoch-second bucket id in which the
	// ticket first appeared (i.e. the second acquire was called in).
	InitialRequestSecond int64

	// CorrelationID is an opaque, caller-supplied identifier (e.g. a
	// request or trace id) carried through for log correlation.
	CorrelationID string

	// Model is an opaque caller-supplied label for the upstream model or
	// endpoint this ticket is admitting a call to.
	Model string

	// Issued reports whether this ticket currently holds a granted slot.
	Issued bool

	// IssuedNumber is this ticket's position in its issuing bucket's
	// issued list (1-based), valid only when Issued is true.
	IssuedNumber int64

	// IssuedSecond is the epoch-second bucket id the ticket is currently
	// issued in, valid only when Issued is true.
	IssuedSecond int64

	// Events records every RateLimitEvent this ticket has accumulated,
	// in the order they occurred. Empty if the ticket was never
	// rate-limited.
	Events []RateLimitEvent

	// Finished reports whether a finish has been recorded for the ticket:
	// on return, on an abandoned wait, or on a rate-limit report (which
	// finishes the ticket for accounting before it waits to be reissued,
	// so a reissued ticket keeps Finished set).
	Finished bool

	// FinishedSecond is the epoch-second bucket id the ticket finished
	// in, valid only when Finished is true.
	FinishedSecond int64
}

// RateLimitEvent records one upstream 429/529 rejection against a Ticket.
type RateLimitEvent struct {
	// IssuedSecond is the epoch-second bucket id the ticket had
	// originally been issued in, captured before the rejection cleared
	// the ticket's issuance state.
	IssuedSecond int64

	// LimitedSecond is the epoch-second bucket id in which the
	// rejection was registered.
	LimitedSecond int64

	// Reissued reports whether the limiter has since granted a
	// replacement ticket for this event.
	Reissued bool

	// ReissuedSecond is the epoch-second bucket id the replacement
	// ticket was granted in, valid only when Reissued is true. Always
	// strictly greater than LimitedSecond.
	ReissuedSecond int64
}

// newTicket builds a fresh, never-yet-issued ticket for the given request,
// recording requestedSecond as its initial-request bucket.
func newTicket(requestID int64, requestedSecond int64, correlationID, model string) Ticket {
	return Ticket{
		RequestID:            requestID,
		InitialRequestSecond: requestedSecond,
		CorrelationID:        correlationID,
		Model:                model,
	}
}

// markIssued returns a copy of t recorded as issued in the given bucket, at
// the given 1-based position within that bucket's issued list.
func (t Ticket) markIssued(second, number int64) Ticket {
	t.Issued = true
	t.IssuedNumber = number
	t.IssuedSecond = second
	return t
}

// markFinished returns a copy of t recorded as finished in the given
// bucket.
func (t Ticket) markFinished(second int64) Ticket {
	t.Finished = true
	t.FinishedSecond = second
	return t
}

// addRateLimitEvent returns a copy of t with a new RateLimitEvent appended
// recording a rejection registered in limitedSecond, and with the ticket's
// issuance fields cleared. The prior issued second is captured into the
// event before being cleared — see DESIGN.md, Open Question resolution 3.
func (t Ticket) addRateLimitEvent(limitedSecond int64) Ticket {
	events := make([]RateLimitEvent, len(t.Events), len(t.Events)+1)
	copy(events, t.Events)
	events = append(events, RateLimitEvent{
		IssuedSecond:  t.IssuedSecond,
		LimitedSecond: limitedSecond,
	})
	t.Events = events

	t.Issued = false
	t.IssuedNumber = 0
	t.IssuedSecond = 0
	return t
}

// markReissued returns a copy of t re-issued in the given bucket at the
// given 1-based position, with its most recent RateLimitEvent stamped as
// reissued in that same second.
func (t Ticket) markReissued(second, number int64) Ticket {
	if n := len(t.Events); n > 0 {
		events := make([]RateLimitEvent, n)
		copy(events, t.Events)
		events[n-1].Reissued = true
		events[n-1].ReissuedSecond = second
		t.Events = events
	}
	return t.markIssued(second, number)
}

// WasRateLimited reports whether this ticket has at least one
// RateLimitEvent, whether or not it has been reissued since.
func (t Ticket) WasRateLimited() bool {
	return len(t.Events) > 0
}
