package ratelimiter

// SecondBucket is a one-second admission slot: it holds this second's
// ticket inventory and the four ordered lists that record every ticket's
// disposition during the second.
//
// Invariants: IssuedCount equals len(Issued) and never exceeds TicketCount
// at the moment of any issuance (a mid-second TicketCount reset to zero via
// addRateLimit does not retroactively violate a prior issuance). A ticket
// appears in at most one of {Issued, Overflow} within this bucket.
type SecondBucket struct {
	// BucketID is this second's absolute epoch-seconds id.
	BucketID int64

	// TicketCount is this second's inventory: the number of admissions
	// this bucket may issue.
	TicketCount int64

	// IssuedCount is the number of tickets issued so far this second.
	IssuedCount int64

	// SecondRequestedCount is the number of fresh acquire calls that
	// landed in this bucket (excludes tickets carried over from a prior
	// bucket).
	SecondRequestedCount int64

	Issued      []Ticket
	Overflow    []Ticket
	RateLimited []Ticket
	Finished    []Ticket
}

// newSecondBucket constructs an empty bucket for the given epoch-second id
// with the given starting inventory.
func newSecondBucket(bucketID, ticketCount int64) *SecondBucket {
	return &SecondBucket{BucketID: bucketID, TicketCount: ticketCount}
}

// acquire admits a fresh request arriving in this second: it records the
// arrival, attempts immediate issuance, and returns the resulting ticket
// either way (issued, or parked in Overflow).
func (b *SecondBucket) acquire(requestID int64, correlationID, model string) Ticket {
	b.SecondRequestedCount++
	ticket := newTicket(requestID, b.BucketID, correlationID, model)
	return b.tryIssue(ticket)
}

// tryIssue attempts to issue ticket against this bucket's remaining
// inventory, appending it to Issued on success or Overflow on failure, and
// returns the (possibly updated) ticket.
func (b *SecondBucket) tryIssue(ticket Ticket) Ticket {
	if b.IssuedCount < b.TicketCount {
		b.IssuedCount++
		ticket = ticket.markIssued(b.BucketID, b.IssuedCount)
		b.Issued = append(b.Issued, ticket)
		return ticket
	}
	b.Overflow = append(b.Overflow, ticket)
	return ticket
}

// tryReissue attempts to issue a previously rate-limited ticket against
// this bucket's remaining inventory, appending it to Issued (stamping its
// trailing RateLimitEvent as reissued) on success or RateLimited on
// failure.
func (b *SecondBucket) tryReissue(ticket Ticket) Ticket {
	if b.IssuedCount < b.TicketCount {
		b.IssuedCount++
		ticket = ticket.markReissued(b.BucketID, b.IssuedCount)
		b.Issued = append(b.Issued, ticket)
		return ticket
	}
	b.RateLimited = append(b.RateLimited, ticket)
	return ticket
}

// finish records ticket as completed during this second and returns the
// updated ticket. Never fails.
func (b *SecondBucket) finish(ticket Ticket) Ticket {
	ticket = ticket.markFinished(b.BucketID)
	b.Finished = append(b.Finished, ticket)
	return ticket
}

// addRateLimit records an upstream rejection of ticket: it drains this
// bucket's remaining inventory (further issuance this second is
// suppressed), clears the ticket's issuance fields, and files it on the
// rate-limited list.
func (b *SecondBucket) addRateLimit(ticket Ticket) Ticket {
	b.TicketCount = 0
	ticket = ticket.addRateLimitEvent(b.BucketID)
	b.RateLimited = append(b.RateLimited, ticket)
	return ticket
}

// setTicketCount computes this bucket's starting inventory from the prior
// bucket's issued count, ramp delta, and [min, max] bounds. As a special
// case, if priorIssued already reached max, the bucket starts immediately
// at max with no further ramp (see DESIGN.md, Open Question resolution 4).
func (b *SecondBucket) setTicketCount(maxPerSecond, minPerSecond, priorIssued, delta int64) {
	if priorIssued == maxPerSecond {
		b.TicketCount = maxPerSecond
		return
	}
	next := priorIssued + delta
	if next < minPerSecond {
		next = minPerSecond
	}
	if next > maxPerSecond {
		next = maxPerSecond
	}
	b.TicketCount = next
}

// transferFrom admits carry-over from the previous second into this one:
// rate-limited candidates are considered before overflow candidates
// (higher priority, since they represent already-promised work), and
// within each class in FIFO order. It returns every ticket successfully
// promoted this call, so their waiters can be signalled.
func (b *SecondBucket) transferFrom(rateLimitedFromPrev, overflowFromPrev []Ticket) []Ticket {
	promoted := make([]Ticket, 0, len(rateLimitedFromPrev)+len(overflowFromPrev))

	for _, ticket := range rateLimitedFromPrev {
		before := ticket.Issued
		ticket = b.tryReissue(ticket)
		if ticket.Issued && !before {
			promoted = append(promoted, ticket)
		}
	}
	for _, ticket := range overflowFromPrev {
		ticket = b.tryIssue(ticket)
		if ticket.Issued {
			promoted = append(promoted, ticket)
		}
	}
	return promoted
}

// HadActivity reports whether anything observable happened in this second
// (a fresh arrival, an issuance, a rejection, or a completion) — useful for
// a listener that wants to skip idle trailing seconds.
func (b *SecondBucket) HadActivity() bool {
	return b.SecondRequestedCount > 0 || b.IssuedCount > 0 || len(b.RateLimited) > 0 || len(b.Finished) > 0
}

// NewRequests returns the subset of this bucket's issued and overflowed
// tickets that originated in this bucket, excluding tickets merely carried
// in from a prior second.
func (b *SecondBucket) NewRequests() []Ticket {
	fresh := make([]Ticket, 0, len(b.Issued)+len(b.Overflow))
	for _, t := range b.Issued {
		if t.InitialRequestSecond == b.BucketID {
			fresh = append(fresh, t)
		}
	}
	for _, t := range b.Overflow {
		if t.InitialRequestSecond == b.BucketID {
			fresh = append(fresh, t)
		}
	}
	return fresh
}

// NewRateLimitEvents returns the subset of this bucket's rate-limited
// tickets whose triggering rejection was registered in this bucket, as
// opposed to tickets carried in already bearing an older rejection.
func (b *SecondBucket) NewRateLimitEvents() []Ticket {
	fresh := make([]Ticket, 0, len(b.RateLimited))
	for _, t := range b.RateLimited {
		if n := len(t.Events); n > 0 && t.Events[n-1].LimitedSecond == b.BucketID {
			fresh = append(fresh, t)
		}
	}
	return fresh
}
