package ratelimiter

import "math"

// RampParams are a limiter's derived ramp-up parameters, computed once at
// construction from its configured requests-per-minute and carried on
// every MinuteBucket for logging.
type RampParams struct {
	// MaxPerSecond is the limiter's steady-state per-second quota.
	MaxPerSecond int64

	// StartRamp is the inventory a fresh (or post-throttle) bucket
	// begins issuing at.
	StartRamp int64

	// Delta is the per-second increment applied while ramping toward
	// MaxPerSecond.
	Delta int64
}

// computeRampParams derives a limiter's ramp parameters from its
// requests-per-minute quota. For R < 60 this is a degenerate case
// (max/s = start = delta = 1, not optimised for such a small quota).
// Otherwise max/s is the floor of R/60, while start-ramp and delta are
// derived from the *untruncated* R/60 float using round-half-away-from-zero
// — see DESIGN.md, Open Question resolution 1.
func computeRampParams(requestsPerMinute int64) RampParams {
	if requestsPerMinute < 60 {
		return RampParams{MaxPerSecond: 1, StartRamp: 1, Delta: 1}
	}

	perSecond := float64(requestsPerMinute) / 60.0
	maxPerSecond := requestsPerMinute / 60

	startRamp := int64(math.Round(perSecond * 0.25))
	if startRamp < 1 {
		startRamp = 1
	}
	delta := int64(math.Round(perSecond * 0.10))
	if delta < 1 {
		delta = 1
	}
	return RampParams{MaxPerSecond: maxPerSecond, StartRamp: startRamp, Delta: delta}
}

const secondsPerMinute = 60

// MinuteBucket is an ordered sequence of 60 SecondBuckets covering one
// minute of a limiter's history, plus the ramp parameters that governed
// its inventory growth.
//
// Invariants: SecondBucket ids are consecutive starting at StartEpoch;
// CurrentIndex advances monotonically and saturates at 59; only the
// SecondBucket at CurrentIndex is mutable.
type MinuteBucket struct {
	// LimiterName identifies the owning limiter, for logging.
	LimiterName string

	// StartISO is the minute's start time, RFC3339-formatted.
	StartISO string

	// StartEpoch is the minute's start time, absolute epoch-seconds.
	StartEpoch int64

	// Ramp is the ramp parameters in effect for this minute.
	Ramp RampParams

	// CurrentIndex is the index, in [0, 59], of the only SecondBucket
	// that may still be mutated.
	CurrentIndex int

	// Seconds holds exactly 60 SecondBuckets, ids StartEpoch..StartEpoch+59.
	Seconds [secondsPerMinute]*SecondBucket
}

// newMinuteBucket constructs a fresh MinuteBucket starting at startEpoch,
// with SecondBucket 0 seeded at firstInventory and the remaining 59
// buckets starting empty (their inventory is set as the current index
// advances onto them).
func newMinuteBucket(limiterName, startISO string, startEpoch int64, ramp RampParams, firstInventory int64) *MinuteBucket {
	mb := &MinuteBucket{
		LimiterName: limiterName,
		StartISO:    startISO,
		StartEpoch:  startEpoch,
		Ramp:        ramp,
	}
	for i := 0; i < secondsPerMinute; i++ {
		count := int64(0)
		if i == 0 {
			count = firstInventory
		}
		mb.Seconds[i] = newSecondBucket(startEpoch+int64(i), count)
	}
	return mb
}

// current returns the mutable, current-index SecondBucket.
func (mb *MinuteBucket) current() *SecondBucket {
	return mb.Seconds[mb.CurrentIndex]
}

// transferFromPreviousMinute moves the previous minute's tail bucket (its
// current-index SecondBucket) unresolved overflow and rate-limited tickets
// into this minute's SecondBucket 0. Called once, at construction of a
// fresh MinuteBucket following a rollover. Returns every ticket promoted
// in the process.
func (mb *MinuteBucket) transferFromPreviousMinute(prev *MinuteBucket) []Ticket {
	if prev == nil {
		return nil
	}
	tail := prev.current()
	return mb.Seconds[0].transferFrom(tail.RateLimited, tail.Overflow)
}

// advance moves CurrentIndex forward by one, saturating at 59, and unless
// setCount is false, seeds the new current bucket's inventory from the
// retiring bucket's issued count via setTicketCount. It returns the
// retiring SecondBucket (the one CurrentIndex just moved off of).
func (mb *MinuteBucket) advance(setCount bool) *SecondBucket {
	retiring := mb.current()
	if mb.CurrentIndex < secondsPerMinute-1 {
		mb.CurrentIndex++
	}
	if setCount {
		head := mb.current()
		head.setTicketCount(mb.Ramp.MaxPerSecond, mb.Ramp.StartRamp, retiring.IssuedCount, mb.Ramp.Delta)
	}
	return retiring
}

// releaseTickets advances the minute bucket by one second and carries
// over the retiring bucket's unresolved overflow and rate-limited tickets
// into the new current bucket. Returns the retiring SecondBucket and every
// ticket promoted during carry-over, so the caller can signal their
// waiters.
func (mb *MinuteBucket) releaseTickets(paused bool) (retiring *SecondBucket, promoted []Ticket) {
	retiring = mb.advance(!paused)
	head := mb.current()
	promoted = head.transferFrom(retiring.RateLimited, retiring.Overflow)
	return retiring, promoted
}

// RequestedCount returns the sum of SecondRequestedCount across all 60
// seconds, i.e. the total number of fresh arrivals this minute.
func (mb *MinuteBucket) RequestedCount() int64 {
	var total int64
	for _, s := range mb.Seconds {
		total += s.SecondRequestedCount
	}
	return total
}

// FinishedCount returns the sum of completed-ticket counts across all 60
// seconds.
func (mb *MinuteBucket) FinishedCount() int64 {
	var total int64
	for _, s := range mb.Seconds {
		total += int64(len(s.Finished))
	}
	return total
}
