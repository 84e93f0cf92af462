package ratelimiter

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/llmonpy/ratellmiter/pkg/logx"
)

const (
	minProbeIntervalSeconds int64   = 10
	maxProbeIntervalSeconds int64   = 65
	probeBackoffRate        float64 = 1.5
)

// IsBlockedFunc is the caller-supplied predicate invoked by a paused
// Limiter's probe to ask whether the upstream's throttle has cleared. A
// panicking predicate is treated as "still blocked" to stay fail-safe;
// Limiter recovers any panic itself.
type IsBlockedFunc func() bool

// Limiter is the admission controller for one named upstream service. It
// orchestrates a current MinuteBucket, issues and parks Tickets, and owns
// the adaptive pause/probe state entered on upstream throttling.
//
// A Limiter's public methods are safe for concurrent use. Its single mutex
// protects the request-id counter, the current MinuteBucket and its
// transitive state, the paused flag, the waiter registry, and the probe
// fields. Signalling waiters always happens outside that mutex.
type Limiter struct {
	name string
	ramp RampParams

	log       *logx.Logger
	metrics   Recorder
	isBlocked IsBlockedFunc

	mu             sync.Mutex
	requestCounter int64
	current        *MinuteBucket
	paused         bool
	waiters        waiterRegistry
	probeTimer     *time.Timer
	probeInterval  int64 // seconds
}

// LimiterOption configures optional Limiter behavior.
type LimiterOption func(*Limiter)

// WithProbe sets the predicate a paused Limiter consults to decide whether
// upstream throttling has cleared. Without one, a paused Limiter resumes
// on its very first probe (a safe default for tests; production callers
// should always supply a real predicate).
func WithProbe(fn IsBlockedFunc) LimiterOption {
	return func(l *Limiter) { l.isBlocked = fn }
}

// WithRecorder attaches a metrics Recorder. Without one, metrics are
// dropped via NoopRecorder.
func WithRecorder(r Recorder) LimiterOption {
	return func(l *Limiter) { l.metrics = r }
}

// WithLogger overrides the Limiter's logger. Without one, a logger scoped
// to the limiter's name is created via logx.NewLogger.
func WithLogger(log *logx.Logger) LimiterOption {
	return func(l *Limiter) { l.log = log }
}

// NewLimiter constructs a Limiter governing requestsPerMinute admissions
// per minute for the named service, and registers it with monitor. The
// limiter issues no tickets until the monitor starts it (see Monitor.Start),
// which seeds its first MinuteBucket.
func NewLimiter(monitor *Monitor, name string, requestsPerMinute int64, opts ...LimiterOption) *Limiter {
	l := &Limiter{
		name:      name,
		ramp:      computeRampParams(requestsPerMinute),
		waiters:   make(waiterRegistry),
		isBlocked: func() bool { return false },
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.log == nil {
		l.log = logx.NewLogger(name)
	}
	if l.metrics == nil {
		l.metrics = NoopRecorder{}
	}
	if monitor != nil {
		monitor.register(l)
	}
	return l
}

// Name returns the limiter's service name.
func (l *Limiter) Name() string { return l.name }

// Ramp returns the limiter's derived ramp parameters.
func (l *Limiter) Ramp() RampParams { return l.ramp }

// initMinuteBucket seeds the limiter with a fresh MinuteBucket starting at
// startEpoch, at ramp's StartRamp inventory in second 0. Called once by
// the Monitor when it starts.
func (l *Limiter) initMinuteBucket(startEpoch int64, startISO string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.current = newMinuteBucket(l.name, startISO, startEpoch, l.ramp, l.ramp.StartRamp)
}

// Acquire requests admission for one call to correlationID/model, blocking
// until a ticket is issued or ctx is done. It always eventually returns a
// ticket unless ctx is cancelled first; on cancellation the limiter
// synthesises a finish for the abandoned ticket so accounting stays
// consistent.
func (l *Limiter) Acquire(ctx context.Context, correlationID, model string) (Ticket, error) {
	l.mu.Lock()
	l.requestCounter++
	id := l.requestCounter
	ticket := l.current.current().acquire(id, correlationID, model)
	if ticket.Issued {
		l.mu.Unlock()
		l.metrics.ObserveIssued(l.name, false)
		return ticket, nil
	}
	w := l.waiters.park(id, ticket)
	l.mu.Unlock()

	issued, err := w.wait(ctx)
	if err != nil {
		l.abandon(id, w, ticket)
		return Ticket{}, fmt.Errorf("ratelimiter: acquire %s: %w", l.name, err)
	}
	l.metrics.ObserveIssued(l.name, true)
	return issued, nil
}

// abandon synthesises a finish for a caller that gave up waiting, keeping
// accounting consistent. If a concurrent signal already issued the ticket,
// the issued state is the one recorded as finished.
func (l *Limiter) abandon(requestID int64, w *Waiter, last Ticket) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.waiters.take(requestID)
	if t, ok := w.signalledTicket(); ok {
		last = t
	}
	l.current.current().finish(last)
}

// Return reports normal completion of ticket.
func (l *Limiter) Return(ticket Ticket) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.current.current().finish(ticket)
}

// RateLimitExceeded reports that ticket's call was rejected upstream with
// a 429/529-class status. It blocks until the limiter re-issues a
// replacement ticket (after the adaptive pause lifts) or ctx is done.
func (l *Limiter) RateLimitExceeded(ctx context.Context, ticket Ticket) (Ticket, error) {
	l.mu.Lock()
	cur := l.current.current()
	ticket = cur.finish(ticket)
	ticket = cur.addRateLimit(ticket)

	crossedIntoPaused := !l.paused
	l.paused = true

	w := l.waiters.park(ticket.RequestID, ticket)
	l.mu.Unlock()

	l.metrics.ObserveRateLimited(l.name)
	if crossedIntoPaused {
		l.log.Warn("%s: entering paused state after upstream throttle", l.name)
		l.metrics.SetPaused(l.name, true)
		l.schedulePause()
	}

	reissued, err := w.wait(ctx)
	if err != nil {
		l.abandon(ticket.RequestID, w, ticket)
		return Ticket{}, fmt.Errorf("ratelimiter: rate-limit-exceeded %s: %w", l.name, err)
	}
	return reissued, nil
}

// RefreshMinute is called by the Monitor at minute rollover. It rotates
// the limiter onto a fresh MinuteBucket starting at nowEpoch/nowISO,
// carries forward unresolved overflow/rate-limited tickets from the
// retiring minute's tail second, signals every promoted ticket's waiter,
// and returns the retiring MinuteBucket for logging.
func (l *Limiter) RefreshMinute(nowEpoch int64, nowISO string) *MinuteBucket {
	l.mu.Lock()
	retiring := l.current
	tail := retiring.current()

	firstInventory := int64(0)
	if !l.paused {
		firstInventory = l.ramp.StartRamp
		if tail.IssuedCount > firstInventory {
			firstInventory = tail.IssuedCount
		}
	}

	next := newMinuteBucket(l.name, nowISO, nowEpoch, l.ramp, firstInventory)
	promoted := next.transferFromPreviousMinute(retiring)
	l.current = next
	l.mu.Unlock()

	l.signalPromoted(promoted)
	return retiring
}

// ReleaseTickets is called by the Monitor at every non-rollover tick. It
// advances the current MinuteBucket by one second (skipping inventory
// replenishment while paused), carries over unresolved tickets, signals
// every promoted ticket's waiter, and returns the retired SecondBucket for
// listener notification.
func (l *Limiter) ReleaseTickets() *SecondBucket {
	l.mu.Lock()
	paused := l.paused
	retiring, promoted := l.current.releaseTickets(paused)
	l.mu.Unlock()

	l.signalPromoted(promoted)
	return retiring
}

type promotion struct {
	waiter *Waiter
	ticket Ticket
}

func (l *Limiter) signalPromoted(tickets []Ticket) {
	if len(tickets) == 0 {
		return
	}
	pairs := make([]promotion, 0, len(tickets))
	l.mu.Lock()
	for _, t := range tickets {
		if w, ok := l.waiters.take(t.RequestID); ok {
			pairs = append(pairs, promotion{waiter: w, ticket: t})
		}
	}
	l.mu.Unlock()

	for _, p := range pairs {
		p.waiter.signal(p.ticket)
	}
}

// schedulePause arms the probe timer at the minimum interval. Called once
// per pause transition (not-paused -> paused).
func (l *Limiter) schedulePause() {
	l.mu.Lock()
	l.probeInterval = minProbeIntervalSeconds
	l.probeTimer = time.AfterFunc(time.Duration(l.probeInterval)*time.Second, l.probeTick)
	l.mu.Unlock()
	l.metrics.SetProbeInterval(l.name, minProbeIntervalSeconds)
}

// probeTick fires when a pending probe timer expires. It consults the
// is-blocked predicate and either reschedules with a backed-off interval
// or clears the paused state.
func (l *Limiter) probeTick() {
	blocked := l.callIsBlocked()

	l.mu.Lock()
	if !l.paused {
		l.mu.Unlock()
		return
	}
	if blocked {
		next := int64(math.Floor(float64(l.probeInterval) * probeBackoffRate))
		if next > maxProbeIntervalSeconds {
			next = maxProbeIntervalSeconds
		}
		l.probeInterval = next
		l.probeTimer = time.AfterFunc(time.Duration(next)*time.Second, l.probeTick)
		l.mu.Unlock()
		l.metrics.SetProbeInterval(l.name, next)
		l.log.Debug("%s: still blocked, next probe in %ds", l.name, next)
		return
	}

	l.paused = false
	l.probeTimer = nil
	l.probeInterval = 0
	l.mu.Unlock()

	l.log.Info("%s: resumed after probe", l.name)
	l.metrics.SetPaused(l.name, false)
	l.metrics.SetProbeInterval(l.name, 0)
}

// callIsBlocked invokes the configured predicate, recovering any panic and
// treating it as "still blocked" to stay fail-safe.
func (l *Limiter) callIsBlocked() (blocked bool) {
	blocked = true
	defer func() {
		if r := recover(); r != nil {
			l.log.Error("%s: is-blocked predicate panicked: %v", l.name, r)
			blocked = true
		}
	}()
	blocked = l.isBlocked()
	return blocked
}

// Paused reports whether the limiter currently has issuance suppressed
// due to an unresolved upstream throttle.
func (l *Limiter) Paused() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.paused
}
