package ratelimiter

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/llmonpy/ratellmiter/pkg/logx"
)

// defaultRetryBudget is the number of attempts a Wrapper makes before
// giving up.
const defaultRetryBudget = 20

// Wrapper composes Limiter.Acquire/Return/RateLimitExceeded into a
// caller-side retry envelope: the core exposes only the three primitives,
// and this type is the higher-order adapter that turns a plain remote call
// into an admission-controlled one.
type Wrapper struct {
	limiter     *Limiter
	classifiers []Classifier
	maxAttempts int
	log         *logx.Logger
}

// WrapperOption configures optional Wrapper behavior.
type WrapperOption func(*Wrapper)

// WithClassifiers overrides the set of Classifiers tried, in order, to
// decide whether an error from the wrapped call represents an upstream
// throttle. Defaults to DefaultClassifiers().
func WithClassifiers(classifiers ...Classifier) WrapperOption {
	return func(w *Wrapper) { w.classifiers = classifiers }
}

// WithMaxAttempts overrides the retry budget. Defaults to 20.
func WithMaxAttempts(n int) WrapperOption {
	return func(w *Wrapper) { w.maxAttempts = n }
}

// NewWrapper builds a Wrapper around limiter.
func NewWrapper(limiter *Limiter, opts ...WrapperOption) *Wrapper {
	w := &Wrapper{
		limiter:     limiter,
		classifiers: DefaultClassifiers(),
		maxAttempts: defaultRetryBudget,
		log:         logx.NewLogger(limiter.Name() + "-wrapper"),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Do runs call under admission control for model. If correlationID is
// empty, a fresh one is generated. Per attempt: acquire (or reuse) a
// ticket, invoke call, and on success return the ticket. On failure: if
// the error classifies as an upstream throttle, report it via
// RateLimitExceeded and retry with the revived ticket; otherwise return
// the ticket and propagate the error untouched. The retry budget is
// maxAttempts (default 20); exhausting it returns an error naming the
// last attempt's cause.
func (w *Wrapper) Do(ctx context.Context, correlationID, model string, call func(context.Context, Ticket) error) error {
	if correlationID == "" {
		correlationID = uuid.NewString()
	}

	ticket, err := w.limiter.Acquire(ctx, correlationID, model)
	if err != nil {
		return fmt.Errorf("ratelimiter: wrapper acquire: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= w.maxAttempts; attempt++ {
		callErr := call(ctx, ticket)
		if callErr == nil {
			w.limiter.Return(ticket)
			return nil
		}
		lastErr = callErr

		kind := classifyWith(w.classifiers, callErr)
		if kind != FailureThrottle {
			w.limiter.Return(ticket)
			return callErr
		}

		w.log.Warn("%s: throttled on attempt %d/%d, reporting to limiter", model, attempt, w.maxAttempts)
		ticket, err = w.limiter.RateLimitExceeded(ctx, ticket)
		if err != nil {
			return fmt.Errorf("ratelimiter: wrapper rate-limit-exceeded: %w", err)
		}
	}

	return fmt.Errorf("ratelimiter: exhausted %d attempts for %s: %w", w.maxAttempts, model, lastErr)
}
