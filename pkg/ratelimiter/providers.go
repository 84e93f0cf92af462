package ratelimiter

import (
	"errors"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/ollama/ollama/api"
	"github.com/openai/openai-go"
	"google.golang.org/genai"
)

// ClassifyFailure recognizes this package's own *Failure type, so a caller
// that returns ErrThrottled (or any Failure built via NewThrottleFailure /
// NewUpstreamFailure) is classified without depending on a provider SDK.
func ClassifyFailure(err error) (FailureKind, bool) {
	var f *Failure
	if errors.As(err, &f) {
		return f.Kind, true
	}
	return FailureUnknown, false
}

// ClassifyAnthropicError recognizes *anthropic.Error (the SDK's API-error
// type, which carries the upstream HTTP status code) and classifies it as
// a throttle or other upstream failure.
func ClassifyAnthropicError(err error) (FailureKind, bool) {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return classifyStatusCode(apiErr.StatusCode), true
	}
	return FailureUnknown, false
}

// ClassifyOpenAIError recognizes *openai.Error, for services fronted by
// the OpenAI-compatible API shape.
func ClassifyOpenAIError(err error) (FailureKind, bool) {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return classifyStatusCode(apiErr.StatusCode), true
	}
	return FailureUnknown, false
}

// ClassifyOllamaError recognizes api.StatusError, covering self-hosted or
// local model servers that still benefit from admission control under a
// shared per-minute budget.
func ClassifyOllamaError(err error) (FailureKind, bool) {
	var statusErr api.StatusError
	if errors.As(err, &statusErr) {
		return classifyStatusCode(statusErr.StatusCode), true
	}
	return FailureUnknown, false
}

// ClassifyGoogleGenAIError recognizes *genai.APIError, covering
// Gemini-family upstreams.
func ClassifyGoogleGenAIError(err error) (FailureKind, bool) {
	var apiErr *genai.APIError
	if errors.As(err, &apiErr) {
		return classifyStatusCode(apiErr.Code), true
	}
	return FailureUnknown, false
}

// DefaultClassifiers returns the Classifiers tried, in this order, by
// Wrapper.Do: this package's own Failure type first, then one per provider
// SDK recognized out of the box. Callers fronting other upstreams should
// append their own.
func DefaultClassifiers() []Classifier {
	return []Classifier{
		ClassifyFailure,
		ClassifyAnthropicError,
		ClassifyOpenAIError,
		ClassifyOllamaError,
		ClassifyGoogleGenAIError,
	}
}

// classifyWith runs err through classifiers in order, returning the first
// match. If none recognizes err, it falls back to FailureUpstream — an
// unrecognized error is never treated as a throttle, since a missed
// throttle only surfaces the error to the caller (Wrapper.Do returns the
// ticket and the error without retrying), whereas mistaking a fatal error
// for a throttle would pause the limiter for no reason. A
// panicking classifier is skipped (same fail-safe posture: never a
// throttle).
func classifyWith(classifiers []Classifier, err error) FailureKind {
	for _, classify := range classifiers {
		if kind, ok := safeClassify(classify, err); ok {
			return kind
		}
	}
	return FailureUpstream
}

func safeClassify(classify Classifier, err error) (kind FailureKind, ok bool) {
	defer func() {
		if recover() != nil {
			kind, ok = FailureUnknown, false
		}
	}()
	return classify(err)
}
