// Package apperr defines the stable error kinds surfaced by the generation pipeline.
package apperr

import (
	"errors"
	"fmt"
	"math"
	"net/http"
	"time"
)

// Kind is a stable, machine-readable error category.
type Kind string

const (
	KindModelNotLoaded   Kind = "ModelNotLoaded"
	KindRateLimited      Kind = "RateLimited"
	KindTimeout          Kind = "GenerationTimeout"
	KindOutOfMemory      Kind = "GPUOutOfMemory"
	KindGenerationFailed Kind = "GenerationFailed"
	KindInvalidRequest   Kind = "InvalidRequest"
	KindInternal         Kind = "InternalError"
)

// Error is a structured pipeline error.
type Error struct {
	Kind       Kind
	Message    string
	RetryAfter time.Duration
	Cause      error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// RetryAfterSeconds rounds the retry hint up to whole seconds, minimum 1.
func (e *Error) RetryAfterSeconds() int {
	secs := int(math.Ceil(e.RetryAfter.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return secs
}

// ModelNotLoaded reports a collaborator handle that is not registered.
func ModelNotLoaded(name string, loaded []string) *Error {
	return &Error{
		Kind:    KindModelNotLoaded,
		Message: fmt.Sprintf("model %q is not loaded (loaded: %v)", name, loaded),
	}
}

// RateLimited reports an exhausted generation budget.
func RateLimited(limit int, retryAfter time.Duration) *Error {
	return &Error{
		Kind:       KindRateLimited,
		Message:    fmt.Sprintf("generation rate limit of %d/min exceeded", limit),
		RetryAfter: retryAfter,
	}
}

// GenerationTimeout reports an elapsed generation budget.
func GenerationTimeout(concept string, budget time.Duration) *Error {
	return &Error{
		Kind:    KindTimeout,
		Message: fmt.Sprintf("generation timed out for %q after %s", concept, budget),
	}
}

// GPUOutOfMemory reports device memory exhaustion.
func GPUOutOfMemory(cause error) *Error {
	return &Error{
		Kind:    KindOutOfMemory,
		Message: "GPU memory exhausted, retry after a few seconds",
		Cause:   cause,
	}
}

// GenerationFailed wraps any other collaborator failure.
func GenerationFailed(concept string, cause error) *Error {
	return &Error{
		Kind:    KindGenerationFailed,
		Message: fmt.Sprintf("generation failed for %q", concept),
		Cause:   cause,
	}
}

// InvalidRequest reports a malformed request.
func InvalidRequest(msg string) *Error {
	return &Error{Kind: KindInvalidRequest, Message: msg}
}

// KindOf returns the kind of err, or KindInternal when err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// HTTPStatus maps a kind to its response status.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindModelNotLoaded, KindOutOfMemory:
		return http.StatusServiceUnavailable
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindTimeout:
		return http.StatusGatewayTimeout
	case KindInvalidRequest:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
