// Package ai provides common types shared by the model collaborator
// implementations: error classification, the orchestrator error taxonomy,
// and retry/backoff configuration.
package ai

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

// Classification sentinels. Stage implementations wrap their failures so the
// pipeline can decide between retry and fail-fast with errors.Is.
var (
	// ErrRecoverable indicates a temporary failure that may succeed if retried.
	// Examples: network timeout, rate limiting, temporary service unavailability.
	ErrRecoverable = errors.New("recoverable model provider error")

	// ErrFatal indicates a permanent failure that will not succeed if retried.
	// Examples: invalid API key, unsupported format, malformed request.
	ErrFatal = errors.New("fatal model provider error")
)

// Orchestrator error taxonomy.
var (
	// ErrTransport means the persistent connection is gone. The session is
	// torn down and its active run cancelled; never retried.
	ErrTransport = errors.New("transport error")

	// ErrModelUnavailable means a stage's collaborator is down.
	ErrModelUnavailable = errors.New("model unavailable")

	// ErrModelTimeout means a stage exceeded its configured deadline.
	ErrModelTimeout = errors.New("model timeout")

	// ErrMalformedInput marks a single inbound message that failed schema
	// validation. The message is dropped; the session continues.
	ErrMalformedInput = errors.New("malformed input")

	// ErrResourceExhausted is returned when the global pipeline-run cap is
	// reached and the overflow policy rejects new work.
	ErrResourceExhausted = errors.New("resource exhausted")
)

// IsRecoverable reports whether an error should be retried.
// Unavailable and timeout stage errors count as recoverable.
func IsRecoverable(err error) bool {
	return errors.Is(err, ErrRecoverable) ||
		errors.Is(err, ErrModelUnavailable) ||
		errors.Is(err, ErrModelTimeout)
}

// IsFatal reports whether an error must not be retried.
func IsFatal(err error) bool {
	return errors.Is(err, ErrFatal)
}

// StageError wraps an underlying stage failure with its classification.
type StageError struct {
	Underlying error
	Class      error // one of the sentinels above
	Message    string
}

func (e *StageError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Underlying.Error()
}

func (e *StageError) Unwrap() error { return e.Class }

// NewUnavailableError classifies err as a collaborator outage.
func NewUnavailableError(underlying error, message string) error {
	return &StageError{Underlying: underlying, Class: ErrModelUnavailable, Message: message}
}

// NewTimeoutError classifies err as a deadline overrun.
func NewTimeoutError(underlying error, message string) error {
	return &StageError{Underlying: underlying, Class: ErrModelTimeout, Message: message}
}

// NewFatalError classifies err as non-retryable.
func NewFatalError(underlying error, message string) error {
	return &StageError{Underlying: underlying, Class: ErrFatal, Message: message}
}

// RetryConfig configures backoff for recoverable stage errors.
type RetryConfig struct {
	MaxRetries    int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
	JitterPercent float64 // 0.0-1.0
}

// DefaultRetryConfig matches the coordinator contract: one retry with backoff.
var DefaultRetryConfig = RetryConfig{
	MaxRetries:    1,
	InitialDelay:  100 * time.Millisecond,
	MaxDelay:      2 * time.Second,
	BackoffFactor: 2.0,
	JitterPercent: 0.1,
}

// Retry invokes fn, retrying recoverable failures up to cfg.MaxRetries times
// with exponential backoff. Fatal errors and context cancellation return
// immediately.
func Retry(ctx context.Context, cfg RetryConfig, fn func() error) error {
	delay := cfg.InitialDelay
	var err error
	for attempt := 0; ; attempt++ {
		err = fn()
		if err == nil || IsFatal(err) || attempt >= cfg.MaxRetries {
			return err
		}
		if !IsRecoverable(err) {
			return err
		}

		d := delay
		if cfg.JitterPercent > 0 {
			jitter := time.Duration(float64(d) * cfg.JitterPercent * rand.Float64())
			d += jitter
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(d):
		}

		delay = time.Duration(float64(delay) * cfg.BackoffFactor)
		if cfg.MaxDelay > 0 && delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}
}
