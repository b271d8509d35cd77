package domain

import "errors"

// Error taxonomy for the capture pipeline. Each failure-prone call site
// classifies its own errors; the orchestrator only distinguishes
// retryable, terminal and invariant-violation failures.
var (
	// ErrMalformedPayload: the platform payload cannot be normalized.
	// Dropped with a log, never retried.
	ErrMalformedPayload = errors.New("malformed payload")

	// ErrFingerprint: canonical serialization cannot be produced.
	// Deterministic, so retrying cannot succeed; dead-lettered.
	ErrFingerprint = errors.New("fingerprint error")

	// ErrStaleTransition: the stored state did not match the expected
	// from-state. Signals a race or bug; the record is left untouched.
	ErrStaleTransition = errors.New("stale transition")
)

// transient is implemented by errors that may succeed on retry.
type transient interface {
	Transient() bool
}

// IsTransient reports whether err (or anything it wraps) is marked
// retryable by the component that produced it.
func IsTransient(err error) bool {
	var t transient
	return errors.As(err, &t) && t.Transient()
}
