// Package signer requests signatures over evidence fingerprints. The
// remote client wraps a key-management service; the local variant signs
// with an in-process secp256k1 key for dev and tests.
package signer

import (
	"context"
	"errors"
	"fmt"
)

// Signature is the result of a successful signing call.
type Signature struct {
	// Value is the hex-encoded signature bytes.
	Value string
	// SignerID is the identity (account/address) the signature was
	// issued under; it scopes nonce assignment downstream.
	SignerID string
}

// ErrRejected marks a terminal signer refusal (invalid key, malformed
// request). Never retried.
var ErrRejected = errors.New("signer rejected request")

// transientError wraps failures that may succeed on retry: timeouts,
// rate limiting, signer-side 5xx.
type transientError struct{ err error }

func (e *transientError) Error() string   { return fmt.Sprintf("transient signer error: %v", e.err) }
func (e *transientError) Unwrap() error   { return e.err }
func (e *transientError) Transient() bool { return true }

// Signer issues signatures over fingerprints. Sign reports how many
// attempts were made so the caller can record them on the AnchorRecord.
// Implementations must not be called concurrently for the same
// fingerprint; the per-fingerprint lock upstream enforces that.
type Signer interface {
	Sign(ctx context.Context, fingerprint string) (Signature, int, error)
	Identity() string
}
