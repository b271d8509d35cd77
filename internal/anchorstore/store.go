// Package anchorstore is the durable idempotency store: at most one
// AnchorRecord per fingerprint, advanced through the monotone status
// lattice by exactly one worker at a time.
package anchorstore

import (
	"context"
	"fmt"

	"github.com/BrKDDD/LawAgent2/pkg/domain"
)

// Fields carries the record mutations applied together with a status
// transition. Zero values leave the stored column unchanged, except
// Confirmations which is applied whenever AlwaysConfirmations is set.
type Fields struct {
	Signature           string
	SignerID            string
	TxHash              string
	LastError           string
	Confirmations       uint64
	AlwaysConfirmations bool
	// Attempts overwrites the stored attempt counter when > 0.
	Attempts int
}

// Store is the durable mapping from fingerprint to AnchorRecord.
type Store interface {
	// CreateIfAbsent atomically creates a Pending record. When the
	// fingerprint already exists the stored record is returned with
	// created=false and the caller short-circuits: this is the
	// exactly-once guarantee.
	CreateIfAbsent(ctx context.Context, fingerprint string) (domain.AnchorRecord, bool, error)

	// Transition advances fingerprint from -> to, applying fields. It
	// fails with domain.ErrStaleTransition when the stored status does
	// not equal from.
	Transition(ctx context.Context, fingerprint string, from, to domain.Status, fields Fields) (domain.AnchorRecord, error)

	// Get returns the stored record, with found=false when absent.
	Get(ctx context.Context, fingerprint string) (domain.AnchorRecord, bool, error)
}

// checkStep rejects lattice violations before any storage is touched.
func checkStep(from, to domain.Status) error {
	if !domain.CanTransition(from, to) {
		return fmt.Errorf("illegal transition %s -> %s: %w", from, to, domain.ErrStaleTransition)
	}
	return nil
}

func apply(rec *domain.AnchorRecord, to domain.Status, f Fields) {
	rec.Status = to
	if f.Signature != "" {
		rec.Signature = f.Signature
	}
	if f.SignerID != "" {
		rec.SignerID = f.SignerID
	}
	if f.TxHash != "" {
		rec.TxHash = f.TxHash
	}
	if f.LastError != "" {
		rec.LastError = f.LastError
	}
	if f.AlwaysConfirmations || f.Confirmations > 0 {
		rec.Confirmations = f.Confirmations
	}
	if f.Attempts > 0 {
		rec.Attempts = f.Attempts
	}
}
