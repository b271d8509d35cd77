// Package assemble builds immutable Evidence records from matches.
package assemble

import (
	"context"
	"time"

	"github.com/BrKDDD/LawAgent2/internal/logging"
	"github.com/BrKDDD/LawAgent2/pkg/canonhash"
	"github.com/BrKDDD/LawAgent2/pkg/domain"
)

// Assembler is deterministic: the only I/O is an optional raw_ref
// dereference for audit logging, which never feeds the fingerprint.
type Assembler struct {
	raw RawStore
	log *logging.Logger
	now func() time.Time
}

func New(raw RawStore, log *logging.Logger) *Assembler {
	return &Assembler{raw: raw, log: log.Named("assemble"), now: time.Now}
}

// Assemble computes the fingerprint and freezes the evidence record.
// Failure is only possible when canonical serialization cannot be
// produced; that error wraps domain.ErrFingerprint and must be
// dead-lettered, never retried.
func (a *Assembler) Assemble(ctx context.Context, match domain.Match) (domain.Evidence, error) {
	fp, _, err := canonhash.Fingerprint(match.Message)
	if err != nil {
		return domain.Evidence{}, err
	}
	if a.raw != nil && match.Message.RawRef != "" {
		if raw, err := a.raw.Get(ctx, match.Message.RawRef); err == nil {
			a.log.Debugw("assembled evidence from raw payload",
				"fingerprint", fp, "raw_ref", match.Message.RawRef, "raw_bytes", len(raw))
		} else {
			// Retention may already have evicted the payload; the
			// fingerprint never depends on it.
			a.log.Debugw("raw payload unavailable", "raw_ref", match.Message.RawRef, "error", err)
		}
	}
	return domain.Evidence{
		Fingerprint:     fp,
		Message:         match.Message,
		MatchedKeywords: match.MatchedKeywords,
		CreatedAt:       a.now().UTC(),
	}, nil
}
