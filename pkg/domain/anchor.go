package domain

import "time"

// Status is the processing state of an AnchorRecord. States form a
// monotone lattice: a record never moves backward and never skips a state.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusSigning    Status = "SIGNING"
	StatusSigned     Status = "SIGNED"
	StatusSubmitting Status = "SUBMITTING"
	StatusSubmitted  Status = "SUBMITTED"
	StatusConfirmed  Status = "CONFIRMED"
	StatusFailed     Status = "FAILED"
)

var statusRank = map[Status]int{
	StatusPending:    0,
	StatusSigning:    1,
	StatusSigned:     2,
	StatusSubmitting: 3,
	StatusSubmitted:  4,
	StatusConfirmed:  5,
}

// failFrom lists the non-terminal states from which FAILED is reachable.
var failFrom = map[Status]bool{
	StatusSigning:    true,
	StatusSubmitting: true,
	StatusSubmitted:  true,
}

// Terminal reports whether no further transitions are allowed.
func (s Status) Terminal() bool {
	return s == StatusConfirmed || s == StatusFailed
}

// CanTransition reports whether from -> to is a legal single step.
func CanTransition(from, to Status) bool {
	if to == StatusFailed {
		return failFrom[from]
	}
	fr, ok := statusRank[from]
	if !ok {
		return false
	}
	tr, ok := statusRank[to]
	if !ok {
		return false
	}
	return tr == fr+1
}

// AnchorRecord is the durable per-fingerprint processing state. It is the
// only mutable entity in the system; exactly one worker mutates a given
// fingerprint at a time.
type AnchorRecord struct {
	Fingerprint   string    `json:"fingerprint"`
	Status        Status    `json:"status"`
	Signature     string    `json:"signature,omitempty"`
	SignerID      string    `json:"signer_id,omitempty"`
	TxHash        string    `json:"tx_hash,omitempty"`
	Confirmations uint64    `json:"confirmations"`
	LastError     string    `json:"last_error,omitempty"`
	Attempts      int       `json:"attempts"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}
