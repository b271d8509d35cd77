package pipeline

import (
	"context"

	"github.com/BrKDDD/LawAgent2/internal/logging"
)

// DeadLetter is emitted for every record that reaches Failed, and for
// fingerprint errors that never produced a record.
type DeadLetter struct {
	Fingerprint string `json:"fingerprint"`
	LastError   string `json:"last_error"`
	Attempts    int    `json:"attempts"`
}

// Completion is emitted for every record that reaches Confirmed.
type Completion struct {
	Fingerprint   string `json:"fingerprint"`
	TxHash        string `json:"tx_hash"`
	Confirmations uint64 `json:"confirmations"`
	ExplorerURL   string `json:"explorer_url,omitempty"`
}

// DeadLetterSink receives terminal failures. External collaborator; the
// pipeline only guarantees it is called exactly once per Failed record.
type DeadLetterSink interface {
	DeadLetter(ctx context.Context, dl DeadLetter)
}

// CompletionSink receives confirmed anchors.
type CompletionSink interface {
	Completed(ctx context.Context, c Completion)
}

// LogSink is the default sink pair: a structured log stream.
type LogSink struct {
	log *logging.Logger
}

func NewLogSink(log *logging.Logger) *LogSink {
	return &LogSink{log: log.Named("sink")}
}

func (s *LogSink) DeadLetter(_ context.Context, dl DeadLetter) {
	s.log.Warnw("evidence dead-lettered",
		"fingerprint", dl.Fingerprint, "last_error", dl.LastError, "attempts", dl.Attempts)
}

func (s *LogSink) Completed(_ context.Context, c Completion) {
	s.log.Infow("evidence anchored",
		"fingerprint", c.Fingerprint, "tx_hash", c.TxHash,
		"confirmations", c.Confirmations, "explorer_url", c.ExplorerURL)
}
