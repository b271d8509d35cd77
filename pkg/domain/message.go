package domain

import "time"

// InboundMessage is the canonical form of a chat message after platform
// envelope stripping. Immutable once produced by the normalizer.
type InboundMessage struct {
	Platform  string    `json:"platform"`
	SenderID  string    `json:"sender_id"`
	ChannelID string    `json:"channel_id"`
	Text      string    `json:"text"`
	SentAt    time.Time `json:"sent_at"`
	// RawRef is an opaque handle to the original payload bytes. It is
	// never part of the fingerprint: two ingestions of the same logical
	// message may carry different transport framing.
	RawRef string `json:"raw_ref,omitempty"`
}

// Match records a single detection result for one message. All matching
// keywords are merged; one message yields at most one Match.
type Match struct {
	Message         InboundMessage `json:"message"`
	MatchedKeywords []string       `json:"matched_keywords"`
	RuleVersion     string         `json:"rule_version"`
	DetectedAt      time.Time      `json:"detected_at"`
}
