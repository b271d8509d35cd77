package domain

import "time"

// Evidence is the immutable record assembled from a Match. The fingerprint
// is computed from the canonical serialization of (platform, sender_id,
// channel_id, text, sent_at) only, so it is stable across transports.
// Signing state lives on the AnchorRecord, not here: Evidence is frozen
// at assembly time.
type Evidence struct {
	Fingerprint     string         `json:"fingerprint"`
	Message         InboundMessage `json:"message"`
	MatchedKeywords []string       `json:"matched_keywords"`
	CreatedAt       time.Time      `json:"created_at"`
}
