package canonhash

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/BrKDDD/LawAgent2/pkg/domain"
)

const prefix = "sha256:"

// canonicalMessage is the exact tuple the fingerprint covers. RawRef is
// deliberately absent so transport framing never changes the digest.
type canonicalMessage struct {
	Platform  string `json:"platform"`
	SenderID  string `json:"sender_id"`
	ChannelID string `json:"channel_id"`
	Text      string `json:"text"`
	SentAt    string `json:"sent_at"`
}

// Fingerprint computes the deterministic digest identifying a logical
// message: sha256 over the canonical JSON of (platform, sender_id,
// channel_id, text, sent_at), rendered as "sha256:<hex>".
func Fingerprint(msg domain.InboundMessage) (string, []byte, error) {
	if !utf8.ValidString(msg.Text) {
		return "", nil, fmt.Errorf("%w: text is not valid UTF-8", domain.ErrFingerprint)
	}
	b, err := json.Marshal(canonicalMessage{
		Platform:  msg.Platform,
		SenderID:  msg.SenderID,
		ChannelID: msg.ChannelID,
		Text:      msg.Text,
		SentAt:    msg.SentAt.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", domain.ErrFingerprint, err)
	}
	sum := sha256.Sum256(b)
	return prefix + hex.EncodeToString(sum[:]), b, nil
}

// DigestBytes extracts the raw 32-byte digest from a fingerprint string.
func DigestBytes(fingerprint string) ([]byte, error) {
	h := strings.TrimPrefix(strings.TrimSpace(fingerprint), prefix)
	digest, err := hex.DecodeString(h)
	if err != nil {
		return nil, fmt.Errorf("invalid fingerprint: %w", err)
	}
	if len(digest) != sha256.Size {
		return nil, fmt.Errorf("invalid fingerprint length: %d", len(digest))
	}
	return digest, nil
}
