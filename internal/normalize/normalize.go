// Package normalize converts platform payloads into canonical
// InboundMessages. Pure transformation: no I/O, no retries.
package normalize

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/BrKDDD/LawAgent2/pkg/domain"
)

// Normalize strips the platform envelope from payload and returns the
// canonical message. Payloads missing sender, channel or timestamp are
// rejected with domain.ErrMalformedPayload.
func Normalize(platform string, payload []byte) (domain.InboundMessage, error) {
	var (
		msg domain.InboundMessage
		err error
	)
	switch platform {
	case "dingtalk":
		msg, err = decodeDingTalk(payload)
	case "wechat_work":
		msg, err = decodeWeChatWork(payload)
	default:
		msg, err = decodeGeneric(payload)
	}
	if err != nil {
		return domain.InboundMessage{}, err
	}
	msg.Platform = platform
	msg.Text = normalizeText(msg.Text)
	if err := validate(msg); err != nil {
		return domain.InboundMessage{}, err
	}
	return msg, nil
}

// dingTalkPayload mirrors the robot callback body delivered to the
// configured webhook URL.
type dingTalkPayload struct {
	SenderStaffID  string `json:"senderStaffId"`
	SenderID       string `json:"senderId"`
	ConversationID string `json:"conversationId"`
	CreateAt       int64  `json:"createAt"` // ms epoch
	Text           struct {
		Content string `json:"content"`
	} `json:"text"`
}

func decodeDingTalk(payload []byte) (domain.InboundMessage, error) {
	var p dingTalkPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return domain.InboundMessage{}, fmt.Errorf("%w: dingtalk: %v", domain.ErrMalformedPayload, err)
	}
	sender := p.SenderStaffID
	if sender == "" {
		sender = p.SenderID
	}
	var sentAt time.Time
	if p.CreateAt > 0 {
		sentAt = time.UnixMilli(p.CreateAt).UTC()
	}
	return domain.InboundMessage{
		SenderID:  sender,
		ChannelID: p.ConversationID,
		Text:      p.Text.Content,
		SentAt:    sentAt,
	}, nil
}

// weChatWorkPayload mirrors the JSON form of a WeCom message callback
// after transport decryption (decryption is the adapter's job).
type weChatWorkPayload struct {
	FromUser   string `json:"from_user"`
	ChatID     string `json:"chat_id"`
	Content    string `json:"content"`
	CreateTime int64  `json:"create_time"` // s epoch
}

func decodeWeChatWork(payload []byte) (domain.InboundMessage, error) {
	var p weChatWorkPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return domain.InboundMessage{}, fmt.Errorf("%w: wechat_work: %v", domain.ErrMalformedPayload, err)
	}
	var sentAt time.Time
	if p.CreateTime > 0 {
		sentAt = time.Unix(p.CreateTime, 0).UTC()
	}
	return domain.InboundMessage{
		SenderID:  p.FromUser,
		ChannelID: p.ChatID,
		Text:      p.Content,
		SentAt:    sentAt,
	}, nil
}

type genericPayload struct {
	SenderID  string    `json:"sender_id"`
	ChannelID string    `json:"channel_id"`
	Text      string    `json:"text"`
	SentAt    time.Time `json:"sent_at"`
}

func decodeGeneric(payload []byte) (domain.InboundMessage, error) {
	var p genericPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return domain.InboundMessage{}, fmt.Errorf("%w: %v", domain.ErrMalformedPayload, err)
	}
	return domain.InboundMessage{
		SenderID:  p.SenderID,
		ChannelID: p.ChannelID,
		Text:      p.Text,
		SentAt:    p.SentAt.UTC(),
	}, nil
}

func validate(msg domain.InboundMessage) error {
	switch {
	case msg.SenderID == "":
		return fmt.Errorf("%w: missing sender_id", domain.ErrMalformedPayload)
	case msg.ChannelID == "":
		return fmt.Errorf("%w: missing channel_id", domain.ErrMalformedPayload)
	case msg.SentAt.IsZero():
		return fmt.Errorf("%w: missing sent_at", domain.ErrMalformedPayload)
	}
	return nil
}

// normalizeText applies only the whitespace normalization required for a
// stable fingerprint: CRLF/CR to LF and trimmed edges. Content is
// otherwise preserved verbatim.
func normalizeText(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	return strings.TrimSpace(s)
}
