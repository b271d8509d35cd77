package assemble

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/BrKDDD/LawAgent2/internal/logging"
	"github.com/BrKDDD/LawAgent2/pkg/domain"
)

func match(text string) domain.Match {
	return domain.Match{
		Message: domain.InboundMessage{
			Platform:  "dingtalk",
			SenderID:  "u001",
			ChannelID: "c001",
			Text:      text,
			SentAt:    time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC),
		},
		MatchedKeywords: []string{"加班"},
		RuleVersion:     "v1",
		DetectedAt:      time.Date(2026, 3, 1, 9, 30, 1, 0, time.UTC),
	}
}

func TestAssembleDeterministicFingerprint(t *testing.T) {
	a := New(NewMemoryRawStore(time.Hour), logging.Nop())
	e1, err := a.Assemble(context.Background(), match("讨论加班安排"))
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	e2, err := a.Assemble(context.Background(), match("讨论加班安排"))
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if e1.Fingerprint == "" || e1.Fingerprint != e2.Fingerprint {
		t.Fatalf("expected stable fingerprint, got %q vs %q", e1.Fingerprint, e2.Fingerprint)
	}
	if e1.CreatedAt.IsZero() {
		t.Fatalf("assembly timestamp must be set")
	}
}

func TestAssembleFingerprintIndependentOfRawRef(t *testing.T) {
	store := NewMemoryRawStore(time.Hour)
	a := New(store, logging.Nop())
	m1 := match("讨论加班安排")
	ref, err := store.Put(context.Background(), []byte(`{"framing":"a"}`))
	if err != nil {
		t.Fatalf("put err: %v", err)
	}
	m1.Message.RawRef = ref
	m2 := match("讨论加班安排")
	m2.Message.RawRef = "raw_missing"

	e1, _ := a.Assemble(context.Background(), m1)
	e2, _ := a.Assemble(context.Background(), m2)
	if e1.Fingerprint != e2.Fingerprint {
		t.Fatalf("raw_ref must not affect fingerprint")
	}
}

func TestAssembleInvalidEncodingIsFingerprintError(t *testing.T) {
	a := New(nil, logging.Nop())
	m := match("x")
	m.Message.Text = string([]byte{0xff, 0xfe, 0xfd})
	_, err := a.Assemble(context.Background(), m)
	if !errors.Is(err, domain.ErrFingerprint) {
		t.Fatalf("expected ErrFingerprint, got %v", err)
	}
}

func TestMemoryRawStoreTTL(t *testing.T) {
	store := NewMemoryRawStore(time.Minute)
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return base }
	ref, err := store.Put(context.Background(), []byte("payload"))
	if err != nil {
		t.Fatalf("put err: %v", err)
	}
	if _, err := store.Get(context.Background(), ref); err != nil {
		t.Fatalf("expected payload before TTL, got %v", err)
	}
	store.now = func() time.Time { return base.Add(2 * time.Minute) }
	if _, err := store.Get(context.Background(), ref); !errors.Is(err, ErrRawNotFound) {
		t.Fatalf("expected eviction after TTL, got %v", err)
	}
}
