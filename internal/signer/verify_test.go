package signer

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestVerifyRoundTrip(t *testing.T) {
	l, err := NewLocal("59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690d")
	if err != nil {
		t.Fatalf("local signer: %v", err)
	}
	fp := "sha256:" + strings.Repeat("4f", 32)
	sig, _, err := l.Sign(context.Background(), fp)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if err := Verify(fp, sig.Value, sig.SignerID); err != nil {
		t.Fatalf("verify: %v", err)
	}
}

func TestVerifyRejectsWrongSigner(t *testing.T) {
	l, _ := NewLocal("59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690d")
	fp := "sha256:" + strings.Repeat("4f", 32)
	sig, _, _ := l.Sign(context.Background(), fp)
	err := Verify(fp, sig.Value, "0x0000000000000000000000000000000000000001")
	if !errors.Is(err, ErrSignerMismatch) {
		t.Fatalf("expected ErrSignerMismatch, got %v", err)
	}
}

func TestVerifyRejectsTamperedFingerprint(t *testing.T) {
	l, _ := NewLocal("59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690d")
	fp := "sha256:" + strings.Repeat("4f", 32)
	sig, _, _ := l.Sign(context.Background(), fp)
	other := "sha256:" + strings.Repeat("00", 32)
	if err := Verify(other, sig.Value, sig.SignerID); err == nil {
		t.Fatalf("tampered fingerprint must not verify")
	}
}

func TestVerifyRejectsBadEncoding(t *testing.T) {
	fp := "sha256:" + strings.Repeat("4f", 32)
	for _, sig := range []string{"", "zz", "abcd"} {
		if err := Verify(fp, sig, "0x0000000000000000000000000000000000000001"); !errors.Is(err, ErrInvalidEncoding) {
			t.Fatalf("sig %q: expected ErrInvalidEncoding, got %v", sig, err)
		}
	}
}
