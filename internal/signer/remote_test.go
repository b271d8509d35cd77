package signer

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/BrKDDD/LawAgent2/pkg/domain"
	"github.com/BrKDDD/LawAgent2/pkg/retry"
)

const testFP = "sha256:0b8e7f3a0b8e7f3a0b8e7f3a0b8e7f3a0b8e7f3a0b8e7f3a0b8e7f3a0b8e7f3a"

func newRemote(url string, attempts int) *Remote {
	return NewRemote(url, "tok_test", "key_1", "0xabc", retry.ZeroDelay(attempts), time.Second)
}

func TestRemoteSignSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/keys/key_1/sign" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer tok_test" {
			t.Errorf("missing bearer token")
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"signature":"deadbeef","signer_id":"0xabc"}`))
	}))
	defer srv.Close()

	sig, attempts, err := newRemote(srv.URL, 5).Sign(context.Background(), testFP)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if attempts != 1 {
		t.Fatalf("expected 1 attempt, got %d", attempts)
	}
	if sig.Value != "deadbeef" || sig.SignerID != "0xabc" {
		t.Fatalf("unexpected signature: %+v", sig)
	}
}

func TestRemoteSignRetriesTransientToCap(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, attempts, err := newRemote(srv.URL, 5).Sign(context.Background(), testFP)
	if err == nil {
		t.Fatalf("expected error")
	}
	if got := atomic.LoadInt32(&calls); got != 5 || attempts != 5 {
		t.Fatalf("expected exactly 5 attempts, got calls=%d attempts=%d", got, attempts)
	}
	if !domain.IsTransient(err) {
		t.Fatalf("expected transient classification, got %v", err)
	}
}

func TestRemoteSignRecoversAfterTransient(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`{"signature":"cafe"}`))
	}))
	defer srv.Close()

	sig, attempts, err := newRemote(srv.URL, 5).Sign(context.Background(), testFP)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
	if sig.SignerID != "0xabc" {
		t.Fatalf("expected client identity fallback, got %q", sig.SignerID)
	}
}

func TestRemoteSignRejectedNoRetry(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"unknown key"}`))
	}))
	defer srv.Close()

	_, attempts, err := newRemote(srv.URL, 5).Sign(context.Background(), testFP)
	if !errors.Is(err, ErrRejected) {
		t.Fatalf("expected ErrRejected, got %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 1 || attempts != 1 {
		t.Fatalf("rejection must not be retried: calls=%d attempts=%d", got, attempts)
	}
	if domain.IsTransient(err) {
		t.Fatalf("rejection must not be transient")
	}
}

func TestLocalSignerDeterministicIdentity(t *testing.T) {
	// Fixed throwaway key.
	l, err := NewLocal("0x59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690d")
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	sig1, attempts, err := l.Sign(context.Background(), testFP)
	if err != nil || attempts != 1 {
		t.Fatalf("unexpected result: attempts=%d err=%v", attempts, err)
	}
	sig2, _, _ := l.Sign(context.Background(), testFP)
	if sig1.SignerID != l.Identity() || sig1.SignerID == "" {
		t.Fatalf("unexpected signer identity %q", sig1.SignerID)
	}
	if sig1.Value != sig2.Value {
		t.Fatalf("local signing must be deterministic for the same fingerprint")
	}
}
