package ingest

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/BrKDDD/LawAgent2/internal/anchorstore"
	"github.com/BrKDDD/LawAgent2/internal/logging"
	"github.com/BrKDDD/LawAgent2/internal/pipeline"
	"github.com/BrKDDD/LawAgent2/pkg/domain"
)

type fakePipe struct {
	platforms []string
	payloads  [][]byte
	err       error
}

func (f *fakePipe) Ingest(_ context.Context, platform string, payload []byte) error {
	if f.err != nil {
		return f.err
	}
	f.platforms = append(f.platforms, platform)
	f.payloads = append(f.payloads, payload)
	return nil
}

const secret = "webhook-secret"

func sign(body string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(body))
	return hex.EncodeToString(mac.Sum(nil))
}

func newTestServer(pipe Ingestor, store anchorstore.Store) *httptest.Server {
	s := New(pipe, store, secret, []string{"dingtalk", "wechat_work"}, logging.Nop())
	return httptest.NewServer(s.Router())
}

func post(t *testing.T, url, body, sig string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, url, strings.NewReader(body))
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if sig != "" {
		req.Header.Set(SignatureHeader, sig)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	return resp
}

func TestIngestAcceptsSignedPayload(t *testing.T) {
	pipe := &fakePipe{}
	srv := newTestServer(pipe, anchorstore.NewMemory())
	defer srv.Close()

	body := `{"senderStaffId":"u1","conversationId":"c1","createAt":1719482000000,"text":{"content":"加班"}}`
	resp := post(t, srv.URL+"/ingest/dingtalk", body, sign(body))
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}
	if len(pipe.payloads) != 1 || string(pipe.payloads[0]) != body {
		t.Fatalf("payload not forwarded verbatim")
	}
	if pipe.platforms[0] != "dingtalk" {
		t.Fatalf("unexpected platform %q", pipe.platforms[0])
	}
}

func TestIngestRejectsBadSignature(t *testing.T) {
	pipe := &fakePipe{}
	srv := newTestServer(pipe, anchorstore.NewMemory())
	defer srv.Close()

	for _, sig := range []string{"", "not-hex", sign("different body")} {
		resp := post(t, srv.URL+"/ingest/dingtalk", `{"a":1}`, sig)
		resp.Body.Close()
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("sig %q: expected 401, got %d", sig, resp.StatusCode)
		}
	}
	if len(pipe.payloads) != 0 {
		t.Fatalf("unauthorized payloads must not reach the pipeline")
	}
}

func TestIngestUnknownPlatform(t *testing.T) {
	srv := newTestServer(&fakePipe{}, anchorstore.NewMemory())
	defer srv.Close()
	resp := post(t, srv.URL+"/ingest/slack", `{}`, sign(`{}`))
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestIngestDuringShutdown(t *testing.T) {
	srv := newTestServer(&fakePipe{err: pipeline.ErrStopped}, anchorstore.NewMemory())
	defer srv.Close()
	body := `{}`
	resp := post(t, srv.URL+"/ingest/dingtalk", body, sign(body))
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", resp.StatusCode)
	}
}

func TestAnchorStatusLookup(t *testing.T) {
	store := anchorstore.NewMemory()
	ctx := context.Background()
	fp := "sha256:" + strings.Repeat("ab", 32)
	if _, _, err := store.CreateIfAbsent(ctx, fp); err != nil {
		t.Fatalf("seed: %v", err)
	}
	srv := newTestServer(&fakePipe{}, store)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/anchors/" + fp)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var rec domain.AnchorRecord
	if err := json.NewDecoder(resp.Body).Decode(&rec); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rec.Fingerprint != fp || rec.Status != domain.StatusPending {
		t.Fatalf("unexpected record %+v", rec)
	}

	missing, err := http.Get(srv.URL + "/anchors/sha256:" + strings.Repeat("00", 32))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	missing.Body.Close()
	if missing.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown fingerprint, got %d", missing.StatusCode)
	}
}

func TestHealth(t *testing.T) {
	srv := newTestServer(&fakePipe{}, anchorstore.NewMemory())
	defer srv.Close()
	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}
