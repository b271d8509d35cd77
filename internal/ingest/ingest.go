// Package ingest is the HTTP capture surface: platform adapters POST raw
// callback payloads here and the pipeline takes over.
package ingest

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/BrKDDD/LawAgent2/internal/anchorstore"
	"github.com/BrKDDD/LawAgent2/internal/logging"
	"github.com/BrKDDD/LawAgent2/internal/pipeline"
	"github.com/BrKDDD/LawAgent2/pkg/httpx"
)

// SignatureHeader carries the hex HMAC-SHA256 of the raw request body,
// keyed with the shared webhook secret.
const SignatureHeader = "X-Signature"

const maxBodyBytes = 1 << 20

// Ingestor is the pipeline admission surface the server needs.
type Ingestor interface {
	Ingest(ctx context.Context, platform string, payload []byte) error
}

// Server exposes ingestion plus a read-only anchor status lookup.
type Server struct {
	pipe      Ingestor
	store     anchorstore.Store
	secret    string
	platforms map[string]bool
	log       *logging.Logger
}

// New builds the server. An empty secret disables signature checking
// (dev only); an empty platform list admits every platform path.
func New(pipe Ingestor, store anchorstore.Store, secret string, platforms []string, log *logging.Logger) *Server {
	allowed := map[string]bool{}
	for _, p := range platforms {
		if p = strings.TrimSpace(p); p != "" {
			allowed[p] = true
		}
	}
	return &Server{pipe: pipe, store: store, secret: secret, platforms: allowed, log: log.Named("ingest")}
}

func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200) })
	r.Post("/ingest/{platform}", s.handleIngest)
	r.Get("/anchors/{fingerprint}", s.handleAnchorStatus)
	return r
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	platform := chi.URLParam(r, "platform")
	if len(s.platforms) > 0 && !s.platforms[platform] {
		httpx.WriteError(w, http.StatusNotFound, "unknown_platform", "platform not enabled")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "unreadable_body", err.Error())
		return
	}
	if len(body) > maxBodyBytes {
		httpx.WriteError(w, http.StatusRequestEntityTooLarge, "body_too_large", "payload exceeds 1MiB")
		return
	}

	if s.secret != "" && !s.verify(r.Header, body) {
		httpx.WriteError(w, http.StatusUnauthorized, "bad_signature", "body signature missing or invalid")
		return
	}

	// A full queue blocks here until a worker frees a slot or the caller
	// gives up; the platform retries on its own schedule.
	if err := s.pipe.Ingest(r.Context(), platform, body); err != nil {
		switch {
		case errors.Is(err, pipeline.ErrStopped):
			httpx.WriteError(w, http.StatusServiceUnavailable, "shutting_down", "ingestion stopped")
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			httpx.WriteError(w, http.StatusServiceUnavailable, "queue_full", "ingestion queue saturated")
		default:
			httpx.WriteError(w, http.StatusInternalServerError, "ingest_failed", err.Error())
		}
		return
	}
	httpx.WriteJSON(w, http.StatusAccepted, map[string]any{"accepted": true, "platform": platform})
}

func (s *Server) handleAnchorStatus(w http.ResponseWriter, r *http.Request) {
	fp := chi.URLParam(r, "fingerprint")
	rec, found, err := s.store.Get(r.Context(), fp)
	if err != nil {
		httpx.WriteError(w, http.StatusInternalServerError, "store_unavailable", err.Error())
		return
	}
	if !found {
		httpx.WriteError(w, http.StatusNotFound, "unknown_fingerprint", "no anchor record")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, rec)
}

// verify checks the hex HMAC-SHA256 body signature with a constant-time
// compare.
func (s *Server) verify(headers http.Header, body []byte) bool {
	sigHex := strings.TrimSpace(headers.Get(SignatureHeader))
	if sigHex == "" {
		return false
	}
	provided, err := hex.DecodeString(sigHex)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(s.secret))
	_, _ = mac.Write(body)
	return hmac.Equal(mac.Sum(nil), provided)
}
