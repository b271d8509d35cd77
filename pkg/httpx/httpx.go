// Package httpx holds the small JSON plumbing shared by HTTP surfaces.
package httpx

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
)

func NewRequestID() string { return "req_" + uuid.NewString() }

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError renders the uniform error envelope. The request id lets a
// caller quote the exact failure when reporting ingestion problems.
func WriteError(w http.ResponseWriter, status int, code, message string) {
	WriteJSON(w, status, map[string]any{
		"request_id": NewRequestID(),
		"error":      map[string]any{"code": code, "message": message},
	})
}
