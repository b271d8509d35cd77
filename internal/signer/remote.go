package signer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/BrKDDD/LawAgent2/pkg/retry"
)

// Remote calls a key-management service over HTTPS. The key itself never
// leaves the service; wallet custody is delegated entirely.
type Remote struct {
	BaseURL    string
	HTTPClient *http.Client
	Bearer     string

	keyRef   string
	identity string
	policy   retry.Policy
}

// NewRemote builds a client for keyRef. identity is the on-chain account
// the service signs under; callTimeout bounds each individual attempt.
func NewRemote(baseURL, bearer, keyRef, identity string, policy retry.Policy, callTimeout time.Duration) *Remote {
	return &Remote{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{Timeout: callTimeout},
		Bearer:     bearer,
		keyRef:     keyRef,
		identity:   identity,
		policy:     policy,
	}
}

func (r *Remote) Identity() string { return r.identity }

type signRequest struct {
	PayloadHash string `json:"payload_hash"`
}

type signResponse struct {
	Signature string `json:"signature"`
	SignerID  string `json:"signer_id,omitempty"`
}

// Sign requests a signature over fingerprint, retrying transient
// failures with backoff up to the policy cap. Rejections are returned
// after exactly one attempt.
func (r *Remote) Sign(ctx context.Context, fingerprint string) (Signature, int, error) {
	var out Signature
	attempts, err := r.policy.Do(ctx, func(ctx context.Context) error {
		sig, err := r.signOnce(ctx, fingerprint)
		if err != nil {
			return err
		}
		out = sig
		return nil
	}, func(err error) bool {
		var t *transientError
		return errors.As(err, &t)
	})
	return out, attempts, err
}

func (r *Remote) signOnce(ctx context.Context, fingerprint string) (Signature, error) {
	body, err := json.Marshal(signRequest{PayloadHash: fingerprint})
	if err != nil {
		return Signature{}, fmt.Errorf("%w: %v", ErrRejected, err)
	}
	u := fmt.Sprintf("%s/v1/keys/%s/sign", r.BaseURL, url.PathEscape(r.keyRef))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return Signature{}, fmt.Errorf("%w: %v", ErrRejected, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if r.Bearer != "" {
		req.Header.Set("Authorization", "Bearer "+r.Bearer)
	}
	resp, err := r.HTTPClient.Do(req)
	if err != nil {
		// Network failures and timeouts are retryable.
		return Signature{}, &transientError{err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode < 300:
	case resp.StatusCode == http.StatusRequestTimeout,
		resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode >= 500:
		return Signature{}, &transientError{fmt.Errorf("signer http %d", resp.StatusCode)}
	default:
		var errBody map[string]any
		_ = json.NewDecoder(resp.Body).Decode(&errBody)
		return Signature{}, fmt.Errorf("%w: http %d: %v", ErrRejected, resp.StatusCode, errBody)
	}

	var sr signResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return Signature{}, &transientError{fmt.Errorf("decoding signer response: %w", err)}
	}
	if sr.Signature == "" {
		return Signature{}, fmt.Errorf("%w: empty signature in response", ErrRejected)
	}
	id := sr.SignerID
	if id == "" {
		id = r.identity
	}
	return Signature{Value: sr.Signature, SignerID: id}, nil
}
