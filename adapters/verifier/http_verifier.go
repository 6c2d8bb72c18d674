// Package verifier implements the signature-verification port over the
// remote verify and verification-status endpoints.
package verifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/layer-3/sigil/core"
	"github.com/layer-3/sigil/ports"
)

// HTTPVerifier calls the backend verify and status endpoints.
type HTTPVerifier struct {
	baseURL string
	client  *http.Client
}

// Option configures the verifier.
type Option func(*HTTPVerifier)

// WithHTTPClient sets the HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(v *HTTPVerifier) { v.client = client }
}

// NewHTTPVerifier creates a verifier against a backend base URL.
func NewHTTPVerifier(baseURL string, opts ...Option) *HTTPVerifier {
	v := &HTTPVerifier{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

type verifyResponse struct {
	JWT            string `json:"jwt"`
	Token          string `json:"token"`
	Verified       bool   `json:"verified"`
	VerificationID string `json:"verificationId"`
}

// Verify posts the signed challenge to the verify endpoint. A success shape
// without a usable token is reported as core.ErrMissingToken.
func (v *HTTPVerifier) Verify(ctx context.Context, req core.VerifyRequest) (core.VerifyResult, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return core.VerifyResult{}, fmt.Errorf("encode verify request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, v.baseURL+"/auth/verify", bytes.NewReader(payload))
	if err != nil {
		return core.VerifyResult{}, fmt.Errorf("build verify request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := v.client.Do(httpReq)
	if err != nil {
		return core.VerifyResult{}, fmt.Errorf("%w: %v", core.ErrVerificationRejected, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return core.VerifyResult{}, fmt.Errorf("%w: status %d", core.ErrVerificationRejected, resp.StatusCode)
	}

	var body verifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return core.VerifyResult{}, fmt.Errorf("%w: decode: %v", core.ErrVerificationRejected, err)
	}

	// Backends answer with either "jwt" or "token".
	token := body.JWT
	if token == "" {
		token = body.Token
	}
	if token == "" {
		return core.VerifyResult{}, core.ErrMissingToken
	}

	return core.VerifyResult{
		Token:          token,
		Verified:       body.Verified,
		VerificationID: body.VerificationID,
	}, nil
}

type statusResponse struct {
	Status core.TicketStatus `json:"status"`
}

// Status queries the verification status of a pending ticket.
func (v *HTTPVerifier) Status(ctx context.Context, verificationID string) (core.TicketStatus, error) {
	url := fmt.Sprintf("%s/auth/verification/%s", v.baseURL, verificationID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("build status request: %w", err)
	}

	resp, err := v.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", core.ErrPollFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: status %d", core.ErrPollFailed, resp.StatusCode)
	}

	var body statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("%w: decode: %v", core.ErrPollFailed, err)
	}
	return body.Status, nil
}

var _ ports.SignatureVerifier = (*HTTPVerifier)(nil)
