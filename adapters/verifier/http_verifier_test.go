package verifier

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/layer-3/sigil/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifyImmediateSession(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/auth/verify", r.URL.Path)

		var req core.VerifyRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "alice", req.Username)
		assert.Equal(t, "n1", req.Nonce)

		json.NewEncoder(w).Encode(map[string]any{"jwt": "t1", "verified": true})
	}))
	defer srv.Close()

	v := NewHTTPVerifier(srv.URL)
	res, err := v.Verify(context.Background(), core.VerifyRequest{
		Message:   "msg",
		Signature: []byte{1, 2},
		Address:   "0xabc",
		Username:  "alice",
		Nonce:     "n1",
	})
	require.NoError(t, err)
	assert.Equal(t, "t1", res.Token)
	assert.True(t, res.Verified)
	assert.Empty(t, res.VerificationID)
}

func TestVerifyDeferredSession(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"token": "t1", "verified": false, "verificationId": "v1"})
	}))
	defer srv.Close()

	v := NewHTTPVerifier(srv.URL)
	res, err := v.Verify(context.Background(), core.VerifyRequest{})
	require.NoError(t, err)
	assert.Equal(t, "t1", res.Token)
	assert.False(t, res.Verified)
	assert.Equal(t, "v1", res.VerificationID)
}

func TestVerifyMissingToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"verified": true})
	}))
	defer srv.Close()

	v := NewHTTPVerifier(srv.URL)
	_, err := v.Verify(context.Background(), core.VerifyRequest{})
	assert.ErrorIs(t, err, core.ErrMissingToken)
}

func TestVerifyNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	v := NewHTTPVerifier(srv.URL)
	_, err := v.Verify(context.Background(), core.VerifyRequest{})
	assert.ErrorIs(t, err, core.ErrVerificationRejected)
}

func TestStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/auth/verification/v1", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]any{"status": "complete"})
	}))
	defer srv.Close()

	v := NewHTTPVerifier(srv.URL)
	status, err := v.Status(context.Background(), "v1")
	require.NoError(t, err)
	assert.Equal(t, core.TicketComplete, status)
}
