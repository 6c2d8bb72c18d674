// Package challenge implements the challenge-issuing port over the remote
// challenge endpoint, with a local fallback when the endpoint is down.
package challenge

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/layer-3/sigil/core"
	"github.com/layer-3/sigil/ports"
	"go.uber.org/zap"
)

// DefaultCacheTTL bounds how long a fetched challenge is reused. The
// orchestrator fetches at most once per draft anyway; the cache covers
// repeated drafts in quick succession.
const DefaultCacheTTL = 30 * time.Second

// HTTPProvider fetches challenges from the remote endpoint and synthesizes
// a local one when the request fails. A fallback challenge trades
// server-issued replay protection for availability and is marked as such.
type HTTPProvider struct {
	baseURL  string
	client   *http.Client
	log      *zap.Logger
	cacheTTL time.Duration
	now      func() time.Time

	mu      sync.Mutex
	cached  *core.Challenge
	fetched time.Time
}

// Option configures the provider.
type Option func(*HTTPProvider)

// WithLogger sets the logger.
func WithLogger(log *zap.Logger) Option {
	return func(p *HTTPProvider) { p.log = log }
}

// WithHTTPClient sets the HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(p *HTTPProvider) { p.client = client }
}

// WithCacheTTL sets the challenge cache lifetime.
func WithCacheTTL(ttl time.Duration) Option {
	return func(p *HTTPProvider) { p.cacheTTL = ttl }
}

// NewHTTPProvider creates a challenge provider against a backend base URL.
func NewHTTPProvider(baseURL string, opts ...Option) *HTTPProvider {
	p := &HTTPProvider{
		baseURL:  baseURL,
		client:   &http.Client{Timeout: 10 * time.Second},
		log:      zap.NewNop(),
		cacheTTL: DefaultCacheTTL,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

type challengeResponse struct {
	Nonce string `json:"nonce"`
	Msg   string `json:"msg"`
}

// Challenge returns a cached, freshly fetched, or fallback challenge. The
// returned error is nil even on the degraded path; callers detect it via
// Challenge.Fallback.
func (p *HTTPProvider) Challenge(ctx context.Context) (core.Challenge, error) {
	p.mu.Lock()
	if p.cached != nil && p.now().Sub(p.fetched) < p.cacheTTL {
		ch := *p.cached
		p.mu.Unlock()
		return ch, nil
	}
	p.mu.Unlock()

	ch, err := p.fetch(ctx)
	if err != nil {
		p.log.Warn("challenge endpoint unavailable, generating fallback", zap.Error(err))
		fallback, genErr := p.generateFallback()
		if genErr != nil {
			return core.Challenge{}, genErr
		}
		return fallback, nil
	}

	p.mu.Lock()
	p.cached = &ch
	p.fetched = p.now()
	p.mu.Unlock()
	return ch, nil
}

func (p *HTTPProvider) fetch(ctx context.Context) (core.Challenge, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/auth/challenge", nil)
	if err != nil {
		return core.Challenge{}, fmt.Errorf("build challenge request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return core.Challenge{}, fmt.Errorf("%w: %v", core.ErrChallengeUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return core.Challenge{}, fmt.Errorf("%w: status %d", core.ErrChallengeUnavailable, resp.StatusCode)
	}

	var body challengeResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return core.Challenge{}, fmt.Errorf("%w: decode: %v", core.ErrChallengeUnavailable, err)
	}
	if body.Nonce == "" || body.Msg == "" {
		return core.Challenge{}, fmt.Errorf("%w: empty challenge", core.ErrChallengeUnavailable)
	}

	return core.Challenge{Nonce: body.Nonce, Message: body.Msg, IssuedAt: p.now()}, nil
}

// Invalidate drops the cached challenge. The backend consumes the nonce on
// first verification, so a submitted challenge is dead regardless of the
// cache TTL.
func (p *HTTPProvider) Invalidate() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cached = nil
}

// generateFallback synthesizes a challenge locally: a random,
// timestamp-derived nonce and a human-readable timestamp message.
func (p *HTTPProvider) generateFallback() (core.Challenge, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return core.Challenge{}, fmt.Errorf("generate fallback nonce: %w", err)
	}

	now := p.now()
	nonce := fmt.Sprintf("%s-%d", hex.EncodeToString(buf), now.UnixNano())
	message := fmt.Sprintf("Sign in at %s", now.UTC().Format(time.RFC3339))

	return core.Challenge{
		Nonce:    nonce,
		Message:  message,
		IssuedAt: now,
		Fallback: true,
	}, nil
}

var _ ports.ChallengeProvider = (*HTTPProvider)(nil)
