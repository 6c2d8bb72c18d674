package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/layer-3/sigil/core"
	"github.com/layer-3/sigil/internal/eth"
	"github.com/layer-3/sigil/ports"
	"go.uber.org/zap"
)

// AuthService is the server side of wallet login: it issues challenges,
// verifies signed challenges, mints session tokens and tracks deferred
// identity verification tickets. The production verification backend is
// external; this service exists so the orchestrator can be exercised end to
// end in development and tests.
type AuthService struct {
	tokenizer ports.Tokenizer
	store     ports.KV
	eventPub  ports.EventPublisher
	log       *zap.Logger

	challengeTTL time.Duration
	ticketTTL    time.Duration
	// verifyDelay simulates the external identity-verification turnaround
	// for first-seen usernames.
	verifyDelay time.Duration
}

// AuthServiceOption configures the service.
type AuthServiceOption func(*AuthService)

// WithAuthLogger sets the logger.
func WithAuthLogger(log *zap.Logger) AuthServiceOption {
	return func(s *AuthService) { s.log = log }
}

// WithVerifyDelay sets the simulated identity-verification turnaround.
func WithVerifyDelay(d time.Duration) AuthServiceOption {
	return func(s *AuthService) { s.verifyDelay = d }
}

// NewAuthService creates a new authentication service.
func NewAuthService(tokenizer ports.Tokenizer, store ports.KV, eventPub ports.EventPublisher, opts ...AuthServiceOption) *AuthService {
	s := &AuthService{
		tokenizer:    tokenizer,
		store:        store,
		eventPub:     eventPub,
		log:          zap.NewNop(),
		challengeTTL: 5 * time.Minute,
		ticketTTL:    24 * time.Hour,
		verifyDelay:  5 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func nonceKey(nonce string) string { return fmt.Sprintf("nonce:%s", nonce) }

func ticketKey(id string) string { return fmt.Sprintf("ticket:%s", id) }

func identityKey(address, username string) string {
	return fmt.Sprintf("identity:%s:%s", address, username)
}

// CreateChallenge generates a new anonymous authentication challenge and
// registers its nonce for single use.
func (s *AuthService) CreateChallenge(ctx context.Context) (core.Challenge, error) {
	nonceBytes := make([]byte, 32)
	if _, err := rand.Read(nonceBytes); err != nil {
		return core.Challenge{}, fmt.Errorf("failed to generate nonce: %w", err)
	}

	now := time.Now()
	challenge := core.Challenge{
		Nonce:    hex.EncodeToString(nonceBytes),
		IssuedAt: now,
	}
	challenge.Message = fmt.Sprintf("Sign this message to authenticate.\nNonce: %s\nIssued: %s",
		challenge.Nonce, now.UTC().Format(time.RFC3339))

	if err := s.store.Set(ctx, nonceKey(challenge.Nonce), challenge.Message, s.challengeTTL); err != nil {
		return core.Challenge{}, fmt.Errorf("failed to register nonce: %w", err)
	}
	return challenge, nil
}

// VerifyLogin checks a signed challenge and issues a session token. The
// nonce must be known, unexpired and unused; it is consumed here. First-seen
// (address, username) pairs get a pending verification ticket and an
// optimistic unverified session.
func (s *AuthService) VerifyLogin(ctx context.Context, req core.VerifyRequest) (core.VerifyResult, error) {
	message, err := s.store.Get(ctx, nonceKey(req.Nonce))
	if err != nil {
		return core.VerifyResult{}, fmt.Errorf("%w: unknown or expired nonce", core.ErrVerificationRejected)
	}
	if message != req.Message {
		return core.VerifyResult{}, fmt.Errorf("%w: message does not match nonce", core.ErrVerificationRejected)
	}

	// Single use.
	if err := s.store.Delete(ctx, nonceKey(req.Nonce)); err != nil {
		return core.VerifyResult{}, core.ErrStoreOperationFailed
	}

	verified, err := eth.VerifySignature(req.Message, req.Signature, common.HexToAddress(req.Address))
	if err != nil {
		return core.VerifyResult{}, fmt.Errorf("%w: %v", core.ErrVerificationRejected, err)
	}
	if !verified {
		return core.VerifyResult{}, fmt.Errorf("%w: signer mismatch", core.ErrVerificationRejected)
	}

	session := &core.Session{
		Address:  req.Address,
		Username: req.Username,
		IssuedAt: time.Now(),
	}

	var verificationID string
	if _, err := s.store.Get(ctx, identityKey(req.Address, req.Username)); err == nil {
		session.Verified = true
	} else if errors.Is(err, core.ErrNotFound) {
		verificationID = uuid.New().String()
		if err := s.store.Set(ctx, ticketKey(verificationID), string(core.TicketPending), s.ticketTTL); err != nil {
			return core.VerifyResult{}, core.ErrStoreOperationFailed
		}
		s.scheduleVerification(req.Address, req.Username, verificationID)
	} else {
		return core.VerifyResult{}, core.ErrStoreOperationFailed
	}

	token, err := s.tokenizer.SessionToToken(session)
	if err != nil {
		return core.VerifyResult{}, fmt.Errorf("failed to create session token: %w", err)
	}
	session.Token = token

	if s.eventPub != nil {
		if err := s.eventPub.PublishLogin(ctx, session.Address, session.Username, session.Verified); err != nil {
			s.log.Warn("publish login event failed", zap.Error(err))
		}
	}

	return core.VerifyResult{
		Token:          token,
		Verified:       session.Verified,
		VerificationID: verificationID,
	}, nil
}

// scheduleVerification completes a pending ticket after the configured
// delay, standing in for the external identity-verification service.
func (s *AuthService) scheduleVerification(address, username, verificationID string) {
	time.AfterFunc(s.verifyDelay, func() {
		ctx := context.Background()
		if err := s.store.Set(ctx, ticketKey(verificationID), string(core.TicketComplete), s.ticketTTL); err != nil {
			s.log.Warn("failed to complete verification ticket",
				zap.String("verification_id", verificationID), zap.Error(err))
			return
		}
		if err := s.store.Set(ctx, identityKey(address, username), "1", 0); err != nil {
			s.log.Warn("failed to record verified identity", zap.Error(err))
		}
		if s.eventPub != nil {
			if err := s.eventPub.PublishVerified(ctx, address, verificationID); err != nil {
				s.log.Warn("publish verified event failed", zap.Error(err))
			}
		}
	})
}

// TicketStatus reports the status of a verification ticket.
func (s *AuthService) TicketStatus(ctx context.Context, verificationID string) (core.TicketStatus, error) {
	raw, err := s.store.Get(ctx, ticketKey(verificationID))
	if err != nil {
		return "", err
	}
	return core.TicketStatus(raw), nil
}

// ValidateToken parses and validates a session bearer token.
func (s *AuthService) ValidateToken(ctx context.Context, token string) (*core.Session, error) {
	return s.tokenizer.TokenToSession(token)
}

// Logout publishes the logout event for a validated token.
func (s *AuthService) Logout(ctx context.Context, token string) error {
	session, err := s.tokenizer.TokenToSession(token)
	if err != nil {
		return err
	}
	if s.eventPub != nil {
		if err := s.eventPub.PublishLogout(ctx, session.Address); err != nil {
			s.log.Warn("publish logout event failed", zap.Error(err))
		}
	}
	return nil
}
