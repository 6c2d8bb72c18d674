package ports

import (
	"context"

	"github.com/layer-3/sigil/core"
)

// ChallengeProvider issues a one-time (nonce, message) pair to be signed.
// Challenges are anonymous: no input is required.
type ChallengeProvider interface {
	Challenge(ctx context.Context) (core.Challenge, error)
	// Invalidate drops any cached challenge. Nonces are single-use: a
	// challenge that has been submitted for verification must never be
	// served to a later attempt.
	Invalidate()
}
