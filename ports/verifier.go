package ports

import (
	"context"

	"github.com/layer-3/sigil/core"
)

// SignatureVerifier validates a signed challenge and reports the status of
// deferred identity verification tickets.
type SignatureVerifier interface {
	// Verify returns core.ErrMissingToken when the backend answers with a
	// success shape that carries no usable token.
	Verify(ctx context.Context, req core.VerifyRequest) (core.VerifyResult, error)
	Status(ctx context.Context, verificationID string) (core.TicketStatus, error)
}
