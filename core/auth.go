package core

import "time"

// Step is the position of a login attempt in the authentication flow.
type Step string

const (
	StepUsername   Step = "username"
	StepConnecting Step = "connecting"
	StepSigning    Step = "signing"
	StepComplete   Step = "complete"
)

// Challenge is a (nonce, message) pair to be signed by the wallet.
type Challenge struct {
	Nonce    string    `json:"nonce"`
	Message  string    `json:"message"`
	IssuedAt time.Time `json:"issued_at"`
	// Fallback marks a locally generated challenge, produced when the
	// challenge endpoint was unreachable. Sessions derived from it carry no
	// server-issued replay protection.
	Fallback bool `json:"fallback,omitempty"`
}

// Draft is the in-flight, not-yet-committed state of a login attempt.
type Draft struct {
	Step     Step   `json:"step"`
	Username string `json:"username"`
	// Challenge is set at most once per draft and only replaced through an
	// explicit clear.
	Challenge *Challenge `json:"challenge,omitempty"`
	// InitiatedConnect is true while this flow (and not some unrelated UI)
	// triggered the pending wallet-connect action.
	InitiatedConnect bool `json:"initiated_connect"`
}

// NewDraft returns a fresh draft at the initial step.
func NewDraft() *Draft {
	return &Draft{Step: StepUsername}
}

// Session is a committed, authenticated identity.
type Session struct {
	Address  string    `json:"address"`
	Username string    `json:"username"`
	Token    string    `json:"token"`
	Verified bool      `json:"verified"`
	IssuedAt time.Time `json:"issued_at"`
	// Degraded marks a session committed from a fallback challenge. Such a
	// session never becomes verified; the user must re-authenticate against
	// a reachable challenge endpoint first.
	Degraded bool `json:"degraded,omitempty"`
	// VerificationID is set while identity verification is still pending.
	VerificationID string `json:"verification_id,omitempty"`
}

// Valid reports whether the session is usable. A session without a token is
// not a valid state.
func (s *Session) Valid() bool {
	return s != nil && s.Token != "" && s.Address != ""
}

// TicketStatus is the state of a deferred identity verification.
type TicketStatus string

const (
	TicketPending  TicketStatus = "pending"
	TicketComplete TicketStatus = "complete"
	TicketFailed   TicketStatus = "failed"
)

// Terminal reports whether the status ends polling.
func (s TicketStatus) Terminal() bool {
	return s == TicketComplete || s == TicketFailed
}

// VerifyRequest is the input to signature verification.
type VerifyRequest struct {
	Message   string `json:"message"`
	Signature []byte `json:"signature_bytes"`
	Address   string `json:"expected_addr"`
	Username  string `json:"username"`
	Nonce     string `json:"nonce"`
}

// VerifyResult is the outcome of a successful verify call. A missing token
// in a 2xx response is still a failure (ErrMissingToken).
type VerifyResult struct {
	Token          string `json:"token"`
	Verified       bool   `json:"verified"`
	VerificationID string `json:"verificationId,omitempty"`
}
