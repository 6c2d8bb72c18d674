package core

import "errors"

var (
	// Flow failures surfaced to the user.
	ErrChallengeUnavailable = errors.New("challenge endpoint unavailable")
	ErrSignatureDeclined    = errors.New("signature request declined")
	ErrVerificationRejected = errors.New("signature verification rejected")
	ErrMissingToken         = errors.New("verify response missing session token")
	ErrPollTimeout          = errors.New("verification polling timed out")
	ErrPollFailed           = errors.New("identity verification failed")

	// State-machine violations.
	ErrInvalidStep   = errors.New("operation not valid in current step")
	ErrEmptyUsername = errors.New("username must not be empty")
	ErrSignInFlight  = errors.New("sign and verify already in progress")
	ErrCancelIllegal = errors.New("cancellation not legal in current step")
	ErrStaleAttempt  = errors.New("result belongs to a superseded attempt")

	// Persistence failures.
	ErrNotFound             = errors.New("record not found")
	ErrStoreOperationFailed = errors.New("store operation failed")
)
