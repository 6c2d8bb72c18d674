package ports

import "context"

// WalletEventKind distinguishes ambient wallet state changes.
type WalletEventKind string

const (
	WalletConnected    WalletEventKind = "connected"
	WalletDisconnected WalletEventKind = "disconnected"
)

// WalletEvent is an ambient wallet state change.
type WalletEvent struct {
	Kind    WalletEventKind
	Address string
}

// WalletConnector is the capability surface of an external wallet provider.
// Connect is fire-and-forget: its completion is observed through Events and
// IsConnected, never through a return value.
type WalletConnector interface {
	IsConnected() bool
	Address() string
	Connect(ctx context.Context) error
	// SignMessage suspends on the wallet's signing prompt and may block
	// arbitrarily long; it returns core.ErrSignatureDeclined when the user
	// rejects the prompt.
	SignMessage(ctx context.Context, message string) ([]byte, error)
	Events() <-chan WalletEvent
}
