// Package wallet provides an in-process wallet connector backed by a
// secp256k1 key. It stands in for a browser wallet in tests and the CLI:
// connecting is asynchronous and observed through the event channel, the
// same way a real connect dialog is.
package wallet

import (
	"context"
	"crypto/ecdsa"
	"sync"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/layer-3/sigil/core"
	"github.com/layer-3/sigil/internal/eth"
	"github.com/layer-3/sigil/ports"
)

// LocalWallet signs with a held private key and simulates the external
// connect/disconnect lifecycle.
type LocalWallet struct {
	key     *ecdsa.PrivateKey
	address string
	events  chan ports.WalletEvent

	mu        sync.RWMutex
	connected bool
	declined  bool
}

// NewLocalWallet creates a wallet around an existing key.
func NewLocalWallet(key *ecdsa.PrivateKey) *LocalWallet {
	return &LocalWallet{
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey).Hex(),
		events:  make(chan ports.WalletEvent, 8),
	}
}

// Generate creates a wallet with a fresh random key.
func Generate() (*LocalWallet, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, err
	}
	return NewLocalWallet(key), nil
}

// IsConnected reports whether the wallet is connected.
func (w *LocalWallet) IsConnected() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.connected
}

// Address returns the wallet address, or "" while disconnected.
func (w *LocalWallet) Address() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if !w.connected {
		return ""
	}
	return w.address
}

// Connect completes immediately for the local wallet; the result is still
// delivered through the event channel, never the return value.
func (w *LocalWallet) Connect(ctx context.Context) error {
	w.mu.Lock()
	already := w.connected
	w.connected = true
	w.mu.Unlock()

	if !already {
		w.events <- ports.WalletEvent{Kind: ports.WalletConnected, Address: w.address}
	}
	return nil
}

// Disconnect drops the connection and emits a disconnected event.
func (w *LocalWallet) Disconnect() {
	w.mu.Lock()
	was := w.connected
	w.connected = false
	w.mu.Unlock()

	if was {
		w.events <- ports.WalletEvent{Kind: ports.WalletDisconnected}
	}
}

// Decline makes subsequent SignMessage calls fail as a user rejection.
func (w *LocalWallet) Decline(decline bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.declined = decline
}

// SignMessage signs with the personal_sign scheme.
func (w *LocalWallet) SignMessage(ctx context.Context, message string) ([]byte, error) {
	w.mu.RLock()
	connected, declined := w.connected, w.declined
	w.mu.RUnlock()

	if !connected {
		return nil, core.ErrSignatureDeclined
	}
	if declined {
		return nil, core.ErrSignatureDeclined
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return eth.SignMessage(w.key, message)
}

// Events exposes ambient wallet state changes.
func (w *LocalWallet) Events() <-chan ports.WalletEvent {
	return w.events
}

var _ ports.WalletConnector = (*LocalWallet)(nil)
