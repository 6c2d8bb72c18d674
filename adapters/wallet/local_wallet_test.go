package wallet

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/layer-3/sigil/core"
	"github.com/layer-3/sigil/internal/eth"
	"github.com/layer-3/sigil/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnectEmitsEvent(t *testing.T) {
	w, err := Generate()
	require.NoError(t, err)

	assert.False(t, w.IsConnected())
	assert.Empty(t, w.Address())

	require.NoError(t, w.Connect(context.Background()))
	ev := <-w.Events()
	assert.Equal(t, ports.WalletConnected, ev.Kind)
	assert.Equal(t, w.Address(), ev.Address)
	assert.True(t, w.IsConnected())

	// Reconnecting while connected emits nothing.
	require.NoError(t, w.Connect(context.Background()))
	select {
	case ev := <-w.Events():
		t.Fatalf("unexpected event %v", ev)
	default:
	}
}

func TestDisconnectEmitsEvent(t *testing.T) {
	w, err := Generate()
	require.NoError(t, err)
	require.NoError(t, w.Connect(context.Background()))
	<-w.Events()

	w.Disconnect()
	ev := <-w.Events()
	assert.Equal(t, ports.WalletDisconnected, ev.Kind)
	assert.False(t, w.IsConnected())
}

func TestSignMessageRecoverable(t *testing.T) {
	w, err := Generate()
	require.NoError(t, err)
	require.NoError(t, w.Connect(context.Background()))
	<-w.Events()

	sig, err := w.SignMessage(context.Background(), "sign me")
	require.NoError(t, err)

	ok, err := eth.VerifySignature("sign me", sig, common.HexToAddress(w.Address()))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSignMessageDeclined(t *testing.T) {
	w, err := Generate()
	require.NoError(t, err)
	require.NoError(t, w.Connect(context.Background()))
	<-w.Events()

	w.Decline(true)
	_, err = w.SignMessage(context.Background(), "sign me")
	assert.ErrorIs(t, err, core.ErrSignatureDeclined)
}

func TestSignMessageWhileDisconnected(t *testing.T) {
	w, err := Generate()
	require.NoError(t, err)

	_, err = w.SignMessage(context.Background(), "sign me")
	assert.ErrorIs(t, err, core.ErrSignatureDeclined)
}
