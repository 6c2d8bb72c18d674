package eth

import (
	"crypto/ecdsa"
	"fmt"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// SignMessage signs a message with the personal_sign scheme: the payload is
// hashed with the "\x19Ethereum Signed Message:\n" prefix and the recovery
// id is shifted to the 27/28 range wallets produce.
func SignMessage(key *ecdsa.PrivateKey, message string) ([]byte, error) {
	sig, err := crypto.Sign(accounts.TextHash([]byte(message)), key)
	if err != nil {
		return nil, fmt.Errorf("sign message: %w", err)
	}
	sig[64] += 27
	return sig, nil
}

// RecoverAddress recovers the signer address of a personal_sign signature.
func RecoverAddress(message string, signature []byte) (common.Address, error) {
	if len(signature) != 65 {
		return common.Address{}, fmt.Errorf("signature must be 65 bytes, got %d", len(signature))
	}

	// Normalize the recovery id back to 0/1 for SigToPub.
	sig := make([]byte, 65)
	copy(sig, signature)
	if sig[64] >= 27 {
		sig[64] -= 27
	}

	pub, err := crypto.SigToPub(accounts.TextHash([]byte(message)), sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("recover public key: %w", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// VerifySignature checks a personal_sign signature against an expected
// signer address.
func VerifySignature(message string, signature []byte, expected common.Address) (bool, error) {
	recovered, err := RecoverAddress(message, signature)
	if err != nil {
		return false, err
	}
	return recovered == expected, nil
}
