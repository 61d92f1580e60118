package signing

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// ErrInvalidSignature is returned when a signature is malformed or does not
// recover to any signer.
var ErrInvalidSignature = errors.New("invalid signature")

// Verifier recovers the signer identity from a canonical message and its
// signature. The engine never trusts a caller-supplied address; it only
// trusts the recovered one.
type Verifier interface {
	Verify(message string, signature string) (string, error)
}

// CanonicalMessage builds the deterministic message a wallet signs when
// submitting an intent. The timestamp binds the signature to a single
// submission, so replay with altered fields fails recovery.
func CanonicalMessage(sourceToken, targetToken, sourceAmount, minTargetAmount string, slippageBps int64, timestamp int64) string {
	return fmt.Sprintf(
		`{"action":"createIntent","sourceToken":"%s","targetToken":"%s","sourceAmount":"%s","minTargetAmount":"%s","slippageBps":%d,"timestamp":%d}`,
		sourceToken, targetToken, sourceAmount, minTargetAmount, slippageBps, timestamp,
	)
}

// EthereumVerifier recovers signers from EIP-191 personal-sign signatures.
type EthereumVerifier struct{}

var _ Verifier = (*EthereumVerifier)(nil)

// NewEthereumVerifier creates a verifier for Ethereum personal-sign signatures.
func NewEthereumVerifier() *EthereumVerifier {
	return &EthereumVerifier{}
}

// Verify recovers the Ethereum address that signed message. The signature is
// the 65-byte r||s||v hex blob wallets produce; MetaMask-style v values of
// 27/28 are normalized to 0/1 before recovery.
func (v *EthereumVerifier) Verify(message string, signature string) (string, error) {
	sigData, err := hexutil.Decode(signature)
	if err != nil {
		return "", fmt.Errorf("%w: failed to decode signature: %v", ErrInvalidSignature, err)
	}
	if len(sigData) != 65 {
		return "", fmt.Errorf("%w: signature must be exactly 65 bytes", ErrInvalidSignature)
	}

	messageHash := accounts.TextHash([]byte(message))

	if sigData[64] >= 27 {
		sigData[64] -= 27
	}

	publicKey, err := crypto.SigToPub(messageHash, sigData)
	if err != nil {
		return "", fmt.Errorf("%w: failed to recover public key: %v", ErrInvalidSignature, err)
	}

	return crypto.PubkeyToAddress(*publicKey).Hex(), nil
}
