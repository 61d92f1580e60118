package signing

import (
	"testing"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signMessage(t *testing.T, message string) (address, signature string) {
	t.Helper()

	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	hash := accounts.TextHash([]byte(message))
	sig, err := crypto.Sign(hash, key)
	require.NoError(t, err)

	// Wallets report v as 27/28
	sig[64] += 27

	return crypto.PubkeyToAddress(key.PublicKey).Hex(), hexutil.Encode(sig)
}

func TestCanonicalMessage(t *testing.T) {
	msg := CanonicalMessage("ETH", "USDC", "1.5", "2700", 100, 1700000000000)
	assert.Equal(t,
		`{"action":"createIntent","sourceToken":"ETH","targetToken":"USDC","sourceAmount":"1.5","minTargetAmount":"2700","slippageBps":100,"timestamp":1700000000000}`,
		msg)
}

func TestVerifyRecoversSigner(t *testing.T) {
	v := NewEthereumVerifier()

	msg := CanonicalMessage("ETH", "USDC", "1.5", "2700", 100, 1700000000000)
	address, signature := signMessage(t, msg)

	recovered, err := v.Verify(msg, signature)
	require.NoError(t, err)
	assert.Equal(t, address, recovered)
}

func TestVerifyRawRecoveryID(t *testing.T) {
	v := NewEthereumVerifier()

	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	msg := "raw recovery id"
	sig, err := crypto.Sign(accounts.TextHash([]byte(msg)), key)
	require.NoError(t, err)

	// v left at 0/1 must also recover
	recovered, err := v.Verify(msg, hexutil.Encode(sig))
	require.NoError(t, err)
	assert.Equal(t, crypto.PubkeyToAddress(key.PublicKey).Hex(), recovered)
}

func TestVerifyTamperedMessage(t *testing.T) {
	v := NewEthereumVerifier()

	msg := CanonicalMessage("ETH", "USDC", "1.5", "2700", 100, 1700000000000)
	address, signature := signMessage(t, msg)

	// Changing any signed field yields a different signer
	tampered := CanonicalMessage("ETH", "USDC", "150", "2700", 100, 1700000000000)
	recovered, err := v.Verify(tampered, signature)
	require.NoError(t, err)
	assert.NotEqual(t, address, recovered)
}

func TestVerifyMalformedSignature(t *testing.T) {
	v := NewEthereumVerifier()

	_, err := v.Verify("message", "not-hex")
	assert.ErrorIs(t, err, ErrInvalidSignature)

	_, err = v.Verify("message", "0x1234")
	assert.ErrorIs(t, err, ErrInvalidSignature)
}
