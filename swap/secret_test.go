package swap

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/stretchr/testify/require"
)

// TestGenerateSecret asserts that generated secrets commit to their hash.
func TestGenerateSecret(t *testing.T) {
	secret, hash, err := GenerateSecret()
	require.NoError(t, err)

	require.Equal(t, lntypes.Hash(sha256.Sum256(secret[:])), hash)
	require.True(t, VerifySecret(secret, hash))

	// A second draw must produce a different secret.
	secret2, _, err := GenerateSecret()
	require.NoError(t, err)
	require.NotEqual(t, secret, secret2)
}

// TestVerifySecret asserts byte-exact commitment verification.
func TestVerifySecret(t *testing.T) {
	var secret lntypes.Preimage
	for i := range secret {
		secret[i] = 0xaa
	}

	hash := secret.Hash()
	require.True(t, VerifySecret(secret, hash))

	var wrong lntypes.Preimage
	for i := range wrong {
		wrong[i] = 0xbb
	}
	require.False(t, VerifySecret(wrong, hash))
}

// TestParseSecretHex asserts hex normalization rules: optional 0x prefix,
// case insensitivity, exactly 64 hex digits.
func TestParseSecretHex(t *testing.T) {
	secret, _, err := GenerateSecret()
	require.NoError(t, err)

	encoded := hex.EncodeToString(secret[:])

	tests := []struct {
		name  string
		input string
		err   error
	}{
		{
			name:  "plain lowercase",
			input: encoded,
		},
		{
			name:  "0x prefix",
			input: "0x" + encoded,
		},
		{
			name:  "uppercase",
			input: strings.ToUpper(encoded),
		},
		{
			name:  "too short",
			input: encoded[:62],
			err:   ErrMalformedHex,
		},
		{
			name:  "too long",
			input: encoded + "00",
			err:   ErrMalformedHex,
		},
		{
			name:  "not hex",
			input: strings.Repeat("zz", 32),
			err:   ErrMalformedHex,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			parsed, err := ParseSecretHex(test.input)
			if test.err != nil {
				require.ErrorIs(t, err, test.err)
				return
			}

			require.NoError(t, err)
			require.Equal(t, secret, parsed)
		})
	}
}

// TestSecretFromWitnessElement asserts that only the genuine preimage is
// recovered from candidate witness elements.
func TestSecretFromWitnessElement(t *testing.T) {
	secret, hash, err := GenerateSecret()
	require.NoError(t, err)

	recovered, ok := SecretFromWitnessElement(
		hex.EncodeToString(secret[:]), hash,
	)
	require.True(t, ok)
	require.Equal(t, secret, recovered)

	// Signature-sized elements are skipped.
	_, ok = SecretFromWitnessElement(strings.Repeat("ab", 72), hash)
	require.False(t, ok)

	// A 32 byte element that does not hash to the commitment is skipped.
	_, ok = SecretFromWitnessElement(strings.Repeat("cd", 32), hash)
	require.False(t, ok)
}
