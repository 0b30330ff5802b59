package swap

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/lightningnetwork/lnd/lntypes"
)

var (
	// ErrRngFailure is returned when the system entropy source cannot
	// produce a full 32 byte secret.
	ErrRngFailure = errors.New("system rng unavailable")

	// ErrMalformedHex is returned when a hex-encoded secret or commitment
	// does not decode to exactly 32 bytes.
	ErrMalformedHex = errors.New("malformed hex: expected 64 hex digits")
)

// GenerateSecret draws a fresh 32 byte secret from the system rng and returns
// it together with its sha256 commitment. The commitment is what gets shared
// publicly; the secret settles both legs of a swap.
func GenerateSecret() (lntypes.Preimage, lntypes.Hash, error) {
	var secret lntypes.Preimage
	if _, err := rand.Read(secret[:]); err != nil {
		return lntypes.Preimage{}, lntypes.Hash{},
			fmt.Errorf("%w: %v", ErrRngFailure, err)
	}

	return secret, secret.Hash(), nil
}

// VerifySecret reports whether sha256(secret) equals the given commitment,
// byte for byte.
func VerifySecret(secret lntypes.Preimage, hash lntypes.Hash) bool {
	return secret.Matches(hash)
}

// normalizeHex strips an optional 0x prefix and lowercases the input.
func normalizeHex(s string) string {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	return strings.ToLower(s)
}

// ParseSecretHex parses a hex-encoded 32 byte secret. A 0x prefix is
// accepted, any other length than 64 hex digits is rejected.
func ParseSecretHex(s string) (lntypes.Preimage, error) {
	raw, err := parseHex32(s)
	if err != nil {
		return lntypes.Preimage{}, err
	}

	preimage, err := lntypes.MakePreimage(raw)
	if err != nil {
		return lntypes.Preimage{}, ErrMalformedHex
	}

	return preimage, nil
}

// ParseHashHex parses a hex-encoded 32 byte commitment. A 0x prefix is
// accepted, any other length than 64 hex digits is rejected.
func ParseHashHex(s string) (lntypes.Hash, error) {
	raw, err := parseHex32(s)
	if err != nil {
		return lntypes.Hash{}, err
	}

	hash, err := lntypes.MakeHash(raw)
	if err != nil {
		return lntypes.Hash{}, ErrMalformedHex
	}

	return hash, nil
}

func parseHex32(s string) ([]byte, error) {
	s = normalizeHex(s)
	if len(s) != hex.EncodedLen(sha256.Size) {
		return nil, ErrMalformedHex
	}

	raw, err := hex.DecodeString(s)
	if err != nil {
		return nil, ErrMalformedHex
	}

	return raw, nil
}

// SecretFromWitnessElement checks whether a single witness stack element is
// the 32 byte preimage for the given commitment. It expects the element hex
// encoded, which is what address index APIs return; raw bytes are not
// accepted.
func SecretFromWitnessElement(element string,
	hash lntypes.Hash) (lntypes.Preimage, bool) {

	raw, err := parseHex32(element)
	if err != nil {
		return lntypes.Preimage{}, false
	}

	preimage, err := lntypes.MakePreimage(raw)
	if err != nil {
		return lntypes.Preimage{}, false
	}

	if !preimage.Matches(hash) {
		return lntypes.Preimage{}, false
	}

	return preimage, true
}
