package swap

import (
	"bytes"
	"testing"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"
)

func testHtlc(t *testing.T) *Htlc {
	t.Helper()

	_, hash, err := GenerateSecret()
	require.NoError(t, err)

	receiverPKH := bytes.Repeat([]byte{0x01}, 20)
	senderPKH := bytes.Repeat([]byte{0x02}, 20)

	htlc, err := NewHtlc(
		hash, receiverPKH, senderPKH, 1700000000,
		&chaincfg.TestNet3Params,
	)
	require.NoError(t, err)

	return htlc
}

// TestNewHtlc asserts script assembly and P2WSH locking conditions.
func TestNewHtlc(t *testing.T) {
	htlc := testHtlc(t)

	// P2WSH pkScript: OP_0 <32 byte script hash>.
	require.Len(t, htlc.PkScript, 34)
	require.Equal(t, byte(0), htlc.PkScript[0])

	// The derived address is a testnet bech32 witness script hash.
	require.True(
		t, bytes.HasPrefix([]byte(htlc.Address.EncodeAddress()),
			[]byte("tb1")),
	)

	// Both key hashes and the commitment appear in the script.
	require.True(t, bytes.Contains(htlc.Script(), htlc.Hash[:]))
	require.True(
		t, bytes.Contains(htlc.Script(), htlc.ReceiverPubKeyHash[:]),
	)
	require.True(
		t, bytes.Contains(htlc.Script(), htlc.SenderPubKeyHash[:]),
	)
}

// TestNewHtlcInvalidKeyHash asserts that malformed pubkey hashes are
// rejected.
func TestNewHtlcInvalidKeyHash(t *testing.T) {
	_, hash, err := GenerateSecret()
	require.NoError(t, err)

	_, err = NewHtlc(
		hash, bytes.Repeat([]byte{1}, 19), bytes.Repeat([]byte{2}, 20),
		1700000000, &chaincfg.TestNet3Params,
	)
	require.ErrorIs(t, err, ErrInvalidPubKeyHash)
}

// TestHtlcWitnesses asserts witness generation, classification and preimage
// extraction for both spend paths.
func TestHtlcWitnesses(t *testing.T) {
	secret, hash, err := GenerateSecret()
	require.NoError(t, err)

	receiverPKH := bytes.Repeat([]byte{0x01}, 20)
	senderPKH := bytes.Repeat([]byte{0x02}, 20)

	htlc, err := NewHtlc(
		hash, receiverPKH, senderPKH, 1700000000,
		&chaincfg.TestNet3Params,
	)
	require.NoError(t, err)

	sig := bytes.Repeat([]byte{0x30}, 71)
	pubKey := bytes.Repeat([]byte{0x03}, 33)

	success, err := htlc.GenSuccessWitness(sig, pubKey, secret)
	require.NoError(t, err)
	require.True(t, htlc.IsSuccessWitness(success))

	extracted, ok := htlc.ExtractPreimage(success)
	require.True(t, ok)
	require.Equal(t, secret, extracted)

	timeout, err := htlc.GenTimeoutWitness(sig, pubKey)
	require.NoError(t, err)
	require.False(t, htlc.IsSuccessWitness(timeout))

	_, ok = htlc.ExtractPreimage(timeout)
	require.False(t, ok)

	// A success witness for the wrong preimage is rejected at
	// generation time.
	otherSecret, _, err := GenerateSecret()
	require.NoError(t, err)
	_, err = htlc.GenSuccessWitness(sig, pubKey, otherSecret)
	require.Error(t, err)
}

// TestPreimageFromWitness asserts that extraction scans arbitrary stacks and
// ignores non-preimage elements.
func TestPreimageFromWitness(t *testing.T) {
	secret, hash, err := GenerateSecret()
	require.NoError(t, err)

	witness := wire.TxWitness{
		bytes.Repeat([]byte{0x30}, 72),   // signature
		bytes.Repeat([]byte{0x03}, 33),   // pubkey
		bytes.Repeat([]byte{0xcd}, 32),   // wrong 32 byte element
		secret[:],                        // the preimage
		bytes.Repeat([]byte{0x51}, 100),  // script
	}

	extracted, ok := PreimageFromWitness(witness, hash)
	require.True(t, ok)
	require.Equal(t, secret, extracted)

	_, ok = PreimageFromWitness(witness[:3], hash)
	require.False(t, ok)
}
