package swap

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/input"
	"github.com/lightningnetwork/lnd/lntypes"
)

var (
	// ErrInvalidPubKeyHash is returned when a pubkey hash is not 20 bytes.
	ErrInvalidPubKeyHash = errors.New("pubkey hash must be 20 bytes")
)

// Htlc contains the bitcoin leg of a swap from the watcher's perspective. The
// script follows the BIP-199 form, funded as P2WSH:
//
//	OP_IF
//	  OP_SHA256 <H> OP_EQUALVERIFY OP_DUP OP_HASH160 <receiverPKH>
//	OP_ELSE
//	  <btcExpiry> OP_CHECKLOCKTIMEVERIFY OP_DROP OP_DUP OP_HASH160 <senderPKH>
//	OP_ENDIF
//	OP_EQUALVERIFY OP_CHECKSIG
type Htlc struct {
	// Hash is the sha256 commitment both legs settle against.
	Hash lntypes.Hash

	// ReceiverPubKeyHash is the hash160 of the key that can claim with
	// the preimage before expiry.
	ReceiverPubKeyHash [20]byte

	// SenderPubKeyHash is the hash160 of the key that can refund after
	// expiry.
	SenderPubKeyHash [20]byte

	// BtcExpiry is the unix timestamp of the CHECKLOCKTIMEVERIFY branch.
	BtcExpiry int64

	// PkScript is the P2WSH output script committing to the htlc script.
	PkScript []byte

	// Address is the bech32 encoding of PkScript.
	Address btcutil.Address

	script []byte
}

// NewHtlc assembles the htlc script for the given commitment, key hashes and
// expiry, and derives its P2WSH locking conditions.
func NewHtlc(hash lntypes.Hash, receiverPKH, senderPKH []byte,
	btcExpiry int64, chainParams *chaincfg.Params) (*Htlc, error) {

	if len(receiverPKH) != 20 || len(senderPKH) != 20 {
		return nil, ErrInvalidPubKeyHash
	}

	builder := txscript.NewScriptBuilder()

	builder.AddOp(txscript.OP_IF)

	builder.AddOp(txscript.OP_SHA256)
	builder.AddData(hash[:])
	builder.AddOp(txscript.OP_EQUALVERIFY)
	builder.AddOp(txscript.OP_DUP)
	builder.AddOp(txscript.OP_HASH160)
	builder.AddData(receiverPKH)

	builder.AddOp(txscript.OP_ELSE)

	builder.AddInt64(btcExpiry)
	builder.AddOp(txscript.OP_CHECKLOCKTIMEVERIFY)
	builder.AddOp(txscript.OP_DROP)
	builder.AddOp(txscript.OP_DUP)
	builder.AddOp(txscript.OP_HASH160)
	builder.AddData(senderPKH)

	builder.AddOp(txscript.OP_ENDIF)

	builder.AddOp(txscript.OP_EQUALVERIFY)
	builder.AddOp(txscript.OP_CHECKSIG)

	script, err := builder.Script()
	if err != nil {
		return nil, err
	}

	pkScript, err := input.WitnessScriptHash(script)
	if err != nil {
		return nil, err
	}

	address, err := btcutil.NewAddressWitnessScriptHash(
		pkScript[2:], chainParams,
	)
	if err != nil {
		return nil, fmt.Errorf("could not get address: %w", err)
	}

	htlc := &Htlc{
		Hash:      hash,
		BtcExpiry: btcExpiry,
		PkScript:  pkScript,
		Address:   address,
		script:    script,
	}
	copy(htlc.ReceiverPubKeyHash[:], receiverPKH)
	copy(htlc.SenderPubKeyHash[:], senderPKH)

	return htlc, nil
}

// Script returns the raw htlc script.
func (h *Htlc) Script() []byte {
	return h.script
}

// GenSuccessWitness returns the witness to spend the htlc with the preimage.
//
// Stack: <sig> <receiverPubKey> <preimage> <1> <script>
func (h *Htlc) GenSuccessWitness(receiverSig, receiverPubKey []byte,
	preimage lntypes.Preimage) (wire.TxWitness, error) {

	if !preimage.Matches(h.Hash) {
		return nil, errors.New("preimage doesn't match hash")
	}

	witnessStack := make(wire.TxWitness, 5)
	witnessStack[0] = append(receiverSig, byte(txscript.SigHashAll))
	witnessStack[1] = receiverPubKey
	witnessStack[2] = preimage[:]
	witnessStack[3] = []byte{1}
	witnessStack[4] = h.script

	return witnessStack, nil
}

// GenTimeoutWitness returns the witness to spend the htlc after expiry.
//
// Stack: <sig> <senderPubKey> <0> <script>
func (h *Htlc) GenTimeoutWitness(senderSig,
	senderPubKey []byte) (wire.TxWitness, error) {

	witnessStack := make(wire.TxWitness, 4)
	witnessStack[0] = append(senderSig, byte(txscript.SigHashAll))
	witnessStack[1] = senderPubKey
	witnessStack[2] = nil
	witnessStack[3] = h.script

	return witnessStack, nil
}

// IsSuccessWitness checks whether the given stack spends the htlc through the
// preimage branch.
func (h *Htlc) IsSuccessWitness(witness wire.TxWitness) bool {
	if len(witness) != 5 {
		return false
	}

	return bytes.Equal(witness[3], []byte{1})
}

// ExtractPreimage scans a witness stack for the 32 byte element whose sha256
// equals the htlc's commitment. This works on any spend of the htlc output,
// regardless of the exact stack layout the wallet produced.
func (h *Htlc) ExtractPreimage(witness wire.TxWitness) (lntypes.Preimage, bool) {
	return PreimageFromWitness(witness, h.Hash)
}

// PreimageFromWitness scans a witness stack for a 32 byte element matching
// the given commitment.
func PreimageFromWitness(witness wire.TxWitness,
	hash lntypes.Hash) (lntypes.Preimage, bool) {

	for _, element := range witness {
		if len(element) != sha256.Size {
			continue
		}

		preimage, err := lntypes.MakePreimage(element)
		if err != nil {
			continue
		}

		if preimage.Matches(hash) {
			return preimage, true
		}
	}

	return lntypes.Preimage{}, false
}
