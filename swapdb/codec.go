package swapdb

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"time"

	"github.com/IngarsPoliters/coldDrawer/ledger"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/lightningnetwork/lnd/lntypes"
)

var byteOrder = binary.BigEndian

// serializeContract encodes a contract for storage.
func serializeContract(contract *SwapContract) ([]byte, error) {
	var b bytes.Buffer

	if _, err := b.Write(contract.Hash[:]); err != nil {
		return nil, err
	}

	if err := binary.Write(&b, byteOrder, contract.TokenID); err != nil {
		return nil, err
	}

	if err := binary.Write(
		&b, byteOrder, int64(contract.Price),
	); err != nil {
		return nil, err
	}

	if err := writeString(&b, contract.SellerBtcAddr); err != nil {
		return nil, err
	}

	if _, err := b.Write(contract.BuyerAssetAddr[:]); err != nil {
		return nil, err
	}

	if err := binary.Write(
		&b, byteOrder, contract.AssetExpiry,
	); err != nil {
		return nil, err
	}

	if err := binary.Write(&b, byteOrder, contract.BtcExpiry); err != nil {
		return nil, err
	}

	if err := binary.Write(
		&b, byteOrder, contract.CreatedAt.UnixNano(),
	); err != nil {
		return nil, err
	}

	return b.Bytes(), nil
}

// deserializeContract decodes a stored contract.
func deserializeContract(value []byte) (*SwapContract, error) {
	r := bytes.NewReader(value)
	contract := &SwapContract{}

	if _, err := io.ReadFull(r, contract.Hash[:]); err != nil {
		return nil, err
	}

	if err := binary.Read(r, byteOrder, &contract.TokenID); err != nil {
		return nil, err
	}

	var price int64
	if err := binary.Read(r, byteOrder, &price); err != nil {
		return nil, err
	}
	contract.Price = btcutil.Amount(price)

	addr, err := readString(r)
	if err != nil {
		return nil, err
	}
	contract.SellerBtcAddr = addr

	var buyer ledger.Address
	if _, err := io.ReadFull(r, buyer[:]); err != nil {
		return nil, err
	}
	contract.BuyerAssetAddr = buyer

	if err := binary.Read(
		r, byteOrder, &contract.AssetExpiry,
	); err != nil {
		return nil, err
	}

	if err := binary.Read(r, byteOrder, &contract.BtcExpiry); err != nil {
		return nil, err
	}

	var createdNano int64
	if err := binary.Read(r, byteOrder, &createdNano); err != nil {
		return nil, err
	}
	contract.CreatedAt = time.Unix(0, createdNano)

	return contract, nil
}

// serializeUpdate encodes one state transition.
func serializeUpdate(data SwapStateData) ([]byte, error) {
	var b bytes.Buffer

	if err := b.WriteByte(byte(data.State)); err != nil {
		return nil, err
	}

	if err := writeString(&b, data.BtcTxid); err != nil {
		return nil, err
	}

	if err := writeString(&b, data.RevealTxid); err != nil {
		return nil, err
	}

	hasSecret := byte(0)
	if data.HasSecret {
		hasSecret = 1
	}
	if err := b.WriteByte(hasSecret); err != nil {
		return nil, err
	}

	if data.HasSecret {
		if _, err := b.Write(data.Secret[:]); err != nil {
			return nil, err
		}
	}

	if err := binary.Write(
		&b, byteOrder, data.Time.UnixNano(),
	); err != nil {
		return nil, err
	}

	return b.Bytes(), nil
}

// deserializeUpdate decodes one stored state transition.
func deserializeUpdate(value []byte) (*SwapUpdate, error) {
	r := bytes.NewReader(value)
	update := &SwapUpdate{}

	state, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	update.State = SwapState(state)

	if update.BtcTxid, err = readString(r); err != nil {
		return nil, err
	}

	if update.RevealTxid, err = readString(r); err != nil {
		return nil, err
	}

	hasSecret, err := r.ReadByte()
	if err != nil {
		return nil, err
	}

	if hasSecret == 1 {
		update.HasSecret = true

		var secret lntypes.Preimage
		if _, err := io.ReadFull(r, secret[:]); err != nil {
			return nil, err
		}
		update.Secret = secret
	}

	var timeNano int64
	if err := binary.Read(r, byteOrder, &timeNano); err != nil {
		return nil, err
	}
	update.Time = time.Unix(0, timeNano)

	return update, nil
}

// writeString writes a length-prefixed string.
func writeString(w io.Writer, s string) error {
	if len(s) > 0xffff {
		return fmt.Errorf("string too long: %v", len(s))
	}

	if err := binary.Write(w, byteOrder, uint16(len(s))); err != nil {
		return err
	}

	_, err := w.Write([]byte(s))
	return err
}

// readString reads a length-prefixed string.
func readString(r io.Reader) (string, error) {
	var length uint16
	if err := binary.Read(r, byteOrder, &length); err != nil {
		return "", err
	}

	raw := make([]byte, length)
	if _, err := io.ReadFull(r, raw); err != nil {
		return "", err
	}

	return string(raw), nil
}
