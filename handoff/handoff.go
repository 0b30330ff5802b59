// Package handoff builds the payload a seller hands to the buyer, as a QR
// encodable JSON document or a BIP-21 payment URI.
package handoff

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/lightningnetwork/lnd/lntypes"
)

// Version is the payload schema version.
const Version = "1.0"

// Bitcoin network names accepted in a payload.
const (
	NetworkMainnet = "mainnet"
	NetworkTestnet = "testnet"
)

// ErrInvalidNetwork is returned for unknown bitcoin network names.
var ErrInvalidNetwork = errors.New("invalid bitcoin network")

// Payload carries everything the buyer's wallet needs to fund the bitcoin
// leg of a swap.
type Payload struct {
	// Version is the schema version, currently "1.0".
	Version string `json:"version"`

	// HashH is the hex encoded sha256 commitment.
	HashH string `json:"hashH"`

	// PriceBTC is the asked amount in satoshis, as a decimal string.
	PriceBTC string `json:"priceBTC"`

	// ReceiverAddress is the seller's bitcoin address.
	ReceiverAddress string `json:"receiverAddress"`

	// Deadline is the asset leg expiry, unix seconds.
	Deadline int64 `json:"deadline"`

	// TokenID is the token on sale, as a decimal string.
	TokenID string `json:"tokenId"`

	// AssetTitle is the token's display title.
	AssetTitle string `json:"assetTitle"`

	// NetworkBTC names the bitcoin network, "testnet" or "mainnet".
	NetworkBTC string `json:"networkBTC"`

	// NetworkAsset names the asset ledger network.
	NetworkAsset string `json:"networkAsset"`
}

// New assembles a payload for a registered swap.
func New(hash lntypes.Hash, price btcutil.Amount, receiverAddr string,
	deadline int64, tokenID uint64, assetTitle, networkBTC,
	networkAsset string) (*Payload, error) {

	if networkBTC != NetworkMainnet && networkBTC != NetworkTestnet {
		return nil, fmt.Errorf("%w: %v", ErrInvalidNetwork,
			networkBTC)
	}

	return &Payload{
		Version:         Version,
		HashH:           hash.String(),
		PriceBTC:        strconv.FormatInt(int64(price), 10),
		ReceiverAddress: receiverAddr,
		Deadline:        deadline,
		TokenID:         strconv.FormatUint(tokenID, 10),
		AssetTitle:      assetTitle,
		NetworkBTC:      networkBTC,
		NetworkAsset:    networkAsset,
	}, nil
}

// Encode returns the JSON form, the document that usually ends up in a QR
// code.
func (p *Payload) Encode() ([]byte, error) {
	return json.Marshal(p)
}

// Decode parses a JSON payload and checks its version.
func Decode(raw []byte) (*Payload, error) {
	var payload Payload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, err
	}

	if payload.Version != Version {
		return nil, fmt.Errorf("unsupported payload version %q",
			payload.Version)
	}

	return &payload, nil
}

// URI returns the alternative BIP-21 encoding for plain wallet
// compatibility: bitcoin:<addr>?amount=<BTC>&label=...&message=...
func (p *Payload) URI() (string, error) {
	sats, err := strconv.ParseInt(p.PriceBTC, 10, 64)
	if err != nil {
		return "", err
	}

	amount := btcutil.Amount(sats).ToBTC()

	query := url.Values{}
	query.Set("amount", strconv.FormatFloat(amount, 'f', -1, 64))
	query.Set("label", p.AssetTitle)
	query.Set(
		"message", fmt.Sprintf("swap %v for token %v", p.HashH,
			p.TokenID),
	)

	return fmt.Sprintf("bitcoin:%v?%v", p.ReceiverAddress,
		query.Encode()), nil
}
