package swapdb

import (
	"time"

	"github.com/IngarsPoliters/coldDrawer/ledger"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/lightningnetwork/lnd/lntypes"
)

// SwapContract is the immutable part of a pending swap, fixed at
// registration.
type SwapContract struct {
	// Hash is the sha256 commitment both legs settle against.
	Hash lntypes.Hash

	// TokenID is the asset token being sold.
	TokenID uint64

	// Price is the asked bitcoin amount in satoshis.
	Price btcutil.Amount

	// SellerBtcAddr is the bitcoin address the buyer funds.
	SellerBtcAddr string

	// BuyerAssetAddr is the asset ledger address receiving the token.
	BuyerAssetAddr ledger.Address

	// AssetExpiry is the buyer-visible asset leg deadline, unix seconds.
	AssetExpiry int64

	// BtcExpiry is the bitcoin leg deadline, unix seconds.
	BtcExpiry int64

	// CreatedAt is the registration time.
	CreatedAt time.Time
}

// SwapStateData is one mutable state snapshot of a swap.
type SwapStateData struct {
	// State is the lifecycle state at this update.
	State SwapState

	// BtcTxid is the observed funding transaction, once seen.
	BtcTxid string

	// RevealTxid is the spend that exposed the secret, once seen.
	RevealTxid string

	// HasSecret reports whether Secret is set.
	HasSecret bool

	// Secret is the revealed preimage, valid if HasSecret.
	Secret lntypes.Preimage

	// Time is when the update was recorded.
	Time time.Time
}

// SwapUpdate is a persisted state transition.
type SwapUpdate struct {
	SwapStateData
}

// Swap is a contract together with its recorded updates.
type Swap struct {
	// Contract is the immutable registration data.
	Contract *SwapContract

	// Updates are the recorded transitions, oldest first.
	Updates []*SwapUpdate
}

// State returns the most recent state data, or the initial waiting state if
// no update was recorded yet.
func (s *Swap) State() SwapStateData {
	if len(s.Updates) == 0 {
		return SwapStateData{
			State: StateWaitingBtc,
			Time:  s.Contract.CreatedAt,
		}
	}

	return s.Updates[len(s.Updates)-1].SwapStateData
}
