package colddrawer

import (
	"time"

	"github.com/IngarsPoliters/coldDrawer/btcwatch"
	"github.com/IngarsPoliters/coldDrawer/ledger"
	"github.com/IngarsPoliters/coldDrawer/swapdb"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/lightningnetwork/lnd/lntypes"
)

// BtcObserver is the bitcoin watching capability the coordinator requires.
// It is implemented by btcwatch.Observer.
type BtcObserver interface {
	// Watch registers interest in funding for the given commitment.
	Watch(hash lntypes.Hash, addr string, price btcutil.Amount) error

	// Unwatch drops the watch for a retired swap.
	Unwatch(hash lntypes.Hash)

	// Events returns the observation stream.
	Events() <-chan btcwatch.Event

	// ProcessedTxids reports the size of the idempotency cache.
	ProcessedTxids() int
}

// RegisterSwapRequest describes a new swap to coordinate: a token sale
// settled by a bitcoin htlc under the given commitment.
type RegisterSwapRequest struct {
	// Hash is the sha256 commitment shared by both legs.
	Hash lntypes.Hash

	// TokenID is the asset token being sold.
	TokenID uint64

	// Price is the asked bitcoin amount in satoshis.
	Price btcutil.Amount

	// SellerBtcAddr is the bitcoin address the buyer must fund.
	SellerBtcAddr string

	// BuyerAssetAddr is the asset ledger address receiving the token.
	BuyerAssetAddr ledger.Address

	// AssetExpiry is the buyer-visible asset leg deadline, unix seconds.
	AssetExpiry int64
}

// SwapInfo is a status update published to subscribers on every transition.
type SwapInfo struct {
	// Hash identifies the swap.
	Hash lntypes.Hash

	// TokenID is the token being sold.
	TokenID uint64

	// State is the lifecycle state after the transition.
	State swapdb.SwapState

	// BtcTxid is the funding transaction, once observed.
	BtcTxid string

	// LastUpdate is the transition time.
	LastUpdate time.Time

	// Alert carries an operator-facing warning, such as a reorg of the
	// funding transaction after the asset leg was locked.
	Alert string
}

// SwapDetails is the full admin view of one swap.
type SwapDetails struct {
	// Contract is the immutable registration data.
	Contract swapdb.SwapContract

	// State is the latest state snapshot.
	State swapdb.SwapStateData

	// LastError is the most recent actuator failure, if any.
	LastError string
}

// Stats summarizes the coordinator for the admin surface.
type Stats struct {
	// PendingCount is the number of swaps still in flight.
	PendingCount int

	// ClaimedCount, RefundedCount and ExpiredCount count swaps per
	// terminal state, retired ones included until eviction.
	ClaimedCount  int
	RefundedCount int
	ExpiredCount  int

	// ProcessedTxids is the size of the observer's idempotency cache.
	ProcessedTxids int
}
