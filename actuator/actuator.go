package actuator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/IngarsPoliters/coldDrawer/ledger"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/lightningnetwork/lnd/lntypes"
)

const (
	// DefaultSubmitTimeout bounds a single submission attempt. Retrying
	// after a timeout is the caller's decision, never the actuator's.
	DefaultSubmitTimeout = 60 * time.Second

	// gasBufferNumerator and gasBufferDenominator encode the 20% safety
	// margin added on top of the estimated gas.
	gasBufferNumerator   = 12
	gasBufferDenominator = 10
)

var (
	// ErrActuatorTimeout is returned when a submission attempt exceeds
	// its per-attempt deadline.
	ErrActuatorTimeout = errors.New("actuator submit timeout")

	// ErrParseFailure is returned when an operation was included but its
	// receipt did not carry the expected event.
	ErrParseFailure = errors.New("cannot parse receipt events")
)

// RejectedError wraps a ledger-side rejection of an operation. Rejections
// are terminal: the same submission will not succeed on retry.
type RejectedError struct {
	// Op names the rejected operation.
	Op string

	// Err is the ledger's reason.
	Err error
}

// Error implements the error interface.
func (e *RejectedError) Error() string {
	return fmt.Sprintf("ledger rejected %v: %v", e.Op, e.Err)
}

// Unwrap returns the ledger's reason.
func (e *RejectedError) Unwrap() error {
	return e.Err
}

// Config parameterizes the actuator.
type Config struct {
	// Ledger is the asset ledger operations are submitted to.
	Ledger *ledger.Ledger

	// Key is the coordinator's signing address. Submissions are
	// accounted against this identity.
	Key ledger.Address

	// GasCeiling is the fallback resource bound used when estimation
	// fails.
	GasCeiling uint64

	// SubmitTimeout bounds one submission attempt.
	SubmitTimeout time.Duration
}

// Actuator is a thin façade over the asset ledger. Every call estimates
// resources, submits with the coordinator's key, awaits inclusion and parses
// the emitted events for the authoritative post-state.
type Actuator struct {
	cfg Config
}

// New creates an actuator for the given ledger.
func New(cfg Config) *Actuator {
	if cfg.SubmitTimeout == 0 {
		cfg.SubmitTimeout = DefaultSubmitTimeout
	}

	return &Actuator{cfg: cfg}
}

// EscrowState is the parsed post-state of a successful sale operation.
type EscrowState struct {
	// TokenID is the escrowed token.
	TokenID uint64

	// Seller and Buyer are the escrow parties.
	Seller ledger.Address
	Buyer  ledger.Address

	// TxHash is the transaction the operation was included in.
	TxHash string
}

// gasLimit estimates the resource bound for an operation: estimate plus 20%,
// falling back to the configured ceiling when estimation fails.
func (a *Actuator) gasLimit(op string) uint64 {
	estimate, ok := ledger.GasCost(op)
	if !ok {
		log.Warnf("gas estimation failed for %v, falling back to "+
			"ceiling %v", op, a.cfg.GasCeiling)

		return a.cfg.GasCeiling
	}

	return estimate * gasBufferNumerator / gasBufferDenominator
}

// submit runs one ledger operation under the per-attempt timeout. The ledger
// call itself cannot be cancelled once started; on timeout the result is
// discarded and ErrActuatorTimeout surfaces instead.
func (a *Actuator) submit(ctx context.Context, op string,
	call func() (*ledger.Receipt, error)) (*ledger.Receipt, error) {

	ctx, cancel := context.WithTimeout(ctx, a.cfg.SubmitTimeout)
	defer cancel()

	limit := a.gasLimit(op)

	type result struct {
		receipt *ledger.Receipt
		err     error
	}

	resultChan := make(chan result, 1)
	go func() {
		receipt, err := call()
		resultChan <- result{receipt: receipt, err: err}
	}()

	select {
	case res := <-resultChan:
		if res.err != nil {
			return nil, &RejectedError{Op: op, Err: res.err}
		}

		if res.receipt.GasUsed > limit {
			log.Warnf("%v used %v gas, above limit %v", op,
				res.receipt.GasUsed, limit)
		}

		log.Debugf("%v submitted by %v: tx=%v, gas=%v/%v", op,
			a.cfg.Key, res.receipt.TxHash, res.receipt.GasUsed,
			limit)

		return res.receipt, nil

	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", ErrActuatorTimeout, op)
	}
}

// OpenEscrow opens the sale escrow for the token. The operation executes as
// the token's current owner, for whom the coordinator acts as agent.
func (a *Actuator) OpenEscrow(ctx context.Context, tokenID uint64,
	buyer ledger.Address, hash lntypes.Hash, expiry int64,
	price btcutil.Amount) (*EscrowState, error) {

	owner, err := a.cfg.Ledger.OwnerOf(tokenID)
	if err != nil {
		return nil, &RejectedError{Op: "saleopen", Err: err}
	}

	receipt, err := a.submit(
		ctx, "saleopen", func() (*ledger.Receipt, error) {
			return a.cfg.Ledger.SaleOpen(
				owner, tokenID, buyer, hash, expiry, price,
			)
		},
	)
	if err != nil {
		return nil, err
	}

	return parseEscrowState(receipt, ledger.EventSaleOpen)
}

// Claim settles the escrow with the revealed secret. The operation executes
// as the escrow's buyer, for whom the coordinator acts as relay; the secret
// is what authorizes the settle.
func (a *Actuator) Claim(ctx context.Context, tokenID uint64,
	secret lntypes.Preimage) (*EscrowState, error) {

	escrow, err := a.cfg.Ledger.GetEscrow(tokenID)
	if err != nil {
		return nil, &RejectedError{Op: "claim", Err: err}
	}

	receipt, err := a.submit(
		ctx, "claim", func() (*ledger.Receipt, error) {
			return a.cfg.Ledger.Claim(
				escrow.Buyer, tokenID, secret,
			)
		},
	)
	if err != nil {
		return nil, err
	}

	return parseEscrowState(receipt, ledger.EventSaleSettle)
}

// Refund clears the escrow back to the seller.
func (a *Actuator) Refund(ctx context.Context,
	tokenID uint64) (*EscrowState, error) {

	escrow, err := a.cfg.Ledger.GetEscrow(tokenID)
	if err != nil {
		return nil, &RejectedError{Op: "refund", Err: err}
	}

	receipt, err := a.submit(
		ctx, "refund", func() (*ledger.Receipt, error) {
			return a.cfg.Ledger.Refund(escrow.Seller, tokenID)
		},
	)
	if err != nil {
		return nil, err
	}

	return parseEscrowState(receipt, ledger.EventSaleRefund)
}

// IsInEscrow reports whether the token has an active escrow.
func (a *Actuator) IsInEscrow(tokenID uint64) bool {
	return a.cfg.Ledger.IsInEscrow(tokenID)
}

// GetEscrow returns the token's active escrow.
func (a *Actuator) GetEscrow(tokenID uint64) (ledger.Escrow, error) {
	return a.cfg.Ledger.GetEscrow(tokenID)
}

// GetOwner returns the token's current owner.
func (a *Actuator) GetOwner(tokenID uint64) (ledger.Address, error) {
	return a.cfg.Ledger.OwnerOf(tokenID)
}

// parseEscrowState extracts the authoritative post-state from the receipt's
// event of the given name.
func parseEscrowState(receipt *ledger.Receipt,
	eventName string) (*EscrowState, error) {

	for _, rawLog := range receipt.Logs {
		if rawLog.Name != eventName {
			continue
		}

		state := &EscrowState{TxHash: receipt.TxHash}

		if _, err := fmt.Sscan(
			rawLog.Fields[ledger.FieldTokenID], &state.TokenID,
		); err != nil {
			return nil, fmt.Errorf("%w: bad tokenId in %v",
				ErrParseFailure, eventName)
		}

		seller, err := ledger.ParseAddress(
			rawLog.Fields[ledger.FieldSeller],
		)
		if err != nil {
			return nil, fmt.Errorf("%w: bad seller in %v",
				ErrParseFailure, eventName)
		}
		state.Seller = seller

		buyer, err := ledger.ParseAddress(
			rawLog.Fields[ledger.FieldBuyer],
		)
		if err != nil {
			return nil, fmt.Errorf("%w: bad buyer in %v",
				ErrParseFailure, eventName)
		}
		state.Buyer = buyer

		return state, nil
	}

	return nil, fmt.Errorf("%w: no %v event in receipt",
		ErrParseFailure, eventName)
}
