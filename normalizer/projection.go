package normalizer

// SaleState is the escrow state of a token as projected from its events.
type SaleState uint8

const (
	// SaleNone means the token has no sale history, or the last sale
	// concluded and no new one opened.
	SaleNone SaleState = iota

	// SaleOpen means an escrow is currently active.
	SaleOpen

	// SaleSettled means the most recent sale settled to the buyer.
	SaleSettled

	// SaleRefunded means the most recent sale was refunded.
	SaleRefunded
)

// String returns the state name.
func (s SaleState) String() string {
	switch s {
	case SaleNone:
		return "none"
	case SaleOpen:
		return "open"
	case SaleSettled:
		return "settled"
	case SaleRefunded:
		return "refunded"
	default:
		return "unknown"
	}
}

// CurrentOwner folds the token's events in chain order and returns its
// present owner: the buyer of the most recent settle, else the destination
// of the most recent transfer, else the minter. The second return is false
// if the token was never minted in the given history.
func CurrentOwner(events []Event, tokenID uint64) (string, bool) {
	owner := ""
	minted := false

	for _, event := range events {
		if event.TokenID != tokenID {
			continue
		}

		switch event.Type {
		case TypeMinted:
			owner = event.Owner
			minted = true

		case TypeTransfer:
			owner = event.To

		case TypeSaleSettle:
			owner = event.Buyer
		}
	}

	return owner, minted
}

// ProjectSaleState folds the token's sale events in chain order into the
// current escrow state.
func ProjectSaleState(events []Event, tokenID uint64) SaleState {
	state := SaleNone

	for _, event := range events {
		if event.TokenID != tokenID {
			continue
		}

		switch event.Type {
		case TypeSaleOpen:
			state = SaleOpen

		case TypeSaleSettle:
			state = SaleSettled

		case TypeSaleRefund:
			state = SaleRefunded
		}
	}

	return state
}
