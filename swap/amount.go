package swap

import (
	"github.com/btcsuite/btcd/btcutil"
)

// DustLimit is the amount below which a swap price triggers a warning: an
// htlc output this small may not relay.
const DustLimit = btcutil.Amount(1000)

// SatoshisFromBtc converts a btc-denominated floating point value, as
// returned by external chain APIs, to satoshis. The conversion rounds to the
// nearest satoshi instead of truncating, so repeated float round trips cannot
// leak value.
func SatoshisFromBtc(btc float64) (btcutil.Amount, error) {
	return btcutil.NewAmount(btc)
}

// IsDust reports whether the given amount is below the relay dust limit.
func IsDust(amt btcutil.Amount) bool {
	return amt < DustLimit
}
