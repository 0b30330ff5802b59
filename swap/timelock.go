package swap

import (
	"errors"
	"fmt"
	"time"
)

const (
	// MinTimeoutBuffer is the smallest allowed gap between the asset leg
	// expiry and the bitcoin leg expiry.
	MinTimeoutBuffer = time.Hour

	// MaxTimeoutBuffer is the largest allowed gap between the asset leg
	// expiry and the bitcoin leg expiry.
	MaxTimeoutBuffer = 24 * time.Hour

	// DefaultTimeoutBuffer is the gap used when the caller does not
	// specify one.
	DefaultTimeoutBuffer = 2 * time.Hour
)

var (
	// ErrExpiryInPast is returned when the requested asset expiry is not
	// in the future.
	ErrExpiryInPast = errors.New("asset expiry not in the future")

	// ErrBufferOutOfRange is returned when the timeout buffer is outside
	// of the [1h, 24h] window.
	ErrBufferOutOfRange = fmt.Errorf("timeout buffer outside of [%v, %v]",
		MinTimeoutBuffer, MaxTimeoutBuffer)
)

// Timelocks holds the pair of expiries guarding a swap. The bitcoin expiry
// always trails the asset expiry by Buffer, so that after the asset escrow
// refunds the seller still has a window to settle or let the bitcoin leg
// refund too. If the bitcoin leg could refund first, a buyer could wait out
// the asset refund and then still claim the coins.
type Timelocks struct {
	// AssetExpiry is the unix timestamp at which the asset escrow becomes
	// refundable.
	AssetExpiry int64

	// BtcExpiry is the unix timestamp encoded in the bitcoin htlc's
	// CHECKLOCKTIMEVERIFY branch.
	BtcExpiry int64

	// Buffer is the gap between the two expiries.
	Buffer time.Duration
}

// CalcTimelocks derives the bitcoin expiry from the buyer-visible asset
// expiry and the configured buffer. The buffer covers bitcoin confirmation
// latency and clock skew between the two ledgers.
func CalcTimelocks(assetExpiry int64, buffer time.Duration,
	now time.Time) (Timelocks, error) {

	if buffer == 0 {
		buffer = DefaultTimeoutBuffer
	}

	if buffer < MinTimeoutBuffer || buffer > MaxTimeoutBuffer {
		return Timelocks{}, ErrBufferOutOfRange
	}

	if assetExpiry <= now.Unix() {
		return Timelocks{}, ErrExpiryInPast
	}

	return Timelocks{
		AssetExpiry: assetExpiry,
		BtcExpiry:   assetExpiry + int64(buffer.Seconds()),
		Buffer:      buffer,
	}, nil
}
