package ledger

import (
	"strings"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/stretchr/testify/require"
)

var (
	seller = Address{0x01}
	buyer  = Address{0x02}
	other  = Address{0x03}

	testTime = time.Date(2023, 6, 1, 12, 0, 0, 0, time.UTC)
)

func testSecret() (lntypes.Preimage, lntypes.Hash) {
	var secret lntypes.Preimage
	for i := range secret {
		secret[i] = 0xaa
	}

	return secret, secret.Hash()
}

func testLedger(t *testing.T) (*Ledger, *clock.TestClock) {
	t.Helper()

	clk := clock.NewTestClock(testTime)
	l := New(clk)

	_, err := l.Mint(seller, 1, Metadata{
		Title:    "2019 Audi A4",
		Category: "vehicle",
	})
	require.NoError(t, err)

	return l, clk
}

func openSale(t *testing.T, l *Ledger) (lntypes.Preimage, lntypes.Hash) {
	t.Helper()

	secret, hash := testSecret()
	_, err := l.SaleOpen(
		seller, 1, buyer, hash, testTime.Unix()+7200, 50_000_000,
	)
	require.NoError(t, err)

	return secret, hash
}

// TestMint asserts token creation rules.
func TestMint(t *testing.T) {
	l, _ := testLedger(t)

	// Duplicate ids are rejected, ids are never reused.
	_, err := l.Mint(other, 1, Metadata{Title: "dup"})
	require.ErrorIs(t, err, ErrDuplicateTokenID)

	// A zero id is invalid.
	_, err = l.Mint(seller, 0, Metadata{Title: "zero"})
	require.ErrorIs(t, err, ErrInvalidTokenID)

	owner, err := l.OwnerOf(1)
	require.NoError(t, err)
	require.Equal(t, seller, owner)

	// Minting with a note emits both Minted and NoteAdded.
	receipt, err := l.Mint(seller, 2, Metadata{
		Title: "with note",
		Note:  "short note",
	})
	require.NoError(t, err)
	require.Len(t, receipt.Logs, 2)
	require.Equal(t, EventMinted, receipt.Logs[0].Name)
	require.Equal(t, EventNoteAdded, receipt.Logs[1].Name)
}

// TestMetadataBoundaries asserts title and note length limits.
func TestMetadataBoundaries(t *testing.T) {
	l, _ := testLedger(t)

	tests := []struct {
		name string
		meta Metadata
		err  error
	}{
		{
			name: "empty title",
			meta: Metadata{Title: ""},
			err:  ErrInvalidMetadata,
		},
		{
			name: "one char title",
			meta: Metadata{Title: "a"},
		},
		{
			name: "max title",
			meta: Metadata{Title: strings.Repeat("t", 100)},
		},
		{
			name: "title too long",
			meta: Metadata{Title: strings.Repeat("t", 101)},
			err:  ErrInvalidMetadata,
		},
		{
			name: "empty note",
			meta: Metadata{Title: "ok", Note: ""},
		},
		{
			name: "max note",
			meta: Metadata{
				Title: "ok",
				Note:  strings.Repeat("n", 140),
			},
		},
		{
			name: "note too long",
			meta: Metadata{
				Title: "ok",
				Note:  strings.Repeat("n", 141),
			},
			err: ErrNoteTooLong,
		},
		{
			name: "identifier too long",
			meta: Metadata{
				Title: "ok",
				Identifiers: []string{
					strings.Repeat("i", 501),
				},
			},
			err: ErrInvalidMetadata,
		},
	}

	nextID := uint64(10)
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := l.Mint(seller, nextID, test.meta)
			nextID++

			if test.err != nil {
				require.ErrorIs(t, err, test.err)
				return
			}
			require.NoError(t, err)
		})
	}
}

// TestSetNote asserts note mutation preconditions.
func TestSetNote(t *testing.T) {
	l, _ := testLedger(t)

	_, err := l.SetNote(other, 1, "nope")
	require.ErrorIs(t, err, ErrNotOwner)

	_, err = l.SetNote(seller, 1, strings.Repeat("n", 141))
	require.ErrorIs(t, err, ErrNoteTooLong)

	receipt, err := l.SetNote(seller, 1, "recently serviced")
	require.NoError(t, err)
	require.Equal(t, EventNoteAdded, receipt.Logs[0].Name)

	// Notes cannot change while the token is escrowed.
	openSale(t, l)
	_, err = l.SetNote(seller, 1, "while escrowed")
	require.ErrorIs(t, err, ErrInEscrow)
}

// TestFreezeMetadata asserts the freeze is permanent and blocks mutation.
func TestFreezeMetadata(t *testing.T) {
	l, _ := testLedger(t)

	_, err := l.FreezeMetadata(other, 1)
	require.ErrorIs(t, err, ErrNotOwner)

	receipt, err := l.FreezeMetadata(seller, 1)
	require.NoError(t, err)
	require.Equal(t, EventMetadataFrozen, receipt.Logs[0].Name)

	_, err = l.FreezeMetadata(seller, 1)
	require.ErrorIs(t, err, ErrAlreadyFrozen)

	_, err = l.SetNote(seller, 1, "frozen now")
	require.ErrorIs(t, err, ErrFrozen)
}

// TestSaleOpenValidation asserts escrow open preconditions and the expiry
// window boundaries.
func TestSaleOpenValidation(t *testing.T) {
	_, hash := testSecret()
	now := testTime.Unix()

	tests := []struct {
		name   string
		caller Address
		buyer  Address
		hash   lntypes.Hash
		expiry int64
		price  int64
		err    error
	}{
		{
			name:   "not owner",
			caller: other,
			buyer:  buyer,
			hash:   hash,
			expiry: now + 7200,
			price:  1000,
			err:    ErrNotOwner,
		},
		{
			name:   "zero buyer",
			caller: seller,
			buyer:  ZeroAddress,
			hash:   hash,
			expiry: now + 7200,
			price:  1000,
			err:    ErrInvalidBuyer,
		},
		{
			name:   "self buy",
			caller: seller,
			buyer:  seller,
			hash:   hash,
			expiry: now + 7200,
			price:  1000,
			err:    ErrInvalidBuyer,
		},
		{
			name:   "zero hash",
			caller: seller,
			buyer:  buyer,
			expiry: now + 7200,
			price:  1000,
			err:    ErrInvalidHash,
		},
		{
			name:   "zero price",
			caller: seller,
			buyer:  buyer,
			hash:   hash,
			expiry: now + 7200,
			err:    ErrInvalidPrice,
		},
		{
			name:   "one sat price",
			caller: seller,
			buyer:  buyer,
			hash:   hash,
			expiry: now + 7200,
			price:  1,
		},
		{
			name:   "expiry one hour sharp",
			caller: seller,
			buyer:  buyer,
			hash:   hash,
			expiry: now + 3600,
			price:  1000,
			err:    ErrExpiryTooSoon,
		},
		{
			name:   "expiry 3599",
			caller: seller,
			buyer:  buyer,
			hash:   hash,
			expiry: now + 3599,
			price:  1000,
			err:    ErrExpiryTooSoon,
		},
		{
			name:   "expiry 3601",
			caller: seller,
			buyer:  buyer,
			hash:   hash,
			expiry: now + 3601,
			price:  1000,
		},
		{
			name:   "expiry 30 days",
			caller: seller,
			buyer:  buyer,
			hash:   hash,
			expiry: now + 30*86400,
			price:  1000,
		},
		{
			name:   "expiry past 30 days",
			caller: seller,
			buyer:  buyer,
			hash:   hash,
			expiry: now + 30*86400 + 1,
			price:  1000,
			err:    ErrExpiryTooFar,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			l, _ := testLedger(t)

			_, err := l.SaleOpen(
				test.caller, 1, test.buyer, test.hash,
				test.expiry, btcutil.Amount(test.price),
			)
			if test.err != nil {
				require.ErrorIs(t, err, test.err)
				return
			}
			require.NoError(t, err)
			require.True(t, l.IsInEscrow(1))
		})
	}
}

// TestDoubleOpen asserts at most one active escrow per token.
func TestDoubleOpen(t *testing.T) {
	l, _ := testLedger(t)
	_, hash := openSale(t, l)

	_, err := l.SaleOpen(
		seller, 1, buyer, hash, testTime.Unix()+7200, 50_000_000,
	)
	require.ErrorIs(t, err, ErrInEscrow)
}

// TestTransferBlockedInEscrow asserts escrowed tokens cannot move.
func TestTransferBlockedInEscrow(t *testing.T) {
	l, _ := testLedger(t)

	// Before escrow, transfer works.
	_, err := l.Transfer(seller, other, 1)
	require.NoError(t, err)
	_, err = l.Transfer(other, seller, 1)
	require.NoError(t, err)

	openSale(t, l)

	_, err = l.Transfer(seller, other, 1)
	require.ErrorIs(t, err, ErrInEscrow)
}

// TestClaim asserts the settle path and its failure modes.
func TestClaim(t *testing.T) {
	l, _ := testLedger(t)
	secret, hash := openSale(t, l)

	// Wrong caller.
	_, err := l.Claim(other, 1, secret)
	require.ErrorIs(t, err, ErrNotBuyer)

	// Wrong secret leaves the escrow active.
	var wrong lntypes.Preimage
	for i := range wrong {
		wrong[i] = 0xbb
	}
	_, err = l.Claim(buyer, 1, wrong)
	require.ErrorIs(t, err, ErrBadSecret)
	require.True(t, l.IsInEscrow(1))

	// Valid claim settles and transfers.
	require.True(t, l.CanClaim(1, secret))

	receipt, err := l.Claim(buyer, 1, secret)
	require.NoError(t, err)
	require.Equal(t, EventSaleSettle, receipt.Logs[0].Name)
	require.Equal(t, EventTransfer, receipt.Logs[1].Name)
	require.Equal(t, hash.String(), receipt.Logs[0].Fields[FieldHash])

	owner, err := l.OwnerOf(1)
	require.NoError(t, err)
	require.Equal(t, buyer, owner)

	// Refund after claim fails: the escrow is gone. This is also why the
	// buyer wins a same-block claim/refund race.
	_, err = l.Refund(seller, 1)
	require.ErrorIs(t, err, ErrNotInEscrow)
}

// TestClaimAfterExpiry asserts claims are rejected at and after expiry.
func TestClaimAfterExpiry(t *testing.T) {
	l, clk := testLedger(t)
	secret, _ := openSale(t, l)

	clk.SetTime(testTime.Add(2 * time.Hour))

	_, err := l.Claim(buyer, 1, secret)
	require.ErrorIs(t, err, ErrExpired)

	// The escrow is still active, anyone may refund now.
	require.True(t, l.CanRefund(1))

	_, err = l.Refund(other, 1)
	require.NoError(t, err)

	owner, err := l.OwnerOf(1)
	require.NoError(t, err)
	require.Equal(t, seller, owner)
}

// TestEarlySellerRefund asserts the seller may refund before expiry while
// third parties may not.
func TestEarlySellerRefund(t *testing.T) {
	l, _ := testLedger(t)
	openSale(t, l)

	_, err := l.Refund(other, 1)
	require.ErrorIs(t, err, ErrRefundNotYet)

	_, err = l.Refund(buyer, 1)
	require.ErrorIs(t, err, ErrRefundNotYet)

	receipt, err := l.Refund(seller, 1)
	require.NoError(t, err)
	require.Equal(t, EventSaleRefund, receipt.Logs[0].Name)

	require.False(t, l.IsInEscrow(1))

	owner, err := l.OwnerOf(1)
	require.NoError(t, err)
	require.Equal(t, seller, owner)
}

// TestLogSubscription asserts subscribers observe emitted logs in order.
func TestLogSubscription(t *testing.T) {
	l, _ := testLedger(t)

	sub := l.SubscribeLogs()
	secret, _ := openSale(t, l)

	_, err := l.Claim(buyer, 1, secret)
	require.NoError(t, err)

	names := make([]string, 0, 3)
	for i := 0; i < 3; i++ {
		names = append(names, (<-sub).Name)
	}

	require.Equal(
		t, []string{EventSaleOpen, EventSaleSettle, EventTransfer},
		names,
	)
}
