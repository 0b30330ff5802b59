package ledger

import "errors"

var (
	// ErrInvalidTokenID is returned when a token id of zero is used.
	ErrInvalidTokenID = errors.New("token id must be positive")

	// ErrDuplicateTokenID is returned when minting an id that exists.
	// Token ids are never reused, burned or otherwise.
	ErrDuplicateTokenID = errors.New("token id already minted")

	// ErrUnknownToken is returned when the token does not exist.
	ErrUnknownToken = errors.New("unknown token")

	// ErrInvalidMetadata is returned when metadata fails validation.
	ErrInvalidMetadata = errors.New("invalid metadata")

	// ErrNoteTooLong is returned when a note exceeds the maximum length.
	ErrNoteTooLong = errors.New("note too long")

	// ErrNotOwner is returned when the caller does not own the token.
	ErrNotOwner = errors.New("caller is not the token owner")

	// ErrFrozen is returned when mutating metadata of a frozen token.
	ErrFrozen = errors.New("token metadata is frozen")

	// ErrAlreadyFrozen is returned when freezing a frozen token.
	ErrAlreadyFrozen = errors.New("token metadata already frozen")

	// ErrInEscrow is returned when an operation requires the token to be
	// outside of escrow.
	ErrInEscrow = errors.New("token is in active escrow")

	// ErrNotInEscrow is returned when an operation requires an active
	// escrow.
	ErrNotInEscrow = errors.New("token is not in escrow")

	// ErrInvalidBuyer is returned when the buyer address is zero or equal
	// to the seller.
	ErrInvalidBuyer = errors.New("invalid buyer address")

	// ErrInvalidHash is returned when the commitment hash is zero.
	ErrInvalidHash = errors.New("invalid commitment hash")

	// ErrInvalidPrice is returned when the price is zero.
	ErrInvalidPrice = errors.New("price must be positive")

	// ErrExpiryTooSoon is returned when the escrow expiry is not more
	// than one hour away.
	ErrExpiryTooSoon = errors.New("escrow expiry too soon")

	// ErrExpiryTooFar is returned when the escrow expiry is more than 30
	// days away.
	ErrExpiryTooFar = errors.New("escrow expiry too far")

	// ErrNotBuyer is returned when someone other than the escrow buyer
	// attempts to claim.
	ErrNotBuyer = errors.New("caller is not the escrow buyer")

	// ErrExpired is returned when claiming an escrow at or after expiry.
	ErrExpired = errors.New("escrow expired")

	// ErrBadSecret is returned when the revealed secret does not hash to
	// the escrow commitment.
	ErrBadSecret = errors.New("secret does not match commitment")

	// ErrRefundNotYet is returned when a non-seller attempts a refund
	// before expiry.
	ErrRefundNotYet = errors.New("refund not available yet")

	// ErrInvalidAddress is returned when an address fails to parse or a
	// zero address is used where a real one is required.
	ErrInvalidAddress = errors.New("invalid address")
)
