package ledger

import (
	"encoding/hex"
	"strings"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/lightningnetwork/lnd/lntypes"
)

// Address is a 20 byte account identifier on the asset ledger.
type Address [20]byte

// ZeroAddress is the all-zero address. It is never a valid participant.
var ZeroAddress Address

// ParseAddress decodes a hex encoded address, with or without 0x prefix.
func ParseAddress(s string) (Address, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")

	raw, err := hex.DecodeString(s)
	if err != nil || len(raw) != 20 {
		return Address{}, ErrInvalidAddress
	}

	var addr Address
	copy(addr[:], raw)
	return addr, nil
}

// String returns the 0x-prefixed hex encoding of the address.
func (a Address) String() string {
	return "0x" + hex.EncodeToString(a[:])
}

// IsZero reports whether the address is the zero address.
func (a Address) IsZero() bool {
	return a == ZeroAddress
}

// Metadata limits.
const (
	MaxTitleLen  = 100
	MaxNoteLen   = 140
	MaxOpaqueLen = 500
)

// Metadata is the mutable descriptive record attached to a token.
type Metadata struct {
	// Title is the display name, 1 to 100 characters.
	Title string

	// Category groups tokens of the same kind.
	Category string

	// Identifiers are opaque external identifiers, up to 500 bytes each.
	Identifiers []string

	// Attributes are opaque key/value blobs, up to 500 bytes each.
	Attributes []string

	// Note is free-form text, up to 140 bytes.
	Note string

	// Frozen permanently forbids further metadata mutation once set.
	Frozen bool
}

// Validate checks the metadata against the ledger's limits.
func (m *Metadata) Validate() error {
	if len(m.Title) < 1 || len(m.Title) > MaxTitleLen {
		return ErrInvalidMetadata
	}

	if len(m.Note) > MaxNoteLen {
		return ErrNoteTooLong
	}

	for _, id := range m.Identifiers {
		if len(id) > MaxOpaqueLen {
			return ErrInvalidMetadata
		}
	}

	for _, attr := range m.Attributes {
		if len(attr) > MaxOpaqueLen {
			return ErrInvalidMetadata
		}
	}

	return nil
}

// Token is a unique asset on the ledger.
type Token struct {
	// ID is the unique, never reused token identifier.
	ID uint64

	// Owner is the current owner.
	Owner Address

	// Meta is the descriptive record.
	Meta Metadata
}

// Escrow locks a token under a hash commitment until claim or refund.
type Escrow struct {
	// Seller is the owner that opened the escrow.
	Seller Address

	// Buyer is the only address allowed to claim before expiry.
	Buyer Address

	// Hash is the sha256 commitment the claim secret must match.
	Hash lntypes.Hash

	// Expiry is the unix timestamp after which refund is open to anyone.
	Expiry int64

	// Price is the bitcoin amount the seller expects, in satoshis.
	Price btcutil.Amount

	// Active reports whether the escrow still locks the token.
	Active bool
}

// RawLog is an uninterpreted event record as the ledger emits it. The
// normalizer turns these into typed events.
type RawLog struct {
	// Name is the event schema name.
	Name string

	// BlockNumber is the ledger height at which the log was emitted.
	BlockNumber uint64

	// LogIndex orders logs within a block.
	LogIndex uint32

	// TxHash identifies the transaction that emitted the log.
	TxHash string

	// Timestamp is the block timestamp, unix seconds.
	Timestamp int64

	// Fields carries the schema-specific payload.
	Fields map[string]string
}

// Receipt is returned by every mutating ledger operation.
type Receipt struct {
	// TxHash identifies the transaction.
	TxHash string

	// BlockNumber is the height the transaction was included at.
	BlockNumber uint64

	// Timestamp is the block timestamp.
	Timestamp time.Time

	// GasUsed is the resource cost charged for the operation.
	GasUsed uint64

	// Logs are the events the operation emitted, in order.
	Logs []RawLog
}
