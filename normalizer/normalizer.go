package normalizer

import (
	"errors"
	"sort"
	"strconv"
	"sync/atomic"

	"github.com/IngarsPoliters/coldDrawer/ledger"
	"github.com/IngarsPoliters/coldDrawer/swap"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/lightningnetwork/lnd/lntypes"
)

// EventType enumerates the closed set of canonical asset ledger events.
type EventType uint8

const (
	// TypeMinted is emitted once when a token is created.
	TypeMinted EventType = iota

	// TypeTransfer is an ownership change outside of a sale.
	TypeTransfer

	// TypeNoteAdded is a note update.
	TypeNoteAdded

	// TypeMetadataFrozen marks the permanent metadata freeze.
	TypeMetadataFrozen

	// TypeSaleOpen opens an escrow.
	TypeSaleOpen

	// TypeSaleSettle settles an escrow to the buyer.
	TypeSaleSettle

	// TypeSaleRefund clears an escrow back to the seller.
	TypeSaleRefund
)

// String returns the canonical name of the event type.
func (e EventType) String() string {
	switch e {
	case TypeMinted:
		return "minted"
	case TypeTransfer:
		return "transfer"
	case TypeNoteAdded:
		return "note_added"
	case TypeMetadataFrozen:
		return "metadata_frozen"
	case TypeSaleOpen:
		return "sale_open"
	case TypeSaleSettle:
		return "sale_settle"
	case TypeSaleRefund:
		return "sale_refund"
	default:
		return "unknown"
	}
}

// ErrUnknownSchema is returned for log schemas outside of the closed set.
var ErrUnknownSchema = errors.New("unknown event schema")

// Event is a canonical swap-relevant record derived from one raw log. Only
// the fields of the event's type are populated.
type Event struct {
	// Type is the event kind.
	Type EventType

	// TokenID is the token the event concerns.
	TokenID uint64

	// TxID identifies the emitting transaction.
	TxID string

	// BlockNumber is the inclusion height.
	BlockNumber uint64

	// LogIndex orders events within a block.
	LogIndex uint32

	// Timestamp is the block timestamp. It is authoritative for
	// ordering purposes; wall clocks are not.
	Timestamp int64

	// Owner is set for minted, note_added and metadata_frozen.
	Owner string

	// Title and Category are set for minted.
	Title    string
	Category string

	// Note is set for note_added.
	Note string

	// From and To are set for transfer.
	From string
	To   string

	// Seller and Buyer are set for the sale events.
	Seller string
	Buyer  string

	// Hash is set for the sale events.
	Hash lntypes.Hash

	// Secret is set for sale_settle.
	Secret lntypes.Preimage

	// Price and Expiry are set for sale_open.
	Price  btcutil.Amount
	Expiry int64
}

// Normalizer translates raw ledger logs into canonical events. It is safe
// for concurrent use; the dropped counter is atomic.
type Normalizer struct {
	dropped atomic.Uint64
}

// New creates a normalizer.
func New() *Normalizer {
	return &Normalizer{}
}

// Dropped returns the number of raw logs discarded because their schema was
// not recognized.
func (n *Normalizer) Dropped() uint64 {
	return n.dropped.Load()
}

// Normalize converts a batch of raw logs into canonical events in chain
// order: ascending (blockNumber, logIndex). Unrecognized schemas are dropped
// and counted. Transfers from the zero address are discarded as redundant
// with the corresponding mint.
func (n *Normalizer) Normalize(rawLogs []ledger.RawLog) []Event {
	events := make([]Event, 0, len(rawLogs))

	for _, rawLog := range rawLogs {
		event, err := n.normalizeOne(rawLog)
		if err != nil {
			n.dropped.Add(1)
			log.Debugf("dropping log %q at block %v: %v",
				rawLog.Name, rawLog.BlockNumber, err)

			continue
		}

		if event.Type == TypeTransfer &&
			event.From == ledger.ZeroAddress.String() {

			continue
		}

		events = append(events, event)
	}

	sort.SliceStable(events, func(i, j int) bool {
		if events[i].BlockNumber != events[j].BlockNumber {
			return events[i].BlockNumber < events[j].BlockNumber
		}

		return events[i].LogIndex < events[j].LogIndex
	})

	return events
}

// normalizeOne maps a single raw log onto its canonical form.
func (n *Normalizer) normalizeOne(rawLog ledger.RawLog) (Event, error) {
	event := Event{
		TxID:        rawLog.TxHash,
		BlockNumber: rawLog.BlockNumber,
		LogIndex:    rawLog.LogIndex,
		Timestamp:   rawLog.Timestamp,
	}

	tokenID, err := strconv.ParseUint(
		rawLog.Fields[ledger.FieldTokenID], 10, 64,
	)
	if err != nil {
		return Event{}, err
	}
	event.TokenID = tokenID

	fields := rawLog.Fields

	switch rawLog.Name {
	case ledger.EventMinted:
		event.Type = TypeMinted
		event.Owner = fields[ledger.FieldOwner]
		event.Title = fields[ledger.FieldTitle]
		event.Category = fields[ledger.FieldCategory]

	case ledger.EventTransfer:
		event.Type = TypeTransfer
		event.From = fields[ledger.FieldFrom]
		event.To = fields[ledger.FieldTo]

	case ledger.EventNoteAdded:
		event.Type = TypeNoteAdded
		event.Owner = fields[ledger.FieldOwner]
		event.Note = fields[ledger.FieldNote]

	case ledger.EventMetadataFrozen:
		event.Type = TypeMetadataFrozen
		event.Owner = fields[ledger.FieldOwner]

	case ledger.EventSaleOpen:
		event.Type = TypeSaleOpen
		event.Seller = fields[ledger.FieldSeller]
		event.Buyer = fields[ledger.FieldBuyer]

		event.Hash, err = swap.ParseHashHex(
			fields[ledger.FieldHash],
		)
		if err != nil {
			return Event{}, err
		}

		price, err := strconv.ParseInt(
			fields[ledger.FieldPrice], 10, 64,
		)
		if err != nil {
			return Event{}, err
		}
		event.Price = btcutil.Amount(price)

		event.Expiry, err = strconv.ParseInt(
			fields[ledger.FieldExpiry], 10, 64,
		)
		if err != nil {
			return Event{}, err
		}

	case ledger.EventSaleSettle:
		event.Type = TypeSaleSettle
		event.Seller = fields[ledger.FieldSeller]
		event.Buyer = fields[ledger.FieldBuyer]

		event.Hash, err = swap.ParseHashHex(
			fields[ledger.FieldHash],
		)
		if err != nil {
			return Event{}, err
		}

		event.Secret, err = swap.ParseSecretHex(
			fields[ledger.FieldSecret],
		)
		if err != nil {
			return Event{}, err
		}

	case ledger.EventSaleRefund:
		event.Type = TypeSaleRefund
		event.Seller = fields[ledger.FieldSeller]
		event.Buyer = fields[ledger.FieldBuyer]

		event.Hash, err = swap.ParseHashHex(
			fields[ledger.FieldHash],
		)
		if err != nil {
			return Event{}, err
		}

	default:
		return Event{}, ErrUnknownSchema
	}

	return event, nil
}
