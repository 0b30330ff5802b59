package ledger

// Event schema names, stable across the external interface.
const (
	EventMinted         = "Minted"
	EventTransfer       = "Transfer"
	EventNoteAdded      = "NoteAdded"
	EventMetadataFrozen = "MetadataFrozen"
	EventSaleOpen       = "SaleOpen"
	EventSaleSettle     = "SaleSettle"
	EventSaleRefund     = "SaleRefund"
)

// Log field keys.
const (
	FieldTokenID  = "tokenId"
	FieldOwner    = "owner"
	FieldTitle    = "title"
	FieldCategory = "category"
	FieldNote     = "note"
	FieldFrom     = "from"
	FieldTo       = "to"
	FieldSeller   = "seller"
	FieldBuyer    = "buyer"
	FieldHash     = "hashH"
	FieldSecret   = "secretS"
	FieldPrice    = "priceBTC"
	FieldExpiry   = "expiryTimestamp"
)

// Flat per-operation gas costs. The actuator estimates against these and
// adds its own safety buffer.
const (
	gasMint     uint64 = 90_000
	gasSetNote  uint64 = 32_000
	gasFreeze   uint64 = 28_000
	gasSaleOpen uint64 = 75_000
	gasClaim    uint64 = 68_000
	gasRefund   uint64 = 41_000
	gasTransfer uint64 = 52_000
)

// GasCost returns the flat cost for a named operation, and whether the name
// is known.
func GasCost(op string) (uint64, bool) {
	costs := map[string]uint64{
		"mint":     gasMint,
		"setnote":  gasSetNote,
		"freeze":   gasFreeze,
		"saleopen": gasSaleOpen,
		"claim":    gasClaim,
		"refund":   gasRefund,
		"transfer": gasTransfer,
	}

	cost, ok := costs[op]
	return cost, ok
}
