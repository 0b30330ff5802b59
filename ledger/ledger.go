package ledger

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strconv"
	"sync"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/lntypes"
)

// Escrow expiry window at open time.
const (
	// MinEscrowLead is the minimum time until expiry, exclusive.
	MinEscrowLead = int64(3600)

	// MaxEscrowLead is the maximum time until expiry, inclusive.
	MaxEscrowLead = int64(30 * 86400)
)

// Ledger is the asset side of the swap: a token registry plus an escrow
// subsystem, combined into one entity. Every mutating operation is a single
// transaction producing a receipt with the emitted logs.
//
// The ledger is internally synchronized. Operations are sequenced under one
// lock, which is what makes concurrent claim and refund on the same token
// impossible to interleave.
type Ledger struct {
	mtx sync.Mutex

	clock clock.Clock

	tokens  map[uint64]*Token
	escrows map[uint64]*Escrow

	// height is the current block height. Each transaction occupies its
	// own block.
	height uint64

	// logs is the full append-only log history.
	logs []RawLog

	// subscribers receive every emitted log.
	subscribers []chan RawLog
}

// New creates an empty ledger using the given clock for block timestamps.
func New(clk clock.Clock) *Ledger {
	return &Ledger{
		clock:   clk,
		tokens:  make(map[uint64]*Token),
		escrows: make(map[uint64]*Escrow),
	}
}

// SubscribeLogs returns a channel receiving every log emitted after the call.
// The channel is buffered; a slow consumer loses logs rather than blocking
// the ledger.
func (l *Ledger) SubscribeLogs() <-chan RawLog {
	l.mtx.Lock()
	defer l.mtx.Unlock()

	ch := make(chan RawLog, 128)
	l.subscribers = append(l.subscribers, ch)
	return ch
}

// Logs returns a copy of the full log history.
func (l *Ledger) Logs() []RawLog {
	l.mtx.Lock()
	defer l.mtx.Unlock()

	logs := make([]RawLog, len(l.logs))
	copy(logs, l.logs)
	return logs
}

// tx groups the logs of one mutating operation into a block.
type tx struct {
	ledger    *Ledger
	hash      string
	height    uint64
	timestamp int64
	gasUsed   uint64
	logs      []RawLog
}

// begin opens a new transaction. The caller must hold the ledger lock.
func (l *Ledger) begin(op string, tokenID uint64) *tx {
	l.height++

	// Transaction hashes only need to be unique and stable, so they are
	// derived from the operation, token and height.
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], l.height)
	sum := sha256.Sum256(append([]byte(op+"/"+
		strconv.FormatUint(tokenID, 10)+"/"), buf[:]...))

	return &tx{
		ledger:    l,
		hash:      hex.EncodeToString(sum[:]),
		height:    l.height,
		timestamp: l.clock.Now().Unix(),
	}
}

// emit appends a log to the transaction.
func (t *tx) emit(name string, fields map[string]string) {
	t.logs = append(t.logs, RawLog{
		Name:        name,
		BlockNumber: t.height,
		LogIndex:    uint32(len(t.logs)),
		TxHash:      t.hash,
		Timestamp:   t.timestamp,
		Fields:      fields,
	})
}

// commit records the transaction logs and fans them out to subscribers. The
// caller must hold the ledger lock.
func (t *tx) commit(gasUsed uint64) *Receipt {
	t.gasUsed = gasUsed
	t.ledger.logs = append(t.ledger.logs, t.logs...)

	for _, sub := range t.ledger.subscribers {
		for _, rawLog := range t.logs {
			select {
			case sub <- rawLog:
			default:
				log.Warnf("dropping log %v for slow "+
					"subscriber", rawLog.Name)
			}
		}
	}

	return &Receipt{
		TxHash:      t.hash,
		BlockNumber: t.height,
		Timestamp:   t.ledger.clock.Now(),
		GasUsed:     gasUsed,
		Logs:        t.logs,
	}
}

// Mint creates a new token owned by the caller.
func (l *Ledger) Mint(caller Address, tokenID uint64,
	meta Metadata) (*Receipt, error) {

	l.mtx.Lock()
	defer l.mtx.Unlock()

	if caller.IsZero() {
		return nil, ErrInvalidAddress
	}

	if tokenID == 0 {
		return nil, ErrInvalidTokenID
	}

	if _, ok := l.tokens[tokenID]; ok {
		return nil, ErrDuplicateTokenID
	}

	// Freezing at mint time is allowed, but a frozen flag cannot arrive
	// with invalid contents.
	if err := meta.Validate(); err != nil {
		return nil, err
	}

	l.tokens[tokenID] = &Token{
		ID:    tokenID,
		Owner: caller,
		Meta:  meta,
	}

	t := l.begin("mint", tokenID)
	t.emit(EventMinted, map[string]string{
		FieldTokenID:  strconv.FormatUint(tokenID, 10),
		FieldOwner:    caller.String(),
		FieldTitle:    meta.Title,
		FieldCategory: meta.Category,
	})
	if meta.Note != "" {
		t.emit(EventNoteAdded, map[string]string{
			FieldTokenID: strconv.FormatUint(tokenID, 10),
			FieldOwner:   caller.String(),
			FieldNote:    meta.Note,
		})
	}

	log.Debugf("minted token %v for %v", tokenID, caller)

	return t.commit(gasMint), nil
}

// SetNote replaces the token's note. The token must be owned by the caller,
// unfrozen and outside of escrow.
func (l *Ledger) SetNote(caller Address, tokenID uint64,
	note string) (*Receipt, error) {

	l.mtx.Lock()
	defer l.mtx.Unlock()

	token, err := l.ownedToken(caller, tokenID)
	if err != nil {
		return nil, err
	}

	if token.Meta.Frozen {
		return nil, ErrFrozen
	}

	if l.activeEscrow(tokenID) != nil {
		return nil, ErrInEscrow
	}

	if len(note) > MaxNoteLen {
		return nil, ErrNoteTooLong
	}

	token.Meta.Note = note

	t := l.begin("setnote", tokenID)
	t.emit(EventNoteAdded, map[string]string{
		FieldTokenID: strconv.FormatUint(tokenID, 10),
		FieldOwner:   caller.String(),
		FieldNote:    note,
	})

	return t.commit(gasSetNote), nil
}

// FreezeMetadata permanently forbids further metadata mutation.
func (l *Ledger) FreezeMetadata(caller Address,
	tokenID uint64) (*Receipt, error) {

	l.mtx.Lock()
	defer l.mtx.Unlock()

	token, err := l.ownedToken(caller, tokenID)
	if err != nil {
		return nil, err
	}

	if token.Meta.Frozen {
		return nil, ErrAlreadyFrozen
	}

	if l.activeEscrow(tokenID) != nil {
		return nil, ErrInEscrow
	}

	token.Meta.Frozen = true

	t := l.begin("freeze", tokenID)
	t.emit(EventMetadataFrozen, map[string]string{
		FieldTokenID: strconv.FormatUint(tokenID, 10),
		FieldOwner:   caller.String(),
	})

	return t.commit(gasFreeze), nil
}

// SaleOpen locks the token in escrow under the given commitment. Only one
// escrow can be active per token at any time.
func (l *Ledger) SaleOpen(caller Address, tokenID uint64, buyer Address,
	hash lntypes.Hash, expiry int64,
	price btcutil.Amount) (*Receipt, error) {

	l.mtx.Lock()
	defer l.mtx.Unlock()

	token, err := l.ownedToken(caller, tokenID)
	if err != nil {
		return nil, err
	}

	if l.activeEscrow(tokenID) != nil {
		return nil, ErrInEscrow
	}

	if buyer.IsZero() || buyer == caller {
		return nil, ErrInvalidBuyer
	}

	if hash == (lntypes.Hash{}) {
		return nil, ErrInvalidHash
	}

	if price <= 0 {
		return nil, ErrInvalidPrice
	}

	now := l.clock.Now().Unix()
	switch {
	case expiry-now <= MinEscrowLead:
		return nil, ErrExpiryTooSoon

	case expiry-now > MaxEscrowLead:
		return nil, ErrExpiryTooFar
	}

	l.escrows[tokenID] = &Escrow{
		Seller: token.Owner,
		Buyer:  buyer,
		Hash:   hash,
		Expiry: expiry,
		Price:  price,
		Active: true,
	}

	t := l.begin("saleopen", tokenID)
	t.emit(EventSaleOpen, map[string]string{
		FieldTokenID: strconv.FormatUint(tokenID, 10),
		FieldSeller:  token.Owner.String(),
		FieldBuyer:   buyer.String(),
		FieldHash:    hash.String(),
		FieldPrice:   strconv.FormatInt(int64(price), 10),
		FieldExpiry:  strconv.FormatInt(expiry, 10),
	})

	log.Infof("sale open for token %v: buyer=%v, hash=%v, price=%v, "+
		"expiry=%v", tokenID, buyer, hash, price, expiry)

	return t.commit(gasSaleOpen), nil
}

// Claim settles the escrow: the caller must be the buyer, the escrow must
// not have expired, and the secret must hash to the commitment. The token
// transfers to the buyer.
func (l *Ledger) Claim(caller Address, tokenID uint64,
	secret lntypes.Preimage) (*Receipt, error) {

	l.mtx.Lock()
	defer l.mtx.Unlock()

	escrow := l.activeEscrow(tokenID)
	if escrow == nil {
		return nil, ErrNotInEscrow
	}

	if caller != escrow.Buyer {
		return nil, ErrNotBuyer
	}

	if l.clock.Now().Unix() >= escrow.Expiry {
		return nil, ErrExpired
	}

	if !secret.Matches(escrow.Hash) {
		return nil, ErrBadSecret
	}

	// Clear the escrow before touching ownership. A transfer hook must
	// never observe a still-active escrow.
	escrow.Active = false
	delete(l.escrows, tokenID)

	token := l.tokens[tokenID]
	token.Owner = escrow.Buyer

	t := l.begin("claim", tokenID)
	t.emit(EventSaleSettle, map[string]string{
		FieldTokenID: strconv.FormatUint(tokenID, 10),
		FieldSeller:  escrow.Seller.String(),
		FieldBuyer:   escrow.Buyer.String(),
		FieldHash:    escrow.Hash.String(),
		FieldSecret:  hex.EncodeToString(secret[:]),
	})
	t.emit(EventTransfer, map[string]string{
		FieldTokenID: strconv.FormatUint(tokenID, 10),
		FieldFrom:    escrow.Seller.String(),
		FieldTo:      escrow.Buyer.String(),
	})

	log.Infof("sale settled for token %v: buyer=%v", tokenID,
		escrow.Buyer)

	return t.commit(gasClaim), nil
}

// Refund clears the escrow, leaving ownership with the seller. Before expiry
// only the seller may refund; at or after expiry anyone may.
func (l *Ledger) Refund(caller Address, tokenID uint64) (*Receipt, error) {
	l.mtx.Lock()
	defer l.mtx.Unlock()

	escrow := l.activeEscrow(tokenID)
	if escrow == nil {
		return nil, ErrNotInEscrow
	}

	if caller != escrow.Seller &&
		l.clock.Now().Unix() < escrow.Expiry {

		return nil, ErrRefundNotYet
	}

	// Same ordering discipline as claim: clear first.
	escrow.Active = false
	delete(l.escrows, tokenID)

	t := l.begin("refund", tokenID)
	t.emit(EventSaleRefund, map[string]string{
		FieldTokenID: strconv.FormatUint(tokenID, 10),
		FieldSeller:  escrow.Seller.String(),
		FieldBuyer:   escrow.Buyer.String(),
		FieldHash:    escrow.Hash.String(),
	})

	log.Infof("sale refunded for token %v: seller=%v", tokenID,
		escrow.Seller)

	return t.commit(gasRefund), nil
}

// Transfer moves the token to a new owner. Transfers of escrowed tokens
// always fail.
func (l *Ledger) Transfer(from, to Address, tokenID uint64) (*Receipt, error) {
	l.mtx.Lock()
	defer l.mtx.Unlock()

	token, err := l.ownedToken(from, tokenID)
	if err != nil {
		return nil, err
	}

	if to.IsZero() {
		return nil, ErrInvalidAddress
	}

	if l.activeEscrow(tokenID) != nil {
		return nil, ErrInEscrow
	}

	token.Owner = to

	t := l.begin("transfer", tokenID)
	t.emit(EventTransfer, map[string]string{
		FieldTokenID: strconv.FormatUint(tokenID, 10),
		FieldFrom:    from.String(),
		FieldTo:      to.String(),
	})

	return t.commit(gasTransfer), nil
}

// OwnerOf returns the current owner of the token.
func (l *Ledger) OwnerOf(tokenID uint64) (Address, error) {
	l.mtx.Lock()
	defer l.mtx.Unlock()

	token, ok := l.tokens[tokenID]
	if !ok {
		return Address{}, ErrUnknownToken
	}

	return token.Owner, nil
}

// GetToken returns a copy of the token.
func (l *Ledger) GetToken(tokenID uint64) (Token, error) {
	l.mtx.Lock()
	defer l.mtx.Unlock()

	token, ok := l.tokens[tokenID]
	if !ok {
		return Token{}, ErrUnknownToken
	}

	return *token, nil
}

// IsInEscrow reports whether the token has an active escrow.
func (l *Ledger) IsInEscrow(tokenID uint64) bool {
	l.mtx.Lock()
	defer l.mtx.Unlock()

	return l.activeEscrow(tokenID) != nil
}

// GetEscrow returns a copy of the token's active escrow.
func (l *Ledger) GetEscrow(tokenID uint64) (Escrow, error) {
	l.mtx.Lock()
	defer l.mtx.Unlock()

	escrow := l.activeEscrow(tokenID)
	if escrow == nil {
		return Escrow{}, ErrNotInEscrow
	}

	return *escrow, nil
}

// CanClaim reports whether a claim with the given secret would currently
// succeed, disregarding the caller.
func (l *Ledger) CanClaim(tokenID uint64, secret lntypes.Preimage) bool {
	l.mtx.Lock()
	defer l.mtx.Unlock()

	escrow := l.activeEscrow(tokenID)
	if escrow == nil {
		return false
	}

	return l.clock.Now().Unix() < escrow.Expiry &&
		secret.Matches(escrow.Hash)
}

// CanRefund reports whether a third-party refund would currently succeed.
func (l *Ledger) CanRefund(tokenID uint64) bool {
	l.mtx.Lock()
	defer l.mtx.Unlock()

	escrow := l.activeEscrow(tokenID)
	if escrow == nil {
		return false
	}

	return l.clock.Now().Unix() >= escrow.Expiry
}

// ownedToken fetches a token and checks ownership. The caller must hold the
// ledger lock.
func (l *Ledger) ownedToken(caller Address, tokenID uint64) (*Token, error) {
	token, ok := l.tokens[tokenID]
	if !ok {
		return nil, ErrUnknownToken
	}

	if token.Owner != caller {
		return nil, fmt.Errorf("%w: token %v", ErrNotOwner, tokenID)
	}

	return token, nil
}

// activeEscrow returns the active escrow for the token, or nil. The caller
// must hold the ledger lock.
func (l *Ledger) activeEscrow(tokenID uint64) *Escrow {
	escrow, ok := l.escrows[tokenID]
	if !ok || !escrow.Active {
		return nil
	}

	return escrow
}
