package btcwatch

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/IngarsPoliters/coldDrawer/swap"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/lightningnetwork/lnd/ticker"
)

const (
	// DefaultPollInterval is the gap between chain polls.
	DefaultPollInterval = 30 * time.Second

	// DefaultMinConfs is the number of confirmations required before a
	// funding transaction is considered locked in.
	DefaultMinConfs = uint32(1)

	// processedTTL bounds the processed-txid set: entries for retired
	// watches are evicted after this duration.
	processedTTL = 24 * time.Hour

	// DefaultSoftLimit is the event backlog at which the observer skips
	// non-essential work until the consumer catches up.
	DefaultSoftLimit = 1024
)

var (
	// ErrAlreadyWatched is returned when registering a watch for a
	// commitment that is already being observed.
	ErrAlreadyWatched = errors.New("commitment already watched")

	// ErrInsufficientAmount marks funding candidates paying less than
	// the asked price. They are remembered and never accepted.
	ErrInsufficientAmount = errors.New("insufficient funding amount")
)

// EventKind enumerates observer notifications.
type EventKind uint8

const (
	// FundingSeen fires when a transaction funding the watched address
	// with at least the asked amount appears.
	FundingSeen EventKind = iota

	// FundingConfirmed fires when the funding transaction reaches the
	// required confirmation count.
	FundingConfirmed

	// FundingReorged fires when a previously seen funding transaction
	// is no longer on the best chain.
	FundingReorged

	// SecretRevealed fires when a spend of the funding transaction
	// exposes the preimage in its witness.
	SecretRevealed
)

// String returns the event kind name.
func (k EventKind) String() string {
	switch k {
	case FundingSeen:
		return "funding_seen"
	case FundingConfirmed:
		return "funding_confirmed"
	case FundingReorged:
		return "funding_reorged"
	case SecretRevealed:
		return "secret_revealed"
	default:
		return "unknown"
	}
}

// Event is a single observation, keyed by the swap commitment it concerns.
type Event struct {
	// Kind is the observation type.
	Kind EventKind

	// Hash is the commitment of the affected swap.
	Hash lntypes.Hash

	// Txid is the funding transaction.
	Txid string

	// Amount is the total value paid to the watched address, for
	// FundingSeen.
	Amount btcutil.Amount

	// Confs is the confirmation count, for FundingConfirmed.
	Confs uint32

	// Secret is the extracted preimage, for SecretRevealed.
	Secret lntypes.Preimage

	// RevealTxid is the spending transaction the secret was found in,
	// for SecretRevealed.
	RevealTxid string
}

// watchPhase tracks how far a single watch has progressed.
type watchPhase uint8

const (
	phaseWaitingFunding watchPhase = iota
	phaseWaitingConf
	phaseWatchingSpend
	phaseDone
)

// watchEntry is the observer-side state of one swap.
type watchEntry struct {
	hash     lntypes.Hash
	addr     string
	price    btcutil.Amount
	minConfs uint32
	phase    watchPhase

	// fundingTxid and fundingVouts identify the funding transaction and
	// which of its outputs pay the watched address.
	fundingTxid  string
	fundingVouts []uint32
}

// Config parameterizes the observer.
type Config struct {
	// API is the chain data source.
	API ChainAPI

	// Clock provides time for the processed-set eviction.
	Clock clock.Clock

	// PollTicker drives the poll loop.
	PollTicker ticker.Ticker

	// MinConfs is the default confirmation requirement.
	MinConfs uint32

	// SoftLimit is the event backlog beyond which spend re-scans are
	// skipped.
	SoftLimit int
}

// Observer watches bitcoin for htlc funding transactions and for the spends
// that reveal swap secrets. It owns the watched address set and the
// processed-txid cache; consumers only read its event channel.
type Observer struct {
	cfg Config

	mtx     sync.Mutex
	watches map[lntypes.Hash]*watchEntry

	// processed caches handled txids per commitment so that push and
	// poll delivery of the same transaction stays idempotent.
	processed map[string]time.Time

	// push receives txids hinted by the websocket feed.
	push chan string

	events chan Event
}

// NewObserver creates an observer.
func NewObserver(cfg *Config) *Observer {
	if cfg.MinConfs == 0 {
		cfg.MinConfs = DefaultMinConfs
	}

	if cfg.SoftLimit == 0 {
		cfg.SoftLimit = DefaultSoftLimit
	}

	return &Observer{
		cfg:       *cfg,
		watches:   make(map[lntypes.Hash]*watchEntry),
		processed: make(map[string]time.Time),
		push:      make(chan string, 32),
		events:    make(chan Event, DefaultSoftLimit+64),
	}
}

// Events returns the observation channel.
func (o *Observer) Events() <-chan Event {
	return o.events
}

// Watch registers a swap: the observer looks for a transaction paying addr
// at least price, then for the spend revealing the preimage of hash.
func (o *Observer) Watch(hash lntypes.Hash, addr string,
	price btcutil.Amount) error {

	o.mtx.Lock()
	defer o.mtx.Unlock()

	if _, ok := o.watches[hash]; ok {
		return ErrAlreadyWatched
	}

	if swap.IsDust(price) {
		log.Warnf("watch %v: price %v below dust limit %v, funding "+
			"may not relay", swap.ShortHash(&hash), price,
			swap.DustLimit)
	}

	o.watches[hash] = &watchEntry{
		hash:     hash,
		addr:     addr,
		price:    price,
		minConfs: o.cfg.MinConfs,
	}

	log.Infof("watching %v for %v paying %v", addr, price,
		swap.ShortHash(&hash))

	return nil
}

// Unwatch drops the watch for the given commitment.
func (o *Observer) Unwatch(hash lntypes.Hash) {
	o.mtx.Lock()
	defer o.mtx.Unlock()

	delete(o.watches, hash)
}

// WatchedAddresses returns the set of currently watched addresses.
func (o *Observer) WatchedAddresses() []string {
	o.mtx.Lock()
	defer o.mtx.Unlock()

	addrs := make([]string, 0, len(o.watches))
	for _, entry := range o.watches {
		addrs = append(addrs, entry.addr)
	}

	return addrs
}

// ProcessedTxids returns the current size of the idempotency cache.
func (o *Observer) ProcessedTxids() int {
	o.mtx.Lock()
	defer o.mtx.Unlock()

	return len(o.processed)
}

// Run polls the chain until the context is cancelled. Push hints from the
// websocket feed trigger an immediate poll round.
func (o *Observer) Run(ctx context.Context) error {
	o.cfg.PollTicker.Resume()
	defer o.cfg.PollTicker.Stop()

	for {
		select {
		case <-o.cfg.PollTicker.Ticks():
			o.pollOnce(ctx)
			o.evictProcessed()

		case txid := <-o.push:
			log.Debugf("push hint for tx %v", txid)
			o.pollOnce(ctx)

		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// PushTxid hints the observer that a transaction relevant to a watched
// address appeared. Delivery is best effort; the poll loop catches up
// regardless.
func (o *Observer) PushTxid(txid string) {
	select {
	case o.push <- txid:
	default:
	}
}

// pollOnce runs one scan round over all watches.
func (o *Observer) pollOnce(ctx context.Context) {
	// The event backlog decides whether we do the cheaper essential
	// work only.
	backlogged := len(o.events) > o.cfg.SoftLimit

	tip, err := o.cfg.API.TipHeight(ctx)
	if err != nil {
		log.Warnf("tip height: %v", err)
		return
	}

	for _, entry := range o.snapshotWatches() {
		switch entry.phase {
		case phaseWaitingFunding:
			o.scanFunding(ctx, entry)

			// A funding tx that is already buried deep enough
			// confirms in the same round.
			if entry.phase == phaseWaitingConf {
				o.checkConfirmations(ctx, entry, tip)
			}

		case phaseWaitingConf:
			o.checkConfirmations(ctx, entry, tip)

		case phaseWatchingSpend:
			// Reorg detection is essential, spend re-scans are
			// not.
			o.checkConfirmations(ctx, entry, tip)

			if backlogged {
				log.Debugf("backlog %v above soft limit, "+
					"skipping spend scan",
					len(o.events))

				continue
			}
			o.scanSpends(ctx, entry)
		}
	}
}

// snapshotWatches returns the current watch entries without holding the
// lock during network calls.
func (o *Observer) snapshotWatches() []*watchEntry {
	o.mtx.Lock()
	defer o.mtx.Unlock()

	entries := make([]*watchEntry, 0, len(o.watches))
	for _, entry := range o.watches {
		entries = append(entries, entry)
	}

	return entries
}

// scanFunding looks for a funding transaction paying the watched address at
// least the asked price.
func (o *Observer) scanFunding(ctx context.Context, entry *watchEntry) {
	txs, err := o.cfg.API.AddressTxs(ctx, entry.addr)
	if err != nil {
		log.Warnf("address txs for %v: %v", entry.addr, err)
		return
	}

	for _, tx := range txs {
		if o.alreadyProcessed(entry.hash, tx.Txid) {
			continue
		}

		var (
			total btcutil.Amount
			vouts []uint32
		)
		for i, vout := range tx.Vout {
			if vout.ScriptPubKeyAddress != entry.addr {
				continue
			}

			total += vout.Value
			vouts = append(vouts, uint32(i))
		}

		if total == 0 {
			continue
		}

		o.markProcessed(entry.hash, tx.Txid)

		if total < entry.price {
			log.Warnf("tx %v pays %v to %v, below asked price "+
				"%v: %v", tx.Txid, total, entry.addr,
				entry.price, ErrInsufficientAmount)

			continue
		}

		if total > entry.price {
			log.Infof("tx %v overpays by %v", tx.Txid,
				total-entry.price)
		}

		o.mtx.Lock()
		entry.phase = phaseWaitingConf
		entry.fundingTxid = tx.Txid
		entry.fundingVouts = vouts
		o.mtx.Unlock()

		o.emit(Event{
			Kind:   FundingSeen,
			Hash:   entry.hash,
			Txid:   tx.Txid,
			Amount: total,
		})

		return
	}
}

// checkConfirmations advances a funded watch once the funding transaction
// is buried deep enough, and detects it vanishing from the best chain.
func (o *Observer) checkConfirmations(ctx context.Context,
	entry *watchEntry, tip uint32) {

	tx, err := o.cfg.API.Tx(ctx, entry.fundingTxid)
	switch {
	case errors.Is(err, ErrTxNotFound):
		o.handleReorg(entry)
		return

	case err != nil:
		log.Warnf("tx %v: %v", entry.fundingTxid, err)
		return
	}

	confs := Confirmations(tx.Status, tip)

	if entry.phase != phaseWaitingConf || confs < entry.minConfs {
		return
	}

	o.mtx.Lock()
	entry.phase = phaseWatchingSpend
	o.mtx.Unlock()

	o.emit(Event{
		Kind:  FundingConfirmed,
		Hash:  entry.hash,
		Txid:  entry.fundingTxid,
		Confs: confs,
	})
}

// handleReorg resets a watch whose funding transaction disappeared. The
// coordinator decides whether that downgrades the swap or merely raises an
// alert; the observer goes back to looking for funding either way.
func (o *Observer) handleReorg(entry *watchEntry) {
	log.Warnf("funding tx %v for %v no longer on best chain",
		entry.fundingTxid, swap.ShortHash(&entry.hash))

	txid := entry.fundingTxid

	o.mtx.Lock()
	entry.phase = phaseWaitingFunding
	entry.fundingTxid = ""
	entry.fundingVouts = nil

	// Allow the same txid to fund again if it re-confirms on the new
	// branch.
	delete(o.processed, processedKey(entry.hash, txid))
	o.mtx.Unlock()

	o.emit(Event{
		Kind: FundingReorged,
		Hash: entry.hash,
		Txid: txid,
	})
}

// scanSpends looks for a spend of the funding outputs revealing the secret.
func (o *Observer) scanSpends(ctx context.Context, entry *watchEntry) {
	outspends, err := o.cfg.API.Outspends(ctx, entry.fundingTxid)
	if err != nil {
		log.Warnf("outspends %v: %v", entry.fundingTxid, err)
		return
	}

	for _, voutIndex := range entry.fundingVouts {
		if int(voutIndex) >= len(outspends) {
			continue
		}

		outspend := outspends[voutIndex]
		if !outspend.Spent ||
			o.alreadyProcessed(entry.hash, outspend.Txid) {

			continue
		}

		spendTx, err := o.cfg.API.Tx(ctx, outspend.Txid)
		if err != nil {
			log.Warnf("spend tx %v: %v", outspend.Txid, err)
			continue
		}

		secret, ok := findPreimage(spendTx, entry.hash)

		// A spend without the preimage is the refund path; remember
		// it so we don't refetch.
		o.markProcessed(entry.hash, outspend.Txid)

		if !ok {
			log.Infof("spend %v of %v carries no preimage "+
				"(timeout path)", outspend.Txid,
				entry.fundingTxid)

			continue
		}

		o.mtx.Lock()
		entry.phase = phaseDone
		o.mtx.Unlock()

		o.emit(Event{
			Kind:       SecretRevealed,
			Hash:       entry.hash,
			Txid:       entry.fundingTxid,
			Secret:     secret,
			RevealTxid: outspend.Txid,
		})

		return
	}
}

// findPreimage walks all input witnesses of a transaction for a 32 byte
// element hashing to the commitment.
func findPreimage(tx *Tx, hash lntypes.Hash) (lntypes.Preimage, bool) {
	for _, vin := range tx.Vin {
		for _, element := range vin.Witness {
			secret, ok := swap.SecretFromWitnessElement(
				element, hash,
			)
			if ok {
				return secret, true
			}
		}
	}

	return lntypes.Preimage{}, false
}

// emit publishes an event without ever blocking the poll loop.
func (o *Observer) emit(event Event) {
	select {
	case o.events <- event:
	default:
		log.Errorf("event channel full, dropping %v for %v",
			event.Kind, swap.ShortHash(&event.Hash))
	}
}

func processedKey(hash lntypes.Hash, txid string) string {
	return hash.String() + "/" + txid
}

// alreadyProcessed reports whether the txid was handled for this swap.
func (o *Observer) alreadyProcessed(hash lntypes.Hash, txid string) bool {
	o.mtx.Lock()
	defer o.mtx.Unlock()

	_, ok := o.processed[processedKey(hash, txid)]
	return ok
}

// markProcessed records the txid in the idempotency cache.
func (o *Observer) markProcessed(hash lntypes.Hash, txid string) {
	o.mtx.Lock()
	defer o.mtx.Unlock()

	o.processed[processedKey(hash, txid)] = o.cfg.Clock.Now()
}

// evictProcessed drops cache entries of retired watches that are older than
// the ttl.
func (o *Observer) evictProcessed() {
	o.mtx.Lock()
	defer o.mtx.Unlock()

	active := make(map[string]struct{}, len(o.watches))
	for hash := range o.watches {
		active[hash.String()] = struct{}{}
	}

	cutoff := o.cfg.Clock.Now().Add(-processedTTL)
	for key, seen := range o.processed {
		hashStr, _, _ := strings.Cut(key, "/")
		if _, ok := active[hashStr]; ok {
			continue
		}

		if seen.Before(cutoff) {
			delete(o.processed, key)
		}
	}
}
