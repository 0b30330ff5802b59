package colddrawer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/IngarsPoliters/coldDrawer/actuator"
	"github.com/IngarsPoliters/coldDrawer/btcwatch"
	"github.com/IngarsPoliters/coldDrawer/swap"
	"github.com/IngarsPoliters/coldDrawer/swapdb"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/lightningnetwork/lnd/queue"
)

const (
	// DefaultHeadStart is how long before the asset leg expiry the
	// coordinator acts, so that it never races users to the refund.
	DefaultHeadStart = 2 * time.Hour

	// DefaultMaxRetries bounds the retry schedule for external failures.
	DefaultMaxRetries = 5

	// DefaultRetryBase is the first retry delay; it doubles per attempt.
	DefaultRetryBase = time.Second

	// DefaultRetryCap caps the retry delay.
	DefaultRetryCap = 30 * time.Second

	// DefaultRetireAfter is how long terminal swaps stay queryable
	// before eviction.
	DefaultRetireAfter = 24 * time.Hour

	// evictInterval is how often retired swaps are swept.
	evictInterval = time.Hour

	// inboxSize is the buffer of the coordinator inbox.
	inboxSize = 16
)

// Config parameterizes the coordinator.
type Config struct {
	// Store persists swaps across restarts.
	Store swapdb.SwapStore

	// Actuator submits asset ledger operations.
	Actuator *actuator.Actuator

	// Observer watches bitcoin for funding and secret reveals.
	Observer BtcObserver

	// Clock provides time and timers.
	Clock clock.Clock

	// TimeoutBuffer is the gap between the asset and bitcoin expiries.
	TimeoutBuffer time.Duration

	// HeadStart is subtracted from the asset expiry both for the
	// coordinator's own deadline timer and for the escrow expiry it
	// opens, giving it room to act before users can refund.
	HeadStart time.Duration

	// MaxRetries bounds retries of failed ledger submissions.
	MaxRetries int

	// RetryBase is the initial retry backoff.
	RetryBase time.Duration

	// RetryCap is the maximum retry backoff.
	RetryCap time.Duration

	// AutoClaim makes the coordinator claim as soon as a secret is
	// observed. When disabled, claims wait for the operator.
	AutoClaim bool

	// RetireAfter is how long terminal swaps stay before eviction.
	RetireAfter time.Duration

	// StatusChan, if set, receives a SwapInfo on every transition.
	StatusChan chan<- SwapInfo
}

// pendingSwap is the coordinator-side state of one swap.
type pendingSwap struct {
	contract *swapdb.SwapContract
	state    swapdb.SwapStateData

	// log prefixes every message with the short swap hash.
	log *swap.PrefixLog

	// timerCancel stops the deadline timer goroutine.
	timerCancel chan struct{}

	// opening and claiming guard against duplicate in-flight workers.
	opening  bool
	claiming bool

	// deferredSecret holds a secret observed before the asset leg was
	// locked; it is applied right after the escrow opens.
	deferredSecret *btcwatch.Event

	// lastErr is the most recent persistent failure.
	lastErr error

	// retiredAt is set when a terminal state is reached.
	retiredAt time.Time
}

// Coordinator drives pending swaps: one logical actor consuming an inbox of
// observer events, timer firings and admin requests. All transitions for all
// swaps execute on that actor, which is what serializes per-swap processing
// without locks across components.
type Coordinator struct {
	cfg Config

	inbox *queue.ConcurrentQueue

	// swapsMtx guards the map for admin readers. Only the actor loop
	// mutates it.
	swapsMtx sync.RWMutex
	swaps    map[lntypes.Hash]*pendingSwap

	wg sync.WaitGroup
}

// Messages consumed by the actor loop.
type (
	registerMsg struct {
		contract *swapdb.SwapContract
		errChan  chan error
	}

	observerMsg struct {
		event btcwatch.Event
	}

	deadlineMsg struct {
		hash lntypes.Hash
	}

	openResultMsg struct {
		hash lntypes.Hash
		err  error
	}

	claimResultMsg struct {
		hash   lntypes.Hash
		secret lntypes.Preimage
		reveal string
		err    error
	}

	refundResultMsg struct {
		hash lntypes.Hash

		// noEscrow means there was nothing to refund: the buyer won
		// the race against the deadline.
		noEscrow bool

		err error
	}

	evictMsg struct{}
)

// NewCoordinator creates a coordinator and loads any persisted swaps.
func NewCoordinator(cfg *Config) (*Coordinator, error) {
	c := &Coordinator{
		cfg:   *cfg,
		inbox: queue.NewConcurrentQueue(inboxSize),
		swaps: make(map[lntypes.Hash]*pendingSwap),
	}

	if c.cfg.HeadStart == 0 {
		c.cfg.HeadStart = DefaultHeadStart
	}
	if c.cfg.TimeoutBuffer == 0 {
		c.cfg.TimeoutBuffer = swap.DefaultTimeoutBuffer
	}
	if c.cfg.MaxRetries == 0 {
		c.cfg.MaxRetries = DefaultMaxRetries
	}
	if c.cfg.RetryBase == 0 {
		c.cfg.RetryBase = DefaultRetryBase
	}
	if c.cfg.RetryCap == 0 {
		c.cfg.RetryCap = DefaultRetryCap
	}
	if c.cfg.RetireAfter == 0 {
		c.cfg.RetireAfter = DefaultRetireAfter
	}

	// Restore persisted swaps so that a restart resumes where we left
	// off.
	stored, err := c.cfg.Store.FetchSwaps()
	if err != nil {
		return nil, err
	}

	for _, stored := range stored {
		pending := &pendingSwap{
			contract: stored.Contract,
			state:    stored.State(),
			log: &swap.PrefixLog{
				Logger: log,
				Hash:   stored.Contract.Hash,
			},
		}

		if pending.state.State.IsFinal() {
			pending.retiredAt = pending.state.Time
		}

		c.swaps[stored.Contract.Hash] = pending
	}

	return c, nil
}

// Run executes the actor loop until the context is cancelled.
func (c *Coordinator) Run(ctx context.Context) error {
	c.inbox.Start()
	defer c.inbox.Stop()

	log.Infof("Coordinator starting with %v swap(s)", len(c.swaps))

	// Re-arm watches and timers for restored pending swaps.
	c.swapsMtx.Lock()
	for hash, pending := range c.swaps {
		if pending.retiredAt != (time.Time{}) {
			continue
		}

		err := c.cfg.Observer.Watch(
			hash, pending.contract.SellerBtcAddr,
			pending.contract.Price,
		)
		if err != nil && !errors.Is(err, btcwatch.ErrAlreadyWatched) {
			c.swapsMtx.Unlock()
			return err
		}

		c.startDeadlineTimer(ctx, pending)
	}
	c.swapsMtx.Unlock()

	// Forward observer events into the inbox.
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()

		for {
			select {
			case event := <-c.cfg.Observer.Events():
				c.post(ctx, observerMsg{event: event})

			case <-ctx.Done():
				return
			}
		}
	}()

	// Sweep retired swaps periodically.
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()

		for {
			select {
			case <-c.cfg.Clock.TickAfter(evictInterval):
				c.post(ctx, evictMsg{})

			case <-ctx.Done():
				return
			}
		}
	}()

	defer c.wg.Wait()

	for {
		select {
		case msg := <-c.inbox.ChanOut():
			c.handleMessage(ctx, msg)

		case <-ctx.Done():
			c.shutdown()
			return ctx.Err()
		}
	}
}

// post delivers a message to the inbox unless the context ended.
func (c *Coordinator) post(ctx context.Context, msg interface{}) {
	select {
	case c.inbox.ChanIn() <- msg:
	case <-ctx.Done():
	}
}

// shutdown cancels all timers.
func (c *Coordinator) shutdown() {
	c.swapsMtx.Lock()
	defer c.swapsMtx.Unlock()

	for _, pending := range c.swaps {
		c.cancelTimer(pending)
	}

	log.Infof("Coordinator shut down")
}

// handleMessage dispatches one inbox message.
func (c *Coordinator) handleMessage(ctx context.Context, msg interface{}) {
	switch msg := msg.(type) {
	case registerMsg:
		msg.errChan <- c.handleRegister(ctx, msg.contract)

	case observerMsg:
		c.handleObservation(ctx, msg.event)

	case deadlineMsg:
		c.handleDeadline(ctx, msg.hash)

	case openResultMsg:
		c.handleOpenResult(ctx, msg)

	case claimResultMsg:
		c.handleClaimResult(msg)

	case refundResultMsg:
		c.handleRefundResult(msg)

	case evictMsg:
		c.evictRetired()

	default:
		log.Errorf("unknown message type %T", msg)
	}
}

// RegisterSwap registers a new swap and starts watching for its funding.
func (c *Coordinator) RegisterSwap(ctx context.Context,
	req *RegisterSwapRequest) error {

	if req.TokenID == 0 || req.SellerBtcAddr == "" ||
		req.BuyerAssetAddr.IsZero() || req.Price <= 0 {

		return ErrInvalidRequest
	}

	locks, err := swap.CalcTimelocks(
		req.AssetExpiry, c.cfg.TimeoutBuffer, c.cfg.Clock.Now(),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	contract := &swapdb.SwapContract{
		Hash:           req.Hash,
		TokenID:        req.TokenID,
		Price:          req.Price,
		SellerBtcAddr:  req.SellerBtcAddr,
		BuyerAssetAddr: req.BuyerAssetAddr,
		AssetExpiry:    locks.AssetExpiry,
		BtcExpiry:      locks.BtcExpiry,
		CreatedAt:      c.cfg.Clock.Now(),
	}

	errChan := make(chan error, 1)
	c.post(ctx, registerMsg{contract: contract, errChan: errChan})

	select {
	case err := <-errChan:
		return err

	case <-ctx.Done():
		return ctx.Err()
	}
}

// handleRegister runs on the actor.
func (c *Coordinator) handleRegister(ctx context.Context,
	contract *swapdb.SwapContract) error {

	if _, ok := c.swaps[contract.Hash]; ok {
		return ErrDuplicateHash
	}

	if err := c.cfg.Store.CreateSwap(contract); err != nil {
		return err
	}

	pending := &pendingSwap{
		contract: contract,
		state: swapdb.SwapStateData{
			State: swapdb.StateWaitingBtc,
			Time:  contract.CreatedAt,
		},
		log: &swap.PrefixLog{
			Logger: log,
			Hash:   contract.Hash,
		},
	}

	c.swapsMtx.Lock()
	c.swaps[contract.Hash] = pending
	c.swapsMtx.Unlock()

	err := c.cfg.Observer.Watch(
		contract.Hash, contract.SellerBtcAddr, contract.Price,
	)
	if err != nil {
		return err
	}

	c.startDeadlineTimer(ctx, pending)
	c.notify(pending, "")

	pending.log.Infof("registered: token=%v, price=%v, expiry=%v",
		contract.TokenID, contract.Price, contract.AssetExpiry)

	return nil
}

// handleObservation applies one observer event.
func (c *Coordinator) handleObservation(ctx context.Context,
	event btcwatch.Event) {

	pending, ok := c.swaps[event.Hash]
	if !ok {
		log.Debugf("observation %v for unknown swap %v", event.Kind,
			swap.ShortHash(&event.Hash))

		return
	}

	if pending.state.State.IsFinal() {
		return
	}

	switch event.Kind {
	case btcwatch.FundingSeen:
		if pending.state.State != swapdb.StateWaitingBtc {
			return
		}

		c.mutate(func() {
			pending.state.BtcTxid = event.Txid
		})
		c.transition(pending, swapdb.StateBtcLocked, "")

	case btcwatch.FundingConfirmed:
		c.maybeOpenEscrow(ctx, pending)

	case btcwatch.FundingReorged:
		c.handleReorg(pending)

	case btcwatch.SecretRevealed:
		c.handleSecret(ctx, pending, event)
	}
}

// maybeOpenEscrow starts the asset leg after the funding confirmed.
func (c *Coordinator) maybeOpenEscrow(ctx context.Context,
	pending *pendingSwap) {

	if pending.state.State != swapdb.StateBtcLocked || pending.opening {
		return
	}

	contract := pending.contract
	headStart := int64(c.cfg.HeadStart.Seconds())
	adjustedExpiry := contract.AssetExpiry - headStart

	// The escrow must leave the coordinator room to act before users
	// can refund. If that window is already gone, let the swap expire.
	if adjustedExpiry <= c.cfg.Clock.Now().Unix() {
		pending.log.Warnf("adjusted expiry %v in the past, skipping "+
			"escrow open", adjustedExpiry)

		return
	}

	pending.opening = true
	hash := contract.Hash

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()

		err := c.withRetry(ctx, "open escrow", func() error {
			_, err := c.cfg.Actuator.OpenEscrow(
				ctx, contract.TokenID,
				contract.BuyerAssetAddr, contract.Hash,
				adjustedExpiry, contract.Price,
			)
			return err
		})

		c.post(ctx, openResultMsg{hash: hash, err: err})
	}()
}

// handleOpenResult applies the outcome of an escrow open attempt.
func (c *Coordinator) handleOpenResult(ctx context.Context,
	msg openResultMsg) {

	pending, ok := c.swaps[msg.hash]
	if !ok {
		return
	}

	pending.opening = false

	if msg.err != nil {
		// The asset may still be openable in a later block; the
		// swap stays btc_locked until its deadline.
		c.mutate(func() {
			pending.lastErr = msg.err
		})
		pending.log.Errorf("escrow open failed: %v", msg.err)

		c.notify(pending, "escrow open failed")
		return
	}

	if pending.state.State != swapdb.StateBtcLocked {
		return
	}

	c.transition(pending, swapdb.StateAssetLocked, "")

	// A secret that arrived while the escrow was still opening can be
	// used now.
	if deferred := pending.deferredSecret; deferred != nil {
		pending.deferredSecret = nil
		c.handleSecret(ctx, pending, *deferred)
	}
}

// handleSecret reacts to a revealed preimage.
func (c *Coordinator) handleSecret(ctx context.Context,
	pending *pendingSwap, event btcwatch.Event) {

	switch pending.state.State {
	// Before the escrow is open we cannot claim yet. Keep the secret
	// and apply it when the open concludes.
	case swapdb.StateBtcLocked:
		event := event
		pending.deferredSecret = &event

		pending.log.Infof("secret observed before asset leg " +
			"locked, deferring")

		return

	case swapdb.StateAssetLocked:

	default:
		return
	}

	c.mutate(func() {
		pending.state.HasSecret = true
		pending.state.Secret = event.Secret
		pending.state.RevealTxid = event.RevealTxid
	})

	if !c.cfg.AutoClaim {
		pending.log.Infof("auto claim disabled, waiting for operator")
		return
	}

	c.startClaim(ctx, pending, event.Secret, event.RevealTxid)
}

// startClaim submits the claim on a worker.
func (c *Coordinator) startClaim(ctx context.Context, pending *pendingSwap,
	secret lntypes.Preimage, revealTxid string) {

	if pending.claiming {
		return
	}
	pending.claiming = true

	contract := pending.contract

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()

		err := c.withRetry(ctx, "claim", func() error {
			_, err := c.cfg.Actuator.Claim(
				ctx, contract.TokenID, secret,
			)
			return err
		})

		c.post(ctx, claimResultMsg{
			hash:   contract.Hash,
			secret: secret,
			reveal: revealTxid,
			err:    err,
		})
	}()
}

// handleClaimResult applies the outcome of a claim attempt.
func (c *Coordinator) handleClaimResult(msg claimResultMsg) {
	pending, ok := c.swaps[msg.hash]
	if !ok {
		return
	}

	pending.claiming = false

	if msg.err != nil {
		// The swap is parked for the operator; forceClaim can pick
		// it up later.
		c.mutate(func() {
			pending.lastErr = msg.err
		})
		pending.log.Errorf("claim failed: %v", msg.err)

		c.notify(pending, "claim failed")
		return
	}

	if pending.state.State != swapdb.StateAssetLocked {
		return
	}

	c.mutate(func() {
		pending.state.HasSecret = true
		pending.state.Secret = msg.secret

		// Forced claims have no btc-side reveal to point at; keep
		// whatever the observer recorded.
		if msg.reveal != "" {
			pending.state.RevealTxid = msg.reveal
		}
	})

	c.transition(pending, swapdb.StateClaimed, "")
	c.retire(pending)
}

// handleReorg reacts to the funding transaction vanishing.
func (c *Coordinator) handleReorg(pending *pendingSwap) {
	switch pending.state.State {
	// The asset leg is untouched, so the swap safely goes back to
	// waiting for funding.
	case swapdb.StateBtcLocked:
		c.mutate(func() {
			pending.state.BtcTxid = ""
		})
		c.transition(pending, swapdb.StateWaitingBtc, "")

	// The escrow is already open. Refunding automatically before the
	// asset deadline would hand the buyer a free option, so only alert.
	case swapdb.StateAssetLocked:
		pending.log.Errorf("funding reorged after asset leg " +
			"locked, operator attention required")

		c.notify(pending, "funding reorged after asset lock")
	}
}

// handleDeadline runs when a swap's deadline timer fires.
func (c *Coordinator) handleDeadline(ctx context.Context,
	hash lntypes.Hash) {

	pending, ok := c.swaps[hash]
	if !ok || pending.state.State.IsFinal() {
		return
	}

	pending.log.Infof("deadline reached in state %v",
		pending.state.State)

	switch pending.state.State {
	// No asset was ever locked, nothing to refund on the ledger.
	case swapdb.StateWaitingBtc:
		c.transition(pending, swapdb.StateExpired, "")
		c.retire(pending)

	case swapdb.StateBtcLocked, swapdb.StateAssetLocked:
		c.startRefund(ctx, pending)
	}
}

// startRefund refunds the escrow if one is still active.
func (c *Coordinator) startRefund(ctx context.Context,
	pending *pendingSwap) {

	contract := pending.contract

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()

		// If the buyer claimed in a race with the deadline, there is
		// no escrow left. That is a success for the buyer, not an
		// error.
		if !c.cfg.Actuator.IsInEscrow(contract.TokenID) {
			c.post(ctx, refundResultMsg{
				hash:     contract.Hash,
				noEscrow: true,
			})

			return
		}

		err := c.withRetry(ctx, "refund", func() error {
			_, err := c.cfg.Actuator.Refund(ctx, contract.TokenID)
			return err
		})

		c.post(ctx, refundResultMsg{hash: contract.Hash, err: err})
	}()
}

// handleRefundResult applies the outcome of a refund attempt.
func (c *Coordinator) handleRefundResult(msg refundResultMsg) {
	pending, ok := c.swaps[msg.hash]
	if !ok || pending.state.State.IsFinal() {
		return
	}

	switch {
	case msg.err != nil:
		c.mutate(func() {
			pending.lastErr = msg.err
		})
		pending.log.Errorf("refund failed: %v", msg.err)

		c.notify(pending, "refund failed")

	// Nothing left to refund: the buyer claimed in a race with the
	// deadline. Not an error.
	case msg.noEscrow:
		c.transition(pending, swapdb.StateExpired, "")
		c.retire(pending)

	default:
		c.transition(pending, swapdb.StateRefunded, "")
		c.retire(pending)
	}
}

// ForceClaim manually claims a stuck swap's escrow, bypassing the automatic
// scheduling but still going through the actuator.
func (c *Coordinator) ForceClaim(ctx context.Context, tokenID uint64,
	secret lntypes.Preimage) error {

	pending := c.findByToken(tokenID)
	if pending == nil {
		return ErrSwapNotFound
	}

	_, err := c.cfg.Actuator.Claim(ctx, tokenID, secret)
	if err != nil {
		return err
	}

	c.post(ctx, claimResultMsg{
		hash:   pending.contract.Hash,
		secret: secret,
	})

	return nil
}

// ForceRefund manually refunds a stuck swap's escrow.
func (c *Coordinator) ForceRefund(ctx context.Context, tokenID uint64) error {
	pending := c.findByToken(tokenID)
	if pending == nil {
		return ErrSwapNotFound
	}

	_, err := c.cfg.Actuator.Refund(ctx, tokenID)
	if err != nil {
		return err
	}

	c.post(ctx, refundResultMsg{hash: pending.contract.Hash})
	return nil
}

// GetSwap returns the admin view of one swap.
func (c *Coordinator) GetSwap(hash lntypes.Hash) (*SwapDetails, error) {
	c.swapsMtx.RLock()
	defer c.swapsMtx.RUnlock()

	pending, ok := c.swaps[hash]
	if !ok {
		return nil, ErrSwapNotFound
	}

	return pendingDetails(pending), nil
}

// ListSwaps returns the admin view of all tracked swaps.
func (c *Coordinator) ListSwaps() []*SwapDetails {
	c.swapsMtx.RLock()
	defer c.swapsMtx.RUnlock()

	details := make([]*SwapDetails, 0, len(c.swaps))
	for _, pending := range c.swaps {
		details = append(details, pendingDetails(pending))
	}

	return details
}

// Stats returns coordinator counters.
func (c *Coordinator) Stats() Stats {
	c.swapsMtx.RLock()
	defer c.swapsMtx.RUnlock()

	stats := Stats{
		ProcessedTxids: c.cfg.Observer.ProcessedTxids(),
	}

	for _, pending := range c.swaps {
		switch pending.state.State {
		case swapdb.StateClaimed:
			stats.ClaimedCount++

		case swapdb.StateRefunded:
			stats.RefundedCount++

		case swapdb.StateExpired:
			stats.ExpiredCount++

		default:
			stats.PendingCount++
		}
	}

	return stats
}

func pendingDetails(pending *pendingSwap) *SwapDetails {
	details := &SwapDetails{
		Contract: *pending.contract,
		State:    pending.state,
	}

	if pending.lastErr != nil {
		details.LastError = pending.lastErr.Error()
	}

	return details
}

// findByToken locates a non-retired swap by its token id.
func (c *Coordinator) findByToken(tokenID uint64) *pendingSwap {
	c.swapsMtx.RLock()
	defer c.swapsMtx.RUnlock()

	for _, pending := range c.swaps {
		if pending.contract.TokenID == tokenID &&
			!pending.state.State.IsFinal() {

			return pending
		}
	}

	return nil
}

// mutate runs a pending swap field update under the map lock so that admin
// readers never observe a torn state.
func (c *Coordinator) mutate(update func()) {
	c.swapsMtx.Lock()
	defer c.swapsMtx.Unlock()

	update()
}

// transition moves a swap to a new state, persists the update and notifies
// subscribers. Runs on the actor only.
func (c *Coordinator) transition(pending *pendingSwap,
	newState swapdb.SwapState, alert string) {

	oldState := pending.state.State
	c.mutate(func() {
		pending.state.State = newState
		pending.state.Time = c.cfg.Clock.Now()
	})

	err := c.cfg.Store.UpdateSwap(pending.contract.Hash, pending.state)
	if err != nil {
		pending.log.Errorf("persisting %v failed: %v", newState, err)
	}

	pending.log.Infof("%v -> %v", oldState, newState)

	c.notify(pending, alert)
}

// retire finalizes a swap: its timer stops, the observer forgets it, and it
// stays queryable until eviction.
func (c *Coordinator) retire(pending *pendingSwap) {
	c.mutate(func() {
		pending.retiredAt = c.cfg.Clock.Now()
	})
	c.cancelTimer(pending)
	c.cfg.Observer.Unwatch(pending.contract.Hash)
}

// evictRetired drops swaps that have been terminal for longer than the
// retention window.
func (c *Coordinator) evictRetired() {
	cutoff := c.cfg.Clock.Now().Add(-c.cfg.RetireAfter)

	c.swapsMtx.Lock()
	defer c.swapsMtx.Unlock()

	for hash, pending := range c.swaps {
		if pending.retiredAt == (time.Time{}) ||
			pending.retiredAt.After(cutoff) {

			continue
		}

		delete(c.swaps, hash)

		if err := c.cfg.Store.DeleteSwap(hash); err != nil {
			log.Warnf("evicting swap %v: %v",
				swap.ShortHash(&hash), err)
		}

		log.Debugf("evicted retired swap %v", swap.ShortHash(&hash))
	}
}

// startDeadlineTimer schedules the swap's deadline at its asset expiry minus
// the head start.
func (c *Coordinator) startDeadlineTimer(ctx context.Context,
	pending *pendingSwap) {

	deadline := time.Unix(pending.contract.AssetExpiry, 0).
		Add(-c.cfg.HeadStart)

	delay := deadline.Sub(c.cfg.Clock.Now())
	if delay < 0 {
		delay = 0
	}

	cancel := make(chan struct{})
	pending.timerCancel = cancel
	hash := pending.contract.Hash

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()

		select {
		case <-c.cfg.Clock.TickAfter(delay):
			c.post(ctx, deadlineMsg{hash: hash})

		case <-cancel:

		case <-ctx.Done():
		}
	}()
}

// cancelTimer stops the swap's deadline timer if one is armed.
func (c *Coordinator) cancelTimer(pending *pendingSwap) {
	if pending.timerCancel != nil {
		close(pending.timerCancel)
		pending.timerCancel = nil
	}
}

// notify publishes a status update without blocking the actor.
func (c *Coordinator) notify(pending *pendingSwap, alert string) {
	if c.cfg.StatusChan == nil {
		return
	}

	info := SwapInfo{
		Hash:       pending.contract.Hash,
		TokenID:    pending.contract.TokenID,
		State:      pending.state.State,
		BtcTxid:    pending.state.BtcTxid,
		LastUpdate: pending.state.Time,
		Alert:      alert,
	}

	select {
	case c.cfg.StatusChan <- info:
	default:
		log.Warnf("status subscriber too slow, dropping update "+
			"for %v", swap.ShortHash(&info.Hash))
	}
}

// withRetry runs an operation under the exponential backoff schedule.
// Rejections surface immediately; only external failures retry.
func (c *Coordinator) withRetry(ctx context.Context, op string,
	attempt func() error) error {

	delay := c.cfg.RetryBase

	var err error
	for i := 1; i <= c.cfg.MaxRetries; i++ {
		err = attempt()
		if err == nil {
			return nil
		}

		if !isRetryable(err) {
			return err
		}

		log.Warnf("%v attempt %v/%v failed: %v", op, i,
			c.cfg.MaxRetries, err)

		if i == c.cfg.MaxRetries {
			break
		}

		select {
		case <-c.cfg.Clock.TickAfter(delay):
		case <-ctx.Done():
			return ctx.Err()
		}

		delay *= 2
		if delay > c.cfg.RetryCap {
			delay = c.cfg.RetryCap
		}
	}

	return &PersistentExternalFailureError{
		Op:       op,
		Attempts: c.cfg.MaxRetries,
		Err:      err,
	}
}
