package colddrawer

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/IngarsPoliters/coldDrawer/actuator"
	"github.com/IngarsPoliters/coldDrawer/btcwatch"
	"github.com/IngarsPoliters/coldDrawer/ledger"
	"github.com/IngarsPoliters/coldDrawer/swapdb"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/stretchr/testify/require"
)

var (
	testSellerAddr = ledger.Address{0x01}
	testBuyerAddr  = ledger.Address{0x02}

	testStartTime = time.Date(2023, 6, 1, 12, 0, 0, 0, time.UTC)

	testBtcAddr = "tb1qseller"

	testPrice = btcutil.Amount(50_000_000)
)

// observerMock stands in for the bitcoin observer: the test injects events
// directly.
type observerMock struct {
	sync.Mutex

	events    chan btcwatch.Event
	watched   map[lntypes.Hash]string
	unwatched map[lntypes.Hash]struct{}
}

var _ BtcObserver = (*observerMock)(nil)

func newObserverMock() *observerMock {
	return &observerMock{
		events:    make(chan btcwatch.Event, 16),
		watched:   make(map[lntypes.Hash]string),
		unwatched: make(map[lntypes.Hash]struct{}),
	}
}

func (o *observerMock) Watch(hash lntypes.Hash, addr string,
	_ btcutil.Amount) error {

	o.Lock()
	defer o.Unlock()

	if _, ok := o.watched[hash]; ok {
		return btcwatch.ErrAlreadyWatched
	}

	o.watched[hash] = addr
	return nil
}

func (o *observerMock) Unwatch(hash lntypes.Hash) {
	o.Lock()
	defer o.Unlock()

	delete(o.watched, hash)
	o.unwatched[hash] = struct{}{}
}

func (o *observerMock) Events() <-chan btcwatch.Event {
	return o.events
}

func (o *observerMock) ProcessedTxids() int {
	return 0
}

func (o *observerMock) isUnwatched(hash lntypes.Hash) bool {
	o.Lock()
	defer o.Unlock()

	_, ok := o.unwatched[hash]
	return ok
}

// testContext wires a coordinator against a real ledger and actuator, a mock
// store and a mock observer.
type testContext struct {
	t *testing.T

	clock    *clock.TestClock
	store    *swapdb.StoreMock
	ledger   *ledger.Ledger
	observer *observerMock

	statusChan chan SwapInfo

	coordinator *Coordinator

	cancel context.CancelFunc
	done   chan error
}

// newTestContext starts a coordinator with token 1 minted to the seller.
func newTestContext(t *testing.T, autoClaim bool) *testContext {
	t.Helper()

	clk := clock.NewTestClock(testStartTime)
	assetLedger := ledger.New(clk)

	_, err := assetLedger.Mint(testSellerAddr, 1, ledger.Metadata{
		Title:    "2019 Audi A4",
		Category: "vehicle",
	})
	require.NoError(t, err)

	ctx := &testContext{
		t:          t,
		clock:      clk,
		store:      swapdb.NewStoreMock(),
		ledger:     assetLedger,
		observer:   newObserverMock(),
		statusChan: make(chan SwapInfo, 32),
		done:       make(chan error, 1),
	}

	act := actuator.New(actuator.Config{
		Ledger:     assetLedger,
		Key:        ledger.Address{0xc0},
		GasCeiling: 500_000,
	})

	coordinator, err := NewCoordinator(&Config{
		Store:      ctx.store,
		Actuator:   act,
		Observer:   ctx.observer,
		Clock:      clk,
		AutoClaim:  autoClaim,
		StatusChan: ctx.statusChan,
	})
	require.NoError(t, err)
	ctx.coordinator = coordinator

	runCtx, cancel := context.WithCancel(context.Background())
	ctx.cancel = cancel

	go func() {
		ctx.done <- coordinator.Run(runCtx)
	}()

	t.Cleanup(ctx.stop)

	return ctx
}

// stop shuts the coordinator down and waits for the actor to exit.
func (ctx *testContext) stop() {
	ctx.cancel()

	select {
	case err := <-ctx.done:
		require.ErrorIs(ctx.t, err, context.Canceled)

	case <-time.After(5 * time.Second):
		ctx.t.Fatal("coordinator did not shut down")
	}
}

// register registers a default swap expiring three hours out.
func (ctx *testContext) register(hash lntypes.Hash) {
	ctx.t.Helper()

	err := ctx.coordinator.RegisterSwap(
		context.Background(), &RegisterSwapRequest{
			Hash:           hash,
			TokenID:        1,
			Price:          testPrice,
			SellerBtcAddr:  testBtcAddr,
			BuyerAssetAddr: testBuyerAddr,
			AssetExpiry:    testStartTime.Unix() + 3*3600,
		},
	)
	require.NoError(ctx.t, err)
}

// assertStatus waits for the next status update and asserts its state.
func (ctx *testContext) assertStatus(state swapdb.SwapState) SwapInfo {
	ctx.t.Helper()

	for {
		select {
		case info := <-ctx.statusChan:
			// Skip error notifications that do not change state.
			if info.State != state && info.Alert != "" {
				continue
			}

			require.Equal(ctx.t, state, info.State)
			return info

		case <-time.After(5 * time.Second):
			ctx.t.Fatalf("no status update with state %v", state)
			return SwapInfo{}
		}
	}
}

// assertAlert waits for a status update carrying an operator alert.
func (ctx *testContext) assertAlert() SwapInfo {
	ctx.t.Helper()

	for {
		select {
		case info := <-ctx.statusChan:
			if info.Alert == "" {
				continue
			}

			return info

		case <-time.After(5 * time.Second):
			ctx.t.Fatal("no alert status update")
			return SwapInfo{}
		}
	}
}

func testSwapSecret() (lntypes.Preimage, lntypes.Hash) {
	var secret lntypes.Preimage
	for i := range secret {
		secret[i] = 0xaa
	}

	return secret, secret.Hash()
}
