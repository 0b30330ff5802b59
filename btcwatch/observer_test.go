package btcwatch

import (
	"context"
	"encoding/hex"
	"sync"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/fortytw2/leaktest"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/lightningnetwork/lnd/ticker"
	"github.com/stretchr/testify/require"
)

const (
	testAddr  = "tb1qwatched"
	otherAddr = "tb1qother"

	fundingTxid = "f000000000000000000000000000000000000000000000000000000000000001"
	spendTxid   = "f000000000000000000000000000000000000000000000000000000000000002"
)

var testTime = time.Date(2023, 6, 1, 12, 0, 0, 0, time.UTC)

// mockAPI is an in-memory chain index.
type mockAPI struct {
	sync.Mutex

	addrTxs   map[string][]Tx
	txs       map[string]*Tx
	outspends map[string][]Outspend
	tip       uint32
}

func newMockAPI() *mockAPI {
	return &mockAPI{
		addrTxs:   make(map[string][]Tx),
		txs:       make(map[string]*Tx),
		outspends: make(map[string][]Outspend),
		tip:       100,
	}
}

func (m *mockAPI) AddressTxs(_ context.Context, addr string) ([]Tx, error) {
	m.Lock()
	defer m.Unlock()

	return m.addrTxs[addr], nil
}

func (m *mockAPI) Tx(_ context.Context, txid string) (*Tx, error) {
	m.Lock()
	defer m.Unlock()

	tx, ok := m.txs[txid]
	if !ok {
		return nil, ErrTxNotFound
	}

	return tx, nil
}

func (m *mockAPI) Outspends(_ context.Context,
	txid string) ([]Outspend, error) {

	m.Lock()
	defer m.Unlock()

	return m.outspends[txid], nil
}

func (m *mockAPI) TipHeight(_ context.Context) (uint32, error) {
	m.Lock()
	defer m.Unlock()

	return m.tip, nil
}

// addFunding registers a funding tx paying the watched address.
func (m *mockAPI) addFunding(amount btcutil.Amount, confirmed bool) {
	m.Lock()
	defer m.Unlock()

	tx := Tx{
		Txid: fundingTxid,
		Vout: []Vout{
			{ScriptPubKeyAddress: otherAddr, Value: 1234},
			{ScriptPubKeyAddress: testAddr, Value: amount},
		},
		Status: TxStatus{
			Confirmed:   confirmed,
			BlockHeight: 100,
		},
	}

	m.addrTxs[testAddr] = []Tx{tx}
	m.txs[fundingTxid] = &tx
}

// addSpend registers a spend of the funding output carrying the witness.
func (m *mockAPI) addSpend(witness []string) {
	m.Lock()
	defer m.Unlock()

	m.outspends[fundingTxid] = []Outspend{
		{},
		{Spent: true, Txid: spendTxid, Vin: 0},
	}
	m.txs[spendTxid] = &Tx{
		Txid: spendTxid,
		Vin:  []Vin{{Txid: fundingTxid, Vout: 1, Witness: witness}},
	}
}

func testObserver(t *testing.T) (*Observer, *mockAPI, lntypes.Preimage,
	lntypes.Hash) {

	t.Helper()

	api := newMockAPI()

	o := NewObserver(&Config{
		API:        api,
		Clock:      clock.NewTestClock(testTime),
		PollTicker: ticker.NewForce(time.Hour),
		MinConfs:   1,
	})

	var secret lntypes.Preimage
	for i := range secret {
		secret[i] = 0xaa
	}

	hash := secret.Hash()
	require.NoError(t, o.Watch(hash, testAddr, 50_000_000))

	return o, api, secret, hash
}

// requireEvent pops the next observation.
func requireEvent(t *testing.T, o *Observer, kind EventKind) Event {
	t.Helper()

	select {
	case event := <-o.Events():
		require.Equal(t, kind, event.Kind)
		return event

	default:
		t.Fatalf("no %v event pending", kind)
		return Event{}
	}
}

func requireNoEvent(t *testing.T, o *Observer) {
	t.Helper()

	select {
	case event := <-o.Events():
		t.Fatalf("unexpected event %v", event.Kind)
	default:
	}
}

// TestObserverHappyPath walks funding, confirmation and secret reveal.
func TestObserverHappyPath(t *testing.T) {
	o, api, secret, hash := testObserver(t)
	ctx := context.Background()

	// Nothing on chain yet.
	o.pollOnce(ctx)
	requireNoEvent(t, o)

	// Unconfirmed funding with the exact price.
	api.addFunding(50_000_000, false)
	o.pollOnce(ctx)

	event := requireEvent(t, o, FundingSeen)
	require.Equal(t, hash, event.Hash)
	require.Equal(t, fundingTxid, event.Txid)
	require.Equal(t, btcutil.Amount(50_000_000), event.Amount)

	// Still unconfirmed: no progress.
	o.pollOnce(ctx)
	requireNoEvent(t, o)

	// Confirmation arrives.
	api.addFunding(50_000_000, true)
	o.pollOnce(ctx)

	event = requireEvent(t, o, FundingConfirmed)
	require.Equal(t, uint32(1), event.Confs)

	// The spend reveals the secret among signature and script elements.
	api.addSpend([]string{
		"3044022100aa", // signature-ish
		hex.EncodeToString(secret[:]),
		"515253",
	})
	o.pollOnce(ctx)

	event = requireEvent(t, o, SecretRevealed)
	require.Equal(t, secret, event.Secret)
	require.Equal(t, spendTxid, event.RevealTxid)
}

// TestObserverIdempotency asserts the same funding tx produces exactly one
// event no matter how often it is seen.
func TestObserverIdempotency(t *testing.T) {
	o, api, _, _ := testObserver(t)
	ctx := context.Background()

	api.addFunding(50_000_000, true)

	o.pollOnce(ctx)
	requireEvent(t, o, FundingSeen)
	requireEvent(t, o, FundingConfirmed)

	for i := 0; i < 5; i++ {
		o.pollOnce(ctx)
	}
	requireNoEvent(t, o)
}

// TestObserverAmounts asserts underpayment is rejected and overpayment is
// accepted.
func TestObserverAmounts(t *testing.T) {
	ctx := context.Background()

	t.Run("one sat short", func(t *testing.T) {
		o, api, _, _ := testObserver(t)

		api.addFunding(49_999_999, true)
		o.pollOnce(ctx)
		requireNoEvent(t, o)
	})

	t.Run("double pay", func(t *testing.T) {
		o, api, _, _ := testObserver(t)

		api.addFunding(100_000_000, true)
		o.pollOnce(ctx)

		event := requireEvent(t, o, FundingSeen)
		require.Equal(t, btcutil.Amount(100_000_000), event.Amount)
	})
}

// TestObserverConfirmationGate asserts a higher confirmation requirement
// holds the watch back until the chain advances.
func TestObserverConfirmationGate(t *testing.T) {
	api := newMockAPI()

	o := NewObserver(&Config{
		API:        api,
		Clock:      clock.NewTestClock(testTime),
		PollTicker: ticker.NewForce(time.Hour),
		MinConfs:   3,
	})

	var secret lntypes.Preimage
	secret[0] = 0x01
	require.NoError(t, o.Watch(secret.Hash(), testAddr, 1000))

	ctx := context.Background()

	api.addFunding(1000, true)
	o.pollOnce(ctx)
	requireEvent(t, o, FundingSeen)

	// One confirmation only: tip == funding height.
	o.pollOnce(ctx)
	requireNoEvent(t, o)

	api.Lock()
	api.tip = 102
	api.Unlock()

	o.pollOnce(ctx)
	event := requireEvent(t, o, FundingConfirmed)
	require.Equal(t, uint32(3), event.Confs)
}

// TestObserverReorg asserts a vanished funding tx resets the watch and
// notifies the coordinator.
func TestObserverReorg(t *testing.T) {
	o, api, _, hash := testObserver(t)
	ctx := context.Background()

	api.addFunding(50_000_000, true)
	o.pollOnce(ctx)
	requireEvent(t, o, FundingSeen)
	requireEvent(t, o, FundingConfirmed)

	// The funding tx drops off the best chain.
	api.Lock()
	delete(api.txs, fundingTxid)
	api.addrTxs[testAddr] = nil
	api.Unlock()

	o.pollOnce(ctx)
	event := requireEvent(t, o, FundingReorged)
	require.Equal(t, hash, event.Hash)
	require.Equal(t, fundingTxid, event.Txid)

	// Once the tx re-confirms, it funds the swap again.
	api.addFunding(50_000_000, true)
	o.pollOnce(ctx)
	requireEvent(t, o, FundingSeen)
}

// TestObserverRefundSpend asserts spends without a preimage do not fire
// secret events.
func TestObserverRefundSpend(t *testing.T) {
	o, api, _, _ := testObserver(t)
	ctx := context.Background()

	api.addFunding(50_000_000, true)
	o.pollOnce(ctx)
	requireEvent(t, o, FundingSeen)
	requireEvent(t, o, FundingConfirmed)

	// Timeout path spend: no 32 byte preimage element.
	api.addSpend([]string{"3044022100aa", "00"})
	o.pollOnce(ctx)
	requireNoEvent(t, o)
}

// TestObserverRun asserts the poll loop is driven by the ticker and shuts
// down cleanly.
func TestObserverRun(t *testing.T) {
	defer leaktest.Check(t)()

	api := newMockAPI()
	forceTicker := ticker.NewForce(time.Hour)

	o := NewObserver(&Config{
		API:        api,
		Clock:      clock.NewTestClock(testTime),
		PollTicker: forceTicker,
		MinConfs:   1,
	})

	var secret lntypes.Preimage
	secret[0] = 0x02
	require.NoError(t, o.Watch(secret.Hash(), testAddr, 1000))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- o.Run(ctx)
	}()

	api.addFunding(1000, true)
	forceTicker.Force <- testTime

	select {
	case event := <-o.Events():
		require.Equal(t, FundingSeen, event.Kind)
	case <-time.After(5 * time.Second):
		t.Fatal("no event from poll loop")
	}

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
}
