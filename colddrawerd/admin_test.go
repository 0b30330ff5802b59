package colddrawerd

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/IngarsPoliters/coldDrawer"
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
	adminTestTime   = time.Date(2023, 6, 1, 12, 0, 0, 0, time.UTC)
	adminSellerAddr = ledger.Address{0x01}
	adminBuyerAddr  = ledger.Address{0x02}
)

// stubObserver satisfies the coordinator's observer dependency without any
// chain access.
type stubObserver struct {
	events chan btcwatch.Event
}

func (o *stubObserver) Watch(lntypes.Hash, string, btcutil.Amount) error {
	return nil
}

func (o *stubObserver) Unwatch(lntypes.Hash) {}

func (o *stubObserver) Events() <-chan btcwatch.Event {
	return o.events
}

func (o *stubObserver) ProcessedTxids() int {
	return 0
}

// newTestAdmin spins up a coordinator with token 1 minted and serves its
// admin surface from a test listener.
func newTestAdmin(t *testing.T) *httptest.Server {
	t.Helper()

	clk := clock.NewTestClock(adminTestTime)
	assetLedger := ledger.New(clk)

	_, err := assetLedger.Mint(adminSellerAddr, 1, ledger.Metadata{
		Title:    "2019 Audi A4",
		Category: "vehicle",
	})
	require.NoError(t, err)

	act := actuator.New(actuator.Config{
		Ledger:     assetLedger,
		Key:        ledger.Address{0xc0},
		GasCeiling: 500_000,
	})

	coordinator, err := colddrawer.NewCoordinator(&colddrawer.Config{
		Store:    swapdb.NewStoreMock(),
		Actuator: act,
		Observer: &stubObserver{
			events: make(chan btcwatch.Event),
		},
		Clock:     clk,
		AutoClaim: true,
	})
	require.NoError(t, err)

	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- coordinator.Run(runCtx)
	}()

	t.Cleanup(func() {
		cancel()

		select {
		case err := <-done:
			require.ErrorIs(t, err, context.Canceled)

		case <-time.After(5 * time.Second):
			t.Fatal("coordinator did not shut down")
		}
	})

	server := httptest.NewServer(NewAdminServer(coordinator).Handler())
	t.Cleanup(server.Close)

	return server
}

func adminPost(t *testing.T, server *httptest.Server, path string,
	in interface{}) *http.Response {

	t.Helper()

	body := bytes.NewBuffer(nil)
	require.NoError(t, json.NewEncoder(body).Encode(in))

	resp, err := http.Post(
		server.URL+path, "application/json", body,
	)
	require.NoError(t, err)

	return resp
}

func adminGet(t *testing.T, server *httptest.Server, path string,
	out interface{}) int {

	t.Helper()

	resp, err := http.Get(server.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()

	if out != nil && resp.StatusCode == http.StatusOK {
		require.NoError(
			t, json.NewDecoder(resp.Body).Decode(out),
		)
	}

	return resp.StatusCode
}

// TestAdminRegisterAndQuery walks register, get, list and stats over the
// admin surface.
func TestAdminRegisterAndQuery(t *testing.T) {
	server := newTestAdmin(t)

	var preimage lntypes.Preimage
	preimage[0] = 0x07
	hash := preimage.Hash()

	req := &RegisterSwapJSON{
		HashH:          hash.String(),
		TokenID:        1,
		PriceSats:      50_000_000,
		SellerBtcAddr:  "tb1qseller",
		BuyerAssetAddr: adminBuyerAddr.String(),
		AssetExpiry:    adminTestTime.Unix() + 3*3600,
	}

	resp := adminPost(t, server, "/v1/swaps", req)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var created SwapJSON
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	require.Equal(t, hash.String(), created.HashH)
	require.Equal(t, "waiting_btc", created.State)
	require.Equal(t, int64(50_000_000), created.PriceSats)

	// Duplicate registration conflicts.
	resp = adminPost(t, server, "/v1/swaps", req)
	resp.Body.Close()
	require.Equal(t, http.StatusConflict, resp.StatusCode)

	// The swap is queryable by hash.
	var fetched SwapJSON
	status := adminGet(
		t, server, "/v1/swaps/"+hash.String(), &fetched,
	)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, created.HashH, fetched.HashH)

	// And shows up in the listing and the stats.
	var swaps []*SwapJSON
	status = adminGet(t, server, "/v1/swaps", &swaps)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, swaps, 1)

	var stats StatsJSON
	status = adminGet(t, server, "/v1/stats", &stats)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, 1, stats.PendingCount)
}

// TestAdminErrors asserts the error mapping of the admin surface.
func TestAdminErrors(t *testing.T) {
	server := newTestAdmin(t)

	// Malformed hash on get.
	status := adminGet(t, server, "/v1/swaps/nothex", nil)
	require.Equal(t, http.StatusBadRequest, status)

	// Unknown hash on get.
	var preimage lntypes.Preimage
	preimage[0] = 0x09
	status = adminGet(
		t, server, "/v1/swaps/"+preimage.Hash().String(), nil,
	)
	require.Equal(t, http.StatusNotFound, status)

	// Register with an invalid buyer address.
	resp := adminPost(t, server, "/v1/swaps", &RegisterSwapJSON{
		HashH:          preimage.Hash().String(),
		TokenID:        1,
		PriceSats:      1000,
		SellerBtcAddr:  "tb1qseller",
		BuyerAssetAddr: "not-an-address",
		AssetExpiry:    adminTestTime.Unix() + 3*3600,
	})
	resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// A forced refund of an unknown swap.
	resp = adminPost(t, server, "/v1/forcerefund", &ForceRefundJSON{
		TokenID: 42,
	})
	resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	// A malformed secret is rejected before the swap is looked up.
	resp = adminPost(t, server, "/v1/forceclaim", &ForceClaimJSON{
		TokenID: 42,
		SecretS: "zz",
	})
	resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
