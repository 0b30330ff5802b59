package colddrawerd

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/IngarsPoliters/coldDrawer"
	"github.com/IngarsPoliters/coldDrawer/actuator"
	"github.com/IngarsPoliters/coldDrawer/ledger"
	"github.com/IngarsPoliters/coldDrawer/swap"
	"github.com/btcsuite/btcd/btcutil"
)

// RegisterSwapJSON is the admin request to register a new swap.
type RegisterSwapJSON struct {
	HashH          string `json:"hashH"`
	TokenID        uint64 `json:"tokenId"`
	PriceSats      int64  `json:"priceSats"`
	SellerBtcAddr  string `json:"sellerBtcAddr"`
	BuyerAssetAddr string `json:"buyerAssetAddr"`
	AssetExpiry    int64  `json:"assetExpiry"`
}

// ForceClaimJSON is the admin request to manually claim a stuck swap.
type ForceClaimJSON struct {
	TokenID uint64 `json:"tokenId"`
	SecretS string `json:"secretS"`
}

// ForceRefundJSON is the admin request to manually refund a stuck swap.
type ForceRefundJSON struct {
	TokenID uint64 `json:"tokenId"`
}

// SwapJSON is the admin view of one swap.
type SwapJSON struct {
	HashH          string `json:"hashH"`
	TokenID        uint64 `json:"tokenId"`
	State          string `json:"state"`
	PriceSats      int64  `json:"priceSats"`
	SellerBtcAddr  string `json:"sellerBtcAddr"`
	BuyerAssetAddr string `json:"buyerAssetAddr"`
	AssetExpiry    int64  `json:"assetExpiry"`
	BtcExpiry      int64  `json:"btcExpiry"`
	BtcTxid        string `json:"btcTxid,omitempty"`
	RevealTxid     string `json:"revealTxid,omitempty"`
	SecretS        string `json:"secretS,omitempty"`
	CreatedAt      int64  `json:"createdAt"`
	UpdatedAt      int64  `json:"updatedAt"`
	LastError      string `json:"lastError,omitempty"`
}

// StatsJSON is the admin counters response.
type StatsJSON struct {
	PendingCount   int `json:"pendingCount"`
	ClaimedCount   int `json:"claimedCount"`
	RefundedCount  int `json:"refundedCount"`
	ExpiredCount   int `json:"expiredCount"`
	ProcessedTxids int `json:"processedTxids"`
}

// ErrorJSON carries an admin error message.
type ErrorJSON struct {
	Error string `json:"error"`
}

// AdminServer exposes the coordinator's admin surface over plain HTTP/JSON:
// registerSwap, getSwap, listSwaps, forceClaim, forceRefund, stats. This is
// the operator control plane, not a public facade; it binds to localhost by
// default.
type AdminServer struct {
	coordinator *colddrawer.Coordinator
}

// NewAdminServer creates the admin surface for a coordinator.
func NewAdminServer(coordinator *colddrawer.Coordinator) *AdminServer {
	return &AdminServer{coordinator: coordinator}
}

// Handler returns the admin route table.
func (s *AdminServer) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/v1/swaps", s.handleSwaps)
	mux.HandleFunc("/v1/swaps/", s.handleGetSwap)
	mux.HandleFunc("/v1/forceclaim", s.handleForceClaim)
	mux.HandleFunc("/v1/forcerefund", s.handleForceRefund)
	mux.HandleFunc("/v1/stats", s.handleStats)

	return mux
}

// Serve runs the admin listener until the context is cancelled.
func (s *AdminServer) Serve(ctx context.Context, addr string) error {
	server := &http.Server{
		Addr:    addr,
		Handler: s.Handler(),
	}

	errChan := make(chan error, 1)
	go func() {
		errChan <- server.ListenAndServe()
	}()

	log.Infof("admin api listening on %v", addr)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(
			context.Background(), 5*time.Second,
		)
		defer cancel()

		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()

	case err := <-errChan:
		return err
	}
}

// handleSwaps lists swaps on GET and registers one on POST.
func (s *AdminServer) handleSwaps(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		details := s.coordinator.ListSwaps()

		swaps := make([]*SwapJSON, len(details))
		for i, detail := range details {
			swaps[i] = marshalSwap(detail)
		}

		writeJSON(w, http.StatusOK, swaps)

	case http.MethodPost:
		var req RegisterSwapJSON
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}

		hash, err := swap.ParseHashHex(req.HashH)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}

		buyer, err := ledger.ParseAddress(req.BuyerAssetAddr)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}

		err = s.coordinator.RegisterSwap(
			r.Context(), &colddrawer.RegisterSwapRequest{
				Hash:           hash,
				TokenID:        req.TokenID,
				Price:          btcutil.Amount(req.PriceSats),
				SellerBtcAddr:  req.SellerBtcAddr,
				BuyerAssetAddr: buyer,
				AssetExpiry:    req.AssetExpiry,
			},
		)
		if err != nil {
			writeError(w, errStatus(err), err)
			return
		}

		detail, err := s.coordinator.GetSwap(hash)
		if err != nil {
			writeError(w, errStatus(err), err)
			return
		}

		writeJSON(w, http.StatusCreated, marshalSwap(detail))

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// handleGetSwap returns one swap by its commitment hash.
func (s *AdminServer) handleGetSwap(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	hashHex := strings.TrimPrefix(r.URL.Path, "/v1/swaps/")

	hash, err := swap.ParseHashHex(hashHex)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	detail, err := s.coordinator.GetSwap(hash)
	if err != nil {
		writeError(w, errStatus(err), err)
		return
	}

	writeJSON(w, http.StatusOK, marshalSwap(detail))
}

// handleForceClaim manually claims a stuck swap's escrow.
func (s *AdminServer) handleForceClaim(w http.ResponseWriter,
	r *http.Request) {

	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req ForceClaimJSON
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	secret, err := swap.ParseSecretHex(req.SecretS)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	err = s.coordinator.ForceClaim(r.Context(), req.TokenID, secret)
	if err != nil {
		writeError(w, errStatus(err), err)
		return
	}

	writeJSON(w, http.StatusOK, struct{}{})
}

// handleForceRefund manually refunds a stuck swap's escrow.
func (s *AdminServer) handleForceRefund(w http.ResponseWriter,
	r *http.Request) {

	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req ForceRefundJSON
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	err := s.coordinator.ForceRefund(r.Context(), req.TokenID)
	if err != nil {
		writeError(w, errStatus(err), err)
		return
	}

	writeJSON(w, http.StatusOK, struct{}{})
}

// handleStats returns the coordinator counters.
func (s *AdminServer) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	stats := s.coordinator.Stats()

	writeJSON(w, http.StatusOK, &StatsJSON{
		PendingCount:   stats.PendingCount,
		ClaimedCount:   stats.ClaimedCount,
		RefundedCount:  stats.RefundedCount,
		ExpiredCount:   stats.ExpiredCount,
		ProcessedTxids: stats.ProcessedTxids,
	})
}

// marshalSwap converts the coordinator's view to its wire form. The secret
// is only disclosed once it has been revealed on chain anyway.
func marshalSwap(detail *colddrawer.SwapDetails) *SwapJSON {
	swapJSON := &SwapJSON{
		HashH:          detail.Contract.Hash.String(),
		TokenID:        detail.Contract.TokenID,
		State:          detail.State.State.String(),
		PriceSats:      int64(detail.Contract.Price),
		SellerBtcAddr:  detail.Contract.SellerBtcAddr,
		BuyerAssetAddr: detail.Contract.BuyerAssetAddr.String(),
		AssetExpiry:    detail.Contract.AssetExpiry,
		BtcExpiry:      detail.Contract.BtcExpiry,
		BtcTxid:        detail.State.BtcTxid,
		RevealTxid:     detail.State.RevealTxid,
		CreatedAt:      detail.Contract.CreatedAt.Unix(),
		UpdatedAt:      detail.State.Time.Unix(),
		LastError:      detail.LastError,
	}

	if detail.State.HasSecret {
		swapJSON.SecretS = hex.EncodeToString(detail.State.Secret[:])
	}

	return swapJSON
}

// errStatus maps coordinator errors to http status codes.
func errStatus(err error) int {
	var rejected *actuator.RejectedError

	switch {
	case errors.Is(err, colddrawer.ErrSwapNotFound):
		return http.StatusNotFound

	case errors.Is(err, colddrawer.ErrDuplicateHash):
		return http.StatusConflict

	case errors.Is(err, colddrawer.ErrInvalidRequest),
		errors.Is(err, swap.ErrMalformedHex),
		errors.Is(err, ledger.ErrInvalidAddress):

		return http.StatusBadRequest

	// The ledger refused the operation in its current state; retrying
	// the same request will not help.
	case errors.As(err, &rejected):
		return http.StatusConflict

	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, value interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(value); err != nil {
		log.Errorf("admin api: encoding response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, &ErrorJSON{Error: err.Error()})
}
