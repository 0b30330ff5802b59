package btcwatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/btcsuite/btcd/btcutil"
)

var (
	// ErrRPCUnavailable is returned when the chain data source cannot be
	// reached or answers with a server error. These failures are
	// transient by nature and safe to retry.
	ErrRPCUnavailable = errors.New("chain api unavailable")

	// ErrTxNotFound is returned when a transaction is not known to the
	// current best chain or mempool.
	ErrTxNotFound = errors.New("transaction not found")
)

// TxStatus is the confirmation state of a transaction.
type TxStatus struct {
	Confirmed   bool   `json:"confirmed"`
	BlockHeight uint32 `json:"block_height"`
	BlockTime   int64  `json:"block_time"`
}

// Vin is a transaction input, including the witness stack of the spending
// script. Witness elements are hex encoded.
type Vin struct {
	Txid    string   `json:"txid"`
	Vout    uint32   `json:"vout"`
	Witness []string `json:"witness"`
}

// Vout is a transaction output. Values are in satoshis, which is what
// esplora-style indexes serve natively.
type Vout struct {
	ScriptPubKeyAddress string         `json:"scriptpubkey_address"`
	Value               btcutil.Amount `json:"value"`
}

// Tx is an observed bitcoin transaction.
type Tx struct {
	Txid   string   `json:"txid"`
	Vin    []Vin    `json:"vin"`
	Vout   []Vout   `json:"vout"`
	Status TxStatus `json:"status"`
}

// Outspend reports whether and by what transaction an output is spent.
type Outspend struct {
	Spent bool   `json:"spent"`
	Txid  string `json:"txid"`
	Vin   uint32 `json:"vin"`
}

// ChainAPI is the subset of a chain index the observer needs. Both the
// polling HTTP client and test doubles implement it.
type ChainAPI interface {
	// AddressTxs returns the transactions touching an address, most
	// recent first, mempool included.
	AddressTxs(ctx context.Context, addr string) ([]Tx, error)

	// Tx returns a transaction by id. Returns ErrTxNotFound if the id
	// is not on the current best chain or in the mempool.
	Tx(ctx context.Context, txid string) (*Tx, error)

	// Outspends returns the spend status of every output of the given
	// transaction.
	Outspends(ctx context.Context, txid string) ([]Outspend, error)

	// TipHeight returns the current best chain height.
	TipHeight(ctx context.Context) (uint32, error)
}

// APIClient talks to an esplora-compatible HTTP index.
type APIClient struct {
	baseURL string
	client  *http.Client
}

// NewAPIClient creates a client for the index at baseURL.
func NewAPIClient(baseURL string) *APIClient {
	return &APIClient{
		baseURL: baseURL,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// get fetches an endpoint and decodes the JSON response into out.
func (c *APIClient) get(ctx context.Context, out interface{},
	elem ...string) error {

	endpoint, err := url.JoinPath(c.baseURL, elem...)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(
		ctx, http.MethodGet, endpoint, nil,
	)
	if err != nil {
		return err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRPCUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrTxNotFound

	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("%w: %v returned %v", ErrRPCUnavailable,
			endpoint, resp.Status)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode %v: %v", ErrRPCUnavailable,
			endpoint, err)
	}

	return nil
}

// AddressTxs returns the transactions touching an address.
func (c *APIClient) AddressTxs(ctx context.Context,
	addr string) ([]Tx, error) {

	var txs []Tx
	if err := c.get(ctx, &txs, "address", addr, "txs"); err != nil {
		return nil, err
	}

	return txs, nil
}

// Tx returns a transaction by id.
func (c *APIClient) Tx(ctx context.Context, txid string) (*Tx, error) {
	var tx Tx
	if err := c.get(ctx, &tx, "tx", txid); err != nil {
		return nil, err
	}

	return &tx, nil
}

// Outspends returns the spend status of every output of the transaction.
func (c *APIClient) Outspends(ctx context.Context,
	txid string) ([]Outspend, error) {

	var outspends []Outspend
	err := c.get(ctx, &outspends, "tx", txid, "outspends")
	if err != nil {
		return nil, err
	}

	return outspends, nil
}

// TipHeight returns the current best chain height.
func (c *APIClient) TipHeight(ctx context.Context) (uint32, error) {
	var height uint32
	if err := c.get(ctx, &height, "blocks", "tip", "height"); err != nil {
		return 0, err
	}

	return height, nil
}

// Confirmations derives the confirmation count of a transaction status at
// the given tip.
func Confirmations(status TxStatus, tip uint32) uint32 {
	if !status.Confirmed || status.BlockHeight > tip {
		return 0
	}

	return tip - status.BlockHeight + 1
}
