package colddrawerd

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/btcsuite/btcd/btcutil"
)

var (
	coldDrawerDirBase = btcutil.AppDataDir("colddrawer", false)

	defaultNetwork  = "testnet"
	defaultLogLevel = "info"
)

// Config holds the daemon configuration. Every value can be set through the
// command line or the environment.
type Config struct {
	ShowVersion bool `long:"version" description:"Display version information and exit"`

	Network string `long:"network" env:"NETWORK_BTC" description:"bitcoin network to run on" choice:"regtest" choice:"testnet" choice:"mainnet"`

	DataDir    string `long:"datadir" description:"Directory for the swap database"`
	DebugLevel string `long:"debuglevel" description:"Logging level {trace, debug, info, warn, error, critical}"`

	AdminListen string `long:"adminlisten" env:"ADMIN_LISTEN" description:"Address to listen on for the admin api"`

	BtcAPIURL string `long:"btcapiurl" env:"BTC_API_URL" description:"Esplora-compatible chain index base url"`
	BtcWSURL  string `long:"btcwsurl" env:"BTC_WS_URL" description:"Optional websocket push feed url"`

	AssetRPCURL          string `long:"assetrpcurl" env:"ASSET_RPC_URL" description:"Asset ledger rpc url"`
	AssetContractAddress string `long:"assetcontractaddress" env:"ASSET_CONTRACT_ADDRESS" description:"Asset htlc contract address"`

	CoordinatorPrivateKey string `long:"coordinatorprivatekey" env:"COORDINATOR_PRIVATE_KEY" description:"Hex encoded coordinator signing key"`

	MinConfirmations   uint32 `long:"minconfirmations" env:"MIN_CONFIRMATIONS" description:"Confirmations required on the btc funding tx"`
	TimeoutBufferHours uint32 `long:"htlctimeoutbufferhours" env:"HTLC_TIMEOUT_BUFFER_HOURS" description:"Gap in hours between asset and btc expiries"`
	PollIntervalMs     uint32 `long:"pollintervalms" env:"POLL_INTERVAL_MS" description:"Chain poll interval in milliseconds"`
	MaxRetries         int    `long:"maxretries" env:"MAX_RETRIES" description:"Retry attempts for failed ledger submissions"`
	AutoClaim          bool   `long:"autoclaim" env:"AUTO_CLAIM" description:"Claim automatically when a secret is observed"`
}

// DefaultConfig returns all default values for the Config struct.
func DefaultConfig() Config {
	return Config{
		Network:            defaultNetwork,
		DataDir:            coldDrawerDirBase,
		DebugLevel:         defaultLogLevel,
		AdminListen:        "localhost:11080",
		BtcAPIURL:          "https://blockstream.info/testnet/api",
		MinConfirmations:   1,
		TimeoutBufferHours: 2,
		PollIntervalMs:     30_000,
		MaxRetries:         5,
		AutoClaim:          true,
	}
}

// Validate cleans up paths in the config provided and validates it.
func Validate(cfg *Config) error {
	if cfg.BtcAPIURL == "" {
		return fmt.Errorf("btcapiurl is required")
	}

	if cfg.CoordinatorPrivateKey == "" {
		return fmt.Errorf("coordinatorprivatekey is required")
	}

	if cfg.MinConfirmations < 1 {
		return fmt.Errorf("minconfirmations must be at least 1")
	}

	if cfg.TimeoutBufferHours < 1 || cfg.TimeoutBufferHours > 24 {
		return fmt.Errorf("htlctimeoutbufferhours must be in [1, 24]")
	}

	// Namespace the data directory per network.
	cfg.DataDir = filepath.Join(cfg.DataDir, cfg.Network)

	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		return err
	}

	return nil
}

// PollInterval returns the poll interval as a duration.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMs) * time.Millisecond
}

// TimeoutBuffer returns the timeout buffer as a duration.
func (c *Config) TimeoutBuffer() time.Duration {
	return time.Duration(c.TimeoutBufferHours) * time.Hour
}
