package colddrawerd

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestValidate asserts the configuration invariants and path namespacing.
func TestValidate(t *testing.T) {
	base := t.TempDir()

	valid := func() Config {
		cfg := DefaultConfig()
		cfg.DataDir = base
		cfg.CoordinatorPrivateKey = "aabbccddeeff00112233445566778899" +
			"aabbccddeeff00112233445566778899"
		return cfg
	}

	cfg := valid()
	require.NoError(t, Validate(&cfg))

	// The data directory is namespaced per network.
	require.Equal(t, filepath.Join(base, cfg.Network), cfg.DataDir)

	cfg = valid()
	cfg.BtcAPIURL = ""
	require.Error(t, Validate(&cfg))

	cfg = valid()
	cfg.CoordinatorPrivateKey = ""
	require.Error(t, Validate(&cfg))

	cfg = valid()
	cfg.MinConfirmations = 0
	require.Error(t, Validate(&cfg))

	cfg = valid()
	cfg.TimeoutBufferHours = 25
	require.Error(t, Validate(&cfg))
}

// TestConfigDurations asserts the millisecond and hour conversions.
func TestConfigDurations(t *testing.T) {
	cfg := DefaultConfig()

	require.Equal(t, 30*time.Second, cfg.PollInterval())
	require.Equal(t, 2*time.Hour, cfg.TimeoutBuffer())
}

// TestCoordinatorKeyAddress asserts key parsing and address derivation.
func TestCoordinatorKeyAddress(t *testing.T) {
	const key = "aabbccddeeff00112233445566778899" +
		"aabbccddeeff00112233445566778899"

	addr, err := coordinatorKeyAddress(key)
	require.NoError(t, err)
	require.False(t, addr.IsZero())

	// Derivation is deterministic.
	addr2, err := coordinatorKeyAddress(key)
	require.NoError(t, err)
	require.Equal(t, addr, addr2)

	_, err = coordinatorKeyAddress("zz")
	require.Error(t, err)

	_, err = coordinatorKeyAddress("aabb")
	require.Error(t, err)
}
