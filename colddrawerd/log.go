package colddrawerd

import (
	"io"

	"github.com/IngarsPoliters/coldDrawer"
	"github.com/IngarsPoliters/coldDrawer/actuator"
	"github.com/IngarsPoliters/coldDrawer/btcwatch"
	"github.com/IngarsPoliters/coldDrawer/ledger"
	"github.com/IngarsPoliters/coldDrawer/normalizer"
	"github.com/IngarsPoliters/coldDrawer/swap"
	"github.com/IngarsPoliters/coldDrawer/swapdb"
	"github.com/btcsuite/btclog"
	"github.com/lightningnetwork/lnd/build"
)

// Subsystem defines the sub system name of this package.
const Subsystem = "DAEM"

// log is the daemon's own logger.
var log btclog.Logger

// The default amount of logging is none.
func init() {
	log = build.NewSubLogger(Subsystem, nil)
}

// SetupLoggers initializes all package-global logger variables on a shared
// backend, filtered to the given level.
func SetupLoggers(w io.Writer, level string) error {
	backend := btclog.NewBackend(w)

	logLevel, ok := btclog.LevelFromString(level)
	if !ok {
		logLevel = btclog.LevelInfo
	}

	newLogger := func(tag string) btclog.Logger {
		logger := backend.Logger(tag)
		logger.SetLevel(logLevel)
		return logger
	}

	log = newLogger(Subsystem)

	colddrawer.UseLogger(newLogger(colddrawer.Subsystem))
	swap.UseLogger(newLogger(swap.Subsystem))
	ledger.UseLogger(newLogger(ledger.Subsystem))
	actuator.UseLogger(newLogger(actuator.Subsystem))
	btcwatch.UseLogger(newLogger(btcwatch.Subsystem))
	normalizer.UseLogger(newLogger(normalizer.Subsystem))
	swapdb.UseLogger(newLogger(swapdb.Subsystem))

	return nil
}
