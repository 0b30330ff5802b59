package colddrawerd

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/IngarsPoliters/coldDrawer"
	"github.com/IngarsPoliters/coldDrawer/actuator"
	"github.com/IngarsPoliters/coldDrawer/btcwatch"
	"github.com/IngarsPoliters/coldDrawer/ledger"
	"github.com/IngarsPoliters/coldDrawer/swapdb"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/ticker"
	"golang.org/x/sync/errgroup"
)

// statusBuffer is the size of the status update channel consumed by the
// daemon's logger.
const statusBuffer = 64

// Daemon wires the coordinator, observer and actuator together and owns
// their lifecycle: init, run, shutdown.
type Daemon struct {
	cfg *Config

	store       swapdb.SwapStore
	ledger      *ledger.Ledger
	actuator    *actuator.Actuator
	observer    *btcwatch.Observer
	wsFeed      *btcwatch.WSFeed
	coordinator *colddrawer.Coordinator
	admin       *AdminServer

	statusChan chan colddrawer.SwapInfo
}

// New assembles a daemon from the validated configuration.
func New(cfg *Config) (*Daemon, error) {
	store, err := swapdb.NewBoltSwapStore(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("opening swap store: %w", err)
	}

	systemClock := clock.NewDefaultClock()

	assetLedger := ledger.New(systemClock)

	key, err := coordinatorKeyAddress(cfg.CoordinatorPrivateKey)
	if err != nil {
		store.Close()
		return nil, err
	}

	act := actuator.New(actuator.Config{
		Ledger:     assetLedger,
		Key:        key,
		GasCeiling: 500_000,
	})

	observer := btcwatch.NewObserver(&btcwatch.Config{
		API:        btcwatch.NewAPIClient(cfg.BtcAPIURL),
		Clock:      systemClock,
		PollTicker: ticker.New(cfg.PollInterval()),
		MinConfs:   cfg.MinConfirmations,
	})

	statusChan := make(chan colddrawer.SwapInfo, statusBuffer)

	coordinator, err := colddrawer.NewCoordinator(&colddrawer.Config{
		Store:         store,
		Actuator:      act,
		Observer:      observer,
		Clock:         systemClock,
		TimeoutBuffer: cfg.TimeoutBuffer(),
		MaxRetries:    cfg.MaxRetries,
		AutoClaim:     cfg.AutoClaim,
		StatusChan:    statusChan,
	})
	if err != nil {
		store.Close()
		return nil, err
	}

	d := &Daemon{
		cfg:         cfg,
		store:       store,
		ledger:      assetLedger,
		actuator:    act,
		observer:    observer,
		coordinator: coordinator,
		admin:       NewAdminServer(coordinator),
		statusChan:  statusChan,
	}

	if cfg.BtcWSURL != "" {
		d.wsFeed = btcwatch.NewWSFeed(cfg.BtcWSURL, observer)
	}

	return d, nil
}

// Coordinator exposes the admin surface.
func (d *Daemon) Coordinator() *colddrawer.Coordinator {
	return d.coordinator
}

// Ledger exposes the asset ledger.
func (d *Daemon) Ledger() *ledger.Ledger {
	return d.ledger
}

// Run starts all subsystems and blocks until the context is cancelled or a
// subsystem fails. Shutdown drains and closes everything before returning.
func (d *Daemon) Run(ctx context.Context) error {
	log.Infof("colddrawerd %v starting on %v", colddrawer.Version(),
		d.cfg.Network)

	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		return d.coordinator.Run(ctx)
	})

	group.Go(func() error {
		return d.observer.Run(ctx)
	})

	if d.wsFeed != nil {
		group.Go(func() error {
			return d.wsFeed.Run(ctx)
		})
	}

	if d.cfg.AdminListen != "" {
		group.Go(func() error {
			return d.admin.Serve(ctx, d.cfg.AdminListen)
		})
	}

	// Surface status updates in the daemon log.
	group.Go(func() error {
		for {
			select {
			case info := <-d.statusChan:
				if info.Alert != "" {
					log.Warnf("swap %v: %v (state %v)",
						info.Hash, info.Alert,
						info.State)

					continue
				}

				log.Infof("swap %v: state %v", info.Hash,
					info.State)

			case <-ctx.Done():
				return ctx.Err()
			}
		}
	})

	err := group.Wait()

	if closeErr := d.store.Close(); closeErr != nil {
		log.Errorf("closing swap store: %v", closeErr)
	}

	log.Infof("colddrawerd shut down")

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	return nil
}

// coordinatorKeyAddress derives the coordinator's ledger address from its
// signing key.
func coordinatorKeyAddress(keyHex string) (ledger.Address, error) {
	raw, err := hex.DecodeString(keyHex)
	if err != nil || len(raw) != 32 {
		return ledger.Address{}, fmt.Errorf("coordinator key must " +
			"be 32 hex encoded bytes")
	}

	digest := sha256.Sum256(raw)

	var addr ledger.Address
	copy(addr[:], digest[len(digest)-20:])

	return addr, nil
}
