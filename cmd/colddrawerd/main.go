package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/IngarsPoliters/coldDrawer"
	"github.com/IngarsPoliters/coldDrawer/colddrawerd"
	flags "github.com/jessevdk/go-flags"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "colddrawerd: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := colddrawerd.DefaultConfig()

	if _, err := flags.Parse(&cfg); err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) &&
			flagsErr.Type == flags.ErrHelp {

			return nil
		}

		return err
	}

	if cfg.ShowVersion {
		fmt.Printf("colddrawerd version %v\n", colddrawer.Version())
		return nil
	}

	if err := colddrawerd.Validate(&cfg); err != nil {
		return err
	}

	if err := colddrawerd.SetupLoggers(
		os.Stdout, cfg.DebugLevel,
	); err != nil {
		return err
	}

	daemon, err := colddrawerd.New(&cfg)
	if err != nil {
		return err
	}

	// A clean shutdown on interrupt exits with code 0.
	ctx, stop := signal.NotifyContext(
		context.Background(), os.Interrupt, syscall.SIGTERM,
	)
	defer stop()

	return daemon.Run(ctx)
}
