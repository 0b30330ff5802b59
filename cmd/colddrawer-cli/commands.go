package main

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/IngarsPoliters/coldDrawer/handoff"
	"github.com/IngarsPoliters/coldDrawer/swap"
	"github.com/IngarsPoliters/coldDrawer/swapdb"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/urfave/cli"
)

var genSecretCommand = cli.Command{
	Name:  "gensecret",
	Usage: "generate a fresh swap secret and its commitment",
	Description: `
	Draws a 32 byte secret from the system rng and prints it together
	with its sha256 commitment. The commitment is what both legs of the
	swap lock against; the secret stays with the seller until they sweep
	the bitcoin htlc.`,
	Action: genSecret,
}

func genSecret(_ *cli.Context) error {
	secret, hash, err := swap.GenerateSecret()
	if err != nil {
		return err
	}

	return printJSON(map[string]string{
		"secret": secret.String(),
		"hashH":  hash.String(),
	})
}

var handoffCommand = cli.Command{
	Name:      "handoff",
	Usage:     "build the buyer handoff payload for a registered swap",
	ArgsUsage: "hashH price_sats receiver_addr deadline token_id title",
	Flags: []cli.Flag{
		cli.StringFlag{
			Name:  "network",
			Value: handoff.NetworkTestnet,
			Usage: "bitcoin network: testnet or mainnet",
		},
		cli.StringFlag{
			Name:  "assetnetwork",
			Value: "assetnet-main",
			Usage: "asset ledger network name",
		},
		cli.BoolFlag{
			Name:  "uri",
			Usage: "print the bip-21 uri instead of json",
		},
	},
	Action: buildHandoff,
}

func buildHandoff(ctx *cli.Context) error {
	args := ctx.Args()
	if len(args) != 6 {
		return cli.ShowCommandHelp(ctx, "handoff")
	}

	hash, err := swap.ParseHashHex(args[0])
	if err != nil {
		return err
	}

	sats, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		return fmt.Errorf("price: %w", err)
	}

	deadline, err := strconv.ParseInt(args[3], 10, 64)
	if err != nil {
		return fmt.Errorf("deadline: %w", err)
	}

	tokenID, err := strconv.ParseUint(args[4], 10, 64)
	if err != nil {
		return fmt.Errorf("token id: %w", err)
	}

	payload, err := handoff.New(
		hash, btcutil.Amount(sats), args[2], deadline, tokenID,
		args[5], ctx.String("network"), ctx.String("assetnetwork"),
	)
	if err != nil {
		return err
	}

	if ctx.Bool("uri") {
		uri, err := payload.URI()
		if err != nil {
			return err
		}

		fmt.Println(uri)
		return nil
	}

	return printJSON(payload)
}

var timelocksCommand = cli.Command{
	Name:      "timelocks",
	Usage:     "compute the asymmetric timelock pair for a deadline",
	ArgsUsage: "asset_expiry_unix",
	Flags: []cli.Flag{
		cli.Uint64Flag{
			Name:  "bufferhours",
			Value: 2,
			Usage: "gap in hours between asset and btc expiry",
		},
	},
	Action: showTimelocks,
}

func showTimelocks(ctx *cli.Context) error {
	args := ctx.Args()
	if len(args) != 1 {
		return cli.ShowCommandHelp(ctx, "timelocks")
	}

	assetExpiry, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return err
	}

	locks, err := swap.CalcTimelocks(
		assetExpiry,
		time.Duration(ctx.Uint64("bufferhours"))*time.Hour,
		time.Now(),
	)
	if err != nil {
		return err
	}

	return printJSON(map[string]int64{
		"assetExpiry":   locks.AssetExpiry,
		"btcExpiry":     locks.BtcExpiry,
		"bufferSeconds": int64(locks.Buffer.Seconds()),
	})
}

var viewCommand = cli.Command{
	Name:      "view",
	Usage:     "list swaps in the database while the daemon is stopped",
	ArgsUsage: "datadir",
	Action:    viewSwaps,
}

func viewSwaps(ctx *cli.Context) error {
	args := ctx.Args()
	if len(args) != 1 {
		return cli.ShowCommandHelp(ctx, "view")
	}

	store, err := swapdb.NewBoltSwapStore(args[0])
	if err != nil {
		return err
	}
	defer store.Close()

	swaps, err := store.FetchSwaps()
	if err != nil {
		return err
	}

	for _, pending := range swaps {
		state := pending.State()
		fmt.Printf("%v token=%v price=%v state=%v updates=%v\n",
			pending.Contract.Hash, pending.Contract.TokenID,
			pending.Contract.Price, state.State,
			len(pending.Updates))
	}

	return nil
}

func printJSON(value interface{}) error {
	raw, err := json.MarshalIndent(value, "", "    ")
	if err != nil {
		return err
	}

	fmt.Println(string(raw))
	return nil
}
