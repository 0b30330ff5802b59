package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/IngarsPoliters/coldDrawer/colddrawerd"
	"github.com/urfave/cli"
)

var registerCommand = cli.Command{
	Name:      "register",
	Usage:     "register a new swap with the running daemon",
	ArgsUsage: "hashH token_id price_sats seller_btc_addr buyer_asset_addr asset_expiry",
	Description: `
	Registers a swap: the daemon starts watching the seller's bitcoin
	address for an htlc funding of at least price_sats and will drive
	the asset escrow once it confirms.`,
	Action: registerSwap,
}

func registerSwap(ctx *cli.Context) error {
	args := ctx.Args()
	if len(args) != 6 {
		return cli.ShowCommandHelp(ctx, "register")
	}

	tokenID, err := strconv.ParseUint(args[1], 10, 64)
	if err != nil {
		return fmt.Errorf("token id: %w", err)
	}

	price, err := strconv.ParseInt(args[2], 10, 64)
	if err != nil {
		return fmt.Errorf("price: %w", err)
	}

	expiry, err := strconv.ParseInt(args[5], 10, 64)
	if err != nil {
		return fmt.Errorf("asset expiry: %w", err)
	}

	var swapJSON colddrawerd.SwapJSON
	err = callAdmin(
		ctx, http.MethodPost, "/v1/swaps",
		&colddrawerd.RegisterSwapJSON{
			HashH:          args[0],
			TokenID:        tokenID,
			PriceSats:      price,
			SellerBtcAddr:  args[3],
			BuyerAssetAddr: args[4],
			AssetExpiry:    expiry,
		}, &swapJSON,
	)
	if err != nil {
		return err
	}

	return printJSON(&swapJSON)
}

var listSwapsCommand = cli.Command{
	Name:   "list",
	Usage:  "list all swaps tracked by the running daemon",
	Action: listSwaps,
}

func listSwaps(ctx *cli.Context) error {
	var swaps []*colddrawerd.SwapJSON
	err := callAdmin(ctx, http.MethodGet, "/v1/swaps", nil, &swaps)
	if err != nil {
		return err
	}

	return printJSON(swaps)
}

var getSwapCommand = cli.Command{
	Name:      "get",
	Usage:     "show one swap by its commitment hash",
	ArgsUsage: "hashH",
	Action:    getSwap,
}

func getSwap(ctx *cli.Context) error {
	args := ctx.Args()
	if len(args) != 1 {
		return cli.ShowCommandHelp(ctx, "get")
	}

	var swapJSON colddrawerd.SwapJSON
	err := callAdmin(
		ctx, http.MethodGet, "/v1/swaps/"+args[0], nil, &swapJSON,
	)
	if err != nil {
		return err
	}

	return printJSON(&swapJSON)
}

var forceClaimCommand = cli.Command{
	Name:      "forceclaim",
	Usage:     "manually claim a stuck swap's escrow",
	ArgsUsage: "token_id secret",
	Action:    forceClaim,
}

func forceClaim(ctx *cli.Context) error {
	args := ctx.Args()
	if len(args) != 2 {
		return cli.ShowCommandHelp(ctx, "forceclaim")
	}

	tokenID, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("token id: %w", err)
	}

	return callAdmin(
		ctx, http.MethodPost, "/v1/forceclaim",
		&colddrawerd.ForceClaimJSON{
			TokenID: tokenID,
			SecretS: args[1],
		}, nil,
	)
}

var forceRefundCommand = cli.Command{
	Name:      "forcerefund",
	Usage:     "manually refund a stuck swap's escrow",
	ArgsUsage: "token_id",
	Action:    forceRefund,
}

func forceRefund(ctx *cli.Context) error {
	args := ctx.Args()
	if len(args) != 1 {
		return cli.ShowCommandHelp(ctx, "forcerefund")
	}

	tokenID, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("token id: %w", err)
	}

	return callAdmin(
		ctx, http.MethodPost, "/v1/forcerefund",
		&colddrawerd.ForceRefundJSON{TokenID: tokenID}, nil,
	)
}

var statsCommand = cli.Command{
	Name:   "stats",
	Usage:  "show coordinator counters",
	Action: showStats,
}

func showStats(ctx *cli.Context) error {
	var stats colddrawerd.StatsJSON
	err := callAdmin(ctx, http.MethodGet, "/v1/stats", nil, &stats)
	if err != nil {
		return err
	}

	return printJSON(&stats)
}

// callAdmin performs one request against the daemon's admin api.
func callAdmin(ctx *cli.Context, method, path string, in,
	out interface{}) error {

	url := "http://" + ctx.GlobalString("adminaddr") + path

	body := bytes.NewBuffer(nil)
	if in != nil {
		if err := json.NewEncoder(body).Encode(in); err != nil {
			return err
		}
	}

	req, err := http.NewRequest(method, url, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		var adminErr colddrawerd.ErrorJSON
		if err := json.NewDecoder(resp.Body).
			Decode(&adminErr); err == nil && adminErr.Error != "" {

			return fmt.Errorf("daemon: %v", adminErr.Error)
		}

		return fmt.Errorf("daemon returned %v", resp.Status)
	}

	if out == nil {
		return nil
	}

	return json.NewDecoder(resp.Body).Decode(out)
}
