package main

import (
	"fmt"
	"os"

	"github.com/IngarsPoliters/coldDrawer"
	"github.com/urfave/cli"
)

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "[colddrawer-cli] %v\n", err)
	os.Exit(1)
}

func main() {
	app := cli.NewApp()

	app.Version = colddrawer.Version()
	app.Name = "colddrawer-cli"
	app.Usage = "control plane for your colddrawerd"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "adminaddr",
			Value: "localhost:11080",
			Usage: "colddrawerd admin api address host:port",
		},
	}
	app.Commands = []cli.Command{
		registerCommand, listSwapsCommand, getSwapCommand,
		forceClaimCommand, forceRefundCommand, statsCommand,
		genSecretCommand, handoffCommand, timelocksCommand,
		viewCommand,
	}

	err := app.Run(os.Args)
	if err != nil {
		fatal(err)
	}
}
