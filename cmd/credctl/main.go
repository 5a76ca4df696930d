package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli"
)

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "[credctl] %v\n", err)
	os.Exit(1)
}

func main() {
	app := cli.NewApp()
	app.Name = "credctl"
	app.Version = "0.1"
	app.Usage = "offline control tool for credmesh nodes"
	app.Commands = []cli.Command{
		genIdentityCommand,
		showPublicKeyCommand,
		makeRelayFileCommand,
		makeFriendFileCommand,
		verifyReceiptCommand,
	}

	if err := app.Run(os.Args); err != nil {
		fatal(err)
	}
}
