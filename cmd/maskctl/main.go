package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli"

	"github.com/scaguard/maskedaes/build"
)

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "[maskctl] %v\n", err)
	os.Exit(1)
}

func main() {
	app := cli.NewApp()
	app.Name = "maskctl"
	app.Version = build.Version()
	app.Usage = "provisioning and offline verification tool for the " +
		"masked decryption engine"
	app.Commands = []cli.Command{
		splitKeyCommand,
		joinKeyCommand,
		decryptCommand,
		selfTestCommand,
	}

	if err := app.Run(os.Args); err != nil {
		fatal(err)
	}
}
