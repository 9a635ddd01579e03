package main

import (
	"os"

	"github.com/agglayer/callkit"
	"github.com/urfave/cli/v2"
)

func versionCmd(*cli.Context) error {
	callkit.PrintVersion(os.Stdout)

	return nil
}
