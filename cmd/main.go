package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/agglayer/callkit"
	"github.com/agglayer/callkit/config"
)

const appName = "callkit"

const (
	// PROBE name to identify the health-probe component
	PROBE = "probe"
)

var (
	configFileFlag = &cli.StringSliceFlag{
		Name:     config.FlagCfg,
		Aliases:  []string{"c"},
		Usage:    "Configuration file(s)",
		Required: true,
	}
	saveConfigFlag = &cli.StringFlag{
		Name:     config.FlagSaveConfigPath,
		Aliases:  []string{"s"},
		Usage:    "Save final configuration into to the indicated path (directory)",
		Required: false,
	}
	allowDeprecatedFieldsFlag = &cli.BoolFlag{
		Name:     config.FlagAllowDeprecatedFields,
		Usage:    "Allow deprecated fields on the configuration files",
		Required: false,
	}
)

func main() {
	app := cli.NewApp()
	app.Name = appName
	app.Version = callkit.GetVersion().Brief()
	flags := []cli.Flag{configFileFlag, saveConfigFlag, allowDeprecatedFieldsFlag}
	app.Commands = []*cli.Command{
		{
			Name:    "version",
			Aliases: []string{},
			Usage:   "Application version and build",
			Action:  versionCmd,
		},
		{
			Name:    "run",
			Aliases: []string{},
			Usage:   "Run the callkit health probe against the configured gRPC target",
			Action:  start,
			Flags:   flags,
		},
		{
			Name:    "check-config",
			Aliases: []string{},
			Usage:   "Validate the configuration and print the effective per-method call policies",
			Action:  checkConfigCmd,
			Flags:   flags,
		},
	}

	err := app.Run(os.Args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "\nError: %v\n", err)
		os.Exit(1)
	}
}
