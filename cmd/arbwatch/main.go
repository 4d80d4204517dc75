package main

import (
	"fmt"
	"log"
	"os"

	"github.com/urfave/cli/v2"
)

var (
	// Version information (set via ldflags during build)
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	app := &cli.App{
		Name:  "arbwatch",
		Usage: "Arbitrage bot transaction indexer CLI",
		Description: `A command-line tool for inspecting the arbwatch indexer.

Use this CLI to inspect persisted burns, failure taxonomies, program
hotspots, and to tail the live burn event stream.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		Commands: []*cli.Command{
			// Database inspection commands
			{
				Name:  "db",
				Usage: "Database inspection commands",
				Subcommands: []*cli.Command{
					listBurnsCommand(),
					getBurnCommand(),
					topBurnersCommand(),
					failureSummaryCommand(),
					hotspotsCommand(),
				},
			},
			// NATS burn event streaming commands
			{
				Name:  "nats",
				Usage: "NATS burn event streaming commands",
				Subcommands: []*cli.Command{
					tailCommand(),
				},
			},
		},
		// Global flags available to all commands
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "database-url",
				Usage:   "Database connection URL",
				EnvVars: []string{"DATABASE_URL"},
			},
			&cli.BoolFlag{
				Name:  "json",
				Usage: "Output as JSON",
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
