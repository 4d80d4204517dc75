package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/urfave/cli/v2"

	"github.com/arbwatch/indexer/service/db"
)

var lamportsPerSOL = decimal.NewFromInt(1_000_000_000)

func listBurnsCommand() *cli.Command {
	return &cli.Command{
		Name:    "list-burns",
		Usage:   "List the most recently ingested burns",
		Aliases: []string{"ls"},
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "limit",
				Aliases: []string{"n"},
				Usage:   "Maximum number of burns to show",
				Value:   20,
			},
			&cli.BoolFlag{
				Name:  "failed",
				Usage: "Only show failed transactions",
			},
		},
		Action: func(c *cli.Context) error {
			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			burns, err := store.ListRecentBurns(context.Background(), int32(c.Int("limit")))
			if err != nil {
				return fmt.Errorf("failed to list burns: %w", err)
			}

			if c.Bool("failed") {
				filtered := make([]*db.Burn, 0)
				for _, b := range burns {
					if !b.Success {
						filtered = append(filtered, b)
					}
				}
				burns = filtered
			}

			if c.Bool("json") {
				return outputJSON(burns)
			}

			// Pretty table output
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "SIGNATURE\tSLOT\tSTATUS\tFEE (SOL)\tARB\tBLOCK TIME")
			for _, b := range burns {
				status := "ok"
				if !b.Success {
					status = "failed"
				}
				arb := "-"
				if b.ArbitrageSuccess != nil {
					arb = fmt.Sprintf("%t", *b.ArbitrageSuccess)
				}
				blockTime := "pending"
				if b.BlockTime != nil {
					blockTime = b.BlockTime.Format(time.RFC3339)
				}
				fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\t%s\n",
					truncateSignature(b.Signature),
					b.Slot,
					status,
					lamportsToSOL(b.FeeLamports),
					arb,
					blockTime,
				)
			}
			w.Flush()

			fmt.Fprintf(os.Stderr, "\nTotal: %d burns\n", len(burns))
			return nil
		},
	}
}

func getBurnCommand() *cli.Command {
	return &cli.Command{
		Name:      "get-burn",
		Usage:     "Get burn details by signature",
		Aliases:   []string{"get"},
		ArgsUsage: "<signature>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: transaction signature")
			}

			signature := c.Args().First()
			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			ctx := context.Background()
			burn, err := store.GetBurn(ctx, signature)
			if err != nil {
				return fmt.Errorf("failed to get burn: %w", err)
			}
			hotspots, err := store.ListHotspots(ctx, signature)
			if err != nil {
				return fmt.Errorf("failed to get hotspots: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(map[string]interface{}{
					"burn":     burn,
					"hotspots": hotspots,
				})
			}

			// Pretty output
			fmt.Printf("Signature:     %s\n", burn.Signature)
			fmt.Printf("Slot:          %d\n", burn.Slot)
			fmt.Printf("Success:       %t\n", burn.Success)
			fmt.Printf("Fee:           %s SOL (%d lamports)\n", lamportsToSOL(burn.FeeLamports), burn.FeeLamports)
			fmt.Printf("Fee Payer:     %s\n", burn.FeePayer)
			if burn.ComputeUnits != nil {
				fmt.Printf("Compute Units: %d\n", *burn.ComputeUnits)
			} else {
				fmt.Printf("Compute Units: unknown\n")
			}
			if burn.ArbitrageSuccess != nil {
				fmt.Printf("Arbitrage:     %t\n", *burn.ArbitrageSuccess)
			} else {
				fmt.Printf("Arbitrage:     n/a\n")
			}
			if burn.BlockTime != nil {
				fmt.Printf("Block Time:    %s\n", burn.BlockTime.Format(time.RFC3339))
			} else {
				fmt.Printf("Block Time:    pending\n")
			}
			fmt.Printf("Ingested:      %s\n", burn.IngestTS.Format(time.RFC3339))

			if !burn.Success {
				failure, err := store.GetFailure(ctx, signature)
				if err == nil {
					fmt.Printf("Error Type:    %s\n", failure.ErrorType)
				}
			}

			if len(hotspots) > 0 {
				fmt.Printf("\nPrograms:\n")
				for _, h := range hotspots {
					fmt.Printf("  %s  x%d\n", h.ProgramID, h.NumInstructions)
				}
			}
			return nil
		},
	}
}

func topBurnersCommand() *cli.Command {
	return &cli.Command{
		Name:  "top-burners",
		Usage: "Show fee payers ranked by total burned fees",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "limit",
				Aliases: []string{"n"},
				Usage:   "Maximum number of fee payers to show",
				Value:   10,
			},
		},
		Action: func(c *cli.Context) error {
			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			totals, err := store.TopFeePayers(context.Background(), int32(c.Int("limit")))
			if err != nil {
				return fmt.Errorf("failed to aggregate fee payers: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(totals)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "FEE PAYER\tBURNED (SOL)\tTRANSACTIONS")
			for _, t := range totals {
				fmt.Fprintf(w, "%s\t%s\t%d\n",
					t.FeePayer,
					lamportsToSOL(t.TotalLamports),
					t.TxCount,
				)
			}
			w.Flush()
			return nil
		},
	}
}

func failureSummaryCommand() *cli.Command {
	return &cli.Command{
		Name:    "failures",
		Usage:   "Summarize failed transactions by error type",
		Aliases: []string{"fs"},
		Action: func(c *cli.Context) error {
			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			counts, err := store.FailureSummary(context.Background())
			if err != nil {
				return fmt.Errorf("failed to summarize failures: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(counts)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ERROR TYPE\tCOUNT")
			for _, fc := range counts {
				fmt.Fprintf(w, "%s\t%d\n", fc.ErrorType, fc.Count)
			}
			w.Flush()
			return nil
		},
	}
}

func hotspotsCommand() *cli.Command {
	return &cli.Command{
		Name:  "hotspots",
		Usage: "Show external programs ranked by invocation count",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "limit",
				Aliases: []string{"n"},
				Usage:   "Maximum number of programs to show",
				Value:   15,
			},
		},
		Action: func(c *cli.Context) error {
			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			totals, err := store.ProgramHotspots(context.Background(), int32(c.Int("limit")))
			if err != nil {
				return fmt.Errorf("failed to aggregate hotspots: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(totals)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "PROGRAM\tINVOCATIONS\tTRANSACTIONS")
			for _, t := range totals {
				fmt.Fprintf(w, "%s\t%d\t%d\n", t.ProgramID, t.Invocations, t.Transactions)
			}
			w.Flush()
			return nil
		},
	}
}

// getStore creates a database store from CLI flags.
func getStore(c *cli.Context) (*db.Store, func(), error) {
	dbURL := c.String("database-url")
	if dbURL == "" {
		dbURL = os.Getenv("DATABASE_URL")
	}
	if dbURL == "" {
		return nil, nil, fmt.Errorf("database-url is required (set DATABASE_URL env var or use --database-url)")
	}

	pool, err := pgxpool.New(context.Background(), dbURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := db.NewStore(pool)
	closer := func() { pool.Close() }

	return store, closer, nil
}

// outputJSON prints indented JSON to stdout.
func outputJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// lamportsToSOL formats a lamport amount as SOL.
func lamportsToSOL(lamports int64) string {
	return decimal.NewFromInt(lamports).DivRound(lamportsPerSOL, 9).String()
}

// truncateSignature shortens a signature for table output.
func truncateSignature(sig string) string {
	if len(sig) <= 16 {
		return sig
	}
	return sig[:8] + "…" + sig[len(sig)-8:]
}
