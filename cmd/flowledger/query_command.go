package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/brojonat/flowledger/service/db"
	"github.com/urfave/cli/v2"
)

func queryCommand() *cli.Command {
	return &cli.Command{
		Name:  "query",
		Usage: "Print the current net flow and exit",
		Description: `Reads the net flow aggregate from the database and prints it.

Example:
  flowledger query
  flowledger --json query`,
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}

			store, closeStore, err := openStore(c.Context, cfg, nil)
			if err != nil {
				return err
			}
			defer closeStore()

			return runQuery(c.Context, store, os.Stdout, c.Bool("json"))
		},
	}
}

type aggregateReader interface {
	ReadAggregate(ctx context.Context) (db.NetFlowAggregate, error)
}

// runQuery reads the singleton once and prints it.
func runQuery(ctx context.Context, store aggregateReader, w io.Writer, jsonOutput bool) error {
	agg, err := store.ReadAggregate(ctx)
	if err != nil {
		return fmt.Errorf("failed to read net flow: %w", err)
	}

	if jsonOutput {
		return writeJSON(w, agg)
	}

	fmt.Fprintf(w, "Cumulative In: %s\n", agg.CumulativeIn)
	fmt.Fprintf(w, "Cumulative Out: %s\n", agg.CumulativeOut)
	fmt.Fprintf(w, "Net Flow: %s\n", agg.NetFlow)
	fmt.Fprintf(w, "Last Updated Timestamp: %d\n", agg.LastUpdated)
	return nil
}
