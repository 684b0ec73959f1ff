package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/brojonat/flowledger/service/db"
	"github.com/itchyny/gojq"
	"github.com/urfave/cli/v2"
)

func listTransfersCommand() *cli.Command {
	return &cli.Command{
		Name:    "list-transfers",
		Usage:   "List stored transfers, newest first",
		Aliases: []string{"ls"},
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "address",
				Aliases: []string{"a"},
				Usage:   "Only transfers sent or received by this address",
			},
			&cli.IntFlag{
				Name:    "limit",
				Aliases: []string{"l"},
				Usage:   "Maximum number of transfers to return",
				Value:   50,
			},
			&cli.IntFlag{
				Name:  "offset",
				Usage: "Number of transfers to skip",
			},
			&cli.StringSliceFlag{
				Name:  "jq",
				Usage: "jq filter over each transfer, e.g. '.value | tonumber > 1000' (repeatable, all must be true)",
			},
		},
		Action: func(c *cli.Context) error {
			filters, err := compileJQFilters(c.StringSlice("jq"))
			if err != nil {
				return err
			}

			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			transfers, err := listTransfers(c.Context, store, db.ListRawTransfersParams{
				Address: c.String("address"),
				Limit:   int32(c.Int("limit")),
				Offset:  int32(c.Int("offset")),
			}, filters)
			if err != nil {
				return err
			}

			if c.Bool("json") {
				return outputJSON(transfers)
			}

			printTransfers(os.Stdout, transfers)
			fmt.Fprintf(os.Stderr, "\nTotal: %d transfers\n", len(transfers))
			return nil
		},
	}
}

func getTransferCommand() *cli.Command {
	return &cli.Command{
		Name:      "get-transfer",
		Usage:     "Show one stored transfer",
		ArgsUsage: "TX_HASH",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("expected exactly one argument: TX_HASH")
			}

			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			transfer, err := store.GetRawTransfer(c.Context, c.Args().First())
			if err != nil {
				return fmt.Errorf("failed to get transfer: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(transfer)
			}

			fmt.Printf("Tx Hash:      %s\n", transfer.TxHash)
			fmt.Printf("Block:        %d\n", transfer.BlockNumber)
			fmt.Printf("From:         %s\n", transfer.FromAddress)
			fmt.Printf("To:           %s\n", transfer.ToAddress)
			fmt.Printf("Value:        %s\n", transfer.Value)
			fmt.Printf("Timestamp:    %s\n", formatTimestamp(transfer.Timestamp))
			return nil
		},
	}
}

type transferLister interface {
	ListRawTransfers(ctx context.Context, params db.ListRawTransfersParams) ([]db.RawTransfer, error)
}

// listTransfers fetches a page of transfers and keeps those passing every
// jq filter. The filters apply after pagination.
func listTransfers(ctx context.Context, store transferLister, params db.ListRawTransfersParams, filters []*gojq.Code) ([]db.RawTransfer, error) {
	transfers, err := store.ListRawTransfers(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("failed to list transfers: %w", err)
	}

	result := make([]db.RawTransfer, 0, len(transfers))
	for _, t := range transfers {
		ok, err := matchesJQ(filters, t)
		if err != nil {
			return nil, err
		}
		if ok {
			result = append(result, t)
		}
	}
	return result, nil
}

func printTransfers(out io.Writer, transfers []db.RawTransfer) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TX HASH\tBLOCK\tFROM\tTO\tVALUE\tTIME")
	for _, t := range transfers {
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\t%s\n",
			t.TxHash,
			t.BlockNumber,
			t.FromAddress,
			t.ToAddress,
			t.Value,
			formatTimestamp(t.Timestamp),
		)
	}
	w.Flush()
}

func formatTimestamp(ts uint64) string {
	return time.Unix(int64(ts), 0).UTC().Format(time.RFC3339)
}

// getStore opens the database without applying the schema.
func getStore(c *cli.Context) (*db.Store, func(), error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, nil, err
	}

	pool, err := db.Connect(c.Context, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}

	return db.NewStore(pool, nil), pool.Close, nil
}
