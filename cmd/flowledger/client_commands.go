package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/brojonat/flowledger/client"
	"github.com/urfave/cli/v2"
)

func clientCommands() *cli.Command {
	return &cli.Command{
		Name:  "client",
		Usage: "HTTP client commands for the flowledger query API",
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "Request timeout",
				Value: 30 * time.Second,
			},
		},
		Subcommands: []*cli.Command{
			clientNetFlowCommand(),
			clientTransfersCommand(),
			clientTransferCommand(),
		},
	}
}

func newAPIClient(c *cli.Context) *client.Client {
	logger := setupLogger(c.String("log-level"))
	return client.NewClient(c.String("server-url"), nil, logger)
}

func clientNetFlowCommand() *cli.Command {
	return &cli.Command{
		Name:  "netflow",
		Usage: "Show the current net flow",
		Action: func(c *cli.Context) error {
			ctx, cancel := withTimeout(c)
			defer cancel()

			nf, err := newAPIClient(c).GetNetFlow(ctx)
			if err != nil {
				return fmt.Errorf("failed to get net flow: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(nf)
			}
			printNetFlow(os.Stdout, nf)
			return nil
		},
	}
}

func clientTransfersCommand() *cli.Command {
	return &cli.Command{
		Name:  "transfers",
		Usage: "List ingested transfers, newest first",
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
			},
			&cli.IntFlag{
				Name:  "offset",
				Usage: "Number of transfers to skip",
			},
		},
		Action: func(c *cli.Context) error {
			ctx, cancel := withTimeout(c)
			defer cancel()

			list, err := newAPIClient(c).ListTransfers(ctx, client.ListTransfersParams{
				Address: c.String("address"),
				Limit:   c.Int("limit"),
				Offset:  c.Int("offset"),
			})
			if err != nil {
				return fmt.Errorf("failed to list transfers: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(list)
			}

			printTransferList(os.Stdout, list)
			fmt.Fprintf(os.Stderr, "\nShowing %d of %d transfers\n", list.Count, list.Total)
			return nil
		},
	}
}

func clientTransferCommand() *cli.Command {
	return &cli.Command{
		Name:      "transfer",
		Usage:     "Show one ingested transfer",
		ArgsUsage: "TX_HASH",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("expected exactly one argument: TX_HASH")
			}

			ctx, cancel := withTimeout(c)
			defer cancel()

			t, err := newAPIClient(c).GetTransfer(ctx, c.Args().First())
			if err != nil {
				return fmt.Errorf("failed to get transfer: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(t)
			}
			printTransferList(os.Stdout, &client.TransferList{Transfers: []client.Transfer{*t}})
			return nil
		},
	}
}

func printNetFlow(w io.Writer, nf *client.NetFlow) {
	fmt.Fprintf(w, "Cumulative In: %s\n", nf.CumulativeIn)
	fmt.Fprintf(w, "Cumulative Out: %s\n", nf.CumulativeOut)
	fmt.Fprintf(w, "Net Flow: %s\n", nf.NetFlow)
	fmt.Fprintf(w, "Last Updated Timestamp: %d\n", nf.LastUpdated)
}

func printTransferList(out io.Writer, list *client.TransferList) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TX HASH\tBLOCK\tFROM\tTO\tVALUE\tTIME")
	for _, t := range list.Transfers {
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
