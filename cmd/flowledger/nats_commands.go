package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/brojonat/flowledger/service/config"
	natspkg "github.com/brojonat/flowledger/service/nats"
	"github.com/itchyny/gojq"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/urfave/cli/v2"
)

const defaultNATSURL = "nats://localhost:4222"

func natsURL(c *cli.Context) string {
	if u := c.String("nats-url"); u != "" {
		return u
	}
	return defaultNATSURL
}

func subscribeCommand() *cli.Command {
	return &cli.Command{
		Name:  "subscribe",
		Usage: "Stream transfer events published by the ingester",
		Description: `Consumes the TRANSFERS JetStream stream for one contract and prints each
event as it arrives. Press Ctrl-C to exit.

Examples:
  flowledger nats subscribe
  flowledger nats subscribe --jq '.is_in' --jq '.amount | tonumber > 1000000'
  flowledger --json nats subscribe --durable flow-watcher`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "contract",
				Usage:   "Token contract address",
				EnvVars: []string{"CONTRACT_ADDRESS"},
				Value:   config.DefaultContractAddress,
			},
			&cli.StringFlag{
				Name:  "durable",
				Usage: "Durable consumer name; resumes where it left off",
			},
			&cli.StringSliceFlag{
				Name:  "jq",
				Usage: "jq filter over each event (repeatable, all must be true)",
			},
		},
		Action: func(c *cli.Context) error {
			filters, err := compileJQFilters(c.StringSlice("jq"))
			if err != nil {
				return err
			}
			return runSubscribe(c.Context, natsURL(c), c.String("contract"), c.String("durable"), filters, c.Bool("json"))
		},
	}
}

func runSubscribe(ctx context.Context, url, contract, durable string, filters []*gojq.Code, jsonOutput bool) error {
	nc, err := nats.Connect(url)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}
	defer nc.Close()

	js, err := jetstream.New(nc)
	if err != nil {
		return fmt.Errorf("failed to create JetStream context: %w", err)
	}

	subject := natspkg.Subject(contract)

	consumerConfig := jetstream.ConsumerConfig{
		FilterSubject: subject,
		AckPolicy:     jetstream.AckExplicitPolicy,
	}
	if durable != "" {
		consumerConfig.Durable = durable
		consumerConfig.Name = durable
	}

	cons, err := js.CreateOrUpdateConsumer(ctx, natspkg.StreamName, consumerConfig)
	if err != nil {
		return fmt.Errorf("failed to create consumer: %w", err)
	}

	if !jsonOutput {
		fmt.Printf("Subscribing to: %s\n", subject)
		fmt.Printf("   NATS: %s\n", url)
		if durable != "" {
			fmt.Printf("   Consumer: %s (durable)\n", durable)
		}
		fmt.Printf("\nWaiting for transfers... (Ctrl-C to exit)\n\n")
	}

	ctx, stop := signalContext(ctx)
	defer stop()

	msgChan := make(chan jetstream.Msg, 10)
	consumeCtx, err := cons.Consume(func(msg jetstream.Msg) {
		msgChan <- msg
	})
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}
	defer consumeCtx.Stop()

	count := 0
	for {
		select {
		case msg := <-msgChan:
			var event natspkg.TransferEvent
			if err := json.Unmarshal(msg.Data(), &event); err != nil {
				fmt.Fprintf(os.Stderr, "Error parsing event: %v\n", err)
				msg.Ack()
				continue
			}

			ok, err := matchesJQ(filters, event)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error filtering event: %v\n", err)
			}
			if ok {
				count++
				printEvent(os.Stdout, count, &event, jsonOutput)
			}
			msg.Ack()

		case <-ctx.Done():
			if !jsonOutput {
				fmt.Printf("\nReceived %d transfers\n", count)
			}
			return nil
		}
	}
}

func printEvent(w io.Writer, n int, event *natspkg.TransferEvent, jsonOutput bool) {
	if jsonOutput {
		data, _ := json.Marshal(event)
		fmt.Fprintln(w, string(data))
		return
	}

	fmt.Fprintf(w, "Transfer #%d\n", n)
	fmt.Fprintf(w, "Tx Hash:      %s\n", event.TxHash)
	fmt.Fprintf(w, "Block:        %d\n", event.BlockNumber)
	fmt.Fprintf(w, "From:         %s\n", event.From)
	fmt.Fprintf(w, "To:           %s\n", event.To)
	fmt.Fprintf(w, "Amount:       %s\n", event.Amount)
	fmt.Fprintf(w, "Direction:    %s\n", eventDirection(event))
	fmt.Fprintf(w, "Timestamp:    %s\n", formatTimestamp(event.Timestamp))
	fmt.Fprintln(w)
}

func eventDirection(event *natspkg.TransferEvent) string {
	switch {
	case event.IsIn && event.IsOut:
		return "internal"
	case event.IsIn:
		return "in"
	case event.IsOut:
		return "out"
	default:
		return "unwatched"
	}
}

func inspectStreamCommand() *cli.Command {
	return &cli.Command{
		Name:  "inspect-stream",
		Usage: "Inspect the TRANSFERS JetStream stream",
		Action: func(c *cli.Context) error {
			nc, err := nats.Connect(natsURL(c))
			if err != nil {
				return fmt.Errorf("failed to connect to NATS: %w", err)
			}
			defer nc.Close()

			js, err := jetstream.New(nc)
			if err != nil {
				return fmt.Errorf("failed to create JetStream context: %w", err)
			}

			stream, err := js.Stream(c.Context, natspkg.StreamName)
			if err != nil {
				return fmt.Errorf("failed to get stream: %w", err)
			}

			info, err := stream.Info(c.Context)
			if err != nil {
				return fmt.Errorf("failed to get stream info: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(info)
			}

			fmt.Printf("Stream:       %s\n", info.Config.Name)
			fmt.Printf("Subjects:     %v\n", info.Config.Subjects)
			fmt.Printf("Messages:     %d\n", info.State.Msgs)
			fmt.Printf("Bytes:        %d\n", info.State.Bytes)
			fmt.Printf("First Seq:    %d\n", info.State.FirstSeq)
			fmt.Printf("Last Seq:     %d\n", info.State.LastSeq)
			fmt.Printf("Consumers:    %d\n", info.State.Consumers)
			fmt.Printf("Max Age:      %s\n", info.Config.MaxAge)
			return nil
		},
	}
}
