package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/brojonat/flowledger/service/config"
	"github.com/brojonat/flowledger/service/db"
	"github.com/brojonat/flowledger/service/metrics"
	"github.com/urfave/cli/v2"
)

// loadConfig reads the environment and applies the global flag overrides.
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	if v := c.String("database-url"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := c.String("rpc-url"); v != "" {
		cfg.RPCURL = v
	}
	if v := c.String("nats-url"); v != "" {
		cfg.NATSURL = v
	}
	if v := c.String("log-level"); v != "" {
		cfg.LogLevel = v
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// openStore connects to the database and applies the schema file. A missing
// schema file is fatal.
func openStore(ctx context.Context, cfg *config.Config, m *metrics.Metrics) (*db.Store, func(), error) {
	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}

	if err := db.InitSchema(ctx, pool, cfg.SchemaPath); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	return db.NewStore(pool, m), pool.Close, nil
}

// outputJSON writes data as indented JSON to stdout.
func outputJSON(data interface{}) error {
	return writeJSON(os.Stdout, data)
}

func writeJSON(w io.Writer, data interface{}) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
