package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/brojonat/flowledger/service/chain"
	"github.com/brojonat/flowledger/service/ingest"
	"github.com/brojonat/flowledger/service/metrics"
	natspkg "github.com/brojonat/flowledger/service/nats"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"
)

func startCommand() *cli.Command {
	return &cli.Command{
		Name:  "start",
		Usage: "Continuously ingest Transfer events",
		Description: `Starts at the current chain height and scans every new block for Transfer
events of the configured contract. Runs until interrupted.

Configuration comes from the environment (DATABASE_URL, RPC_URL,
CONTRACT_ADDRESS, WATCH_LIST, POLL_INTERVAL, ...). The global flags override it.

Example:
  flowledger --rpc-url https://polygon-rpc.com/ start`,
		Action: runStart,
	}
}

func runStart(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	runID := uuid.NewString()
	logger := setupLogger(cfg.LogLevel)
	logger.Info("starting ingester",
		"run_id", runID,
		"contract", cfg.ContractAddress,
		"rpc_url", cfg.RPCURL,
		"watched_addresses", len(cfg.WatchList),
	)

	ctx, stop := signalContext(c.Context)
	defer stop()

	watch, err := cfg.Watched()
	if err != nil {
		return err
	}

	metricsCollector := metrics.NewMetrics(nil)

	store, closeStore, err := openStore(ctx, cfg, metricsCollector)
	if err != nil {
		return err
	}
	defer closeStore()
	logger.Info("connected to database")

	rpc, err := chain.NewRPCClient(ctx, cfg.RPCURL)
	if err != nil {
		return err
	}
	chainClient := chain.NewClient(rpc, cfg.Contract(), metricsCollector, logger)
	defer chainClient.Close()

	fetcher := chain.NewLogFetcher(chainClient, cfg.RetryPolicy(), metricsCollector, logger)

	metricsServer := &http.Server{
		Addr:    cfg.MetricsAddr,
		Handler: promhttp.Handler(),
	}
	go func() {
		logger.Info("starting metrics HTTP server", "addr", cfg.MetricsAddr)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server error", "error", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown metrics server", "error", err)
		}
	}()

	ingester := ingest.New(ingest.Config{
		Contract:            chainClient.Contract().Hex(),
		PollInterval:        cfg.PollInterval,
		HeightRetryInterval: cfg.HeightRetryInterval,
		RunID:               runID,
	}, chainClient, fetcher, chainClient, store, watch, logger).WithMetrics(metricsCollector)

	if cfg.NATSURL != "" {
		publisher, err := natspkg.NewPublisher(cfg.NATSURL, metricsCollector, logger)
		if err != nil {
			return fmt.Errorf("failed to connect to NATS: %w", err)
		}
		defer publisher.Close()
		ingester.WithPublisher(publisher)
	}

	if err := ingester.Run(ctx); err != nil {
		return fmt.Errorf("ingestion failed to start: %w", err)
	}

	logger.Info("shutdown complete")
	return nil
}
