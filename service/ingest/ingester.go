// Package ingest drives the block cursor: it polls chain height, scans every
// new block for token Transfer logs, persists each transfer once, and folds
// transfers touching the watch list into the net flow aggregate.
package ingest

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/brojonat/flowledger/service/chain"
	"github.com/brojonat/flowledger/service/db"
	"github.com/brojonat/flowledger/service/metrics"
	natspkg "github.com/brojonat/flowledger/service/nats"
	"github.com/brojonat/flowledger/service/watchlist"
	"github.com/ethereum/go-ethereum/core/types"
)

// HeightSource reports the latest block number.
type HeightSource interface {
	CurrentHeight(ctx context.Context) (uint64, error)
}

// LogFetcher returns the Transfer logs of a block range. ok is false when the
// range was abandoned; the caller moves on.
type LogFetcher interface {
	FetchLogs(ctx context.Context, from, to uint64) (logs []types.Log, ok bool)
}

// TimestampSource resolves a block number to its timestamp.
type TimestampSource interface {
	BlockTimestamp(ctx context.Context, block uint64) (uint64, error)
}

// Ledger is the subset of db.Ledger the ingester writes through. IngestTransfer
// must store the raw transfer and its aggregate update atomically.
type Ledger interface {
	IngestTransfer(ctx context.Context, t db.RawTransfer, isIn, isOut bool) (bool, db.NetFlowAggregate, error)
}

// Config controls polling behavior.
type Config struct {
	// Contract is the token contract, used as the publish subject suffix.
	Contract            string
	PollInterval        time.Duration
	HeightRetryInterval time.Duration
	// RunID tags log lines and published events from this process.
	RunID string
}

// Ingester is the single sequential ingestion loop. It is not safe to run
// more than one Ingester against the same ledger.
type Ingester struct {
	cfg        Config
	heights    HeightSource
	logs       LogFetcher
	timestamps TimestampSource
	ledger     Ledger
	watch      *watchlist.WatchList
	publisher  natspkg.Publisher
	sleep      chain.SleepFunc
	metrics    *metrics.Metrics
	logger     *slog.Logger

	state atomic.Int32
}

// New creates an Ingester. Zero intervals default to five seconds.
func New(
	cfg Config,
	heights HeightSource,
	logs LogFetcher,
	timestamps TimestampSource,
	ledger Ledger,
	watch *watchlist.WatchList,
	logger *slog.Logger,
) *Ingester {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.HeightRetryInterval <= 0 {
		cfg.HeightRetryInterval = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.RunID != "" {
		logger = logger.With("run_id", cfg.RunID)
	}
	return &Ingester{
		cfg:        cfg,
		heights:    heights,
		logs:       logs,
		timestamps: timestamps,
		ledger:     ledger,
		watch:      watch,
		sleep:      chain.Sleep,
		logger:     logger,
	}
}

// WithPublisher enables publishing of newly ingested transfers.
func (in *Ingester) WithPublisher(p natspkg.Publisher) *Ingester {
	in.publisher = p
	return in
}

// WithMetrics enables Prometheus metrics.
func (in *Ingester) WithMetrics(m *metrics.Metrics) *Ingester {
	in.metrics = m
	return in
}

// WithSleep replaces the wait used between rounds and height retries.
func (in *Ingester) WithSleep(sleep chain.SleepFunc) *Ingester {
	in.sleep = sleep
	return in
}

// State returns the loop's current state.
func (in *Ingester) State() State {
	return State(in.state.Load())
}

func (in *Ingester) setState(s State) {
	in.state.Store(int32(s))
}

// Run starts at the current chain height and polls until ctx is cancelled.
// Only the initial height query can fail; cancellation returns nil.
func (in *Ingester) Run(ctx context.Context) error {
	cursor, err := in.Start(ctx)
	if err != nil {
		return err
	}

	for {
		cursor, err = in.Round(ctx, cursor)
		if err != nil {
			break
		}

		in.setState(StateSleeping)
		if err := in.sleep(ctx, in.cfg.PollInterval); err != nil {
			break
		}
	}

	in.setState(StateIdle)
	in.logger.InfoContext(ctx, "ingestion stopped", "cursor", cursor)
	return nil
}

// Start queries the chain height once and returns it as the initial cursor.
func (in *Ingester) Start(ctx context.Context) (uint64, error) {
	in.setState(StateIdle)

	height, err := in.heights.CurrentHeight(ctx)
	if err != nil {
		in.logger.ErrorContext(ctx, "failed to get initial block height", "error", err)
		return 0, err
	}

	in.metrics.SetChainHeight(height)
	in.metrics.SetCursor(height)
	in.logger.InfoContext(ctx, "ingestion starting",
		"start_block", height,
		"watched_addresses", in.watch.Len(),
	)
	return height, nil
}

// Round performs one FetchingHeight and ScanningRange pass. It returns the
// next cursor: toBlock+1 after a scan, or cursor unchanged when the chain has
// not advanced. The only error is ctx cancellation, in which case the
// returned cursor is the first block not fully processed.
func (in *Ingester) Round(ctx context.Context, cursor uint64) (uint64, error) {
	start := time.Now()
	defer func() {
		in.metrics.RecordRoundDuration(time.Since(start).Seconds())
	}()

	in.setState(StateFetchingHeight)
	toBlock, err := in.awaitHeight(ctx)
	if err != nil {
		return cursor, err
	}

	if toBlock < cursor {
		in.logger.DebugContext(ctx, "no new blocks", "cursor", cursor, "height", toBlock)
		return cursor, nil
	}

	in.setState(StateScanningRange)
	in.logger.DebugContext(ctx, "scanning block range", "from_block", cursor, "to_block", toBlock)

	for block := cursor; block <= toBlock; block++ {
		in.ingestBlock(ctx, block)
		if err := ctx.Err(); err != nil {
			return block, err
		}
		in.metrics.SetCursor(block + 1)
	}

	return toBlock + 1, nil
}

// awaitHeight re-queries the chain height until it succeeds or ctx ends.
func (in *Ingester) awaitHeight(ctx context.Context) (uint64, error) {
	for {
		height, err := in.heights.CurrentHeight(ctx)
		if err == nil {
			in.metrics.SetChainHeight(height)
			return height, nil
		}
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}

		in.logger.WarnContext(ctx, "failed to get block height, retrying",
			"error", err,
			"retry_in", in.cfg.HeightRetryInterval,
		)
		in.metrics.RecordRPCRetry("eth_blockNumber", "transport_error")

		if err := in.sleep(ctx, in.cfg.HeightRetryInterval); err != nil {
			return 0, err
		}
	}
}

// blockTime caches the timestamp of the block being scanned.
type blockTime struct {
	block uint64
	ts    uint64
	ok    bool
}

func (in *Ingester) ingestBlock(ctx context.Context, block uint64) {
	logs, ok := in.logs.FetchLogs(ctx, block, block)
	if !ok {
		return
	}
	in.metrics.RecordBlockScanned(len(logs))

	var cache blockTime
	for _, log := range logs {
		if ctx.Err() != nil {
			return
		}
		in.ingestLog(ctx, log, &cache)
	}
}

func (in *Ingester) ingestLog(ctx context.Context, log types.Log, cache *blockTime) {
	if log.Removed {
		in.metrics.RecordLogSkipped("removed")
		return
	}

	transfer, err := chain.DecodeTransfer(log)
	if err != nil {
		in.logger.WarnContext(ctx, "skipping malformed log",
			"block_number", log.BlockNumber,
			"log_index", log.Index,
			"error", err,
		)
		in.metrics.RecordLogSkipped(skipReason(err))
		return
	}

	if !cache.ok || cache.block != transfer.BlockNumber {
		ts, err := in.timestamps.BlockTimestamp(ctx, transfer.BlockNumber)
		if err != nil {
			in.logger.WarnContext(ctx, "skipping log without block timestamp",
				"block_number", transfer.BlockNumber,
				"tx_hash", transfer.TxHash,
				"error", err,
			)
			in.metrics.RecordLogSkipped("timestamp_error")
			return
		}
		*cache = blockTime{block: transfer.BlockNumber, ts: ts, ok: true}
	}

	raw := db.RawTransfer{
		TxHash:      transfer.TxHash,
		BlockNumber: transfer.BlockNumber,
		FromAddress: transfer.From,
		ToAddress:   transfer.To,
		Value:       transfer.Amount,
		Timestamp:   cache.ts,
	}

	isIn, isOut := in.watch.Classify(raw.FromAddress, raw.ToAddress)

	inserted, agg, err := in.ledger.IngestTransfer(ctx, raw, isIn, isOut)
	if err != nil {
		// Nothing was written; a later scan of this block can retry.
		in.logger.ErrorContext(ctx, "failed to store transfer",
			"tx_hash", raw.TxHash,
			"block_number", raw.BlockNumber,
			"is_in", isIn,
			"is_out", isOut,
			"error", err,
		)
		in.metrics.RecordTransferSkipped("db_error")
		if isIn || isOut {
			in.metrics.RecordAggregateFailure()
		}
		return
	}
	if !inserted {
		in.logger.DebugContext(ctx, "transfer already ingested", "tx_hash", raw.TxHash)
		in.metrics.RecordTransferSkipped("already_exists")
		return
	}
	in.metrics.RecordTransferWritten()

	if isIn || isOut {
		in.metrics.RecordAggregateUpdate(direction(isIn, isOut))
		in.logger.InfoContext(ctx, "net flow updated",
			"tx_hash", raw.TxHash,
			"block_number", raw.BlockNumber,
			"amount", raw.Value.String(),
			"is_in", isIn,
			"is_out", isOut,
			"cumulative_in", agg.CumulativeIn.String(),
			"cumulative_out", agg.CumulativeOut.String(),
			"net_flow", agg.NetFlow.String(),
		)
	}

	if in.publisher != nil {
		event := natspkg.FromRawTransfer(raw, isIn, isOut, in.cfg.RunID)
		if err := in.publisher.PublishTransfer(ctx, in.cfg.Contract, event); err != nil {
			in.logger.WarnContext(ctx, "failed to publish transfer event",
				"tx_hash", raw.TxHash,
				"error", err,
			)
		}
	}
}

func skipReason(err error) string {
	switch {
	case errors.Is(err, chain.ErrMissingTxHash):
		return "missing_tx_hash"
	case errors.Is(err, chain.ErrMissingBlock):
		return "missing_block"
	default:
		return "decode_error"
	}
}

func direction(isIn, isOut bool) string {
	switch {
	case isIn && isOut:
		return "both"
	case isIn:
		return "in"
	default:
		return "out"
	}
}
