package chain

import (
	"context"
	"log/slog"
	"time"

	"github.com/brojonat/flowledger/service/metrics"
	"github.com/ethereum/go-ethereum/core/types"
)

// LogSource is the underlying log query wrapped by LogFetcher.
type LogSource interface {
	GetLogs(ctx context.Context, from, to uint64) ([]types.Log, error)
}

// SleepFunc waits for d or until ctx is done, whichever comes first.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Sleep is the default SleepFunc.
func Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// RetryPolicy bounds log fetch retries.
type RetryPolicy struct {
	MaxAttempts int
	Interval    time.Duration
}

// DefaultRetryPolicy is five attempts, five seconds apart.
var DefaultRetryPolicy = RetryPolicy{MaxAttempts: 5, Interval: 5 * time.Second}

// LogFetcher retries failed log queries and gives up on a block range once
// the attempt budget is spent. Giving up yields an empty result, never an
// error, so a chronically failing endpoint cannot stall ingestion.
type LogFetcher struct {
	source  LogSource
	policy  RetryPolicy
	sleep   SleepFunc
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewLogFetcher wraps source with the given retry policy. A zero policy
// falls back to DefaultRetryPolicy.
func NewLogFetcher(source LogSource, policy RetryPolicy, m *metrics.Metrics, logger *slog.Logger) *LogFetcher {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = DefaultRetryPolicy.MaxAttempts
	}
	if policy.Interval <= 0 {
		policy.Interval = DefaultRetryPolicy.Interval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &LogFetcher{
		source:  source,
		policy:  policy,
		sleep:   Sleep,
		metrics: m,
		logger:  logger,
	}
}

// WithSleep replaces the wait between attempts. Tests use it to avoid real delays.
func (f *LogFetcher) WithSleep(sleep SleepFunc) *LogFetcher {
	f.sleep = sleep
	return f
}

// FetchLogs returns the logs for [from, to]. The second return value is false
// when the range was abandoned after MaxAttempts failures or the context was
// cancelled; the log slice is empty in that case.
func (f *LogFetcher) FetchLogs(ctx context.Context, from, to uint64) ([]types.Log, bool) {
	for attempt := 1; ; attempt++ {
		logs, err := f.source.GetLogs(ctx, from, to)
		if err == nil {
			return logs, true
		}

		if ctx.Err() != nil {
			return nil, false
		}

		f.logger.WarnContext(ctx, "failed to fetch logs",
			"from_block", from,
			"to_block", to,
			"attempt", attempt,
			"max_attempts", f.policy.MaxAttempts,
			"error", err,
		)

		if attempt >= f.policy.MaxAttempts {
			f.logger.ErrorContext(ctx, "max retries reached, skipping block range",
				"from_block", from,
				"to_block", to,
			)
			f.metrics.RecordBlockSkipped()
			return nil, false
		}

		f.metrics.RecordRPCRetry("eth_getLogs", "transport_error")
		if err := f.sleep(ctx, f.policy.Interval); err != nil {
			return nil, false
		}
	}
}
