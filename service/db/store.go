package db

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/brojonat/flowledger/service/amount"
	"github.com/brojonat/flowledger/service/metrics"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store provides database operations for the ledger.
type Store struct {
	pool    *pgxpool.Pool
	metrics *metrics.Metrics
}

// NewStore creates a new Store with the given database connection pool.
// If m is nil, no metrics will be recorded.
func NewStore(pool *pgxpool.Pool, m *metrics.Metrics) *Store {
	return &Store{
		pool:    pool,
		metrics: m,
	}
}

// Connect opens a pgx pool and verifies it with a ping.
func Connect(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create database pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return pool, nil
}

// InitSchema applies the schema file at path and seeds the net flow singleton
// with zeros if it does not exist yet. Both steps are idempotent.
func InitSchema(ctx context.Context, pool *pgxpool.Pool, path string) error {
	ddl, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrSchemaMissing, path)
		}
		return fmt.Errorf("failed to read schema %s: %w", path, err)
	}

	// Exec without arguments uses the simple protocol, which accepts
	// multiple statements in one call.
	if _, err := pool.Exec(ctx, string(ddl)); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}

	_, err = pool.Exec(ctx, `
		INSERT INTO net_flows (id, cumulative_in, cumulative_out, net_flow, last_updated)
		VALUES ($1, '0', '0', '0', 0)
		ON CONFLICT (id) DO NOTHING`, aggregateID)
	if err != nil {
		return fmt.Errorf("failed to seed net flow aggregate: %w", err)
	}
	return nil
}

// InsertRawTransferIfAbsent stores t unless a row with the same transaction
// hash exists. It reports whether a row was written; duplicates are not errors.
func (s *Store) InsertRawTransferIfAbsent(ctx context.Context, t RawTransfer) (bool, error) {
	start := time.Now()
	inserted, err := insertRawTransfer(ctx, s.pool, t)
	s.metrics.RecordDBQuery("insert", "raw_transfers", time.Since(start).Seconds(), err)
	return inserted, err
}

// IngestTransfer inserts t and, when it is new and classified, applies it to
// the aggregate, all in one transaction. Either both writes commit or neither
// does, so a failed attempt leaves nothing behind and a rescan can retry it.
// The returned aggregate is only meaningful when the transfer was applied.
func (s *Store) IngestTransfer(ctx context.Context, t RawTransfer, isIn, isOut bool) (bool, NetFlowAggregate, error) {
	start := time.Now()
	inserted, agg, err := s.ingestTransfer(ctx, t, isIn, isOut)
	s.metrics.RecordDBQuery("ingest", "raw_transfers", time.Since(start).Seconds(), err)
	return inserted, agg, err
}

func (s *Store) ingestTransfer(ctx context.Context, t RawTransfer, isIn, isOut bool) (bool, NetFlowAggregate, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, NetFlowAggregate{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	inserted, err := insertRawTransfer(ctx, tx, t)
	if err != nil || !inserted {
		return false, NetFlowAggregate{}, err
	}

	var agg NetFlowAggregate
	if isIn || isOut {
		agg, err = applyToAggregate(ctx, tx, t.Value, t.Timestamp, isIn, isOut)
		if err != nil {
			return false, NetFlowAggregate{}, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return false, NetFlowAggregate{}, fmt.Errorf("failed to commit transfer %s: %w", t.TxHash, err)
	}
	return true, agg, nil
}

// execer is satisfied by both *pgxpool.Pool and pgx.Tx.
type execer interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

func insertRawTransfer(ctx context.Context, q execer, t RawTransfer) (bool, error) {
	tag, err := q.Exec(ctx, `
		INSERT INTO raw_transfers (tx_hash, block_number, from_address, to_address, value, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (tx_hash) DO NOTHING`,
		t.TxHash,
		int64(t.BlockNumber),
		t.FromAddress,
		t.ToAddress,
		t.Value.String(),
		int64(t.Timestamp),
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert transfer %s: %w", t.TxHash, err)
	}
	return tag.RowsAffected() == 1, nil
}

// ReadAggregate returns the current net flow singleton.
func (s *Store) ReadAggregate(ctx context.Context) (NetFlowAggregate, error) {
	start := time.Now()
	agg, err := scanAggregate(s.pool.QueryRow(ctx, `
		SELECT cumulative_in, cumulative_out, net_flow, last_updated
		FROM net_flows WHERE id = $1`, aggregateID))
	s.metrics.RecordDBQuery("select", "net_flows", time.Since(start).Seconds(), err)
	return agg, err
}

// ApplyTransferToAggregate adds value to the flagged side(s) of the aggregate
// inside a single transaction. The singleton row is locked for the duration
// so concurrent writers cannot lose updates.
func (s *Store) ApplyTransferToAggregate(ctx context.Context, value amount.Amount, timestamp uint64, isIn, isOut bool) (NetFlowAggregate, error) {
	start := time.Now()
	agg, err := s.applyTransfer(ctx, value, timestamp, isIn, isOut)
	s.metrics.RecordDBQuery("update", "net_flows", time.Since(start).Seconds(), err)
	return agg, err
}

func (s *Store) applyTransfer(ctx context.Context, value amount.Amount, timestamp uint64, isIn, isOut bool) (NetFlowAggregate, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return NetFlowAggregate{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	next, err := applyToAggregate(ctx, tx, value, timestamp, isIn, isOut)
	if err != nil {
		return NetFlowAggregate{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return NetFlowAggregate{}, fmt.Errorf("failed to commit aggregate update: %w", err)
	}
	return next, nil
}

// applyToAggregate locks the singleton row within tx and writes the result
// of Apply back.
func applyToAggregate(ctx context.Context, tx pgx.Tx, value amount.Amount, timestamp uint64, isIn, isOut bool) (NetFlowAggregate, error) {
	current, err := scanAggregate(tx.QueryRow(ctx, `
		SELECT cumulative_in, cumulative_out, net_flow, last_updated
		FROM net_flows WHERE id = $1 FOR UPDATE`, aggregateID))
	if err != nil {
		return NetFlowAggregate{}, err
	}

	next := current.Apply(value, timestamp, isIn, isOut)

	_, err = tx.Exec(ctx, `
		UPDATE net_flows
		SET cumulative_in = $1, cumulative_out = $2, net_flow = $3, last_updated = $4
		WHERE id = $5`,
		next.CumulativeIn.String(),
		next.CumulativeOut.String(),
		next.NetFlow.String(),
		int64(next.LastUpdated),
		aggregateID,
	)
	if err != nil {
		return NetFlowAggregate{}, fmt.Errorf("failed to update net flow aggregate: %w", err)
	}
	return next, nil
}

// GetRawTransfer retrieves a stored transfer by transaction hash.
func (s *Store) GetRawTransfer(ctx context.Context, txHash string) (RawTransfer, error) {
	start := time.Now()
	t, err := scanRawTransfer(s.pool.QueryRow(ctx, `
		SELECT tx_hash, block_number, from_address, to_address, value, timestamp
		FROM raw_transfers WHERE tx_hash = $1`, strings.ToLower(txHash)))
	s.metrics.RecordDBQuery("select", "raw_transfers", time.Since(start).Seconds(), err)
	return t, err
}

// ListRawTransfers returns stored transfers, newest block first.
func (s *Store) ListRawTransfers(ctx context.Context, params ListRawTransfersParams) ([]RawTransfer, error) {
	start := time.Now()
	rows, err := s.pool.Query(ctx, `
		SELECT tx_hash, block_number, from_address, to_address, value, timestamp
		FROM raw_transfers
		WHERE $1 = '' OR from_address = $1 OR to_address = $1
		ORDER BY block_number DESC, tx_hash
		LIMIT $2 OFFSET $3`,
		strings.ToLower(params.Address), params.Limit, params.Offset)
	if err != nil {
		s.metrics.RecordDBQuery("list", "raw_transfers", time.Since(start).Seconds(), err)
		return nil, fmt.Errorf("failed to list transfers: %w", err)
	}
	defer rows.Close()

	var transfers []RawTransfer
	for rows.Next() {
		t, err := scanRawTransfer(rows)
		if err != nil {
			return nil, err
		}
		transfers = append(transfers, t)
	}
	err = rows.Err()
	s.metrics.RecordDBQuery("list", "raw_transfers", time.Since(start).Seconds(), err)
	if err != nil {
		return nil, fmt.Errorf("failed to list transfers: %w", err)
	}
	return transfers, nil
}

// CountRawTransfers counts stored transfers touching address, or all rows when
// address is empty.
func (s *Store) CountRawTransfers(ctx context.Context, address string) (int64, error) {
	start := time.Now()
	var count int64
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM raw_transfers
		WHERE $1 = '' OR from_address = $1 OR to_address = $1`,
		strings.ToLower(address)).Scan(&count)
	s.metrics.RecordDBQuery("count", "raw_transfers", time.Since(start).Seconds(), err)
	if err != nil {
		return 0, fmt.Errorf("failed to count transfers: %w", err)
	}
	return count, nil
}

func scanAggregate(row pgx.Row) (NetFlowAggregate, error) {
	var (
		in, out, net string
		lastUpdated  int64
	)
	if err := row.Scan(&in, &out, &net, &lastUpdated); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return NetFlowAggregate{}, fmt.Errorf("net flow aggregate: %w", ErrNotFound)
		}
		return NetFlowAggregate{}, fmt.Errorf("failed to read net flow aggregate: %w", err)
	}
	// Stored values are parsed leniently: a corrupt cell reads as zero.
	return NetFlowAggregate{
		CumulativeIn:  amount.Parse(in),
		CumulativeOut: amount.Parse(out),
		NetFlow:       amount.Parse(net),
		LastUpdated:   uint64(lastUpdated),
	}, nil
}

func scanRawTransfer(row pgx.Row) (RawTransfer, error) {
	var (
		t               RawTransfer
		blockNumber, ts int64
		value           string
	)
	if err := row.Scan(&t.TxHash, &blockNumber, &t.FromAddress, &t.ToAddress, &value, &ts); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return RawTransfer{}, fmt.Errorf("transfer: %w", ErrNotFound)
		}
		return RawTransfer{}, fmt.Errorf("failed to scan transfer: %w", err)
	}
	t.BlockNumber = uint64(blockNumber)
	t.Timestamp = uint64(ts)
	t.Value = amount.Parse(value)
	return t, nil
}
