package db

import (
	"context"
	"errors"

	"github.com/brojonat/flowledger/service/amount"
)

var (
	// ErrNotFound is returned when a requested row does not exist, including
	// the net flow singleton before the store has been initialized.
	ErrNotFound = errors.New("not found")
	// ErrSchemaMissing is returned by InitSchema when the schema file cannot be found.
	ErrSchemaMissing = errors.New("schema definition missing")
)

// aggregateID is the fixed key of the net flow singleton row.
const aggregateID = 1

// RawTransfer is one ingested Transfer event, keyed by transaction hash.
// Rows are written once and never mutated.
type RawTransfer struct {
	TxHash      string        `json:"tx_hash"`
	BlockNumber uint64        `json:"block_number"`
	FromAddress string        `json:"from_address"`
	ToAddress   string        `json:"to_address"`
	Value       amount.Amount `json:"value"`
	Timestamp   uint64        `json:"timestamp"`
}

// NetFlowAggregate is the running total of value crossing the watch-list.
type NetFlowAggregate struct {
	CumulativeIn  amount.Amount `json:"cumulative_in"`
	CumulativeOut amount.Amount `json:"cumulative_out"`
	NetFlow       amount.Amount `json:"net_flow"`
	LastUpdated   uint64        `json:"last_updated"`
}

// Apply returns the aggregate after adding value to the flagged side(s).
// NetFlow is always recomputed as max(in - out, 0) and LastUpdated is set to
// timestamp whenever either flag is set. With both flags false the aggregate
// is returned unchanged.
func (a NetFlowAggregate) Apply(value amount.Amount, timestamp uint64, isIn, isOut bool) NetFlowAggregate {
	if !isIn && !isOut {
		return a
	}
	next := a
	if isIn {
		next.CumulativeIn = next.CumulativeIn.Add(value)
	}
	if isOut {
		next.CumulativeOut = next.CumulativeOut.Add(value)
	}
	next.NetFlow = next.CumulativeIn.SaturatingSub(next.CumulativeOut)
	next.LastUpdated = timestamp
	return next
}

// ListRawTransfersParams filters and paginates ListRawTransfers.
// An empty Address matches every row; otherwise rows where the address is
// either sender or recipient are returned.
type ListRawTransfersParams struct {
	Address string
	Limit   int32
	Offset  int32
}

// Ledger is the storage contract shared by the Postgres and in-memory stores.
type Ledger interface {
	InsertRawTransferIfAbsent(ctx context.Context, t RawTransfer) (bool, error)
	ReadAggregate(ctx context.Context) (NetFlowAggregate, error)
	ApplyTransferToAggregate(ctx context.Context, value amount.Amount, timestamp uint64, isIn, isOut bool) (NetFlowAggregate, error)
	IngestTransfer(ctx context.Context, t RawTransfer, isIn, isOut bool) (bool, NetFlowAggregate, error)
	GetRawTransfer(ctx context.Context, txHash string) (RawTransfer, error)
	ListRawTransfers(ctx context.Context, params ListRawTransfersParams) ([]RawTransfer, error)
	CountRawTransfers(ctx context.Context, address string) (int64, error)
}

var (
	_ Ledger = (*Store)(nil)
	_ Ledger = (*MemoryStore)(nil)
)
