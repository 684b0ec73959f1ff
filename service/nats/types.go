package nats

import (
	"fmt"
	"strings"
	"time"

	"github.com/brojonat/flowledger/service/db"
)

// TransferEvent represents an ingested transfer published to NATS.
// This is published to the subject "transfers.{contract_address}" in JetStream.
type TransferEvent struct {
	// Transfer identifiers
	TxHash      string `json:"tx_hash"`
	BlockNumber uint64 `json:"block_number"`

	// Parties, lowercase hex
	From string `json:"from"`
	To   string `json:"to"`

	// Decimal string; values exceed 64 bits
	Amount    string `json:"amount"`
	Timestamp uint64 `json:"timestamp"`

	// Watch-list classification
	IsIn  bool `json:"is_in"`
	IsOut bool `json:"is_out"`

	// Metadata
	RunID       string    `json:"run_id,omitempty"`
	PublishedAt time.Time `json:"published_at"`
}

// Subject returns the JetStream subject for transfers of the given contract.
func Subject(contract string) string {
	return fmt.Sprintf("transfers.%s", strings.ToLower(contract))
}

// FromRawTransfer converts a stored transfer to a TransferEvent for publishing.
func FromRawTransfer(t db.RawTransfer, isIn, isOut bool, runID string) *TransferEvent {
	return &TransferEvent{
		TxHash:      t.TxHash,
		BlockNumber: t.BlockNumber,
		From:        t.FromAddress,
		To:          t.ToAddress,
		Amount:      t.Value.String(),
		Timestamp:   t.Timestamp,
		IsIn:        isIn,
		IsOut:       isOut,
		RunID:       runID,
		PublishedAt: time.Now().UTC(),
	}
}
