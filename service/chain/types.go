package chain

import (
	"github.com/brojonat/flowledger/service/amount"
)

// Transfer is a decoded token Transfer event.
// This is our domain model, independent of the RPC log format.
type Transfer struct {
	TxHash      string // lowercase 0x-prefixed hex
	BlockNumber uint64
	LogIndex    uint
	From        string // lowercase 0x-prefixed hex
	To          string // lowercase 0x-prefixed hex
	Amount      amount.Amount
}
