package chain

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/brojonat/flowledger/service/amount"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

var (
	// ErrDecode is returned when a log does not match the Transfer event encoding.
	ErrDecode = errors.New("malformed transfer log")
	// ErrMissingTxHash is returned when a log carries no transaction hash.
	ErrMissingTxHash = errors.New("log has no transaction hash")
	// ErrMissingBlock is returned when a log is not yet part of a block.
	ErrMissingBlock = errors.New("log has no block")
)

const transferEventABI = `[{
	"anonymous": false,
	"inputs": [
		{"indexed": true, "name": "from", "type": "address"},
		{"indexed": true, "name": "to", "type": "address"},
		{"indexed": false, "name": "value", "type": "uint256"}
	],
	"name": "Transfer",
	"type": "event"
}]`

var (
	transferABI = mustParseABI(transferEventABI)

	// TransferEventID is keccak256("Transfer(address,address,uint256)"), the
	// first topic of every standard token Transfer log.
	TransferEventID = transferABI.Events["Transfer"].ID
)

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(fmt.Sprintf("invalid transfer abi: %v", err))
	}
	return parsed
}

type transferEvent struct {
	From  common.Address
	To    common.Address
	Value *big.Int
}

// DecodeTransfer converts a raw Transfer log into a Transfer. Logs with the
// wrong topic layout or payload size fail with ErrDecode. Logs without a
// transaction hash or block fail with ErrMissingTxHash or ErrMissingBlock.
func DecodeTransfer(log types.Log) (Transfer, error) {
	if len(log.Topics) != 3 {
		return Transfer{}, fmt.Errorf("%w: expected 3 topics, got %d", ErrDecode, len(log.Topics))
	}
	if log.Topics[0] != TransferEventID {
		return Transfer{}, fmt.Errorf("%w: unexpected event signature %s", ErrDecode, log.Topics[0].Hex())
	}
	if len(log.Data) != 32 {
		return Transfer{}, fmt.Errorf("%w: expected 32 data bytes, got %d", ErrDecode, len(log.Data))
	}
	if log.TxHash == (common.Hash{}) {
		return Transfer{}, ErrMissingTxHash
	}
	if log.BlockHash == (common.Hash{}) {
		return Transfer{}, ErrMissingBlock
	}

	event := transferABI.Events["Transfer"]

	var ev transferEvent
	if err := transferABI.UnpackIntoInterface(&ev, event.Name, log.Data); err != nil {
		return Transfer{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	var indexed abi.Arguments
	for _, arg := range event.Inputs {
		if arg.Indexed {
			indexed = append(indexed, arg)
		}
	}
	if err := abi.ParseTopics(&ev, indexed, log.Topics[1:]); err != nil {
		return Transfer{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	return Transfer{
		TxHash:      strings.ToLower(log.TxHash.Hex()),
		BlockNumber: log.BlockNumber,
		LogIndex:    log.Index,
		From:        strings.ToLower(ev.From.Hex()),
		To:          strings.ToLower(ev.To.Hex()),
		Amount:      amount.FromBig(ev.Value),
	}, nil
}
