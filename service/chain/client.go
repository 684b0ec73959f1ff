package chain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/brojonat/flowledger/service/metrics"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// ErrBlockNotFound is returned by BlockTimestamp when the node has no header
// for the requested block.
var ErrBlockNotFound = errors.New("block not found")

// RPCClient is an interface for the chain RPC operations we need.
// This allows us to mock the RPC layer in tests without hitting real nodes.
type RPCClient interface {
	BlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	Close()
}

// Client exposes the three chain queries the ingester needs: current height,
// Transfer logs of one contract for a block range, and block timestamps.
type Client struct {
	rpc      RPCClient
	contract common.Address
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// NewClient creates a new chain client filtering Transfer logs emitted by contract.
// If metrics is nil, no metrics will be recorded.
func NewClient(rpcClient RPCClient, contract common.Address, m *metrics.Metrics, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		rpc:      rpcClient,
		contract: contract,
		metrics:  m,
		logger:   logger,
	}
}

// Contract returns the token contract address being filtered.
func (c *Client) Contract() common.Address {
	return c.contract
}

// CurrentHeight returns the latest block number known to the node.
func (c *Client) CurrentHeight(ctx context.Context) (uint64, error) {
	start := time.Now()
	height, err := c.rpc.BlockNumber(ctx)
	c.record("eth_blockNumber", start, err)
	if err != nil {
		return 0, fmt.Errorf("failed to get block number: %w", err)
	}
	return height, nil
}

// GetLogs returns the contract's Transfer logs in [from, to], both inclusive.
func (c *Client) GetLogs(ctx context.Context, from, to uint64) ([]types.Log, error) {
	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: []common.Address{c.contract},
		Topics:    [][]common.Hash{{TransferEventID}},
	}

	start := time.Now()
	logs, err := c.rpc.FilterLogs(ctx, query)
	c.record("eth_getLogs", start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to get logs for blocks %d-%d: %w", from, to, err)
	}

	c.logger.DebugContext(ctx, "fetched transfer logs",
		"from_block", from,
		"to_block", to,
		"count", len(logs),
	)
	return logs, nil
}

// BlockTimestamp returns the block's timestamp in seconds since the epoch.
func (c *Client) BlockTimestamp(ctx context.Context, block uint64) (uint64, error) {
	start := time.Now()
	header, err := c.rpc.HeaderByNumber(ctx, new(big.Int).SetUint64(block))
	c.record("eth_getBlockByNumber", start, err)
	if errors.Is(err, ethereum.NotFound) || (err == nil && header == nil) {
		return 0, fmt.Errorf("%w: %d", ErrBlockNotFound, block)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get header for block %d: %w", block, err)
	}
	return header.Time, nil
}

// Close releases the underlying RPC connection.
func (c *Client) Close() {
	c.rpc.Close()
}

func (c *Client) record(method string, start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	c.metrics.RecordRPCCall(method, status, time.Since(start).Seconds())
}
