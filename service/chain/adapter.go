package chain

import (
	"context"
	"fmt"
	"math/big"
	"net/url"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
)

// realRPCClient adapts the go-ethereum client to our RPCClient interface.
// This adapter allows us to control the interface and makes testing easier.
type realRPCClient struct {
	client *ethclient.Client
}

// NewRPCClient dials the JSON-RPC endpoint. Supported schemes are http, https,
// ws and wss. For hosted endpoints that require API keys, include the key in the URL.
func NewRPCClient(ctx context.Context, rpcURL string) (RPCClient, error) {
	if err := ValidateRPCURL(rpcURL); err != nil {
		return nil, err
	}
	c, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to dial rpc endpoint: %w", err)
	}
	return &realRPCClient{client: c}, nil
}

// ValidateRPCURL reports whether rawURL is usable as a JSON-RPC endpoint.
func ValidateRPCURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid rpc url %q: %w", rawURL, err)
	}
	switch u.Scheme {
	case "http", "https", "ws", "wss":
	default:
		return fmt.Errorf("invalid rpc url %q: unsupported scheme %q", rawURL, u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("invalid rpc url %q: missing host", rawURL)
	}
	return nil
}

func (r *realRPCClient) BlockNumber(ctx context.Context) (uint64, error) {
	return r.client.BlockNumber(ctx)
}

func (r *realRPCClient) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	return r.client.FilterLogs(ctx, q)
}

func (r *realRPCClient) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	return r.client.HeaderByNumber(ctx, number)
}

func (r *realRPCClient) Close() {
	r.client.Close()
}
