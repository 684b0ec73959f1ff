package chain

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testContract = common.HexToAddress("0x1234567890abcdef1234567890abcdef12345678")
	testFrom     = common.HexToAddress("0xF977814e90dA44bFA03b6295A0616a897441aceC")
	testTo       = common.HexToAddress("0x00000000000000000000000000000000000000bb")
)

// mockRPCClient implements RPCClient for testing.
type mockRPCClient struct {
	height     uint64
	logs       []types.Log
	headers    map[uint64]*types.Header
	err        error
	lastQuery  ethereum.FilterQuery
	closed     bool
	filterCall int
}

func (m *mockRPCClient) BlockNumber(ctx context.Context) (uint64, error) {
	if m.err != nil {
		return 0, m.err
	}
	return m.height, nil
}

func (m *mockRPCClient) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	m.filterCall++
	m.lastQuery = q
	if m.err != nil {
		return nil, m.err
	}
	return m.logs, nil
}

func (m *mockRPCClient) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.headers[number.Uint64()], nil
}

func (m *mockRPCClient) Close() { m.closed = true }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func transferLog(from, to common.Address, value *big.Int, block uint64, tx byte) types.Log {
	return types.Log{
		Address: testContract,
		Topics: []common.Hash{
			TransferEventID,
			common.BytesToHash(from.Bytes()),
			common.BytesToHash(to.Bytes()),
		},
		Data:        common.LeftPadBytes(value.Bytes(), 32),
		BlockNumber: block,
		BlockHash:   common.BytesToHash([]byte{byte(block), 0xbb}),
		TxHash:      common.BytesToHash([]byte{tx, 0xaa}),
		Index:       uint(tx),
	}
}

func TestTransferEventID(t *testing.T) {
	assert.Equal(t, crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)")), TransferEventID)
}

func TestDecodeTransfer(t *testing.T) {
	value, ok := new(big.Int).SetString("115792089237316195423570985008687907853269984665640564039457584007913129639935", 10)
	require.True(t, ok)

	log := transferLog(testFrom, testTo, value, 42, 7)
	tr, err := DecodeTransfer(log)
	require.NoError(t, err)

	assert.Equal(t, "0xf977814e90da44bfa03b6295a0616a897441acec", tr.From)
	assert.Equal(t, "0x00000000000000000000000000000000000000bb", tr.To)
	assert.Equal(t, value.String(), tr.Amount.String())
	assert.Equal(t, uint64(42), tr.BlockNumber)
	assert.Equal(t, uint(7), tr.LogIndex)
	assert.Equal(t, "0x"+strings.Repeat("0", 60)+"07aa", tr.TxHash)
}

func TestDecodeTransfer_Malformed(t *testing.T) {
	good := transferLog(testFrom, testTo, big.NewInt(1000), 10, 1)

	tests := []struct {
		name    string
		mutate  func(l *types.Log)
		wantErr error
	}{
		{
			name:    "missing recipient topic",
			mutate:  func(l *types.Log) { l.Topics = l.Topics[:2] },
			wantErr: ErrDecode,
		},
		{
			name:    "wrong event signature",
			mutate:  func(l *types.Log) { l.Topics[0] = crypto.Keccak256Hash([]byte("Approval(address,address,uint256)")) },
			wantErr: ErrDecode,
		},
		{
			name:    "short payload",
			mutate:  func(l *types.Log) { l.Data = l.Data[:16] },
			wantErr: ErrDecode,
		},
		{
			name:    "oversized payload",
			mutate:  func(l *types.Log) { l.Data = append(l.Data, make([]byte, 32)...) },
			wantErr: ErrDecode,
		},
		{
			name:    "no transaction hash",
			mutate:  func(l *types.Log) { l.TxHash = common.Hash{} },
			wantErr: ErrMissingTxHash,
		},
		{
			name:    "pending log",
			mutate:  func(l *types.Log) { l.BlockHash = common.Hash{} },
			wantErr: ErrMissingBlock,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			log := good
			log.Topics = append([]common.Hash(nil), good.Topics...)
			log.Data = append([]byte(nil), good.Data...)
			tt.mutate(&log)

			_, err := DecodeTransfer(log)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestClient_GetLogsFiltersContractAndEvent(t *testing.T) {
	mock := &mockRPCClient{logs: []types.Log{transferLog(testFrom, testTo, big.NewInt(5), 100, 1)}}
	c := NewClient(mock, testContract, nil, discardLogger())

	logs, err := c.GetLogs(context.Background(), 100, 100)
	require.NoError(t, err)
	assert.Len(t, logs, 1)

	assert.Equal(t, uint64(100), mock.lastQuery.FromBlock.Uint64())
	assert.Equal(t, uint64(100), mock.lastQuery.ToBlock.Uint64())
	assert.Equal(t, []common.Address{testContract}, mock.lastQuery.Addresses)
	assert.Equal(t, testContract, c.Contract())
	require.Len(t, mock.lastQuery.Topics, 1)
	assert.Equal(t, []common.Hash{TransferEventID}, mock.lastQuery.Topics[0])
}

func TestClient_BlockTimestamp(t *testing.T) {
	mock := &mockRPCClient{headers: map[uint64]*types.Header{
		10: {Number: big.NewInt(10), Time: 1000},
	}}
	c := NewClient(mock, testContract, nil, discardLogger())

	ts, err := c.BlockTimestamp(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, uint64(1000), ts)

	_, err = c.BlockTimestamp(context.Background(), 11)
	assert.ErrorIs(t, err, ErrBlockNotFound)
}

func TestClient_CurrentHeightError(t *testing.T) {
	mock := &mockRPCClient{err: errors.New("connection refused")}
	c := NewClient(mock, testContract, nil, discardLogger())

	_, err := c.CurrentHeight(context.Background())
	assert.Error(t, err)

	c.Close()
	assert.True(t, mock.closed)
}

func TestLogFetcher_RetryExhaustion(t *testing.T) {
	mock := &mockRPCClient{err: errors.New("503 service unavailable")}
	client := NewClient(mock, testContract, nil, discardLogger())

	var sleeps []time.Duration
	fetcher := NewLogFetcher(client, DefaultRetryPolicy, nil, discardLogger()).
		WithSleep(func(ctx context.Context, d time.Duration) error {
			sleeps = append(sleeps, d)
			return nil
		})

	logs, ok := fetcher.FetchLogs(context.Background(), 10, 10)

	assert.False(t, ok)
	assert.Empty(t, logs)
	assert.Equal(t, 5, mock.filterCall)
	assert.Len(t, sleeps, 4)
	for _, d := range sleeps {
		assert.Equal(t, 5*time.Second, d)
	}
}

type flakySource struct {
	failures int
	calls    int
	logs     []types.Log
}

func (f *flakySource) GetLogs(ctx context.Context, from, to uint64) ([]types.Log, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, errors.New("timeout")
	}
	return f.logs, nil
}

func TestLogFetcher_RecoversAfterFailures(t *testing.T) {
	src := &flakySource{failures: 2, logs: []types.Log{transferLog(testFrom, testTo, big.NewInt(1), 5, 1)}}
	fetcher := NewLogFetcher(src, RetryPolicy{MaxAttempts: 5, Interval: time.Millisecond}, nil, discardLogger()).
		WithSleep(func(ctx context.Context, d time.Duration) error { return nil })

	logs, ok := fetcher.FetchLogs(context.Background(), 5, 5)

	assert.True(t, ok)
	assert.Len(t, logs, 1)
	assert.Equal(t, 3, src.calls)
}

func TestLogFetcher_StopsOnCancel(t *testing.T) {
	src := &flakySource{failures: 10}
	ctx, cancel := context.WithCancel(context.Background())
	fetcher := NewLogFetcher(src, DefaultRetryPolicy, nil, discardLogger()).
		WithSleep(func(ctx context.Context, d time.Duration) error {
			cancel()
			return ctx.Err()
		})

	logs, ok := fetcher.FetchLogs(ctx, 1, 1)

	assert.False(t, ok)
	assert.Empty(t, logs)
	assert.Equal(t, 1, src.calls)
}

func TestSleepHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, Sleep(ctx, time.Hour), context.Canceled)
	assert.NoError(t, Sleep(context.Background(), time.Millisecond))
}

func TestValidateRPCURL(t *testing.T) {
	assert.NoError(t, ValidateRPCURL("https://polygon-rpc.com/"))
	assert.NoError(t, ValidateRPCURL("wss://node.example:8546"))
	assert.Error(t, ValidateRPCURL("polygon-rpc.com"))
	assert.Error(t, ValidateRPCURL("ftp://polygon-rpc.com"))
	assert.Error(t, ValidateRPCURL("http://"))
}
