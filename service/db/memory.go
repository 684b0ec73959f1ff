package db

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/brojonat/flowledger/service/amount"
)

// MemoryStore is an in-memory Ledger used by tests.
type MemoryStore struct {
	mu        sync.RWMutex
	transfers map[string]RawTransfer // keyed by tx hash
	aggregate *NetFlowAggregate
}

// NewMemoryStore creates an in-memory store with the net flow singleton
// already seeded with zeros.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		transfers: make(map[string]RawTransfer),
		aggregate: &NetFlowAggregate{},
	}
}

// InsertRawTransferIfAbsent adds t unless its tx hash is already stored.
func (s *MemoryStore) InsertRawTransferIfAbsent(_ context.Context, t RawTransfer) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insert(t), nil
}

// IngestTransfer inserts t and applies it to the aggregate under one lock.
// When the aggregate is missing nothing is written.
func (s *MemoryStore) IngestTransfer(_ context.Context, t RawTransfer, isIn, isOut bool) (bool, NetFlowAggregate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.transfers[t.TxHash]; exists {
		return false, NetFlowAggregate{}, nil
	}
	if !isIn && !isOut {
		return s.insert(t), NetFlowAggregate{}, nil
	}
	if s.aggregate == nil {
		return false, NetFlowAggregate{}, fmt.Errorf("net flow aggregate: %w", ErrNotFound)
	}

	s.insert(t)
	next := s.aggregate.Apply(t.Value, t.Timestamp, isIn, isOut)
	s.aggregate = &next
	return true, next, nil
}

// insert must be called with the write lock held.
func (s *MemoryStore) insert(t RawTransfer) bool {
	if s.transfers == nil {
		s.transfers = make(map[string]RawTransfer)
	}
	if _, exists := s.transfers[t.TxHash]; exists {
		return false
	}
	s.transfers[t.TxHash] = t
	return true
}

// ReadAggregate returns a copy of the singleton, or ErrNotFound if unseeded.
func (s *MemoryStore) ReadAggregate(_ context.Context) (NetFlowAggregate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.aggregate == nil {
		return NetFlowAggregate{}, fmt.Errorf("net flow aggregate: %w", ErrNotFound)
	}
	return *s.aggregate, nil
}

// ApplyTransferToAggregate updates the singleton under the write lock.
func (s *MemoryStore) ApplyTransferToAggregate(_ context.Context, value amount.Amount, timestamp uint64, isIn, isOut bool) (NetFlowAggregate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.aggregate == nil {
		return NetFlowAggregate{}, fmt.Errorf("net flow aggregate: %w", ErrNotFound)
	}
	next := s.aggregate.Apply(value, timestamp, isIn, isOut)
	s.aggregate = &next
	return next, nil
}

// GetRawTransfer retrieves a transfer by tx hash.
func (s *MemoryStore) GetRawTransfer(_ context.Context, txHash string) (RawTransfer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, exists := s.transfers[strings.ToLower(txHash)]
	if !exists {
		return RawTransfer{}, fmt.Errorf("transfer: %w", ErrNotFound)
	}
	return t, nil
}

// ListRawTransfers returns matching transfers ordered like the Postgres store:
// block number descending, then tx hash ascending. Negative limits and
// offsets are rejected, as Postgres rejects them.
func (s *MemoryStore) ListRawTransfers(_ context.Context, params ListRawTransfersParams) ([]RawTransfer, error) {
	if params.Limit < 0 || params.Offset < 0 {
		return nil, fmt.Errorf("failed to list transfers: negative limit %d or offset %d", params.Limit, params.Offset)
	}

	s.mu.RLock()
	matched := s.matching(params.Address)
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].BlockNumber != matched[j].BlockNumber {
			return matched[i].BlockNumber > matched[j].BlockNumber
		}
		return matched[i].TxHash < matched[j].TxHash
	})

	offset := int(params.Offset)
	if offset >= len(matched) {
		return nil, nil
	}
	matched = matched[offset:]
	if int(params.Limit) < len(matched) {
		matched = matched[:params.Limit]
	}
	return matched, nil
}

// CountRawTransfers counts transfers touching address, or all when empty.
func (s *MemoryStore) CountRawTransfers(_ context.Context, address string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.matching(address))), nil
}

// matching must be called with the read lock held.
func (s *MemoryStore) matching(address string) []RawTransfer {
	address = strings.ToLower(address)
	var result []RawTransfer
	for _, t := range s.transfers {
		if address == "" || t.FromAddress == address || t.ToAddress == address {
			result = append(result, t)
		}
	}
	return result
}
