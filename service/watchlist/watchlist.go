package watchlist

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// ErrInvalidAddress is returned by Parse when an entry is not a 20-byte hex address.
var ErrInvalidAddress = errors.New("invalid watch-list address")

// WatchList is the fixed set of monitored addresses. It is immutable after
// construction and safe for concurrent reads.
type WatchList struct {
	addrs map[string]struct{}
}

// Parse validates and normalizes the given addresses. Entries are compared
// case-insensitively, so checksummed and lowercase forms are equivalent.
// Duplicates collapse into one entry.
func Parse(addresses []string) (*WatchList, error) {
	if len(addresses) == 0 {
		return nil, fmt.Errorf("%w: watch list is empty", ErrInvalidAddress)
	}

	addrs := make(map[string]struct{}, len(addresses))
	for _, raw := range addresses {
		a := strings.TrimSpace(raw)
		if !common.IsHexAddress(a) {
			return nil, fmt.Errorf("%w: %q", ErrInvalidAddress, raw)
		}
		addrs[normalize(a)] = struct{}{}
	}

	return &WatchList{addrs: addrs}, nil
}

// Contains reports whether address is on the list.
func (w *WatchList) Contains(address string) bool {
	if w == nil {
		return false
	}
	_, ok := w.addrs[normalize(address)]
	return ok
}

// Classify reports whether a transfer flows into the watch list (recipient
// matches) and/or out of it (sender matches). A self-transfer between watched
// addresses is both; a transfer touching no watched address is neither.
func (w *WatchList) Classify(from, to string) (isIn, isOut bool) {
	return w.Contains(to), w.Contains(from)
}

// Len returns the number of distinct addresses.
func (w *WatchList) Len() int {
	if w == nil {
		return 0
	}
	return len(w.addrs)
}

// Addresses returns the normalized addresses in sorted order.
func (w *WatchList) Addresses() []string {
	if w == nil {
		return nil
	}
	out := make([]string, 0, len(w.addrs))
	for a := range w.addrs {
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}

// normalize lowercases the address and guarantees the 0x prefix.
func normalize(address string) string {
	a := strings.ToLower(strings.TrimSpace(address))
	if !strings.HasPrefix(a, "0x") {
		a = "0x" + a
	}
	return a
}
