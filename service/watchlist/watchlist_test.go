package watchlist

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	watched   = "0xF977814e90dA44bFA03b6295A0616a897441aceC"
	watched2  = "0xe7804c37c13166fF0b37F5aE0BB07A3aEbb6e245"
	unwatched = "0x000000000000000000000000000000000000bEEF"
	other     = "0x000000000000000000000000000000000000cafe"
)

func TestParse(t *testing.T) {
	t.Run("valid addresses", func(t *testing.T) {
		wl, err := Parse([]string{watched, watched2})
		require.NoError(t, err)
		assert.Equal(t, 2, wl.Len())
	})

	t.Run("duplicates in different case collapse", func(t *testing.T) {
		wl, err := Parse([]string{watched, "0xf977814e90da44bfa03b6295a0616a897441acec"})
		require.NoError(t, err)
		assert.Equal(t, 1, wl.Len())
		assert.Equal(t, []string{"0xf977814e90da44bfa03b6295a0616a897441acec"}, wl.Addresses())
	})

	t.Run("malformed address is rejected", func(t *testing.T) {
		_, err := Parse([]string{watched, "0x1234"})
		assert.ErrorIs(t, err, ErrInvalidAddress)
	})

	t.Run("empty list is rejected", func(t *testing.T) {
		_, err := Parse(nil)
		assert.ErrorIs(t, err, ErrInvalidAddress)
	})

	t.Run("surrounding whitespace is tolerated", func(t *testing.T) {
		wl, err := Parse([]string{"  " + watched + " "})
		require.NoError(t, err)
		assert.True(t, wl.Contains(watched))
	})
}

func TestClassify(t *testing.T) {
	wl, err := Parse([]string{watched, watched2})
	require.NoError(t, err)

	tests := []struct {
		name        string
		from, to    string
		expectedIn  bool
		expectedOut bool
	}{
		{"outbound", watched, unwatched, false, true},
		{"inbound", unwatched, watched, true, false},
		{"self transfer", watched, watched, true, true},
		{"between two watched", watched, watched2, true, true},
		{"untouched", unwatched, other, false, false},
		{"case insensitive sender", "0xF977814E90DA44BFA03B6295A0616A897441ACEC", unwatched, false, true},
		{"case insensitive recipient", unwatched, "0xf977814e90da44bfa03b6295a0616a897441acec", true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			isIn, isOut := wl.Classify(tt.from, tt.to)
			assert.Equal(t, tt.expectedIn, isIn)
			assert.Equal(t, tt.expectedOut, isOut)
		})
	}
}

func TestNilWatchList(t *testing.T) {
	var wl *WatchList
	isIn, isOut := wl.Classify(watched, watched)
	assert.False(t, isIn)
	assert.False(t, isOut)
	assert.Equal(t, 0, wl.Len())
}
