package db

import (
	"testing"

	"github.com/brojonat/flowledger/service/amount"
	"github.com/stretchr/testify/assert"
)

func TestNetFlowAggregate_Apply(t *testing.T) {
	var agg NetFlowAggregate

	// Outflow from a watched address.
	agg = agg.Apply(amount.FromUint64(1000), 1000, false, true)
	assert.Equal(t, "0", agg.CumulativeIn.String())
	assert.Equal(t, "1000", agg.CumulativeOut.String())
	assert.Equal(t, "0", agg.NetFlow.String())
	assert.Equal(t, uint64(1000), agg.LastUpdated)

	// Inflow smaller than outflow keeps net flow floored at zero.
	agg = agg.Apply(amount.FromUint64(500), 1100, true, false)
	assert.Equal(t, "500", agg.CumulativeIn.String())
	assert.Equal(t, "0", agg.NetFlow.String())
	assert.Equal(t, uint64(1100), agg.LastUpdated)

	// Self transfer between watched addresses moves both sides.
	agg = agg.Apply(amount.FromUint64(10), 1200, true, true)
	assert.Equal(t, "510", agg.CumulativeIn.String())
	assert.Equal(t, "1010", agg.CumulativeOut.String())

	// Unrelated transfer leaves everything alone, including the timestamp.
	unchanged := agg.Apply(amount.FromUint64(99), 9999, false, false)
	assert.Equal(t, agg, unchanged)

	agg = agg.Apply(amount.FromUint64(600), 1300, true, false)
	assert.Equal(t, "100", agg.NetFlow.String())
}

func TestNetFlowAggregate_Invariant(t *testing.T) {
	steps := []struct {
		value       uint64
		isIn, isOut bool
	}{
		{7, true, false}, {3, false, true}, {10, false, true}, {1, true, true},
		{20, true, false}, {0, true, false}, {5, false, true}, {100, true, false},
	}

	var agg NetFlowAggregate
	for i, s := range steps {
		prev := agg
		agg = agg.Apply(amount.FromUint64(s.value), uint64(i), s.isIn, s.isOut)

		assert.GreaterOrEqual(t, agg.CumulativeIn.Cmp(prev.CumulativeIn), 0)
		assert.GreaterOrEqual(t, agg.CumulativeOut.Cmp(prev.CumulativeOut), 0)
		assert.Equal(t, agg.CumulativeIn.SaturatingSub(agg.CumulativeOut).String(), agg.NetFlow.String())
	}
}
