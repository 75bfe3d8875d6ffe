package sync

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/steveyegge/homegraph/internal/storage"
)

func TestMergeVectorClocksTakesPerKeyMax(t *testing.T) {
	a := storage.VectorClock{"w1": "0000000000000000100-w1", "w2": "0000000000000000200-w2"}
	b := storage.VectorClock{"w1": "0000000000000000050-w1", "w3": "0000000000000000300-w3"}

	merged := MergeVectorClocks(a, b)
	assert.Equal(t, "0000000000000000100-w1", merged["w1"])
	assert.Equal(t, "0000000000000000200-w2", merged["w2"])
	assert.Equal(t, "0000000000000000300-w3", merged["w3"])

	// inputs untouched
	assert.Len(t, a, 2)
	assert.Len(t, b, 2)
}

func TestAdvanceVectorClockOnlyMovesForward(t *testing.T) {
	clock := storage.VectorClock{"w1": "0000000000000000100-w1"}
	AdvanceVectorClock(clock, "w1", "0000000000000000050-w1")
	assert.Equal(t, "0000000000000000100-w1", clock["w1"], "must not move backward")

	AdvanceVectorClock(clock, "w1", "0000000000000000200-w1")
	assert.Equal(t, "0000000000000000200-w1", clock["w1"])

	AdvanceVectorClock(clock, "w2", "0000000000000000001-w2")
	assert.Equal(t, "0000000000000000001-w2", clock["w2"])
}
