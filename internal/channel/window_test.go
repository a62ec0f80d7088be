package channel

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDedupWindow_EvictsInArrivalOrder(t *testing.T) {
	w := newDedupWindow(3)
	w.add("a")
	w.add("b")
	w.add("c")

	// lookups do not refresh an id
	assert.True(t, w.contains("a"))
	w.add("b")
	w.add("d")

	assert.False(t, w.contains("a"))
	assert.True(t, w.contains("b"))
	assert.True(t, w.contains("d"))
	assert.Equal(t, 3, w.len())
}
