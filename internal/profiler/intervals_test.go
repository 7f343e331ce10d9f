package profiler

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMergeIntervals(t *testing.T) {
	in := []interval{{5, 7}, {0, 2}, {1, 3}, {3, 4}, {9, 9}}
	assert.Equal(t, []interval{{0, 4}, {5, 7}}, mergeIntervals(in))
	assert.Nil(t, mergeIntervals(nil))
	assert.Equal(t, 6.0, totalLength(mergeIntervals(in)))
}

func TestIntersectIntervals(t *testing.T) {
	a := []interval{{0, 5}, {10, 20}}
	b := []interval{{3, 12}, {15, 16}, {19, 30}}
	assert.Equal(t, []interval{{3, 5}, {10, 12}, {15, 16}, {19, 20}}, intersectIntervals(a, b))
	assert.Nil(t, intersectIntervals(a, nil))
}

func TestSubtractIntervals(t *testing.T) {
	a := []interval{{0, 10}, {20, 30}}
	b := []interval{{2, 4}, {8, 22}, {25, 26}}
	assert.Equal(t, []interval{{0, 2}, {4, 8}, {22, 25}, {26, 30}}, subtractIntervals(a, b))
	assert.Equal(t, a, subtractIntervals(a, nil))
	assert.Nil(t, subtractIntervals(a, []interval{{-1, 40}}))
}

func TestClipIntervals(t *testing.T) {
	merged := []interval{{0, 5}, {8, 12}}
	assert.Equal(t, []interval{{3, 5}, {8, 10}}, clipIntervals(merged, 3, 10))
}
