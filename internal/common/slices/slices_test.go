package slices

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMap(t *testing.T) {
	assert.Equal(t, []int{2, 4, 6}, Map([]int{1, 2, 3}, func(v int) int { return v * 2 }))
	assert.Nil(t, Map([]int(nil), func(v int) int { return v }))
}

func TestFilter(t *testing.T) {
	assert.Equal(t, []int{2, 4}, Filter([]int{1, 2, 3, 4}, func(v int) bool { return v%2 == 0 }))
}

func TestFlatten(t *testing.T) {
	assert.Equal(t, []int{1, 2, 3}, Flatten([][]int{{1}, {2, 3}, {}}))
}

func TestUnique(t *testing.T) {
	assert.Equal(t, []int{3, 1, 2}, Unique([]int{3, 1, 3, 2, 1}))
	assert.Nil(t, Unique[[]int](nil))
}

func TestSubtract(t *testing.T) {
	assert.Equal(t, []int{1, 3}, Subtract([]int{1, 2, 3}, []int{2}))
	assert.Nil(t, Subtract[int](nil, []int{1}))
}

func TestIntersect(t *testing.T) {
	assert.Equal(t, []int{2, 3}, Intersect([]int{1, 2, 3}, []int{3, 2}))
}
