package ring_test

import (
	"testing"

	"codeberg.org/mutker/smartrefresh/internal/ring"
	"github.com/stretchr/testify/assert"
)

func TestRingWrap(t *testing.T) {
	r := ring.New[int](3)

	_, ok := r.Last()
	assert.False(t, ok)
	assert.Empty(t, r.Snapshot())

	for i := 1; i <= 5; i++ {
		r.Append(i)
	}

	assert.Equal(t, 3, r.Len())
	assert.Equal(t, 3, r.Cap())
	assert.Equal(t, []int{3, 4, 5}, r.Snapshot())

	last, ok := r.Last()
	assert.True(t, ok)
	assert.Equal(t, 5, last)
}

func TestRingPartial(t *testing.T) {
	r := ring.New[string](4)
	r.Append("a")
	r.Append("b")

	assert.Equal(t, []string{"a", "b"}, r.Snapshot())

	r.Reset()
	assert.Zero(t, r.Len())
}

func TestRingDefaultCapacity(t *testing.T) {
	assert.Equal(t, 64, ring.New[int](0).Cap())
}
