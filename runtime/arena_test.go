package runtime

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sbl8/tensorc/core"
	"github.com/sbl8/tensorc/kernels"
)

func TestNewArena(t *testing.T) {
	t.Parallel()
	arena, err := NewArena(10)
	require.NoError(t, err)

	point, ok := arena.Region(RegionPoint)
	require.True(t, ok)
	lanes, ok := arena.Region(RegionLanes)
	require.True(t, ok)
	_, ok = arena.Region("Scratch")
	assert.False(t, ok)

	assert.GreaterOrEqual(t, point.Size, 10)
	assert.GreaterOrEqual(t, lanes.Size, 10*kernels.Lanes)
	assert.Equal(t, point.Size, lanes.Offset)
	assert.Equal(t, point.Size+lanes.Size, arena.TotalSize())
	assert.Equal(t, arena.TotalSize()*core.Float64Size, arena.TotalBytes())

	_, err = NewArena(-1)
	assert.Error(t, err)
}

func TestArenaFramesAreAligned(t *testing.T) {
	t.Parallel()
	arena, err := NewArena(5)
	require.NoError(t, err)

	constants := []float64{1, 2}
	for _, width := range []int{1, kernels.Lanes} {
		f := arena.Frame(width, nil, constants)
		assert.Equal(t, width, f.Width)
		assert.True(t, core.FloatsAligned(f.Stack, core.CacheLineSize), "width %d", width)
		assert.Equal(t, constants, f.Constants)
	}
	assert.Panics(t, func() { arena.Frame(kernels.Lanes+1, nil, nil) })
}

func TestArenaPoolReuse(t *testing.T) {
	t.Parallel()
	pool := NewArenaPool(4, 1)
	a := pool.Get()
	a.Frame(1, nil, []float64{3})
	pool.Put(a)

	b := pool.Get()
	assert.Same(t, a, b)
	assert.Nil(t, b.Frame(1, nil, nil).Constants)

	pool.Put(b)
	extra, err := NewArena(4)
	require.NoError(t, err)
	pool.Put(extra) // full, dropped
	assert.Same(t, a, pool.Get())
	pool.Put(nil)
}
