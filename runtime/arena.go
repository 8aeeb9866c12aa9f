package runtime

import (
	"github.com/pkg/errors"

	"github.com/sbl8/tensorc/core"
	"github.com/sbl8/tensorc/kernels"
)

// ArenaRegion represents a distinct slot range within the Arena.
type ArenaRegion struct {
	Offset int
	Size   int
	Name   string
}

// Region names.
const (
	RegionPoint = "Point"
	RegionLanes = "Lanes"
)

// Arena is the private evaluation storage of one worker: a single cache-line
// aligned buffer holding a one-point frame and a Lanes-wide frame. Every
// region starts on a cache line, so lane loads never straddle lines.
// An Arena must not be shared between goroutines.
type Arena struct {
	buffer  []float64
	regions map[string]ArenaRegion

	point *kernels.Frame
	lanes *kernels.Frame
}

// NewArena lays out storage for plans needing at most depth slots.
func NewArena(depth int) (*Arena, error) {
	if depth < 0 {
		return nil, errors.Errorf("negative stack depth %d", depth)
	}
	depth = max(depth, 1)

	line := core.LanesPerLine()
	pointSize := core.AlignSize(depth, line)
	lanesSize := core.AlignSize(depth*kernels.Lanes, line)

	a := &Arena{
		buffer:  core.AlignedFloats(pointSize + lanesSize),
		regions: make(map[string]ArenaRegion, 2),
	}
	a.regions[RegionPoint] = ArenaRegion{Offset: 0, Size: pointSize, Name: RegionPoint}
	a.regions[RegionLanes] = ArenaRegion{Offset: pointSize, Size: lanesSize, Name: RegionLanes}

	a.point = &kernels.Frame{Stack: a.slice(RegionPoint), Width: 1}
	a.lanes = &kernels.Frame{Stack: a.slice(RegionLanes), Width: kernels.Lanes}
	return a, nil
}

func (a *Arena) slice(name string) []float64 {
	r := a.regions[name]
	return a.buffer[r.Offset : r.Offset+r.Size : r.Offset+r.Size]
}

// Region returns a named region.
func (a *Arena) Region(name string) (ArenaRegion, bool) {
	r, ok := a.regions[name]
	return r, ok
}

// Frame returns the frame of the given width, 1 or kernels.Lanes, bound to
// scalars and constants.
func (a *Arena) Frame(width int, scalars kernels.ScalarFn, constants []float64) *kernels.Frame {
	f := a.point
	if width != 1 {
		core.Assertf(width == kernels.Lanes, "arena has no frame of width %d", width)
		f = a.lanes
	}
	f.Scalars, f.Constants = scalars, constants
	return f
}

// release drops the references a frame holds to caller data.
func (a *Arena) release() {
	a.point.Scalars, a.point.Constants = nil, nil
	a.lanes.Scalars, a.lanes.Constants = nil, nil
}

// TotalSize returns the arena capacity in slots.
func (a *Arena) TotalSize() int {
	return len(a.buffer)
}

// TotalBytes returns the arena capacity in bytes.
func (a *Arena) TotalBytes() int {
	return len(a.buffer) * core.Float64Size
}

// ArenaPool recycles arenas of one depth between evaluations.
type ArenaPool struct {
	arenas chan *Arena
	depth  int
}

// NewArenaPool creates a pool holding up to poolSize idle arenas.
func NewArenaPool(depth, poolSize int) *ArenaPool {
	return &ArenaPool{
		arenas: make(chan *Arena, max(poolSize, 1)),
		depth:  depth,
	}
}

// Get returns an arena from the pool or creates a new one.
func (p *ArenaPool) Get() *Arena {
	select {
	case a := <-p.arenas:
		return a
	default:
		a, err := NewArena(p.depth)
		core.Assertf(err == nil, "arena for depth %d: %v", p.depth, err)
		return a
	}
}

// Put returns an arena to the pool.
func (p *ArenaPool) Put(a *Arena) {
	if a == nil {
		return
	}
	a.release()
	select {
	case p.arenas <- a:
	default:
		// Pool full, let GC handle it
	}
}
