package kernels

import (
	"github.com/sbl8/tensorc/core"
)

// Frame is the evaluation storage of one plan run. Width points starting at
// Point are evaluated together.
type Frame struct {
	Stack     []float64
	Width     int
	Point     int
	Scalars   ScalarFn
	Constants []float64
}

// NewFrame allocates cache-line aligned storage for depth slots of width
// lanes.
func NewFrame(depth, width int) *Frame {
	core.Assertf(width > 0, "frame width %d", width)
	return &Frame{Stack: core.AlignedFloats(max(depth, 1) * width), Width: width}
}

// Fits reports whether the frame can hold a plan.
func (f *Frame) Fits(p *Plan) bool { return len(f.Stack) >= p.StackDepth*f.Width }

func (f *Frame) window(off, size int) []float64 {
	return f.Stack[off*f.Width : (off+size)*f.Width]
}
