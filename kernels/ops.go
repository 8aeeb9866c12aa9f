// Package kernels executes serialized expression trees.
//
// A model.Tree is turned into a Plan once: every contraction, permutation and
// relabeling is resolved into flat index maps, and point-independent windows
// (literals, deltas, epsilons) are tabulated. Running a plan is then a single
// postorder sweep over a storage Frame, one kernel call per node.
//
// Storage layout:
//   - A frame holds StackDepth slots of Width values each, slot-major and
//     lane-minor, so slot s of lane l lives at Stack[s*Width+l]
//   - Width 1 evaluates a single point; Width Lanes evaluates Lanes
//     consecutive points at once with the same per-node kernels
//
// All kernels are registered in the Catalog array, indexed by node tag.
package kernels

import (
	"math"

	"github.com/sbl8/tensorc/expr"
)

// ScalarFn returns the value of scalar id at a point.
type ScalarFn func(id, point int) float64

// KernelFn evaluates one node into its frame window with zero allocations.
type KernelFn func(n *NodePlan, f *Frame)

// Catalog maps node tags to kernels.
var Catalog = [expr.TagCount]KernelFn{
	expr.TagSum:        sum,
	expr.TagDifference: difference,
	expr.TagProduct:    product,
	expr.TagRatio:      ratio,
	expr.TagBind:       bind,
	expr.TagNegate:     negate,
	expr.TagPow:        pow,
	expr.TagFunc:       apply,
	expr.TagLiteral:    pattern,
	expr.TagDelta:      pattern,
	expr.TagEpsilon:    pattern,
	expr.TagScalar:     scalar,
	expr.TagConstant:   constant,
}

// -------- Elementwise ----------

func sum(n *NodePlan, f *Frame) {
	w := f.Width
	dst, a, b := f.window(n.Off, n.Size), f.window(n.A, n.Size), f.window(n.B, n.Size)
	if n.MapB == nil {
		for i := range dst {
			dst[i] = a[i] + b[i]
		}
		return
	}
	for o, q := range n.MapB {
		d, x, y := dst[o*w:o*w+w], a[o*w:o*w+w], b[int(q)*w:int(q)*w+w]
		for l := range d {
			d[l] = x[l] + y[l]
		}
	}
}

func difference(n *NodePlan, f *Frame) {
	w := f.Width
	dst, a, b := f.window(n.Off, n.Size), f.window(n.A, n.Size), f.window(n.B, n.Size)
	if n.MapB == nil {
		for i := range dst {
			dst[i] = a[i] - b[i]
		}
		return
	}
	for o, q := range n.MapB {
		d, x, y := dst[o*w:o*w+w], a[o*w:o*w+w], b[int(q)*w:int(q)*w+w]
		for l := range d {
			d[l] = x[l] - y[l]
		}
	}
}

func negate(n *NodePlan, f *Frame) {
	dst, a := f.window(n.Off, n.Size), f.window(n.A, n.Size)
	for i := range dst {
		dst[i] = -a[i]
	}
}

func pow(n *NodePlan, f *Frame) {
	dst, a, b := f.window(n.Off, 1), f.window(n.A, 1), f.window(n.B, 1)
	for l := range dst {
		dst[l] = math.Pow(a[l], b[l])
	}
}

func apply(n *NodePlan, f *Frame) {
	dst, a := f.window(n.Off, 1), f.window(n.A, 1)
	for l := range dst {
		dst[l] = n.Func.Apply(a[l])
	}
}

// -------- Contractions ----------

func product(n *NodePlan, f *Frame) {
	w := f.Width
	dst := f.window(n.Off, n.Size)
	clear(dst)
	for k, end := 0, max(len(n.MapO), len(n.MapA), len(n.MapB), n.Size); k < end; k++ {
		oo, aa, bb := pos(n.MapO, k)*w, pos(n.MapA, k)*w, pos(n.MapB, k)*w
		d := dst[oo : oo+w]
		x := f.Stack[(n.A*w)+aa : (n.A*w)+aa+w]
		y := f.Stack[(n.B*w)+bb : (n.B*w)+bb+w]
		for l := range d {
			d[l] += x[l] * y[l]
		}
	}
}

func ratio(n *NodePlan, f *Frame) {
	w := f.Width
	dst := f.window(n.Off, n.Size)
	clear(dst)
	for k, end := 0, max(len(n.MapO), len(n.MapA), len(n.MapB), n.Size); k < end; k++ {
		oo, aa, bb := pos(n.MapO, k)*w, pos(n.MapA, k)*w, pos(n.MapB, k)*w
		d := dst[oo : oo+w]
		x := f.Stack[(n.A*w)+aa : (n.A*w)+aa+w]
		y := f.Stack[(n.B*w)+bb : (n.B*w)+bb+w]
		for l := range d {
			d[l] += x[l] / y[l]
		}
	}
}

// bind relabels its operand into the node window, tracing repeated labels.
func bind(n *NodePlan, f *Frame) {
	w := f.Width
	dst := f.window(n.Off, n.Size)
	clear(dst)
	for k, end := 0, max(len(n.MapO), len(n.MapA), n.Size); k < end; k++ {
		oo, aa := pos(n.MapO, k)*w, pos(n.MapA, k)*w
		d := dst[oo : oo+w]
		x := f.Stack[(n.A*w)+aa : (n.A*w)+aa+w]
		for l := range d {
			d[l] += x[l]
		}
	}
}

// -------- Leaves ----------

func pattern(n *NodePlan, f *Frame) {
	w := f.Width
	dst := f.window(n.Off, n.Size)
	for o, v := range n.Pattern {
		d := dst[o*w : o*w+w]
		for l := range d {
			d[l] = v
		}
	}
}

func scalar(n *NodePlan, f *Frame) {
	w := f.Width
	dst := f.window(n.Off, n.Size)
	clear(dst)
	for k, id := range n.IDs {
		d := dst[pos(n.MapO, k)*w:][:w]
		for l := range d {
			d[l] += f.Scalars(int(id), f.Point+l)
		}
	}
}

func constant(n *NodePlan, f *Frame) {
	w := f.Width
	dst := f.window(n.Off, n.Size)
	clear(dst)
	for k, id := range n.IDs {
		v := f.Constants[id]
		d := dst[pos(n.MapO, k)*w:][:w]
		for l := range d {
			d[l] += v
		}
	}
}
