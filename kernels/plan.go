package kernels

import (
	"github.com/pkg/errors"

	"github.com/sbl8/tensorc/core"
	"github.com/sbl8/tensorc/expr"
	"github.com/sbl8/tensorc/model"
)

// ErrUnsupported is returned when a tree holds a node no kernel can run.
var ErrUnsupported = errors.New("unsupported node")

// NodePlan is one node of a Tree with every index map resolved. Offsets are
// in storage slots; a nil map means the identity.
type NodePlan struct {
	Tag  expr.Tag
	Off  int
	Size int
	A, B int
	Func expr.Func
	IDs  []int32

	// MapO, MapA and MapB give, for each assignment of the node's inner
	// labels in row-major order, the position in the node's own window and
	// in the left and right operand windows.
	MapO, MapA, MapB []int32

	// Pattern holds the window of nodes whose value does not depend on the
	// point: literals, Kronecker deltas and Levi-Civita symbols.
	Pattern []float64
}

// Plan is an executable form of a Tree.
type Plan struct {
	Dim        int
	Nodes      []NodePlan
	Root       int
	RootSize   int
	StackDepth int
}

// NewPlan resolves the contraction, permutation and relabeling maps of every
// node in t once, so evaluation is pure slot arithmetic.
func NewPlan(t *model.Tree) (p *Plan, err error) {
	defer core.Recover(&err)
	if err := t.Validate(); err != nil {
		return nil, err
	}

	p = &Plan{Dim: t.Dim, Nodes: make([]NodePlan, t.Len()), StackDepth: int(t.StackDepth)}
	for i := range p.Nodes {
		n, err := planNode(t, i)
		if err != nil {
			return nil, errors.Wrapf(err, "node %d", i)
		}
		p.Nodes[i] = n
	}
	root := t.Root()
	p.Root, p.RootSize = int(t.Offsets[root]), t.Size(root)
	return p, nil
}

func planNode(t *model.Tree, i int) (NodePlan, error) {
	tag := t.Tags[i]
	if int(tag) >= len(Catalog) || Catalog[tag] == nil {
		return NodePlan{}, errors.Wrapf(ErrUnsupported, "tag %s", tag)
	}
	n := NodePlan{
		Tag:  tag,
		Off:  int(t.Offsets[i]),
		Size: t.Size(i),
		A:    model.NoChild,
		B:    model.NoChild,
		Func: t.Funcs[i],
	}
	left, right := t.Children(i)
	if left != model.NoChild {
		n.A = int(t.Offsets[left])
	}
	if right != model.NoChild {
		n.B = int(t.Offsets[right])
	}

	dim := t.Dim
	outer := t.OuterIndex(i)
	switch tag {
	case expr.TagSum, expr.TagDifference:
		if !t.OuterIndex(left).Equal(outer) {
			return n, errors.Wrapf(ErrUnsupported, "%s: left labels %q differ from %q", tag, t.OuterIndex(left), outer)
		}
		n.MapB = indexMap(outer, t.OuterIndex(right), dim)

	case expr.TagProduct, expr.TagRatio:
		inner := t.OuterIndex(left).Concat(t.OuterIndex(right)).Unique()
		n.MapO = indexMap(inner, outer, dim)
		n.MapA = indexMap(inner, t.OuterIndex(left), dim)
		n.MapB = indexMap(inner, t.OuterIndex(right), dim)

	case expr.TagBind:
		to := t.BindingIndex(i)
		if to.Len() != t.OuterIndex(left).Len() {
			return n, errors.Wrapf(ErrUnsupported, "bind of %q to %q", t.OuterIndex(left), to)
		}
		inner := to.Unique()
		n.MapO = indexMap(inner, outer, dim)
		n.MapA = indexMap(inner, to, dim)

	case expr.TagNegate:
		if t.Size(left) != n.Size {
			return n, errors.Wrapf(ErrUnsupported, "negate of %d slots into %d", t.Size(left), n.Size)
		}

	case expr.TagPow, expr.TagFunc:
		if n.Size != 1 {
			return n, errors.Wrapf(ErrUnsupported, "%s of rank %d", tag, outer.Len())
		}

	case expr.TagLiteral:
		n.Pattern = make([]float64, n.Size)
		for o := range n.Pattern {
			n.Pattern[o] = t.Values[i]
		}

	case expr.TagDelta, expr.TagEpsilon:
		binding := t.BindingIndex(i)
		if tag == expr.TagDelta && binding.Len() != 2 || tag == expr.TagEpsilon && binding.Len() != dim {
			return n, errors.Wrapf(ErrUnsupported, "%s(%s) for dimension %d", tag, binding, dim)
		}
		n.Pattern = symbolPattern(tag, binding, outer, dim)

	case expr.TagScalar, expr.TagConstant:
		inner := t.BindingIndex(i).Unique()
		n.IDs = t.IDs.Row(i)
		if len(n.IDs) != core.Pow(dim, inner.Len()) {
			return n, errors.Wrapf(ErrUnsupported, "leaf with %d ids over labels %q", len(n.IDs), inner)
		}
		n.MapO = indexMap(inner, outer, dim)
	}
	return n, nil
}

// symbolPattern tabulates delta or epsilon over their free labels, tracing
// repeated ones.
func symbolPattern(tag expr.Tag, binding, outer core.Index, dim int) []float64 {
	inner := binding.Unique()
	mapO := indexMap(inner, outer, dim)
	out := make([]float64, core.Pow(dim, outer.Len()))
	digits := make([]int, binding.Len())
	k := 0
	for o := core.NewOdometer(inner.Len(), dim); !o.Done(); o.Next() {
		for p := range digits {
			digits[p] = o.Digits()[inner.Position(binding.At(p))]
		}
		v := 0.0
		switch tag {
		case expr.TagDelta:
			if digits[0] == digits[1] {
				v = 1
			}
		case expr.TagEpsilon:
			v = float64(core.PermutationSign(digits))
		}
		out[pos(mapO, k)] += v
		k++
	}
	return out
}

// indexMap lists, for each assignment of inner in row-major order, the
// row-major position over target. Every target label must occur in inner; a
// label repeated in target reads the same value at each occurrence, which is
// how a Bind traces its child. The identity map is returned as nil.
func indexMap(inner, target core.Index, dim int) []int32 {
	stride := make([]int, inner.Len())
	for q := 0; q < target.Len(); q++ {
		p := inner.Position(target.At(q))
		core.Assertf(p >= 0, "label %q of %q missing from %q", target.At(q), target, inner)
		stride[p] += core.Pow(dim, target.Len()-1-q)
	}
	out := make([]int32, 0, core.Pow(dim, inner.Len()))
	identity := true
	for o := core.NewOdometer(inner.Len(), dim); !o.Done(); o.Next() {
		flat := 0
		for p, v := range o.Digits() {
			flat += v * stride[p]
		}
		identity = identity && flat == len(out)
		out = append(out, int32(flat))
	}
	if identity && inner.Len() == target.Len() {
		return nil
	}
	return out
}

func pos(m []int32, k int) int {
	if m == nil {
		return k
	}
	return int(m[k])
}

// Run evaluates every node of the plan into f.
func (p *Plan) Run(f *Frame) {
	for i := range p.Nodes {
		n := &p.Nodes[i]
		Catalog[n.Tag](n, f)
	}
}

// Result returns the root window of f, Width values per component.
func (p *Plan) Result(f *Frame) []float64 {
	return f.window(p.Root, p.RootSize)
}
