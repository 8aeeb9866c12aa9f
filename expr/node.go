package expr

import (
	"math"

	"github.com/sbl8/tensorc/core"
)

// Tag identifies the node kind. Values are part of the compiled program
// format and must stay stable.
type Tag uint8

const (
	TagInvalid Tag = iota
	TagSum
	TagDifference
	TagProduct
	TagRatio
	TagBind
	TagPartial
	TagNegate
	TagPow
	TagFunc
	TagLiteral
	TagTensor
	TagDelta
	TagEpsilon
	TagScalar
	TagConstant

	// TagCount bounds the dispatch tables indexed by Tag.
	TagCount
)

var tagNames = [TagCount]string{
	TagInvalid:    "invalid",
	TagSum:        "sum",
	TagDifference: "difference",
	TagProduct:    "product",
	TagRatio:      "ratio",
	TagBind:       "bind",
	TagPartial:    "partial",
	TagNegate:     "negate",
	TagPow:        "pow",
	TagFunc:       "func",
	TagLiteral:    "literal",
	TagTensor:     "tensor",
	TagDelta:      "delta",
	TagEpsilon:    "epsilon",
	TagScalar:     "scalar",
	TagConstant:   "constant",
}

func (t Tag) String() string {
	if t < TagCount {
		return tagNames[t]
	}
	return "unknown"
}

// Binary reports whether nodes of this kind have two children.
func (t Tag) Binary() bool {
	switch t {
	case TagSum, TagDifference, TagProduct, TagRatio, TagPow:
		return true
	}
	return false
}

// Unary reports whether nodes of this kind have exactly one child.
func (t Tag) Unary() bool {
	switch t {
	case TagBind, TagPartial, TagNegate, TagFunc:
		return true
	}
	return false
}

// Leaf reports whether nodes of this kind have no children.
func (t Tag) Leaf() bool {
	switch t {
	case TagLiteral, TagTensor, TagDelta, TagEpsilon, TagScalar, TagConstant:
		return true
	}
	return false
}

// Func names an elementary scalar function.
type Func uint8

const (
	FuncNone Func = iota
	FuncSqrt
	FuncExp
	FuncLog
	FuncSin
	FuncCos
	FuncTan
	FuncSinh
	FuncCosh
	FuncTanh

	FuncCount
)

var funcNames = [FuncCount]string{
	FuncNone: "none",
	FuncSqrt: "sqrt",
	FuncExp:  "exp",
	FuncLog:  "log",
	FuncSin:  "sin",
	FuncCos:  "cos",
	FuncTan:  "tan",
	FuncSinh: "sinh",
	FuncCosh: "cosh",
	FuncTanh: "tanh",
}

var funcImpls = [FuncCount]func(float64) float64{
	FuncSqrt: math.Sqrt,
	FuncExp:  math.Exp,
	FuncLog:  math.Log,
	FuncSin:  math.Sin,
	FuncCos:  math.Cos,
	FuncTan:  math.Tan,
	FuncSinh: math.Sinh,
	FuncCosh: math.Cosh,
	FuncTanh: math.Tanh,
}

func (f Func) String() string {
	if f < FuncCount {
		return funcNames[f]
	}
	return "unknown"
}

// Apply evaluates the function at x.
func (f Func) Apply(x float64) float64 {
	core.Assertf(f > FuncNone && f < FuncCount, "unknown function %d", f)
	return funcImpls[f](x)
}

// FuncByName resolves a function name; ok is false when unknown.
func FuncByName(name string) (Func, bool) {
	for f := FuncSqrt; f < FuncCount; f++ {
		if funcNames[f] == name {
			return f, true
		}
	}
	return FuncNone, false
}

// Node is an immutable expression tree node. Construct nodes only through
// the constructors in this package.
type Node struct {
	tag   Tag
	left  *Node
	right *Node

	// outer is the free index computed at construction.
	outer core.Index

	// index is the bound label list of leaves and Bind (the target labels),
	// or the direction of a Partial.
	index core.Index

	// from is the child's free index captured when a Bind was built.
	from core.Index

	tensor *Tensor
	lit    Literal
	fn     Func
	ref    ScalarRef
}

// Tag returns the node kind.
func (n *Node) Tag() Tag { return n.tag }

// Left returns the left operand of a binary node.
func (n *Node) Left() *Node { return n.left }

// Right returns the right operand of a binary node.
func (n *Node) Right() *Node { return n.right }

// Child returns the operand of a unary node.
func (n *Node) Child() *Node { return n.left }

// Outer returns the free index.
func (n *Node) Outer() core.Index { return n.outer }

// Rank returns the number of free labels.
func (n *Node) Rank() int { return n.outer.Len() }

// Index returns the bound labels of a leaf or Bind, or the Partial direction.
func (n *Node) Index() core.Index { return n.index }

// From returns the child labels a Bind renames.
func (n *Node) From() core.Index { return n.from }

// Inner returns the unique labels a node iterates over when evaluated in
// tensor form: the union of operand labels for contractions and the bound
// labels for Bind and leaves. Other kinds have no inner index.
func (n *Node) Inner() core.Index {
	switch n.tag {
	case TagProduct, TagRatio:
		return n.left.outer.Concat(n.right.outer).Unique()
	case TagBind, TagTensor, TagDelta, TagEpsilon:
		return n.index.Unique()
	}
	return core.Index{}
}

// Contracted returns the labels summed away by this node.
func (n *Node) Contracted() core.Index {
	switch n.tag {
	case TagProduct, TagRatio:
		return n.left.outer.Intersect(n.right.outer)
	case TagBind, TagTensor, TagDelta, TagEpsilon:
		return n.index.Repeated()
	}
	return core.Index{}
}

// Tensor returns the symbol of a Tensor leaf.
func (n *Node) Tensor() *Tensor { return n.tensor }

// Literal returns the value of a Literal leaf.
func (n *Node) Literal() Literal { return n.lit }

// Func returns the function of a Func node.
func (n *Node) Func() Func { return n.fn }

// Scalar returns the reference held by a Scalar leaf.
func (n *Node) Scalar() ScalarRef { return n.ref }

// IsLiteral reports whether n is a Literal leaf.
func (n *Node) IsLiteral() bool { return n.tag == TagLiteral }

// IsZero reports whether n is a zero literal of any rank.
func (n *Node) IsZero() bool { return n.tag == TagLiteral && n.lit.IsZero() }

// IsOne reports whether n is a scalar literal one.
func (n *Node) IsOne() bool { return n.tag == TagLiteral && n.outer.Empty() && n.lit.IsOne() }

// Walk visits every node in postorder.
func (n *Node) Walk(visit func(*Node)) {
	if n.left != nil {
		n.left.Walk(visit)
	}
	if n.right != nil {
		n.right.Walk(visit)
	}
	visit(n)
}

// Size returns the number of nodes in the tree, counting shared subtrees
// once per occurrence.
func (n *Node) Size() int {
	k := 0
	n.Walk(func(*Node) { k++ })
	return k
}

// Tensors returns every distinct tensor referenced by the tree, in
// first-encountered postorder.
func (n *Node) Tensors() []*Tensor {
	var out []*Tensor
	seen := map[*Tensor]bool{}
	n.Walk(func(m *Node) {
		t := m.tensor
		if m.tag == TagScalar {
			t = m.ref.Tensor
		}
		if t != nil && !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	})
	return out
}

// DependsOnly reports whether every tensor in the tree satisfies keep.
// A tree without tensors depends on nothing and returns true.
func (n *Node) DependsOnly(keep func(*Tensor) bool) bool {
	for _, t := range n.Tensors() {
		if !keep(t) {
			return false
		}
	}
	return true
}

// HasPartial reports whether any unexpanded derivative marker remains.
func (n *Node) HasPartial() bool {
	found := false
	n.Walk(func(m *Node) {
		if m.tag == TagPartial {
			found = true
		}
	})
	return found
}
