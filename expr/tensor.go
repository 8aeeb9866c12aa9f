// Package expr defines the symbolic tensor expression tree.
//
// An expression is a tree of immutable *Node values built through smart
// constructors that enforce the Einstein outer-index rule at construction
// time:
//   - Sum/Difference: operands carry the same free labels; the left operand's
//     label order wins
//   - Product/Ratio: free labels are the symmetric difference of the operands'
//     free labels; shared labels are summed
//   - Bind/Partial/leaves: free labels are the labels occurring exactly once
//
// Nodes are shared freely between trees. Passes never mutate a node; they
// build new ones, so a subtree reused by differentiation can never be observed
// changing.
package expr

import (
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/sbl8/tensorc/core"
)

var tensorSeq atomic.Uint64

// Tensor is an immutable named symbol with a fixed order. Tensors compare by
// identity: two tensors with the same name are different symbols.
type Tensor struct {
	name  string
	order int
	seq   uint64
}

// NewTensor creates a tensor symbol of the given order.
func NewTensor(name string, order int) *Tensor {
	core.Assertf(order >= 0 && order <= core.IndexCapacity, "tensor %s: invalid order %d", name, order)
	core.Assertf(name != "", "tensor name must not be empty")
	return &Tensor{name: name, order: order, seq: tensorSeq.Add(1)}
}

// Scalar creates an order-0 tensor.
func Scalar(name string) *Tensor { return NewTensor(name, 0) }

// Vector creates an order-1 tensor.
func Vector(name string) *Tensor { return NewTensor(name, 1) }

// Matrix creates an order-2 tensor.
func Matrix(name string) *Tensor { return NewTensor(name, 2) }

// Name returns the symbol name.
func (t *Tensor) Name() string { return t.name }

// Order returns the tensor order (number of component indices).
func (t *Tensor) Order() int { return t.order }

// Seq returns the creation sequence number, used for deterministic ordering.
func (t *Tensor) Seq() uint64 { return t.seq }

func (t *Tensor) String() string { return t.name }

// At binds index labels to the tensor, producing a leaf. The first Order()
// labels address components; any further labels are derivative directions.
// Repeated labels self-contract, so m.At("ii") is the trace of m.
func (t *Tensor) At(labels string) *Node {
	return Leaf(t, core.NewIndex(labels))
}

// Ref is the bare order-0 reference; it is fatal for tensors of higher order.
func (t *Tensor) Ref() *Node {
	core.Assertf(t.order == 0, "tensor %s of order %d referenced without indices", t.name, t.order)
	return Leaf(t, core.Index{})
}

// ScalarRef is the identity of one runtime-bound unknown: a concrete
// component of a tensor, the multiset of derivative directions applied to it,
// and whether the tensor is constant for the system being compiled.
type ScalarRef struct {
	Tensor    *Tensor
	Component core.Coord
	Derivs    core.Coord
	Constant  bool
}

// NewScalarRef normalizes the derivative multiset.
func NewScalarRef(t *Tensor, component, derivs core.Coord, constant bool) ScalarRef {
	core.Assertf(component.Len() == t.order, "scalar %s: component %v does not match order %d", t.name, component, t.order)
	return ScalarRef{Tensor: t, Component: component, Derivs: derivs.Sorted(), Constant: constant}
}

// Key is the stable textual name used for binding by name, e.g. "v[0]",
// "v[1]'d[0,1]" or "mu".
func (s ScalarRef) Key() string {
	return ScalarKey(s.Tensor.name, s.Component, s.Derivs)
}

// ScalarKey formats the binding name of a tensor component.
func ScalarKey(name string, component, derivs core.Coord) string {
	var b strings.Builder
	b.WriteString(name)
	if component.Len() > 0 {
		fmt.Fprintf(&b, "[%s]", component)
	}
	if derivs.Len() > 0 {
		fmt.Fprintf(&b, "'d[%s]", derivs.Sorted())
	}
	return b.String()
}

func (s ScalarRef) String() string { return s.Key() }

// Less orders scalars by tensor creation, component, then derivatives.
func (s ScalarRef) Less(o ScalarRef) bool {
	if s.Tensor != o.Tensor {
		return s.Tensor.seq < o.Tensor.seq
	}
	if s.Component != o.Component {
		return s.Component.Less(o.Component)
	}
	return s.Derivs.Less(o.Derivs)
}
