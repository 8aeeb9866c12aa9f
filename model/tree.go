package model

import (
	"github.com/pkg/errors"

	"github.com/sbl8/tensorc/core"
	"github.com/sbl8/tensorc/expr"
)

// ErrInvalidTree is returned when a serialized tree breaks a layout invariant.
var ErrInvalidTree = errors.New("invalid tree")

// CSR stores one variable-length row per node in a shared array. Offsets has
// one more entry than there are rows, so row i is Data[Offsets[i]:Offsets[i+1]].
type CSR[T any] struct {
	Offsets []int32
	Data    []T
}

// Push appends a row.
func (c *CSR[T]) Push(row ...T) {
	if len(c.Offsets) == 0 {
		c.Offsets = append(c.Offsets, 0)
	}
	c.Data = append(c.Data, row...)
	c.Offsets = append(c.Offsets, int32(len(c.Data)))
}

// Row returns row i.
func (c *CSR[T]) Row(i int) []T {
	return c.Data[c.Offsets[i]:c.Offsets[i+1]]
}

// Rows returns the number of rows.
func (c *CSR[T]) Rows() int {
	if len(c.Offsets) == 0 {
		return 0
	}
	return len(c.Offsets) - 1
}

func (c *CSR[T]) validate(name string, rows int) error {
	if c.Rows() != rows {
		return errors.Wrapf(ErrInvalidTree, "%s: %d rows for %d nodes", name, c.Rows(), rows)
	}
	if rows == 0 {
		return nil
	}
	if c.Offsets[0] != 0 || int(c.Offsets[rows]) != len(c.Data) {
		return errors.Wrapf(ErrInvalidTree, "%s: offsets do not span data", name)
	}
	for i := 0; i < rows; i++ {
		if c.Offsets[i] > c.Offsets[i+1] {
			return errors.Wrapf(ErrInvalidTree, "%s: offsets decrease at row %d", name, i)
		}
	}
	return nil
}

// NoChild marks the Left slot of nodes without an explicit left child.
const NoChild = -1

// Tree is one expression flattened in postorder. The operand of a unary node
// and the right operand of a binary node sit in the slot immediately before
// it; Left records the slot of the left operand.
//
// Every node owns the storage window [Offsets[i], Offsets[i]+Size(i)) where
// Size is Dim**rank. Windows are assigned at a monotonically increasing
// watermark, so children always sit strictly below their parent and the
// evaluation storage needs exactly StackDepth slots.
type Tree struct {
	Dim        int
	Tags       []expr.Tag
	Left       []int32
	Outer      CSR[byte]
	Inner      CSR[byte]
	Binding    CSR[byte]
	IDs        CSR[int32]
	Values     []float64
	Funcs      []expr.Func
	Offsets    []int32
	StackDepth int32
}

// Len returns the number of nodes.
func (t *Tree) Len() int { return len(t.Tags) }

// Root returns the slot of the root node.
func (t *Tree) Root() int { return len(t.Tags) - 1 }

// OuterIndex returns the free labels of node i.
func (t *Tree) OuterIndex(i int) core.Index { return core.NewIndex(string(t.Outer.Row(i))) }

// InnerIndex returns the iteration labels of node i.
func (t *Tree) InnerIndex(i int) core.Index { return core.NewIndex(string(t.Inner.Row(i))) }

// BindingIndex returns the bound labels of a leaf or Bind.
func (t *Tree) BindingIndex(i int) core.Index { return core.NewIndex(string(t.Binding.Row(i))) }

// Size returns the storage window length of node i.
func (t *Tree) Size(i int) int { return core.Pow(t.Dim, int(t.Outer.Offsets[i+1]-t.Outer.Offsets[i])) }

// Children returns the operand slots of node i, NoChild where absent.
func (t *Tree) Children(i int) (left, right int) {
	tag := t.Tags[i]
	switch {
	case tag.Binary():
		return int(t.Left[i]), i - 1
	case tag.Unary():
		return i - 1, NoChild
	}
	return NoChild, NoChild
}

// Validate re-checks the postorder shape, CSR bookkeeping and the storage
// window invariants.
func (t *Tree) Validate() error {
	n := t.Len()
	if n == 0 {
		return errors.Wrap(ErrInvalidTree, "empty tree")
	}
	if t.Dim < 1 || t.Dim > MaxDim {
		return errors.Wrapf(ErrInvalidTree, "dimension %d", t.Dim)
	}
	if len(t.Left) != n || len(t.Values) != n || len(t.Funcs) != n || len(t.Offsets) != n {
		return errors.Wrap(ErrInvalidTree, "per-node arrays disagree in length")
	}
	for _, c := range []struct {
		name string
		csr  *CSR[byte]
	}{{"outer", &t.Outer}, {"inner", &t.Inner}, {"binding", &t.Binding}} {
		if err := c.csr.validate(c.name, n); err != nil {
			return err
		}
		for i := 0; i < n; i++ {
			if len(c.csr.Row(i)) > core.IndexCapacity {
				return errors.Wrapf(ErrInvalidTree, "%s: node %d has %d labels", c.name, i, len(c.csr.Row(i)))
			}
		}
	}
	if err := t.IDs.validate("ids", n); err != nil {
		return err
	}

	// Replay the postorder with a stack of completed subtree roots.
	stack := make([]int, 0, n)
	for i := 0; i < n; i++ {
		tag := t.Tags[i]
		if tag == expr.TagInvalid || tag >= expr.TagCount || tag == expr.TagPartial || tag == expr.TagTensor {
			return errors.Wrapf(ErrInvalidTree, "node %d: unexpected tag %s", i, tag)
		}
		left, right := t.Children(i)
		switch {
		case tag.Binary():
			if len(stack) < 2 || stack[len(stack)-1] != right || stack[len(stack)-2] != left {
				return errors.Wrapf(ErrInvalidTree, "node %d: operands %d, %d are not the last two subtrees", i, left, right)
			}
			if !(left < right && right < i) {
				return errors.Wrapf(ErrInvalidTree, "node %d: operand order %d, %d", i, left, right)
			}
			stack = stack[:len(stack)-2]
		case tag.Unary():
			if len(stack) < 1 || stack[len(stack)-1] != left {
				return errors.Wrapf(ErrInvalidTree, "node %d: operand %d is not the last subtree", i, left)
			}
			stack = stack[:len(stack)-1]
		default:
			if t.Left[i] != NoChild {
				return errors.Wrapf(ErrInvalidTree, "leaf %d records a left child", i)
			}
		}
		for _, c := range []int{left, right} {
			if c != NoChild && int(t.Offsets[c])+t.Size(c) > int(t.Offsets[i]) {
				return errors.Wrapf(ErrInvalidTree, "node %d: child %d window overlaps parent", i, c)
			}
		}
		if i > 0 && t.Offsets[i] < t.Offsets[i-1]+int32(t.Size(i-1)) {
			return errors.Wrapf(ErrInvalidTree, "node %d: offsets not monotonic", i)
		}
		stack = append(stack, i)
	}
	if len(stack) != 1 {
		return errors.Wrapf(ErrInvalidTree, "%d disconnected subtrees", len(stack))
	}
	if last := n - 1; t.StackDepth != t.Offsets[last]+int32(t.Size(last)) {
		return errors.Wrapf(ErrInvalidTree, "stack depth %d does not match watermark %d",
			t.StackDepth, t.Offsets[last]+int32(t.Size(last)))
	}
	return nil
}
