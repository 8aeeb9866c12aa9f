package model

import (
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/sbl8/tensorc/core"
	"github.com/sbl8/tensorc/expr"
)

// ErrInvalidProgram is returned when a program's kernels and outputs disagree.
var ErrInvalidProgram = errors.New("invalid program")

// Binding assigns a value to a constant by its catalog key, e.g. "kappa" or
// "c[0,1]".
type Binding struct {
	Name  string
	Value float64
}

// Output describes one equation's block in the flat output vector.
type Output struct {
	Name   string
	Order  int
	Base   int
	Labels core.Index
}

// Components returns the block length for dimensionality dim.
func (o Output) Components(dim int) int { return core.Pow(dim, o.Order) }

// Key names output component k of the block, e.g. "sigma[0,1]".
func (o Output) Key(dim, k int) string {
	digits := make([]int, o.Order)
	for p := o.Order - 1; p >= 0; p-- {
		digits[p] = k % dim
		k /= dim
	}
	return expr.ScalarKey(o.Name, core.CoordOf(digits...), core.Coord{})
}

// Kernel is one executable tree. Targets maps each component of the root
// window (row-major over the root's free labels) to a slot of the flat output
// vector.
type Kernel struct {
	Equation int
	Targets  []int32
	Tree     *Tree
}

// Program is a compiled system.
type Program struct {
	ID      uuid.UUID
	Name    string
	Dim     int
	Catalog *Catalog
	Outputs []Output
	Kernels []Kernel
}

// Width returns the length of the flat output vector.
func (p *Program) Width() int {
	w := 0
	for _, o := range p.Outputs {
		w += o.Components(p.Dim)
	}
	return w
}

// OutputKeys names every slot of the flat output vector.
func (p *Program) OutputKeys() []string {
	out := make([]string, 0, p.Width())
	for _, o := range p.Outputs {
		for k := 0; k < o.Components(p.Dim); k++ {
			out = append(out, o.Key(p.Dim, k))
		}
	}
	return out
}

// StackDepth returns the largest storage requirement over all kernels.
func (p *Program) StackDepth() int {
	d := 0
	for _, k := range p.Kernels {
		d = max(d, int(k.Tree.StackDepth))
	}
	return d
}

// Nodes returns the total node count over all kernels.
func (p *Program) Nodes() int {
	n := 0
	for _, k := range p.Kernels {
		n += k.Tree.Len()
	}
	return n
}

// Validate checks every tree, every catalog reference and that the kernels
// write each output slot exactly once.
func (p *Program) Validate() error {
	if p.Catalog == nil {
		return errors.Wrap(ErrInvalidProgram, "missing catalog")
	}
	base := 0
	for _, o := range p.Outputs {
		if o.Base != base || o.Order > core.IndexCapacity {
			return errors.Wrapf(ErrInvalidProgram, "output %s: base %d order %d", o.Name, o.Base, o.Order)
		}
		base += o.Components(p.Dim)
	}
	written := make([]int, p.Width())
	for ki, k := range p.Kernels {
		if k.Tree == nil {
			return errors.Wrapf(ErrInvalidProgram, "kernel %d has no tree", ki)
		}
		if err := k.Tree.Validate(); err != nil {
			return errors.Wrapf(err, "kernel %d", ki)
		}
		if k.Tree.Dim != p.Dim {
			return errors.Wrapf(ErrInvalidProgram, "kernel %d: dimension %d, program %d", ki, k.Tree.Dim, p.Dim)
		}
		if len(k.Targets) != k.Tree.Size(k.Tree.Root()) {
			return errors.Wrapf(ErrInvalidProgram, "kernel %d: %d targets for %d root components",
				ki, len(k.Targets), k.Tree.Size(k.Tree.Root()))
		}
		for _, target := range k.Targets {
			if target < 0 || int(target) >= len(written) {
				return errors.Wrapf(ErrInvalidProgram, "kernel %d: target %d out of range", ki, target)
			}
			written[target]++
		}
		for i := 0; i < k.Tree.Len(); i++ {
			limit := len(p.Catalog.Scalars)
			if k.Tree.Tags[i] == expr.TagConstant {
				limit = len(p.Catalog.Constants)
			}
			for _, id := range k.Tree.IDs.Row(i) {
				if id < 0 || int(id) >= limit {
					return errors.Wrapf(ErrInvalidProgram, "kernel %d node %d: id %d out of range", ki, i, id)
				}
			}
		}
	}
	for slot, n := range written {
		if n != 1 {
			return errors.Wrapf(ErrInvalidProgram, "output slot %d written %d times", slot, n)
		}
	}
	return nil
}
