// Package model defines the compiled representation of tensor equation
// systems.
//
// This package provides the data structures shared by the compiler and the
// runtime:
//   - Equation and System: the symbolic input, an ordered list of
//     (lhs tensor, rhs expression) pairs over a dimensionality N
//   - Catalog: the sorted, deduplicated constant and scalar tables every
//     serialized tree refers to by integer id
//   - Tree: one expression flattened in postorder into CSR arrays, with the
//     static storage offsets assigned to each node
//   - Program: the kernels of a whole system plus their output targets, and
//     a versioned binary codec for caching compiled programs
//
// Trees and Programs are immutable after compilation and safe to share
// between goroutines.
package model

import (
	"github.com/pkg/errors"

	"github.com/sbl8/tensorc/core"
	"github.com/sbl8/tensorc/expr"
)

const (
	// MaxDim bounds the dimensionality a system can be compiled for.
	MaxDim = 16

	// MaxOrder bounds tensor order and equation label count.
	MaxOrder = core.IndexCapacity
)

var (
	// ErrInvalidSystem is returned for malformed equation systems.
	ErrInvalidSystem = errors.New("invalid system")
)

// Equation assigns an expression to a tensor. Labels fixes the order in which
// the lhs components are enumerated; when empty, the rhs free-label order is
// used.
type Equation struct {
	LHS    *expr.Tensor
	Labels core.Index
	RHS    *expr.Node
}

// Eq builds an equation with the given lhs label order, e.g.
// Eq(sigma, "ij", rhs).
func Eq(lhs *expr.Tensor, labels string, rhs *expr.Node) Equation {
	return Equation{LHS: lhs, Labels: core.NewIndex(labels), RHS: rhs}
}

// Order returns the lhs label order, falling back to the rhs free labels.
func (eq Equation) Order() core.Index {
	if eq.Labels.Empty() {
		return eq.RHS.Outer()
	}
	return eq.Labels
}

// Components returns the number of output scalars of the equation for
// dimensionality dim.
func (eq Equation) Components(dim int) int {
	return core.Pow(dim, eq.LHS.Order())
}

// Validate checks the lhs against the rhs index structure.
func (eq Equation) Validate() error {
	if eq.LHS == nil || eq.RHS == nil {
		return errors.Wrap(ErrInvalidSystem, "equation with nil side")
	}
	if eq.LHS.Order() != eq.RHS.Rank() {
		return errors.Wrapf(ErrInvalidSystem, "%s: order %d does not match rhs rank %d (free labels %q)",
			eq.LHS.Name(), eq.LHS.Order(), eq.RHS.Rank(), eq.RHS.Outer())
	}
	if !eq.Order().IsPermutationOf(eq.RHS.Outer()) {
		return errors.Wrapf(ErrInvalidSystem, "%s: labels %q are not a permutation of rhs labels %q",
			eq.LHS.Name(), eq.Order(), eq.RHS.Outer())
	}
	return nil
}

// System is an ordered list of equations over a dimensionality. A tensor is
// constant for the system iff it is not the lhs of any equation.
type System struct {
	Name      string
	Dim       int
	Equations []Equation

	unknowns map[*expr.Tensor]bool
}

// NewSystem builds and validates a system.
func NewSystem(name string, dim int, eqs ...Equation) (*System, error) {
	s := &System{Name: name, Dim: dim}
	for _, eq := range eqs {
		if err := s.Add(eq); err != nil {
			return nil, err
		}
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Add appends an equation. A tensor may be the lhs of at most one equation.
func (s *System) Add(eq Equation) error {
	if err := eq.Validate(); err != nil {
		return err
	}
	if s.unknowns == nil {
		s.unknowns = make(map[*expr.Tensor]bool)
	}
	if s.unknowns[eq.LHS] {
		return errors.Wrapf(ErrInvalidSystem, "%s assigned twice", eq.LHS.Name())
	}
	s.unknowns[eq.LHS] = true
	s.Equations = append(s.Equations, eq)
	return nil
}

// Validate checks the dimensionality and every equation.
func (s *System) Validate() error {
	if s.Dim < 1 || s.Dim > MaxDim {
		return errors.Wrapf(ErrInvalidSystem, "dimension %d outside [1, %d]", s.Dim, MaxDim)
	}
	if len(s.Equations) == 0 {
		return errors.Wrap(ErrInvalidSystem, "no equations")
	}
	for _, eq := range s.Equations {
		if err := eq.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// IsConstant reports whether t never appears as an lhs.
func (s *System) IsConstant(t *expr.Tensor) bool {
	return !s.unknowns[t]
}

// Tensors returns every tensor mentioned by the system in creation order.
func (s *System) Tensors() []*expr.Tensor {
	seen := map[*expr.Tensor]bool{}
	var out []*expr.Tensor
	add := func(t *expr.Tensor) {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	for _, eq := range s.Equations {
		add(eq.LHS)
		for _, t := range eq.RHS.Tensors() {
			add(t)
		}
	}
	sortTensors(out)
	return out
}

// Width returns the total number of output scalars across all equations.
func (s *System) Width() int {
	w := 0
	for _, eq := range s.Equations {
		w += eq.Components(s.Dim)
	}
	return w
}
