package compiler

import (
	"github.com/sbl8/tensorc/core"
	"github.com/sbl8/tensorc/expr"
)

// env assigns a concrete value to each bound label; -1 means unbound.
type env [256]int16

func emptyEnv() env {
	var e env
	for i := range e {
		e[i] = -1
	}
	return e
}

func (e *env) value(c byte) int {
	v := e[c]
	core.Assertf(v >= 0, "index label %q is unbound", c)
	return int(v)
}

// Scalarizer expands a tensor expression into one scalar expression per
// component for a fixed dimensionality.
type Scalarizer struct {
	Dim        int
	IsConstant func(*expr.Tensor) bool
}

// Scalarize returns the simplified scalar expression of every component of
// n, enumerated row-major over labels (last label fastest). labels must be a
// permutation of n's free labels.
func (s *Scalarizer) Scalarize(n *expr.Node, labels core.Index) []*expr.Node {
	core.Assertf(labels.IsPermutationOf(n.Outer()),
		"scalarize %s over %q, free labels are %q", n, labels, n.Outer())
	out := make([]*expr.Node, 0, core.Pow(s.Dim, labels.Len()))
	for o := core.NewOdometer(labels.Len(), s.Dim); !o.Done(); o.Next() {
		e := emptyEnv()
		for p, v := range o.Digits() {
			e[labels.At(p)] = int16(v)
		}
		out = append(out, Simplify(s.eval(n, e)))
	}
	return out
}

// sumOver binds every assignment of labels in turn and adds the terms left
// to right. With no labels it evaluates fn once.
func (s *Scalarizer) sumOver(labels core.Index, e env, fn func(env) *expr.Node) *expr.Node {
	var out *expr.Node
	for o := core.NewOdometer(labels.Len(), s.Dim); !o.Done(); o.Next() {
		inner := e
		for p, v := range o.Digits() {
			inner[labels.At(p)] = int16(v)
		}
		term := fn(inner)
		if out == nil {
			out = term
		} else {
			out = expr.Sum(out, term)
		}
	}
	return out
}

// eval resolves n under e to a rank-0 expression.
func (s *Scalarizer) eval(n *expr.Node, e env) *expr.Node {
	switch n.Tag() {
	case expr.TagSum, expr.TagDifference, expr.TagPow:
		return expr.Rebuild(n, s.eval(n.Left(), e), s.eval(n.Right(), e))

	case expr.TagNegate, expr.TagFunc:
		return expr.Rebuild(n, s.eval(n.Child(), e), nil)

	case expr.TagProduct, expr.TagRatio:
		return s.sumOver(n.Contracted(), e, func(inner env) *expr.Node {
			return expr.Rebuild(n, s.eval(n.Left(), inner), s.eval(n.Right(), inner))
		})

	case expr.TagBind:
		from, to := n.From(), n.Index()
		return s.sumOver(to.Repeated(), e, func(inner env) *expr.Node {
			child := emptyEnv()
			for p := 0; p < from.Len(); p++ {
				child[from.At(p)] = int16(inner.value(to.At(p)))
			}
			return s.eval(n.Child(), child)
		})

	case expr.TagTensor:
		t, binding := n.Tensor(), n.Index()
		return s.sumOver(binding.Repeated(), e, func(inner env) *expr.Node {
			return expr.ScalarLeaf(s.ref(t, binding, &inner))
		})

	case expr.TagDelta:
		idx := n.Index()
		return s.sumOver(idx.Repeated(), e, func(inner env) *expr.Node {
			if inner.value(idx.At(0)) == inner.value(idx.At(1)) {
				return expr.Num(1)
			}
			return expr.Num(0)
		})

	case expr.TagEpsilon:
		idx := n.Index()
		core.Assertf(idx.Len() == s.Dim, "epsilon(%s) needs %d labels for dimension %d", idx, s.Dim, s.Dim)
		return s.sumOver(idx.Repeated(), e, func(inner env) *expr.Node {
			digits := make([]int, idx.Len())
			for p := range digits {
				digits[p] = inner.value(idx.At(p))
			}
			return expr.Num(int64(core.PermutationSign(digits)))
		})

	case expr.TagLiteral:
		return expr.Lit(n.Literal())

	case expr.TagScalar:
		return n
	}
	core.Fatalf("scalarize %s node %s", n.Tag(), n)
	return nil
}

// ref resolves a tensor leaf under e: the first Order() labels select the
// component, the rest are derivative directions.
func (s *Scalarizer) ref(t *expr.Tensor, binding core.Index, e *env) expr.ScalarRef {
	var component, derivs core.Coord
	for p := 0; p < binding.Len(); p++ {
		v := e.value(binding.At(p))
		if p < t.Order() {
			component = component.Append(v)
		} else {
			derivs = derivs.Append(v)
		}
	}
	return expr.NewScalarRef(t, component, derivs, s.IsConstant(t))
}

// LeafRefs lists the scalar references a tensor leaf reads, one per
// assignment of its unique labels in row-major order.
func (s *Scalarizer) LeafRefs(n *expr.Node) []expr.ScalarRef {
	core.Assertf(n.Tag() == expr.TagTensor, "leaf refs of %s node", n.Tag())
	labels := n.Index().Unique()
	out := make([]expr.ScalarRef, 0, core.Pow(s.Dim, labels.Len()))
	for o := core.NewOdometer(labels.Len(), s.Dim); !o.Done(); o.Next() {
		e := emptyEnv()
		for p, v := range o.Digits() {
			e[labels.At(p)] = int16(v)
		}
		out = append(out, s.ref(n.Tensor(), n.Index(), &e))
	}
	return out
}
