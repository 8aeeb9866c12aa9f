package compiler

import (
	"github.com/sbl8/tensorc/core"
	"github.com/sbl8/tensorc/expr"
)

// Simplify rewrites n bottom-up until no local rule applies at any node:
// constant folding, identity elimination, sign normalization, literal
// coefficients moved to the left of products, and structural a+a and a-a.
// Equivalence is structural only, so a+b and b+a are not recognized as equal.
// Simplify is idempotent and never mutates its input.
func Simplify(n *expr.Node) *expr.Node {
	s := &simplifier{done: make(map[*expr.Node]*expr.Node)}
	return s.node(n)
}

type simplifier struct {
	// done caches results per input node; differentiation shares subtrees.
	done map[*expr.Node]*expr.Node
}

// node simplifies children first, then rewrites n to a local fixpoint.
func (s *simplifier) node(n *expr.Node) *expr.Node {
	if out, ok := s.done[n]; ok {
		return out
	}
	out := n
	if !n.Tag().Leaf() {
		var left, right *expr.Node
		if n.Left() != nil {
			left = s.node(n.Left())
		}
		if n.Right() != nil {
			right = s.node(n.Right())
		}
		out = expr.Rebuild(n, left, right)
		for {
			next := rewrite(out)
			if next == out {
				break
			}
			out = next
		}
	}
	s.done[n] = out
	return out
}

// rewrite applies the first matching rule at n, or returns n unchanged.
// Every node it creates has already-simplified operands.
func rewrite(n *expr.Node) *expr.Node {
	switch n.Tag() {
	case expr.TagSum:
		return rewriteSum(n)
	case expr.TagDifference:
		return rewriteDifference(n)
	case expr.TagProduct:
		return rewriteProduct(n)
	case expr.TagRatio:
		return rewriteRatio(n)
	case expr.TagNegate:
		return rewriteNegate(n)
	case expr.TagPow:
		return rewritePow(n)
	case expr.TagFunc:
		if c := n.Child(); c.IsLiteral() {
			return expr.Lit(expr.Float(n.Func().Apply(c.Literal().Float64())))
		}
	case expr.TagBind:
		return rewriteBind(n)
	}
	return n
}

func rewriteSum(n *expr.Node) *expr.Node {
	a, b := n.Left(), n.Right()
	switch {
	case a.IsLiteral() && b.IsLiteral():
		return expr.Broadcast(a.Literal().Add(b.Literal()), n.Outer())
	case b.IsZero():
		return a
	case a.IsZero():
		return b
	case a.Tag() == expr.TagNegate:
		return expr.Difference(b, a.Child())
	case b.Tag() == expr.TagNegate:
		return expr.Difference(a, b.Child())
	case expr.Equal(a, b):
		return expr.Product(expr.Num(2), a)
	}
	return n
}

func rewriteDifference(n *expr.Node) *expr.Node {
	a, b := n.Left(), n.Right()
	switch {
	case a.IsLiteral() && b.IsLiteral():
		return expr.Broadcast(a.Literal().Sub(b.Literal()), n.Outer())
	case b.IsZero():
		return a
	case a.IsZero():
		return expr.Negate(b)
	case b.Tag() == expr.TagNegate:
		return expr.Sum(a, b.Child())
	case expr.Equal(a, b):
		return expr.Zero(n.Outer())
	}
	return n
}

func rewriteProduct(n *expr.Node) *expr.Node {
	a, b := n.Left(), n.Right()
	switch {
	case a.IsZero() || b.IsZero():
		return expr.Zero(n.Outer())
	case a.IsLiteral() && b.IsLiteral() && n.Contracted().Empty():
		return expr.Broadcast(a.Literal().Mul(b.Literal()), n.Outer())
	case a.IsOne():
		return b
	case b.IsOne():
		return a
	case b.IsLiteral() && !a.IsLiteral():
		return expr.Product(b, a)
	case isCoefficient(a) && b.Tag() == expr.TagProduct && isCoefficient(b.Left()):
		return expr.Product(expr.Lit(a.Literal().Mul(b.Left().Literal())), b.Right())
	}
	return n
}

func rewriteRatio(n *expr.Node) *expr.Node {
	a, b := n.Left(), n.Right()
	core.Assertf(!b.IsZero(), "division of %s by zero", a)
	switch {
	case a.IsZero():
		return expr.Zero(n.Outer())
	case a.IsLiteral() && b.IsLiteral() && n.Contracted().Empty():
		return expr.Broadcast(a.Literal().Div(b.Literal()), n.Outer())
	case b.IsOne():
		return a
	}
	return n
}

func rewriteNegate(n *expr.Node) *expr.Node {
	a := n.Child()
	switch {
	case a.IsLiteral():
		return expr.Broadcast(a.Literal().Neg(), a.Outer())
	case a.Tag() == expr.TagNegate:
		return a.Child()
	case a.Tag() == expr.TagProduct && isCoefficient(a.Left()):
		return expr.Product(expr.Lit(a.Left().Literal().Neg()), a.Right())
	}
	return n
}

func rewritePow(n *expr.Node) *expr.Node {
	u, e := n.Left(), n.Right()
	switch {
	case u.IsLiteral() && e.IsLiteral():
		return expr.Lit(u.Literal().Pow(e.Literal()))
	case e.IsOne():
		return u
	case e.IsZero():
		return expr.One()
	}
	return n
}

func rewriteBind(n *expr.Node) *expr.Node {
	child := n.Child()
	switch {
	case n.From() == n.Index():
		return child
	case child.IsLiteral() && n.Index().Repeated().Empty():
		return expr.Broadcast(child.Literal(), n.Index())
	}
	return n
}

// isCoefficient reports whether n is a scalar literal.
func isCoefficient(n *expr.Node) bool {
	return n.IsLiteral() && n.Rank() == 0
}
