package compiler

import (
	"github.com/sbl8/tensorc/core"
	"github.com/sbl8/tensorc/expr"
)

// Differentiator applies the derivative rules. A subtree is constant when
// every tensor it references satisfies IsConstant; constant subtrees
// differentiate to zero without being visited.
type Differentiator struct {
	IsConstant func(*expr.Tensor) bool

	memo map[*expr.Node]bool
}

// NewDifferentiator creates a differentiator for the given constant predicate.
func NewDifferentiator(isConstant func(*expr.Tensor) bool) *Differentiator {
	return &Differentiator{IsConstant: isConstant, memo: make(map[*expr.Node]bool)}
}

// constant reports whether n depends only on constant tensors.
func (d *Differentiator) constant(n *expr.Node) bool {
	if c, ok := d.memo[n]; ok {
		return c
	}
	c := n.DependsOnly(d.IsConstant)
	d.memo[n] = c
	return c
}

// Differentiate returns the derivative of n along each label of dir in turn.
func (d *Differentiator) Differentiate(n *expr.Node, dir core.Index) *expr.Node {
	for i := 0; i < dir.Len(); i++ {
		n = d.diff(n, dir.At(i))
	}
	return n
}

// ExpandDerivatives replaces every Partial marker, innermost first, by the
// derivative it denotes.
func (d *Differentiator) ExpandDerivatives(n *expr.Node) *expr.Node {
	if n.Tag().Leaf() {
		return n
	}
	var left, right *expr.Node
	if n.Left() != nil {
		left = d.ExpandDerivatives(n.Left())
	}
	if n.Right() != nil {
		right = d.ExpandDerivatives(n.Right())
	}
	if n.Tag() == expr.TagPartial {
		return d.Differentiate(left, n.Index())
	}
	return expr.Rebuild(n, left, right)
}

// diff differentiates n along the single label k.
func (d *Differentiator) diff(n *expr.Node, k byte) *expr.Node {
	if d.constant(n) {
		return expr.Zero(n.Outer().Append(k).Exclusive())
	}
	if n.Contracted().Contains(k) {
		return d.diff(renameDummy(n, k), k)
	}

	switch n.Tag() {
	case expr.TagTensor:
		return expr.Leaf(n.Tensor(), n.Index().Append(k))

	case expr.TagSum, expr.TagDifference:
		u, v := n.Left(), n.Right()
		switch {
		case d.constant(u):
			dv := d.diff(v, k)
			if n.Tag() == expr.TagSum {
				return dv
			}
			return expr.Negate(dv)
		case d.constant(v):
			return d.diff(u, k)
		}
		return expr.Rebuild(n, d.diff(u, k), d.diff(v, k))

	case expr.TagProduct:
		u, v := n.Left(), n.Right()
		switch {
		case d.constant(u):
			return expr.Product(u, d.diff(v, k))
		case d.constant(v):
			return expr.Product(d.diff(u, k), v)
		}
		return expr.Sum(expr.Product(d.diff(u, k), v), expr.Product(u, d.diff(v, k)))

	case expr.TagRatio:
		u, v := n.Left(), n.Right()
		if d.constant(v) {
			return expr.Ratio(d.diff(u, k), v)
		}
		var num *expr.Node
		if d.constant(u) {
			num = expr.Negate(expr.Product(u, d.diff(v, k)))
		} else {
			num = expr.Difference(expr.Product(d.diff(u, k), v), expr.Product(u, d.diff(v, k)))
		}
		return expr.Ratio(num, expr.Pow(v, expr.Num(2)))

	case expr.TagNegate:
		return expr.Negate(d.diff(n.Child(), k))

	case expr.TagPow:
		u, e := n.Left(), n.Right()
		core.Assertf(e.IsLiteral() && !e.Literal().IsFloat(),
			"derivative of power with non-rational exponent %s", e)
		exp := e.Literal()
		coeff := expr.Product(expr.Lit(exp), expr.Pow(u, expr.Lit(exp.Sub(expr.Int(1)))))
		return expr.Product(coeff, d.diff(u, k))

	case expr.TagFunc:
		u := n.Child()
		return expr.Product(funcDerivative(n.Func(), u), d.diff(u, k))

	case expr.TagBind:
		return d.diffBind(n, k)

	case expr.TagPartial:
		if n.Child().Outer().Concat(n.Index()).Repeated().Contains(k) {
			return d.diff(d.ExpandDerivatives(n), k)
		}
		return expr.Partial(n, core.IndexOf(k))
	}
	core.Fatalf("derivative of %s node %s", n.Tag(), n)
	return nil
}

// diffBind pushes the derivative below a relabeling: the child is
// differentiated along a fresh label k', which the Bind then maps to k.
func (d *Differentiator) diffBind(n *expr.Node, k byte) *expr.Node {
	from, to := n.From(), n.Index()
	kp := freshLabel(n, k)
	du := d.diff(n.Child(), kp)
	var target core.Index
	for i := 0; i < du.Outer().Len(); i++ {
		c := du.Outer().At(i)
		if c == kp {
			target = target.Append(k)
			continue
		}
		target = target.Append(to.At(from.Position(c)))
	}
	return expr.BindIndex(du, target)
}

// funcDerivative returns f'(u).
func funcDerivative(f expr.Func, u *expr.Node) *expr.Node {
	switch f {
	case expr.FuncSin:
		return expr.Cos(u)
	case expr.FuncCos:
		return expr.Negate(expr.Sin(u))
	case expr.FuncTan:
		return expr.Sum(expr.One(), expr.Square(expr.Tan(u)))
	case expr.FuncExp:
		return expr.Exp(u)
	case expr.FuncLog:
		return expr.Ratio(expr.One(), u)
	case expr.FuncSqrt:
		return expr.Ratio(expr.One(), expr.Product(expr.Num(2), expr.Sqrt(u)))
	case expr.FuncSinh:
		return expr.Cosh(u)
	case expr.FuncCosh:
		return expr.Sinh(u)
	case expr.FuncTanh:
		return expr.Difference(expr.One(), expr.Square(expr.Tanh(u)))
	}
	core.Fatalf("derivative of unknown function %s", f)
	return nil
}

// renameDummy rewrites n so the summation label c is replaced by a fresh
// label, leaving its value unchanged. A derivative along c can then be
// taken without capturing the summation.
func renameDummy(n *expr.Node, c byte) *expr.Node {
	f := freshLabel(n, c)
	switch n.Tag() {
	case expr.TagProduct, expr.TagRatio:
		u := expr.BindIndex(n.Left(), swapLabel(n.Left().Outer(), c, f))
		v := expr.BindIndex(n.Right(), swapLabel(n.Right().Outer(), c, f))
		return expr.Rebuild(n, u, v)
	case expr.TagTensor:
		return expr.Leaf(n.Tensor(), swapLabel(n.Index(), c, f))
	case expr.TagBind:
		return expr.BindIndex(n.Child(), swapLabel(n.Index(), c, f))
	}
	core.Fatalf("rename of summation label %q in %s node", c, n.Tag())
	return nil
}

// swapLabel replaces every occurrence of old by repl.
func swapLabel(idx core.Index, old, repl byte) core.Index {
	var out core.Index
	for i := 0; i < idx.Len(); i++ {
		c := idx.At(i)
		if c == old {
			c = repl
		}
		out = out.Append(c)
	}
	return out
}

// freshLabel returns a label used nowhere in n and distinct from extra.
func freshLabel(n *expr.Node, extra ...byte) byte {
	used := []core.Index{core.IndexOf(extra...)}
	n.Walk(func(m *expr.Node) {
		used = append(used, m.Outer(), m.Index(), m.From())
	})
	return core.FreshLabel(used...)
}
