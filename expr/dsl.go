package expr

import "github.com/sbl8/tensorc/core"

// Num returns the exact integer literal n.
func Num(n int64) *Node { return Lit(Int(n)) }

// Frac returns the exact rational literal p/q.
func Frac(p, q int64) *Node { return Lit(Rational(p, q)) }

// Real returns a floating literal.
func Real(f float64) *Node { return Lit(Float(f)) }

// Add folds terms left to right into a Sum chain.
func Add(terms ...*Node) *Node {
	core.Assertf(len(terms) > 0, "add of no terms")
	out := terms[0]
	for _, t := range terms[1:] {
		out = Sum(out, t)
	}
	return out
}

// Sub returns a-b.
func Sub(a, b *Node) *Node { return Difference(a, b) }

// Mul folds factors left to right into a Product chain.
func Mul(factors ...*Node) *Node {
	core.Assertf(len(factors) > 0, "mul of no factors")
	out := factors[0]
	for _, f := range factors[1:] {
		out = Product(out, f)
	}
	return out
}

// Div returns a/b.
func Div(a, b *Node) *Node { return Ratio(a, b) }

// Neg returns -a.
func Neg(a *Node) *Node { return Negate(a) }

// Square returns a**2.
func Square(a *Node) *Node { return Pow(a, Num(2)) }

// D marks the partial derivative of e along each label in turn, e.g.
// D(u, "ii") is the Laplacian of a scalar field u.
func D(e *Node, labels string) *Node { return Partial(e, core.NewIndex(labels)) }

// Delta returns the Kronecker delta, e.g. Delta("ij").
func Delta(labels string) *Node { return DeltaIndex(core.NewIndex(labels)) }

// Epsilon returns the Levi-Civita symbol, e.g. Epsilon("ijk").
func Epsilon(labels string) *Node { return EpsilonIndex(core.NewIndex(labels)) }

// Bind renames the free labels of e positionally, e.g. Bind(m.At("ij"), "ji")
// is the transpose.
func Bind(e *Node, labels string) *Node { return BindIndex(e, core.NewIndex(labels)) }

// Symmetrize averages e over every permutation of its free labels.
func Symmetrize(e *Node) *Node {
	if e.Rank() < 2 {
		return e
	}
	perms := permutations(e.outer)
	terms := make([]*Node, 0, len(perms))
	for _, p := range perms {
		if p == e.outer {
			terms = append(terms, e)
			continue
		}
		terms = append(terms, BindIndex(e, p))
	}
	return Product(Frac(1, int64(len(perms))), Add(terms...))
}

// permutations lists every ordering of idx, identity first.
func permutations(idx core.Index) []core.Index {
	if idx.Len() <= 1 {
		return []core.Index{idx}
	}
	var out []core.Index
	for i := 0; i < idx.Len(); i++ {
		head := idx.At(i)
		rest := idx.Minus(core.IndexOf(head))
		for _, p := range permutations(rest) {
			out = append(out, core.IndexOf(head).Concat(p))
		}
	}
	return out
}

// Sqrt returns sqrt(a).
func Sqrt(a *Node) *Node { return Apply(FuncSqrt, a) }

// Exp returns exp(a).
func Exp(a *Node) *Node { return Apply(FuncExp, a) }

// Log returns the natural logarithm of a.
func Log(a *Node) *Node { return Apply(FuncLog, a) }

func Sin(a *Node) *Node  { return Apply(FuncSin, a) }
func Cos(a *Node) *Node  { return Apply(FuncCos, a) }
func Tan(a *Node) *Node  { return Apply(FuncTan, a) }
func Sinh(a *Node) *Node { return Apply(FuncSinh, a) }
func Cosh(a *Node) *Node { return Apply(FuncCosh, a) }
func Tanh(a *Node) *Node { return Apply(FuncTanh, a) }
