package expr

import "github.com/sbl8/tensorc/core"

// Sum returns a+b. Both operands must carry the same free labels in any order.
func Sum(a, b *Node) *Node {
	checkAdditive("sum", a, b)
	return &Node{tag: TagSum, left: a, right: b, outer: a.outer}
}

// Difference returns a-b with the same index rule as Sum.
func Difference(a, b *Node) *Node {
	checkAdditive("difference", a, b)
	return &Node{tag: TagDifference, left: a, right: b, outer: a.outer}
}

func checkAdditive(op string, a, b *Node) {
	core.Assertf(a.outer.IsPermutationOf(b.outer),
		"%s of incompatible operands: %q vs %q", op, a.outer, b.outer)
}

// Product returns the contracted product a·b. Labels shared by both operands
// are summed; the rest stay free.
func Product(a, b *Node) *Node {
	return &Node{tag: TagProduct, left: a, right: b, outer: a.outer.Xor(b.outer)}
}

// Ratio returns a/b with the same index rule as Product. A literal zero
// denominator is fatal.
func Ratio(a, b *Node) *Node {
	core.Assertf(!b.IsZero(), "ratio %s with zero denominator", a)
	return &Node{tag: TagRatio, left: a, right: b, outer: a.outer.Xor(b.outer)}
}

// Negate returns -a.
func Negate(a *Node) *Node {
	return &Node{tag: TagNegate, left: a, outer: a.outer}
}

// Pow returns base**exp. Both operands must be rank 0.
func Pow(base, exp *Node) *Node {
	core.Assertf(base.outer.Empty(), "power of rank-%d base %q", base.Rank(), base.outer)
	core.Assertf(exp.outer.Empty(), "power with rank-%d exponent %q", exp.Rank(), exp.outer)
	return &Node{tag: TagPow, left: base, right: exp}
}

// Apply returns fn(arg). The argument must be rank 0.
func Apply(fn Func, arg *Node) *Node {
	core.Assertf(fn > FuncNone && fn < FuncCount, "unknown function %d", fn)
	core.Assertf(arg.outer.Empty(), "%s of rank-%d argument %q", fn, arg.Rank(), arg.outer)
	return &Node{tag: TagFunc, left: arg, fn: fn}
}

// BindIndex renames the child's free labels positionally to the labels of
// to. Repeating a label in to contracts the matching child positions.
func BindIndex(child *Node, to core.Index) *Node {
	core.Assertf(to.Len() == child.outer.Len(),
		"bind of %q to %q: label count mismatch", child.outer, to)
	return &Node{tag: TagBind, left: child, index: to, from: child.outer, outer: to.Exclusive()}
}

// Partial marks the derivative of child along dir. Marking a marker extends
// its direction instead of nesting.
func Partial(child *Node, dir core.Index) *Node {
	core.Assertf(!dir.Empty(), "partial with empty direction")
	if child.tag == TagPartial {
		return Partial(child.left, child.index.Concat(dir))
	}
	return &Node{tag: TagPartial, left: child, index: dir, outer: child.outer.Concat(dir).Exclusive()}
}

// Lit returns a scalar literal.
func Lit(l Literal) *Node {
	return &Node{tag: TagLiteral, lit: l}
}

// Broadcast returns a literal repeated over every component of outer. It
// keeps the free labels of a folded subexpression such as 0·x_ij.
func Broadcast(l Literal, outer core.Index) *Node {
	core.Assertf(outer.Repeated().Empty(), "broadcast literal over repeated labels %q", outer)
	return &Node{tag: TagLiteral, lit: l, outer: outer}
}

// Zero returns a zero literal over outer.
func Zero(outer core.Index) *Node { return Broadcast(Int(0), outer) }

// One returns the scalar literal one.
func One() *Node { return Lit(Int(1)) }

// Leaf binds labels to a tensor. The first Order() labels are components and
// the remainder are derivative directions.
func Leaf(t *Tensor, binding core.Index) *Node {
	core.Assertf(binding.Len() >= t.order,
		"tensor %s of order %d bound to %q", t.name, t.order, binding)
	return &Node{tag: TagTensor, tensor: t, index: binding, outer: binding.Exclusive()}
}

// DeltaIndex returns the Kronecker delta over a two-label index.
func DeltaIndex(idx core.Index) *Node {
	core.Assertf(idx.Len() == 2, "delta needs two labels, got %q", idx)
	return &Node{tag: TagDelta, index: idx, outer: idx.Exclusive()}
}

// EpsilonIndex returns the Levi-Civita symbol over idx. Its length must match
// the system dimension when scalarized.
func EpsilonIndex(idx core.Index) *Node {
	core.Assertf(idx.Len() >= 2, "epsilon needs at least two labels, got %q", idx)
	return &Node{tag: TagEpsilon, index: idx, outer: idx.Exclusive()}
}

// ScalarLeaf returns a leaf referring to one concrete scalar unknown.
func ScalarLeaf(ref ScalarRef) *Node {
	return &Node{tag: TagScalar, ref: ref}
}

// withChildren rebuilds n with new operands, reapplying the constructor rules.
func (n *Node) withChildren(left, right *Node) *Node {
	switch n.tag {
	case TagSum:
		return Sum(left, right)
	case TagDifference:
		return Difference(left, right)
	case TagProduct:
		return Product(left, right)
	case TagRatio:
		return Ratio(left, right)
	case TagPow:
		return Pow(left, right)
	case TagNegate:
		return Negate(left)
	case TagFunc:
		return Apply(n.fn, left)
	case TagBind:
		return BindIndex(left, relabel(n.from, n.index, left.outer))
	case TagPartial:
		return Partial(left, n.index)
	}
	core.Fatalf("rebuild of %s node", n.tag)
	return nil
}

// relabel carries a positional renaming from→to over to a permutation of
// from, so a rebuilt Bind maps the same child labels to the same targets.
func relabel(from, to, permuted core.Index) core.Index {
	core.Assertf(permuted.IsPermutationOf(from), "bind child labels changed from %q to %q", from, permuted)
	var out core.Index
	for i := 0; i < permuted.Len(); i++ {
		out = out.Append(to.At(from.Position(permuted.At(i))))
	}
	return out
}

// Rebuild returns a node of the same kind over new operands. For a leaf it
// returns n unchanged.
func Rebuild(n *Node, left, right *Node) *Node {
	if n.tag.Leaf() {
		return n
	}
	if left == n.left && right == n.right {
		return n
	}
	return n.withChildren(left, right)
}
