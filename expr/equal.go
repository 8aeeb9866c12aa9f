package expr

import (
	"fmt"
	"strings"
)

// Equal reports structural equality: same kinds, labels, symbols and values
// in the same operand order. It is not aware of commutativity, so a+b and b+a
// differ.
func Equal(a, b *Node) bool {
	if a == b {
		return true
	}
	if a == nil || b == nil {
		return false
	}
	if a.tag != b.tag || a.outer != b.outer || a.index != b.index || a.from != b.from {
		return false
	}
	switch a.tag {
	case TagLiteral:
		return a.lit.Equal(b.lit)
	case TagTensor:
		return a.tensor == b.tensor
	case TagScalar:
		return a.ref == b.ref
	case TagDelta, TagEpsilon:
		return true
	case TagFunc:
		if a.fn != b.fn {
			return false
		}
	}
	return Equal(a.left, b.left) && Equal(a.right, b.right)
}

// String renders the tree in infix form for diagnostics.
func (n *Node) String() string {
	var b strings.Builder
	n.format(&b)
	return b.String()
}

func (n *Node) format(b *strings.Builder) {
	switch n.tag {
	case TagSum, TagDifference, TagProduct, TagRatio, TagPow:
		op := map[Tag]string{TagSum: " + ", TagDifference: " - ", TagProduct: "*", TagRatio: "/", TagPow: "^"}[n.tag]
		b.WriteByte('(')
		n.left.format(b)
		b.WriteString(op)
		n.right.format(b)
		b.WriteByte(')')
	case TagNegate:
		b.WriteString("-")
		n.left.format(b)
	case TagFunc:
		b.WriteString(n.fn.String())
		b.WriteByte('(')
		n.left.format(b)
		b.WriteByte(')')
	case TagBind:
		b.WriteString("bind(")
		n.left.format(b)
		fmt.Fprintf(b, ", %s->%s)", n.from, n.index)
	case TagPartial:
		b.WriteString("D(")
		n.left.format(b)
		fmt.Fprintf(b, ", %s)", n.index)
	case TagLiteral:
		b.WriteString(n.lit.String())
		if !n.outer.Empty() {
			fmt.Fprintf(b, "_%s", n.outer)
		}
	case TagTensor:
		b.WriteString(n.tensor.name)
		if !n.index.Empty() {
			fmt.Fprintf(b, "(%s)", n.index)
		}
	case TagDelta:
		fmt.Fprintf(b, "delta(%s)", n.index)
	case TagEpsilon:
		fmt.Fprintf(b, "epsilon(%s)", n.index)
	case TagScalar:
		b.WriteString(n.ref.Key())
	default:
		fmt.Fprintf(b, "<%s>", n.tag)
	}
}
