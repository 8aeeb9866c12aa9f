package compiler

import (
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/sbl8/tensorc/core"
	"github.com/sbl8/tensorc/expr"
)

// ErrSyntax is returned for malformed expression text.
var ErrSyntax = errors.New("syntax error")

// ParseExpr parses an infix tensor expression. Tensor names resolve through
// tensors; index labels are single letters.
//
//	expr    := term (('+' | '-') term)*
//	term    := unary (('*' | '/') unary)*
//	unary   := '-' unary | power
//	power   := primary ('^' unary)?
//	primary := number | '(' expr ')' | name | name '(' args ')'
//
// Calls: t(i, j) binds labels to tensor t, D(e, i, ...) differentiates,
// delta(i, j), epsilon(i, j, k), symmetrize(e), bind(e, j, i) relabels, and
// sqrt exp log sin cos tan sinh cosh tanh apply functions. Integer and
// decimal numbers are exact; numbers with an exponent are floating.
func ParseExpr(src string, tensors map[string]*expr.Tensor) (n *expr.Node, err error) {
	p := &parser{src: src, tensors: tensors}
	defer func() {
		if err != nil {
			n = nil
		}
	}()
	defer core.Recover(&err)

	n, err = p.expr()
	if err != nil {
		return nil, err
	}
	p.skipSpace()
	if p.pos < len(p.src) {
		return nil, p.errorf("unexpected %q", p.src[p.pos])
	}
	return n, nil
}

type parser struct {
	src     string
	pos     int
	tensors map[string]*expr.Tensor
}

func (p *parser) errorf(format string, args ...any) error {
	return errors.Wrapf(ErrSyntax, "at %d: %s", p.pos, fmt.Sprintf(format, args...))
}

func (p *parser) skipSpace() {
	for p.pos < len(p.src) && strings.IndexByte(" \t\r\n", p.src[p.pos]) >= 0 {
		p.pos++
	}
}

// peek returns the next non-space byte, or 0 at the end.
func (p *parser) peek() byte {
	p.skipSpace()
	if p.pos < len(p.src) {
		return p.src[p.pos]
	}
	return 0
}

func (p *parser) accept(c byte) bool {
	if p.peek() == c {
		p.pos++
		return true
	}
	return false
}

func (p *parser) expect(c byte) error {
	if !p.accept(c) {
		return p.errorf("expected %q", c)
	}
	return nil
}

func (p *parser) expr() (*expr.Node, error) {
	n, err := p.term()
	if err != nil {
		return nil, err
	}
	for {
		switch {
		case p.accept('+'):
			r, err := p.term()
			if err != nil {
				return nil, err
			}
			n = expr.Sum(n, r)
		case p.accept('-'):
			r, err := p.term()
			if err != nil {
				return nil, err
			}
			n = expr.Difference(n, r)
		default:
			return n, nil
		}
	}
}

func (p *parser) term() (*expr.Node, error) {
	n, err := p.unary()
	if err != nil {
		return nil, err
	}
	for {
		switch {
		case p.accept('*'):
			r, err := p.unary()
			if err != nil {
				return nil, err
			}
			n = expr.Product(n, r)
		case p.accept('/'):
			r, err := p.unary()
			if err != nil {
				return nil, err
			}
			n = expr.Ratio(n, r)
		default:
			return n, nil
		}
	}
}

func (p *parser) unary() (*expr.Node, error) {
	if p.accept('-') {
		n, err := p.unary()
		if err != nil {
			return nil, err
		}
		if n.IsLiteral() {
			return expr.Broadcast(n.Literal().Neg(), n.Outer()), nil
		}
		return expr.Negate(n), nil
	}
	return p.power()
}

func (p *parser) power() (*expr.Node, error) {
	base, err := p.primary()
	if err != nil {
		return nil, err
	}
	if !p.accept('^') {
		return base, nil
	}
	exp, err := p.unary()
	if err != nil {
		return nil, err
	}
	return expr.Pow(base, exp), nil
}

func (p *parser) primary() (*expr.Node, error) {
	c := p.peek()
	switch {
	case c == '(':
		p.pos++
		n, err := p.expr()
		if err != nil {
			return nil, err
		}
		return n, p.expect(')')
	case c >= '0' && c <= '9' || c == '.':
		return p.number()
	case isLetter(c):
		return p.call(p.ident())
	case c == 0:
		return nil, p.errorf("unexpected end of expression")
	}
	return nil, p.errorf("unexpected %q", c)
}

func (p *parser) number() (*expr.Node, error) {
	start := p.pos
	for p.pos < len(p.src) && (isDigit(p.src[p.pos]) || p.src[p.pos] == '.') {
		p.pos++
	}
	float := false
	if p.pos < len(p.src) && (p.src[p.pos] == 'e' || p.src[p.pos] == 'E') {
		float = true
		p.pos++
		if p.pos < len(p.src) && (p.src[p.pos] == '+' || p.src[p.pos] == '-') {
			p.pos++
		}
		for p.pos < len(p.src) && isDigit(p.src[p.pos]) {
			p.pos++
		}
	}
	text := p.src[start:p.pos]
	if float {
		f, err := strconv.ParseFloat(text, 64)
		if err != nil {
			p.pos = start
			return nil, p.errorf("invalid number %q", text)
		}
		return expr.Real(f), nil
	}
	r, ok := new(big.Rat).SetString(text)
	if !ok {
		p.pos = start
		return nil, p.errorf("invalid number %q", text)
	}
	return expr.Lit(expr.RatLiteral(r)), nil
}

func (p *parser) ident() string {
	p.skipSpace()
	start := p.pos
	for p.pos < len(p.src) && (isLetter(p.src[p.pos]) || isDigit(p.src[p.pos])) {
		p.pos++
	}
	return p.src[start:p.pos]
}

// call parses a name with optional arguments.
func (p *parser) call(name string) (*expr.Node, error) {
	if fn, ok := expr.FuncByName(name); ok {
		arg, err := p.single(name)
		if err != nil {
			return nil, err
		}
		return expr.Apply(fn, arg), nil
	}
	switch name {
	case "D":
		e, labels, err := p.exprAndLabels(name)
		if err != nil {
			return nil, err
		}
		if labels.Empty() {
			return nil, p.errorf("D needs at least one direction")
		}
		return expr.Partial(e, labels), nil
	case "bind":
		e, labels, err := p.exprAndLabels(name)
		if err != nil {
			return nil, err
		}
		return expr.BindIndex(e, labels), nil
	case "symmetrize":
		e, err := p.single(name)
		if err != nil {
			return nil, err
		}
		return expr.Symmetrize(e), nil
	case "delta", "epsilon":
		if err := p.expect('('); err != nil {
			return nil, err
		}
		labels, err := p.labels()
		if err != nil {
			return nil, err
		}
		if name == "delta" {
			return expr.DeltaIndex(labels), nil
		}
		return expr.EpsilonIndex(labels), nil
	}

	t, ok := p.tensors[name]
	if !ok {
		return nil, p.errorf("unknown tensor %q", name)
	}
	if p.peek() != '(' {
		if t.Order() != 0 {
			return nil, p.errorf("tensor %s of order %d used without indices", name, t.Order())
		}
		return t.Ref(), nil
	}
	p.pos++
	labels, err := p.labels()
	if err != nil {
		return nil, err
	}
	if labels.Len() < t.Order() {
		return nil, p.errorf("tensor %s of order %d bound to %q", name, t.Order(), labels)
	}
	return expr.Leaf(t, labels), nil
}

// single parses "(expr)".
func (p *parser) single(name string) (*expr.Node, error) {
	if err := p.expect('('); err != nil {
		return nil, errors.Wrapf(err, "%s", name)
	}
	e, err := p.expr()
	if err != nil {
		return nil, err
	}
	return e, p.expect(')')
}

// exprAndLabels parses "(expr, labels...)".
func (p *parser) exprAndLabels(name string) (*expr.Node, core.Index, error) {
	if err := p.expect('('); err != nil {
		return nil, core.Index{}, errors.Wrapf(err, "%s", name)
	}
	e, err := p.expr()
	if err != nil {
		return nil, core.Index{}, err
	}
	if !p.accept(',') {
		return e, core.Index{}, p.expect(')')
	}
	labels, err := p.labels()
	return e, labels, err
}

// labels parses a comma separated label list up to and including ')'.
// Each entry may hold several labels, so t(i, j) and t(ij) agree.
func (p *parser) labels() (core.Index, error) {
	var out string
	if p.accept(')') {
		return core.Index{}, nil
	}
	for {
		word := p.ident()
		if word == "" {
			return core.Index{}, p.errorf("expected index label")
		}
		for i := 0; i < len(word); i++ {
			if !isLetter(word[i]) {
				return core.Index{}, p.errorf("invalid index label %q", word[i])
			}
		}
		out += word
		if len(out) > core.IndexCapacity {
			return core.Index{}, p.errorf("more than %d index labels", core.IndexCapacity)
		}
		if p.accept(')') {
			return core.NewIndex(out), nil
		}
		if err := p.expect(','); err != nil {
			return core.Index{}, err
		}
	}
}

func isLetter(c byte) bool { return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c == '_' }

func isDigit(c byte) bool { return c >= '0' && c <= '9' }
