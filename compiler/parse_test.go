package compiler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sbl8/tensorc/core"
	"github.com/sbl8/tensorc/expr"
	"github.com/sbl8/tensorc/model"
)

type symbols struct {
	u, k, v, m, e *expr.Tensor
	table         map[string]*expr.Tensor
}

func newSymbols() symbols {
	s := symbols{
		u: expr.Scalar("u"),
		k: expr.Scalar("k"),
		v: expr.Vector("v"),
		m: expr.Matrix("m"),
		e: expr.Vector("E"),
	}
	s.table = map[string]*expr.Tensor{"u": s.u, "k": s.k, "v": s.v, "m": s.m, "E": s.e}
	return s
}

func TestParseExprMatchesBuilders(t *testing.T) {
	t.Parallel()
	s := newSymbols()

	tests := []struct {
		src  string
		want *expr.Node
	}{
		{"k * D(u, i, i)", expr.Mul(s.k.Ref(), expr.D(s.u.Ref(), "ii"))},
		{"k*D(u, ii)", expr.Mul(s.k.Ref(), expr.D(s.u.Ref(), "ii"))},
		{"m(i, j) * v(j)", expr.Mul(s.m.At("ij"), s.v.At("j"))},
		{"m(ij)", s.m.At("ij")},
		{"u + k * u", expr.Add(s.u.Ref(), expr.Mul(s.k.Ref(), s.u.Ref()))},
		{"u - k - u", expr.Sub(expr.Sub(s.u.Ref(), s.k.Ref()), s.u.Ref())},
		{"(u - k) * u", expr.Mul(expr.Sub(s.u.Ref(), s.k.Ref()), s.u.Ref())},
		{"-u^2", expr.Neg(expr.Square(s.u.Ref()))},
		{"-2 * u", expr.Mul(expr.Num(-2), s.u.Ref())},
		{"0.5 * u", expr.Mul(expr.Frac(1, 2), s.u.Ref())},
		{"1.5e0 * u", expr.Mul(expr.Real(1.5), s.u.Ref())},
		{"sin(u)^2 / exp(k)", expr.Div(expr.Square(expr.Sin(s.u.Ref())), expr.Exp(s.k.Ref()))},
		{"sqrt(u) + tanh(k)", expr.Add(expr.Sqrt(s.u.Ref()), expr.Tanh(s.k.Ref()))},
		{"symmetrize(D(v(i), j))", expr.Symmetrize(expr.D(s.v.At("i"), "j"))},
		{"delta(i, j) * D(v(k), k)", expr.Mul(expr.Delta("ij"), expr.D(s.v.At("k"), "k"))},
		{"epsilon(i, j, k) * D(E(k), j)", expr.Mul(expr.Epsilon("ijk"), expr.D(s.e.At("k"), "j"))},
		{"bind(m(i, j), j, i)", expr.Bind(s.m.At("ij"), "ji")},
		{"v(ij)", s.v.At("ij")},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.src, func(t *testing.T) {
			t.Parallel()
			got, err := ParseExpr(tt.src, s.table)
			require.NoError(t, err)
			assert.True(t, expr.Equal(tt.want, got), "got %s, want %s", got, tt.want)
		})
	}
}

func TestParseExprErrors(t *testing.T) {
	t.Parallel()
	s := newSymbols()

	tests := []struct {
		src  string
		want error
	}{
		{"u +", ErrSyntax},
		{"w", ErrSyntax},
		{"m", ErrSyntax},
		{"m(i)", ErrSyntax},
		{"D(u)", ErrSyntax},
		{"u)", ErrSyntax},
		{"(u", ErrSyntax},
		{"1..2", ErrSyntax},
		{"epsilon(i, 1)", ErrSyntax},
		{"sin u", ErrSyntax},
		{"v(i) + v(j)", core.ErrInvariant},
		{"sin(v(i))", core.ErrInvariant},
		{"u / 0", core.ErrInvariant},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.src, func(t *testing.T) {
			t.Parallel()
			n, err := ParseExpr(tt.src, s.table)
			assert.ErrorIs(t, err, tt.want)
			assert.Nil(t, n)
		})
	}
}

const heatSource = `name: heat
dimension: 2
tensors:
  - {name: u, order: 0}
  - {name: kappa, order: 0}
equations:
  - {lhs: u, rhs: "kappa * D(u, i, i)"}
constants:
  kappa: 0.1
`

func TestParseModel(t *testing.T) {
	t.Parallel()
	m, err := ParseModel([]byte(heatSource))
	require.NoError(t, err)

	assert.Equal(t, "heat", m.System.Name)
	assert.Equal(t, 2, m.System.Dim)
	require.Len(t, m.System.Equations, 1)
	assert.True(t, m.System.IsConstant(m.Tensors["kappa"]))
	assert.False(t, m.System.IsConstant(m.Tensors["u"]))
	assert.Equal(t, []model.Binding{{Name: "kappa", Value: 0.1}}, m.Bindings())

	want := expr.Mul(m.Tensors["kappa"].Ref(), expr.D(m.Tensors["u"].Ref(), "ii"))
	assert.True(t, expr.Equal(want, m.System.Equations[0].RHS))
}

func TestParseModelIndexOrder(t *testing.T) {
	t.Parallel()
	src := `name: transpose
dimension: 3
tensors:
  - {name: a, order: 2}
  - {name: b, order: 2}
equations:
  - {lhs: b, index: ji, rhs: "a(i, j)"}
`
	m, err := ParseModel([]byte(src))
	require.NoError(t, err)
	assert.Equal(t, "ji", m.System.Equations[0].Order().String())
}

func TestParseModelErrors(t *testing.T) {
	t.Parallel()
	header := "name: bad\ndimension: 2\n"
	tests := []struct {
		name string
		src  string
		want error
	}{
		{"duplicate tensor", header + "tensors: [{name: u, order: 0}, {name: u, order: 1}]\nequations: [{lhs: u, rhs: u}]", model.ErrInvalidSystem},
		{"reserved function", header + "tensors: [{name: sin, order: 0}]\nequations: [{lhs: sin, rhs: sin}]", model.ErrInvalidSystem},
		{"reserved operator", header + "tensors: [{name: delta, order: 0}]\nequations: [{lhs: delta, rhs: delta}]", model.ErrInvalidSystem},
		{"invalid name", header + "tensors: [{name: 2u, order: 0}]\nequations: []", model.ErrInvalidSystem},
		{"negative order", header + "tensors: [{name: u, order: -1}]\nequations: []", model.ErrInvalidSystem},
		{"unknown lhs", header + "tensors: [{name: u, order: 0}]\nequations: [{lhs: w, rhs: u}]", model.ErrInvalidSystem},
		{"rank mismatch", header + "tensors: [{name: u, order: 0}, {name: v, order: 1}]\nequations: [{lhs: v, rhs: u}]", model.ErrInvalidSystem},
		{"assigned twice", header + "tensors: [{name: u, order: 0}]\nequations: [{lhs: u, rhs: u}, {lhs: u, rhs: 2 * u}]", model.ErrInvalidSystem},
		{"no equations", header + "tensors: [{name: u, order: 0}]\nequations: []", model.ErrInvalidSystem},
		{"zero dimension", "name: bad\ndimension: 0\ntensors: [{name: u, order: 0}]\nequations: [{lhs: u, rhs: u}]", model.ErrInvalidSystem},
		{"syntax", header + "tensors: [{name: u, order: 0}]\nequations: [{lhs: u, rhs: \"u +\"}]", ErrSyntax},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := ParseModel([]byte(tt.src))
			assert.ErrorIs(t, err, tt.want)
		})
	}

	_, err := ParseModel([]byte("name: [unterminated"))
	assert.Error(t, err)
}

func TestLoadModel(t *testing.T) {
	t.Parallel()
	_, err := LoadModel(t.TempDir() + "/missing.yaml")
	assert.Error(t, err)
}
