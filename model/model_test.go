package model_test

import (
	"context"
	"encoding/binary"
	"hash/crc32"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sbl8/tensorc/compiler"
	"github.com/sbl8/tensorc/core"
	"github.com/sbl8/tensorc/expr"
	"github.com/sbl8/tensorc/model"
)

func stress(t *testing.T, scalarize bool) *model.Program {
	t.Helper()
	u, mu, lam := expr.Vector("u"), expr.Scalar("mu"), expr.Scalar("lambda")
	sigma, f := expr.Matrix("sigma"), expr.Vector("f")
	rhs := expr.Add(
		expr.Mul(expr.Num(2), mu.Ref(), expr.Symmetrize(expr.D(u.At("i"), "j"))),
		expr.Mul(lam.Ref(), expr.Delta("ij"), expr.D(u.At("k"), "k")),
	)
	sys, err := model.NewSystem("stress", 3,
		model.Eq(sigma, "ij", rhs),
		model.Eq(u, "i", expr.D(sigma.At("ij"), "j")),
		model.Eq(f, "i", expr.Mul(expr.Sin(expr.Mul(u.At("k"), u.At("k"))), u.At("i"))),
	)
	require.NoError(t, err)
	opts := compiler.DefaultOptions()
	opts.Scalarize = scalarize
	prog, err := compiler.Compile(context.Background(), sys, opts)
	require.NoError(t, err)
	return prog
}

func matvec(t *testing.T) *model.Program {
	t.Helper()
	m, v, w := expr.Matrix("m"), expr.Vector("v"), expr.Vector("w")
	sys, err := model.NewSystem("matvec", 3, model.Eq(w, "i", expr.Mul(m.At("ij"), v.At("j"))))
	require.NoError(t, err)
	opts := compiler.DefaultOptions()
	opts.Scalarize = false
	prog, err := compiler.Compile(context.Background(), sys, opts)
	require.NoError(t, err)
	return prog
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	t.Parallel()
	for _, scalarize := range []bool{true, false} {
		prog := stress(t, scalarize)
		data, err := model.Encode(prog)
		require.NoError(t, err)
		require.Equal(t, model.Magic, binary.LittleEndian.Uint32(data))

		got, err := model.Decode(data)
		require.NoError(t, err)
		assert.Equal(t, prog.ID, got.ID)
		assert.Equal(t, prog.Name, got.Name)
		assert.Equal(t, prog.Dim, got.Dim)
		assert.Equal(t, prog.Outputs, got.Outputs)
		assert.Equal(t, prog.OutputKeys(), got.OutputKeys())
		assert.Equal(t, prog.Catalog.ConstantKeys(), got.Catalog.ConstantKeys())
		assert.Equal(t, prog.Catalog.ScalarKeys(), got.Catalog.ScalarKeys())
		require.Len(t, got.Kernels, len(prog.Kernels))
		for i, k := range prog.Kernels {
			g := got.Kernels[i]
			assert.Equal(t, k.Equation, g.Equation)
			assert.Equal(t, k.Targets, g.Targets)
			assert.Equal(t, k.Tree.Tags, g.Tree.Tags)
			assert.Equal(t, k.Tree.Funcs, g.Tree.Funcs)
			assert.Equal(t, k.Tree.Left, g.Tree.Left)
			assert.Equal(t, k.Tree.Offsets, g.Tree.Offsets)
			assert.Equal(t, k.Tree.Values, g.Tree.Values)
			assert.Equal(t, k.Tree.IDs.Data, g.Tree.IDs.Data)
			assert.Equal(t, k.Tree.Outer.Data, g.Tree.Outer.Data)
			assert.Equal(t, k.Tree.Inner, g.Tree.Inner)
			assert.Equal(t, k.Tree.Binding, g.Tree.Binding)
			assert.Equal(t, k.Tree.StackDepth, g.Tree.StackDepth)
		}

		// Re-encoding the decoded program is byte identical.
		again, err := model.Encode(got)
		require.NoError(t, err)
		assert.Equal(t, data, again)
	}
}

func TestWriteReadFile(t *testing.T) {
	t.Parallel()
	prog := matvec(t)
	path := filepath.Join(t.TempDir(), "matvec.tnsr")
	require.NoError(t, model.WriteFile(path, prog))

	got, err := model.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, prog.ID, got.ID)

	_, err = model.ReadFile(filepath.Join(t.TempDir(), "missing.tnsr"))
	assert.Error(t, err)
}

// reseal rewrites the header length and checksum after a payload edit.
func reseal(data []byte) []byte {
	binary.LittleEndian.PutUint32(data[24:], uint32(len(data)-32))
	binary.LittleEndian.PutUint32(data[28:], crc32.ChecksumIEEE(data[32:]))
	return data
}

func TestDecodeDetectsCorruption(t *testing.T) {
	t.Parallel()
	prog := matvec(t)
	encoded, err := model.Encode(prog)
	require.NoError(t, err)
	clone := func() []byte { return append([]byte(nil), encoded...) }

	tests := []struct {
		name   string
		mutate func([]byte) []byte
		want   error
	}{
		{"short header", func(b []byte) []byte { return b[:10] }, model.ErrCorrupt},
		{"magic", func(b []byte) []byte { b[0] ^= 0xff; return b }, model.ErrCorrupt},
		{"version", func(b []byte) []byte { b[4] = 9; return b }, model.ErrCorrupt},
		{"flipped payload byte", func(b []byte) []byte { b[len(b)-1] ^= 0x01; return b }, model.ErrCorrupt},
		{"trailing byte", func(b []byte) []byte { return append(b, 0) }, model.ErrCorrupt},
		{"resealed trailing byte", func(b []byte) []byte { return reseal(append(b, 0)) }, model.ErrCorrupt},
		{"resealed truncation", func(b []byte) []byte { return reseal(b[:len(b)-1]) }, model.ErrCorrupt},
		{"resealed stack depth", func(b []byte) []byte {
			depth := binary.LittleEndian.Uint32(b[len(b)-4:])
			binary.LittleEndian.PutUint32(b[len(b)-4:], depth+1)
			return reseal(b)
		}, model.ErrInvalidTree},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := model.Decode(tt.mutate(clone()))
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestTreeValidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		mutate func(*model.Tree)
	}{
		{"stack depth", func(tr *model.Tree) { tr.StackDepth++ }},
		{"overlapping window", func(tr *model.Tree) { tr.Offsets[1] = 0 }},
		{"wrong left operand", func(tr *model.Tree) { tr.Left[2] = 1 }},
		{"unexpanded tensor", func(tr *model.Tree) { tr.Tags[0] = expr.TagTensor }},
		{"dimension", func(tr *model.Tree) { tr.Dim = 0 }},
		{"array lengths", func(tr *model.Tree) { tr.Values = tr.Values[:1] }},
		{"csr rows", func(tr *model.Tree) { tr.Inner.Offsets = tr.Inner.Offsets[:2] }},
		{"disconnected", func(tr *model.Tree) { tr.Tags[2] = expr.TagConstant; tr.Left[2] = model.NoChild }},
		{"empty", func(tr *model.Tree) { *tr = model.Tree{Dim: 3} }},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			tree := matvec(t).Kernels[0].Tree
			require.NoError(t, tree.Validate())
			tt.mutate(tree)
			assert.ErrorIs(t, tree.Validate(), model.ErrInvalidTree)
		})
	}
}

func TestProgramValidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		mutate func(*model.Program)
		want   error
	}{
		{"missing catalog", func(p *model.Program) { p.Catalog = nil }, model.ErrInvalidProgram},
		{"duplicate target", func(p *model.Program) { p.Kernels[0].Targets[0] = p.Kernels[0].Targets[1] }, model.ErrInvalidProgram},
		{"target out of range", func(p *model.Program) { p.Kernels[0].Targets[0] = 99 }, model.ErrInvalidProgram},
		{"target count", func(p *model.Program) { p.Kernels[0].Targets = p.Kernels[0].Targets[:2] }, model.ErrInvalidProgram},
		{"output base", func(p *model.Program) { p.Outputs[0].Base = 1 }, model.ErrInvalidProgram},
		{"catalog id", func(p *model.Program) { p.Kernels[0].Tree.IDs.Data[0] = 1000 }, model.ErrInvalidProgram},
		{"missing kernel", func(p *model.Program) { p.Kernels = nil }, model.ErrInvalidProgram},
		{"missing tree", func(p *model.Program) { p.Kernels[0].Tree = nil }, model.ErrInvalidProgram},
		{"broken tree", func(p *model.Program) { p.Kernels[0].Tree.StackDepth = 0 }, model.ErrInvalidTree},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			prog := matvec(t)
			tt.mutate(prog)
			assert.ErrorIs(t, prog.Validate(), tt.want)
		})
	}
}

func TestProgramShape(t *testing.T) {
	t.Parallel()
	prog := stress(t, true)
	assert.Equal(t, 15, prog.Width())
	assert.Len(t, prog.Kernels, 15)
	keys := prog.OutputKeys()
	require.Len(t, keys, 15)
	assert.Equal(t, "sigma[0,0]", keys[0])
	assert.Equal(t, "sigma[2,1]", keys[7])
	assert.Equal(t, "u[0]", keys[9])
	assert.Equal(t, "f[2]", keys[14])
	assert.Equal(t, []string{"mu", "lambda"}, prog.Catalog.ConstantKeys())

	depth := 0
	for _, k := range prog.Kernels {
		depth = max(depth, int(k.Tree.StackDepth))
	}
	assert.Equal(t, depth, prog.StackDepth())
}

func TestOutputKey(t *testing.T) {
	t.Parallel()
	o := model.Output{Name: "sigma", Order: 2}
	assert.Equal(t, 9, o.Components(3))
	assert.Equal(t, "sigma[1,2]", o.Key(3, 5))
	assert.Equal(t, "p", model.Output{Name: "p"}.Key(3, 0))
}

func TestCatalog(t *testing.T) {
	t.Parallel()
	a, v := expr.Scalar("a"), expr.Vector("v")
	ref := func(tn *expr.Tensor, comp []int, derivs []int, constant bool) expr.ScalarRef {
		return expr.NewScalarRef(tn, core.CoordOf(comp...), core.CoordOf(derivs...), constant)
	}
	v0d1 := ref(v, []int{0}, []int{1}, false)
	cat := model.NewCatalog([]expr.ScalarRef{
		ref(v, []int{1}, nil, false),
		ref(a, nil, nil, true),
		v0d1,
		ref(v, []int{0}, nil, false),
		ref(v, []int{1}, nil, false),
	})
	assert.Equal(t, []string{"a"}, cat.ConstantKeys())
	assert.Equal(t, []string{"v[0]", "v[0]'d[1]", "v[1]"}, cat.ScalarKeys())

	id, ok := cat.Lookup(v0d1)
	assert.True(t, ok)
	assert.Equal(t, 1, id)
	assert.Equal(t, 0, cat.ID(ref(a, nil, nil, true)))

	_, ok = cat.Lookup(ref(v, []int{2}, nil, false))
	assert.False(t, ok)
	assert.Panics(t, func() { cat.ID(ref(v, []int{2}, nil, false)) })
}

func TestSystem(t *testing.T) {
	t.Parallel()
	u, k, v := expr.Scalar("u"), expr.Scalar("k"), expr.Vector("v")

	sys, err := model.NewSystem("s", 2,
		model.Eq(u, "", expr.Mul(k.Ref(), u.Ref())),
		model.Eq(v, "", expr.D(u.Ref(), "i")),
	)
	require.NoError(t, err)
	assert.Equal(t, 3, sys.Width())
	assert.True(t, sys.IsConstant(k))
	assert.False(t, sys.IsConstant(v))
	assert.Equal(t, []*expr.Tensor{u, k, v}, sys.Tensors())
	assert.Equal(t, "i", sys.Equations[1].Order().String())

	tests := []struct {
		name string
		dim  int
		eqs  []model.Equation
	}{
		{"no equations", 2, nil},
		{"zero dimension", 0, []model.Equation{model.Eq(u, "", k.Ref())}},
		{"too many dimensions", model.MaxDim + 1, []model.Equation{model.Eq(u, "", k.Ref())}},
		{"rank mismatch", 2, []model.Equation{model.Eq(v, "", k.Ref())}},
		{"label mismatch", 2, []model.Equation{model.Eq(v, "j", expr.D(k.Ref(), "i"))}},
		{"assigned twice", 2, []model.Equation{model.Eq(u, "", k.Ref()), model.Eq(u, "", k.Ref())}},
		{"nil rhs", 2, []model.Equation{{LHS: u}}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := model.NewSystem("bad", tt.dim, tt.eqs...)
			assert.ErrorIs(t, err, model.ErrInvalidSystem)
		})
	}
}

func TestCSR(t *testing.T) {
	t.Parallel()
	var c model.CSR[byte]
	assert.Equal(t, 0, c.Rows())
	c.Push('i', 'j')
	c.Push()
	c.Push('k')
	assert.Equal(t, 3, c.Rows())
	assert.Equal(t, []byte("ij"), c.Row(0))
	assert.Empty(t, c.Row(1))
	assert.Equal(t, []byte("k"), c.Row(2))
	assert.Equal(t, []int32{0, 2, 2, 3}, c.Offsets)
}
