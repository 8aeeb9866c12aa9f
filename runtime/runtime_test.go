package runtime

import (
	"bytes"
	"context"
	"log/slog"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sbl8/tensorc/compiler"
	"github.com/sbl8/tensorc/core"
	"github.com/sbl8/tensorc/expr"
	"github.com/sbl8/tensorc/kernels"
	"github.com/sbl8/tensorc/model"
)

const floatTolerance = 1e-9

// elasticity compiles the Navier-Cauchy operator on a vector field with
// constants mu and lambda.
func elasticity(t testing.TB, scalarize bool) *model.Program {
	t.Helper()
	u, mu, lam := expr.Vector("u"), expr.Scalar("mu"), expr.Scalar("lambda")
	rhs := expr.Add(
		expr.Mul(mu.Ref(), expr.D(u.At("i"), "jj")),
		expr.Mul(expr.Add(lam.Ref(), mu.Ref()), expr.D(u.At("j"), "ij")),
	)
	sys, err := model.NewSystem("elasticity", 3, model.Eq(u, "i", rhs))
	require.NoError(t, err)
	opts := compiler.DefaultOptions()
	opts.Scalarize = scalarize
	prog, err := compiler.Compile(context.Background(), sys, opts)
	require.NoError(t, err)
	return prog
}

func field(cat *model.Catalog) kernels.ScalarFn {
	return func(id, point int) float64 {
		ref := cat.Scalars[id]
		v := math.Sin(0.01*float64(point) + 0.7*float64(id))
		for _, d := range ref.Derivs.Values() {
			v += 0.1 * float64(d+1)
		}
		return v
	}
}

func newEngine(t testing.TB, prog *model.Program, opts *EngineOptions) (*Engine, []float64) {
	t.Helper()
	e, err := NewEngine(prog, opts)
	require.NoError(t, err)
	constants, err := e.MapConstants(model.Binding{Name: "mu", Value: 0.8}, model.Binding{Name: "lambda", Value: 1.3})
	require.NoError(t, err)
	return e, constants
}

// pointwise evaluates n points one at a time.
func pointwise(t testing.TB, e *Engine, n int, constants []float64) []float64 {
	t.Helper()
	w := e.Width()
	out := make([]float64, n*w)
	scalars := field(e.Program().Catalog)
	for p := 0; p < n; p++ {
		require.NoError(t, e.Evaluate(p, scalars, constants, out[p*w:(p+1)*w]))
	}
	return out
}

func TestNewEngine(t *testing.T) {
	t.Parallel()
	prog := elasticity(t, true)

	e, err := NewEngine(prog, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, e.Width())
	assert.Equal(t, DefaultEngineOptions().Workers, e.Options().Workers)
	assert.Zero(t, e.Options().ChunkSize%kernels.Lanes)

	e, err = NewEngine(prog, &EngineOptions{Workers: 3, ChunkSize: 5})
	require.NoError(t, err)
	assert.Equal(t, 3, e.Options().Workers)
	assert.Equal(t, core.AlignUp(5, kernels.Lanes), e.Options().ChunkSize)

	_, err = NewEngine(nil, nil)
	assert.Error(t, err)

	broken := *prog
	broken.Kernels = broken.Kernels[1:]
	_, err = NewEngine(&broken, nil)
	assert.ErrorIs(t, err, model.ErrInvalidProgram)
}

func TestEngineOptions(t *testing.T) {
	t.Parallel()
	opts := DefaultEngineOptions()
	assert.Positive(t, opts.Workers)
	assert.Positive(t, opts.ChunkSize)
	assert.Nil(t, opts.Logger)
}

func TestMapConstants(t *testing.T) {
	t.Parallel()
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))
	e, err := NewEngine(elasticity(t, true), &EngineOptions{Logger: logger})
	require.NoError(t, err)
	require.Equal(t, []string{"mu", "lambda"}, e.Program().Catalog.ConstantKeys())

	values, err := e.MapConstants(
		model.Binding{Name: "lambda", Value: 2},
		model.Binding{Name: "mu", Value: 1},
		model.Binding{Name: "mu", Value: 7},
		model.Binding{Name: "kappa", Value: 3},
	)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2}, values)
	assert.Contains(t, logs.String(), "ignoring duplicate constant binding")
	assert.Contains(t, logs.String(), "constant=kappa")

	_, err = e.MapConstants(model.Binding{Name: "mu", Value: 1})
	assert.ErrorIs(t, err, ErrUnboundConstant)
	assert.Contains(t, err.Error(), "lambda")
}

func TestEvaluateRangeMatchesPointwise(t *testing.T) {
	t.Parallel()
	for _, scalarize := range []bool{true, false} {
		e, constants := newEngine(t, elasticity(t, scalarize), nil)
		w := e.Width()
		want := pointwise(t, e, 23, constants)

		got := make([]float64, 23*w)
		require.NoError(t, e.EvaluateArray(23, got, field(e.Program().Catalog), constants))
		assert.InDeltaSlice(t, want, got, floatTolerance)

		// Points outside the range stay untouched.
		partial := make([]float64, 23*w)
		for i := range partial {
			partial[i] = math.NaN()
		}
		require.NoError(t, e.EvaluateRange(3, 18, partial, field(e.Program().Catalog), constants))
		for p := 0; p < 23; p++ {
			for s := 0; s < w; s++ {
				v := partial[p*w+s]
				if p < 3 || p >= 18 {
					assert.True(t, math.IsNaN(v), "point %d written", p)
				} else {
					assert.InDelta(t, want[p*w+s], v, floatTolerance, "point %d slot %d", p, s)
				}
			}
		}
	}
}

func TestStatsSplitPrefixBodyRemainder(t *testing.T) {
	t.Parallel()
	e, constants := newEngine(t, elasticity(t, true), nil)
	out := make([]float64, 40*e.Width())
	start, end := 1, 3*kernels.Lanes+1
	require.NoError(t, e.EvaluateRange(start, end, out, field(e.Program().Catalog), constants))

	stats := e.Stats()
	assert.Equal(t, int64(end-start), stats.Points)
	assert.Equal(t, stats.Points, stats.ScalarPoints+stats.LanePoints)
	assert.Equal(t, int64(2*kernels.Lanes), stats.LanePoints)
}

func TestEvaluateColumns(t *testing.T) {
	t.Parallel()
	e, constants := newEngine(t, elasticity(t, false), nil)
	const n = 37
	w := e.Width()
	want := pointwise(t, e, n, constants)

	cat := e.Program().Catalog
	scalars := field(cat)
	fields := make([][]float64, len(cat.Scalars))
	for id := range fields {
		fields[id] = make([]float64, n)
		for p := range fields[id] {
			fields[id][p] = scalars(id, p)
		}
	}

	// Offset every output column by one slot so the aligned body starts late.
	out := make([][]float64, w)
	for s := range out {
		out[s] = make([]float64, n+1)[1:]
	}
	require.NoError(t, e.EvaluateColumns(&Columns{Fields: fields, Out: out, Constants: constants}))
	for p := 0; p < n; p++ {
		for s := 0; s < w; s++ {
			assert.InDelta(t, want[p*w+s], out[s][p], floatTolerance, "point %d slot %d", p, s)
		}
	}
	assert.Equal(t, int64(n), e.Stats().Points-int64(n))
}

func TestEvaluateParallelMatchesSequential(t *testing.T) {
	t.Parallel()
	e, constants := newEngine(t, elasticity(t, true), &EngineOptions{Workers: 4, ChunkSize: 8})
	const n = 101
	want := make([]float64, n*e.Width())
	require.NoError(t, e.EvaluateArray(n, want, field(e.Program().Catalog), constants))

	got := make([]float64, n*e.Width())
	require.NoError(t, e.EvaluateParallel(context.Background(), n, got, field(e.Program().Catalog), constants))
	assert.Equal(t, want, got)
	assert.Equal(t, int64((n+7)/8), e.Stats().Chunks)
}

func TestEvaluateParallelCancelled(t *testing.T) {
	t.Parallel()
	e, constants := newEngine(t, elasticity(t, true), &EngineOptions{Workers: 2, ChunkSize: 4})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out := make([]float64, 64*e.Width())
	err := e.EvaluateParallel(ctx, 64, out, field(e.Program().Catalog), constants)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestShapeErrors(t *testing.T) {
	t.Parallel()
	e, constants := newEngine(t, elasticity(t, true), nil)
	scalars := field(e.Program().Catalog)

	tests := []struct {
		name string
		fn   func() error
	}{
		{"short output", func() error { return e.Evaluate(0, scalars, constants, make([]float64, 2)) }},
		{"constant count", func() error { return e.Evaluate(0, scalars, constants[:1], make([]float64, 3)) }},
		{"nil scalars", func() error { return e.Evaluate(0, nil, constants, make([]float64, 3)) }},
		{"short array", func() error { return e.EvaluateArray(4, make([]float64, 11), scalars, constants) }},
		{"reversed range", func() error { return e.EvaluateRange(3, 2, make([]float64, 9), scalars, constants) }},
		{"column count", func() error { return e.EvaluateColumns(&Columns{Constants: constants}) }},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.ErrorIs(t, tt.fn(), ErrShape)
		})
	}
}

func TestDecodedProgramEvaluatesTheSame(t *testing.T) {
	t.Parallel()
	prog := elasticity(t, false)
	data, err := model.Encode(prog)
	require.NoError(t, err)
	decoded, err := model.Decode(data)
	require.NoError(t, err)

	e1, c1 := newEngine(t, prog, nil)
	e2, c2 := newEngine(t, decoded, nil)
	assert.Equal(t, pointwise(t, e1, 9, c1), pointwise(t, e2, 9, c2))
}
