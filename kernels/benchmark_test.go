package kernels

import (
	"testing"

	"github.com/sbl8/tensorc/expr"
	"github.com/sbl8/tensorc/model"
)

func elasticity(b *testing.B, scalarize bool) (*Plan, *model.Program) {
	u, mu, lam := expr.Vector("u"), expr.Scalar("mu"), expr.Scalar("lambda")
	rhs := expr.Add(
		expr.Mul(mu.Ref(), expr.D(u.At("i"), "jj")),
		expr.Mul(expr.Add(lam.Ref(), mu.Ref()), expr.D(u.At("j"), "ij")),
	)
	prog := compile(b, scalarize, 3, model.Eq(u, "i", rhs))
	if len(prog.Kernels) == 0 {
		b.Fatal("no kernels")
	}
	p, err := NewPlan(prog.Kernels[0].Tree)
	if err != nil {
		b.Fatal(err)
	}
	return p, prog
}

func benchmarkPlan(b *testing.B, width int) {
	p, prog := elasticity(b, false)
	scalars, constants := bindFields(prog.Catalog)
	f := NewFrame(p.StackDepth, width)
	f.Scalars, f.Constants = scalars, constants

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		f.Point = i
		p.Run(f)
	}
	b.ReportMetric(float64(b.N*width)/b.Elapsed().Seconds(), "points/s")
}

func BenchmarkElasticity_Scalar(b *testing.B) { benchmarkPlan(b, 1) }

func BenchmarkElasticity_Lanes(b *testing.B) { benchmarkPlan(b, Lanes) }

func BenchmarkNewPlan(b *testing.B) {
	_, prog := elasticity(b, false)
	tree := prog.Kernels[0].Tree

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := NewPlan(tree); err != nil {
			b.Fatal(err)
		}
	}
}
