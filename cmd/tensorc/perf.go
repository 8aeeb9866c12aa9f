package main

import (
	"context"
	"fmt"
	"io"
	goruntime "runtime"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/sbl8/tensorc/compiler"
	"github.com/sbl8/tensorc/kernels"
	"github.com/sbl8/tensorc/model"
	"github.com/sbl8/tensorc/runtime"
)

type perfFlags struct {
	points int
	iter   int
	dim    int
}

func newPerfCmd() *cobra.Command {
	var f perfFlags
	cmd := &cobra.Command{
		Use:   "perf model.yaml",
		Short: "Compare evaluator throughput for a model",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPerf(cmd.Context(), cmd.OutOrStdout(), args[0], f)
		},
	}
	cmd.Flags().IntVar(&f.points, "points", 1<<14, "points per iteration")
	cmd.Flags().IntVar(&f.iter, "iter", 10, "iterations per measurement")
	cmd.Flags().IntVar(&f.dim, "dim", 0, "override the model dimension")
	return cmd
}

func runPerf(ctx context.Context, w io.Writer, path string, f perfFlags) error {
	if f.points <= 0 || f.iter <= 0 {
		return errors.New("--points and --iter must be positive")
	}
	_, m, err := loadModel(path, f.dim)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "Tensorc Performance Analysis\n")
	fmt.Fprintf(w, "============================\n")
	fmt.Fprintf(w, "Go Version: %s\n", goruntime.Version())
	fmt.Fprintf(w, "OS/Arch: %s/%s\n", goruntime.GOOS, goruntime.GOARCH)
	fmt.Fprintf(w, "CPUs: %d\n", goruntime.NumCPU())
	fmt.Fprintf(w, "Lanes: %d\n", kernels.Lanes)
	fmt.Fprintf(w, "Model: %s (dimension %d)\n", m.System.Name, m.System.Dim)
	fmt.Fprintf(w, "Points: %d x %d iterations\n\n", f.points, f.iter)

	for _, scalarize := range []bool{true, false} {
		opts := compiler.DefaultOptions()
		opts.Scalarize = scalarize
		start := time.Now()
		prog, err := compiler.Compile(ctx, m.System, opts)
		if err != nil {
			return err
		}
		compileTime := time.Since(start)

		label := "tensor kernels"
		if scalarize {
			label = "scalar kernels"
		}
		fmt.Fprintf(w, "%s: %d kernels, %d nodes, depth %d, compiled in %v\n",
			label, len(prog.Kernels), prog.Nodes(), prog.StackDepth(), compileTime)
		if err := measure(ctx, w, prog, m.Bindings(), f); err != nil {
			return err
		}
		fmt.Fprintln(w)
	}
	return nil
}

func measure(ctx context.Context, w io.Writer, prog *model.Program, bindings []model.Binding, f perfFlags) error {
	engine, err := runtime.NewEngine(prog, nil)
	if err != nil {
		return err
	}
	constants, err := engine.MapConstants(bindings...)
	if err != nil {
		return err
	}
	scalars := syntheticField(prog.Catalog)
	width := engine.Width()
	out := make([]float64, f.points*width)

	pointwise := func() error {
		for p := 0; p < f.points; p++ {
			if err := engine.Evaluate(p, scalars, constants, out[p*width:(p+1)*width]); err != nil {
				return err
			}
		}
		return nil
	}
	lanes := func() error { return engine.EvaluateArray(f.points, out, scalars, constants) }
	parallel := func() error { return engine.EvaluateParallel(ctx, f.points, out, scalars, constants) }

	for _, run := range []struct {
		name string
		fn   func() error
	}{
		{"Pointwise", pointwise},
		{"Lanes", lanes},
		{"Parallel", parallel},
	} {
		start := time.Now()
		for i := 0; i < f.iter; i++ {
			if err := run.fn(); err != nil {
				return err
			}
		}
		elapsed := time.Since(start)
		rate := float64(f.points*f.iter) / elapsed.Seconds()
		fmt.Fprintf(w, "  %-10s %12v (%.2f Mpoints/s)\n", run.name+":", elapsed, rate/1e6)
	}
	return nil
}
