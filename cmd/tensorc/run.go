package main

import (
	"fmt"
	"io"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/sbl8/tensorc/compiler"
	"github.com/sbl8/tensorc/kernels"
	"github.com/sbl8/tensorc/model"
	"github.com/sbl8/tensorc/runtime"
)

type runFlags struct {
	points    int
	workers   int
	chunk     int
	constants []string
	modelPath string
}

func newRunCmd() *cobra.Command {
	var f runFlags
	cmd := &cobra.Command{
		Use:   "run program.tnsr",
		Short: "Evaluate a compiled program over a synthetic field",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProgram(cmd, args[0], f)
		},
	}
	cmd.Flags().IntVar(&f.points, "points", 1<<16, "number of points to evaluate")
	cmd.Flags().IntVar(&f.workers, "workers", 0, "worker goroutines (default: number of CPUs)")
	cmd.Flags().IntVar(&f.chunk, "chunk", 0, "points per work chunk")
	cmd.Flags().StringArrayVar(&f.constants, "constant", nil, "constant binding name=value, repeatable")
	cmd.Flags().StringVar(&f.modelPath, "model", "", "YAML model whose constants section supplies defaults")
	return cmd
}

func runProgram(cmd *cobra.Command, path string, f runFlags) error {
	if f.points <= 0 {
		return errors.Errorf("--points must be positive, got %d", f.points)
	}
	ctx, span := otel.Tracer("tensorc").Start(cmd.Context(), "tensorc.run",
		trace.WithAttributes(attribute.String("program.path", path), attribute.Int("points", f.points)))
	defer span.End()

	prog, err := model.ReadFile(path)
	if err != nil {
		return err
	}
	bindings, err := collectBindings(f.modelPath, f.constants)
	if err != nil {
		return err
	}

	opts := runtime.DefaultEngineOptions()
	if f.workers > 0 {
		opts.Workers = f.workers
	}
	if f.chunk > 0 {
		opts.ChunkSize = f.chunk
	}
	opts.Logger = slog.Default()
	engine, err := runtime.NewEngine(prog, &opts)
	if err != nil {
		return err
	}
	constants, err := engine.MapConstants(bindings...)
	if err != nil {
		return err
	}

	out := make([]float64, f.points*engine.Width())
	start := time.Now()
	if err := engine.EvaluateParallel(ctx, f.points, out, syntheticField(prog.Catalog), constants); err != nil {
		return err
	}
	elapsed := time.Since(start)

	stats := engine.Stats()
	slog.Info("evaluated program",
		"model", prog.Name,
		"program_id", prog.ID,
		"points", stats.Points,
		"lane_points", stats.LanePoints,
		"chunks", stats.Chunks,
		"workers", opts.Workers,
		"elapsed", elapsed,
		"points_per_second", float64(f.points)/elapsed.Seconds(),
	)
	summarize(cmd.OutOrStdout(), prog, out)
	return nil
}

// collectBindings merges model constants with command line overrides; later
// bindings of the same name win.
func collectBindings(modelPath string, flags []string) ([]model.Binding, error) {
	var bindings []model.Binding
	if modelPath != "" {
		m, err := compiler.LoadModel(modelPath)
		if err != nil {
			return nil, err
		}
		bindings = m.Bindings()
	}
	seen := make(map[string]int, len(bindings))
	for i, b := range bindings {
		seen[b.Name] = i
	}
	for _, arg := range flags {
		name, raw, ok := strings.Cut(arg, "=")
		if !ok || name == "" {
			return nil, errors.Errorf("constant %q: want name=value", arg)
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, errors.Wrapf(err, "constant %s", name)
		}
		if i, dup := seen[name]; dup {
			bindings[i].Value = v
			continue
		}
		seen[name] = len(bindings)
		bindings = append(bindings, model.Binding{Name: name, Value: v})
	}
	return bindings, nil
}

// syntheticField is a smooth deterministic field. Each unknown gets its own
// phase and every derivative direction scales it.
func syntheticField(cat *model.Catalog) kernels.ScalarFn {
	phase := make([]float64, len(cat.Scalars))
	scale := make([]float64, len(cat.Scalars))
	for id, ref := range cat.Scalars {
		phase[id] = 0.7 * float64(id)
		scale[id] = 1
		for _, d := range ref.Derivs.Values() {
			scale[id] *= 0.5 + 0.25*float64(d)
		}
	}
	return func(id, point int) float64 {
		return scale[id] * math.Sin(1e-3*float64(point)+phase[id])
	}
}

func summarize(w io.Writer, prog *model.Program, out []float64) {
	width := prog.Width()
	points := len(out) / width
	fmt.Fprintf(w, "%-24s %14s %14s %14s\n", "output", "min", "max", "mean")
	for s, key := range prog.OutputKeys() {
		lo, hi, sum := math.Inf(1), math.Inf(-1), 0.0
		for p := 0; p < points; p++ {
			v := out[p*width+s]
			lo, hi, sum = math.Min(lo, v), math.Max(hi, v), sum+v
		}
		fmt.Fprintf(w, "%-24s %14.6g %14.6g %14.6g\n", key, lo, hi, sum/float64(points))
	}
}
