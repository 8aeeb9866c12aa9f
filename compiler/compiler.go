// Package compiler lowers tensor equation systems into executable programs.
//
// Compilation pipeline:
//  1. Expand every derivative marker (Differentiator)
//  2. Simplify the expanded trees
//  3. Scalarize each equation into one scalar tree per component, or keep
//     the tensor-valued tree when Options.Scalarize is false
//  4. Collect every scalar reference into the system Catalog
//  5. Serialize each tree into a CSR-flattened model.Tree with static
//     storage offsets, and validate the resulting Program
//
// The stages run single-threaded and signal violated invariants by panicking
// through core.Assertf. Compile recovers those panics at its boundary and
// returns them as errors wrapping core.ErrInvariant, so a malformed model never
// crashes the caller.
//
// Models are usually described in YAML with expressions in a small infix
// grammar; see LoadModel and ParseExpr.
package compiler

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/sbl8/tensorc/core"
	"github.com/sbl8/tensorc/expr"
	"github.com/sbl8/tensorc/model"
)

// Options configures the compilation process
type Options struct {
	Scalarize bool // Emit one scalar kernel per output component
	Validate  bool // Re-check the finished program
	Logger    *slog.Logger
}

// DefaultOptions provides sensible compilation defaults
func DefaultOptions() Options {
	return Options{
		Scalarize: true,
		Validate:  true,
	}
}

// Compile runs the whole pipeline over sys.
func Compile(ctx context.Context, sys *model.System, opts Options) (prog *model.Program, err error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ctx, span := tracer.Start(ctx, "compiler.Compile",
		trace.WithAttributes(
			attribute.String("system.name", sys.Name),
			attribute.Int("system.dim", sys.Dim),
			attribute.Int("system.equations", len(sys.Equations)),
			attribute.Bool("compile.scalarize", opts.Scalarize),
		),
	)
	defer func() {
		result := "ok"
		if err != nil {
			result = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			logger.Error("compilation failed", slog.String("system", sys.Name), slog.Any("error", err))
		}
		compileTotal.WithLabelValues(result).Inc()
		span.End()
	}()
	defer core.Recover(&err)

	if err := sys.Validate(); err != nil {
		return nil, err
	}

	c := &compilation{
		sys:  sys,
		opts: opts,
		diff: NewDifferentiator(sys.IsConstant),
		sc:   &Scalarizer{Dim: sys.Dim, IsConstant: sys.IsConstant},
	}

	roots := make([]*expr.Node, len(sys.Equations))
	stage(ctx, "expand", func() {
		for i, eq := range sys.Equations {
			roots[i] = c.diff.ExpandDerivatives(eq.RHS)
		}
	})
	stage(ctx, "simplify", func() {
		for i := range roots {
			roots[i] = Simplify(roots[i])
		}
	})
	stage(ctx, "lower", func() { c.lower(roots) }, attribute.Bool("scalarize", opts.Scalarize))

	var catalog *model.Catalog
	stage(ctx, "catalog", func() { catalog = model.NewCatalog(c.refs()) })

	prog = &model.Program{
		ID:      uuid.New(),
		Name:    sys.Name,
		Dim:     sys.Dim,
		Catalog: catalog,
		Outputs: c.outputs(),
	}
	stage(ctx, "serialize", func() {
		ser := &Serializer{Catalog: catalog, Scalarizer: c.sc}
		for _, p := range c.pending {
			tree := ser.Serialize(p.node)
			kernelNodes.Observe(float64(tree.Len()))
			prog.Kernels = append(prog.Kernels, model.Kernel{Equation: p.eq, Targets: p.targets, Tree: tree})
		}
	})

	if opts.Validate {
		if err := prog.Validate(); err != nil {
			return nil, err
		}
	}

	span.SetAttributes(
		attribute.Int("program.kernels", len(prog.Kernels)),
		attribute.Int("program.nodes", prog.Nodes()),
	)
	logger.Info("compiled system",
		slog.String("system", sys.Name),
		slog.String("build_id", prog.ID.String()),
		slog.Int("dim", sys.Dim),
		slog.Int("kernels", len(prog.Kernels)),
		slog.Int("nodes", prog.Nodes()),
		slog.Int("constants", len(catalog.Constants)),
		slog.Int("scalars", len(catalog.Scalars)),
		slog.Int("stack_depth", prog.StackDepth()),
	)
	return prog, nil
}

// compilation holds the state shared between stages
type compilation struct {
	sys     *model.System
	opts    Options
	diff    *Differentiator
	sc      *Scalarizer
	pending []pendingKernel
}

// pendingKernel is a lowered tree waiting for serialization
type pendingKernel struct {
	eq      int
	node    *expr.Node
	targets []int32
}

// lower turns each equation root into kernels and their output targets
func (c *compilation) lower(roots []*expr.Node) {
	base := 0
	for i, eq := range c.sys.Equations {
		labels := eq.Order()
		if c.opts.Scalarize {
			for k, comp := range c.sc.Scalarize(roots[i], labels) {
				c.pending = append(c.pending, pendingKernel{eq: i, node: comp, targets: []int32{int32(base + k)}})
			}
		} else {
			c.pending = append(c.pending, pendingKernel{
				eq:      i,
				node:    roots[i],
				targets: ComponentMap(roots[i].Outer(), labels, c.sys.Dim, base),
			})
		}
		base += eq.Components(c.sys.Dim)
	}
}

// refs collects every scalar reference read by the pending kernels
func (c *compilation) refs() []expr.ScalarRef {
	var out []expr.ScalarRef
	for _, p := range c.pending {
		p.node.Walk(func(n *expr.Node) {
			switch n.Tag() {
			case expr.TagScalar:
				out = append(out, n.Scalar())
			case expr.TagTensor:
				out = append(out, c.sc.LeafRefs(n)...)
			}
		})
	}
	return out
}

// outputs lays out one block per equation in the flat output vector
func (c *compilation) outputs() []model.Output {
	out := make([]model.Output, len(c.sys.Equations))
	base := 0
	for i, eq := range c.sys.Equations {
		out[i] = model.Output{Name: eq.LHS.Name(), Order: eq.LHS.Order(), Base: base, Labels: eq.Order()}
		base += eq.Components(c.sys.Dim)
	}
	return out
}

// ComponentMap maps each component of a window laid out row-major over from
// to base plus its row-major position over to. from and to must be
// permutations of each other.
func ComponentMap(from, to core.Index, dim, base int) []int32 {
	core.Assertf(from.IsPermutationOf(to), "component map from %q to %q", from, to)
	stride := make([]int, from.Len())
	for p := 0; p < from.Len(); p++ {
		q := to.Position(from.At(p))
		stride[p] = core.Pow(dim, to.Len()-1-q)
	}
	out := make([]int32, 0, core.Pow(dim, from.Len()))
	for o := core.NewOdometer(from.Len(), dim); !o.Done(); o.Next() {
		flat := base
		for p, v := range o.Digits() {
			flat += v * stride[p]
		}
		out = append(out, int32(flat))
	}
	return out
}
