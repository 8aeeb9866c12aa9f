// Package runtime evaluates compiled programs over fields of points.
//
// An Engine wraps an immutable model.Program together with one kernels.Plan
// per kernel. Evaluation writes the program's flat output vector for each
// point, reading per-point scalars through a callback and constants from a
// vector built once by MapConstants.
//
// Key components:
//   - Engine: plan set, option defaults and evaluation entry points
//   - Arena: per-worker aligned storage holding a one-point and a lane frame
//   - ArenaPool: recycles arenas between calls
//   - Stats: evaluation counters mirrored to Prometheus
//
// Execution model:
//  1. Split the requested point range into an unaligned prefix, a
//     Lanes-aligned body and a remainder
//  2. Run the prefix and remainder one point at a time
//  3. Run the body Lanes points at a time through the same kernels
//  4. Scatter each kernel's root window into the caller's output layout
//
// Engines are safe for concurrent use; each call borrows its own arena.
package runtime

import (
	"context"
	"log/slog"
	goruntime "runtime"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/sbl8/tensorc/core"
	"github.com/sbl8/tensorc/kernels"
	"github.com/sbl8/tensorc/model"
)

var (
	// ErrUnboundConstant is returned when a program constant has no binding.
	ErrUnboundConstant = errors.New("unbound constant")

	// ErrShape is returned when caller buffers do not match the program.
	ErrShape = errors.New("buffer shape mismatch")
)

// EngineOptions configures engine behavior
type EngineOptions struct {
	Workers   int // Goroutines used by EvaluateParallel
	ChunkSize int // Points per parallel work item, rounded up to kernels.Lanes
	Logger    *slog.Logger
}

// DefaultEngineOptions provides sensible runtime defaults
func DefaultEngineOptions() EngineOptions {
	return EngineOptions{
		Workers:   goruntime.NumCPU(),
		ChunkSize: 1024,
	}
}

// Stats tracks evaluation counters.
type Stats struct {
	Points       int64
	ScalarPoints int64
	LanePoints   int64
	Chunks       int64
	Busy         time.Duration
}

// Engine evaluates one compiled program.
type Engine struct {
	prog   *model.Program
	plans  []*kernels.Plan
	opts   EngineOptions
	logger *slog.Logger
	arenas *ArenaPool

	points       atomic.Int64
	scalarPoints atomic.Int64
	lanePoints   atomic.Int64
	chunks       atomic.Int64
	busy         atomic.Int64
}

// NewEngine validates prog and builds the plan of every kernel. A nil opts
// uses DefaultEngineOptions.
func NewEngine(prog *model.Program, opts *EngineOptions) (*Engine, error) {
	if prog == nil {
		return nil, errors.New("nil program")
	}
	if err := prog.Validate(); err != nil {
		return nil, errors.Wrap(err, "validate program")
	}

	o := DefaultEngineOptions()
	if opts != nil {
		if opts.Workers > 0 {
			o.Workers = opts.Workers
		}
		if opts.ChunkSize > 0 {
			o.ChunkSize = opts.ChunkSize
		}
		o.Logger = opts.Logger
	}
	o.ChunkSize = core.AlignUp(o.ChunkSize, kernels.Lanes)

	e := &Engine{prog: prog, opts: o, logger: o.Logger}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	for i, k := range prog.Kernels {
		p, err := kernels.NewPlan(k.Tree)
		if err != nil {
			return nil, errors.Wrapf(err, "plan kernel %d", i)
		}
		e.plans = append(e.plans, p)
	}
	e.arenas = NewArenaPool(prog.StackDepth(), o.Workers)
	return e, nil
}

// Program returns the engine's program.
func (e *Engine) Program() *model.Program { return e.prog }

// Options returns the effective options.
func (e *Engine) Options() EngineOptions { return e.opts }

// Width returns the number of outputs per point.
func (e *Engine) Width() int { return e.prog.Width() }

// MapConstants builds the constant vector of the program from bindings
// keyed like "kappa" or "c[0,1]". Bindings the program never reads are
// ignored with a warning, as are repeated names after the first. Every
// program constant must be bound.
func (e *Engine) MapConstants(bindings ...model.Binding) ([]float64, error) {
	cat := e.prog.Catalog
	ids := make(map[string]int, len(cat.Constants))
	for i, key := range cat.ConstantKeys() {
		ids[key] = i
	}

	values := make([]float64, len(cat.Constants))
	bound := make([]bool, len(cat.Constants))
	for _, b := range bindings {
		id, ok := ids[b.Name]
		if !ok {
			e.logger.Warn("ignoring binding of unused constant",
				slog.String("constant", b.Name), slog.Int("dim", e.prog.Dim))
			continue
		}
		if bound[id] {
			e.logger.Warn("ignoring duplicate constant binding",
				slog.String("constant", b.Name), slog.Float64("kept", values[id]), slog.Float64("ignored", b.Value))
			continue
		}
		values[id], bound[id] = b.Value, true
	}

	var missing []string
	for id, ok := range bound {
		if !ok {
			missing = append(missing, cat.Constants[id].Key())
		}
	}
	if len(missing) > 0 {
		return nil, errors.Wrapf(ErrUnboundConstant, "%q", missing)
	}
	return values, nil
}

// Evaluate writes the outputs of one point into out.
func (e *Engine) Evaluate(point int, scalars kernels.ScalarFn, constants, out []float64) error {
	if err := e.check(scalars, constants); err != nil {
		return err
	}
	if len(out) < e.Width() {
		return errors.Wrapf(ErrShape, "output of %d values for width %d", len(out), e.Width())
	}
	a := e.arenas.Get()
	defer e.arenas.Put(a)

	s := sink{flat: out, width: e.Width(), origin: point}
	e.run(a.Frame(1, scalars, constants), point, &s)
	e.count(1, 0, 0)
	return nil
}

// EvaluateArray evaluates points [0, n) into out, laid out point-major with
// Width values per point.
func (e *Engine) EvaluateArray(n int, out []float64, scalars kernels.ScalarFn, constants []float64) error {
	return e.EvaluateRange(0, n, out, scalars, constants)
}

// EvaluateRange evaluates points [start, end). out is indexed by absolute
// point, so it must hold at least end*Width values.
func (e *Engine) EvaluateRange(start, end int, out []float64, scalars kernels.ScalarFn, constants []float64) error {
	if err := e.checkRange(start, end, len(out)); err != nil {
		return err
	}
	if err := e.check(scalars, constants); err != nil {
		return err
	}
	a := e.arenas.Get()
	defer e.arenas.Put(a)

	s := sink{flat: out, width: e.Width()}
	e.span(a, start, end, 0, scalars, constants, &s)
	return nil
}

// Columns is a structure-of-arrays field: one column per catalog scalar and
// one per output slot, all indexed by point.
type Columns struct {
	Fields    [][]float64
	Out       [][]float64
	Constants []float64
}

// Len returns the number of points the columns hold.
func (c *Columns) Len() int {
	if len(c.Out) == 0 {
		return 0
	}
	return len(c.Out[0])
}

// EvaluateColumns evaluates every point of c. The lane body starts where the
// first output column reaches a Lanes-wide address boundary.
func (e *Engine) EvaluateColumns(c *Columns) error {
	if len(c.Out) != e.Width() {
		return errors.Wrapf(ErrShape, "%d output columns for width %d", len(c.Out), e.Width())
	}
	if len(c.Fields) != len(e.prog.Catalog.Scalars) {
		return errors.Wrapf(ErrShape, "%d field columns for %d scalars", len(c.Fields), len(e.prog.Catalog.Scalars))
	}
	n := c.Len()
	for _, col := range c.Out {
		if len(col) != n {
			return errors.Wrapf(ErrShape, "output columns differ in length")
		}
	}
	for id, col := range c.Fields {
		if len(col) < n {
			return errors.Wrapf(ErrShape, "field column %s holds %d of %d points",
				e.prog.Catalog.Scalars[id].Key(), len(col), n)
		}
	}
	scalars := func(id, point int) float64 { return c.Fields[id][point] }
	if err := e.check(scalars, c.Constants); err != nil {
		return err
	}

	align := 0
	if n > 0 {
		align = core.MisalignedPrefix(c.Out[0], kernels.Lanes*core.Float64Size)
	}
	a := e.arenas.Get()
	defer e.arenas.Put(a)

	s := sink{cols: c.Out}
	e.span(a, 0, n, align, scalars, c.Constants, &s)
	return nil
}

// EvaluateParallel evaluates points [0, n) into out like EvaluateArray,
// fanning chunks out to the configured workers. Each worker owns one arena.
// Cancellation is checked between chunks.
func (e *Engine) EvaluateParallel(ctx context.Context, n int, out []float64, scalars kernels.ScalarFn, constants []float64) error {
	if err := e.checkRange(0, n, len(out)); err != nil {
		return err
	}
	if err := e.check(scalars, constants); err != nil {
		return err
	}

	chunk := e.opts.ChunkSize
	chunks := (n + chunk - 1) / chunk
	workers := min(e.opts.Workers, chunks)
	var next atomic.Int64

	g, ctx := errgroup.WithContext(ctx)
	for w := 0; w < workers; w++ {
		g.Go(func() error {
			a := e.arenas.Get()
			defer e.arenas.Put(a)
			s := sink{flat: out, width: e.Width()}
			for {
				if err := ctx.Err(); err != nil {
					return err
				}
				c := int(next.Add(1)) - 1
				if c >= chunks {
					return nil
				}
				start := c * chunk
				e.span(a, start, min(start+chunk, n), 0, scalars, constants, &s)
				e.chunks.Add(1)
				chunksTotal.Inc()
			}
		})
	}
	if err := g.Wait(); err != nil {
		return errors.Wrap(err, "parallel evaluation")
	}
	return nil
}

// Stats returns a snapshot of the evaluation counters.
func (e *Engine) Stats() Stats {
	return Stats{
		Points:       e.points.Load(),
		ScalarPoints: e.scalarPoints.Load(),
		LanePoints:   e.lanePoints.Load(),
		Chunks:       e.chunks.Load(),
		Busy:         time.Duration(e.busy.Load()),
	}
}

// span evaluates [start, end). Lane batches start at points congruent to
// align modulo kernels.Lanes.
func (e *Engine) span(a *Arena, start, end, align int, scalars kernels.ScalarFn, constants []float64, s *sink) {
	begin := time.Now()
	lanes := kernels.Lanes
	shift := lanes - align%lanes
	bodyStart, bodyEnd := core.SplitRange(start+shift, end+shift, lanes)
	bodyStart, bodyEnd = bodyStart-shift, bodyEnd-shift

	point := a.Frame(1, scalars, constants)
	for p := start; p < bodyStart; p++ {
		e.run(point, p, s)
	}
	batch := a.Frame(lanes, scalars, constants)
	for p := bodyStart; p < bodyEnd; p += lanes {
		e.run(batch, p, s)
	}
	for p := bodyEnd; p < end; p++ {
		e.run(point, p, s)
	}

	body := int64(bodyEnd - bodyStart)
	e.count(int64(end-start)-body, body, time.Since(begin))
}

// run evaluates every kernel for f.Width points starting at point.
func (e *Engine) run(f *kernels.Frame, point int, s *sink) {
	f.Point = point
	w := f.Width
	for i, p := range e.plans {
		p.Run(f)
		res := p.Result(f)
		for o, target := range e.prog.Kernels[i].Targets {
			for l := 0; l < w; l++ {
				s.put(int(target), point+l, res[o*w+l])
			}
		}
	}
}

func (e *Engine) count(scalar, lane int64, busy time.Duration) {
	e.points.Add(scalar + lane)
	e.scalarPoints.Add(scalar)
	e.lanePoints.Add(lane)
	e.busy.Add(int64(busy))
	pointsTotal.WithLabelValues("scalar").Add(float64(scalar))
	pointsTotal.WithLabelValues("lanes").Add(float64(lane))
}

func (e *Engine) check(scalars kernels.ScalarFn, constants []float64) error {
	if scalars == nil && len(e.prog.Catalog.Scalars) > 0 {
		return errors.Wrap(ErrShape, "nil scalar source")
	}
	if len(constants) != len(e.prog.Catalog.Constants) {
		return errors.Wrapf(ErrShape, "%d constants for %d program constants", len(constants), len(e.prog.Catalog.Constants))
	}
	return nil
}

func (e *Engine) checkRange(start, end, outLen int) error {
	if start < 0 || end < start {
		return errors.Wrapf(ErrShape, "point range [%d, %d)", start, end)
	}
	if outLen < end*e.Width() {
		return errors.Wrapf(ErrShape, "output of %d values for %d points of width %d", outLen, end, e.Width())
	}
	return nil
}

// sink writes results into caller memory, either point-major or columnar.
type sink struct {
	flat   []float64
	width  int
	origin int
	cols   [][]float64
}

func (s *sink) put(slot, point int, v float64) {
	if s.cols != nil {
		s.cols[slot][point] = v
		return
	}
	s.flat[(point-s.origin)*s.width+slot] = v
}
