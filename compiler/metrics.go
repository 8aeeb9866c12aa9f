package compiler

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("tensorc.compiler")

var (
	// stageDuration tracks the time spent in each pipeline stage
	stageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tensorc_compile_stage_duration_seconds",
		Help:    "Compilation stage duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.0001, 2, 14), // 0.1ms to ~1.6s
	}, []string{"stage"})

	// compileTotal counts compilations by result
	compileTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tensorc_compile_total",
		Help: "Total compilations by result",
	}, []string{"result"})

	// kernelNodes tracks the flattened size of each emitted kernel
	kernelNodes = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tensorc_kernel_nodes",
		Help:    "Number of nodes per serialized kernel",
		Buckets: []float64{1, 4, 16, 64, 256, 1024, 4096},
	})
)

// stage runs fn inside a child span and records its duration, also when fn
// panics.
func stage(ctx context.Context, name string, fn func(), attrs ...attribute.KeyValue) {
	_, span := tracer.Start(ctx, "compiler."+name, trace.WithAttributes(attrs...))
	start := time.Now()
	defer func() {
		stageDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
		span.End()
	}()
	fn()
}
