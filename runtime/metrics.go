package runtime

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	pointsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tensorc_runtime_points_total",
		Help: "Points evaluated, by evaluator.",
	}, []string{"evaluator"})

	chunksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tensorc_runtime_chunks_total",
		Help: "Work items completed by parallel evaluation.",
	})
)
