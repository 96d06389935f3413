package manager

import "github.com/prometheus/client_golang/prometheus"

var (
	modelLoadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tutor",
			Subsystem: "model",
			Name:      "loads_total",
			Help:      "Completed model load attempts by result",
		},
		[]string{"result"},
	)

	modelReady = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "tutor",
			Subsystem: "model",
			Name:      "ready",
			Help:      "1 when a model is published and usable",
		},
	)

	inferenceDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "tutor",
			Subsystem: "inference",
			Name:      "duration_seconds",
			Help:      "Latency of successful inferences from dispatch to stream exhaustion",
			Buckets:   []float64{0.25, 0.5, 1, 2, 4, 8, 16, 32, 64},
		},
	)

	inferenceFragments = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "tutor",
			Subsystem: "inference",
			Name:      "fragments_total",
			Help:      "Fragments forwarded to consumers",
		},
	)

	inferenceFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tutor",
			Subsystem: "inference",
			Name:      "failures_total",
			Help:      "Failed inferences by failure kind",
		},
		[]string{"kind"},
	)
)

func init() {
	prometheus.MustRegister(modelLoadsTotal, modelReady, inferenceDuration, inferenceFragments, inferenceFailures)
}
