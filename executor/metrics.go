package executor

import (
	"github.com/go-kit/kit/metrics"
	"github.com/go-kit/kit/metrics/discard"
	"github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"
)

const (
	// MetricsSubsystem is a subsystem shared by all metrics exposed by this
	// package.
	MetricsSubsystem = "executor"
)

// Metrics contains metrics exposed by this package.
type Metrics struct {
	// Number of transactions executed successfully.
	SucceededTxs metrics.Counter
	// Number of transactions that failed, labelled by error class.
	FailedTxs metrics.Counter
	// Time spent executing a batch, in seconds.
	BatchExecutionTime metrics.Histogram
	// Compute units consumed per transaction.
	ComputeUnits metrics.Histogram
}

// PrometheusMetrics returns Metrics build using Prometheus client library.
// Optionally, labels can be provided along with their values ("foo",
// "fooValue").
func PrometheusMetrics(namespace string, labelsAndValues ...string) *Metrics {
	labels := []string{}
	for i := 0; i < len(labelsAndValues); i += 2 {
		labels = append(labels, labelsAndValues[i])
	}
	return &Metrics{
		SucceededTxs: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "succeeded_txs",
			Help:      "Number of transactions executed successfully.",
		}, labels).With(labelsAndValues...),
		FailedTxs: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "failed_txs",
			Help:      "Number of failed transactions by error class.",
		}, append(labels, "class")).With(labelsAndValues...),
		BatchExecutionTime: prometheus.NewHistogramFrom(stdprometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "batch_execution_time",
			Help:      "Time spent executing a batch, in seconds.",
			Buckets:   stdprometheus.ExponentialBuckets(0.0001, 4, 10),
		}, labels).With(labelsAndValues...),
		ComputeUnits: prometheus.NewHistogramFrom(stdprometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "compute_units",
			Help:      "Compute units consumed per transaction.",
			Buckets:   stdprometheus.ExponentialBuckets(10, 4, 9),
		}, labels).With(labelsAndValues...),
	}
}

// NopMetrics returns no-op Metrics.
func NopMetrics() *Metrics {
	return &Metrics{
		SucceededTxs:       discard.NewCounter(),
		FailedTxs:          discard.NewCounter(),
		BatchExecutionTime: discard.NewHistogram(),
		ComputeUnits:       discard.NewHistogram(),
	}
}
