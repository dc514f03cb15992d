package sequencer

import (
	"github.com/go-kit/kit/metrics"
	"github.com/go-kit/kit/metrics/discard"
	"github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"
)

const (
	// MetricsSubsystem is a subsystem shared by all metrics exposed by this
	// package.
	MetricsSubsystem = "sequencer"
)

// Metrics contains metrics exposed by this package.
type Metrics struct {
	// Number of accepted submissions.
	Submitted metrics.Counter
	// Number of rejected submissions.
	Rejected metrics.Counter
	// Submissions accepted but not yet acknowledged.
	Pending metrics.Gauge
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
		Submitted: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "submitted",
			Help:      "Number of accepted submissions.",
		}, labels).With(labelsAndValues...),
		Rejected: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "rejected",
			Help:      "Number of rejected submissions.",
		}, labels).With(labelsAndValues...),
		Pending: prometheus.NewGaugeFrom(stdprometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "pending",
			Help:      "Submissions accepted but not yet acknowledged.",
		}, labels).With(labelsAndValues...),
	}
}

// NopMetrics returns no-op Metrics.
func NopMetrics() *Metrics {
	return &Metrics{
		Submitted: discard.NewCounter(),
		Rejected:  discard.NewCounter(),
		Pending:   discard.NewGauge(),
	}
}
