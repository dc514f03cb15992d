package rollupdb

import (
	"github.com/go-kit/kit/metrics"
	"github.com/go-kit/kit/metrics/discard"
	"github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"
)

const (
	// MetricsSubsystem is a subsystem shared by all metrics exposed by this
	// package.
	MetricsSubsystem = "ledger"
)

// Metrics contains metrics exposed by this package.
type Metrics struct {
	// Number of messages handled, by message type.
	Messages metrics.Counter
	// Number of failed requests, by error class.
	Failures metrics.Counter
	// Time lock requests spent waiting, in seconds.
	LockWait metrics.Histogram
	// Number of granted lock handles.
	HeldLocks metrics.Gauge
	// Number of queued lock requests.
	PendingLocks metrics.Gauge
	// Length of the processed transaction log.
	Processed metrics.Gauge
	// End of the settled prefix of the log.
	SettledEnd metrics.Gauge
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
		Messages: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "messages",
			Help:      "Number of messages handled by type.",
		}, append(labels, "type")).With(labelsAndValues...),
		Failures: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "failures",
			Help:      "Number of failed requests by error class.",
		}, append(labels, "class")).With(labelsAndValues...),
		LockWait: prometheus.NewHistogramFrom(stdprometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "lock_wait_seconds",
			Help:      "Time lock requests spent waiting, in seconds.",
			Buckets:   stdprometheus.ExponentialBuckets(0.0001, 4, 10),
		}, labels).With(labelsAndValues...),
		HeldLocks: prometheus.NewGaugeFrom(stdprometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "held_locks",
			Help:      "Number of granted lock handles.",
		}, labels).With(labelsAndValues...),
		PendingLocks: prometheus.NewGaugeFrom(stdprometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "pending_locks",
			Help:      "Number of queued lock requests.",
		}, labels).With(labelsAndValues...),
		Processed: prometheus.NewGaugeFrom(stdprometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "processed",
			Help:      "Length of the processed transaction log.",
		}, labels).With(labelsAndValues...),
		SettledEnd: prometheus.NewGaugeFrom(stdprometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "settled_end",
			Help:      "End of the settled prefix of the log.",
		}, labels).With(labelsAndValues...),
	}
}

// NopMetrics returns no-op Metrics.
func NopMetrics() *Metrics {
	return &Metrics{
		Messages:     discard.NewCounter(),
		Failures:     discard.NewCounter(),
		LockWait:     discard.NewHistogram(),
		HeldLocks:    discard.NewGauge(),
		PendingLocks: discard.NewGauge(),
		Processed:    discard.NewGauge(),
		SettledEnd:   discard.NewGauge(),
	}
}
