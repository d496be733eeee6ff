// Package metrics exposes Prometheus metrics for executed operations and
// provider calls.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Namespace prefixes every metric name.
const Namespace = "memops"

// Collector records operation and provider metrics. A nil *Collector is a
// no-op, so callers need not check whether metrics are enabled.
type Collector struct {
	operationsTotal   *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	providerCalls     *prometheus.CounterVec
	providerDuration  *prometheus.HistogramVec
	recordsAffected   *prometheus.CounterVec

	logger *zap.Logger
}

// NewCollector registers the metrics on reg.
func NewCollector(reg prometheus.Registerer, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	factory := promauto.With(reg)
	c := &Collector{logger: logger.With(zap.String("component", "metrics"))}

	c.operationsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "operations_total",
			Help:      "Total number of executed operations",
		},
		[]string{"op", "outcome"}, // outcome: success, partial, or an error kind
	)

	c.operationDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "operation_duration_seconds",
			Help:      "Operation execution time in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"op"},
	)

	c.providerCalls = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "provider_calls_total",
			Help:      "Total number of embedding and generation provider calls",
		},
		[]string{"provider", "kind", "outcome"}, // kind: embed, generate
	)

	c.providerDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "provider_call_duration_seconds",
			Help:      "Provider call duration in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"provider", "kind"},
	)

	c.recordsAffected = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "records_affected_total",
			Help:      "Total number of records changed by mutating operations",
		},
		[]string{"op"},
	)

	return c
}

// RecordOperation records one executed operation.
func (c *Collector) RecordOperation(op, outcome string, duration time.Duration, affected int) {
	if c == nil {
		return
	}
	c.operationsTotal.WithLabelValues(op, outcome).Inc()
	c.operationDuration.WithLabelValues(op).Observe(duration.Seconds())
	if affected > 0 {
		c.recordsAffected.WithLabelValues(op).Add(float64(affected))
	}
}

// RecordProviderCall records one embedding or generation call.
func (c *Collector) RecordProviderCall(provider, kind string, duration time.Duration, err error) {
	if c == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
		c.logger.Debug("provider call failed",
			zap.String("provider", provider), zap.String("kind", kind), zap.Error(err))
	}
	c.providerCalls.WithLabelValues(provider, kind, outcome).Inc()
	c.providerDuration.WithLabelValues(provider, kind).Observe(duration.Seconds())
}
