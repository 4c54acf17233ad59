package market

import (
	"github.com/go-kit/kit/metrics"
	"github.com/go-kit/kit/metrics/discard"
	"github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"
)

// MetricsSubsystem is the prometheus subsystem for market metrics.
const MetricsSubsystem = "market"

// Metrics contains metrics exposed by this package.
type Metrics struct {
	// Operations counts completed operations by "operation" and "outcome".
	// outcome is "ok", "error", or the lower-cased rejection code.
	Operations metrics.Counter
	// Reputation points escrowed into new offers (listing fee excluded).
	RepsEscrowed metrics.Counter
	// Reputation points returned by delists.
	RepsRefunded metrics.Counter
	// Ryo paid by takers.
	RyoTraded metrics.Counter
}

// PrometheusMetrics returns Metrics registered on reg.
func PrometheusMetrics(namespace string, reg stdprometheus.Registerer) *Metrics {
	ops := stdprometheus.NewCounterVec(stdprometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: MetricsSubsystem,
		Name:      "operations_total",
		Help:      "Number of market operations by operation and outcome.",
	}, []string{"operation", "outcome"})
	escrowed := stdprometheus.NewCounterVec(stdprometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: MetricsSubsystem,
		Name:      "reps_escrowed_total",
		Help:      "Reputation points escrowed into offers.",
	}, []string{})
	refunded := stdprometheus.NewCounterVec(stdprometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: MetricsSubsystem,
		Name:      "reps_refunded_total",
		Help:      "Reputation points refunded by delisted offers.",
	}, []string{})
	traded := stdprometheus.NewCounterVec(stdprometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: MetricsSubsystem,
		Name:      "ryo_traded_total",
		Help:      "Ryo paid for taken offers.",
	}, []string{})
	reg.MustRegister(ops, escrowed, refunded, traded)

	return &Metrics{
		Operations:   prometheus.NewCounter(ops),
		RepsEscrowed: prometheus.NewCounter(escrowed),
		RepsRefunded: prometheus.NewCounter(refunded),
		RyoTraded:    prometheus.NewCounter(traded),
	}
}

// NopMetrics returns no-op Metrics.
func NopMetrics() *Metrics {
	return &Metrics{
		Operations:   discard.NewCounter(),
		RepsEscrowed: discard.NewCounter(),
		RepsRefunded: discard.NewCounter(),
		RyoTraded:    discard.NewCounter(),
	}
}
