package coordinator

import (
	"github.com/go-kit/kit/metrics"
	"github.com/go-kit/kit/metrics/discard"
	"github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"
)

const MetricsSubsystem = "coordinator"

// Metrics contains metrics exposed by this package.
type Metrics struct {
	// Number of inbound messages applied, labeled by type and result.
	Applied metrics.Counter
	// Number of inbound messages dropped because no worker lane had room.
	Dropped metrics.Counter
	// Number of messages broadcast, labeled by type.
	Broadcasts metrics.Counter
}

// PrometheusMetrics returns Metrics build using Prometheus client library.
func PrometheusMetrics(namespace string) *Metrics {
	return &Metrics{
		Applied: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "applied",
			Help:      "Number of peer messages applied to local state.",
		}, []string{"type", "result"}),
		Dropped: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "dropped",
			Help:      "Number of peer messages dropped because the dispatch queue was full.",
		}, []string{}),
		Broadcasts: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "broadcasts",
			Help:      "Number of messages broadcast to peers.",
		}, []string{"type"}),
	}
}

// NopMetrics returns no-op Metrics.
func NopMetrics() *Metrics {
	return &Metrics{
		Applied:    discard.NewCounter(),
		Dropped:    discard.NewCounter(),
		Broadcasts: discard.NewCounter(),
	}
}
