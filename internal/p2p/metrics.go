package p2p

import (
	"github.com/go-kit/kit/metrics"
	"github.com/go-kit/kit/metrics/discard"
	"github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"
)

const MetricsSubsystem = "p2p"

// Metrics contains metrics exposed by this package.
type Metrics struct {
	// Number of open sessions, labeled by role.
	Sessions metrics.Gauge
	// Number of outbound dial attempts, labeled by outcome.
	Dials metrics.Counter
	// Number of frames received, labeled by message type.
	MessagesReceived metrics.Counter
	// Number of inbound frames that could not be decoded.
	DecodeErrors metrics.Counter
	// Number of frames that could not be queued or written.
	SendFailures metrics.Counter
	// Number of broadcasts performed.
	Broadcasts metrics.Counter
}

// PrometheusMetrics returns Metrics build using Prometheus client library.
func PrometheusMetrics(namespace string) *Metrics {
	return &Metrics{
		Sessions: prometheus.NewGaugeFrom(stdprometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "sessions",
			Help:      "Number of open peer sessions.",
		}, []string{"role"}),
		Dials: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "dials",
			Help:      "Number of outbound dial attempts.",
		}, []string{"outcome"}),
		MessagesReceived: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "messages_received",
			Help:      "Number of messages received from peers.",
		}, []string{"type"}),
		DecodeErrors: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "decode_errors",
			Help:      "Number of inbound frames dropped because they could not be decoded.",
		}, []string{}),
		SendFailures: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "send_failures",
			Help:      "Number of outbound frames that could not be queued or written.",
		}, []string{}),
		Broadcasts: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "broadcasts",
			Help:      "Number of messages broadcast to all sessions.",
		}, []string{}),
	}
}

// NopMetrics returns no-op Metrics.
func NopMetrics() *Metrics {
	return &Metrics{
		Sessions:         discard.NewGauge(),
		Dials:            discard.NewCounter(),
		MessagesReceived: discard.NewCounter(),
		DecodeErrors:     discard.NewCounter(),
		SendFailures:     discard.NewCounter(),
		Broadcasts:       discard.NewCounter(),
	}
}
