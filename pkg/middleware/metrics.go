package middleware

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/hyperstar-dev/hyperstar/pkg/protocol"
)

// MetricsConfig configures the Prometheus metrics.
type MetricsConfig struct {
	// Namespace is the metrics namespace (default: "hyperstar").
	Namespace string

	// Subsystem is the metrics subsystem (default: "").
	Subsystem string

	// ConstLabels are constant labels added to all metrics.
	ConstLabels prometheus.Labels

	// Buckets are the histogram buckets for action duration.
	// Default: prometheus.DefBuckets
	Buckets []float64

	// Registry is the Prometheus registry to use.
	// Default: prometheus.DefaultRegisterer
	Registry prometheus.Registerer
}

// MetricsOption configures the Prometheus metrics.
type MetricsOption func(*MetricsConfig)

// WithNamespace sets the metrics namespace.
func WithNamespace(namespace string) MetricsOption {
	return func(c *MetricsConfig) {
		c.Namespace = namespace
	}
}

// WithSubsystem sets the metrics subsystem.
func WithSubsystem(subsystem string) MetricsOption {
	return func(c *MetricsConfig) {
		c.Subsystem = subsystem
	}
}

// WithConstLabels sets constant labels for all metrics.
func WithConstLabels(labels prometheus.Labels) MetricsOption {
	return func(c *MetricsConfig) {
		c.ConstLabels = labels
	}
}

// WithBuckets sets the action duration histogram buckets.
func WithBuckets(buckets []float64) MetricsOption {
	return func(c *MetricsConfig) {
		c.Buckets = buckets
	}
}

// WithRegistry sets the Prometheus registry.
func WithRegistry(registry prometheus.Registerer) MetricsOption {
	return func(c *MetricsConfig) {
		c.Registry = registry
	}
}

func defaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Namespace: "hyperstar",
		Buckets:   prometheus.DefBuckets,
		Registry:  prometheus.DefaultRegisterer,
	}
}

// Metrics collects Prometheus metrics from the hub and the action
// pipeline. It implements both observer interfaces, so one instance
// serves both hooks.
//
// Metrics collected:
//   - hyperstar_connections: Gauge of open push connections
//   - hyperstar_events_sent_total: Counter of events pushed, by kind
//   - hyperstar_actions_total: Counter of dispatches, by action and status
//   - hyperstar_action_duration_seconds: Histogram of dispatch duration
type Metrics struct {
	connections    prometheus.Gauge
	eventsSent     *prometheus.CounterVec
	actionsTotal   *prometheus.CounterVec
	actionDuration *prometheus.HistogramVec
}

// NewMetrics registers the metric set and returns the collector.
func NewMetrics(opts ...MetricsOption) *Metrics {
	config := defaultMetricsConfig()
	for _, opt := range opts {
		opt(&config)
	}
	factory := promauto.With(config.Registry)

	return &Metrics{
		connections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "connections",
			Help:        "Number of open push connections",
			ConstLabels: config.ConstLabels,
		}),

		eventsSent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "events_sent_total",
			Help:        "Total events pushed to clients by kind",
			ConstLabels: config.ConstLabels,
		}, []string{"kind"}),

		actionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "actions_total",
			Help:        "Total action dispatches by action id and outcome",
			ConstLabels: config.ConstLabels,
		}, []string{"action", "status"}),

		actionDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "action_duration_seconds",
			Help:        "Action dispatch duration in seconds",
			ConstLabels: config.ConstLabels,
			Buckets:     config.Buckets,
		}, []string{"action"}),
	}
}

// EventSent implements the hub observer.
func (m *Metrics) EventSent(kind protocol.EventKind) {
	m.eventsSent.WithLabelValues(string(kind)).Inc()
}

// ConnectionsChanged implements the hub observer.
func (m *Metrics) ConnectionsChanged(n int) {
	m.connections.Set(float64(n))
}

// ActionDispatched implements the pipeline observer.
func (m *Metrics) ActionDispatched(id, status string) {
	m.actionsTotal.WithLabelValues(id, status).Inc()
}

// Dispatcher is the non-generic dispatch surface the HTTP layer and
// the wrappers in this package work against.
type Dispatcher interface {
	Dispatch(ctx context.Context, req protocol.ActionRequest) ([]protocol.Event, error)
}

// WrapDispatcher times every dispatch through the duration histogram.
func (m *Metrics) WrapDispatcher(next Dispatcher) Dispatcher {
	return dispatcherFunc(func(ctx context.Context, req protocol.ActionRequest) ([]protocol.Event, error) {
		start := time.Now()
		events, err := next.Dispatch(ctx, req)
		m.actionDuration.WithLabelValues(req.Action).Observe(time.Since(start).Seconds())
		return events, err
	})
}

type dispatcherFunc func(ctx context.Context, req protocol.ActionRequest) ([]protocol.Event, error)

func (f dispatcherFunc) Dispatch(ctx context.Context, req protocol.ActionRequest) ([]protocol.Event, error) {
	return f(ctx, req)
}
