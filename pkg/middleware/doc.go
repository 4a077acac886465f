// Package middleware provides observability wrappers for hyperstar
// servers: Prometheus metrics over the hub and action pipeline, and
// OpenTelemetry tracing around action dispatch.
//
// Metrics attach through the observer hooks:
//
//	m := middleware.NewMetrics(middleware.WithNamespace("myapp"))
//	h.SetObserver(m)
//	pipeline.SetObserver(m)
//
// and are served by promhttp on /metrics. Tracing wraps the dispatcher
// the HTTP layer talks to:
//
//	dispatcher := middleware.Tracing(pipeline)
//
// Both use plain struct state; nothing here registers globals beyond
// the Prometheus registry handed in.
package middleware
