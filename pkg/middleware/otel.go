package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/hyperstar-dev/hyperstar/pkg/protocol"
)

// Default tracer name for hyperstar applications.
const defaultTracerName = "hyperstar"

// OTelConfig configures the tracing wrapper.
type OTelConfig struct {
	// TracerName is the name of the tracer (default: "hyperstar").
	TracerName string

	// IncludeSessionID includes the session id in spans. May be
	// considered sensitive; enabled by default since session ids are
	// opaque.
	IncludeSessionID bool

	// Filter determines which actions to trace. Return true to trace.
	// If nil, all actions are traced.
	Filter func(req protocol.ActionRequest) bool

	// AttributeExtractor extracts custom attributes per request.
	AttributeExtractor func(req protocol.ActionRequest) []attribute.KeyValue

	tracer trace.Tracer
}

// OTelOption configures the tracing wrapper.
type OTelOption func(*OTelConfig)

// WithTracerName sets the tracer name.
func WithTracerName(name string) OTelOption {
	return func(c *OTelConfig) {
		c.TracerName = name
	}
}

// WithIncludeSessionID toggles session ids on spans.
func WithIncludeSessionID(include bool) OTelOption {
	return func(c *OTelConfig) {
		c.IncludeSessionID = include
	}
}

// WithActionFilter sets a filter for which actions get spans.
func WithActionFilter(filter func(req protocol.ActionRequest) bool) OTelOption {
	return func(c *OTelConfig) {
		c.Filter = filter
	}
}

// WithAttributeExtractor sets a custom attribute extractor.
func WithAttributeExtractor(extractor func(req protocol.ActionRequest) []attribute.KeyValue) OTelOption {
	return func(c *OTelConfig) {
		c.AttributeExtractor = extractor
	}
}

func defaultOTelConfig() OTelConfig {
	return OTelConfig{
		TracerName:       defaultTracerName,
		IncludeSessionID: true,
	}
}

// Tracing wraps a dispatcher so every action runs inside a span named
// after the action. The span context flows into the handler through
// the request context, so database drivers and HTTP clients inherit
// the trace. Errors are recorded and set the span status.
//
// The tracer comes from the global OpenTelemetry tracer provider;
// configure that in main() before starting the server.
func Tracing(next Dispatcher, opts ...OTelOption) Dispatcher {
	config := defaultOTelConfig()
	for _, opt := range opts {
		opt(&config)
	}
	config.tracer = otel.Tracer(config.TracerName)

	return dispatcherFunc(func(ctx context.Context, req protocol.ActionRequest) ([]protocol.Event, error) {
		if config.Filter != nil && !config.Filter(req) {
			return next.Dispatch(ctx, req)
		}

		attrs := []attribute.KeyValue{
			attribute.String("hyperstar.action", req.Action),
			attribute.Int("hyperstar.args", len(req.Args)),
		}
		if config.IncludeSessionID {
			attrs = append(attrs, attribute.String("hyperstar.session_id", req.SessionID))
		}
		if config.AttributeExtractor != nil {
			attrs = append(attrs, config.AttributeExtractor(req)...)
		}

		ctx, span := config.tracer.Start(ctx, "action "+req.Action,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(attrs...),
		)
		defer span.End()

		events, err := next.Dispatch(ctx, req)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return events, err
		}
		span.SetAttributes(attribute.Int("hyperstar.response_events", len(events)))
		span.SetStatus(codes.Ok, "")
		return events, nil
	})
}
