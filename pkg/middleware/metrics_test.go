package middleware

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/hyperstar-dev/hyperstar/pkg/protocol"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatalf("counter Write() error: %v", err)
	}
	return m.GetCounter().GetValue()
}

func gaugeValue(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()
	var m dto.Metric
	if err := g.Write(&m); err != nil {
		t.Fatalf("gauge Write() error: %v", err)
	}
	return m.GetGauge().GetValue()
}

func histogramCount(t *testing.T, o prometheus.Observer) uint64 {
	t.Helper()
	metric, ok := o.(prometheus.Metric)
	if !ok {
		t.Fatalf("observer %T does not implement prometheus.Metric", o)
	}
	var m dto.Metric
	if err := metric.Write(&m); err != nil {
		t.Fatalf("histogram Write() error: %v", err)
	}
	return m.GetHistogram().GetSampleCount()
}

func TestMetricsObservers(t *testing.T) {
	m := NewMetrics(WithRegistry(prometheus.NewRegistry()))

	m.ConnectionsChanged(3)
	if got := gaugeValue(t, m.connections); got != 3 {
		t.Errorf("connections = %v, want 3", got)
	}
	m.ConnectionsChanged(2)
	if got := gaugeValue(t, m.connections); got != 2 {
		t.Errorf("connections = %v, want 2", got)
	}

	m.EventSent(protocol.EventMorph)
	m.EventSent(protocol.EventMorph)
	m.EventSent(protocol.EventSignals)
	if got := counterValue(t, m.eventsSent.WithLabelValues("morph")); got != 2 {
		t.Errorf("events_sent(morph) = %v, want 2", got)
	}
	if got := counterValue(t, m.eventsSent.WithLabelValues("signals")); got != 1 {
		t.Errorf("events_sent(signals) = %v, want 1", got)
	}

	m.ActionDispatched("increment", "ok")
	m.ActionDispatched("increment", "invalid")
	if got := counterValue(t, m.actionsTotal.WithLabelValues("increment", "ok")); got != 1 {
		t.Errorf("actions_total(ok) = %v, want 1", got)
	}
	if got := counterValue(t, m.actionsTotal.WithLabelValues("increment", "invalid")); got != 1 {
		t.Errorf("actions_total(invalid) = %v, want 1", got)
	}
}

func TestWrapDispatcherTimesDispatches(t *testing.T) {
	m := NewMetrics(WithRegistry(prometheus.NewRegistry()))

	inner := dispatcherFunc(func(ctx context.Context, req protocol.ActionRequest) ([]protocol.Event, error) {
		return nil, nil
	})
	d := m.WrapDispatcher(inner)

	if _, err := d.Dispatch(context.Background(), protocol.ActionRequest{Action: "save"}); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if got := histogramCount(t, m.actionDuration.WithLabelValues("save")); got != 1 {
		t.Errorf("action_duration count = %v, want 1", got)
	}
}

func TestWrapDispatcherPassesErrorsThrough(t *testing.T) {
	m := NewMetrics(WithRegistry(prometheus.NewRegistry()))
	boom := errors.New("boom")
	d := m.WrapDispatcher(dispatcherFunc(func(ctx context.Context, req protocol.ActionRequest) ([]protocol.Event, error) {
		return nil, boom
	}))

	if _, err := d.Dispatch(context.Background(), protocol.ActionRequest{Action: "save"}); !errors.Is(err, boom) {
		t.Errorf("err = %v, want boom", err)
	}
	if got := histogramCount(t, m.actionDuration.WithLabelValues("save")); got != 1 {
		t.Errorf("failed dispatch not timed: count = %v", got)
	}
}

func TestTracingPassesThrough(t *testing.T) {
	want := []protocol.Event{protocol.Title("t")}
	d := Tracing(dispatcherFunc(func(ctx context.Context, req protocol.ActionRequest) ([]protocol.Event, error) {
		return want, nil
	}))

	got, err := d.Dispatch(context.Background(), protocol.ActionRequest{Action: "noop", SessionID: "s1"})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if len(got) != 1 || got[0].Kind != protocol.EventTitle {
		t.Errorf("events = %v", got)
	}
}

func TestTracingFilterSkipsSpan(t *testing.T) {
	calls := 0
	d := Tracing(
		dispatcherFunc(func(ctx context.Context, req protocol.ActionRequest) ([]protocol.Event, error) {
			calls++
			return nil, nil
		}),
		WithActionFilter(func(req protocol.ActionRequest) bool { return req.Action != "health" }),
	)

	if _, err := d.Dispatch(context.Background(), protocol.ActionRequest{Action: "health"}); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if calls != 1 {
		t.Errorf("filtered dispatch did not reach the inner dispatcher")
	}
}
