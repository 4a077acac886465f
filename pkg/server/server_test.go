package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hyperstar-dev/hyperstar/pkg/action"
	"github.com/hyperstar-dev/hyperstar/pkg/hub"
	"github.com/hyperstar-dev/hyperstar/pkg/protocol"
	"github.com/hyperstar-dev/hyperstar/pkg/session"
	"github.com/hyperstar-dev/hyperstar/pkg/store"
)

type counterState struct {
	Count int
}

type testApp struct {
	server   *Server
	hub      *hub.Hub
	pipeline *action.Pipeline[counterState, struct{}]
	renders  atomic.Int64
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()

	st := store.New(counterState{})
	sessionStores := store.NewSessionStores(func() struct{} { return struct{}{} })
	sessions := session.NewRegistry(nil)
	h := hub.New(nil)
	app := &testApp{hub: h}

	h.SetRenderer(func(sessionID string) (string, error) {
		app.renders.Add(1)
		return fmt.Sprintf(`<p id="count">%d</p>`, st.Get().Count), nil
	})
	st.Subscribe(func(counterState) { h.BroadcastRender() })

	pipeline := action.NewPipeline(st, sessionStores, sessions, h, nil)
	pipeline.MustRegister("increment",
		action.NewShape(action.Int("amount").WithDefault(1)),
		func(ctx *action.Context[counterState, struct{}]) error {
			amount := ctx.Int("amount")
			ctx.UpdateState(func(s counterState) counterState {
				s.Count += amount
				return s
			})
			return nil
		})
	pipeline.MustRegister("title",
		action.NewShape(action.String("value").Req()),
		func(ctx *action.Context[counterState, struct{}]) error {
			ctx.SetTitle(ctx.String("value"))
			return nil
		})
	app.pipeline = pipeline

	page := func(r *http.Request, sessionID string) (string, error) {
		return `<html><body><div id="app"></div></body></html>`, nil
	}
	app.server = New(&Config{}, h, sessions, pipeline, page)
	return app
}

// sseClient opens the event stream and funnels decoded events to a
// channel.
func sseClient(t *testing.T, base string, jar http.CookieJar) (<-chan protocol.Event, func()) {
	t.Helper()
	client := &http.Client{Jar: jar}
	req, err := http.NewRequest(http.MethodGet, base+"/hyperstar/events", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("open event stream: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("event stream status = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Content-Type = %q", ct)
	}

	events := make(chan protocol.Event, 16)
	go func() {
		sc := protocol.NewScanner(resp.Body)
		for {
			ev, err := sc.Next()
			if err != nil {
				close(events)
				return
			}
			events <- ev
		}
	}()
	return events, func() { resp.Body.Close() }
}

func postAction(t *testing.T, base string, jar http.CookieJar, req protocol.ActionRequest) *http.Response {
	t.Helper()
	client := &http.Client{Jar: jar}
	body, err := json.Marshal(req)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := client.Post(base+"/hyperstar/action", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("post action: %v", err)
	}
	return resp
}

func newJar(t *testing.T) http.CookieJar {
	t.Helper()
	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatal(err)
	}
	return jar
}

func waitEvent(t *testing.T, ch <-chan protocol.Event, kind protocol.EventKind) protocol.Event {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				t.Fatalf("stream closed waiting for %s", kind)
			}
			if ev.Kind == kind {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", kind)
		}
	}
}

func TestIncrementBroadcastsToAllConnections(t *testing.T) {
	app := newTestApp(t)
	srv := httptest.NewServer(app.server)
	defer srv.Close()

	jarA, jarB := newJar(t), newJar(t)
	eventsA, closeA := sseClient(t, srv.URL, jarA)
	defer closeA()
	eventsB, closeB := sseClient(t, srv.URL, jarB)
	defer closeB()

	resp := postAction(t, srv.URL, jarA, protocol.ActionRequest{
		Action: "increment",
		Args:   map[string]any{"amount": 2},
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", resp.StatusCode)
	}

	for _, ch := range []<-chan protocol.Event{eventsA, eventsB} {
		ev := waitEvent(t, ch, protocol.EventMorph)
		d := ev.Data.(protocol.MorphData)
		if !strings.Contains(d.HTML, ">2<") {
			t.Errorf("morph HTML = %q, want count 2", d.HTML)
		}
		if d.Target != "app" {
			t.Errorf("morph target = %q", d.Target)
		}
	}
}

func TestInvalidInputRejectedWithoutBroadcast(t *testing.T) {
	app := newTestApp(t)
	srv := httptest.NewServer(app.server)
	defer srv.Close()

	jar := newJar(t)
	events, closeStream := sseClient(t, srv.URL, jar)
	defer closeStream()

	resp := postAction(t, srv.URL, jar, protocol.ActionRequest{
		Action: "increment",
		Args:   map[string]any{"amount": "nope"},
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}

	select {
	case ev := <-events:
		t.Errorf("unexpected broadcast %v after rejected action", ev.Kind)
	case <-time.After(100 * time.Millisecond):
	}
	if app.renders.Load() != 0 {
		t.Errorf("renders = %d after rejected action, want 0", app.renders.Load())
	}
}

func TestUnknownActionIs404(t *testing.T) {
	app := newTestApp(t)
	srv := httptest.NewServer(app.server)
	defer srv.Close()

	resp := postAction(t, srv.URL, newJar(t), protocol.ActionRequest{Action: "missing"})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestMalformedBodyIs400(t *testing.T) {
	app := newTestApp(t)
	srv := httptest.NewServer(app.server)
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/hyperstar/action", "application/json", strings.NewReader("{not json"))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestDirectResponseEvents(t *testing.T) {
	app := newTestApp(t)
	srv := httptest.NewServer(app.server)
	defer srv.Close()

	resp := postAction(t, srv.URL, newJar(t), protocol.ActionRequest{
		Action: "title",
		Args:   map[string]any{"value": "Dashboard"},
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var raw []json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(raw) != 1 {
		t.Fatalf("events = %d, want 1", len(raw))
	}
	ev, err := protocol.DecodeEvent(raw[0])
	if err != nil {
		t.Fatal(err)
	}
	if ev.Kind != protocol.EventTitle || ev.Data.(protocol.TitleData).Title != "Dashboard" {
		t.Errorf("event = %+v", ev)
	}
}

func TestPageSetsSessionCookie(t *testing.T) {
	app := newTestApp(t)
	srv := httptest.NewServer(app.server)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	found := false
	for _, c := range resp.Cookies() {
		if c.Name == session.DefaultCookieName && c.Value != "" {
			found = true
		}
	}
	if !found {
		t.Error("session cookie not set on page response")
	}
}

func TestMetricsServedByDefault(t *testing.T) {
	app := newTestApp(t)
	srv := httptest.NewServer(app.server)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("metrics status = %d", resp.StatusCode)
	}
}

func TestMetricsOptOut(t *testing.T) {
	sessions := session.NewRegistry(nil)
	h := hub.New(nil)
	s := New(&Config{DisableMetrics: true}, h, sessions, nil, nil)
	srv := httptest.NewServer(s)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("disabled metrics status = %d, want 404", resp.StatusCode)
	}
}

func TestReconnectTriggersCatchUpRender(t *testing.T) {
	app := newTestApp(t)
	srv := httptest.NewServer(app.server)
	defer srv.Close()

	jar := newJar(t)
	client := &http.Client{Jar: jar}
	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/hyperstar/events", nil)
	req.Header.Set("Last-Event-ID", "42")
	resp, err := client.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	sc := protocol.NewScanner(resp.Body)
	ev, err := sc.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if ev.Kind != protocol.EventMorph {
		t.Errorf("catch-up event kind = %v, want morph", ev.Kind)
	}
}
