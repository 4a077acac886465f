package protocol

import (
	"bytes"
	"io"
	"strings"
	"testing"
)

func TestWriteEventFraming(t *testing.T) {
	var buf bytes.Buffer
	ev := Morph("app", "<div id=\"app\">hi</div>")
	ev.ID = 7

	if err := WriteEvent(&buf, ev); err != nil {
		t.Fatalf("WriteEvent: %v", err)
	}

	out := buf.String()
	if !strings.HasPrefix(out, "event: morph\n") {
		t.Errorf("missing event field: %q", out)
	}
	if !strings.Contains(out, "\nid: 7\n") {
		t.Errorf("missing id field: %q", out)
	}
	if !strings.HasSuffix(out, "\n\n") {
		t.Errorf("message not terminated by blank line: %q", out)
	}
}

func TestScannerRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	events := []Event{
		{Kind: EventSignals, ID: 1, Data: SignalsData{"count": float64(3)}},
		{Kind: EventMorph, ID: 2, Data: MorphData{Target: "app", HTML: "<p>x</p>"}},
		{Kind: EventTitle, ID: 3, Data: TitleData{Title: "hello"}},
	}
	for _, ev := range events {
		if err := WriteEvent(&buf, ev); err != nil {
			t.Fatalf("WriteEvent: %v", err)
		}
	}

	s := NewScanner(&buf)
	for i, want := range events {
		got, err := s.Next()
		if err != nil {
			t.Fatalf("event %d: %v", i, err)
		}
		if got.Kind != want.Kind {
			t.Errorf("event %d: kind %q, want %q", i, got.Kind, want.Kind)
		}
		if got.ID != want.ID {
			t.Errorf("event %d: id %d, want %d", i, got.ID, want.ID)
		}
	}
	if _, err := s.Next(); err != io.EOF {
		t.Errorf("expected EOF at stream end, got %v", err)
	}
	if s.LastID() != 3 {
		t.Errorf("LastID = %d, want 3", s.LastID())
	}
}

func TestScannerIgnoresComments(t *testing.T) {
	var buf bytes.Buffer
	WriteComment(&buf, "keepalive")
	WriteEvent(&buf, Event{Kind: EventExecute, ID: 9, Data: ExecuteData{Script: "1"}})
	WriteComment(&buf, "keepalive")

	s := NewScanner(&buf)
	ev, err := s.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if ev.Kind != EventExecute {
		t.Errorf("kind = %q, want execute", ev.Kind)
	}
	if _, err := s.Next(); err != io.EOF {
		t.Errorf("expected EOF, got %v", err)
	}
	if s.Comments() != 2 {
		t.Errorf("Comments = %d, want 2", s.Comments())
	}
}

func TestScannerUnknownKind(t *testing.T) {
	s := NewScanner(strings.NewReader("event: bogus\ndata: {}\n\n"))
	if _, err := s.Next(); err == nil {
		t.Error("expected error for unknown event kind")
	}
}

func TestDecodePayloadTyped(t *testing.T) {
	tests := []struct {
		kind EventKind
		raw  string
	}{
		{EventMorph, `{"target":"app","html":"<p></p>"}`},
		{EventSignals, `{"a":1}`},
		{EventExecute, `{"script":"x()"}`},
		{EventRedirect, `{"url":"/next","replace":true}`},
		{EventError, `{"code":"internal","message":"boom"}`},
		{EventTitle, `{"title":"t"}`},
		{EventFavicon, `{"url":"/f.ico"}`},
		{EventTaskProgress, `{"task":"gen","fraction":0.5}`},
		{EventTaskComplete, `{"task":"gen"}`},
	}
	for _, tt := range tests {
		if _, err := DecodePayload(tt.kind, []byte(tt.raw)); err != nil {
			t.Errorf("%s: %v", tt.kind, err)
		}
	}
}

func TestEncodeDecodeEvents(t *testing.T) {
	in := []Event{
		Signals(map[string]any{"n": float64(1)}),
		Redirect("/home", false),
	}
	raw, err := EncodeEvents(in)
	if err != nil {
		t.Fatalf("EncodeEvents: %v", err)
	}
	out, err := DecodeEvents(raw)
	if err != nil {
		t.Fatalf("DecodeEvents: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("decoded %d events, want 2", len(out))
	}
	if out[0].Kind != EventSignals || out[1].Kind != EventRedirect {
		t.Errorf("kinds = %q,%q", out[0].Kind, out[1].Kind)
	}
	rd, ok := out[1].Data.(RedirectData)
	if !ok || rd.URL != "/home" {
		t.Errorf("redirect payload = %#v", out[1].Data)
	}
}
