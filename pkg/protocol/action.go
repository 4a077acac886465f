package protocol

import (
	"encoding/json"
	"fmt"
)

// ActionRequest is the JSON body of a dispatch POST.
//
// Signals is the client's snapshot of its bound signal values. The
// pipeline merges it underneath Args, so bound form fields double as
// implicit action arguments; an explicit arg always wins on conflict.
type ActionRequest struct {
	SessionID string         `json:"sessionId,omitempty"`
	Action    string         `json:"actionId"`
	Args      map[string]any `json:"args,omitempty"`
	Signals   map[string]any `json:"signals,omitempty"`
}

// wireEvent is the JSON shape events take outside SSE framing, i.e. in
// action responses and on the websocket transport.
type wireEvent struct {
	Event EventKind       `json:"event"`
	Data  json.RawMessage `json:"data"`
	ID    uint64          `json:"id,omitempty"`
}

// EncodeEvent encodes one event as a JSON object.
func EncodeEvent(ev Event) ([]byte, error) {
	data, err := ev.MarshalData()
	if err != nil {
		return nil, err
	}
	return json.Marshal(wireEvent{Event: ev.Kind, Data: data, ID: ev.ID})
}

// DecodeEvent decodes one event from its JSON object form.
func DecodeEvent(raw []byte) (Event, error) {
	var we wireEvent
	if err := json.Unmarshal(raw, &we); err != nil {
		return Event{}, fmt.Errorf("protocol: decode event: %w", err)
	}
	payload, err := DecodePayload(we.Event, we.Data)
	if err != nil {
		return Event{}, err
	}
	return Event{Kind: we.Event, ID: we.ID, Data: payload}, nil
}

// EncodeEvents encodes a direct-response event list as a JSON array.
func EncodeEvents(evs []Event) ([]byte, error) {
	out := make([]wireEvent, 0, len(evs))
	for _, ev := range evs {
		data, err := ev.MarshalData()
		if err != nil {
			return nil, err
		}
		out = append(out, wireEvent{Event: ev.Kind, Data: data, ID: ev.ID})
	}
	return json.Marshal(out)
}

// DecodeEvents decodes a direct-response event list.
func DecodeEvents(raw []byte) ([]Event, error) {
	var wire []wireEvent
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, fmt.Errorf("protocol: decode events: %w", err)
	}
	evs := make([]Event, 0, len(wire))
	for _, we := range wire {
		payload, err := DecodePayload(we.Event, we.Data)
		if err != nil {
			return nil, err
		}
		evs = append(evs, Event{Kind: we.Event, ID: we.ID, Data: payload})
	}
	return evs, nil
}
