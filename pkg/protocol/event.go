package protocol

import (
	"encoding/json"
	"fmt"
)

// EventKind identifies one kind of push event.
//
// The set is closed: both ends of the wire switch exhaustively over it,
// so adding a kind means touching the client engine and the server hub
// in the same change.
type EventKind string

const (
	// EventMorph carries a server-rendered HTML fragment and the id of
	// the element whose subtree it replaces.
	EventMorph EventKind = "morph"

	// EventSignals carries a name→value patch merged into the client
	// signal store. Server-origin values win over local ones.
	EventSignals EventKind = "signals"

	// EventExecute carries a script string the client runs once.
	EventExecute EventKind = "execute"

	// EventRedirect tells the client to navigate.
	EventRedirect EventKind = "redirect"

	// EventError reports a server-side failure for observability only.
	EventError EventKind = "error"

	// EventTitle updates the document title.
	EventTitle EventKind = "title"

	// EventFavicon updates the document favicon.
	EventFavicon EventKind = "favicon"

	// EventTaskProgress reports fractional progress of a named
	// long-running task.
	EventTaskProgress EventKind = "task:progress"

	// EventTaskComplete marks a named long-running task finished.
	EventTaskComplete EventKind = "task:complete"
)

// Event is one protocol event. ID is zero until a hub stamps it.
type Event struct {
	Kind EventKind
	ID   uint64
	Data any
}

// MorphData is the payload of EventMorph.
type MorphData struct {
	// Target is the id of the DOM element to patch.
	Target string `json:"target"`

	// HTML is the new server-rendered fragment for that element.
	HTML string `json:"html"`
}

// SignalsData is the payload of EventSignals.
type SignalsData map[string]any

// ExecuteData is the payload of EventExecute.
type ExecuteData struct {
	Script string `json:"script"`
}

// RedirectData is the payload of EventRedirect.
type RedirectData struct {
	URL string `json:"url"`

	// Replace selects history.replaceState over pushState semantics.
	Replace bool `json:"replace,omitempty"`
}

// ErrorData is the payload of EventError.
type ErrorData struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// TitleData is the payload of EventTitle.
type TitleData struct {
	Title string `json:"title"`
}

// FaviconData is the payload of EventFavicon.
type FaviconData struct {
	URL string `json:"url"`
}

// TaskProgressData is the payload of EventTaskProgress.
type TaskProgressData struct {
	Task string `json:"task"`

	// Fraction is progress in [0, 1].
	Fraction float64 `json:"fraction"`
}

// TaskCompleteData is the payload of EventTaskComplete.
type TaskCompleteData struct {
	Task string `json:"task"`
}

// WithID returns a copy of the event stamped with a stream id.
func (e Event) WithID(id uint64) Event {
	e.ID = id
	return e
}

// Morph builds an EventMorph.
func Morph(target, html string) Event {
	return Event{Kind: EventMorph, Data: MorphData{Target: target, HTML: html}}
}

// Signals builds an EventSignals.
func Signals(patch map[string]any) Event {
	return Event{Kind: EventSignals, Data: SignalsData(patch)}
}

// Execute builds an EventExecute.
func Execute(script string) Event {
	return Event{Kind: EventExecute, Data: ExecuteData{Script: script}}
}

// Redirect builds an EventRedirect.
func Redirect(url string, replace bool) Event {
	return Event{Kind: EventRedirect, Data: RedirectData{URL: url, Replace: replace}}
}

// Error builds an EventError.
func Error(code, message string) Event {
	return Event{Kind: EventError, Data: ErrorData{Code: code, Message: message}}
}

// Title builds an EventTitle.
func Title(title string) Event {
	return Event{Kind: EventTitle, Data: TitleData{Title: title}}
}

// Favicon builds an EventFavicon.
func Favicon(url string) Event {
	return Event{Kind: EventFavicon, Data: FaviconData{URL: url}}
}

// TaskProgress builds an EventTaskProgress.
func TaskProgress(task string, fraction float64) Event {
	return Event{Kind: EventTaskProgress, Data: TaskProgressData{Task: task, Fraction: fraction}}
}

// TaskComplete builds an EventTaskComplete.
func TaskComplete(task string) Event {
	return Event{Kind: EventTaskComplete, Data: TaskCompleteData{Task: task}}
}

// DecodePayload parses a raw JSON payload into the typed payload struct
// for the given kind. Unknown kinds are an error: the client treats
// them as a protocol mismatch worth logging, never as a crash.
func DecodePayload(kind EventKind, raw []byte) (any, error) {
	switch kind {
	case EventMorph:
		var d MorphData
		if err := json.Unmarshal(raw, &d); err != nil {
			return nil, err
		}
		return d, nil
	case EventSignals:
		var d SignalsData
		if err := json.Unmarshal(raw, &d); err != nil {
			return nil, err
		}
		return d, nil
	case EventExecute:
		var d ExecuteData
		if err := json.Unmarshal(raw, &d); err != nil {
			return nil, err
		}
		return d, nil
	case EventRedirect:
		var d RedirectData
		if err := json.Unmarshal(raw, &d); err != nil {
			return nil, err
		}
		return d, nil
	case EventError:
		var d ErrorData
		if err := json.Unmarshal(raw, &d); err != nil {
			return nil, err
		}
		return d, nil
	case EventTitle:
		var d TitleData
		if err := json.Unmarshal(raw, &d); err != nil {
			return nil, err
		}
		return d, nil
	case EventFavicon:
		var d FaviconData
		if err := json.Unmarshal(raw, &d); err != nil {
			return nil, err
		}
		return d, nil
	case EventTaskProgress:
		var d TaskProgressData
		if err := json.Unmarshal(raw, &d); err != nil {
			return nil, err
		}
		return d, nil
	case EventTaskComplete:
		var d TaskCompleteData
		if err := json.Unmarshal(raw, &d); err != nil {
			return nil, err
		}
		return d, nil
	default:
		return nil, fmt.Errorf("protocol: unknown event kind %q", kind)
	}
}

// MarshalData encodes the event payload as JSON.
func (e Event) MarshalData() ([]byte, error) {
	if e.Data == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(e.Data)
}
