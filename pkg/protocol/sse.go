package protocol

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// WriteEvent writes one event in SSE framing:
//
//	event: <kind>
//	data: <json>
//	id: <id>
//	<blank line>
//
// JSON payloads never contain raw newlines, so data always fits on one
// line. The caller is responsible for flushing.
func WriteEvent(w io.Writer, ev Event) error {
	data, err := ev.MarshalData()
	if err != nil {
		return fmt.Errorf("protocol: encode %s payload: %w", ev.Kind, err)
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\nid: %d\n\n", ev.Kind, data, ev.ID)
	return err
}

// WriteComment writes an SSE comment line. Comments are heartbeats: the
// client ignores them except to reset its idle timer.
func WriteComment(w io.Writer, text string) error {
	_, err := fmt.Fprintf(w, ": %s\n\n", text)
	return err
}

// Scanner parses an SSE stream back into events. It is used by the
// client transport and by tests that read a captured stream.
type Scanner struct {
	r *bufio.Scanner

	// lastID is the id of the last event that carried one.
	lastID uint64

	// comments counts heartbeat frames seen, for idle-timer bookkeeping.
	comments int
}

// NewScanner wraps r in an SSE scanner.
func NewScanner(r io.Reader) *Scanner {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 4096), 1<<20)
	return &Scanner{r: s}
}

// LastID returns the id of the most recent event that carried one.
func (s *Scanner) LastID() uint64 { return s.lastID }

// Comments returns the number of heartbeat frames seen so far.
func (s *Scanner) Comments() int { return s.comments }

// Next reads the next complete event from the stream. It returns
// io.EOF when the stream ends cleanly between events.
func (s *Scanner) Next() (Event, error) {
	var (
		kind    string
		dataBuf bytes.Buffer
		id      uint64
		hasID   bool
		started bool
	)

	for s.r.Scan() {
		line := s.r.Text()

		// Blank line terminates a message.
		if line == "" {
			if !started {
				// Stray separator (e.g. after a comment frame).
				continue
			}
			return s.finish(kind, dataBuf.Bytes(), id, hasID)
		}

		if strings.HasPrefix(line, ":") {
			s.comments++
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")

		switch field {
		case "event":
			kind = value
			started = true
		case "data":
			// Multi-line data concatenates with newlines per the SSE spec.
			if dataBuf.Len() > 0 {
				dataBuf.WriteByte('\n')
			}
			dataBuf.WriteString(value)
			started = true
		case "id":
			if n, err := strconv.ParseUint(value, 10, 64); err == nil {
				id = n
				hasID = true
			}
			started = true
		default:
			// Unknown fields are ignored per the SSE spec.
		}
	}

	if err := s.r.Err(); err != nil {
		return Event{}, err
	}
	if started {
		// Stream ended mid-message; deliver what we have.
		return s.finish(kind, dataBuf.Bytes(), id, hasID)
	}
	return Event{}, io.EOF
}

func (s *Scanner) finish(kind string, data []byte, id uint64, hasID bool) (Event, error) {
	if hasID {
		s.lastID = id
	}
	if kind == "" {
		return Event{}, fmt.Errorf("protocol: message without event field")
	}
	if len(data) == 0 {
		data = []byte("{}")
	}
	payload, err := DecodePayload(EventKind(kind), data)
	if err != nil {
		return Event{}, fmt.Errorf("protocol: decode %s event: %w", kind, err)
	}
	return Event{Kind: EventKind(kind), ID: id, Data: payload}, nil
}
