// Package sse implements an incremental server-sent-events decoder following
// the WHATWG event-stream processing model. Feed accepts arbitrary byte
// chunks; events come out identically no matter where the chunk boundaries
// fall, including a CRLF split across two chunks.
package sse

import (
	"bytes"
	"strconv"
	"strings"
)

// Event is one dispatched server-sent event. Type defaults to "message"
// when the stream carries no event field.
type Event struct {
	Type  string
	Data  string
	ID    string
	Retry *int
}

// Decoder accumulates raw bytes and dispatches complete events. The zero
// value is ready to use.
type Decoder struct {
	buf []byte

	eventType string
	dataLines []string
	lastID    string
	retry     *int
}

// Feed consumes a chunk and returns the events completed by it.
func (d *Decoder) Feed(chunk []byte) []Event {
	d.buf = append(d.buf, chunk...)

	// A trailing CR may be the first half of a CRLF whose LF arrives in the
	// next chunk. Hold it back so it cannot be misread as a bare CR line
	// terminator followed by a spurious blank line.
	working := d.buf
	var held []byte
	if len(working) > 0 && working[len(working)-1] == '\r' {
		held = working[len(working)-1:]
		working = working[:len(working)-1]
	}

	working = normalizeNewlines(working)

	var events []Event
	for {
		idx := bytes.IndexByte(working, '\n')
		if idx < 0 {
			break
		}
		line := string(working[:idx])
		working = working[idx+1:]
		if ev, ok := d.processLine(line); ok {
			events = append(events, ev)
		}
	}

	d.buf = append(working[:len(working):len(working)], held...)
	return events
}

// Close flushes a final unterminated line and dispatches the pending event
// when any data has accumulated, so a stream that ends without a trailing
// blank line still delivers its last event.
func (d *Decoder) Close() []Event {
	var events []Event
	if len(d.buf) > 0 {
		line := string(normalizeNewlines(d.buf))
		d.buf = nil
		for _, part := range strings.Split(line, "\n") {
			if ev, ok := d.processLine(part); ok {
				events = append(events, ev)
			}
		}
	}
	if ev, ok := d.dispatch(); ok {
		events = append(events, ev)
	}
	return events
}

func normalizeNewlines(b []byte) []byte {
	b = bytes.ReplaceAll(b, []byte("\r\n"), []byte("\n"))
	return bytes.ReplaceAll(b, []byte("\r"), []byte("\n"))
}

// processLine applies one line to the decoder state. The second return is
// true when the line completed an event.
func (d *Decoder) processLine(line string) (Event, bool) {
	if line == "" {
		return d.dispatch()
	}
	if strings.HasPrefix(line, ":") {
		return Event{}, false
	}

	field := line
	value := ""
	if idx := strings.IndexByte(line, ':'); idx >= 0 {
		field = line[:idx]
		value = line[idx+1:]
		value = strings.TrimPrefix(value, " ")
	}

	switch field {
	case "event":
		d.eventType = value
	case "data":
		d.dataLines = append(d.dataLines, value)
	case "id":
		if !strings.ContainsRune(value, '\x00') {
			d.lastID = value
		}
	case "retry":
		if n, err := strconv.Atoi(value); err == nil {
			d.retry = &n
		}
	}
	return Event{}, false
}

func (d *Decoder) dispatch() (Event, bool) {
	if len(d.dataLines) == 0 {
		d.eventType = ""
		return Event{}, false
	}

	ev := Event{
		Type:  d.eventType,
		Data:  strings.Join(d.dataLines, "\n"),
		ID:    d.lastID,
		Retry: d.retry,
	}
	if ev.Type == "" {
		ev.Type = "message"
	}

	d.eventType = ""
	d.dataLines = nil
	return ev, true
}
