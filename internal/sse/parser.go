// Package sse parses Server-Sent Event streams incrementally.
package sse

import (
	"bytes"
	"encoding/json"
)

// DoneMarker is the literal data payload that terminates a stream.
const DoneMarker = "[DONE]"

// Event is one complete SSE event with a JSON data payload.
type Event struct {
	Name string
	Data json.RawMessage
}

// Parse consumes chunk on top of the leftover bytes from the previous call
// and returns the new leftover. onEvent fires once per complete event whose
// data is valid JSON; onDone fires when the [DONE] marker is seen. Events with
// malformed JSON are dropped.
func Parse(leftover, chunk []byte, onEvent func(Event), onDone func()) []byte {
	buf := make([]byte, 0, len(leftover)+len(chunk))
	buf = append(buf, leftover...)
	buf = append(buf, chunk...)

	for {
		end, sepLen := eventBoundary(buf)
		if end < 0 {
			break
		}

		dispatch(buf[:end], onEvent, onDone)
		buf = buf[end+sepLen:]
	}

	if len(buf) == 0 {
		return nil
	}

	return buf
}

// Flush dispatches a trailing event that was never terminated by a blank line.
func Flush(leftover []byte, onEvent func(Event), onDone func()) {
	if len(bytes.TrimSpace(leftover)) == 0 {
		return
	}

	dispatch(leftover, onEvent, onDone)
}

// eventBoundary finds the first blank line, accepting LF and CRLF endings.
func eventBoundary(buf []byte) (int, int) {
	lf := bytes.Index(buf, []byte("\n\n"))
	crlf := bytes.Index(buf, []byte("\r\n\r\n"))

	switch {
	case lf < 0 && crlf < 0:
		return -1, 0
	case crlf < 0 || (lf >= 0 && lf < crlf):
		return lf, 2
	default:
		return crlf, 4
	}
}

func dispatch(block []byte, onEvent func(Event), onDone func()) {
	var (
		name    string
		data    [][]byte
		hasData bool
	)

	for _, line := range bytes.Split(block, []byte("\n")) {
		line = bytes.TrimRight(line, "\r")
		if len(line) == 0 || line[0] == ':' {
			continue
		}

		field, value, _ := bytes.Cut(line, []byte(":"))
		value = bytes.TrimPrefix(value, []byte(" "))

		switch string(field) {
		case "event":
			name = string(value)
		case "data":
			data = append(data, value)
			hasData = true
		}
	}

	if !hasData {
		return
	}

	payload := bytes.TrimSpace(bytes.Join(data, []byte("\n")))
	if string(payload) == DoneMarker {
		if onDone != nil {
			onDone()
		}
		return
	}

	if !json.Valid(payload) {
		return
	}

	if onEvent != nil {
		onEvent(Event{Name: name, Data: append(json.RawMessage(nil), payload...)})
	}
}
