package stream

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// EventType is the closed set of SSE event types the transport emits.
type EventType string

const (
	EventStatus   EventType = "status"
	EventText     EventType = "text"
	EventCitation EventType = "citation"
	EventError    EventType = "error"
	EventDone     EventType = "done"
)

// StatusPayload backs a "status" event.
type StatusPayload struct {
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// TextPayload backs a "text" event.
type TextPayload struct {
	Text string `json:"text"`
}

// ErrorPayload backs an "error" event.
type ErrorPayload struct {
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// Sink writes framed SSE events to an underlying response, flushing after
// each write so the client observes tokens as they are produced.
type Sink struct {
	w       io.Writer
	flusher http.Flusher
}

// NewSink wraps an http.ResponseWriter. It sets the SSE response headers;
// call it before writing any bytes to w.
func NewSink(w http.ResponseWriter) (*Sink, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("response writer does not support flushing")
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	return &Sink{w: w, flusher: flusher}, nil
}

// WriteEvent frames an event with a JSON payload. Multi-line payloads use
// one data: field per line.
func (s *Sink) WriteEvent(eventType EventType, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	return s.writeFrame(eventType, string(body))
}

func (s *Sink) writeFrame(eventType EventType, body string) error {
	if _, err := fmt.Fprintf(s.w, "event: %s\n", eventType); err != nil {
		return err
	}
	for _, line := range strings.Split(body, "\n") {
		if _, err := fmt.Fprintf(s.w, "data: %s\n", line); err != nil {
			return err
		}
	}
	if _, err := io.WriteString(s.w, "\n"); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// WriteDone writes a terminal event with no data: line. It never writes
// the literal [DONE] payload.
func (s *Sink) WriteDone() error {
	if _, err := fmt.Fprintf(s.w, "event: %s\n\n", EventDone); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// WriteHeartbeat writes a comment-only SSE line, invisible to EventSource
// listeners but enough to keep intermediaries from closing the connection.
func (s *Sink) WriteHeartbeat() error {
	if _, err := io.WriteString(s.w, ": heartbeat\n\n"); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}
