package api

import (
	"fmt"
	"net/http"
	"strings"
)

// sseSink writes chat events in the platform's SSE protocol: every event is
// "data: <payload>\n\n", token newlines are escaped so the blank-line event
// delimiter stays unambiguous, and each event is flushed immediately.
type sseSink struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// newSSESink sets the streaming headers and returns a sink over w. The
// bool result is false when the ResponseWriter cannot flush, in which case
// streaming is impossible.
func newSSESink(w http.ResponseWriter) (*sseSink, bool) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, false
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	return &sseSink{w: w, flusher: flusher}, true
}

func (s *sseSink) Token(tok string) error {
	escaped := strings.ReplaceAll(tok, "\n", "\\n")
	return s.event(escaped)
}

func (s *sseSink) Done() error {
	return s.event("[DONE]")
}

func (s *sseSink) Error(msg string) error {
	return s.event("[ERROR] " + msg)
}

func (s *sseSink) event(payload string) error {
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", payload); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}
