// Package sse frames orchestrator events for the Server-Sent-Events wire.
// Every non-terminal payload becomes one "data: <json>\n\n" block; the stream
// ends with the literal "data: [DONE]\n\n" sentinel.
package sse

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
)

// ErrClosed is returned by writes after Close.
var ErrClosed = errors.New("sse: writer closed")

// Writer serializes events onto one HTTP response. A failed write means the
// client went away; callers treat that as cancellation, not as an error to
// report. Close is idempotent because client disconnects race with
// server-side completion.
type Writer struct {
	w       io.Writer
	flusher http.Flusher

	mu     sync.Mutex
	closed bool
}

// NewWriter prepares w for event streaming and sets the SSE response headers.
func NewWriter(w http.ResponseWriter) *Writer {
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")

	flusher, _ := w.(http.Flusher)
	return &Writer{w: w, flusher: flusher}
}

// NewRawWriter wraps a plain io.Writer. Used by tests and the buffered
// non-streaming path; no headers are set and flushing is a no-op.
func NewRawWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// WriteEvent frames one event as a data block and flushes it to the client.
func (s *Writer) WriteEvent(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("sse: marshal event: %w", err)
	}
	return s.writeFrame(data)
}

// WriteDone emits the terminal sentinel.
func (s *Writer) WriteDone() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if _, err := io.WriteString(s.w, "data: [DONE]\n\n"); err != nil {
		return err
	}
	s.flush()
	return nil
}

// Close marks the writer closed. Safe to call more than once; later writes
// fail with ErrClosed. The underlying connection belongs to the HTTP server
// and is released when the handler returns.
func (s *Writer) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

// Closed reports whether Close has been called.
func (s *Writer) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Writer) writeFrame(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if _, err := io.WriteString(s.w, "data: "); err != nil {
		return err
	}
	if _, err := s.w.Write(data); err != nil {
		return err
	}
	if _, err := io.WriteString(s.w, "\n\n"); err != nil {
		return err
	}
	s.flush()
	return nil
}

func (s *Writer) flush() {
	if s.flusher != nil {
		s.flusher.Flush()
	}
}
