package sse

import (
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestWriteEventFraming(t *testing.T) {
	var buf strings.Builder
	w := NewRawWriter(&buf)

	if err := w.WriteEvent(map[string]string{"type": "metadata"}); err != nil {
		t.Fatalf("WriteEvent: %v", err)
	}
	if err := w.WriteEvent(map[string]string{"content": "hello"}); err != nil {
		t.Fatalf("WriteEvent: %v", err)
	}
	if err := w.WriteDone(); err != nil {
		t.Fatalf("WriteDone: %v", err)
	}

	got := buf.String()
	want := "data: {\"type\":\"metadata\"}\n\ndata: {\"content\":\"hello\"}\n\ndata: [DONE]\n\n"
	if got != want {
		t.Fatalf("unexpected wire output:\n%q\nwant:\n%q", got, want)
	}
}

func TestWriterHeaders(t *testing.T) {
	rec := httptest.NewRecorder()
	_ = NewWriter(rec)

	h := rec.Header()
	if h.Get("Content-Type") != "text/event-stream" {
		t.Fatalf("unexpected content type %q", h.Get("Content-Type"))
	}
	if h.Get("Cache-Control") != "no-cache" {
		t.Fatalf("unexpected cache control %q", h.Get("Cache-Control"))
	}
	if h.Get("Connection") != "keep-alive" {
		t.Fatalf("unexpected connection header %q", h.Get("Connection"))
	}
}

func TestWriterFlushesPerEvent(t *testing.T) {
	rec := httptest.NewRecorder()
	w := NewWriter(rec)
	if err := w.WriteEvent(map[string]int{"n": 1}); err != nil {
		t.Fatalf("WriteEvent: %v", err)
	}
	if !rec.Flushed {
		t.Fatalf("expected flush after event")
	}
}

func TestCloseIdempotent(t *testing.T) {
	var buf strings.Builder
	w := NewRawWriter(&buf)

	w.Close()
	w.Close()
	if !w.Closed() {
		t.Fatalf("writer should report closed")
	}

	if err := w.WriteEvent(map[string]string{"x": "y"}); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if err := w.WriteDone(); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed from WriteDone, got %v", err)
	}
	if buf.Len() != 0 {
		t.Fatalf("nothing should be written after close, got %q", buf.String())
	}
}

func TestWriteEventMarshalError(t *testing.T) {
	var buf strings.Builder
	w := NewRawWriter(&buf)
	if err := w.WriteEvent(func() {}); err == nil {
		t.Fatalf("expected marshal error for unencodable value")
	}
	if buf.Len() != 0 {
		t.Fatalf("failed marshal must not emit a partial frame")
	}
}
