package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestRotatingWriterDatedFile(t *testing.T) {
	tmp := t.TempDir()
	base := filepath.Join(tmp, "reportstream.log")
	w, err := NewRotatingWriter(base, DefaultMaxBytes)
	if err != nil {
		t.Fatalf("NewRotatingWriter: %v", err)
	}
	defer w.Close()

	if _, err := w.Write([]byte("hello\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	day := time.Now().UTC().Format("2006-01-02")
	dated := filepath.Join(tmp, "reportstream-"+day+".log")
	data, err := os.ReadFile(dated)
	if err != nil {
		t.Fatalf("read dated file: %v", err)
	}
	if string(data) != "hello\n" {
		t.Fatalf("unexpected contents %q", data)
	}
	// Base path should resolve to the active file.
	if _, err := os.Lstat(base); err != nil {
		t.Fatalf("base pointer missing: %v", err)
	}
}

func TestRotatingWriterSizeRollover(t *testing.T) {
	tmp := t.TempDir()
	base := filepath.Join(tmp, "svc.log")
	w, err := NewRotatingWriter(base, 10)
	if err != nil {
		t.Fatalf("NewRotatingWriter: %v", err)
	}
	defer w.Close()

	if _, err := w.Write([]byte("12345678")); err != nil {
		t.Fatalf("first write: %v", err)
	}
	if _, err := w.Write([]byte("12345678")); err != nil {
		t.Fatalf("second write: %v", err)
	}
	day := time.Now().UTC().Format("2006-01-02")
	second := filepath.Join(tmp, "svc-"+day+"-2.log")
	if _, err := os.Stat(second); err != nil {
		t.Fatalf("expected rollover file: %v", err)
	}
}

func TestRotatingWriterDiscard(t *testing.T) {
	w, err := NewRotatingWriter("-", DefaultMaxBytes)
	if err != nil {
		t.Fatalf("NewRotatingWriter: %v", err)
	}
	if _, err := w.Write([]byte("ignored")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestNewLoggerStderr(t *testing.T) {
	logger, closer, err := NewLogger("test ", "")
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	if logger == nil {
		t.Fatalf("expected logger")
	}
	if closer != nil {
		t.Fatalf("expected nil closer for stderr logger")
	}
}

func TestNewLoggerFile(t *testing.T) {
	tmp := t.TempDir()
	logger, closer, err := NewLogger("svc ", filepath.Join(tmp, "svc.log"))
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	logger.Printf("started")
	if err := closer.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	day := time.Now().UTC().Format("2006-01-02")
	data, err := os.ReadFile(filepath.Join(tmp, "svc-"+day+".log"))
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(data), "started") {
		t.Fatalf("log line missing: %q", data)
	}
}
