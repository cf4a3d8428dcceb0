package modelmeta

import (
	"math"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/finsight/reportstream/internal/chat"
)

func TestLookup(t *testing.T) {
	c := NewCatalog()
	e, ok := c.Lookup("  Claude-3-5-Sonnet-20241022 ")
	if !ok {
		t.Fatalf("builtin model must resolve")
	}
	if e.Provider != "anthropic" || e.InputPerMTok != 3 {
		t.Fatalf("entry mismatch: %+v", e)
	}
	if _, ok := c.Lookup("made-up-model"); ok {
		t.Fatalf("unknown model must not resolve")
	}
}

func TestListSorted(t *testing.T) {
	c := NewCatalog()
	list := c.List()
	if len(list) == 0 {
		t.Fatalf("builtin catalog must not be empty")
	}
	if !sort.SliceIsSorted(list, func(i, j int) bool { return list[i].Model < list[j].Model }) {
		t.Fatalf("List must be sorted by model id")
	}
}

func TestLoadOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "models.json")
	payload := `[
		{"model":"gpt-4o","provider":"openai","input_per_mtok":99},
		{"model":"custom-local","provider":"groq","display_name":"Custom"},
		{"provider":"ignored-without-model"}
	]`
	if err := os.WriteFile(path, []byte(payload), 0o644); err != nil {
		t.Fatalf("write overlay: %v", err)
	}

	c := NewCatalog()
	n, err := c.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if n != 3 {
		t.Fatalf("Load returned %d, want 3", n)
	}

	// Overlay replaces the builtin entry wholesale.
	e, ok := c.Lookup("gpt-4o")
	if !ok || e.InputPerMTok != 99 || e.OutputPerMTok != 0 {
		t.Fatalf("overlay did not replace builtin entry: %+v", e)
	}
	if _, ok := c.Lookup("custom-local"); !ok {
		t.Fatalf("new overlay entry missing")
	}
	if _, ok := c.Lookup(""); ok {
		t.Fatalf("entry without model id must be skipped")
	}
}

func TestLoadErrors(t *testing.T) {
	c := NewCatalog()
	if _, err := c.Load(" "); err == nil {
		t.Fatalf("empty path must fail")
	}
	if _, err := c.Load(filepath.Join(t.TempDir(), "absent.json")); err == nil {
		t.Fatalf("missing file must fail")
	}
	bad := filepath.Join(t.TempDir(), "bad.json")
	if err := os.WriteFile(bad, []byte(`{"not":"an array"}`), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := c.Load(bad); err == nil {
		t.Fatalf("non-array payload must fail")
	}
}

func TestEstimateCost(t *testing.T) {
	c := NewCatalog()
	usage := chat.UsageReport{InputTokens: 1_000_000, OutputTokens: 500_000}
	got := c.EstimateCost("claude-3-5-sonnet-20241022", usage)
	// 1M input at $3 plus 0.5M output at $15.
	if math.Abs(got-10.5) > 1e-9 {
		t.Fatalf("EstimateCost = %v, want 10.5", got)
	}
	if got := c.EstimateCost("unknown", usage); got != 0 {
		t.Fatalf("unknown model must price to zero, got %v", got)
	}
}
