package metrics

import (
	"strings"
	"testing"
	"time"
)

func TestRecordStream(t *testing.T) {
	c := NewCollector()
	c.RecordStream("anthropic", "claude-3-5-sonnet-20241022", false, 100, 40, 1200*time.Millisecond)
	c.RecordStream("anthropic", "claude-3-5-haiku-20241022", true, 20, 300, 800*time.Millisecond)
	c.RecordStream("openai", "gpt-4o", false, 10, 5, 100*time.Millisecond)
	c.RecordFailure()
	c.RecordCancellation()
	c.RecordRateLimited()

	snap := c.GetSnapshot()
	if snap.StreamsByProvider["anthropic"] != 2 || snap.StreamsByProvider["openai"] != 1 {
		t.Fatalf("provider counts wrong: %+v", snap.StreamsByProvider)
	}
	if snap.Fallbacks != 1 || snap.Failures != 1 || snap.Cancellations != 1 || snap.RateLimited != 1 {
		t.Fatalf("outcome counters wrong: %+v", snap)
	}
	if snap.InputTokens != 130 || snap.OutputTokens != 345 {
		t.Fatalf("token totals wrong: %+v", snap)
	}
	if snap.TotalStreamMillis != 2100 {
		t.Fatalf("wall time total wrong: %d", snap.TotalStreamMillis)
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	c := NewCollector()
	c.RecordStream("groq", "llama-3.3-70b-versatile", false, 1, 1, time.Millisecond)
	snap := c.GetSnapshot()
	snap.StreamsByProvider["groq"] = 999
	if got := c.GetSnapshot().StreamsByProvider["groq"]; got != 1 {
		t.Fatalf("snapshot mutation leaked into the collector: %d", got)
	}
}

func TestFormatPrometheus(t *testing.T) {
	c := NewCollector()
	c.RecordStream("anthropic", "claude-3-5-sonnet-20241022", true, 7, 11, 50*time.Millisecond)
	out := FormatPrometheus(c.GetSnapshot())

	for _, want := range []string{
		"# TYPE reportstream_streams_total counter",
		`reportstream_streams_total{provider="anthropic"} 1`,
		`reportstream_streams_by_model_total{model="claude-3-5-sonnet-20241022"} 1`,
		"reportstream_fallbacks_total 1",
		"reportstream_input_tokens_total 7",
		"reportstream_output_tokens_total 11",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("exposition missing %q:\n%s", want, out)
		}
	}
}
