package metrics

import (
	"fmt"
	"sort"
	"strings"
)

// FormatPrometheus renders a snapshot in the Prometheus text format.
// See https://prometheus.io/docs/instrumenting/exposition_formats/
func FormatPrometheus(snap Snapshot) string {
	var sb strings.Builder

	writeGauge(&sb, "reportstream_uptime_seconds", "Time since the service started", snap.UptimeSeconds)

	sb.WriteString("# HELP reportstream_streams_total Finished streams by provider\n")
	sb.WriteString("# TYPE reportstream_streams_total counter\n")
	for _, provider := range sortedKeys(snap.StreamsByProvider) {
		fmt.Fprintf(&sb, "reportstream_streams_total{provider=%q} %d\n", provider, snap.StreamsByProvider[provider])
	}
	sb.WriteString("\n")

	sb.WriteString("# HELP reportstream_streams_by_model_total Finished streams by model\n")
	sb.WriteString("# TYPE reportstream_streams_by_model_total counter\n")
	for _, model := range sortedKeys(snap.StreamsByModel) {
		fmt.Fprintf(&sb, "reportstream_streams_by_model_total{model=%q} %d\n", model, snap.StreamsByModel[model])
	}
	sb.WriteString("\n")

	writeCounter(&sb, "reportstream_fallbacks_total", "Streams completed with a generated fallback artifact", snap.Fallbacks)
	writeCounter(&sb, "reportstream_failures_total", "Streams ended with the error terminal event", snap.Failures)
	writeCounter(&sb, "reportstream_cancellations_total", "Streams abandoned by the client", snap.Cancellations)
	writeCounter(&sb, "reportstream_rate_limited_total", "Admissions rejected by the rate limiter", snap.RateLimited)
	writeCounter(&sb, "reportstream_input_tokens_total", "Prompt tokens across all streams", snap.InputTokens)
	writeCounter(&sb, "reportstream_output_tokens_total", "Output tokens across all streams", snap.OutputTokens)
	writeCounter(&sb, "reportstream_stream_milliseconds_total", "Cumulative stream wall time", snap.TotalStreamMillis)

	return sb.String()
}

func writeCounter(sb *strings.Builder, name, help string, value int64) {
	fmt.Fprintf(sb, "# HELP %s %s\n# TYPE %s counter\n%s %d\n\n", name, help, name, name, value)
}

func writeGauge(sb *strings.Builder, name, help string, value int64) {
	fmt.Fprintf(sb, "# HELP %s %s\n# TYPE %s gauge\n%s %d\n\n", name, help, name, name, value)
}

func sortedKeys(m map[string]int64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
