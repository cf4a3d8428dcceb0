package chat

import "strings"

// TextDelta is one incremental fragment of model output.
type TextDelta struct {
	Text     string
	Sequence int
}

// UsageReport is the provider's final token accounting for a stream.
type UsageReport struct {
	InputTokens  int64
	OutputTokens int64
	// CostEstimateUSD is derived from the model catalog; zero when unknown.
	CostEstimateUSD float64
}

// Accumulated collects exactly one stream's relayed output. It is owned by a
// single orchestrator invocation and is never shared across goroutines.
type Accumulated struct {
	text       strings.Builder
	deltaCount int
	finalUsage *UsageReport
}

// Append records a relayed delta.
func (a *Accumulated) Append(d TextDelta) {
	a.text.WriteString(d.Text)
	a.deltaCount++
}

// Replace discards everything relayed so far in favour of a substitute
// artifact. Used on fallback cutover; further provider deltas are not appended.
func (a *Accumulated) Replace(artifact string) {
	a.text.Reset()
	a.text.WriteString(artifact)
}

// Text returns the concatenated output relayed so far.
func (a *Accumulated) Text() string { return a.text.String() }

// DeltaCount reports how many deltas have been appended.
func (a *Accumulated) DeltaCount() int { return a.deltaCount }

// EstimatedOutputTokens derives a rough token count (4 chars ~ 1 token).
// It is informational only and is superseded by the provider's final report.
func (a *Accumulated) EstimatedOutputTokens() int64 {
	return int64(a.text.Len()/4) + 1
}

// SetFinalUsage records the authoritative usage report. First write wins.
func (a *Accumulated) SetFinalUsage(u UsageReport) {
	if a.finalUsage == nil {
		c := u
		a.finalUsage = &c
	}
}

// FinalUsage returns the authoritative usage report, or nil when the stream
// never reached genuine completion.
func (a *Accumulated) FinalUsage() *UsageReport { return a.finalUsage }

// EstimateInputTokens approximates prompt tokens from request messages.
func EstimateInputTokens(r Request) int64 {
	total := len(r.SystemPrompt)
	for _, m := range r.Messages {
		total += len(m.Content)
	}
	n := int64(total/4) + 1
	if min := int64(len(r.Messages) * 2); n < min {
		n = min
	}
	return n
}
