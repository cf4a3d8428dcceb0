package orchestrator

// Wire-facing event shapes. Exactly one Metadata opens a stream, zero or more
// Content events follow, then exactly one Complete or Error, then the [DONE]
// sentinel written by the transport.

// MetadataEvent is emitted first, before any provider output.
type MetadataEvent struct {
	Type          string `json:"type"`
	Model         string `json:"model"`
	StartTime     int64  `json:"startTime"` // epoch millis
	CorrelationID string `json:"correlationId,omitempty"`
}

// ContentEvent carries one chunk of report output.
type ContentEvent struct {
	Content string `json:"content"`
}

// TokenCounts mirrors the usage block of the complete event.
type TokenCounts struct {
	Input  int64 `json:"input"`
	Output int64 `json:"output"`
}

// CompleteMetadata summarizes a finished stream.
type CompleteMetadata struct {
	Model     string      `json:"model"`
	Tokens    TokenCounts `json:"tokens"`
	Duration  int64       `json:"duration"` // millis
	Timestamp string      `json:"timestamp"`
	// Estimated marks token counts derived locally because the provider's
	// own final report never arrived (fallback preempted it).
	Estimated bool `json:"estimated,omitempty"`
	// Fallback marks that the emitted artifact was generated locally.
	Fallback bool    `json:"fallback,omitempty"`
	CostUSD  float64 `json:"cost,omitempty"`
}

// CompleteEvent is the success terminal event.
type CompleteEvent struct {
	Type     string           `json:"type"`
	Metadata CompleteMetadata `json:"metadata"`
}

// ErrorEvent is the failure terminal event. Message is generic and never
// carries internal details or credentials.
type ErrorEvent struct {
	Error string `json:"error"`
}
