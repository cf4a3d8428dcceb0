// Package metrics tracks service counters without external dependencies and
// renders them in the Prometheus text exposition format.
package metrics

import (
	"sync"
	"time"
)

// Collector aggregates stream outcomes. Safe for concurrent use.
type Collector struct {
	mu sync.RWMutex

	streamsByProvider map[string]int64
	streamsByModel    map[string]int64
	fallbacks         int64
	failures          int64
	cancellations     int64
	rateLimited       int64

	inputTokens  int64
	outputTokens int64

	totalStreamMillis int64
	startTime         time.Time
}

// NewCollector creates an empty Collector.
func NewCollector() *Collector {
	return &Collector{
		streamsByProvider: make(map[string]int64),
		streamsByModel:    make(map[string]int64),
		startTime:         time.Now(),
	}
}

// RecordStream records one finished invocation.
func (c *Collector) RecordStream(provider, model string, fallback bool, inputTokens, outputTokens int64, duration time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.streamsByProvider[provider]++
	c.streamsByModel[model]++
	if fallback {
		c.fallbacks++
	}
	c.inputTokens += inputTokens
	c.outputTokens += outputTokens
	c.totalStreamMillis += duration.Milliseconds()
}

// RecordFailure records a stream that ended with the error terminal event.
func (c *Collector) RecordFailure() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures++
}

// RecordCancellation records a client that went away mid-stream.
func (c *Collector) RecordCancellation() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancellations++
}

// RecordRateLimited records an admission rejected by the rate limiter.
func (c *Collector) RecordRateLimited() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rateLimited++
}

// Snapshot is a point-in-time copy of every counter.
type Snapshot struct {
	UptimeSeconds     int64
	StreamsByProvider map[string]int64
	StreamsByModel    map[string]int64
	Fallbacks         int64
	Failures          int64
	Cancellations     int64
	RateLimited       int64
	InputTokens       int64
	OutputTokens      int64
	TotalStreamMillis int64
}

// GetSnapshot copies the current counters.
func (c *Collector) GetSnapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Snapshot{
		UptimeSeconds:     int64(time.Since(c.startTime).Seconds()),
		StreamsByProvider: copyMap(c.streamsByProvider),
		StreamsByModel:    copyMap(c.streamsByModel),
		Fallbacks:         c.fallbacks,
		Failures:          c.failures,
		Cancellations:     c.cancellations,
		RateLimited:       c.rateLimited,
		InputTokens:       c.inputTokens,
		OutputTokens:      c.outputTokens,
		TotalStreamMillis: c.totalStreamMillis,
	}
}

func copyMap(m map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
