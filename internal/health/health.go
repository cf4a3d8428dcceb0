// Package health probes the service's dependencies for the health endpoint.
package health

import (
	"context"
	"sync"
	"time"
)

// Status of one component or of the service overall.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
)

// Probe checks one dependency. A nil error means healthy.
type Probe func(ctx context.Context) error

// CheckResult is the outcome of one probe run.
type CheckResult struct {
	Status    Status `json:"status"`
	LatencyMS int64  `json:"latency_ms"`
	Error     string `json:"error,omitempty"`
}

// Report is the aggregate over all registered probes.
type Report struct {
	Status     Status                 `json:"status"`
	Components map[string]CheckResult `json:"components,omitempty"`
}

// Checker runs registered probes with a per-probe timeout. Safe for
// concurrent use; registration normally happens once at startup.
type Checker struct {
	mu      sync.RWMutex
	probes  map[string]Probe
	timeout time.Duration
}

// NewChecker creates a Checker. A zero timeout defaults to two seconds.
func NewChecker(timeout time.Duration) *Checker {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Checker{probes: make(map[string]Probe), timeout: timeout}
}

// Register adds a named probe. Re-registering a name replaces the probe.
func (c *Checker) Register(name string, p Probe) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.probes[name] = p
}

// Check runs every probe and aggregates the results. The overall status is
// unhealthy when any component is.
func (c *Checker) Check(ctx context.Context) Report {
	c.mu.RLock()
	probes := make(map[string]Probe, len(c.probes))
	for name, p := range c.probes {
		probes[name] = p
	}
	timeout := c.timeout
	c.mu.RUnlock()

	report := Report{Status: StatusHealthy}
	if len(probes) == 0 {
		return report
	}
	report.Components = make(map[string]CheckResult, len(probes))

	for name, probe := range probes {
		start := time.Now()
		pctx, cancel := context.WithTimeout(ctx, timeout)
		err := probe(pctx)
		cancel()

		result := CheckResult{
			Status:    StatusHealthy,
			LatencyMS: time.Since(start).Milliseconds(),
		}
		if err != nil {
			result.Status = StatusUnhealthy
			result.Error = err.Error()
			report.Status = StatusUnhealthy
		}
		report.Components[name] = result
	}
	return report
}
