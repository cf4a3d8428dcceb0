// Package orchestrator coordinates one streaming report generation: it
// resolves a provider, relays deltas to the client, checks compliance after
// every delta, and substitutes a locally generated fallback artifact when the
// provider's output breaks the structural contract.
package orchestrator

import (
	"context"
	"log"
	"time"

	"github.com/finsight/reportstream/internal/adapter"
	"github.com/finsight/reportstream/internal/adapter/registry"
	"github.com/finsight/reportstream/internal/chat"
	"github.com/finsight/reportstream/internal/compliance"
	"github.com/finsight/reportstream/internal/report"
)

// EventWriter is the transport the orchestrator emits events through. A write
// error means the client went away and is treated as cancellation.
type EventWriter interface {
	WriteEvent(v any) error
	WriteDone() error
	Close()
}

// UsageRecorder receives final usage accounting. Implementations must not
// block; stream completion never waits on recording.
type UsageRecorder interface {
	RecordUsage(userID int64, provider, model string, usage chat.UsageReport, fallback bool)
}

// CostEstimator prices a usage report for a model; zero means unknown.
type CostEstimator interface {
	EstimateCost(model string, usage chat.UsageReport) float64
}

// State names the terminal disposition of one invocation.
type State string

const (
	StateComplete State = "complete"
	StateFailed   State = "failed"
	StateCanceled State = "canceled"
)

// Result summarizes one finished invocation.
type Result struct {
	State          State
	Model          string
	Provider       string
	Fallback       bool
	Usage          chat.UsageReport
	UsageEstimated bool
	Duration       time.Duration
	Text           string
}

// Orchestrator runs report streams. One instance is shared across requests;
// each invocation owns its own accumulated output and provider connection.
type Orchestrator struct {
	registry *registry.Registry
	fallback *report.Generator
	usage    UsageRecorder // optional
	cost     CostEstimator // optional
	logger   *log.Logger   // optional
	now      func() time.Time
}

// Config wires an Orchestrator.
type Config struct {
	Registry *registry.Registry
	Fallback *report.Generator
	Usage    UsageRecorder
	Cost     CostEstimator
	Logger   *log.Logger
	Clock    func() time.Time
}

// New creates an Orchestrator.
func New(cfg Config) *Orchestrator {
	now := cfg.Clock
	if now == nil {
		now = time.Now
	}
	fb := cfg.Fallback
	if fb == nil {
		fb = report.NewGenerator()
	}
	return &Orchestrator{
		registry: cfg.Registry,
		fallback: fb,
		usage:    cfg.Usage,
		cost:     cfg.Cost,
		logger:   cfg.Logger,
		now:      now,
	}
}

// Invocation is one caller request plus the collaborator inputs fetched for
// it: credentials looked up once, an identity for usage accounting, and an
// optional rule override.
type Invocation struct {
	Request     chat.Request
	Credentials registry.Credentials
	UserID      int64
	// Rules overrides the policy derived from the request mode when
	// non-zero. Tests and the visual mode path use this.
	Rules *compliance.RuleSet
}

// Stream runs the full state machine against w.
//
// A non-nil error means nothing was emitted: the request was invalid, the
// model unknown, or the caller lacks a credential. The HTTP layer maps those
// to 4xx responses instead of a half-started event stream. Once the metadata
// event is out, every outcome is delivered in-band and Stream returns a
// Result with a nil error.
func (o *Orchestrator) Stream(ctx context.Context, inv Invocation, w EventWriter) (Result, error) {
	req := inv.Request
	if err := req.Validate(); err != nil {
		return Result{}, err
	}
	if req.Model == "" {
		req.Model = o.registry.DefaultModel()
	}

	res, err := o.registry.Resolve(req.Model, inv.Credentials)
	if err != nil {
		return Result{}, err
	}

	run := &invocationRun{
		o:        o,
		w:        w,
		req:      req,
		userID:   inv.UserID,
		provider: res.Provider,
		start:    o.now(),
	}
	defer w.Close()

	rules := o.rulesFor(req, inv.Rules)
	return run.stream(ctx, res.Adapter, rules), nil
}

func (o *Orchestrator) rulesFor(req chat.Request, override *compliance.RuleSet) compliance.RuleSet {
	if override != nil {
		return *override
	}
	rules := compliance.DefaultRuleSet(req.Mode.RequireArtifact, req.Mode.RequireNoQuestions)
	if req.Mode.Visual {
		// Visual reports must open with the artifact immediately.
		rules.ArtifactDeltaBudget = 1
	}
	return rules
}

// invocationRun holds the per-stream state. Nothing here is shared across
// goroutines; the pull-inspect-emit loop is single-threaded by design.
type invocationRun struct {
	o        *Orchestrator
	w        EventWriter
	req      chat.Request
	userID   int64
	provider string
	start    time.Time

	acc          chat.Accumulated
	fellBack     bool
	terminalSent bool
}

func (r *invocationRun) stream(ctx context.Context, a adapter.StreamingAdapter, rules compliance.RuleSet) Result {
	// Metadata goes out before any provider activity.
	meta := MetadataEvent{
		Type:          "metadata",
		Model:         r.req.Model,
		StartTime:     r.start.UnixMilli(),
		CorrelationID: r.req.CorrelationID,
	}
	if err := r.w.WriteEvent(meta); err != nil {
		return r.result(StateCanceled)
	}

	sctx, cancel := context.WithCancel(ctx)
	defer cancel()

	ch, err := a.StreamChatCompletion(sctx, r.req)
	if err != nil {
		r.o.debugf("provider open failed provider=%s err=%v", r.provider, err)
		return r.fail()
	}

	policy := compliance.NewPolicy(rules)
	// Capacity covers the grace period plus the lookahead window.
	look := compliance.NewLookahead(rules.ArtifactDeltaBudget + policy.LookaheadBudget())

	// When an artifact is demanded, deltas are held back until the policy
	// settles; otherwise they relay live as they arrive.
	live := !rules.RequireArtifact

	for ev := range ch {
		switch {
		case ev.Usage != nil:
			r.acc.SetFinalUsage(*ev.Usage)

		case ev.Err != nil:
			if sctx.Err() != nil || ctx.Err() != nil {
				return r.result(StateCanceled)
			}
			r.o.debugf("provider stream error provider=%s err=%v", r.provider, ev.Err)
			return r.fail()

		case ev.Delta != nil:
			r.acc.Append(*ev.Delta)
			if live {
				if err := r.w.WriteEvent(ContentEvent{Content: ev.Delta.Text}); err != nil {
					cancel()
					go drain(ch)
					return r.result(StateCanceled)
				}
			}

			verdict := policy.Evaluate(r.acc.Text(), r.acc.DeltaCount())
			if live {
				if !verdict.Compliant && verdict.Reason == compliance.ReasonAskedQuestion {
					return r.cutover(ch)
				}
				continue
			}

			// Holding mode: buffer until the policy settles.
			held := look.Hold(*ev.Delta)
			switch {
			case verdict.Compliant:
				live = true
				for _, d := range look.Release() {
					if err := r.w.WriteEvent(ContentEvent{Content: d.Text}); err != nil {
						cancel()
						go drain(ch)
						return r.result(StateCanceled)
					}
				}
			case verdict.Reason == compliance.ReasonAskedQuestion:
				// First match is terminal.
				return r.cutover(ch)
			case verdict.Reason == compliance.ReasonMissingArtifact:
				// Budget reached; allow the bounded lookahead to run
				// out before finalizing.
				if !held || look.Exhausted() {
					return r.cutover(ch)
				}
			default:
				// Awaiting more data.
				if !held {
					return r.cutover(ch)
				}
			}
		}
	}

	if ctx.Err() != nil {
		return r.result(StateCanceled)
	}
	if !live {
		// Stream ended while output was still held: the artifact never
		// arrived at all.
		return r.cutoverClosed()
	}
	return r.complete()
}

// cutover abandons the provider's output: the remaining stream is drained in
// the background purely to release the connection, and the locally generated
// artifact replaces everything accumulated so far.
func (r *invocationRun) cutover(ch <-chan adapter.StreamEvent) Result {
	go drain(ch)
	return r.cutoverClosed()
}

func (r *invocationRun) cutoverClosed() Result {
	r.fellBack = true
	artifact := r.o.fallback.Generate(r.req)
	r.acc.Replace(artifact)
	if err := r.w.WriteEvent(ContentEvent{Content: artifact}); err != nil {
		return r.result(StateCanceled)
	}
	return r.complete()
}

func (r *invocationRun) complete() Result {
	usage, estimated := r.finalUsage()
	if r.terminalSent {
		return r.result(StateComplete)
	}
	r.terminalSent = true

	now := r.o.now()
	event := CompleteEvent{
		Type: "complete",
		Metadata: CompleteMetadata{
			Model:     r.req.Model,
			Tokens:    TokenCounts{Input: usage.InputTokens, Output: usage.OutputTokens},
			Duration:  now.Sub(r.start).Milliseconds(),
			Timestamp: now.UTC().Format(time.RFC3339),
			Estimated: estimated,
			Fallback:  r.fellBack,
			CostUSD:   usage.CostEstimateUSD,
		},
	}
	if err := r.w.WriteEvent(event); err != nil {
		return r.result(StateCanceled)
	}
	_ = r.w.WriteDone()

	if r.o.usage != nil {
		r.o.usage.RecordUsage(r.userID, r.provider, r.req.Model, usage, r.fellBack)
	}

	res := r.result(StateComplete)
	res.Usage = usage
	res.UsageEstimated = estimated
	return res
}

// fail emits the single error terminal event with a non-leaking message.
func (r *invocationRun) fail() Result {
	if r.terminalSent {
		return r.result(StateFailed)
	}
	r.terminalSent = true
	if err := r.w.WriteEvent(ErrorEvent{Error: "report generation failed"}); err != nil {
		return r.result(StateCanceled)
	}
	_ = r.w.WriteDone()
	return r.result(StateFailed)
}

func (r *invocationRun) finalUsage() (chat.UsageReport, bool) {
	if u := r.acc.FinalUsage(); u != nil && !r.fellBack {
		usage := *u
		usage.CostEstimateUSD = r.estimateCost(usage)
		return usage, false
	}
	usage := chat.UsageReport{
		InputTokens:  chat.EstimateInputTokens(r.req),
		OutputTokens: r.acc.EstimatedOutputTokens(),
	}
	usage.CostEstimateUSD = r.estimateCost(usage)
	return usage, true
}

func (r *invocationRun) estimateCost(usage chat.UsageReport) float64 {
	if r.o.cost == nil {
		return 0
	}
	return r.o.cost.EstimateCost(r.req.Model, usage)
}

func (r *invocationRun) result(state State) Result {
	return Result{
		State:    state,
		Model:    r.req.Model,
		Provider: r.provider,
		Fallback: r.fellBack,
		Duration: r.o.now().Sub(r.start),
		Text:     r.acc.Text(),
	}
}

func (o *Orchestrator) debugf(format string, args ...any) {
	if o.logger != nil {
		o.logger.Printf("orchestrator: "+format, args...)
	}
}

// drain consumes the remainder of a provider stream so its connection and
// goroutine are released. Runs detached; the client never waits on it.
func drain(ch <-chan adapter.StreamEvent) {
	for range ch {
	}
}
