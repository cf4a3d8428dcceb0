// Package compliance classifies accumulating model output against the
// structural contract a report stream must satisfy: the output embeds an HTML
// document and does not ask the caller questions. The orchestrator consults
// the policy after every delta and cuts over to a generated fallback when a
// rule fails at its checkpoint.
package compliance

import "strings"

// Reason identifies which rule rejected the output.
type Reason string

const (
	ReasonNone             Reason = "NONE"
	ReasonAskedQuestion    Reason = "ASKED_QUESTION"
	ReasonMissingArtifact  Reason = "MISSING_REQUIRED_ARTIFACT"
	ReasonAwaitingMoreData Reason = "AWAITING_MORE_DATA"
)

// Checkpoint identifies when the deciding rule fired.
type Checkpoint string

const (
	CheckpointEarly      Checkpoint = "EARLY"
	CheckpointMid        Checkpoint = "MID"
	CheckpointContinuous Checkpoint = "CONTINUOUS"
)

// Verdict is the result of one policy evaluation. Recomputed on a rolling
// basis, never stored.
type Verdict struct {
	Compliant  bool
	Reason     Reason
	Checkpoint Checkpoint
}

// RuleSet carries the tunable policy parameters. The defaults mirror the
// production values but none of them are load-bearing; callers may override
// per request.
type RuleSet struct {
	RequireArtifact    bool
	RequireNoQuestions bool

	// ArtifactDeltaBudget is how many deltas may arrive without the
	// artifact marker before the policy demands cutover.
	ArtifactDeltaBudget int
	// QuestionMinLength gates the question rule to avoid false positives
	// on very short prefixes.
	QuestionMinLength int
	// LookaheadBudget bounds how many extra deltas the orchestrator may
	// pull before finalizing a non-compliant verdict.
	LookaheadBudget int

	// ArtifactMarkers are document-start tokens, matched case-insensitively.
	ArtifactMarkers []string
	// QuestionPatterns are interrogative phrases, matched case-insensitively.
	QuestionPatterns []string
}

// DefaultRuleSet returns the production defaults for the given mode flags.
func DefaultRuleSet(requireArtifact, requireNoQuestions bool) RuleSet {
	return RuleSet{
		RequireArtifact:     requireArtifact,
		RequireNoQuestions:  requireNoQuestions,
		ArtifactDeltaBudget: 3,
		QuestionMinLength:   30,
		LookaheadBudget:     10,
		ArtifactMarkers:     defaultArtifactMarkers(),
		QuestionPatterns:    defaultQuestionPatterns(),
	}
}

// Policy evaluates accumulated output against one RuleSet. It is cheap to
// construct, owned by a single stream, and carries only the early-warning
// flag (whether the first delta visibly was not the artifact start).
type Policy struct {
	rules        RuleSet
	earlyWarning bool
	sawFirst     bool
}

// NewPolicy creates a Policy for one stream.
func NewPolicy(rules RuleSet) *Policy {
	if rules.ArtifactDeltaBudget <= 0 {
		rules.ArtifactDeltaBudget = 3
	}
	if rules.QuestionMinLength <= 0 {
		rules.QuestionMinLength = 30
	}
	if rules.LookaheadBudget < 0 {
		rules.LookaheadBudget = 0
	}
	if len(rules.ArtifactMarkers) == 0 {
		rules.ArtifactMarkers = defaultArtifactMarkers()
	}
	if len(rules.QuestionPatterns) == 0 {
		rules.QuestionPatterns = defaultQuestionPatterns()
	}
	return &Policy{rules: rules}
}

// Rules returns the effective rule set.
func (p *Policy) Rules() RuleSet { return p.rules }

// LookaheadBudget reports how many extra deltas may be pulled before a
// non-compliant verdict becomes final.
func (p *Policy) LookaheadBudget() int { return p.rules.LookaheadBudget }

// Evaluate classifies the output accumulated so far. text is the ordered
// concatenation of all deltas, deltaCount how many have arrived.
func (p *Policy) Evaluate(text string, deltaCount int) Verdict {
	lower := strings.ToLower(text)

	if p.rules.RequireNoQuestions && len(text) >= p.rules.QuestionMinLength {
		if p.matchesQuestion(lower) {
			return Verdict{Compliant: false, Reason: ReasonAskedQuestion, Checkpoint: CheckpointContinuous}
		}
	}

	if p.rules.RequireArtifact {
		if p.containsArtifact(lower) {
			return Verdict{Compliant: true, Reason: ReasonNone, Checkpoint: CheckpointContinuous}
		}
		if !p.sawFirst && deltaCount >= 1 {
			p.sawFirst = true
			p.earlyWarning = !p.startsLikeArtifact(lower)
		}
		if deltaCount >= p.effectiveBudget() {
			return Verdict{Compliant: false, Reason: ReasonMissingArtifact, Checkpoint: CheckpointMid}
		}
		if p.earlyWarning {
			return Verdict{Compliant: false, Reason: ReasonAwaitingMoreData, Checkpoint: CheckpointEarly}
		}
		return Verdict{Compliant: false, Reason: ReasonAwaitingMoreData, Checkpoint: CheckpointContinuous}
	}

	return Verdict{Compliant: true, Reason: ReasonNone, Checkpoint: CheckpointContinuous}
}

// effectiveBudget shortens the artifact grace period by one delta when the
// very first delta already looked wrong.
func (p *Policy) effectiveBudget() int {
	budget := p.rules.ArtifactDeltaBudget
	if p.earlyWarning && budget > 1 {
		budget--
	}
	return budget
}

func (p *Policy) matchesQuestion(lower string) bool {
	if strings.Contains(lower, "?") {
		return true
	}
	for _, pat := range p.rules.QuestionPatterns {
		if strings.Contains(lower, pat) {
			return true
		}
	}
	return false
}

func (p *Policy) containsArtifact(lower string) bool {
	for _, marker := range p.rules.ArtifactMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// startsLikeArtifact reports whether the (possibly still partial) text could
// be the beginning of a marker. A one-character "<" prefix is still a
// plausible start and does not raise the early warning.
func (p *Policy) startsLikeArtifact(lower string) bool {
	trimmed := strings.TrimLeft(lower, " \t\r\n")
	if trimmed == "" {
		return true
	}
	for _, marker := range p.rules.ArtifactMarkers {
		if strings.HasPrefix(trimmed, marker) || strings.HasPrefix(marker, trimmed) {
			return true
		}
	}
	return false
}

func defaultArtifactMarkers() []string {
	return []string{"<!doctype html", "<html"}
}

func defaultQuestionPatterns() []string {
	return []string{
		"should i",
		"shall i",
		"would you like",
		"do you want",
		"could you",
		"can you clarify",
		"let me know",
		"let me ",
		"i will ",
		"i'll ",
		"i need to",
		"before i proceed",
		"please confirm",
		"please provide",
	}
}
