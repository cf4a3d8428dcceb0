package compliance

import (
	"strings"
	"testing"

	"github.com/finsight/reportstream/internal/chat"
)

func TestEvaluateArtifactPresent(t *testing.T) {
	p := NewPolicy(DefaultRuleSet(true, true))
	cases := []string{
		"<!DOCTYPE html><html><body>Report</body></html>",
		"Here is your report:\n<!doctype HTML><html>",
		"intro text <HTML lang=\"en\"> more",
	}
	for _, text := range cases {
		v := p.Evaluate(text, 1)
		if !v.Compliant {
			t.Fatalf("expected compliant for %q, got %+v", text, v)
		}
		if v.Reason != ReasonNone {
			t.Fatalf("unexpected reason %s for %q", v.Reason, text)
		}
	}
}

func TestEvaluateQuestionRule(t *testing.T) {
	cases := []struct {
		name     string
		text     string
		deltas   int
		reason   Reason
		rejected bool
	}{
		{
			name:     "question mark past threshold",
			text:     "Before I generate the report, what time period should it cover?",
			deltas:   2,
			reason:   ReasonAskedQuestion,
			rejected: true,
		},
		{
			name:     "interrogative phrase without question mark",
			text:     "Sure! Would you like me to include the quarterly breakdown as well.",
			deltas:   2,
			reason:   ReasonAskedQuestion,
			rejected: true,
		},
		{
			// 10 chars is below the 30-char gate even though the pattern
			// "would you like" could still be forming.
			name:     "short prefix not yet judged",
			text:     "Sure! Woul",
			deltas:   1,
			rejected: false,
		},
		{
			name:     "deferral phrase",
			text:     "I will prepare that report for you and follow up shortly.",
			deltas:   2,
			reason:   ReasonAskedQuestion,
			rejected: true,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := NewPolicy(DefaultRuleSet(true, true))
			v := p.Evaluate(tc.text, tc.deltas)
			if tc.rejected {
				if v.Compliant || v.Reason != tc.reason {
					t.Fatalf("expected %s, got %+v", tc.reason, v)
				}
				if v.Checkpoint != CheckpointContinuous {
					t.Fatalf("question rule must fire at CONTINUOUS, got %s", v.Checkpoint)
				}
				return
			}
			if v.Reason == ReasonAskedQuestion {
				t.Fatalf("short prefix should not trigger question rule: %+v", v)
			}
		})
	}
}

func TestEvaluateQuestionBeatsArtifact(t *testing.T) {
	// A stream that contains both a question and an artifact marker fails:
	// the question rule is checked first and is terminal.
	p := NewPolicy(DefaultRuleSet(true, true))
	text := "<html>report</html> Should I also include projections for next year"
	v := p.Evaluate(text, 3)
	if v.Compliant || v.Reason != ReasonAskedQuestion {
		t.Fatalf("expected ASKED_QUESTION to win, got %+v", v)
	}
}

func TestEvaluateArtifactBudget(t *testing.T) {
	p := NewPolicy(DefaultRuleSet(true, false))

	// Text that plausibly starts an artifact keeps the full 3-delta budget.
	v := p.Evaluate("<", 1)
	if v.Compliant || v.Reason != ReasonAwaitingMoreData {
		t.Fatalf("delta 1: expected AWAITING_MORE_DATA, got %+v", v)
	}
	v = p.Evaluate("<!doc", 2)
	if v.Reason != ReasonAwaitingMoreData {
		t.Fatalf("delta 2: expected AWAITING_MORE_DATA, got %+v", v)
	}
	v = p.Evaluate("<!doc...", 3)
	if v.Reason != ReasonMissingArtifact || v.Checkpoint != CheckpointMid {
		t.Fatalf("delta 3: expected MISSING_REQUIRED_ARTIFACT at MID, got %+v", v)
	}
}

func TestEvaluateEarlyWarningShortensBudget(t *testing.T) {
	p := NewPolicy(DefaultRuleSet(true, false))

	// Prose on the first delta cannot become a marker, so the budget drops
	// from 3 to 2.
	v := p.Evaluate("Here is", 1)
	if v.Reason != ReasonAwaitingMoreData || v.Checkpoint != CheckpointEarly {
		t.Fatalf("delta 1: expected EARLY warning, got %+v", v)
	}
	v = p.Evaluate("Here is the summary", 2)
	if v.Reason != ReasonMissingArtifact {
		t.Fatalf("delta 2: expected MISSING_REQUIRED_ARTIFACT, got %+v", v)
	}
}

func TestEvaluateArtifactArrivesLate(t *testing.T) {
	// The artifact check runs before the budget check, so a marker landing
	// exactly on the budget delta still passes.
	p := NewPolicy(DefaultRuleSet(true, false))
	_ = p.Evaluate("<", 1)
	_ = p.Evaluate("<!doctype ", 2)
	v := p.Evaluate("<!doctype html><html>", 3)
	if !v.Compliant {
		t.Fatalf("marker on budget delta should pass: %+v", v)
	}
}

func TestEvaluateNoRules(t *testing.T) {
	p := NewPolicy(DefaultRuleSet(false, false))
	v := p.Evaluate("Would you like a report? I have no artifact either.", 50)
	if !v.Compliant {
		t.Fatalf("all rules disabled must be compliant, got %+v", v)
	}
}

func TestEvaluateCustomBudget(t *testing.T) {
	rules := DefaultRuleSet(true, false)
	rules.ArtifactDeltaBudget = 1
	p := NewPolicy(rules)
	v := p.Evaluate("<", 1)
	if v.Reason != ReasonMissingArtifact {
		t.Fatalf("budget 1 must reject on first delta, got %+v", v)
	}
}

func TestNewPolicyDefaultsZeroValues(t *testing.T) {
	p := NewPolicy(RuleSet{RequireArtifact: true})
	rules := p.Rules()
	if rules.ArtifactDeltaBudget != 3 || rules.QuestionMinLength != 30 || rules.LookaheadBudget != 0 {
		t.Fatalf("unexpected defaulted rules %+v", rules)
	}
	if len(rules.ArtifactMarkers) == 0 || len(rules.QuestionPatterns) == 0 {
		t.Fatalf("expected built-in marker and pattern lists")
	}
}

func TestLookaheadHoldAndRelease(t *testing.T) {
	l := NewLookahead(2)
	if !l.Hold(chat.TextDelta{Text: "a", Sequence: 1}) {
		t.Fatalf("first hold should succeed")
	}
	if !l.Hold(chat.TextDelta{Text: "b", Sequence: 2}) {
		t.Fatalf("second hold should succeed")
	}
	if !l.Exhausted() {
		t.Fatalf("buffer should be exhausted at budget")
	}
	if l.Hold(chat.TextDelta{Text: "c", Sequence: 3}) {
		t.Fatalf("hold past budget must fail")
	}

	released := l.Release()
	if len(released) != 2 || released[0].Text != "a" || released[1].Text != "b" {
		t.Fatalf("release out of order: %+v", released)
	}
	if l.Held() != 0 {
		t.Fatalf("buffer should be empty after release")
	}
}

func TestLookaheadDiscard(t *testing.T) {
	l := NewLookahead(3)
	l.Hold(chat.TextDelta{Text: "x"})
	l.Discard()
	if l.Held() != 0 {
		t.Fatalf("discard should empty the buffer")
	}
	if got := l.Release(); len(got) != 0 {
		t.Fatalf("nothing to release after discard, got %+v", got)
	}
}

func TestLookaheadZeroBudget(t *testing.T) {
	l := NewLookahead(0)
	if l.Hold(chat.TextDelta{Text: "x"}) {
		t.Fatalf("zero budget must not hold anything")
	}
	if !l.Exhausted() {
		t.Fatalf("zero budget is always exhausted")
	}
}

func TestStartsLikeArtifactPartials(t *testing.T) {
	p := NewPolicy(DefaultRuleSet(true, false))
	for _, prefix := range []string{"<", "<!", "<!doctype", "<htm", "  <html"} {
		if !p.startsLikeArtifact(strings.ToLower(prefix)) {
			t.Fatalf("%q should read as a plausible marker start", prefix)
		}
	}
	for _, prose := range []string{"here", "sure,", "i"} {
		if p.startsLikeArtifact(prose) {
			t.Fatalf("%q should not read as a marker start", prose)
		}
	}
}
