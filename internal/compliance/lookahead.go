package compliance

import "github.com/finsight/reportstream/internal/chat"

// Lookahead buffers deltas that have been pulled from the provider but not
// yet released to the client because the policy has not settled. It bounds
// how many extra deltas may be held before a pending verdict becomes final,
// so a misbehaving provider cannot stall the cutover decision indefinitely.
type Lookahead struct {
	budget  int
	pending []chat.TextDelta
}

// NewLookahead creates a buffer allowing up to budget held deltas.
func NewLookahead(budget int) *Lookahead {
	if budget < 0 {
		budget = 0
	}
	return &Lookahead{budget: budget, pending: make([]chat.TextDelta, 0, budget)}
}

// Hold buffers a delta. It reports false when the budget is exhausted and
// the caller must finalize its verdict instead of pulling further.
func (l *Lookahead) Hold(d chat.TextDelta) bool {
	if len(l.pending) >= l.budget {
		return false
	}
	l.pending = append(l.pending, d)
	return true
}

// Exhausted reports whether no further deltas may be held.
func (l *Lookahead) Exhausted() bool { return len(l.pending) >= l.budget }

// Release returns the held deltas in arrival order and empties the buffer.
// Called when the policy settles compliant and the stream goes live.
func (l *Lookahead) Release() []chat.TextDelta {
	out := l.pending
	l.pending = nil
	return out
}

// Discard drops the held deltas. Called on fallback cutover.
func (l *Lookahead) Discard() {
	l.pending = nil
}

// Held reports how many deltas are currently buffered.
func (l *Lookahead) Held() int { return len(l.pending) }
