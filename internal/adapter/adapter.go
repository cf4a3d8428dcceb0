package adapter

import (
	"context"
	"fmt"

	"github.com/finsight/reportstream/internal/chat"
)

// StreamEvent is one canonical event read off a provider stream. Exactly one
// of Delta, Usage or Err is set. Usage arrives at most once, at stream end;
// the channel is closed after the final event.
type StreamEvent struct {
	Delta *chat.TextDelta
	Usage *chat.UsageReport
	Err   error
}

// StreamingAdapter wraps a single vendor API behind a canonical delta stream.
//
// Implementations open exactly one upstream connection per call and close it
// on every path out, including caller cancellation via ctx. Errors raised
// after deltas have been yielded do not retract those deltas.
type StreamingAdapter interface {
	// StreamChatCompletion starts a streaming completion. Configuration
	// problems (missing credential, empty messages) are returned
	// immediately, before any network call; network and vendor errors
	// surface on the channel as a *ProviderError.
	StreamChatCompletion(ctx context.Context, req chat.Request) (<-chan StreamEvent, error)
}

// ProviderError marks a failure originating at or on the way to a vendor API.
type ProviderError struct {
	Provider string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }
