// Package ledger records per-request token usage. The orchestrator reports
// usage fire-and-forget; nothing in the streaming path blocks on a write.
package ledger

import (
	"context"
	"time"
)

// Entry is one stream's usage record.
type Entry struct {
	ID           int64     `json:"id"`
	UserID       int64     `json:"user_id"`
	Provider     string    `json:"provider"`
	Model        string    `json:"model"`
	InputTokens  int64     `json:"input_tokens"`
	OutputTokens int64     `json:"output_tokens"`
	// Fallback marks streams that completed with a locally generated
	// artifact instead of provider output.
	Fallback  bool      `json:"fallback"`
	Memo      string    `json:"memo,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Summary aggregates usage for a user.
type Summary struct {
	Requests     int64 `json:"requests"`
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
	Fallbacks    int64 `json:"fallbacks"`
}

// Store defines persistence behaviour for the usage ledger.
type Store interface {
	Record(ctx context.Context, entry Entry) error
	Summary(ctx context.Context, userID int64) (Summary, error)
	ListRecent(ctx context.Context, userID int64, limit int) ([]Entry, error)
	Close() error
}
