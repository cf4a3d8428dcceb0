package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/finsight/reportstream/internal/ledger"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "usage.db"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestRecordAndSummary(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	entries := []ledger.Entry{
		{UserID: 1, Provider: "anthropic", Model: "claude-3-5-sonnet-20241022", InputTokens: 100, OutputTokens: 40},
		{UserID: 1, Provider: "openai", Model: "gpt-4o", InputTokens: 50, OutputTokens: 10, Fallback: true},
		{UserID: 2, Provider: "google", Model: "gemini-1.5-pro", InputTokens: 9, OutputTokens: 3},
	}
	for _, e := range entries {
		if err := s.Record(ctx, e); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	sum, err := s.Summary(ctx, 1)
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if sum.Requests != 2 || sum.InputTokens != 150 || sum.OutputTokens != 50 || sum.Fallbacks != 1 {
		t.Fatalf("summary mismatch: %+v", sum)
	}

	// Other users' rows are isolated.
	sum2, err := s.Summary(ctx, 2)
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if sum2.Requests != 1 || sum2.InputTokens != 9 {
		t.Fatalf("summary must be scoped by user: %+v", sum2)
	}
}

func TestSummaryEmptyUser(t *testing.T) {
	s := newTestStore(t)
	sum, err := s.Summary(context.Background(), 42)
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if sum.Requests != 0 || sum.InputTokens != 0 {
		t.Fatalf("empty user must aggregate to zero: %+v", sum)
	}
}

func TestRecordRequiresUserID(t *testing.T) {
	s := newTestStore(t)
	if err := s.Record(context.Background(), ledger.Entry{Provider: "anthropic", Model: "x"}); err == nil {
		t.Fatalf("expected error for zero user id")
	}
}

func TestListRecent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		err := s.Record(ctx, ledger.Entry{
			UserID:       1,
			Provider:     "anthropic",
			Model:        "claude-3-5-sonnet-20241022",
			InputTokens:  int64(i),
			OutputTokens: 1,
			Memo:         "run",
			CreatedAt:    base.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	got, err := s.ListRecent(ctx, 1, 3)
	if err != nil {
		t.Fatalf("ListRecent: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("limit not honored: got %d entries", len(got))
	}
	if got[0].InputTokens != 4 || got[1].InputTokens != 3 || got[2].InputTokens != 2 {
		t.Fatalf("entries must be newest first: %+v", got)
	}
	if got[0].Memo != "run" || got[0].Provider != "anthropic" {
		t.Fatalf("fields lost on round trip: %+v", got[0])
	}
}

func TestListRecentDefaultsLimit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if err := s.Record(ctx, ledger.Entry{UserID: 1, Provider: "p", Model: "m", InputTokens: 1, OutputTokens: 1}); err != nil {
		t.Fatalf("Record: %v", err)
	}
	got, err := s.ListRecent(ctx, 1, 0)
	if err != nil {
		t.Fatalf("ListRecent: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("zero limit must fall back to a sane default: %d", len(got))
	}
}
