package chat

import (
	"strings"
	"testing"
)

func TestValidate(t *testing.T) {
	cases := []struct {
		name    string
		req     Request
		wantErr bool
	}{
		{
			name: "valid single user turn",
			req:  Request{Messages: []Message{{Role: RoleUser, Content: "report"}}},
		},
		{
			name: "roles are case insensitive",
			req: Request{Messages: []Message{
				{Role: "User", Content: "a"},
				{Role: "ASSISTANT", Content: "b"},
				{Role: RoleUser, Content: "c"},
			}},
		},
		{
			name:    "no messages",
			req:     Request{},
			wantErr: true,
		},
		{
			name:    "unknown role",
			req:     Request{Messages: []Message{{Role: "system", Content: "x"}}},
			wantErr: true,
		},
		{
			name:    "assistant only",
			req:     Request{Messages: []Message{{Role: RoleAssistant, Content: "x"}}},
			wantErr: true,
		},
		{
			name: "empty user content",
			req: Request{Messages: []Message{
				{Role: RoleUser, Content: ""},
			}},
			wantErr: true,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.req.Validate()
			if tc.wantErr && err == nil {
				t.Fatalf("expected error")
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestLastUserMessage(t *testing.T) {
	req := Request{Messages: []Message{
		{Role: RoleUser, Content: "first"},
		{Role: RoleAssistant, Content: "draft"},
		{Role: "USER", Content: "second"},
	}}
	if got := req.LastUserMessage(); got != "second" {
		t.Fatalf("LastUserMessage = %q, want %q", got, "second")
	}
	if got := (Request{}).LastUserMessage(); got != "" {
		t.Fatalf("empty request must yield empty message, got %q", got)
	}
}

func TestAccumulated(t *testing.T) {
	var acc Accumulated
	acc.Append(TextDelta{Text: "<!DOCTYPE", Sequence: 1})
	acc.Append(TextDelta{Text: " html>", Sequence: 2})
	if acc.Text() != "<!DOCTYPE html>" || acc.DeltaCount() != 2 {
		t.Fatalf("accumulation wrong: %q count=%d", acc.Text(), acc.DeltaCount())
	}

	acc.Replace("substitute")
	if acc.Text() != "substitute" {
		t.Fatalf("Replace must discard prior text: %q", acc.Text())
	}
	// Replace keeps the delta count; the stream really did deliver them.
	if acc.DeltaCount() != 2 {
		t.Fatalf("delta count must survive Replace: %d", acc.DeltaCount())
	}
}

func TestAccumulatedFinalUsageFirstWriteWins(t *testing.T) {
	var acc Accumulated
	if acc.FinalUsage() != nil {
		t.Fatalf("fresh accumulator must have no usage")
	}
	acc.SetFinalUsage(UsageReport{InputTokens: 10, OutputTokens: 5})
	acc.SetFinalUsage(UsageReport{InputTokens: 99, OutputTokens: 99})
	u := acc.FinalUsage()
	if u == nil || u.InputTokens != 10 || u.OutputTokens != 5 {
		t.Fatalf("first usage report must win: %+v", u)
	}
}

func TestEstimatedOutputTokens(t *testing.T) {
	var acc Accumulated
	if got := acc.EstimatedOutputTokens(); got != 1 {
		t.Fatalf("empty output estimates to 1, got %d", got)
	}
	acc.Append(TextDelta{Text: strings.Repeat("x", 40), Sequence: 1})
	if got := acc.EstimatedOutputTokens(); got != 11 {
		t.Fatalf("40 chars estimate to 11, got %d", got)
	}
}

func TestEstimateInputTokens(t *testing.T) {
	cases := []struct {
		name string
		req  Request
		want int64
	}{
		{
			name: "floor of two per message",
			req:  Request{Messages: []Message{{Role: RoleUser, Content: "hi"}}},
			want: 2,
		},
		{
			name: "content driven",
			req: Request{Messages: []Message{
				{Role: RoleUser, Content: strings.Repeat("a", 100)},
			}},
			want: 26,
		},
		{
			name: "system prompt counts",
			req: Request{
				SystemPrompt: strings.Repeat("s", 40),
				Messages:     []Message{{Role: RoleUser, Content: strings.Repeat("a", 40)}},
			},
			want: 21,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := EstimateInputTokens(tc.req); got != tc.want {
				t.Fatalf("EstimateInputTokens = %d, want %d", got, tc.want)
			}
		})
	}
}
