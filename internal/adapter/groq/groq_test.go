package groq

import (
	"context"
	"testing"
	"time"

	goopenai "github.com/sashabaranov/go-openai"

	"github.com/finsight/reportstream/internal/chat"
	"github.com/finsight/reportstream/internal/testutil"
)

func TestStreamChatCompletion(t *testing.T) {
	// Groq speaks the OpenAI wire format, so a plain OpenAI SSE playback
	// exercises the SDK-backed path end to end.
	srv := testutil.NewSSEServer(t,
		`{"id":"c1","object":"chat.completion.chunk","choices":[{"index":0,"delta":{"content":"<!DOCTYPE html>"}}]}`,
		`{"id":"c1","object":"chat.completion.chunk","choices":[{"index":0,"delta":{"content":"<html></html>"}}]}`,
		`{"id":"c1","object":"chat.completion.chunk","choices":[],"usage":{"prompt_tokens":18,"completion_tokens":6}}`,
		`[DONE]`,
	)
	defer srv.Close()

	a, err := New(Config{APIKey: "gsk-test", BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ch, err := a.StreamChatCompletion(context.Background(), chat.Request{
		Messages:     []chat.Message{{Role: chat.RoleUser, Content: "report"}},
		Model:        "llama-3.1-70b-versatile",
		SystemPrompt: "emit html",
	})
	if err != nil {
		t.Fatalf("StreamChatCompletion: %v", err)
	}

	var (
		deltas []chat.TextDelta
		usage  *chat.UsageReport
	)
	timeout := time.After(5 * time.Second)
loop:
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				break loop
			}
			switch {
			case ev.Err != nil:
				t.Fatalf("stream error: %v", ev.Err)
			case ev.Usage != nil:
				u := *ev.Usage
				usage = &u
			case ev.Delta != nil:
				deltas = append(deltas, *ev.Delta)
			}
		case <-timeout:
			t.Fatalf("timed out waiting for stream events")
		}
	}

	if len(deltas) != 2 || deltas[0].Text != "<!DOCTYPE html>" || deltas[1].Sequence != 2 {
		t.Fatalf("delta mismatch: %+v", deltas)
	}
	if usage == nil || usage.InputTokens != 18 || usage.OutputTokens != 6 {
		t.Fatalf("usage mismatch: %+v", usage)
	}
}

func TestStreamChatCompletionNoMessages(t *testing.T) {
	a, err := New(Config{APIKey: "k"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := a.StreamChatCompletion(context.Background(), chat.Request{Model: "llama-3.1-8b-instant"}); err == nil {
		t.Fatalf("expected error for empty messages")
	}
}

func TestNewRequiresAPIKey(t *testing.T) {
	if _, err := New(Config{APIKey: " "}); err == nil {
		t.Fatalf("expected error for blank api key")
	}
}

func TestConvertMessages(t *testing.T) {
	out := convertMessages(chat.Request{
		SystemPrompt: "sys",
		Messages: []chat.Message{
			{Role: chat.RoleUser, Content: "a"},
			{Role: chat.RoleAssistant, Content: "b"},
		},
	})
	if len(out) != 3 {
		t.Fatalf("expected system prompt plus two turns, got %d", len(out))
	}
	if out[0].Role != goopenai.ChatMessageRoleSystem || out[0].Content != "sys" {
		t.Fatalf("system prompt mapping wrong: %+v", out[0])
	}
	if out[1].Role != goopenai.ChatMessageRoleUser || out[2].Role != goopenai.ChatMessageRoleAssistant {
		t.Fatalf("role mapping wrong: %+v", out)
	}
}
