package google

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/finsight/reportstream/internal/adapter"
	"github.com/finsight/reportstream/internal/chat"
	"github.com/finsight/reportstream/internal/testutil"
)

func collect(t *testing.T, ch <-chan adapter.StreamEvent) ([]chat.TextDelta, *chat.UsageReport, error) {
	t.Helper()
	var (
		deltas []chat.TextDelta
		usage  *chat.UsageReport
	)
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return deltas, usage, nil
			}
			switch {
			case ev.Err != nil:
				return deltas, usage, ev.Err
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
}

func TestStreamChatCompletion(t *testing.T) {
	var (
		gotURL  string
		gotKey  string
		gotBody map[string]interface{}
	)
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotURL = r.URL.String()
		gotKey = r.Header.Get("x-goog-api-key")
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &gotBody)

		w.Header().Set("Content-Type", "text/event-stream")
		// usageMetadata is cumulative; the final chunk's values win.
		frames := []string{
			`{"candidates":[{"content":{"parts":[{"text":"<!DOCTYPE html>"}]}}],"usageMetadata":{"promptTokenCount":30,"candidatesTokenCount":4}}`,
			`{"candidates":[{"content":{"parts":[{"text":"<html>"},{"text":"</html>"}]}}],"usageMetadata":{"promptTokenCount":30,"candidatesTokenCount":11}}`,
		}
		for _, f := range frames {
			io.WriteString(w, "data: "+f+"\n\n")
		}
	})
	srv := testutil.NewIPv4Server(t, handler)
	defer srv.Close()

	a, err := New(Config{APIKey: "g-key", BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ch, err := a.StreamChatCompletion(context.Background(), chat.Request{
		Messages: []chat.Message{
			{Role: chat.RoleUser, Content: "report"},
			{Role: chat.RoleAssistant, Content: "draft"},
		},
		Model:        "gemini-1.5-pro",
		SystemPrompt: "emit html",
	})
	if err != nil {
		t.Fatalf("StreamChatCompletion: %v", err)
	}

	deltas, usage, streamErr := collect(t, ch)
	if streamErr != nil {
		t.Fatalf("stream error: %v", streamErr)
	}
	if len(deltas) != 3 {
		t.Fatalf("every part becomes a delta, got %d: %+v", len(deltas), deltas)
	}
	if deltas[2].Text != "</html>" || deltas[2].Sequence != 3 {
		t.Fatalf("bad final delta: %+v", deltas[2])
	}
	if usage == nil || usage.InputTokens != 30 || usage.OutputTokens != 11 {
		t.Fatalf("final cumulative usage expected: %+v", usage)
	}

	if !strings.Contains(gotURL, "/v1beta/models/gemini-1.5-pro:streamGenerateContent") {
		t.Fatalf("wrong url %q", gotURL)
	}
	if !strings.Contains(gotURL, "alt=sse") {
		t.Fatalf("alt=sse missing from %q", gotURL)
	}
	if gotKey != "g-key" {
		t.Fatalf("api key header wrong: %q", gotKey)
	}
	if _, ok := gotBody["systemInstruction"]; !ok {
		t.Fatalf("system instruction not forwarded: %v", gotBody)
	}
	contents, _ := gotBody["contents"].([]interface{})
	if len(contents) != 2 {
		t.Fatalf("expected 2 contents, got %v", gotBody["contents"])
	}
	second, _ := contents[1].(map[string]interface{})
	if second["role"] != "model" {
		t.Fatalf("assistant must map to model role: %v", second)
	}
}

func TestStreamChatCompletionHTTPError(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		io.WriteString(w, `{"error":{"code":400,"message":"API key not valid","status":"INVALID_ARGUMENT"}}`)
	})
	srv := testutil.NewIPv4Server(t, handler)
	defer srv.Close()

	a, err := New(Config{APIKey: "bad", BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, err = a.StreamChatCompletion(context.Background(), chat.Request{
		Messages: []chat.Message{{Role: chat.RoleUser, Content: "x"}},
		Model:    "gemini-1.5-flash",
	})
	var perr *adapter.ProviderError
	if !errors.As(err, &perr) || perr.Provider != "google" {
		t.Fatalf("expected google ProviderError, got %v", err)
	}
	if !strings.Contains(err.Error(), "API key not valid") {
		t.Fatalf("vendor message not surfaced: %v", err)
	}
}

func TestStreamChatCompletionParseError(t *testing.T) {
	srv := testutil.NewSSEServer(t, `{"candidates": [broken`)
	defer srv.Close()

	a, err := New(Config{APIKey: "k", BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ch, err := a.StreamChatCompletion(context.Background(), chat.Request{
		Messages: []chat.Message{{Role: chat.RoleUser, Content: "x"}},
		Model:    "gemini-1.5-flash",
	})
	if err != nil {
		t.Fatalf("StreamChatCompletion: %v", err)
	}
	if _, _, streamErr := collect(t, ch); streamErr == nil {
		t.Fatalf("expected parse error on stream")
	}
}

func TestNewRequiresAPIKey(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatalf("expected error for missing api key")
	}
}
