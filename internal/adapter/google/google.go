package google

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/finsight/reportstream/internal/adapter"
	"github.com/finsight/reportstream/internal/chat"
)

// Ensure Adapter implements StreamingAdapter.
var _ adapter.StreamingAdapter = (*Adapter)(nil)

const providerName = "google"

// Adapter streams completions from the Gemini generateContent API.
type Adapter struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// Config holds configuration for the Gemini adapter.
type Config struct {
	APIKey         string
	BaseURL        string // optional, defaults to https://generativelanguage.googleapis.com
	RequestTimeout time.Duration
}

// New creates an Adapter instance.
func New(cfg Config) (*Adapter, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("google: api key required")
	}

	baseURL := strings.TrimSuffix(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = "https://generativelanguage.googleapis.com"
	}
	timeout := cfg.RequestTimeout
	if timeout == 0 {
		timeout = 120 * time.Second
	}

	return &Adapter{
		apiKey:     cfg.APIKey,
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

// StreamChatCompletion opens one SSE stream against
// models/{model}:streamGenerateContent?alt=sse and converts Gemini chunks into
// canonical deltas. usageMetadata is cumulative; the values from the final
// chunk are reported as authoritative.
func (a *Adapter) StreamChatCompletion(ctx context.Context, req chat.Request) (<-chan adapter.StreamEvent, error) {
	if len(req.Messages) == 0 {
		return nil, errors.New("google: no messages provided")
	}

	payload := map[string]interface{}{
		"contents": convertMessages(req.Messages),
	}
	if req.SystemPrompt != "" {
		payload["systemInstruction"] = content{Parts: []part{{Text: req.SystemPrompt}}}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("google: marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/v1beta/models/%s:streamGenerateContent?alt=sse", a.baseURL, req.Model)
	httpReq, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("google: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", a.apiKey)

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return nil, &adapter.ProviderError{Provider: providerName, Err: fmt.Errorf("send request: %w", err)}
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		data, _ := io.ReadAll(resp.Body)
		return nil, &adapter.ProviderError{Provider: providerName, Err: fmt.Errorf("http %d: %s", resp.StatusCode, errorSnippet(data))}
	}

	ch := make(chan adapter.StreamEvent, 10)
	go func() {
		defer close(ch)
		defer resp.Body.Close()

		var (
			usage    chat.UsageReport
			sawUsage bool
			sequence int
		)
		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			select {
			case <-ctx.Done():
				ch <- adapter.StreamEvent{Err: ctx.Err()}
				return
			default:
			}

			line := strings.TrimSpace(scanner.Text())
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if payload == "" {
				continue
			}

			var chunk streamChunk
			if perr := json.Unmarshal([]byte(payload), &chunk); perr != nil {
				ch <- adapter.StreamEvent{Err: &adapter.ProviderError{Provider: providerName, Err: fmt.Errorf("parse stream: %w", perr)}}
				return
			}
			if chunk.UsageMetadata != nil {
				usage.InputTokens = chunk.UsageMetadata.PromptTokenCount
				usage.OutputTokens = chunk.UsageMetadata.CandidatesTokenCount
				sawUsage = true
			}
			for _, cand := range chunk.Candidates {
				for _, p := range cand.Content.Parts {
					if p.Text != "" {
						sequence++
						ch <- adapter.StreamEvent{Delta: &chat.TextDelta{Text: p.Text, Sequence: sequence}}
					}
				}
			}
		}
		if err := scanner.Err(); err != nil {
			ch <- adapter.StreamEvent{Err: &adapter.ProviderError{Provider: providerName, Err: fmt.Errorf("read stream: %w", err)}}
			return
		}
		if sawUsage {
			ch <- adapter.StreamEvent{Usage: &usage}
		}
	}()
	return ch, nil
}

type part struct {
	Text string `json:"text,omitempty"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type streamChunk struct {
	Candidates []struct {
		Content      content `json:"content"`
		FinishReason string  `json:"finishReason,omitempty"`
	} `json:"candidates"`
	UsageMetadata *struct {
		PromptTokenCount     int64 `json:"promptTokenCount"`
		CandidatesTokenCount int64 `json:"candidatesTokenCount"`
	} `json:"usageMetadata"`
}

// convertMessages maps canonical messages to Gemini contents. Gemini uses
// "model" instead of "assistant".
func convertMessages(msgs []chat.Message) []content {
	out := make([]content, 0, len(msgs))
	for _, m := range msgs {
		role := "user"
		if strings.EqualFold(m.Role, chat.RoleAssistant) {
			role = "model"
		}
		out = append(out, content{Role: role, Parts: []part{{Text: m.Content}}})
	}
	return out
}

func errorSnippet(body []byte) string {
	var errResp struct {
		Error struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
			Status  string `json:"status"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Message != "" {
		return errResp.Error.Message
	}
	s := string(body)
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}
