package openai

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

const providerName = "openai"

// Adapter streams completions from the OpenAI chat completions API.
type Adapter struct {
	apiKey     string
	baseURL    string
	org        string
	httpClient *http.Client
}

// Config holds configuration for the OpenAI adapter.
type Config struct {
	APIKey         string
	BaseURL        string // optional, defaults to https://api.openai.com/v1
	Organization   string // optional
	RequestTimeout time.Duration
}

// New creates an Adapter instance.
func New(cfg Config) (*Adapter, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("openai: api key required")
	}

	baseURL := strings.TrimSuffix(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	timeout := cfg.RequestTimeout
	if timeout == 0 {
		timeout = 120 * time.Second
	}

	return &Adapter{
		apiKey:     cfg.APIKey,
		baseURL:    baseURL,
		org:        cfg.Organization,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

// StreamChatCompletion opens one SSE stream against /chat/completions and
// converts OpenAI chunks into canonical deltas plus a final usage report.
// stream_options.include_usage makes the last chunk carry the authoritative
// token counts.
func (a *Adapter) StreamChatCompletion(ctx context.Context, req chat.Request) (<-chan adapter.StreamEvent, error) {
	if len(req.Messages) == 0 {
		return nil, errors.New("openai: no messages provided")
	}

	payload := map[string]interface{}{
		"model":          req.Model,
		"messages":       convertMessages(req),
		"stream":         true,
		"stream_options": map[string]bool{"include_usage": true},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("openai: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", a.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("openai: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+a.apiKey)
	httpReq.Header.Set("Accept", "text/event-stream")
	if a.org != "" {
		httpReq.Header.Set("OpenAI-Organization", a.org)
	}

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
			if payload == "[DONE]" {
				if sawUsage {
					ch <- adapter.StreamEvent{Usage: &usage}
				}
				return
			}

			var chunk streamChunk
			if perr := json.Unmarshal([]byte(payload), &chunk); perr != nil {
				ch <- adapter.StreamEvent{Err: &adapter.ProviderError{Provider: providerName, Err: fmt.Errorf("parse stream: %w", perr)}}
				return
			}
			if chunk.Usage != nil {
				usage.InputTokens = chunk.Usage.PromptTokens
				usage.OutputTokens = chunk.Usage.CompletionTokens
				sawUsage = true
			}
			if len(chunk.Choices) > 0 && chunk.Choices[0].Delta.Content != "" {
				sequence++
				ch <- adapter.StreamEvent{Delta: &chat.TextDelta{Text: chunk.Choices[0].Delta.Content, Sequence: sequence}}
			}
		}
		if err := scanner.Err(); err != nil {
			ch <- adapter.StreamEvent{Err: &adapter.ProviderError{Provider: providerName, Err: fmt.Errorf("read stream: %w", err)}}
		}
	}()
	return ch, nil
}

type streamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int64 `json:"prompt_tokens"`
		CompletionTokens int64 `json:"completion_tokens"`
	} `json:"usage"`
}

type wireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// convertMessages prepends the system prompt, when present, to the
// conversation in OpenAI's flat message format.
func convertMessages(req chat.Request) []wireMessage {
	out := make([]wireMessage, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		out = append(out, wireMessage{Role: "system", Content: req.SystemPrompt})
	}
	for _, m := range req.Messages {
		role := "user"
		if strings.EqualFold(m.Role, chat.RoleAssistant) {
			role = "assistant"
		}
		out = append(out, wireMessage{Role: role, Content: m.Content})
	}
	return out
}

func errorSnippet(body []byte) string {
	var errResp struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
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
