package anthropic

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

const providerName = "anthropic"

// Adapter streams completions from the Anthropic Messages API (Claude).
type Adapter struct {
	apiKey     string
	baseURL    string
	version    string
	maxTokens  int
	httpClient *http.Client
}

// Config holds configuration for the Anthropic adapter.
type Config struct {
	APIKey         string
	BaseURL        string // optional, defaults to https://api.anthropic.com
	Version        string // optional, defaults to 2023-06-01
	MaxTokens      int    // optional, defaults to 4096
	RequestTimeout time.Duration
}

// New creates an Adapter instance. A missing API key is a configuration
// error and fails here, not mid-stream.
func New(cfg Config) (*Adapter, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("anthropic: api key required")
	}

	baseURL := strings.TrimSuffix(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = "https://api.anthropic.com"
	}
	version := strings.TrimSpace(cfg.Version)
	if version == "" {
		version = "2023-06-01"
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	timeout := cfg.RequestTimeout
	if timeout == 0 {
		timeout = 120 * time.Second
	}

	return &Adapter{
		apiKey:     cfg.APIKey,
		baseURL:    baseURL,
		version:    version,
		maxTokens:  maxTokens,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

// StreamChatCompletion opens one SSE stream against /v1/messages and converts
// Anthropic events into canonical deltas plus a final usage report.
func (a *Adapter) StreamChatCompletion(ctx context.Context, req chat.Request) (<-chan adapter.StreamEvent, error) {
	if len(req.Messages) == 0 {
		return nil, errors.New("anthropic: no messages provided")
	}

	payload := map[string]interface{}{
		"model":      req.Model,
		"messages":   convertMessages(req.Messages),
		"max_tokens": a.maxTokens,
		"stream":     true,
	}
	if req.SystemPrompt != "" {
		payload["system"] = req.SystemPrompt
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("anthropic: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", a.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("anthropic: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", a.apiKey)
	httpReq.Header.Set("anthropic-version", a.version)
	httpReq.Header.Set("Accept", "text/event-stream")

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
			if payload == "" || payload == "{}" {
				continue
			}

			var evt streamEvent
			if perr := json.Unmarshal([]byte(payload), &evt); perr != nil {
				ch <- adapter.StreamEvent{Err: &adapter.ProviderError{Provider: providerName, Err: fmt.Errorf("parse stream: %w", perr)}}
				return
			}
			switch evt.Type {
			case "message_start":
				// Provisional counts only; the final numbers arrive on
				// message_delta and supersede these.
				usage.InputTokens = evt.Message.Usage.InputTokens
			case "content_block_delta":
				if evt.Delta.Type == "text_delta" && evt.Delta.Text != "" {
					sequence++
					ch <- adapter.StreamEvent{Delta: &chat.TextDelta{Text: evt.Delta.Text, Sequence: sequence}}
				}
			case "message_delta":
				if evt.Usage.OutputTokens > 0 {
					usage.OutputTokens = evt.Usage.OutputTokens
				}
				if evt.Usage.InputTokens > 0 {
					usage.InputTokens = evt.Usage.InputTokens
				}
			case "message_stop":
				ch <- adapter.StreamEvent{Usage: &usage}
				return
			}
		}
		if err := scanner.Err(); err != nil {
			ch <- adapter.StreamEvent{Err: &adapter.ProviderError{Provider: providerName, Err: fmt.Errorf("read stream: %w", err)}}
		}
	}()
	return ch, nil
}

type streamEvent struct {
	Type    string `json:"type"`
	Message struct {
		Usage usagePayload `json:"usage"`
	} `json:"message"`
	Delta struct {
		Type string `json:"type"`
		Text string `json:"text,omitempty"`
	} `json:"delta"`
	Usage usagePayload `json:"usage"`
}

type usagePayload struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
}

type message struct {
	Role    string         `json:"role"`
	Content []contentBlock `json:"content"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// convertMessages converts canonical messages into Anthropic's block format.
func convertMessages(msgs []chat.Message) []message {
	out := make([]message, 0, len(msgs))
	for _, m := range msgs {
		role := "user"
		if strings.EqualFold(m.Role, chat.RoleAssistant) {
			role = "assistant"
		}
		out = append(out, message{
			Role:    role,
			Content: []contentBlock{{Type: "text", Text: m.Content}},
		})
	}
	return out
}

// errorSnippet extracts the vendor error message when the body is JSON,
// otherwise returns a trimmed slice of the raw body.
func errorSnippet(body []byte) string {
	var errResp struct {
		Error struct {
			Type    string `json:"type"`
			Message string `json:"message"`
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
