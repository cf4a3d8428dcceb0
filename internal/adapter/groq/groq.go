package groq

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	goopenai "github.com/sashabaranov/go-openai"

	"github.com/finsight/reportstream/internal/adapter"
	"github.com/finsight/reportstream/internal/chat"
)

// Ensure Adapter implements StreamingAdapter.
var _ adapter.StreamingAdapter = (*Adapter)(nil)

const providerName = "groq"

// Adapter streams completions from Groq's OpenAI-compatible API through the
// go-openai SDK pointed at the Groq endpoint.
type Adapter struct {
	client *goopenai.Client
}

// Config holds configuration for the Groq adapter.
type Config struct {
	APIKey         string
	BaseURL        string // optional, defaults to https://api.groq.com/openai/v1
	RequestTimeout time.Duration
}

// New creates an Adapter instance.
func New(cfg Config) (*Adapter, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("groq: api key required")
	}

	clientCfg := goopenai.DefaultConfig(cfg.APIKey)
	baseURL := strings.TrimSuffix(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = "https://api.groq.com/openai/v1"
	}
	clientCfg.BaseURL = baseURL
	if cfg.RequestTimeout > 0 {
		if hc, ok := clientCfg.HTTPClient.(*http.Client); ok {
			hc.Timeout = cfg.RequestTimeout
		}
	}

	return &Adapter{client: goopenai.NewClientWithConfig(clientCfg)}, nil
}

// StreamChatCompletion starts an SDK-managed stream and converts its chunks
// into canonical deltas plus a final usage report.
func (a *Adapter) StreamChatCompletion(ctx context.Context, req chat.Request) (<-chan adapter.StreamEvent, error) {
	if len(req.Messages) == 0 {
		return nil, errors.New("groq: no messages provided")
	}

	stream, err := a.client.CreateChatCompletionStream(ctx, goopenai.ChatCompletionRequest{
		Model:         req.Model,
		Messages:      convertMessages(req),
		Stream:        true,
		StreamOptions: &goopenai.StreamOptions{IncludeUsage: true},
	})
	if err != nil {
		return nil, &adapter.ProviderError{Provider: providerName, Err: fmt.Errorf("open stream: %w", err)}
	}

	ch := make(chan adapter.StreamEvent, 10)
	go func() {
		defer close(ch)
		defer stream.Close()

		var (
			usage    chat.UsageReport
			sawUsage bool
			sequence int
		)
		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				if sawUsage {
					ch <- adapter.StreamEvent{Usage: &usage}
				}
				return
			}
			if err != nil {
				ch <- adapter.StreamEvent{Err: &adapter.ProviderError{Provider: providerName, Err: fmt.Errorf("read stream: %w", err)}}
				return
			}
			if resp.Usage != nil {
				usage.InputTokens = int64(resp.Usage.PromptTokens)
				usage.OutputTokens = int64(resp.Usage.CompletionTokens)
				sawUsage = true
			}
			if len(resp.Choices) > 0 && resp.Choices[0].Delta.Content != "" {
				sequence++
				ch <- adapter.StreamEvent{Delta: &chat.TextDelta{Text: resp.Choices[0].Delta.Content, Sequence: sequence}}
			}
		}
	}()
	return ch, nil
}

// convertMessages prepends the system prompt, when present, in the flat
// OpenAI-compatible message format Groq accepts.
func convertMessages(req chat.Request) []goopenai.ChatCompletionMessage {
	out := make([]goopenai.ChatCompletionMessage, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		out = append(out, goopenai.ChatCompletionMessage{
			Role:    goopenai.ChatMessageRoleSystem,
			Content: req.SystemPrompt,
		})
	}
	for _, m := range req.Messages {
		role := goopenai.ChatMessageRoleUser
		if strings.EqualFold(m.Role, chat.RoleAssistant) {
			role = goopenai.ChatMessageRoleAssistant
		}
		out = append(out, goopenai.ChatCompletionMessage{Role: role, Content: m.Content})
	}
	return out
}
