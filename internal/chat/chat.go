package chat

import (
	"errors"
	"strings"
)

// Roles accepted in a report request conversation.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a single turn in the conversation that seeds a report.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Mode flags controlling which compliance rules apply to the stream.
type Mode struct {
	// RequireArtifact demands the output contain an embedded HTML document.
	RequireArtifact bool `json:"requireArtifact"`
	// RequireNoQuestions rejects output that asks the caller anything.
	RequireNoQuestions bool `json:"requireNoQuestions"`
	// Visual tightens the artifact checkpoint to the first delta.
	Visual bool `json:"visual"`
}

// Request is the immutable input to one orchestrator invocation.
type Request struct {
	Messages      []Message `json:"messages"`
	Model         string    `json:"model"`
	SystemPrompt  string    `json:"systemPrompt,omitempty"`
	Mode          Mode      `json:"mode"`
	CorrelationID string    `json:"correlationId,omitempty"`
}

// Validate checks the invariants a request must satisfy before orchestration.
func (r Request) Validate() error {
	if len(r.Messages) == 0 {
		return errors.New("chat: messages required")
	}
	for _, m := range r.Messages {
		switch strings.ToLower(m.Role) {
		case RoleUser, RoleAssistant:
		default:
			return errors.New("chat: message role must be user or assistant")
		}
	}
	if r.LastUserMessage() == "" {
		return errors.New("chat: at least one user message required")
	}
	return nil
}

// LastUserMessage returns the content of the most recent user turn, or "".
func (r Request) LastUserMessage() string {
	for i := len(r.Messages) - 1; i >= 0; i-- {
		if strings.EqualFold(r.Messages[i].Role, RoleUser) {
			return r.Messages[i].Content
		}
	}
	return ""
}
