// Package llm defines the Provider interface for completion backends.
//
// The assistant only reaches a language model on its fallback path: when an
// utterance maps to no tool, the recognised text is answered by a plain chat
// completion. Providers therefore expose a single non-streaming call.
//
// Implementations must be safe for concurrent use.
package llm

import "context"

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a single chat message.
type Message struct {
	// Role is one of RoleSystem, RoleUser or RoleAssistant.
	Role string

	// Content is the message text.
	Content string
}

// Usage holds token accounting information returned by the backend.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// CompletionRequest carries everything the model needs to produce a reply.
// At minimum Messages must be non-empty.
type CompletionRequest struct {
	// SystemPrompt, when non-empty, is sent as a leading system message.
	SystemPrompt string

	// Messages is the ordered conversation. The last message is the user turn.
	Messages []Message

	// Temperature in [0, 2]. Zero leaves the provider default.
	Temperature float64

	// MaxTokens caps the reply length. Zero leaves the provider default.
	MaxTokens int
}

// CompletionResponse is a finished completion.
type CompletionResponse struct {
	Content string
	Usage   Usage
}

// Provider is the abstraction over any completion backend.
type Provider interface {
	// Complete sends req and blocks until the full reply is available or ctx
	// is done.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}
