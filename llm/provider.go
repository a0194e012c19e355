// Package llm abstracts the chat-completion backend behind a single
// provider interface so the agent loop never depends on a concrete vendor
// client.
package llm

import (
	"context"
	"errors"

	"github.com/debriefhq/debrief/model"
)

// ErrUnavailable indicates the backend could not be reached at all
var ErrUnavailable = errors.New("llm backend unavailable")

// ErrUpstream indicates the backend was reached but returned a failure
var ErrUpstream = errors.New("llm backend error")

// Usage holds token usage statistics
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Response is one completion: either text, or a set of requested tool
// calls, or both
type Response struct {
	Content   string
	ToolCalls []model.ToolCall
	Usage     Usage
}

// Provider is the generic LLM provider interface. Any backend that can
// complete a chat with optional tool definitions can plug into the agent.
type Provider interface {
	ChatCompletion(ctx context.Context, systemPrompt string, messages []model.Message, tools []model.Tool) (*Response, error)
}

// ProviderFunc adapts a plain function into a Provider, following the
// http.HandlerFunc convention. Tests use this to fake the backend.
type ProviderFunc func(ctx context.Context, systemPrompt string, messages []model.Message, tools []model.Tool) (*Response, error)

// ChatCompletion implements the Provider interface
func (f ProviderFunc) ChatCompletion(ctx context.Context, systemPrompt string, messages []model.Message, tools []model.Tool) (*Response, error) {
	return f(ctx, systemPrompt, messages, tools)
}
