package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/debriefhq/debrief/model"
	"github.com/sashabaranov/go-openai"
)

// Config holds configuration for the OpenAI-compatible client. BaseURL
// allows pointing at any compatible endpoint, e.g. a local Ollama server.
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
}

// OpenAIProvider implements Provider against any OpenAI-compatible API
type OpenAIProvider struct {
	client *openai.Client
	config Config
}

// NewOpenAIProvider creates a provider from config
func NewOpenAIProvider(config Config) *OpenAIProvider {
	openaiConfig := openai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		openaiConfig.BaseURL = config.BaseURL
	}
	return &OpenAIProvider{
		client: openai.NewClientWithConfig(openaiConfig),
		config: config,
	}
}

// ChatCompletion sends the conversation to the backend and returns the
// model's reply, including any requested tool calls
func (p *OpenAIProvider) ChatCompletion(
	ctx context.Context,
	systemPrompt string,
	messages []model.Message,
	tools []model.Tool,
) (*Response, error) {
	reqMessages := make([]openai.ChatCompletionMessage, 0, len(messages)+1)
	if systemPrompt != "" {
		reqMessages = append(reqMessages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: systemPrompt,
		})
	}
	reqMessages = append(reqMessages, toOpenAIMessages(messages)...)

	modelName := p.config.Model
	if modelName == "" {
		modelName = "gpt-4o-mini"
	}

	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    modelName,
		Messages: reqMessages,
		Tools:    toOpenAITools(tools),
	})
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) {
			return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%w: no choices in response", ErrUpstream)
	}

	choice := resp.Choices[0]
	out := &Response{
		Content: choice.Message.Content,
		Usage: Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}
	for _, tc := range choice.Message.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, model.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	return out, nil
}

// toOpenAIMessages converts canonical messages to the OpenAI wire shape
func toOpenAIMessages(msgs []model.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(msgs))
	for _, m := range msgs {
		msg := openai.ChatCompletionMessage{
			Role:       m.Role,
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
		}
		for _, tc := range m.ToolCalls {
			msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
				ID:   tc.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      tc.Name,
					Arguments: tc.Arguments,
				},
			})
		}
		out = append(out, msg)
	}
	return out
}

// toOpenAITools converts tool definitions to the OpenAI wire shape
func toOpenAITools(tools []model.Tool) []openai.Tool {
	out := make([]openai.Tool, 0, len(tools))
	for _, t := range tools {
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}
	return out
}
