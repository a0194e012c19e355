package model

// Message roles. These match the wire roles used by OpenAI-compatible
// providers so stored history can be replayed into a completion request
// without translation.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// ToolCall is a tool invocation requested by the assistant, as it appears
// inside an assistant message. Arguments is the raw JSON object string the
// model produced.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Message is the canonical in-memory form of one conversation entry.
// All legacy on-disk shapes decode into this; only this shape is ever
// written back (see the history package).
type Message struct {
	// Role is one of system, user, assistant, tool.
	Role string `json:"role"`

	// Content is the text content. For assistant messages that only
	// request tool calls it may be empty.
	Content string `json:"content"`

	// ToolCallID links a tool message to the assistant tool call it
	// answers. Non-empty exactly when Role == RoleTool.
	ToolCallID string `json:"tool_call_id,omitempty"`

	// ToolCalls holds tool invocations requested by an assistant message.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}

// NewUserMessage creates a user message with the given text
func NewUserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// NewAssistantMessage creates a plain text assistant message
func NewAssistantMessage(content string) Message {
	return Message{Role: RoleAssistant, Content: content}
}

// NewToolMessage creates a tool result message answering toolCallID
func NewToolMessage(toolCallID, content string) Message {
	return Message{Role: RoleTool, ToolCallID: toolCallID, Content: content}
}

// IsValidRole reports whether role is one of the four known roles
func IsValidRole(role string) bool {
	switch role {
	case RoleSystem, RoleUser, RoleAssistant, RoleTool:
		return true
	}
	return false
}
