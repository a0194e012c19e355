// Package history encodes and decodes conversation message logs.
//
// The on-disk encoding has changed over the life of the project; conversations
// written by old builds must stay readable forever. Decode therefore accepts
// every shape the service has ever produced and degrades to a best-effort
// single message rather than failing: history never becomes unreadable.
// Encode always writes the current canonical shape.
package history

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/debriefhq/debrief/model"
)

// Decode parses a stored message blob into canonical messages.
//
// Precedence: the canonical list encoding first, then structural sniffing of
// the legacy shapes (flat {role, content} entries, pydantic-style
// {kind, parts} entries, a single non-list object of either shape), and as a
// last resort the whole payload becomes one assistant message. Malformed
// entries inside an otherwise-valid list are skipped, not fatal.
func Decode(raw []byte) []model.Message {
	text := strings.TrimSpace(string(raw))
	if text == "" {
		return []model.Message{}
	}

	var entries []json.RawMessage
	if err := json.Unmarshal([]byte(text), &entries); err == nil {
		out := make([]model.Message, 0, len(entries))
		for _, entry := range entries {
			out = append(out, decodeEntry(entry)...)
		}
		if len(out) > 0 || len(entries) == 0 {
			return out
		}
		// A list of entirely unrecognized entries falls through to the
		// raw-text fallback below.
	}

	// Single non-list object of either legacy shape.
	if strings.HasPrefix(text, "{") {
		if msgs := decodeEntry(json.RawMessage(text)); len(msgs) > 0 {
			return msgs
		}
	}

	// Raw non-JSON text: one opaque assistant message.
	return []model.Message{model.NewAssistantMessage(text)}
}

// Encode serializes messages into the canonical JSON list encoding.
// Decode(Encode(m)) reproduces m exactly.
func Encode(msgs []model.Message) ([]byte, error) {
	if msgs == nil {
		msgs = []model.Message{}
	}
	data, err := json.Marshal(msgs)
	if err != nil {
		return nil, fmt.Errorf("failed to encode message history: %w", err)
	}
	return data, nil
}

// decodeEntry converts one stored entry into zero or more canonical messages.
// Returns nil for entries it cannot make sense of.
func decodeEntry(raw json.RawMessage) []model.Message {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil
	}

	if _, ok := probe["role"]; ok {
		if msg, ok := decodeRoleEntry(probe); ok {
			return []model.Message{msg}
		}
		return nil
	}

	if _, ok := probe["parts"]; ok {
		return decodePartsEntry(probe)
	}

	return nil
}

// decodeRoleEntry handles both the canonical shape and the flat legacy shape:
// {role, content} with optional tool_call_id / tool_calls. Extra legacy
// fields (timestamps and the like) are dropped.
func decodeRoleEntry(entry map[string]json.RawMessage) (model.Message, bool) {
	role, ok := decodeString(entry["role"])
	if !ok || !model.IsValidRole(role) {
		return model.Message{}, false
	}

	msg := model.Message{Role: role}
	msg.Content = decodeContent(entry["content"])

	if id, ok := decodeString(entry["tool_call_id"]); ok {
		msg.ToolCallID = id
	}
	if rawCalls, ok := entry["tool_calls"]; ok {
		msg.ToolCalls = decodeToolCalls(rawCalls)
	}

	// The invariant for tool messages: they must reference a tool call.
	if msg.Role == model.RoleTool && msg.ToolCallID == "" {
		return model.Message{}, false
	}
	return msg, true
}

// decodeContent accepts a plain string or an ordered list of content parts
// (strings or {text} / {content} objects), flattened into one string.
func decodeContent(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	if s, ok := decodeString(raw); ok {
		return s
	}

	var parts []json.RawMessage
	if err := json.Unmarshal(raw, &parts); err != nil {
		return ""
	}
	texts := make([]string, 0, len(parts))
	for _, part := range parts {
		if s, ok := decodeString(part); ok {
			texts = append(texts, s)
			continue
		}
		var obj struct {
			Text    string `json:"text"`
			Content string `json:"content"`
		}
		if err := json.Unmarshal(part, &obj); err != nil {
			continue
		}
		if obj.Text != "" {
			texts = append(texts, obj.Text)
		} else if obj.Content != "" {
			texts = append(texts, obj.Content)
		}
	}
	return strings.Join(texts, "\n")
}

// decodeToolCalls accepts both the canonical {id, name, arguments} shape and
// the OpenAI wire shape {id, function: {name, arguments}}. Arguments stored
// as an object are re-serialized to a JSON string.
func decodeToolCalls(raw json.RawMessage) []model.ToolCall {
	var entries []json.RawMessage
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil
	}

	var out []model.ToolCall
	for _, entry := range entries {
		var tc struct {
			ID       string          `json:"id"`
			Name     string          `json:"name"`
			Args     json.RawMessage `json:"arguments"`
			Function *struct {
				Name string          `json:"name"`
				Args json.RawMessage `json:"arguments"`
			} `json:"function"`
		}
		if err := json.Unmarshal(entry, &tc); err != nil {
			continue
		}

		call := model.ToolCall{ID: tc.ID, Name: tc.Name}
		args := tc.Args
		if tc.Function != nil {
			if call.Name == "" {
				call.Name = tc.Function.Name
			}
			if len(args) == 0 {
				args = tc.Function.Args
			}
		}
		call.Arguments = normalizeArguments(args)

		if call.Name == "" {
			continue
		}
		out = append(out, call)
	}
	return out
}

// normalizeArguments renders tool-call arguments as a JSON object string
// regardless of whether they were stored as a string or an object.
func normalizeArguments(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	if s, ok := decodeString(raw); ok {
		return s
	}
	return string(raw)
}

// partKinds used by the legacy pydantic-style "parts" encoding.
const (
	partSystemPrompt = "system-prompt"
	partUserPrompt   = "user-prompt"
	partText         = "text"
	partToolCall     = "tool-call"
	partToolReturn   = "tool-return"
)

// decodePartsEntry handles the legacy {kind: request|response, parts: [...]}
// encoding. Request parts become system/user messages; response parts become
// assistant text, assistant tool calls, or tool results. Unknown part kinds
// are skipped.
func decodePartsEntry(entry map[string]json.RawMessage) []model.Message {
	kind, _ := decodeString(entry["kind"])
	if kind != "request" && kind != "response" {
		return nil
	}

	var parts []json.RawMessage
	if err := json.Unmarshal(entry["parts"], &parts); err != nil {
		return nil
	}

	var out []model.Message
	var pendingCalls []model.ToolCall
	var pendingText []string

	flush := func() {
		if len(pendingText) == 0 && len(pendingCalls) == 0 {
			return
		}
		out = append(out, model.Message{
			Role:      model.RoleAssistant,
			Content:   strings.Join(pendingText, "\n"),
			ToolCalls: pendingCalls,
		})
		pendingText = nil
		pendingCalls = nil
	}

	for _, raw := range parts {
		var part struct {
			PartKind   string          `json:"part_kind"`
			Kind       string          `json:"kind"`
			Content    json.RawMessage `json:"content"`
			ToolName   string          `json:"tool_name"`
			ToolCallID string          `json:"tool_call_id"`
			Args       json.RawMessage `json:"args"`
		}
		if err := json.Unmarshal(raw, &part); err != nil {
			continue
		}
		partKind := part.PartKind
		if partKind == "" {
			partKind = part.Kind
		}

		switch {
		case kind == "request" && partKind == partSystemPrompt:
			out = append(out, model.Message{Role: model.RoleSystem, Content: decodeContent(part.Content)})

		case kind == "request" && partKind == partUserPrompt:
			out = append(out, model.NewUserMessage(decodeContent(part.Content)))

		case kind == "response" && partKind == partText:
			pendingText = append(pendingText, decodeContent(part.Content))

		case kind == "response" && partKind == partToolCall:
			if part.ToolName == "" {
				continue
			}
			pendingCalls = append(pendingCalls, model.ToolCall{
				ID:        part.ToolCallID,
				Name:      part.ToolName,
				Arguments: normalizeArguments(part.Args),
			})

		case partKind == partToolReturn:
			// Tool returns appear in request entries in newer dumps and in
			// response entries in older ones; accept both.
			flush()
			if part.ToolCallID == "" {
				continue
			}
			out = append(out, model.NewToolMessage(part.ToolCallID, decodeContent(part.Content)))
		}
	}
	flush()
	return out
}

func decodeString(raw json.RawMessage) (string, bool) {
	if len(raw) == 0 {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}
