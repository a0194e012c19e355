package model

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// Tool describes a callable tool the agent may invoke mid-turn.
// Parameters is a JSON-Schema-shaped object describing the arguments.
type Tool struct {
	Name        string
	Description string
	Parameters  map[string]interface{}
}

// ToolInvocation is one resolved tool call: the request the loop actually
// executed, with arguments parsed out of the model's JSON string.
type ToolInvocation struct {
	ID        string
	Name      string
	Arguments map[string]interface{}
}

// CacheKey returns a deterministic key for this invocation: the tool name
// plus the arguments serialized with sorted keys. Two invocations of the
// same tool with the same arguments always produce the same key.
func (inv ToolInvocation) CacheKey() string {
	if len(inv.Arguments) == 0 {
		return inv.Name + "()"
	}
	keys := make([]string, 0, len(inv.Arguments))
	for k := range inv.Arguments {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	buf := inv.Name + "("
	for i, k := range keys {
		if i > 0 {
			buf += ","
		}
		v, err := json.Marshal(inv.Arguments[k])
		if err != nil {
			v = []byte(fmt.Sprintf("%v", inv.Arguments[k]))
		}
		buf += k + "=" + string(v)
	}
	return buf + ")"
}

// ToolStatus indicates the outcome of a tool invocation
type ToolStatus string

const (
	ToolStatusSuccess ToolStatus = "success"
	ToolStatusError   ToolStatus = "error"
)

// ToolResult is the settled outcome of a tool invocation. Error payloads are
// still content: the agent narrates failures in character instead of aborting.
type ToolResult struct {
	InvocationID string
	Payload      string
	Status       ToolStatus
}

// ToolFunction executes a tool with parsed arguments and returns its payload
type ToolFunction func(args map[string]interface{}) (string, error)

// ToolRegistry maps tool names to their definitions and handler functions.
// Populated at startup; safe for concurrent lookup.
type ToolRegistry struct {
	mu    sync.RWMutex
	tools map[string]Tool
	fns   map[string]ToolFunction
}

// NewToolRegistry creates an empty tool registry
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{
		tools: make(map[string]Tool),
		fns:   make(map[string]ToolFunction),
	}
}

// Register adds a tool definition with its handler function.
// Registering a duplicate name is an error.
func (tr *ToolRegistry) Register(tool Tool, fn ToolFunction) error {
	if tool.Name == "" {
		return fmt.Errorf("tool name cannot be empty")
	}
	if fn == nil {
		return fmt.Errorf("function cannot be nil for tool: %s", tool.Name)
	}

	tr.mu.Lock()
	defer tr.mu.Unlock()

	if _, exists := tr.tools[tool.Name]; exists {
		return fmt.Errorf("tool already registered: %s", tool.Name)
	}
	tr.tools[tool.Name] = tool
	tr.fns[tool.Name] = fn
	return nil
}

// MustRegister registers a tool and panics on error. For startup wiring only.
func (tr *ToolRegistry) MustRegister(tool Tool, fn ToolFunction) {
	if err := tr.Register(tool, fn); err != nil {
		panic(fmt.Sprintf("failed to register tool %s: %v", tool.Name, err))
	}
}

// Tools returns all registered tool definitions, sorted by name
func (tr *ToolRegistry) Tools() []Tool {
	tr.mu.RLock()
	defer tr.mu.RUnlock()

	out := make([]Tool, 0, len(tr.tools))
	for _, t := range tr.tools {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Execute runs the handler registered for toolName
func (tr *ToolRegistry) Execute(toolName string, args map[string]interface{}) (string, error) {
	tr.mu.RLock()
	fn, ok := tr.fns[toolName]
	tr.mu.RUnlock()

	if !ok {
		return "", fmt.Errorf("no function registered for tool: %s", toolName)
	}
	return fn(args)
}

// Has reports whether a tool with the given name is registered
func (tr *ToolRegistry) Has(toolName string) bool {
	tr.mu.RLock()
	defer tr.mu.RUnlock()
	_, ok := tr.tools[toolName]
	return ok
}
