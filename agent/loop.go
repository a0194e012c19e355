// Package agent runs chat turns: it drives the LLM, executes tool calls
// through the mission cache, and composes the per-turn wiring of store,
// loop, and connection registry.
package agent

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/debriefhq/debrief/llm"
	"github.com/debriefhq/debrief/log"
	"github.com/debriefhq/debrief/missions"
	"github.com/debriefhq/debrief/model"
)

// DefaultMaxToolCalls bounds tool invocations per turn. The bound exists to
// stop a model that keeps requesting lookups from looping forever; two is
// enough for a lookup plus one correction.
const DefaultMaxToolCalls = 2

// Responses used when a turn cannot complete normally. The agent always
// answers in prose; a failed turn reads like a spy with a bad radio, not a
// stack trace.
const (
	responseUpstreamDown = "My secure channel is down at the moment. Give me a minute and reach out again."
	responseToolBound    = "I've pulled every file I'm cleared to pull for one sitting. Ask me again and I'll dig further."
	responseClarify      = "I need an exact mission ID before I open that drawer. Which mission are you referring to?"
)

// GateFunc decides whether a requested tool invocation is allowed given the
// user's message. Returning false means the input was too ambiguous to
// justify the lookup; the turn answers with a clarifying question instead.
type GateFunc func(inv model.ToolInvocation, userMessage string) bool

// ExplicitArgumentGate is the default gate: every string argument the model
// supplied must literally appear in the user's message. It stops the model
// from inventing mission IDs that were never mentioned.
func ExplicitArgumentGate(inv model.ToolInvocation, userMessage string) bool {
	haystack := strings.ToLower(userMessage)
	for _, v := range inv.Arguments {
		s, ok := v.(string)
		if !ok {
			continue
		}
		if s == "" || !strings.Contains(haystack, strings.ToLower(strings.TrimSpace(s))) {
			return false
		}
	}
	return true
}

// TurnResult is the outcome of one turn. Response is never empty: failures
// and exhausted tool budgets surface as text, not as errors.
type TurnResult struct {
	// Response is the assistant's final text
	Response string

	// ToolCalls lists the tool invocations actually executed, in order
	ToolCalls []model.ToolInvocation

	// Messages holds everything generated during the turn (assistant
	// tool-call messages, tool results, the final reply) for appending to
	// the conversation log
	Messages []model.Message

	// Failed marks turns that ended in the apology path (backend failure
	// or tool budget exhausted)
	Failed bool

	// Spy is the persona that produced the reply, resolved once at the
	// start of the turn. Set by the session, not the loop.
	Spy model.SpyProfile
}

// Loop is the per-turn tool-calling state machine
type Loop struct {
	provider     llm.Provider
	registry     *model.ToolRegistry
	cache        *missions.ContextCache
	gate         GateFunc
	maxToolCalls int
}

// NewLoop creates a loop with the default gate and tool budget
func NewLoop(provider llm.Provider, registry *model.ToolRegistry, cache *missions.ContextCache) *Loop {
	return &Loop{
		provider:     provider,
		registry:     registry,
		cache:        cache,
		gate:         ExplicitArgumentGate,
		maxToolCalls: DefaultMaxToolCalls,
	}
}

// SetMaxToolCalls overrides the per-turn tool budget
func (l *Loop) SetMaxToolCalls(n int) {
	if n > 0 {
		l.maxToolCalls = n
	}
}

// SetGate overrides the tool-use gate
func (l *Loop) SetGate(gate GateFunc) {
	if gate != nil {
		l.gate = gate
	}
}

// Run executes one turn. history must already end with the user's message.
// Run never returns an empty response: provider failures, ambiguous tool
// requests, and an exhausted tool budget all resolve to text.
func (l *Loop) Run(ctx context.Context, systemPrompt string, history []model.Message) *TurnResult {
	msgs := make([]model.Message, len(history))
	copy(msgs, history)

	userMessage := lastUserMessage(msgs)
	result := &TurnResult{}

	for {
		resp, err := l.provider.ChatCompletion(ctx, systemPrompt, msgs, l.registry.Tools())
		if err != nil {
			log.Log.Errorf("turn failed, llm completion error: %v", err)
			return l.fail(result, responseUpstreamDown)
		}

		// No tool calls: the model answered directly and the turn is done.
		if len(resp.ToolCalls) == 0 {
			result.Response = resp.Content
			result.Messages = append(result.Messages, model.NewAssistantMessage(resp.Content))
			return result
		}

		// The model wants more lookups than the turn allows.
		if len(result.ToolCalls) >= l.maxToolCalls {
			log.Log.Warnf("tool budget exhausted after %d invocations, ending turn", len(result.ToolCalls))
			return l.fail(result, responseToolBound)
		}

		// Gate the whole batch before anything runs. A speculative
		// invocation, an argument the user never typed, turns the whole
		// turn into a clarifying question instead of a fetch.
		invs := make([]model.ToolInvocation, 0, len(resp.ToolCalls))
		for _, tc := range resp.ToolCalls {
			inv := parseInvocation(tc)
			if !l.gate(inv, userMessage) {
				log.Log.Debugf("gate rejected tool call %s(%v)", inv.Name, inv.Arguments)
				result.Response = responseClarify
				result.Messages = append(result.Messages, model.NewAssistantMessage(responseClarify))
				return result
			}
			invs = append(invs, inv)
		}

		assistantMsg := model.Message{Role: model.RoleAssistant, ToolCalls: resp.ToolCalls}
		msgs = append(msgs, assistantMsg)
		result.Messages = append(result.Messages, assistantMsg)

		for i, tc := range resp.ToolCalls {
			var toolMsg model.Message
			if len(result.ToolCalls) >= l.maxToolCalls {
				// Budget spent mid-batch; every requested call still needs
				// an answer so the transcript stays well-formed.
				toolMsg = model.NewToolMessage(tc.ID, "tool call limit reached for this turn")
			} else {
				res := l.Invoke(invs[i])
				result.ToolCalls = append(result.ToolCalls, invs[i])
				toolMsg = model.NewToolMessage(tc.ID, res.Payload)
			}
			msgs = append(msgs, toolMsg)
			result.Messages = append(result.Messages, toolMsg)
		}
	}
}

// Invoke executes one tool call through the cache. Execution errors become
// error-status results; their payload is still tool content so the model
// can narrate the failure in character. The session also uses this to
// preload mission context for debrief turns, sharing the cache with the
// model's own lookups.
func (l *Loop) Invoke(inv model.ToolInvocation) model.ToolResult {
	res := l.cache.Get(inv.CacheKey(), func(key string) model.ToolResult {
		payload, err := l.registry.Execute(inv.Name, inv.Arguments)
		if err != nil {
			log.Log.Infof("tool %s returned error: %v", inv.Name, err)
			return model.ToolResult{Payload: err.Error(), Status: model.ToolStatusError}
		}
		return model.ToolResult{Payload: payload, Status: model.ToolStatusSuccess}
	})
	res.InvocationID = inv.ID
	return res
}

// fail ends the turn with apology text
func (l *Loop) fail(result *TurnResult, response string) *TurnResult {
	result.Failed = true
	result.Response = response
	result.Messages = append(result.Messages, model.NewAssistantMessage(response))
	return result
}

// parseInvocation resolves a wire tool call to an invocation with parsed
// arguments. Unparseable arguments become an empty map; the tool itself
// rejects what it cannot use.
func parseInvocation(tc model.ToolCall) model.ToolInvocation {
	args := make(map[string]interface{})
	if tc.Arguments != "" {
		if err := json.Unmarshal([]byte(tc.Arguments), &args); err != nil {
			log.Log.Warnf("unparseable tool arguments for %s: %v", tc.Name, err)
			args = make(map[string]interface{})
		}
	}
	return model.ToolInvocation{ID: tc.ID, Name: tc.Name, Arguments: args}
}

// lastUserMessage returns the content of the most recent user message
func lastUserMessage(msgs []model.Message) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == model.RoleUser {
			return msgs[i].Content
		}
	}
	return ""
}
