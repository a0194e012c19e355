package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/debriefhq/debrief/llm"
	"github.com/debriefhq/debrief/missions"
	"github.com/debriefhq/debrief/model"
)

func newTestRegistry(t *testing.T, fn model.ToolFunction) (*model.ToolRegistry, *int64) {
	t.Helper()
	var calls int64
	reg := model.NewToolRegistry()
	reg.MustRegister(model.Tool{
		Name:        "get_mission_context",
		Description: "Retrieve the mission file for a mission ID",
		Parameters: map[string]interface{}{
			"type":     "object",
			"required": []string{"mission_id"},
		},
	}, func(args map[string]interface{}) (string, error) {
		atomic.AddInt64(&calls, 1)
		return fn(args)
	})
	return reg, &calls
}

func staticProvider(resp *llm.Response, err error) llm.Provider {
	return llm.ProviderFunc(func(ctx context.Context, systemPrompt string, messages []model.Message, tools []model.Tool) (*llm.Response, error) {
		return resp, err
	})
}

func TestLoopDirectResponse(t *testing.T) {
	reg, calls := newTestRegistry(t, func(map[string]interface{}) (string, error) {
		return "classified", nil
	})
	loop := NewLoop(staticProvider(&llm.Response{Content: "Good evening."}, nil), reg, missions.NewContextCache())

	result := loop.Run(context.Background(), "prompt", []model.Message{model.NewUserMessage("hello")})

	if result.Failed {
		t.Fatal("turn should not fail")
	}
	if result.Response != "Good evening." {
		t.Fatalf("unexpected response %q", result.Response)
	}
	if *calls != 0 {
		t.Fatalf("no tools should run, got %d calls", *calls)
	}
	if len(result.Messages) != 1 || result.Messages[0].Role != model.RoleAssistant {
		t.Fatalf("expected a single assistant message, got %+v", result.Messages)
	}
}

func TestLoopToolCallThenResponse(t *testing.T) {
	reg, calls := newTestRegistry(t, func(args map[string]interface{}) (string, error) {
		return "Operation Nightfall, Vienna.", nil
	})

	var round int64
	provider := llm.ProviderFunc(func(ctx context.Context, systemPrompt string, messages []model.Message, tools []model.Tool) (*llm.Response, error) {
		if atomic.AddInt64(&round, 1) == 1 {
			return &llm.Response{ToolCalls: []model.ToolCall{
				{ID: "call-1", Name: "get_mission_context", Arguments: `{"mission_id":"atlas-9"}`},
			}}, nil
		}
		return &llm.Response{Content: "Atlas-9 took me to Vienna."}, nil
	})

	loop := NewLoop(provider, reg, missions.NewContextCache())
	result := loop.Run(context.Background(), "prompt", []model.Message{model.NewUserMessage("what happened on atlas-9?")})

	if result.Failed {
		t.Fatal("turn should not fail")
	}
	if result.Response != "Atlas-9 took me to Vienna." {
		t.Fatalf("unexpected response %q", result.Response)
	}
	if *calls != 1 {
		t.Fatalf("expected 1 tool execution, got %d", *calls)
	}
	if len(result.ToolCalls) != 1 || result.ToolCalls[0].Name != "get_mission_context" {
		t.Fatalf("unexpected invocations %+v", result.ToolCalls)
	}

	// assistant tool-call message, tool result, final assistant reply
	if len(result.Messages) != 3 {
		t.Fatalf("expected 3 turn messages, got %d", len(result.Messages))
	}
	if result.Messages[0].Role != model.RoleAssistant || len(result.Messages[0].ToolCalls) != 1 {
		t.Fatalf("first message should carry the tool call, got %+v", result.Messages[0])
	}
	if result.Messages[1].Role != model.RoleTool || result.Messages[1].ToolCallID != "call-1" {
		t.Fatalf("second message should be the tool result, got %+v", result.Messages[1])
	}
}

func TestLoopToolBudgetExhausted(t *testing.T) {
	reg, calls := newTestRegistry(t, func(map[string]interface{}) (string, error) {
		return "context", nil
	})

	// A model that never stops asking for further lookups, each one a
	// distinct mission so the cache cannot absorb them.
	var round int64
	provider := llm.ProviderFunc(func(ctx context.Context, systemPrompt string, messages []model.Message, tools []model.Tool) (*llm.Response, error) {
		n := atomic.AddInt64(&round, 1)
		return &llm.Response{ToolCalls: []model.ToolCall{
			{
				ID:        fmt.Sprintf("call-%d", n),
				Name:      "get_mission_context",
				Arguments: fmt.Sprintf(`{"mission_id":"atlas-%d"}`, n),
			},
		}}, nil
	})

	loop := NewLoop(provider, reg, missions.NewContextCache())
	result := loop.Run(context.Background(), "prompt",
		[]model.Message{model.NewUserMessage("compare atlas-1 with atlas-2 and atlas-3")})

	if !result.Failed {
		t.Fatal("expected the turn to end in the failure path")
	}
	if result.Response == "" {
		t.Fatal("a failed turn must still produce text")
	}
	if len(result.ToolCalls) != DefaultMaxToolCalls {
		t.Fatalf("expected exactly %d invocations, got %d", DefaultMaxToolCalls, len(result.ToolCalls))
	}
	if *calls != int64(DefaultMaxToolCalls) {
		t.Fatalf("expected exactly %d tool executions, got %d", DefaultMaxToolCalls, *calls)
	}
}

func TestLoopGateRejectsSpeculativeArguments(t *testing.T) {
	reg, calls := newTestRegistry(t, func(map[string]interface{}) (string, error) {
		return "context", nil
	})

	// The model invents a mission ID the user never mentioned.
	provider := staticProvider(&llm.Response{ToolCalls: []model.ToolCall{
		{ID: "call-1", Name: "get_mission_context", Arguments: `{"mission_id":"atlas-9"}`},
	}}, nil)

	loop := NewLoop(provider, reg, missions.NewContextCache())
	result := loop.Run(context.Background(), "prompt", []model.Message{model.NewUserMessage("tell me about your missions")})

	if result.Failed {
		t.Fatal("a gated turn is a clarification, not a failure")
	}
	if *calls != 0 {
		t.Fatalf("gated tool must not execute, got %d calls", *calls)
	}
	if !strings.Contains(result.Response, "mission ID") {
		t.Fatalf("expected a clarifying question, got %q", result.Response)
	}
	if len(result.Messages) != 1 || len(result.Messages[0].ToolCalls) != 0 {
		t.Fatalf("the log should only record the clarification, got %+v", result.Messages)
	}
}

func TestLoopProviderFailureNarrates(t *testing.T) {
	reg, _ := newTestRegistry(t, func(map[string]interface{}) (string, error) {
		return "context", nil
	})
	loop := NewLoop(staticProvider(nil, errors.New("connection refused")), reg, missions.NewContextCache())

	result := loop.Run(context.Background(), "prompt", []model.Message{model.NewUserMessage("hello")})

	if !result.Failed {
		t.Fatal("expected failure")
	}
	if result.Response == "" {
		t.Fatal("a failed turn must still produce text")
	}
	if strings.Contains(result.Response, "connection refused") {
		t.Fatalf("raw error text leaked into the reply: %q", result.Response)
	}
}

func TestLoopToolErrorBecomesToolContent(t *testing.T) {
	reg, calls := newTestRegistry(t, func(map[string]interface{}) (string, error) {
		return "", errors.New("no mission found with ID: atlas-9")
	})

	var round int64
	var toolPayload string
	provider := llm.ProviderFunc(func(ctx context.Context, systemPrompt string, messages []model.Message, tools []model.Tool) (*llm.Response, error) {
		if atomic.AddInt64(&round, 1) == 1 {
			return &llm.Response{ToolCalls: []model.ToolCall{
				{ID: "call-1", Name: "get_mission_context", Arguments: `{"mission_id":"atlas-9"}`},
			}}, nil
		}
		toolPayload = messages[len(messages)-1].Content
		return &llm.Response{Content: "That file seems to have been burned. No record of atlas-9."}, nil
	})

	cache := missions.NewContextCache()
	loop := NewLoop(provider, reg, cache)
	result := loop.Run(context.Background(), "prompt", []model.Message{model.NewUserMessage("what about atlas-9?")})

	if result.Failed {
		t.Fatal("a tool error is narrated, not a turn failure")
	}
	if !strings.Contains(toolPayload, "no mission found") {
		t.Fatalf("tool error should reach the model as tool content, got %q", toolPayload)
	}

	// The error result is cached: a second identical turn fetches nothing.
	round = 0
	loop.Run(context.Background(), "prompt", []model.Message{model.NewUserMessage("check atlas-9 again")})
	if *calls != 1 {
		t.Fatalf("error results must be cached, got %d fetches", *calls)
	}
}

func TestLoopUnparseableArgumentsStillAnswered(t *testing.T) {
	reg, _ := newTestRegistry(t, func(args map[string]interface{}) (string, error) {
		if _, ok := args["mission_id"]; !ok {
			return "", errors.New("mission_id is required")
		}
		return "context", nil
	})

	var round int64
	provider := llm.ProviderFunc(func(ctx context.Context, systemPrompt string, messages []model.Message, tools []model.Tool) (*llm.Response, error) {
		if atomic.AddInt64(&round, 1) == 1 {
			return &llm.Response{ToolCalls: []model.ToolCall{
				{ID: "call-1", Name: "get_mission_context", Arguments: `{not json`},
			}}, nil
		}
		return &llm.Response{Content: "Hard to say without a mission ID."}, nil
	})

	loop := NewLoop(provider, reg, missions.NewContextCache())
	result := loop.Run(context.Background(), "prompt", []model.Message{model.NewUserMessage("hello")})

	if result.Response != "Hard to say without a mission ID." {
		t.Fatalf("unexpected response %q", result.Response)
	}
}

func TestLoopBudgetSpentMidBatch(t *testing.T) {
	reg, calls := newTestRegistry(t, func(args map[string]interface{}) (string, error) {
		return "mission context", nil
	})

	// One batch asking for three lookups when the budget only covers two.
	var round int64
	provider := llm.ProviderFunc(func(ctx context.Context, systemPrompt string, messages []model.Message, tools []model.Tool) (*llm.Response, error) {
		if atomic.AddInt64(&round, 1) == 1 {
			return &llm.Response{ToolCalls: []model.ToolCall{
				{ID: "call-1", Name: "get_mission_context", Arguments: `{"mission_id":"atlas-1"}`},
				{ID: "call-2", Name: "get_mission_context", Arguments: `{"mission_id":"atlas-2"}`},
				{ID: "call-3", Name: "get_mission_context", Arguments: `{"mission_id":"atlas-3"}`},
			}}, nil
		}
		return &llm.Response{Content: "Two of those I can speak to; the third will have to wait."}, nil
	})

	loop := NewLoop(provider, reg, missions.NewContextCache())
	result := loop.Run(context.Background(), "prompt",
		[]model.Message{model.NewUserMessage("compare atlas-1 with atlas-2 and atlas-3")})

	if result.Failed {
		t.Fatal("an over-asked batch is trimmed, not failed")
	}
	if *calls != int64(DefaultMaxToolCalls) {
		t.Fatalf("expected %d tool executions, got %d", DefaultMaxToolCalls, *calls)
	}
	if len(result.ToolCalls) != DefaultMaxToolCalls {
		t.Fatalf("expected %d recorded invocations, got %d", DefaultMaxToolCalls, len(result.ToolCalls))
	}

	// The skipped call still gets a tool message so the transcript pairs up.
	var limited int
	for _, m := range result.Messages {
		if m.Role == model.RoleTool && strings.Contains(m.Content, "tool call limit reached") {
			limited++
		}
	}
	if limited != 1 {
		t.Fatalf("expected one limit notice in the transcript, got %d", limited)
	}
	if result.Response == "" {
		t.Fatal("the model should still answer after a trimmed batch")
	}
}
