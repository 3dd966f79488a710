package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/taskpilot/taskpilot/internal/tools"
)

// MaxTurns caps the number of sequential provider round-trips in one run.
// Hitting the cap is treated as a provider failure, not an answer.
const MaxTurns = 10

// ErrTurnLimit is returned when the provider never produced a final answer
// within MaxTurns round-trips.
var ErrTurnLimit = errors.New("agent: turn limit reached without final answer")

const systemPrompt = "You are a helpful todo assistant. You help users manage their task list using " +
	"natural language. You can create, list, complete, update, and delete tasks. " +
	"Always use the available tools to perform task operations. " +
	"If the user asks about something unrelated to todo management, politely explain " +
	"that you specialise in task management and offer to help with their tasks."

// Invoker executes named tool calls under an enforced user identity.
type Invoker interface {
	Invoke(ctx context.Context, userID, name string, args json.RawMessage) (tools.Result, error)
	Definitions() []tools.Definition
}

// RunResult is the outcome of one reasoning loop.
type RunResult struct {
	Text      string
	ToolCalls []string
	Turns     int
}

// Orchestrator drives the synchronous reasoning loop: send the bounded
// history to the provider, execute any requested tool calls through the
// gateway, feed the results back, and repeat until the provider emits a
// final answer or MaxTurns is exhausted.
type Orchestrator struct {
	provider Provider
	gateway  Invoker
	logger   *zap.SugaredLogger
}

func NewOrchestrator(provider Provider, gateway Invoker, logger *zap.SugaredLogger) *Orchestrator {
	return &Orchestrator{provider: provider, gateway: gateway, logger: logger}
}

// Run executes the loop for one chat turn. history must already include the
// new user message as its last entry. Tool names in the returned trace
// preserve invocation order, duplicates included.
func (o *Orchestrator) Run(ctx context.Context, userID string, history []ChatMessage) (*RunResult, error) {
	messages := make([]ChatMessage, 0, len(history)+1)
	messages = append(messages, ChatMessage{Role: "system", Content: systemPrompt})
	messages = append(messages, history...)

	toolDefs := o.gateway.Definitions()
	trace := make([]string, 0, 4)

	for turn := 1; turn <= MaxTurns; turn++ {
		reply, err := o.provider.Complete(ctx, messages, toolDefs)
		if err != nil {
			return nil, fmt.Errorf("provider turn %d: %w", turn, err)
		}

		if len(reply.ToolCalls) == 0 {
			o.logger.Infow("agent run completed",
				"user_id", userID,
				"turns", turn,
				"tool_calls", len(trace),
			)
			return &RunResult{Text: reply.Content, ToolCalls: trace, Turns: turn}, nil
		}

		messages = append(messages, *reply)

		// Tool calls execute strictly in request order; create-then-reference
		// sequences depend on it.
		for _, call := range reply.ToolCalls {
			trace = append(trace, call.Name)

			result, err := o.gateway.Invoke(ctx, userID, call.Name, call.Arguments)
			if err != nil {
				return nil, fmt.Errorf("invoke %s: %w", call.Name, err)
			}
			if result.IsError {
				o.logger.Infow("tool returned domain error", "tool", call.Name, "user_id", userID)
			}

			messages = append(messages, ChatMessage{
				Role:       "tool",
				Content:    result.Text,
				ToolCallID: call.ID,
			})
		}
	}

	return nil, ErrTurnLimit
}
