package tools

import (
	"context"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/teslashibe/go-meetagent/pkg/inference"
)

// DefaultMaxRounds bounds how many times the model may request tools
// before it must answer.
const DefaultMaxRounds = 3

// Runner resolves tool calls until the model answers in text.
type Runner struct {
	Provider  inference.Provider
	Registry  *Registry
	Model     string
	MaxRounds int
	Logger    *slog.Logger
}

// Run sends messages with the registry's tools and executes every tool call
// the model requests, feeding results back, until a text answer arrives.
//
// Backend failures are returned as they come from the provider. Tool-side
// failures are returned as *CallError.
func (r *Runner) Run(ctx context.Context, messages []inference.Message) (string, error) {
	maxRounds := r.MaxRounds
	if maxRounds <= 0 {
		maxRounds = DefaultMaxRounds
	}
	logger := r.Logger
	if logger == nil {
		logger = slog.Default()
	}

	history := append([]inference.Message(nil), messages...)
	defs := r.Registry.Definitions()

	for round := 0; ; round++ {
		resp, err := r.Provider.Chat(ctx, &inference.ChatRequest{
			Messages: history,
			Model:    r.Model,
			Tools:    defs,
		})
		if err != nil {
			return "", err
		}

		calls := resp.Message.ToolCalls
		if len(calls) == 0 {
			text := strings.TrimSpace(resp.Message.Content)
			if text == "" {
				return "", inference.WrapError("tools", inference.ErrEmptyResponse)
			}
			return text, nil
		}
		if round >= maxRounds {
			return "", &CallError{Err: ErrTooManyRounds}
		}

		for i := range calls {
			if calls[i].ID == "" {
				calls[i].ID = "call_" + uuid.NewString()
			}
		}
		history = append(history, inference.Message{
			Role:      inference.RoleAssistant,
			Content:   resp.Message.Content,
			ToolCalls: calls,
		})

		for _, call := range calls {
			result, err := r.Registry.Invoke(ctx, call.Name, call.Arguments)
			if err != nil {
				logger.Warn("tool call failed", "tool", call.Name, "error", err)
				return "", err
			}
			logger.Debug("tool call", "tool", call.Name, "args", call.Arguments, "result", result)
			history = append(history, inference.NewToolMessage(call.ID, result))
		}
	}
}
