package agent

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/teslashibe/go-meetagent/pkg/inference"
	"github.com/teslashibe/go-meetagent/pkg/tools"
)

// SystemPrompt primes tool-augmented conversations.
const SystemPrompt = "You are a helpful assistant respond concisely and do not repeat yourself."

// Sum returns a+b in the shortest form that round-trips, written the way
// JavaScript numbers print: plain decimals for 1e-6 <= |x| < 1e21 and
// exponent notation ("1e+21", "1.5e-7") outside that range.
func Sum(a, b float64) string {
	return formatNumber(a + b)
}

func formatNumber(x float64) string {
	switch {
	case math.IsNaN(x):
		return "NaN"
	case math.IsInf(x, 1):
		return "Infinity"
	case math.IsInf(x, -1):
		return "-Infinity"
	case x == 0:
		return "0"
	}
	if abs := math.Abs(x); abs >= 1e-6 && abs < 1e21 {
		return strconv.FormatFloat(x, 'f', -1, 64)
	}

	s := strconv.FormatFloat(x, 'e', -1, 64)
	i := strings.IndexByte(s, 'e')
	mantissa, exp := s[:i], s[i+1:]
	sign, digits := exp[:1], strings.TrimLeft(exp[1:], "0")
	return mantissa + "e" + sign + digits
}

// SumTool is the "sum" tool: adds two required numbers.
func SumTool() tools.Tool {
	return tools.Tool{
		Name:        "sum",
		Description: "Sum up two numbers and returns the result",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"a": map[string]any{"type": "number", "description": "the first number"},
				"b": map[string]any{"type": "number", "description": "the second number"},
			},
			"required": []string{"a", "b"},
		},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			a, aok := args["a"].(float64)
			b, bok := args["b"].(float64)
			if !aok || !bok {
				return "", fmt.Errorf("%w: a and b must be numbers", tools.ErrInvalidArguments)
			}
			return Sum(a, b), nil
		},
	}
}

// ToolInvoker answers with a chat model that may call the sum tool.
type ToolInvoker struct {
	runner *tools.Runner
	config *Config
	logger *slog.Logger
}

// NewToolInvoker creates an invoker backed by provider with the sum tool
// registered.
func NewToolInvoker(provider inference.Provider, opts ...Option) *ToolInvoker {
	cfg := newConfig(opts)
	logger := cfg.Logger.With("component", "tools")
	return &ToolInvoker{
		runner: &tools.Runner{
			Provider:  provider,
			Registry:  tools.NewRegistry(SumTool()),
			Model:     cfg.ToolModel,
			MaxRounds: tools.DefaultMaxRounds,
			Logger:    logger,
		},
		config: cfg,
		logger: logger,
	}
}

// Registry returns the tools offered to the model.
func (t *ToolInvoker) Registry() *tools.Registry {
	return t.runner.Registry
}

// InvokeWithTools sends the system prompt and userMessage with the tool
// definitions and resolves tool calls until the model answers.
//
// Tool-side failures are ErrToolInvocation; everything else is
// ErrUpstreamInference.
func (t *ToolInvoker) InvokeWithTools(ctx context.Context, userMessage string) (string, error) {
	if t.config.InferenceTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.config.InferenceTimeout)
		defer cancel()
	}

	start := time.Now()
	answer, err := t.runner.Run(ctx, []inference.Message{
		inference.NewSystemMessage(SystemPrompt),
		inference.NewUserMessage(userMessage),
	})
	t.config.Metrics.RecordInference("tools", err, time.Since(start))

	switch {
	case err == nil:
	case tools.IsCallError(err):
		return "", wrap(ErrToolInvocation, err)
	default:
		return "", wrap(ErrUpstreamInference, err)
	}

	t.logger.Info("tool-augmented reply", "input", userMessage, "output", answer)
	return answer, nil
}

// Respond implements Responder.
func (t *ToolInvoker) Respond(ctx context.Context, transcript string) (string, error) {
	return t.InvokeWithTools(ctx, transcript)
}

var _ Responder = (*ToolInvoker)(nil)
