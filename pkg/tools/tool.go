// Package tools runs model-requested function calls.
//
// A Registry holds the callable tools and their JSON-schema parameters.
// Runner drives a chat model until it produces a final answer, validating
// and executing each tool call it requests along the way.
package tools

import (
	"context"
	"errors"
	"fmt"
)

// Tool represents a function that the model can invoke.
type Tool struct {
	// Name is the unique identifier for the tool (e.g., "sum").
	Name string `json:"name"`

	// Description explains what the tool does, helping the model decide when to use it.
	Description string `json:"description"`

	// Parameters defines the JSON schema for the tool's arguments.
	// Example:
	//   map[string]any{
	//       "type": "object",
	//       "properties": map[string]any{
	//           "a": map[string]any{"type": "number"},
	//       },
	//       "required": []string{"a"},
	//   }
	Parameters map[string]any `json:"parameters"`

	// Handler is called with validated arguments. Its result is fed back
	// to the model as the tool message.
	Handler func(ctx context.Context, args map[string]any) (string, error) `json:"-"`
}

// Errors returned for tool-side failures. They are always wrapped in a
// *CallError naming the tool.
var (
	ErrUnknownTool      = errors.New("tools: unknown tool")
	ErrInvalidArguments = errors.New("tools: invalid arguments")
	ErrTooManyRounds    = errors.New("tools: too many tool rounds")
)

// CallError reports a failure attributable to a tool call rather than to
// the model backend.
type CallError struct {
	Tool string
	Err  error
}

// Error implements the error interface.
func (e *CallError) Error() string {
	if e.Tool == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("tools [%s]: %v", e.Tool, e.Err)
}

// Unwrap returns the underlying error.
func (e *CallError) Unwrap() error {
	return e.Err
}

// IsCallError reports whether err came from a tool call.
func IsCallError(err error) bool {
	var ce *CallError
	return errors.As(err, &ce)
}
