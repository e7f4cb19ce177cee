package agent

import (
	"errors"
	"fmt"
)

// Errors returned by agent components. Callers match them with errors.Is;
// the underlying cause stays reachable through the same chain.
var (
	// ErrValidation is returned for malformed requests.
	ErrValidation = errors.New("agent: validation failed")

	// ErrUpstreamInference is returned when the model call fails or
	// returns no text.
	ErrUpstreamInference = errors.New("agent: upstream inference failed")

	// ErrToolInvocation is returned when a tool call cannot be resolved.
	ErrToolInvocation = errors.New("agent: tool invocation failed")

	// ErrTransport is returned when joining or leaving the meeting fails.
	ErrTransport = errors.New("agent: transport failed")

	// ErrInvalidState is returned for lifecycle calls made in the wrong state.
	ErrInvalidState = errors.New("agent: invalid session state")

	// ErrNotRunning is returned by Announce when the text stage is not
	// started.
	ErrNotRunning = errors.New("agent: not running")
)

// wrap tags err with kind while keeping err in the chain.
func wrap(kind, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", kind, err)
}
