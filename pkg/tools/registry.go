package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/teslashibe/go-meetagent/pkg/inference"
)

// Registry holds tools by name.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry creates a registry with the given tools.
func NewRegistry(tools ...Tool) *Registry {
	r := &Registry{tools: make(map[string]Tool)}
	for _, t := range tools {
		r.Register(t)
	}
	return r
}

// Register adds or replaces a tool.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name] = t
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Definitions returns the tools as inference definitions, sorted by name.
func (r *Registry) Definitions() []inference.Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)

	defs := make([]inference.Tool, len(names))
	for i, name := range names {
		t := r.tools[name]
		defs[i] = inference.Tool{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  t.Parameters,
		}
	}
	return defs
}

// Invoke validates the raw JSON arguments and runs the tool.
func (r *Registry) Invoke(ctx context.Context, name, rawArgs string) (string, error) {
	t, ok := r.Get(name)
	if !ok {
		return "", &CallError{Tool: name, Err: ErrUnknownTool}
	}

	args := map[string]any{}
	if rawArgs != "" {
		if err := json.Unmarshal([]byte(rawArgs), &args); err != nil {
			return "", &CallError{Tool: name, Err: fmt.Errorf("%w: %v", ErrInvalidArguments, err)}
		}
	}
	if err := Validate(t.Parameters, args); err != nil {
		return "", &CallError{Tool: name, Err: err}
	}

	result, err := t.Handler(ctx, args)
	if err != nil {
		return "", &CallError{Tool: name, Err: err}
	}
	return result, nil
}

// Validate checks args against a JSON-schema object: required keys must be
// present and declared property types must match.
func Validate(schema map[string]any, args map[string]any) error {
	for _, key := range requiredKeys(schema["required"]) {
		if _, ok := args[key]; !ok {
			return fmt.Errorf("%w: missing %q", ErrInvalidArguments, key)
		}
	}

	props, _ := schema["properties"].(map[string]any)
	for key, val := range args {
		prop, ok := props[key].(map[string]any)
		if !ok {
			continue
		}
		typ, _ := prop["type"].(string)
		if !matchesType(typ, val) {
			return fmt.Errorf("%w: %q must be %s", ErrInvalidArguments, key, typ)
		}
	}
	return nil
}

func requiredKeys(v any) []string {
	switch req := v.(type) {
	case []string:
		return req
	case []any:
		keys := make([]string, 0, len(req))
		for _, k := range req {
			if s, ok := k.(string); ok {
				keys = append(keys, s)
			}
		}
		return keys
	}
	return nil
}

func matchesType(typ string, val any) bool {
	switch typ {
	case "number":
		f, ok := val.(float64)
		return ok && !math.IsNaN(f) && !math.IsInf(f, 0)
	case "integer":
		f, ok := val.(float64)
		return ok && f == math.Trunc(f)
	case "string":
		_, ok := val.(string)
		return ok
	case "boolean":
		_, ok := val.(bool)
		return ok
	case "object":
		_, ok := val.(map[string]any)
		return ok
	case "array":
		_, ok := val.([]any)
		return ok
	}
	return true
}
