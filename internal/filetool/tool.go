// Package filetool exposes the patch engine as JSON-callable file tools.
package filetool

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/sokinpui/udiff/model"
)

// Tool is a single callable file operation.
type Tool interface {
	Name() string
	Description() string
	Parameters() []Parameter
	Execute(ctx context.Context, args map[string]any) (*Result, error)
}

// Parameter describes an argument the tool accepts.
type Parameter struct {
	Name     string
	Type     string
	Required bool
	Default  any
}

// Result is returned by every tool execution.
type Result struct {
	Success bool           `json:"success"`
	Message string         `json:"message,omitempty"`
	Data    map[string]any `json:"data,omitempty"`
}

// Registry maintains the available tools.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool to the registry.
func (r *Registry) Register(tool Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[tool.Name()]; exists {
		return fmt.Errorf("tool %s already registered", tool.Name())
	}
	r.tools[tool.Name()] = tool
	return nil
}

// Get fetches a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	return tool, ok
}

// Names returns the registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Call validates args against the tool's parameters and runs it.
func (r *Registry) Call(ctx context.Context, call model.ToolCall) (*Result, error) {
	tool, ok := r.Get(call.Tool)
	if !ok {
		return nil, fmt.Errorf("unknown tool %q (available: %s)", call.Tool, strings.Join(r.Names(), ", "))
	}
	args := make(map[string]any, len(call.Args))
	for k, v := range call.Args {
		args[k] = v
	}
	for _, p := range tool.Parameters() {
		if _, ok := args[p.Name]; ok {
			continue
		}
		if p.Required {
			return nil, fmt.Errorf("tool %s: missing required argument %q", tool.Name(), p.Name)
		}
		if p.Default != nil {
			args[p.Name] = p.Default
		}
	}
	return tool.Execute(ctx, args)
}

// Dispatch decodes a JSON tool call of the form
// {"tool": "...", "args": {...}} and runs it.
func (r *Registry) Dispatch(ctx context.Context, raw []byte) (*Result, error) {
	var call model.ToolCall
	if err := json.Unmarshal(raw, &call); err != nil {
		return nil, fmt.Errorf("invalid tool call: %w", err)
	}
	if call.Tool == "" {
		return nil, fmt.Errorf("invalid tool call: missing \"tool\"")
	}
	return r.Call(ctx, call)
}

func stringArg(args map[string]any, name string) (string, error) {
	v, ok := args[name]
	if !ok {
		return "", fmt.Errorf("missing argument %q", name)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("argument %q must be a string", name)
	}
	return s, nil
}

// intArg reads an optional integer argument. JSON numbers decode as float64.
func intArg(args map[string]any, name string, def int) (int, error) {
	v, ok := args[name]
	if !ok || v == nil {
		return def, nil
	}
	switch n := v.(type) {
	case float64:
		if n != float64(int(n)) {
			return 0, fmt.Errorf("argument %q must be an integer", name)
		}
		return int(n), nil
	case int:
		return n, nil
	default:
		return 0, fmt.Errorf("argument %q must be an integer", name)
	}
}
