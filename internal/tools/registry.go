// Package tools is the catalog of server-side tools the gateway can execute
// on behalf of the model.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/mihaisavezi/toolgate/internal/chat"
)

// ErrUnknownTool is returned for calls naming a tool that is not registered.
var ErrUnknownTool = errors.New("unknown tool")

// ExecutionError is a failed tool run. Its message is what the model sees as
// the tool output.
type ExecutionError struct {
	Name string
	Err  error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("Tool %s failed: %v", e.Name, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// Invocation identifies who a tool runs for.
type Invocation struct {
	UserID         string
	ConversationID string
}

// Func runs a tool. args is always a JSON object.
type Func func(ctx context.Context, args json.RawMessage, inv Invocation) (string, error)

type Tool struct {
	Definition chat.Tool
	Run        Func
}

// Executor runs one finalized tool call.
type Executor interface {
	Execute(ctx context.Context, call chat.ToolCall, inv Invocation) (string, error)
}

// Registry is safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

func (r *Registry) Register(tool Tool) error {
	name := tool.Definition.Function.Name
	if name == "" {
		return errors.New("tool has no name")
	}
	if tool.Run == nil {
		return fmt.Errorf("tool %s has no implementation", name)
	}
	if tool.Definition.Type == "" {
		tool.Definition.Type = chat.ToolTypeFunction
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("tool %s already registered", name)
	}
	r.tools[name] = tool

	return nil
}

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

// Definitions returns the definitions for the given names, skipping unknown
// ones. With no names it returns every tool.
func (r *Registry) Definitions(names ...string) ([]chat.Tool, []string) {
	if len(names) == 0 {
		names = r.Names()
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	var (
		defs    []chat.Tool
		missing []string
	)
	for _, name := range names {
		tool, ok := r.tools[name]
		if !ok {
			missing = append(missing, name)
			continue
		}
		defs = append(defs, tool.Definition)
	}

	return defs, missing
}

func (r *Registry) Execute(ctx context.Context, call chat.ToolCall, inv Invocation) (string, error) {
	name := call.Function.Name

	tool, ok := r.Get(name)
	if !ok {
		return "", &ExecutionError{Name: name, Err: fmt.Errorf("%w: %s", ErrUnknownTool, name)}
	}

	args := json.RawMessage(strings.TrimSpace(call.Function.Arguments))
	if len(args) == 0 {
		args = json.RawMessage("{}")
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(args, &fields); err != nil {
		return "", &ExecutionError{Name: name, Err: fmt.Errorf("invalid arguments: %v", err)}
	}

	out, err := tool.Run(ctx, args, inv)
	if err != nil {
		return "", &ExecutionError{Name: name, Err: err}
	}

	return out, nil
}
