package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/richinex/agentgate/llm"
)

// Registry holds in-process tools and serves them as an Invoker.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry creates a new empty tool registry.
func NewRegistry() *Registry {
	return &Registry{
		tools: make(map[string]Tool),
	}
}

// Register adds a tool.
// Returns error if a tool with the same name already exists.
func (r *Registry) Register(tool Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := tool.Definition().Name
	if name == "" {
		return fmt.Errorf("tool name is required")
	}
	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("tool '%s' already registered", name)
	}
	r.tools[name] = tool
	return nil
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tool, exists := r.tools[name]
	return tool, exists
}

// Names returns all registered tool names in sorted order.
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

// ListTools implements Invoker. Definitions are sorted by name.
func (r *Registry) ListTools(_ context.Context) ([]llm.ToolDefinition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]llm.ToolDefinition, 0, len(r.tools))
	for _, tool := range r.tools {
		defs = append(defs, tool.Definition())
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs, nil
}

// CallTool implements Invoker. Every failure is an *ExecutionError.
func (r *Registry) CallTool(ctx context.Context, name string, args json.RawMessage) (string, error) {
	tool, ok := r.Get(name)
	if !ok {
		return "", &ExecutionError{Tool: name, Err: ErrUnknownTool}
	}
	out, err := tool.Execute(ctx, args)
	if err != nil {
		return "", &ExecutionError{Tool: name, Err: err}
	}
	return out, nil
}

// Describe formats tool definitions for a text prompt.
func Describe(defs []llm.ToolDefinition) string {
	var descriptions []string
	for _, def := range defs {
		var params []string
		props, _ := def.Parameters["properties"].(map[string]interface{})
		required := map[string]bool{}
		switch req := def.Parameters["required"].(type) {
		case []string:
			for _, name := range req {
				required[name] = true
			}
		case []interface{}:
			for _, name := range req {
				if s, ok := name.(string); ok {
					required[s] = true
				}
			}
		}

		names := make([]string, 0, len(props))
		for name := range props {
			names = append(names, name)
		}
		sort.Strings(names)

		for _, name := range names {
			prop, _ := props[name].(map[string]interface{})
			typ, _ := prop["type"].(string)
			desc, _ := prop["description"].(string)
			flag := "optional"
			if required[name] {
				flag = "required"
			}
			params = append(params, fmt.Sprintf("  - %s (%s): %s [%s]", name, typ, desc, flag))
		}

		descriptions = append(descriptions, fmt.Sprintf(
			"Tool: %s\nDescription: %s\nParameters:\n%s",
			def.Name, def.Description, strings.Join(params, "\n")))
	}

	return strings.Join(descriptions, "\n\n")
}
