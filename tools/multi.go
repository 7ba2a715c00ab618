package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/richinex/agentgate/llm"
)

// Multi merges several invokers into one. When two invokers expose the
// same tool name the first one wins.
type Multi struct {
	invokers []Invoker

	mu     sync.RWMutex
	routes map[string]Invoker
}

// NewMulti creates an invoker over the given invokers, in priority order.
func NewMulti(invokers ...Invoker) *Multi {
	return &Multi{invokers: invokers, routes: make(map[string]Invoker)}
}

// ListTools implements Invoker. It also refreshes the name routing table.
func (m *Multi) ListTools(ctx context.Context) ([]llm.ToolDefinition, error) {
	routes := make(map[string]Invoker)
	var defs []llm.ToolDefinition
	for i, inv := range m.invokers {
		listed, err := inv.ListTools(ctx)
		if err != nil {
			return nil, fmt.Errorf("list tools from invoker %d: %w", i, err)
		}
		for _, def := range listed {
			if _, dup := routes[def.Name]; dup {
				continue
			}
			routes[def.Name] = inv
			defs = append(defs, def)
		}
	}

	m.mu.Lock()
	m.routes = routes
	m.mu.Unlock()
	return defs, nil
}

// CallTool implements Invoker. Tools are routed by the last ListTools call.
func (m *Multi) CallTool(ctx context.Context, name string, args json.RawMessage) (string, error) {
	m.mu.RLock()
	inv, ok := m.routes[name]
	m.mu.RUnlock()

	if !ok {
		if _, err := m.ListTools(ctx); err != nil {
			return "", &ExecutionError{Tool: name, Err: err}
		}
		m.mu.RLock()
		inv, ok = m.routes[name]
		m.mu.RUnlock()
		if !ok {
			return "", &ExecutionError{Tool: name, Err: ErrUnknownTool}
		}
	}
	return inv.CallTool(ctx, name, args)
}
