// Package tools defines how agents discover and invoke tools.
//
// Information Hiding:
// - Transport to the toolbox hidden behind the Invoker interface
// - Tool execution details hidden behind the Tool interface
// - Error handling internalized as ExecutionError
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/richinex/agentgate/llm"
)

// Invoker lists and calls tools. The in-process Registry, the HTTP toolbox
// client and the stdio MCP client all implement it.
type Invoker interface {
	ListTools(ctx context.Context) ([]llm.ToolDefinition, error)
	CallTool(ctx context.Context, name string, args json.RawMessage) (string, error)
}

// ErrUnknownTool is wrapped by ExecutionError when no tool has the name.
var ErrUnknownTool = errors.New("unknown tool")

// ExecutionError reports a failed tool call. The agent turns it into a
// tool-result message and keeps going.
type ExecutionError struct {
	Tool string
	Err  error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("tool %s: %v", e.Tool, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// Tool is a single in-process tool.
type Tool interface {
	// Definition returns the name, description and JSON schema of the tool.
	Definition() llm.ToolDefinition

	// Execute runs the tool with the given JSON arguments.
	Execute(ctx context.Context, args json.RawMessage) (string, error)
}

// Func adapts a function into a Tool.
type Func struct {
	def llm.ToolDefinition
	fn  func(ctx context.Context, args json.RawMessage) (string, error)
}

// NewFunc creates a Tool from a definition and a function.
func NewFunc(name, description string, parameters map[string]interface{}, fn func(ctx context.Context, args json.RawMessage) (string, error)) *Func {
	if parameters == nil {
		parameters = ObjectSchema(nil)
	}
	return &Func{
		def: llm.ToolDefinition{Name: name, Description: description, Parameters: parameters},
		fn:  fn,
	}
}

// Definition implements Tool.
func (f *Func) Definition() llm.ToolDefinition {
	return f.def
}

// Execute implements Tool.
func (f *Func) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	return f.fn(ctx, args)
}

// Property describes one parameter in an object schema.
type Property struct {
	Name        string
	Type        string
	Description string
	Required    bool
}

// ObjectSchema builds a JSON schema object from properties.
func ObjectSchema(props []Property) map[string]interface{} {
	properties := make(map[string]interface{}, len(props))
	required := []string{}
	for _, p := range props {
		typ := p.Type
		if typ == "" {
			typ = "string"
		}
		properties[p.Name] = map[string]interface{}{
			"type":        typ,
			"description": p.Description,
		}
		if p.Required {
			required = append(required, p.Name)
		}
	}
	return map[string]interface{}{
		"type":       "object",
		"properties": properties,
		"required":   required,
	}
}

// DecodeArgs unmarshals tool arguments into v. Empty arguments decode as {}.
func DecodeArgs(args json.RawMessage, v interface{}) error {
	if len(args) == 0 {
		args = json.RawMessage("{}")
	}
	if err := json.Unmarshal(args, v); err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	return nil
}
