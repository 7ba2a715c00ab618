// Package mcp connects agents to tool servers speaking the Model Context
// Protocol, either as JSON over HTTP (the toolbox service) or as JSON-RPC
// over a child process's stdin/stdout.
//
// Information Hiding:
// - Transport details hidden behind tools.Invoker
// - Schema conversion hidden
// - Content block flattening hidden
package mcp

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/richinex/agentgate/llm"
)

// ToolInfo describes a tool as listed by a server.
type ToolInfo struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
}

// ContentBlock is one item of a tools/call result.
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// CallResult is the body of a tools/call result. Error is set by toolboxes
// that report a failure as {"error": "..."} with a 2xx status.
type CallResult struct {
	Content []ContentBlock `json:"content"`
	IsError bool           `json:"isError,omitempty"`
	Error   string         `json:"error,omitempty"`
}

// CallRequest is the body of a tools/call request.
type CallRequest struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

type listResult struct {
	Tools []ToolInfo `json:"tools"`
}

// Definition converts the listed tool into a provider-neutral definition.
// A missing or invalid schema becomes an empty object schema.
func (t ToolInfo) Definition() llm.ToolDefinition {
	params := map[string]interface{}{}
	if len(t.InputSchema) > 0 {
		if err := json.Unmarshal(t.InputSchema, &params); err != nil || params == nil {
			params = map[string]interface{}{}
		}
	}
	if _, ok := params["type"]; !ok {
		params["type"] = "object"
	}
	if _, ok := params["properties"]; !ok {
		params["properties"] = map[string]interface{}{}
	}
	return llm.ToolDefinition{
		Name:        t.Name,
		Description: t.Description,
		Parameters:  params,
	}
}

// infoFromDefinition is the inverse of Definition.
func infoFromDefinition(def llm.ToolDefinition) ToolInfo {
	schema, _ := json.Marshal(def.Parameters)
	return ToolInfo{Name: def.Name, Description: def.Description, InputSchema: schema}
}

// Text joins the text blocks of the result.
func (r CallResult) Text() string {
	var parts []string
	for _, block := range r.Content {
		if block.Type == "" || block.Type == "text" {
			parts = append(parts, block.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// Failure returns the tool-side error the result reports, or nil.
func (r CallResult) Failure() error {
	switch {
	case r.Error != "":
		return errors.New(r.Error)
	case r.IsError:
		return errors.New(r.Text())
	}
	return nil
}

// TextResult builds a single-block result.
func TextResult(text string) CallResult {
	return CallResult{Content: []ContentBlock{{Type: "text", Text: text}}}
}

// definitions converts a tools/list result.
func definitions(infos []ToolInfo) []llm.ToolDefinition {
	defs := make([]llm.ToolDefinition, len(infos))
	for i, info := range infos {
		defs[i] = info.Definition()
	}
	return defs
}

// arguments returns args as a JSON object, defaulting to {}.
func arguments(args json.RawMessage) (json.RawMessage, error) {
	trimmed := strings.TrimSpace(string(args))
	if trimmed == "" || trimmed == "null" {
		return json.RawMessage("{}"), nil
	}
	var obj map[string]interface{}
	if err := json.Unmarshal(args, &obj); err != nil {
		return nil, fmt.Errorf("arguments must be a JSON object: %w", err)
	}
	return args, nil
}
