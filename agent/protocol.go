package agent

import (
	"encoding/json"
	"fmt"
	"strings"

	jsonutil "github.com/richinex/agentgate/internal/json"
	"github.com/richinex/agentgate/llm"
	"github.com/richinex/agentgate/tools"
)

const (
	toolCallPrefix  = "TOOL_CALL:"
	argumentsPrefix = "ARGUMENTS:"
)

// textProtocolPrompt appends tool descriptions and the line protocol to
// the system prompt.
func textProtocolPrompt(systemPrompt string, defs []llm.ToolDefinition) string {
	if len(defs) == 0 {
		return systemPrompt
	}
	return fmt.Sprintf(`%s

You have access to the following tools:

%s

When you need a tool, respond with a tool call in this exact format:
%s tool_name
%s {"arg1": "value1", "arg2": "value2"}

If you don't need any tools, just respond normally to help the user.`,
		systemPrompt, tools.Describe(defs), toolCallPrefix, argumentsPrefix)
}

// parseTextToolCalls reads TOOL_CALL / ARGUMENTS blocks from a reply.
// A call without ARGUMENTS gets {}. Arguments that are not a JSON object
// make the whole reply a plain answer, and ok is false.
func parseTextToolCalls(text string) (calls []llm.ToolCall, ok bool) {
	if !strings.Contains(text, toolCallPrefix) {
		return nil, true
	}

	blocks := strings.Split(text, toolCallPrefix)
	for _, block := range blocks[1:] {
		name, rest, _ := strings.Cut(block, "\n")
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}

		args := json.RawMessage("{}")
		if idx := strings.Index(rest, argumentsPrefix); idx != -1 {
			raw, err := jsonutil.ExtractObject(rest[idx+len(argumentsPrefix):])
			if err != nil {
				return nil, false
			}
			args = json.RawMessage(raw)
		}
		calls = append(calls, llm.ToolCall{Name: name, Arguments: args})
	}
	return calls, true
}

// formatTextToolResults renders a batch of results as the user turn that
// follows a text-protocol tool request.
func formatTextToolResults(calls []llm.ToolCall, results []string) string {
	var b strings.Builder
	for i, call := range calls {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "TOOL_RESULT %s: %s", call.Name, results[i])
	}
	return b.String()
}
