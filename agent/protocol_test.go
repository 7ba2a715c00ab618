package agent

import (
	"strings"
	"testing"

	"github.com/richinex/agentgate/llm"
)

func TestParseTextToolCalls(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		wantOK   bool
		wantName []string
		wantArgs []string
	}{
		{
			name:   "plain answer",
			text:   "The answer is 8.",
			wantOK: true,
		},
		{
			name:     "single call",
			text:     "TOOL_CALL: add\nARGUMENTS: {\"a\": 5, \"b\": 3}",
			wantOK:   true,
			wantName: []string{"add"},
			wantArgs: []string{`{"a": 5, "b": 3}`},
		},
		{
			name:     "call without arguments",
			text:     "TOOL_CALL: list_files",
			wantOK:   true,
			wantName: []string{"list_files"},
			wantArgs: []string{`{}`},
		},
		{
			name:     "preamble and two calls",
			text:     "Let me check.\nTOOL_CALL: add\nARGUMENTS: {\"a\": 1}\nTOOL_CALL: uppercase\nARGUMENTS: {\"text\": \"hi\"}",
			wantOK:   true,
			wantName: []string{"add", "uppercase"},
			wantArgs: []string{`{"a": 1}`, `{"text": "hi"}`},
		},
		{
			name:     "fenced arguments",
			text:     "TOOL_CALL: add\nARGUMENTS: ```json\n{\"a\": 2}\n```",
			wantOK:   true,
			wantName: []string{"add"},
			wantArgs: []string{`{"a": 2}`},
		},
		{
			name:   "invalid arguments",
			text:   "TOOL_CALL: add\nARGUMENTS: not json",
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls, ok := parseTextToolCalls(tt.text)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if len(calls) != len(tt.wantName) {
				t.Fatalf("got %d calls, want %d", len(calls), len(tt.wantName))
			}
			for i, call := range calls {
				if call.Name != tt.wantName[i] {
					t.Errorf("call %d name = %q, want %q", i, call.Name, tt.wantName[i])
				}
				if string(call.Arguments) != tt.wantArgs[i] {
					t.Errorf("call %d args = %s, want %s", i, call.Arguments, tt.wantArgs[i])
				}
			}
		})
	}
}

func TestTextProtocolPrompt(t *testing.T) {
	if got := textProtocolPrompt("base", nil); got != "base" {
		t.Errorf("prompt without tools should be unchanged, got %q", got)
	}

	defs := []llm.ToolDefinition{{Name: "add", Description: "Adds two numbers"}}
	got := textProtocolPrompt("base", defs)
	for _, want := range []string{"base", "Tool: add", "Adds two numbers", "TOOL_CALL: tool_name", "ARGUMENTS: {"} {
		if !strings.Contains(got, want) {
			t.Errorf("prompt missing %q:\n%s", want, got)
		}
	}
}

func TestFormatTextToolResults(t *testing.T) {
	calls := []llm.ToolCall{{Name: "add"}, {Name: "uppercase"}}
	got := formatTextToolResults(calls, []string{"8", "Error: boom"})
	want := "TOOL_RESULT add: 8\nTOOL_RESULT uppercase: Error: boom"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestBuilder(t *testing.T) {
	gw := &scriptedGateway{respond: func(llm.Request) (llm.Response, error) { return llm.Response{Text: "ok"}, nil }}

	a, err := NewBuilder(gw).
		Name("math").
		MaxIterations(4).
		Temperature(0.2).
		ToolMode(ToolModeText).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	cfg := a.Config()
	if cfg.Name != "math" || cfg.MaxIterations != 4 || cfg.Temperature != 0.2 || cfg.ToolMode != ToolModeText {
		t.Errorf("unexpected config %+v", cfg)
	}

	invalid := []*Builder{
		NewBuilder(gw).MaxIterations(0),
		NewBuilder(gw).Temperature(3),
		NewBuilder(gw).ToolMode("xml"),
	}
	for i, b := range invalid {
		if _, err := b.Build(); err == nil {
			t.Errorf("builder %d: expected validation error", i)
		}
	}
}
