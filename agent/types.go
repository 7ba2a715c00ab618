package agent

import (
	"context"

	"github.com/richinex/agentgate/llm"
	"github.com/richinex/agentgate/model"
)

// Gateway is what the agent needs from the LLM gateway. Both the
// in-process *gateway.Gateway and the HTTP *gateway.Client satisfy it.
type Gateway interface {
	Generate(ctx context.Context, req llm.Request) (llm.Response, error)
	DetectModel(ctx context.Context, hint string) (llm.ModelDescriptor, bool)
}

// RunRecorder persists finished runs.
type RunRecorder interface {
	SaveRun(ctx context.Context, run model.Run) error
}

// Input is one user request. Model is optional.
type Input struct {
	Input string `json:"input"`
	Model string `json:"model,omitempty"`
}

// Result is the outcome of a run.
type Result struct {
	RunID                 string                 `json:"run_id"`
	Result                string                 `json:"result"`
	Model                 string                 `json:"model"`
	Steps                 []model.Step           `json:"steps"`
	ToolCalls             []model.ToolInvocation `json:"tool_calls,omitempty"`
	Usage                 llm.TokenUsage         `json:"usage"`
	IterationLimitReached bool                   `json:"iteration_limit_reached"`
}

// EventType tags a streaming event.
type EventType string

const (
	EventStep     EventType = "step"
	EventComplete EventType = "complete"
	EventError    EventType = "error"
)

// Event is one item of a streamed run. Step events carry Step, the single
// terminal event carries Result or Err.
type Event struct {
	Type   EventType   `json:"type"`
	Step   *model.Step `json:"step,omitempty"`
	Result *Result     `json:"result,omitempty"`
	Err    error       `json:"-"`
}
