// Package model provides domain types shared across packages.
package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// Step trace node names.
const (
	NodeProcessInput  = "process_input"
	NodeLLM           = "llm"
	NodeToolExecution = "tool_execution"
	NodeFinalAnswer   = "final_answer"
)

// Step is one entry of a run's step trace.
// Annotations are flattened next to node and timestamp when encoded.
type Step struct {
	Node        string
	Timestamp   time.Time
	Annotations map[string]any
}

// NewStep creates a step stamped with the current time.
func NewStep(node string, annotations map[string]any) Step {
	if annotations == nil {
		annotations = map[string]any{}
	}
	return Step{Node: node, Timestamp: time.Now().UTC(), Annotations: annotations}
}

// MarshalJSON encodes the step as a flat object.
func (s Step) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(s.Annotations)+2)
	for k, v := range s.Annotations {
		out[k] = v
	}
	out["node"] = s.Node
	out["timestamp"] = s.Timestamp.Format(time.RFC3339Nano)
	return json.Marshal(out)
}

// UnmarshalJSON decodes a flat step object.
func (s *Step) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	node, _ := raw["node"].(string)
	if node == "" {
		return fmt.Errorf("step without node")
	}
	s.Node = node
	delete(raw, "node")

	s.Timestamp = time.Time{}
	if ts, ok := raw["timestamp"].(string); ok {
		parsed, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return fmt.Errorf("step timestamp: %w", err)
		}
		s.Timestamp = parsed
	}
	delete(raw, "timestamp")

	s.Annotations = raw
	return nil
}

// ToolInvocation records one tool call made during a run.
type ToolInvocation struct {
	ID         string          `json:"id,omitempty"`
	Name       string          `json:"name"`
	Arguments  json.RawMessage `json:"arguments"`
	Result     string          `json:"result,omitempty"`
	Error      string          `json:"error,omitempty"`
	DurationMs int64           `json:"duration_ms"`
}

// Success reports whether the tool returned without error.
func (t ToolInvocation) Success() bool {
	return t.Error == ""
}

// Run is a finished orchestration run, as persisted and listed.
type Run struct {
	ID                    string    `json:"id"`
	Input                 string    `json:"input"`
	Model                 string    `json:"model"`
	Result                string    `json:"result"`
	Error                 string    `json:"error,omitempty"`
	IterationLimitReached bool      `json:"iteration_limit_reached"`
	Steps                 []Step    `json:"steps"`
	StartedAt             time.Time `json:"started_at"`
	FinishedAt            time.Time `json:"finished_at"`
}

// Duration returns how long the run took.
func (r Run) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}
