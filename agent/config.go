// Agent configuration types.
//
// Information Hiding:
// - Default values hidden
// - Tool mode selection hidden

package agent

import (
	"fmt"
	"time"

	"github.com/richinex/agentgate/llm"
)

// ToolMode selects how tools are offered to the model.
type ToolMode string

const (
	// ToolModeNative passes tool definitions to the provider's function calling.
	ToolModeNative ToolMode = "native"
	// ToolModeText describes tools in the system prompt and parses
	// TOOL_CALL / ARGUMENTS lines from the reply.
	ToolModeText ToolMode = "text"
)

// Defaults applied by DefaultConfig.
const (
	DefaultMaxIterations = 10
	DefaultToolTimeout   = 30 * time.Second
	DefaultSystemPrompt  = "You are a helpful assistant. Use the available tools when they help you answer, then reply with the final answer."
)

// Config holds agent configuration.
type Config struct {
	// Name identifies the agent in logs.
	Name string

	// SystemPrompt guides the agent's behavior.
	SystemPrompt string

	// MaxIterations bounds the number of tool rounds in one run.
	MaxIterations int

	// Temperature and MaxTokens are sent with every generation request.
	Temperature float64
	MaxTokens   int

	// ToolMode selects native function calling or the text protocol.
	ToolMode ToolMode

	// ToolTimeout bounds each tool call attempt.
	ToolTimeout time.Duration

	// ToolAttempts is how many times a transient tool failure is tried.
	ToolAttempts int

	// MaxParallelTools caps concurrent tool calls in one batch; 0 means no cap.
	MaxParallelTools int
}

// DefaultConfig returns a basic agent configuration.
func DefaultConfig() Config {
	return Config{
		Name:          "agent",
		SystemPrompt:  DefaultSystemPrompt,
		MaxIterations: DefaultMaxIterations,
		Temperature:   llm.DefaultTemperature,
		MaxTokens:     llm.DefaultMaxTokens,
		ToolMode:      ToolModeNative,
		ToolTimeout:   DefaultToolTimeout,
		ToolAttempts:  1,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.MaxIterations < 1 {
		return fmt.Errorf("max iterations must be at least 1, got %d", c.MaxIterations)
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		return fmt.Errorf("temperature must be between 0 and 2, got %g", c.Temperature)
	}
	switch c.ToolMode {
	case ToolModeNative, ToolModeText:
	default:
		return fmt.Errorf("unknown tool mode %q", c.ToolMode)
	}
	return nil
}
