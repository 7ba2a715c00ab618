// Agent builder for fluent configuration.
//
// Information Hiding:
// - Builder state management hidden
// - Default value application hidden

package agent

import (
	"log/slog"
	"time"

	"github.com/richinex/agentgate/tools"
)

// Builder provides fluent configuration for creating agents.
// Usage: agent.NewBuilder(gw).MaxIterations(5).Build()
type Builder struct {
	config  Config
	gateway Gateway
	invoker tools.Invoker
	runs    RunRecorder
	logger  *slog.Logger
}

// NewBuilder starts from DefaultConfig.
func NewBuilder(gateway Gateway) *Builder {
	return &Builder{config: DefaultConfig(), gateway: gateway}
}

// Name sets the agent's name.
func (b *Builder) Name(name string) *Builder {
	b.config.Name = name
	return b
}

// SystemPrompt sets the agent's system prompt.
func (b *Builder) SystemPrompt(prompt string) *Builder {
	b.config.SystemPrompt = prompt
	return b
}

// MaxIterations sets the tool round cap.
func (b *Builder) MaxIterations(n int) *Builder {
	b.config.MaxIterations = n
	return b
}

// Temperature sets the sampling temperature.
func (b *Builder) Temperature(t float64) *Builder {
	b.config.Temperature = t
	return b
}

// MaxTokens sets the completion budget per generation.
func (b *Builder) MaxTokens(n int) *Builder {
	b.config.MaxTokens = n
	return b
}

// ToolMode selects native or text tool calling.
func (b *Builder) ToolMode(mode ToolMode) *Builder {
	b.config.ToolMode = mode
	return b
}

// ToolTimeout bounds each tool call.
func (b *Builder) ToolTimeout(d time.Duration) *Builder {
	b.config.ToolTimeout = d
	return b
}

// ToolAttempts sets how often a transient tool failure is tried.
func (b *Builder) ToolAttempts(n int) *Builder {
	b.config.ToolAttempts = n
	return b
}

// MaxParallelTools caps concurrent tool calls per batch.
func (b *Builder) MaxParallelTools(n int) *Builder {
	b.config.MaxParallelTools = n
	return b
}

// Tools sets the tool invoker.
func (b *Builder) Tools(inv tools.Invoker) *Builder {
	b.invoker = inv
	return b
}

// Runs persists finished runs to r.
func (b *Builder) Runs(r RunRecorder) *Builder {
	b.runs = r
	return b
}

// Logger sets the logger.
func (b *Builder) Logger(l *slog.Logger) *Builder {
	b.logger = l
	return b
}

// Config returns the configuration built so far.
func (b *Builder) Config() Config {
	return b.config
}

// Build validates the configuration and creates the agent.
func (b *Builder) Build() (*Agent, error) {
	if err := b.config.Validate(); err != nil {
		return nil, err
	}
	a := New(b.config, b.gateway, b.invoker)
	if b.runs != nil {
		a.WithRunRecorder(b.runs)
	}
	if b.logger != nil {
		a.WithLogger(b.logger)
	}
	return a, nil
}
