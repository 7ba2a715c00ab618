// Package agent runs the bounded tool-use loop on top of the LLM gateway.
//
// A run moves through START -> MODEL_SELECT -> GENERATE, then alternates
// TOOL_EXEC and GENERATE while the model keeps requesting tools, and ends
// in FINAL. Every transition appends a step to the run's trace.
//
// Information Hiding:
// - Conversation state hidden inside a run
// - Tool batch concurrency hidden
// - Text tool protocol parsing hidden
package agent

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/richinex/agentgate/llm"
	"github.com/richinex/agentgate/logging"
	"github.com/richinex/agentgate/model"
	"github.com/richinex/agentgate/tools"
)

// iterationLimitAnswer is returned when the cap is hit before the model
// produced any text.
const iterationLimitAnswer = "Iteration limit reached before a final answer was produced."

// Agent executes runs. It holds no per-run state and is safe for
// concurrent use.
type Agent struct {
	config  Config
	gateway Gateway
	tools   tools.Invoker
	runs    RunRecorder
	logger  *slog.Logger
	newID   func() string
}

// New creates an agent. A nil invoker means the agent has no tools.
func New(config Config, gateway Gateway, invoker tools.Invoker) *Agent {
	if config.MaxIterations < 1 {
		config.MaxIterations = DefaultMaxIterations
	}
	if config.ToolMode == "" {
		config.ToolMode = ToolModeNative
	}

	a := &Agent{
		config:  config,
		gateway: gateway,
		logger:  logging.Named("agent"),
		newID:   uuid.NewString,
	}
	if invoker != nil {
		a.tools = tools.NewExecutor(invoker, tools.ExecutorConfig{
			Timeout:     config.ToolTimeout,
			MaxAttempts: config.ToolAttempts,
		})
	}
	return a
}

// WithRunRecorder persists every finished run.
func (a *Agent) WithRunRecorder(r RunRecorder) *Agent {
	a.runs = r
	return a
}

// WithLogger sets the logger.
func (a *Agent) WithLogger(l *slog.Logger) *Agent {
	a.logger = l
	return a
}

// Config returns the agent's configuration.
func (a *Agent) Config() Config {
	return a.config
}

// Run executes one request to completion.
//
// Provider and unknown-model errors end the run and are returned
// unchanged, together with the steps recorded so far. Tool failures are
// fed back to the model and never end the run. Hitting the iteration cap
// is not an error: the result carries IterationLimitReached.
func (a *Agent) Run(ctx context.Context, in Input) (Result, error) {
	return a.run(ctx, in, nil)
}

// Stream executes one request and emits every step as it is produced,
// followed by exactly one complete or error event. The channel is closed
// afterwards. Cancelling ctx stops the run; once ctx is done, events that
// do not fit the channel buffer are dropped, so a consumer that stops
// reading never blocks the run.
func (a *Agent) Stream(ctx context.Context, in Input) <-chan Event {
	events := make(chan Event, 16)

	send := func(ev Event) bool {
		select {
		case events <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	go func() {
		defer close(events)
		result, err := a.run(ctx, in, func(step model.Step) {
			send(Event{Type: EventStep, Step: &step})
		})
		terminal := Event{Type: EventComplete, Result: &result}
		if err != nil {
			terminal = Event{Type: EventError, Err: err, Result: &result}
		}
		// Prefer delivery when the buffer has room, even after cancellation.
		select {
		case events <- terminal:
		default:
			send(terminal)
		}
	}()

	return events
}

// state is the conversation state of one in-flight run.
type state struct {
	result   Result
	messages []llm.ChatMessage
	defs     []llm.ToolDefinition
	emit     func(model.Step)
}

func (s *state) step(node string, annotations map[string]any) {
	st := model.NewStep(node, annotations)
	s.result.Steps = append(s.result.Steps, st)
	if s.emit != nil {
		s.emit(st)
	}
}

func (a *Agent) run(ctx context.Context, in Input, emit func(model.Step)) (Result, error) {
	started := time.Now()
	runID := a.newID()
	if logging.RequestID(ctx) == "" {
		ctx = logging.WithRequestID(ctx, runID)
	}
	logger := logging.FromContext(ctx, a.logger).With("run_id", runID)

	s := &state{result: Result{RunID: runID}, emit: emit}

	// MODEL_SELECT
	selection := llm.SelectionExplicit
	modelName := in.Model
	if modelName == "" {
		if desc, ok := a.gateway.DetectModel(ctx, in.Input); ok {
			modelName = desc.Name
			selection = llm.SelectionDetected
		} else {
			selection = llm.SelectionDefault
		}
	}
	annotations := map[string]any{"input": in.Input, "selection": string(selection)}
	if modelName != "" {
		annotations["model_selected"] = modelName
	}
	s.step(model.NodeProcessInput, annotations)
	logger.Info("run started", "model", modelName, "selection", string(selection))

	s.defs = a.discoverTools(ctx, logger)
	systemPrompt := a.config.SystemPrompt
	if a.config.ToolMode == ToolModeText {
		systemPrompt = textProtocolPrompt(systemPrompt, s.defs)
	}
	if systemPrompt != "" {
		s.messages = append(s.messages, llm.SystemMessage(systemPrompt))
	}
	s.messages = append(s.messages, llm.UserMessage(in.Input))

	err := a.loop(ctx, logger, s, modelName)
	if s.result.Model == "" {
		s.result.Model = modelName
	}
	a.record(ctx, logger, in, s.result, err, started)
	if err != nil {
		logger.Warn("run failed", "error", err, "steps", len(s.result.Steps))
		return s.result, err
	}

	logger.Info("run finished",
		"model", s.result.Model,
		"steps", len(s.result.Steps),
		"tool_calls", len(s.result.ToolCalls),
		"iteration_limit_reached", s.result.IterationLimitReached,
		"duration_ms", time.Since(started).Milliseconds(),
	)
	return s.result, nil
}

// loop alternates GENERATE and TOOL_EXEC until the model stops asking for
// tools or the iteration cap is reached.
func (a *Agent) loop(ctx context.Context, logger *slog.Logger, s *state, modelName string) error {
	lastToolOutput := ""
	for iteration := 1; ; iteration++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		// GENERATE
		req := llm.Request{
			Model:       modelName,
			Messages:    s.messages,
			Temperature: a.config.Temperature,
			MaxTokens:   a.config.MaxTokens,
		}
		if a.config.ToolMode == ToolModeNative {
			req.Tools = s.defs
		}

		resp, err := a.gateway.Generate(ctx, req)
		if err != nil {
			return err
		}
		// Later iterations stay on the model that answered the first one.
		modelName = resp.Model
		s.result.Model = resp.Model
		s.result.Usage = addUsage(s.result.Usage, resp.Usage)

		calls, textMode := a.toolCalls(logger, resp)
		s.step(model.NodeLLM, map[string]any{
			"model":          resp.Model,
			"cached":         resp.Cached,
			"has_tool_calls": len(calls) > 0,
			"latency_ms":     resp.LatencyMs,
			"iteration":      iteration,
		})

		// FINAL
		if len(calls) == 0 {
			s.result.Result = resp.Text
			s.step(model.NodeFinalAnswer, map[string]any{})
			return nil
		}
		if iteration > a.config.MaxIterations {
			s.result.IterationLimitReached = true
			s.result.Result = bestEffortAnswer(resp.Text, lastToolOutput)
			s.step(model.NodeFinalAnswer, map[string]any{"iteration_limit_reached": true})
			logger.Warn("iteration limit reached", "max_iterations", a.config.MaxIterations)
			return nil
		}

		// TOOL_EXEC
		if textMode {
			s.messages = append(s.messages, llm.AssistantMessage(resp.Text))
		} else {
			s.messages = append(s.messages, llm.ChatMessage{
				Role:      llm.RoleAssistant,
				Content:   resp.Text,
				ToolCalls: calls,
			})
		}

		invocations := a.executeBatch(ctx, logger, calls)
		if err := ctx.Err(); err != nil {
			return err
		}

		results := make([]string, len(invocations))
		traced := make([]map[string]any, len(invocations))
		for i, inv := range invocations {
			entry := map[string]any{"name": inv.Name, "arguments": inv.Arguments}
			if inv.Error != "" {
				results[i] = "Error: " + inv.Error
				entry["error"] = inv.Error
			} else {
				results[i] = inv.Result
				entry["result"] = inv.Result
				lastToolOutput = inv.Result
			}
			traced[i] = entry
		}
		s.result.ToolCalls = append(s.result.ToolCalls, invocations...)
		s.step(model.NodeToolExecution, map[string]any{"tools": traced})

		if textMode {
			s.messages = append(s.messages, llm.UserMessage(formatTextToolResults(calls, results)))
		} else {
			for i, call := range calls {
				s.messages = append(s.messages, llm.ToolResultMessage(call, results[i]))
			}
		}
	}
}

// toolCalls returns the calls requested by resp. Native calls win; a reply
// without them is parsed with the text protocol when tools are available.
// textMode reports that the calls came from the text protocol.
func (a *Agent) toolCalls(logger *slog.Logger, resp llm.Response) (calls []llm.ToolCall, textMode bool) {
	if resp.HasToolCalls() {
		calls = resp.ToolCalls
	} else if a.tools != nil {
		parsed, ok := parseTextToolCalls(resp.Text)
		if !ok {
			logger.Warn("could not parse text tool call, treating reply as final")
		}
		calls = parsed
		textMode = len(parsed) > 0
	}

	for i := range calls {
		if calls[i].ID == "" {
			calls[i].ID = "call_" + a.newID()
		}
	}
	return calls, textMode
}

// executeBatch runs every call concurrently and returns the invocations in
// request order. Tool failures are recorded on the invocation.
func (a *Agent) executeBatch(ctx context.Context, logger *slog.Logger, calls []llm.ToolCall) []model.ToolInvocation {
	invocations := make([]model.ToolInvocation, len(calls))

	var g errgroup.Group
	if a.config.MaxParallelTools > 0 {
		g.SetLimit(a.config.MaxParallelTools)
	}
	for i, call := range calls {
		g.Go(func() error {
			invocations[i] = a.invoke(ctx, logger, call)
			return nil
		})
	}
	_ = g.Wait()
	return invocations
}

func (a *Agent) invoke(ctx context.Context, logger *slog.Logger, call llm.ToolCall) model.ToolInvocation {
	inv := model.ToolInvocation{ID: call.ID, Name: call.Name, Arguments: call.Arguments}
	start := time.Now()

	if a.tools == nil {
		inv.Error = (&tools.ExecutionError{Tool: call.Name, Err: tools.ErrUnknownTool}).Error()
		return inv
	}

	out, err := a.tools.CallTool(ctx, call.Name, call.Arguments)
	inv.DurationMs = time.Since(start).Milliseconds()
	if err != nil {
		inv.Error = err.Error()
		logger.Warn("tool failed", "tool", call.Name, "error", err, "duration_ms", inv.DurationMs)
		return inv
	}
	inv.Result = out
	logger.Debug("tool finished", "tool", call.Name, "duration_ms", inv.DurationMs)
	return inv
}

// discoverTools lists the tools for this run. A failing toolbox leaves the
// run without tools.
func (a *Agent) discoverTools(ctx context.Context, logger *slog.Logger) []llm.ToolDefinition {
	if a.tools == nil {
		return nil
	}
	defs, err := a.tools.ListTools(ctx)
	if err != nil {
		logger.Warn("tool discovery failed, continuing without tools", "error", err)
		return nil
	}
	return defs
}

func (a *Agent) record(ctx context.Context, logger *slog.Logger, in Input, result Result, runErr error, started time.Time) {
	if a.runs == nil {
		return
	}
	run := model.Run{
		ID:                    result.RunID,
		Input:                 in.Input,
		Model:                 result.Model,
		Result:                result.Result,
		IterationLimitReached: result.IterationLimitReached,
		Steps:                 result.Steps,
		StartedAt:             started,
		FinishedAt:            time.Now(),
	}
	if runErr != nil {
		run.Error = runErr.Error()
	}
	if err := a.runs.SaveRun(context.WithoutCancel(ctx), run); err != nil {
		logger.Warn("failed to save run", "error", err)
	}
}

func bestEffortAnswer(text, lastToolOutput string) string {
	if text != "" {
		return text
	}
	if lastToolOutput != "" {
		return lastToolOutput
	}
	return iterationLimitAnswer
}

func addUsage(a, b llm.TokenUsage) llm.TokenUsage {
	return llm.TokenUsage{
		PromptTokens:     a.PromptTokens + b.PromptTokens,
		CompletionTokens: a.CompletionTokens + b.CompletionTokens,
		TotalTokens:      a.TotalTokens + b.TotalTokens,
	}
}
