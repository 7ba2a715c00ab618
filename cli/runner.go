// Command execution for CLI commands.
//
// Information Hiding:
// - Command dispatch logic hidden
// - Gateway/agent/toolbox setup hidden
// - Output formatting hidden

package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/richinex/agentgate/agent"
	"github.com/richinex/agentgate/config"
	"github.com/richinex/agentgate/gateway"
	"github.com/richinex/agentgate/llm"
	"github.com/richinex/agentgate/logging"
	"github.com/richinex/agentgate/mcp"
	"github.com/richinex/agentgate/model"
	"github.com/richinex/agentgate/storage"
	"github.com/richinex/agentgate/tools"
)

// Options holds CLI execution options.
type Options struct {
	ConfigPath string
	Model      string
	GatewayURL string
	Stream     bool
	JSON       bool
	Verbose    bool
	Out        io.Writer
}

// DefaultOptions returns default CLI options.
func DefaultOptions() Options {
	return Options{Out: os.Stdout}
}

func (o Options) out() io.Writer {
	if o.Out == nil {
		return os.Stdout
	}
	return o.Out
}

// loadSettings loads configuration, applies flag overrides and configures
// logging.
func loadSettings(opts Options) (config.Settings, error) {
	s, err := config.Load(opts.ConfigPath)
	if err != nil {
		return config.Settings{}, err
	}
	if opts.GatewayURL != "" {
		s.Gateway.URL = opts.GatewayURL
	}
	if opts.Verbose {
		s.Log.Level = "debug"
	}
	if err := logging.Init(s.Log); err != nil {
		return config.Settings{}, fmt.Errorf("configure logging: %w", err)
	}
	return s, nil
}

// Serve runs the gateway HTTP server until ctx is cancelled.
func Serve(ctx context.Context, addr string, opts Options) error {
	s, err := loadSettings(opts)
	if err != nil {
		return err
	}
	defer logging.Sync()
	if addr != "" {
		s.Server.Addr = addr
	}

	store, err := openStorage(s.Storage)
	if err != nil {
		return err
	}
	if store != nil {
		defer store.Close()
	}

	gw, closeGateway, err := NewGateway(ctx, s, usageSink(store))
	if err != nil {
		return err
	}
	defer closeGateway()

	return gateway.NewServer(gw, s.Server.Addr, logging.Named("http")).ListenAndServe(ctx)
}

// Run executes one agent run and prints the answer.
func Run(ctx context.Context, input string, opts Options) error {
	s, err := loadSettings(opts)
	if err != nil {
		return err
	}
	defer logging.Sync()
	w := opts.out()

	store, err := openStorage(s.Storage)
	if err != nil {
		return err
	}
	var runs agent.RunRecorder
	if store != nil {
		defer store.Close()
		runs = store
	}

	var gw agent.Gateway
	if s.Gateway.URL != "" {
		gw = gateway.NewClient(s.Gateway.URL, nil)
	} else {
		local, closeGateway, err := NewGateway(ctx, s, usageSink(store))
		if err != nil {
			return err
		}
		defer closeGateway()
		gw = local
	}

	inv, closeTools, err := OpenTools(ctx, s.Toolbox)
	if err != nil {
		return err
	}
	defer closeTools()

	a, err := CreateAgent(s.Agent, gw, inv, runs)
	if err != nil {
		return err
	}

	in := agent.Input{Input: input, Model: opts.Model}
	if opts.Stream {
		return streamRun(ctx, w, a, in, opts)
	}

	result, err := a.Run(ctx, in)
	if err != nil {
		if opts.Verbose {
			printSteps(w, result.Steps)
		}
		return fmt.Errorf("run failed: %w", err)
	}
	return printResult(w, result, opts)
}

func streamRun(ctx context.Context, w io.Writer, a *agent.Agent, in agent.Input, opts Options) error {
	var runErr error
	for ev := range a.Stream(ctx, in) {
		switch ev.Type {
		case agent.EventStep:
			if opts.JSON {
				if err := json.NewEncoder(w).Encode(ev); err != nil {
					return err
				}
				continue
			}
			fmt.Fprintf(w, "[%s] %s\n", ev.Step.Node, describeStep(*ev.Step))
		case agent.EventComplete:
			if opts.JSON {
				if err := json.NewEncoder(w).Encode(ev); err != nil {
					return err
				}
				continue
			}
			fmt.Fprintln(w)
			fmt.Fprintln(w, ev.Result.Result)
		case agent.EventError:
			runErr = ev.Err
		}
	}
	if runErr != nil {
		return fmt.Errorf("run failed: %w", runErr)
	}
	return nil
}

// ListModels prints the registered models, locally or from a remote gateway.
func ListModels(ctx context.Context, opts Options) error {
	s, err := loadSettings(opts)
	if err != nil {
		return err
	}
	w := opts.out()

	var models []llm.ModelDescriptor
	if s.Gateway.URL != "" {
		models, err = gateway.NewClient(s.Gateway.URL, nil).Models(ctx)
		if err != nil {
			return err
		}
	} else {
		registry, err := BuildRegistry(s, logging.Named("gateway"))
		if err != nil {
			return err
		}
		models = registry.Models()
	}

	if opts.JSON {
		return json.NewEncoder(w).Encode(models)
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tPROVIDER\tDESCRIPTION")
	for _, m := range models {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", m.Name, m.Provider, m.Description)
	}
	return tw.Flush()
}

// Stats prints per-model usage from the ledger since the given window.
func Stats(ctx context.Context, window time.Duration, opts Options) error {
	s, err := loadSettings(opts)
	if err != nil {
		return err
	}
	w := opts.out()

	store, err := requireStorage(s.Storage)
	if err != nil {
		return err
	}
	defer store.Close()

	var since time.Time
	if window > 0 {
		since = time.Now().Add(-window)
	}
	summary, err := store.UsageSummary(ctx, since)
	if err != nil {
		return err
	}

	if opts.JSON {
		return json.NewEncoder(w).Encode(summary)
	}
	if len(summary) == 0 {
		fmt.Fprintln(w, "No usage data found.")
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "MODEL\tREQUESTS\tCACHE HITS\tERRORS\tTOKENS\tCOST (USD)\tAVG LATENCY (MS)")
	for _, u := range summary {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%.4f\t%.1f\n",
			u.Model, u.Requests, u.CacheHits, u.Errors, u.TotalTokens, u.CostUSD, u.AvgLatencyMs)
	}
	return tw.Flush()
}

// ListRuns prints recent runs, or the full trace of one run when id is set.
func ListRuns(ctx context.Context, id string, limit int, opts Options) error {
	s, err := loadSettings(opts)
	if err != nil {
		return err
	}
	w := opts.out()

	store, err := requireStorage(s.Storage)
	if err != nil {
		return err
	}
	defer store.Close()

	if id != "" {
		run, err := store.GetRun(ctx, id)
		if err != nil {
			return err
		}
		if run == nil {
			return fmt.Errorf("run %s not found", id)
		}
		if opts.JSON {
			return json.NewEncoder(w).Encode(run)
		}
		printRun(w, *run)
		return nil
	}

	runs, err := store.ListRuns(ctx, limit)
	if err != nil {
		return err
	}
	if opts.JSON {
		return json.NewEncoder(w).Encode(runs)
	}
	if len(runs) == 0 {
		fmt.Fprintln(w, "No runs found.")
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTARTED\tMODEL\tSTATUS\tINPUT")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			r.ID, r.StartedAt.Format("2006-01-02T15:04:05"), r.Model, runStatus(r), truncateString(r.Input, 60))
	}
	return tw.Flush()
}

// ListTools prints the tools offered by the configured toolboxes.
func ListTools(ctx context.Context, verbose bool, opts Options) error {
	s, err := loadSettings(opts)
	if err != nil {
		return err
	}
	w := opts.out()

	inv, closeTools, err := OpenTools(ctx, s.Toolbox)
	if err != nil {
		return err
	}
	defer closeTools()
	if inv == nil {
		return errors.New("no toolbox configured: set toolbox.url or toolbox.mcp_config")
	}

	defs, err := inv.ListTools(ctx)
	if err != nil {
		return err
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })

	if opts.JSON {
		return json.NewEncoder(w).Encode(defs)
	}
	if verbose {
		fmt.Fprintln(w, tools.Describe(defs))
		return nil
	}
	fmt.Fprintf(w, "Available tools (%d):\n", len(defs))
	for _, d := range defs {
		fmt.Fprintf(w, "  %-20s %s\n", d.Name, truncateString(d.Description, 60))
	}
	return nil
}

// ServeToolbox exposes the stdio MCP servers of the configured MCP config
// over the HTTP toolbox protocol until ctx is cancelled.
func ServeToolbox(ctx context.Context, addr string, opts Options) error {
	s, err := loadSettings(opts)
	if err != nil {
		return err
	}
	defer logging.Sync()
	if s.Toolbox.MCPConfig == "" {
		return errors.New("toolbox serve needs toolbox.mcp_config")
	}

	cfg, err := mcp.LoadConfig(s.Toolbox.MCPConfig)
	if err != nil {
		return err
	}
	session, err := cfg.StartAll(ctx)
	if err != nil {
		return err
	}
	defer session.Close()

	logger := logging.Named("toolbox")
	srv := &http.Server{
		Addr:              addr,
		Handler:           mcp.Handler(session, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("toolbox listening", "addr", addr, "servers", cfg.Names())
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// usageSink avoids handing the gateway a typed nil.
func usageSink(store *storage.SqliteStorage) gateway.UsageSink {
	if store == nil {
		return nil
	}
	return store
}

func requireStorage(s config.StorageConfig) (*storage.SqliteStorage, error) {
	store, err := openStorage(s)
	if err != nil {
		return nil, err
	}
	if store == nil {
		return nil, errors.New("no storage configured: set storage.path")
	}
	return store, nil
}

const maxObservationLen = 400

func printResult(w io.Writer, result agent.Result, opts Options) error {
	if opts.JSON {
		return json.NewEncoder(w).Encode(result)
	}
	if opts.Verbose {
		printSteps(w, result.Steps)
	}
	fmt.Fprintf(w, "%s\n\n", result.Result)
	fmt.Fprintf(w, "(%s, %d steps, %d tool calls, %d tokens)\n",
		result.Model, len(result.Steps), len(result.ToolCalls), result.Usage.TotalTokens)
	if result.IterationLimitReached {
		fmt.Fprintln(w, "Iteration limit reached; the answer may be incomplete.")
	}
	return nil
}

func printRun(w io.Writer, run model.Run) {
	fmt.Fprintf(w, "Run:     %s\n", run.ID)
	fmt.Fprintf(w, "Model:   %s\n", run.Model)
	fmt.Fprintf(w, "Status:  %s\n", runStatus(run))
	fmt.Fprintf(w, "Input:   %s\n", run.Input)
	fmt.Fprintf(w, "Elapsed: %s\n\n", run.FinishedAt.Sub(run.StartedAt).Round(time.Millisecond))
	printSteps(w, run.Steps)
	if run.Error != "" {
		fmt.Fprintf(w, "Error: %s\n", run.Error)
		return
	}
	fmt.Fprintln(w, run.Result)
}

func printSteps(w io.Writer, steps []model.Step) {
	fmt.Fprintln(w, "--- Steps ---")
	for i, step := range steps {
		fmt.Fprintf(w, "[%d] %s %s\n", i+1, step.Node, describeStep(step))
	}
	fmt.Fprintln(w, "-------------")
	fmt.Fprintln(w)
}

// describeStep renders the annotations worth showing for a node.
func describeStep(step model.Step) string {
	a := step.Annotations
	switch step.Node {
	case model.NodeProcessInput:
		return fmt.Sprintf("model=%v selection=%v", a["model_selected"], a["selection"])
	case model.NodeLLM:
		return fmt.Sprintf("model=%v cached=%v tool_calls=%v", a["model"], a["cached"], a["has_tool_calls"])
	case model.NodeToolExecution:
		return describeTools(a["tools"])
	case model.NodeFinalAnswer:
		if a["iteration_limit_reached"] == true {
			return "iteration limit reached"
		}
	}
	return ""
}

func describeTools(v any) string {
	var parts []string
	switch entries := v.(type) {
	case []map[string]any:
		for _, e := range entries {
			parts = append(parts, describeTool(e))
		}
	case []any:
		for _, raw := range entries {
			if e, ok := raw.(map[string]any); ok {
				parts = append(parts, describeTool(e))
			}
		}
	}
	return strings.Join(parts, "; ")
}

func describeTool(e map[string]any) string {
	if errMsg, ok := e["error"]; ok {
		return fmt.Sprintf("%v -> error: %s", e["name"], truncateString(fmt.Sprint(errMsg), maxObservationLen))
	}
	return fmt.Sprintf("%v -> %s", e["name"], truncateString(fmt.Sprint(e["result"]), maxObservationLen))
}

func runStatus(r model.Run) string {
	switch {
	case r.Error != "":
		return "failed"
	case r.IterationLimitReached:
		return "limit"
	default:
		return "ok"
	}
}

func truncateString(s string, maxLen int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}
