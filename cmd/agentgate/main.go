// Package main provides the agentgate CLI entry point.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/richinex/agentgate/cli"
	"github.com/spf13/cobra"
)

var version = "dev"

var (
	// Global flags
	configPath string
	jsonOutput bool
	verbose    bool
)

func main() {
	// Load .env file if present (ignore "file not found" errors)
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			fmt.Fprintf(os.Stderr, "Warning: failed to load .env file: %v\n", err)
		}
	}

	rootCmd := &cobra.Command{
		Use:     "agentgate",
		Short:   "LLM gateway with a bounded tool-using agent",
		Version: version,
		Long: `agentgate fronts several LLM providers behind one gateway with response
caching and usage metrics, and runs a bounded agent loop that calls tools
from an HTTP toolbox or stdio MCP servers.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to YAML config file")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "print JSON output")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "show verbose output")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(modelsCmd())
	rootCmd.AddCommand(statsCmd())
	rootCmd.AddCommand(runsCmd())
	rootCmd.AddCommand(toolsCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func options() cli.Options {
	opts := cli.DefaultOptions()
	opts.ConfigPath = configPath
	opts.JSON = jsonOutput
	opts.Verbose = verbose
	return opts
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func serveCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the gateway HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()
			return cli.Serve(ctx, addr, options())
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config, :8003)")
	return cmd
}

func runCmd() *cobra.Command {
	var model string
	var gatewayURL string
	var stream bool

	cmd := &cobra.Command{
		Use:   "run [input]",
		Short: "Run the agent on one request",
		Long: `Run the agent loop on one request. The model is taken from --model,
detected from provider keywords in the input ("usa gemini ..."), or the
configured default. Without --gateway-url the gateway runs in-process.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()
			opts := options()
			opts.Model = model
			opts.GatewayURL = gatewayURL
			opts.Stream = stream
			return cli.Run(ctx, args[0], opts)
		},
	}

	cmd.Flags().StringVarP(&model, "model", "m", "", "model name (e.g. gpt-4o, gemini-pro, claude-haiku)")
	cmd.Flags().StringVar(&gatewayURL, "gateway-url", "", "use a remote gateway instead of an in-process one")
	cmd.Flags().BoolVar(&stream, "stream", false, "print steps as they happen")
	return cmd
}

func modelsCmd() *cobra.Command {
	var gatewayURL string

	cmd := &cobra.Command{
		Use:   "models",
		Short: "List available models",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := options()
			opts.GatewayURL = gatewayURL
			return cli.ListModels(cmd.Context(), opts)
		},
	}

	cmd.Flags().StringVar(&gatewayURL, "gateway-url", "", "list the models of a remote gateway")
	return cmd
}

func statsCmd() *cobra.Command {
	var since time.Duration

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show token usage and cost per model",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.Stats(cmd.Context(), since, options())
		},
	}

	cmd.Flags().DurationVar(&since, "since", 0, "only include usage from this window (e.g. 24h)")
	return cmd
}

func runsCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "runs [id]",
		Short: "List recent agent runs, or show one run's trace",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := ""
			if len(args) == 1 {
				id = args[0]
			}
			return cli.ListRuns(cmd.Context(), id, limit, options())
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of runs to list")
	return cmd
}

func toolsCmd() *cobra.Command {
	var verboseTools bool

	cmd := &cobra.Command{
		Use:   "tools",
		Short: "List available tools",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.ListTools(cmd.Context(), verboseTools, options())
		},
	}

	cmd.Flags().BoolVarP(&verboseTools, "verbose", "V", false, "show tool parameters")
	cmd.AddCommand(toolboxServeCmd())
	return cmd
}

func toolboxServeCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the configured stdio MCP servers as an HTTP toolbox",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()
			return cli.ServeToolbox(ctx, addr, options())
		},
	}

	cmd.Flags().StringVar(&addr, "addr", ":8000", "listen address")
	return cmd
}
