// Command deepsearch answers a single research question with one of
// the agent loops (react, codact, manager) and prints the result.
//
// Usage:
//
//	deepsearch "who maintains the Go compiler's SSA backend?"
//	deepsearch --agent-type react --enable-streaming "..."
//	deepsearch --agent-type manager --team custom --managed-agents react "..."
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"

	deepsearch "github.com/deepsearch-ai/deepsearch"
	"github.com/deepsearch-ai/deepsearch/internal/app"
	"github.com/deepsearch-ai/deepsearch/internal/config"
	"github.com/deepsearch-ai/deepsearch/observer"
)

// CLI defines the command-line surface. Flags default to zero values
// so the config file (and its env overrides) stay authoritative
// unless a flag is set.
type CLI struct {
	Query string `arg:"" help:"Research question to answer."`

	AgentType       string   `help:"Agent loop: react, codact, or manager (default from config)." enum:",react,codact,manager" default:""`
	MaxSteps        int      `help:"Override the loop's step ceiling." default:"0"`
	ExecutorType    string   `help:"Python executor for code agents: local, docker, or e2b." enum:",local,docker,e2b" default:""`
	EnableStreaming bool     `help:"Print model deltas as they arrive."`
	Team            string   `help:"Manager team preset: research (react+codact) or custom." enum:",research,custom" default:""`
	ManagedAgents   []string `help:"Sub-agents for --team custom (react, codact)."`
	Verbose         bool     `short:"v" help:"Debug logging."`
	Observe         bool     `help:"Export OTEL traces, metrics and logs."`
	Config          string   `short:"c" type:"path" help:"Path to config.toml."`
}

func main() {
	// .env is optional and never overrides real environment variables.
	_ = godotenv.Load()

	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name("deepsearch"),
		kong.Description("Agentic deep web research from the command line."),
		kong.UsageOnError(),
	)

	code, err := run(&cli)
	kctx.FatalIfErrorf(err)
	os.Exit(code)
}

func run(cli *CLI) (int, error) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(cli.Config)
	if err != nil {
		return 1, err
	}
	if cli.AgentType != "" {
		cfg.Service.AgentMode = cli.AgentType
	}
	if cli.MaxSteps > 0 {
		cfg.Agents.React.MaxSteps = cli.MaxSteps
		cfg.Agents.Codact.MaxSteps = cli.MaxSteps
	}
	if cli.ExecutorType != "" {
		cfg.Agents.Codact.ExecutorType = cli.ExecutorType
	}
	if cli.Verbose {
		cfg.Logging.Level = "debug"
	}

	opts := app.Options{}
	if cli.Team == "custom" {
		if len(cli.ManagedAgents) == 0 {
			return 1, fmt.Errorf("--team custom requires --managed-agents")
		}
		opts.ManagedAgents = cli.ManagedAgents
	}
	if cli.Observe {
		inst, shutdown, err := observer.Init(ctx, nil)
		if err != nil {
			return 1, fmt.Errorf("observability init: %w", err)
		}
		defer shutdown(context.Background())
		opts.Instruments = inst
	}

	a, err := app.New(ctx, cfg, opts)
	if err != nil {
		return 1, err
	}
	defer a.Close(context.Background())

	kind := deepsearch.AgentKind(cfg.Service.AgentMode)

	var result *deepsearch.RunResult
	if cli.EnableStreaming {
		result, err = runStream(ctx, a, cli.Query, kind)
	} else {
		result, err = a.Runtime.Run(ctx, cli.Query, kind, deepsearch.RunOptions{})
	}
	if err != nil {
		return 1, err
	}

	if !cli.EnableStreaming {
		fmt.Println(result.FinalAnswer)
	}
	fmt.Fprint(os.Stderr, result.Summary())
	if !result.Success() {
		return 1, nil
	}
	return 0, nil
}

// runStream prints deltas to stdout as they arrive and step summaries
// to stderr, then waits for the final result.
func runStream(ctx context.Context, a *app.App, query string, kind deepsearch.AgentKind) (*deepsearch.RunResult, error) {
	events, future, err := a.Runtime.RunStream(ctx, query, kind, deepsearch.RunOptions{})
	if err != nil {
		return nil, err
	}
	for ev := range events {
		switch ev.Type {
		case deepsearch.EventDelta:
			fmt.Print(ev.Delta.Content)
		case deepsearch.EventStep:
			fmt.Fprintf(os.Stderr, "\n[%s] %s\n", ev.Step.Kind, ev.Step.Content)
		}
	}
	fmt.Println()
	return future.Wait(), nil
}
