// Package app assembles a deepsearch Runtime from configuration:
// model handles behind the router, the tool registry with API-key
// gating, the cache backend, sandbox backends, and the three loop
// factories.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	deepsearch "github.com/deepsearch-ai/deepsearch"
	"github.com/deepsearch-ai/deepsearch/cache"
	"github.com/deepsearch-ai/deepsearch/code"
	"github.com/deepsearch-ai/deepsearch/internal/config"
	"github.com/deepsearch-ai/deepsearch/llm/litellm"
	"github.com/deepsearch-ai/deepsearch/observer"
	"github.com/deepsearch-ai/deepsearch/tools/chunk"
	"github.com/deepsearch-ai/deepsearch/tools/embed"
	"github.com/deepsearch-ai/deepsearch/tools/finalanswer"
	mcptools "github.com/deepsearch-ai/deepsearch/tools/mcp"
	"github.com/deepsearch-ai/deepsearch/tools/readurl"
	"github.com/deepsearch-ai/deepsearch/tools/rerank"
	"github.com/deepsearch-ai/deepsearch/tools/search"
	"github.com/deepsearch-ai/deepsearch/tools/wolfram"
)

const defaultLiteLLMBase = "http://localhost:4000"

// Options adjust assembly beyond what the config file carries.
type Options struct {
	// Instruments wires OTEL instrumentation around models, tools,
	// sandboxes and agents. Nil disables observability.
	Instruments *observer.Instruments
	// ManagedAgents overrides the manager's default team.
	ManagedAgents []string
	// Logger replaces the logger built from config.Logging.
	Logger *slog.Logger
}

// App owns the assembled runtime and every resource behind it.
type App struct {
	Runtime *deepsearch.Runtime
	Config  config.Config
	Logger  *slog.Logger

	router *deepsearch.ModelRouter
	inst   *observer.Instruments
	cache  cache.Cache
	pool   *pgxpool.Pool

	mu         sync.Mutex
	mcpClients []*mcptools.Client
	sandboxes  []deepsearch.SandboxGateway
}

// New builds the full runtime. Missing mandatory API keys skip the
// dependent tools and are reported through Runtime.MissingAPIKeys;
// construction itself only fails on programmer or environment errors.
func New(ctx context.Context, cfg config.Config, opts Options) (*App, error) {
	logger := opts.Logger
	if logger == nil {
		logger = newLogger(cfg.Logging)
	}

	a := &App{
		Config: cfg,
		Logger: logger,
		inst:   opts.Instruments,
	}

	if err := a.buildCache(ctx); err != nil {
		return nil, err
	}

	registry, missing, err := a.buildRegistry(ctx)
	if err != nil {
		a.Close(ctx)
		return nil, err
	}

	a.router = a.buildRouter(cfg, &missing)

	rt := deepsearch.NewRuntime(registry,
		deepsearch.WithRuntimeLogger(logger),
		deepsearch.WithMissingAPIKeys(missing),
	)
	a.Runtime = rt
	if len(missing) > 0 {
		logger.Warn("missing API keys, dependent tools skipped", "providers", missing)
	}

	team := cfg.Agents.Manager.DefaultManagedAgents
	if len(opts.ManagedAgents) > 0 {
		team = opts.ManagedAgents
	}

	if err := a.registerFactories(rt, registry, team); err != nil {
		a.Close(ctx)
		return nil, err
	}
	return a, nil
}

// Close releases the cache, MCP connections, and every sandbox built
// for code-acting agents.
func (a *App) Close(ctx context.Context) error {
	a.mu.Lock()
	clients := a.mcpClients
	sandboxes := a.sandboxes
	a.mcpClients, a.sandboxes = nil, nil
	a.mu.Unlock()

	var errs []error
	for _, sb := range sandboxes {
		errs = append(errs, sb.Close())
	}
	for _, c := range clients {
		errs = append(errs, c.Close())
	}
	if a.cache != nil {
		errs = append(errs, a.cache.Close())
	}
	if a.pool != nil {
		a.pool.Close()
	}
	return errors.Join(errs...)
}

// --- logging ---

func newLogger(cfg config.Logging) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	ho := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, ho))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, ho))
}

// --- cache ---

func (a *App) buildCache(ctx context.Context) error {
	switch a.Config.Cache.Backend {
	case "off":
		a.cache = cache.Nop{}
		return nil
	case "postgres":
		pool, err := pgxpool.New(ctx, a.Config.Cache.DSN)
		if err != nil {
			return fmt.Errorf("cache: connect postgres: %w", err)
		}
		pg := cache.NewPostgres(pool)
		if err := pg.Init(ctx); err != nil {
			pool.Close()
			return fmt.Errorf("cache: init postgres: %w", err)
		}
		a.pool = pool
		a.cache = pg
		return nil
	default: // sqlite
		db := cache.NewSQLite(a.Config.Cache.Path, cache.WithLogger(a.Logger))
		if err := db.Init(ctx); err != nil {
			return fmt.Errorf("cache: init sqlite: %w", err)
		}
		a.cache = db
		return nil
	}
}

// --- tools ---

// buildRegistry registers every tool whose provider key is present.
// The returned missing list names the providers that were skipped.
func (a *App) buildRegistry(ctx context.Context) (*deepsearch.Registry, []string, error) {
	keys := a.Config.Keys
	registry := deepsearch.NewRegistry()
	ttl := time.Duration(a.Config.Cache.TTLHours) * time.Hour
	var missing []string

	add := func(t deepsearch.Tool) error {
		if toolDisabled(a.Config.Tools.Specific, t.Descriptor().Name) {
			a.Logger.Info("tool disabled by config", "tool", t.Descriptor().Name)
			return nil
		}
		if a.inst != nil {
			t = observer.WrapTool(t, a.inst)
		}
		return registry.Register(t)
	}

	// Keyless builtins.
	if err := add(readurl.New(readurl.WithCache(a.cache), readurl.WithCacheTTL(ttl))); err != nil {
		return nil, nil, err
	}
	if err := add(chunk.New()); err != nil {
		return nil, nil, err
	}
	if err := add(finalanswer.New()); err != nil {
		return nil, nil, err
	}

	if keys.SerperAPIKey != "" {
		if err := add(search.NewSerper(keys.SerperAPIKey, search.WithCache(a.cache), search.WithCacheTTL(ttl))); err != nil {
			return nil, nil, err
		}
		if err := add(search.NewFast(keys.SerperAPIKey, search.WithCache(a.cache), search.WithCacheTTL(ttl))); err != nil {
			return nil, nil, err
		}
	} else {
		missing = append(missing, "serper")
	}

	if keys.XAIAPIKey != "" {
		if err := add(search.NewXCom(keys.XAIAPIKey)); err != nil {
			return nil, nil, err
		}
	} else {
		missing = append(missing, "xai")
	}

	if keys.JinaAPIKey != "" {
		if err := add(embed.New(keys.JinaAPIKey)); err != nil {
			return nil, nil, err
		}
		if err := add(rerank.New(keys.JinaAPIKey)); err != nil {
			return nil, nil, err
		}
	} else {
		missing = append(missing, "jina")
	}

	if keys.WolframAppID != "" {
		if err := add(wolfram.New(keys.WolframAppID)); err != nil {
			return nil, nil, err
		}
	} else {
		missing = append(missing, "wolfram")
	}

	if len(a.Config.Tools.HubCollections) > 0 && keys.HFToken == "" {
		a.Logger.Warn("hub collections configured without HF_TOKEN, skipping")
	}

	// Tools from configured MCP servers. A server that fails to start
	// is logged and skipped rather than failing assembly.
	for _, srv := range a.Config.Tools.MCPServers {
		client, err := mcptools.Connect(ctx, srv.Name, srv.Command, srv.Env, srv.Args...)
		if err != nil {
			a.Logger.Warn("mcp server unavailable", "server", srv.Name, "err", err)
			continue
		}
		tools, err := client.Tools(ctx)
		if err != nil {
			a.Logger.Warn("mcp server tool listing failed", "server", srv.Name, "err", err)
			client.Close()
			continue
		}
		a.mu.Lock()
		a.mcpClients = append(a.mcpClients, client)
		a.mu.Unlock()
		for _, t := range tools {
			if err := add(t); err != nil {
				return nil, nil, err
			}
		}
		a.Logger.Info("mcp server connected", "server", srv.Name, "tools", len(tools))
	}

	return registry, missing, nil
}

// toolDisabled reports whether tools.specific turns name off.
func toolDisabled(specific map[string]string, name string) bool {
	switch strings.ToLower(specific[name]) {
	case "off", "false", "disabled":
		return true
	}
	return false
}

// --- models ---

func (a *App) buildRouter(cfg config.Config, missing *[]string) *deepsearch.ModelRouter {
	if cfg.Keys.LiteLLMMasterKey == "" {
		*missing = append(*missing, "litellm")
	}
	baseURL := cfg.Keys.LiteLLMBaseURL
	if baseURL == "" {
		baseURL = defaultLiteLLMBase
	}

	build := func(id string) deepsearch.Model {
		var m deepsearch.Model = litellm.New(baseURL, cfg.Keys.LiteLLMMasterKey, id)
		if a.inst != nil {
			m = observer.WrapModel(m, a.inst)
		}
		return deepsearch.WithRetry(m, deepsearch.RetryLogger(a.Logger))
	}

	return deepsearch.NewModelRouter(
		build(cfg.Models.SearchID),
		build(cfg.Models.OrchestratorID),
		deepsearch.WithRouterLogger(a.Logger),
	)
}

// --- sandboxes ---

// newSandbox builds one backend per code-acting agent instance, chosen
// by executor_type. Instances are tracked for Close.
func (a *App) newSandbox() (deepsearch.SandboxGateway, error) {
	kw := a.Config.Agents.Codact.ExecutorKwargs
	var opts []code.Option
	if ws := kw["workspace"]; ws != "" {
		opts = append(opts, code.WithWorkspace(ws))
	}
	if py := kw["python_bin"]; py != "" {
		opts = append(opts, code.WithPythonBin(py))
	}
	if img := kw["image"]; img != "" {
		opts = append(opts, code.WithImage(img))
	}

	var sb deepsearch.SandboxGateway
	switch a.Config.Agents.Codact.ExecutorType {
	case "docker":
		sb = code.NewDockerSandbox(opts...)
	case "e2b":
		base := kw["base_url"]
		if base == "" {
			return nil, fmt.Errorf("e2b executor requires executor_kwargs.base_url")
		}
		sb = code.NewE2BSandbox(base, opts...)
	default:
		sb = code.NewLocalSandbox(opts...)
	}
	if a.inst != nil {
		sb = observer.WrapSandbox(sb, a.inst)
	}

	a.mu.Lock()
	a.sandboxes = append(a.sandboxes, sb)
	a.mu.Unlock()
	return sb, nil
}

// --- agent factories ---

func (a *App) commonOpts() []deepsearch.AgentOption {
	opts := []deepsearch.AgentOption{deepsearch.WithLogger(a.Logger)}
	if a.inst != nil {
		opts = append(opts, deepsearch.WithTracer(observer.NewTracer()))
	}
	return opts
}

func (a *App) reactOpts(extra ...deepsearch.AgentOption) []deepsearch.AgentOption {
	cfg := a.Config.Agents.React
	opts := append(a.commonOpts(),
		deepsearch.WithMaxSteps(cfg.MaxSteps),
		deepsearch.WithPlanningInterval(cfg.PlanningInterval),
		deepsearch.WithMaxToolThreads(cfg.MaxToolThreads),
	)
	return append(opts, extra...)
}

func (a *App) codactOpts(extra ...deepsearch.AgentOption) []deepsearch.AgentOption {
	cfg := a.Config.Agents.Codact
	opts := append(a.commonOpts(),
		deepsearch.WithMaxSteps(cfg.MaxSteps),
		deepsearch.WithPlanningInterval(cfg.PlanningInterval),
		deepsearch.WithAuthorizedImports(cfg.AdditionalAuthorizedImports...),
		deepsearch.WithStructuredOutputs(cfg.UseStructuredOutputs),
		deepsearch.WithRerankerType(a.Config.Models.RerankerType),
		deepsearch.WithVerbosityLevel(cfg.VerbosityLevel),
	)
	return append(opts, extra...)
}

func (a *App) newReact(extra ...deepsearch.AgentOption) *deepsearch.ReactAgent {
	return deepsearch.NewReactAgent(a.router, a.Runtime.Registry(), a.reactOpts(extra...)...)
}

func (a *App) newCodact(extra ...deepsearch.AgentOption) (*deepsearch.CodactAgent, error) {
	sb, err := a.newSandbox()
	if err != nil {
		return nil, err
	}
	return deepsearch.NewCodactAgent(a.router, a.Runtime.Registry(), sb, a.codactOpts(extra...)...), nil
}

func (a *App) wrap(agent deepsearch.Agent) deepsearch.Agent {
	if a.inst != nil {
		return observer.WrapAgent(agent, a.inst)
	}
	return agent
}

func (a *App) registerFactories(rt *deepsearch.Runtime, registry *deepsearch.Registry, team []string) error {
	if err := rt.Register(deepsearch.AgentReact, func(string) (deepsearch.Agent, error) {
		return a.wrap(a.newReact()), nil
	}); err != nil {
		return err
	}

	if err := rt.Register(deepsearch.AgentCodact, func(string) (deepsearch.Agent, error) {
		agent, err := a.newCodact()
		if err != nil {
			return nil, err
		}
		return a.wrap(agent), nil
	}); err != nil {
		return err
	}

	if !a.Config.Agents.Manager.Enabled {
		return nil
	}
	return rt.Register(deepsearch.AgentManager, func(string) (deepsearch.Agent, error) {
		handles, err := a.buildTeam(team)
		if err != nil {
			return nil, err
		}
		m, err := deepsearch.NewManager(a.router, registry, handles, append(a.commonOpts(),
			deepsearch.WithMaxSteps(a.Config.Agents.React.MaxSteps),
			deepsearch.WithPlanningInterval(a.Config.Agents.React.PlanningInterval),
			deepsearch.WithMaxToolThreads(a.Config.Agents.React.MaxToolThreads),
			deepsearch.WithMaxDelegationDepth(a.Config.Agents.Manager.MaxDelegationDepth),
		)...)
		if err != nil {
			return nil, err
		}
		return a.wrap(m), nil
	})
}

// buildTeam constructs one fresh sub-agent per named kind. Sub-agents
// share the tool registry and router but never the manager's memory.
func (a *App) buildTeam(names []string) ([]deepsearch.AgentHandle, error) {
	handles := make([]deepsearch.AgentHandle, 0, len(names))
	for _, name := range names {
		switch name {
		case "react":
			handles = append(handles, a.newReact(
				deepsearch.WithName("react_agent"),
				deepsearch.WithDescription("Tool-calling research agent for web search and reading tasks."),
			))
		case "codact":
			agent, err := a.newCodact(
				deepsearch.WithName("codact_agent"),
				deepsearch.WithDescription("Code-acting agent that solves tasks by writing and executing Python."),
			)
			if err != nil {
				return nil, err
			}
			handles = append(handles, agent)
		default:
			return nil, fmt.Errorf("unknown managed agent %q", name)
		}
	}
	return handles, nil
}
