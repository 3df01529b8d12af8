package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Service Service `toml:"service"`
	Models  Models  `toml:"models"`
	Agents  Agents  `toml:"agents"`
	Tools   Tools   `toml:"tools"`
	Cache   Cache   `toml:"cache"`
	Logging Logging `toml:"logging"`
	Keys    Keys    `toml:"-"` // env only, never from TOML
}

type Service struct {
	Host      string `toml:"host"`
	Port      int    `toml:"port"`
	Version   string `toml:"version"`
	AgentMode string `toml:"deepsearch_agent_mode"` // react | codact | manager
}

type Models struct {
	OrchestratorID string `toml:"orchestrator_id"`
	SearchID       string `toml:"search_id"`
	RerankerType   string `toml:"reranker_type"`
}

type Agents struct {
	Common  CommonAgent  `toml:"common"`
	React   ReactAgent   `toml:"react"`
	Codact  CodactAgent  `toml:"codact"`
	Manager ManagerAgent `toml:"manager"`
}

type CommonAgent struct {
	VerboseToolCallbacks bool `toml:"verbose_tool_callbacks"`
}

type ReactAgent struct {
	MaxSteps         int `toml:"max_steps"`
	PlanningInterval int `toml:"planning_interval"`
	MaxToolThreads   int `toml:"max_tool_threads"`
}

type CodactAgent struct {
	MaxSteps                    int               `toml:"max_steps"`
	VerbosityLevel              int               `toml:"verbosity_level"`
	PlanningInterval            int               `toml:"planning_interval"`
	ExecutorType                string            `toml:"executor_type"` // local | docker | e2b
	AdditionalAuthorizedImports []string          `toml:"additional_authorized_imports"`
	ExecutorKwargs              map[string]string `toml:"executor_kwargs"`
	UseStructuredOutputs        bool              `toml:"use_structured_outputs"`
}

type ManagerAgent struct {
	Enabled              bool     `toml:"enabled"`
	MaxDelegationDepth   int      `toml:"max_delegation_depth"`
	DefaultManagedAgents []string `toml:"default_managed_agents"`
}

type Tools struct {
	HubCollections  []string          `toml:"hub_collections"`
	TrustRemoteCode bool              `toml:"trust_remote_code"`
	MCPServers      []MCPServer       `toml:"mcp_servers"`
	Specific        map[string]string `toml:"specific"`
}

type MCPServer struct {
	Name    string   `toml:"name"`
	Command string   `toml:"command"`
	Args    []string `toml:"args"`
	Env     []string `toml:"env"`
}

type Cache struct {
	Backend  string `toml:"backend"` // sqlite | postgres | off
	Path     string `toml:"path"`    // sqlite file, ":memory:" for tests
	DSN      string `toml:"dsn"`     // postgres connection string
	TTLHours int    `toml:"ttl_hours"`
}

type Logging struct {
	Level  string `toml:"level"`  // debug | info | warn | error
	Format string `toml:"format"` // text | json
}

// Keys holds the provider credentials. Environment only; a missing
// mandatory key skips the dependent tool at assembly time.
type Keys struct {
	LiteLLMMasterKey string
	LiteLLMBaseURL   string
	SerperAPIKey     string
	JinaAPIKey       string
	XAIAPIKey        string
	WolframAppID     string
	HFToken          string
}

// Default returns a Config with all defaults applied.
func Default() Config {
	return Config{
		Service: Service{
			Host:      "127.0.0.1",
			Port:      8765,
			Version:   "dev",
			AgentMode: "codact",
		},
		Models: Models{
			OrchestratorID: "openai/gpt-5.1",
			SearchID:       "openai/gpt-5-search-api",
		},
		Agents: Agents{
			React:  ReactAgent{MaxSteps: 25, PlanningInterval: 7, MaxToolThreads: 4},
			Codact: CodactAgent{MaxSteps: 25, PlanningInterval: 5, ExecutorType: "local"},
			Manager: ManagerAgent{
				Enabled:              true,
				MaxDelegationDepth:   3,
				DefaultManagedAgents: []string{"react", "codact"},
			},
		},
		Cache:   Cache{Backend: "sqlite", Path: "deepsearch-cache.db", TTLHours: 24},
		Logging: Logging{Level: "info", Format: "text"},
	}
}

// Load reads config: defaults -> TOML file -> env vars (env wins).
// A missing file is fine; a present-but-broken file is an error.
func Load(path string) (Config, error) {
	cfg := Default()

	if path == "" {
		path = "config.toml"
		if _, err := os.Stat(path); err != nil {
			path = ""
		}
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("DEEPSEARCH_AGENT_MODE"); v != "" {
		cfg.Service.AgentMode = v
	}
	if v := os.Getenv("DEEPSEARCH_ORCHESTRATOR_ID"); v != "" {
		cfg.Models.OrchestratorID = v
	}
	if v := os.Getenv("DEEPSEARCH_SEARCH_ID"); v != "" {
		cfg.Models.SearchID = v
	}
	if v := os.Getenv("DEEPSEARCH_RERANKER_TYPE"); v != "" {
		cfg.Models.RerankerType = v
	}
	if v := os.Getenv("DEEPSEARCH_EXECUTOR_TYPE"); v != "" {
		cfg.Agents.Codact.ExecutorType = v
	}
	if v := os.Getenv("DEEPSEARCH_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	cfg.Keys = Keys{
		LiteLLMMasterKey: os.Getenv("LITELLM_MASTER_KEY"),
		LiteLLMBaseURL:   os.Getenv("LITELLM_BASE_URL"),
		SerperAPIKey:     os.Getenv("SERPER_API_KEY"),
		JinaAPIKey:       os.Getenv("JINA_API_KEY"),
		XAIAPIKey:        os.Getenv("XAI_API_KEY"),
		WolframAppID:     os.Getenv("WOLFRAM_ALPHA_APP_ID"),
		HFToken:          os.Getenv("HF_TOKEN"),
	}
}

// Validate rejects configurations the runtime could not start with.
func (c Config) Validate() error {
	switch c.Service.AgentMode {
	case "react", "codact", "manager":
	default:
		return fmt.Errorf("config: unknown agent mode %q", c.Service.AgentMode)
	}
	switch c.Agents.Codact.ExecutorType {
	case "local", "docker", "e2b":
	default:
		return fmt.Errorf("config: unknown executor type %q", c.Agents.Codact.ExecutorType)
	}
	if c.Agents.React.MaxSteps <= 0 || c.Agents.Codact.MaxSteps <= 0 {
		return fmt.Errorf("config: max_steps must be positive")
	}
	if c.Agents.Manager.MaxDelegationDepth <= 0 {
		return fmt.Errorf("config: max_delegation_depth must be positive")
	}
	switch c.Cache.Backend {
	case "sqlite", "postgres", "off":
	default:
		return fmt.Errorf("config: unknown cache backend %q", c.Cache.Backend)
	}
	return nil
}
