// Package config provides application settings.
//
// Settings are created via Load() which handles:
// - Default value application
// - Optional YAML file with ${VAR} expansion
// - Environment variable overrides with validation
// - Provider API key lookup

package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/richinex/agentgate/cache"
	"github.com/richinex/agentgate/llm"
	"github.com/richinex/agentgate/logging"
)

// Settings holds all application configuration.
type Settings struct {
	Server    ServerConfig     `yaml:"server"`
	Gateway   GatewayConfig    `yaml:"gateway"`
	Agent     AgentConfig      `yaml:"agent"`
	Toolbox   ToolboxConfig    `yaml:"toolbox"`
	Storage   StorageConfig    `yaml:"storage"`
	Log       logging.Config   `yaml:"log"`
	Providers []ProviderConfig `yaml:"providers"`
}

// ServerConfig holds the gateway HTTP server configuration.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// GatewayConfig holds gateway behavior.
type GatewayConfig struct {
	// URL points the agent at a remote gateway. Empty runs it in-process.
	URL             string        `yaml:"url"`
	DefaultModel    string        `yaml:"default_model"`
	ProviderTimeout time.Duration `yaml:"provider_timeout"`
	Cache           CacheConfig   `yaml:"cache"`
}

// CacheConfig controls the response cache.
type CacheConfig struct {
	Enabled    bool          `yaml:"enabled"`
	Backend    string        `yaml:"backend"` // memory or redis
	TTL        time.Duration `yaml:"ttl"`
	MaxEntries int           `yaml:"max_entries"`
	Redis      RedisConfig   `yaml:"redis"`
}

// RedisConfig holds the shared cache connection.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

// AgentConfig holds agent execution configuration.
type AgentConfig struct {
	MaxIterations int           `yaml:"max_iterations"`
	Temperature   float64       `yaml:"temperature"`
	MaxTokens     int           `yaml:"max_tokens"`
	ToolMode      string        `yaml:"tool_mode"`
	ToolTimeout   time.Duration `yaml:"tool_timeout"`
	ToolAttempts  int           `yaml:"tool_attempts"`
}

// ToolboxConfig locates the tools offered to the agent.
type ToolboxConfig struct {
	// URL is the HTTP toolbox base, including any route prefix.
	URL string `yaml:"url"`
	// MCPConfig is a JSON file of stdio MCP servers to launch.
	MCPConfig string `yaml:"mcp_config"`
}

// StorageConfig holds the usage and run ledger location.
type StorageConfig struct {
	Path string `yaml:"path"`
}

// ProviderConfig registers one model with the gateway.
type ProviderConfig struct {
	// Name is the model name clients ask for, e.g. gemini-pro.
	Name        string        `yaml:"name"`
	Provider    string        `yaml:"provider"`
	Model       string        `yaml:"model"`
	Description string        `yaml:"description"`
	APIKey      string        `yaml:"api_key"`
	BaseURL     string        `yaml:"base_url"`
	CacheTTL    time.Duration `yaml:"cache_ttl"`
}

// Default returns settings with every default applied.
func Default() Settings {
	return Settings{
		Server: ServerConfig{Addr: ":8003"},
		Gateway: GatewayConfig{
			DefaultModel:    llm.ModelOpenAIGPT4o,
			ProviderTimeout: 60 * time.Second,
			Cache: CacheConfig{
				Enabled:    true,
				Backend:    "memory",
				TTL:        cache.DefaultTTL,
				MaxEntries: cache.DefaultMaxEntries,
				Redis:      RedisConfig{Addr: "localhost:6379", Prefix: "agentgate:cache:"},
			},
		},
		Agent: AgentConfig{
			MaxIterations: 10,
			Temperature:   llm.DefaultTemperature,
			MaxTokens:     llm.DefaultMaxTokens,
			ToolMode:      "native",
			ToolTimeout:   30 * time.Second,
			ToolAttempts:  1,
		},
		Storage: StorageConfig{Path: "agentgate.db"},
		Log:     logging.Config{Level: "info", Format: "text", Outputs: []string{"stderr"}},
		Providers: []ProviderConfig{
			{Name: "gpt-4o", Provider: "openai", Model: llm.ModelOpenAIGPT4o, Description: "General-purpose model"},
			{Name: "gemini-pro", Provider: "google", Model: llm.ModelGeminiPro25, Description: "Long-context reasoning model"},
			{Name: "claude-haiku", Provider: "anthropic", Model: llm.ModelAnthropicClaudeHaiku35, Description: "Low-latency model"},
			{Name: "deepseek-chat", Provider: "deepseek", Model: llm.ModelDeepSeekChat, Description: "DeepSeek chat model"},
		},
	}
}

// Load builds settings from defaults, the YAML file at path (skipped when
// path is empty) and environment overrides, in that order.
func Load(path string) (Settings, error) {
	s := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Settings{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &s); err != nil {
			return Settings{}, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := s.applyEnv(); err != nil {
		return Settings{}, err
	}
	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// MustLoad is Load for callers where configuration errors are fatal.
func MustLoad(path string) Settings {
	s, err := Load(path)
	if err != nil {
		panic(fmt.Sprintf("config: %v", err))
	}
	return s
}

// applyEnv overrides settings from AGENTGATE_* variables.
func (s *Settings) applyEnv() error {
	var err error

	s.Server.Addr = getEnv("AGENTGATE_ADDR", s.Server.Addr)
	s.Gateway.URL = getEnv("AGENTGATE_GATEWAY_URL", s.Gateway.URL)
	s.Gateway.DefaultModel = getEnv("AGENTGATE_DEFAULT_MODEL", s.Gateway.DefaultModel)
	if s.Gateway.ProviderTimeout, err = getEnvDuration("AGENTGATE_PROVIDER_TIMEOUT", s.Gateway.ProviderTimeout); err != nil {
		return err
	}

	c := &s.Gateway.Cache
	if c.Enabled, err = getEnvBool("AGENTGATE_CACHE_ENABLED", c.Enabled); err != nil {
		return err
	}
	c.Backend = getEnv("AGENTGATE_CACHE_BACKEND", c.Backend)
	if c.TTL, err = getEnvDuration("AGENTGATE_CACHE_TTL", c.TTL); err != nil {
		return err
	}
	if c.MaxEntries, err = getEnvInt("AGENTGATE_CACHE_MAX_ENTRIES", c.MaxEntries); err != nil {
		return err
	}
	c.Redis.Addr = getEnv("AGENTGATE_REDIS_ADDR", c.Redis.Addr)
	c.Redis.Password = getEnv("AGENTGATE_REDIS_PASSWORD", c.Redis.Password)
	if c.Redis.DB, err = getEnvInt("AGENTGATE_REDIS_DB", c.Redis.DB); err != nil {
		return err
	}

	a := &s.Agent
	if a.MaxIterations, err = getEnvInt("AGENTGATE_MAX_ITERATIONS", a.MaxIterations); err != nil {
		return err
	}
	if a.Temperature, err = getEnvFloat64("AGENTGATE_TEMPERATURE", a.Temperature); err != nil {
		return err
	}
	if a.MaxTokens, err = getEnvInt("AGENTGATE_MAX_TOKENS", a.MaxTokens); err != nil {
		return err
	}
	a.ToolMode = getEnv("AGENTGATE_TOOL_MODE", a.ToolMode)
	if a.ToolTimeout, err = getEnvDuration("AGENTGATE_TOOL_TIMEOUT", a.ToolTimeout); err != nil {
		return err
	}

	s.Toolbox.URL = getEnv("AGENTGATE_TOOLBOX_URL", s.Toolbox.URL)
	s.Toolbox.MCPConfig = getEnv("AGENTGATE_MCP_CONFIG", s.Toolbox.MCPConfig)
	s.Storage.Path = getEnv("AGENTGATE_DB_PATH", s.Storage.Path)
	s.Log.Level = getEnv("AGENTGATE_LOG_LEVEL", s.Log.Level)
	s.Log.Format = getEnv("AGENTGATE_LOG_FORMAT", s.Log.Format)
	return nil
}

// Validate checks the settings for values that cannot work.
func (s Settings) Validate() error {
	var errs []error

	switch s.Gateway.Cache.Backend {
	case "memory", "redis":
	default:
		errs = append(errs, fmt.Errorf("unknown cache backend %q", s.Gateway.Cache.Backend))
	}
	if s.Gateway.Cache.TTL < 0 {
		errs = append(errs, fmt.Errorf("cache ttl must not be negative"))
	}
	if s.Agent.MaxIterations < 1 {
		errs = append(errs, fmt.Errorf("agent max_iterations must be at least 1, got %d", s.Agent.MaxIterations))
	}
	if s.Agent.Temperature < 0 || s.Agent.Temperature > 2 {
		errs = append(errs, fmt.Errorf("agent temperature must be between 0 and 2, got %g", s.Agent.Temperature))
	}
	switch s.Agent.ToolMode {
	case "native", "text":
	default:
		errs = append(errs, fmt.Errorf("unknown tool mode %q", s.Agent.ToolMode))
	}

	seen := make(map[string]bool, len(s.Providers))
	for _, p := range s.Providers {
		if p.Name == "" {
			errs = append(errs, errors.New("provider entry without a name"))
			continue
		}
		if seen[p.Name] {
			errs = append(errs, fmt.Errorf("model %s is configured twice", p.Name))
		}
		seen[p.Name] = true
		if _, err := llm.ParseProviderType(p.Provider); err != nil {
			errs = append(errs, fmt.Errorf("model %s: %w", p.Name, err))
		}
	}
	return errors.Join(errs...)
}

// APIKeyFor returns the API key for a configured model, falling back to
// the provider's environment variable.
func APIKeyFor(p ProviderConfig) (string, error) {
	if p.APIKey != "" {
		return p.APIKey, nil
	}
	pt, err := llm.ParseProviderType(p.Provider)
	if err != nil {
		return "", err
	}
	key := os.Getenv(pt.EnvVar())
	if key == "" {
		return "", fmt.Errorf("%s environment variable not set", pt.EnvVar())
	}
	return key, nil
}

// Environment variable helpers with proper error handling

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	i, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("invalid value for %s: %q: %w", key, val, err)
	}
	return i, nil
}

func getEnvFloat64(key string, defaultVal float64) (float64, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid value for %s: %q: %w", key, val, err)
	}
	return f, nil
}

func getEnvBool(key string, defaultVal bool) (bool, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(strings.ToLower(val))
	if err != nil {
		return false, fmt.Errorf("invalid value for %s: %q: %w", key, val, err)
	}
	return b, nil
}

// getEnvDuration accepts Go durations ("90s") and bare seconds ("3600").
func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	if secs, err := strconv.Atoi(val); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("invalid value for %s: %q: %w", key, val, err)
	}
	return d, nil
}
