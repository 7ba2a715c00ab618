// Agent and gateway assembly for CLI commands.
//
// Information Hiding:
// - Provider construction from settings hidden
// - Cache backend selection hidden
// - Toolbox connection details hidden

package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/richinex/agentgate/agent"
	"github.com/richinex/agentgate/cache"
	"github.com/richinex/agentgate/config"
	"github.com/richinex/agentgate/gateway"
	"github.com/richinex/agentgate/llm"
	"github.com/richinex/agentgate/logging"
	"github.com/richinex/agentgate/mcp"
	"github.com/richinex/agentgate/storage"
	"github.com/richinex/agentgate/tools"
)

// BuildRegistry registers every configured model whose API key is
// available. Models without a key are skipped with a warning.
func BuildRegistry(s config.Settings, logger *slog.Logger) (*llm.Registry, error) {
	registry := llm.NewRegistry()

	for _, p := range s.Providers {
		providerType, err := llm.ParseProviderType(p.Provider)
		if err != nil {
			return nil, fmt.Errorf("model %s: %w", p.Name, err)
		}
		apiKey, err := config.APIKeyFor(p)
		if err != nil {
			logger.Warn("skipping model", "model", p.Name, "reason", err)
			continue
		}

		builder := providerType.Model(p.Model).BaseURL(p.BaseURL)
		if s.Agent.MaxTokens > 0 {
			builder = builder.MaxTokens(uint32(s.Agent.MaxTokens))
		}
		provider, err := builder.APIKey(apiKey)
		if err != nil {
			return nil, fmt.Errorf("model %s: %w", p.Name, err)
		}

		var opts []llm.ModelOption
		if p.CacheTTL > 0 {
			opts = append(opts, llm.WithCacheTTL(p.CacheTTL))
		}
		desc := llm.ModelDescriptor{Name: p.Name, Provider: providerType.String(), Description: p.Description}
		if err := registry.Register(desc, provider, opts...); err != nil {
			return nil, err
		}
	}

	if registry.Len() == 0 {
		return nil, errors.New("no models available: set at least one provider API key")
	}
	if s.Gateway.DefaultModel != "" {
		if err := registry.SetDefault(s.Gateway.DefaultModel); err != nil {
			logger.Warn("default model unavailable, using first registered", "model", s.Gateway.DefaultModel)
		}
	}
	return registry, nil
}

// NewCache returns the configured response cache. A nil cache with a nil
// error means caching is disabled.
func NewCache(ctx context.Context, c config.CacheConfig) (cache.Cache, func() error, error) {
	noop := func() error { return nil }
	if !c.Enabled {
		return nil, noop, nil
	}

	switch c.Backend {
	case "redis":
		r, err := cache.NewRedis(ctx, cache.RedisConfig{
			Address:  c.Redis.Addr,
			Password: c.Redis.Password,
			DB:       c.Redis.DB,
			Prefix:   c.Redis.Prefix,
		})
		if err != nil {
			return nil, noop, err
		}
		return r, r.Close, nil
	default:
		return cache.NewMemory(cache.WithMaxEntries(c.MaxEntries)), noop, nil
	}
}

// NewGateway assembles the in-process gateway. usage may be nil.
func NewGateway(ctx context.Context, s config.Settings, usage gateway.UsageSink) (*gateway.Gateway, func() error, error) {
	logger := logging.Named("gateway")

	registry, err := BuildRegistry(s, logger)
	if err != nil {
		return nil, nil, err
	}
	c, closeCache, err := NewCache(ctx, s.Gateway.Cache)
	if err != nil {
		return nil, nil, err
	}

	opts := []gateway.Option{
		gateway.WithCache(c),
		gateway.WithDefaultTTL(s.Gateway.Cache.TTL),
		gateway.WithProviderTimeout(s.Gateway.ProviderTimeout),
		gateway.WithLogger(logger),
	}
	if usage != nil {
		opts = append(opts, gateway.WithUsageSink(usage))
	}
	return gateway.New(registry, opts...), closeCache, nil
}

// OpenTools connects the configured toolboxes. Both an HTTP toolbox and
// stdio MCP servers may be configured; their tools are merged. A nil
// invoker means no toolbox is configured.
func OpenTools(ctx context.Context, t config.ToolboxConfig) (tools.Invoker, func() error, error) {
	noop := func() error { return nil }
	var invokers []tools.Invoker

	if t.URL != "" {
		invokers = append(invokers, mcp.NewHTTPClient(t.URL, nil))
	}

	closeFn := noop
	if t.MCPConfig != "" {
		cfg, err := mcp.LoadConfig(t.MCPConfig)
		if err != nil {
			return nil, noop, err
		}
		session, err := cfg.StartAll(ctx)
		if err != nil {
			return nil, noop, err
		}
		invokers = append(invokers, session)
		closeFn = session.Close
	}

	switch len(invokers) {
	case 0:
		return nil, closeFn, nil
	case 1:
		return invokers[0], closeFn, nil
	default:
		return tools.NewMulti(invokers...), closeFn, nil
	}
}

// CreateAgent builds an agent from the agent settings.
func CreateAgent(s config.AgentConfig, gw agent.Gateway, inv tools.Invoker, runs agent.RunRecorder) (*agent.Agent, error) {
	b := agent.NewBuilder(gw).
		Name("agentgate").
		MaxIterations(s.MaxIterations).
		Temperature(s.Temperature).
		MaxTokens(s.MaxTokens).
		ToolMode(agent.ToolMode(s.ToolMode)).
		ToolTimeout(s.ToolTimeout).
		ToolAttempts(s.ToolAttempts).
		Logger(logging.Named("agent"))
	if inv != nil {
		b = b.Tools(inv)
	}
	if runs != nil {
		b = b.Runs(runs)
	}
	return b.Build()
}

// openStorage opens the ledger, or returns nil when no path is configured.
func openStorage(s config.StorageConfig) (*storage.SqliteStorage, error) {
	if s.Path == "" {
		return nil, nil
	}
	store, err := storage.OpenSqlite(s.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return store, nil
}
