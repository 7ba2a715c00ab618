// Package gateway is the single entry point for model calls: it resolves the
// target model, serves repeated requests from the response cache, calls the
// provider on a miss and records metrics for every call.
package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/richinex/agentgate/cache"
	"github.com/richinex/agentgate/llm"
	"github.com/richinex/agentgate/logging"
	"github.com/richinex/agentgate/metrics"
	"github.com/richinex/agentgate/storage"
)

// Defaults applied when options leave them unset.
const (
	DefaultProviderTimeout = 60 * time.Second
	DefaultCacheTTL        = cache.DefaultTTL
)

// UsageSink receives one record per gateway call.
type UsageSink interface {
	RecordUsage(ctx context.Context, rec storage.UsageRecord) error
}

// Gateway fronts the registered providers. It is safe for concurrent use.
type Gateway struct {
	registry   *llm.Registry
	cache      cache.Cache
	metrics    *metrics.Collector
	prices     llm.PriceTable
	defaultTTL time.Duration
	timeout    time.Duration
	usage      UsageSink
	logger     *slog.Logger
	now        func() time.Time
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithCache sets the response cache. A nil cache disables caching.
func WithCache(c cache.Cache) Option {
	return func(g *Gateway) {
		g.cache = c
	}
}

// WithMetrics shares an existing collector.
func WithMetrics(m *metrics.Collector) Option {
	return func(g *Gateway) {
		g.metrics = m
	}
}

// WithPrices replaces the price table used for cost estimates.
func WithPrices(p llm.PriceTable) Option {
	return func(g *Gateway) {
		g.prices = p
	}
}

// WithDefaultTTL sets the cache TTL for models registered without one.
func WithDefaultTTL(ttl time.Duration) Option {
	return func(g *Gateway) {
		g.defaultTTL = ttl
	}
}

// WithProviderTimeout bounds each provider call.
func WithProviderTimeout(d time.Duration) Option {
	return func(g *Gateway) {
		g.timeout = d
	}
}

// WithUsageSink records every call to a ledger.
func WithUsageSink(s UsageSink) Option {
	return func(g *Gateway) {
		g.usage = s
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *Gateway) {
		g.logger = l
	}
}

// withClock replaces the time source, for tests.
func withClock(now func() time.Time) Option {
	return func(g *Gateway) {
		g.now = now
	}
}

// New creates a gateway over the registry with an in-memory cache.
func New(registry *llm.Registry, opts ...Option) *Gateway {
	g := &Gateway{
		registry:   registry,
		cache:      cache.NewMemory(),
		metrics:    metrics.NewCollector(),
		prices:     llm.DefaultPrices(),
		defaultTTL: DefaultCacheTTL,
		timeout:    DefaultProviderTimeout,
		logger:     logging.Named("gateway"),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Generate resolves the target model and returns its response, from the
// cache when an identical request was answered within the model's TTL.
//
// Errors are *llm.UnknownModelError or *llm.ProviderError.
func (g *Gateway) Generate(ctx context.Context, req llm.Request) (llm.Response, error) {
	start := g.now()
	req = req.WithDefaults()
	logger := logging.FromContext(ctx, g.logger)

	entry, err := g.registry.Resolve(req.Model, req.LastUserContent())
	if err != nil {
		g.record(ctx, callRecord{err: err, latency: g.now().Sub(start), unresolved: true})
		return llm.Response{}, err
	}
	name := entry.Descriptor.Name
	key := Fingerprint(name, req)

	if resp, ok := g.lookup(ctx, logger, key); ok {
		resp.Model = name
		resp.Cached = true
		resp.CostUSD = 0
		latency := g.now().Sub(start)
		resp.LatencyMs = millis(latency)
		g.record(ctx, callRecord{entry: entry, latency: latency, cached: true})
		logger.Debug("cache hit", "model", name, "fingerprint", key[:12])
		return resp, nil
	}

	callCtx := ctx
	if g.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	resp, err := entry.Provider.Generate(callCtx, req)
	latency := g.now().Sub(start)
	if err != nil {
		perr := llm.NewProviderError(entry.Provider.Name(), err)
		g.record(ctx, callRecord{entry: entry, latency: latency, err: perr})
		logger.Warn("provider call failed",
			"model", name,
			"provider", perr.Provider,
			"cause", string(perr.Cause),
			"latency_ms", millis(latency),
			"error", perr.Err,
		)
		return llm.Response{}, perr
	}

	resp.Model = name
	resp.Cached = false
	resp.LatencyMs = millis(latency)
	resp.CostUSD = g.prices.Cost(name, resp.Usage)

	g.store(ctx, logger, key, resp, entry.CacheTTL)
	g.record(ctx, callRecord{entry: entry, latency: latency, usage: resp.Usage, cost: resp.CostUSD})
	logger.Info("generate",
		"model", name,
		"cached", false,
		"tool_calls", len(resp.ToolCalls),
		"total_tokens", resp.Usage.TotalTokens,
		"latency_ms", resp.LatencyMs,
	)
	return resp, nil
}

// lookup returns a decoded cache entry. Corrupted entries are evicted and
// reported as a miss.
func (g *Gateway) lookup(ctx context.Context, logger *slog.Logger, key string) (llm.Response, bool) {
	if g.cache == nil {
		return llm.Response{}, false
	}
	data, ok, err := g.cache.Get(ctx, key)
	if err != nil {
		logger.Warn("cache lookup failed", "error", err)
		return llm.Response{}, false
	}
	if !ok {
		return llm.Response{}, false
	}

	var resp llm.Response
	if err := json.Unmarshal(data, &resp); err != nil {
		corrupt := &llm.CacheCorruptionError{Key: key, Err: err}
		logger.Warn("evicting corrupted cache entry", "error", corrupt)
		if delErr := g.cache.Delete(ctx, key); delErr != nil {
			logger.Warn("cache delete failed", "error", delErr)
		}
		return llm.Response{}, false
	}
	return resp, true
}

func (g *Gateway) store(ctx context.Context, logger *slog.Logger, key string, resp llm.Response, ttl time.Duration) {
	if g.cache == nil {
		return
	}
	if ttl <= 0 {
		ttl = g.defaultTTL
	}
	data, err := json.Marshal(resp)
	if err != nil {
		logger.Warn("cache encode failed", "error", err)
		return
	}
	if err := g.cache.Put(ctx, key, data, ttl); err != nil {
		logger.Warn("cache store failed", "error", err)
	}
}

type callRecord struct {
	entry      llm.Entry
	latency    time.Duration
	usage      llm.TokenUsage
	cost       float64
	cached     bool
	unresolved bool
	err        error
}

// record is the single metrics update for a call.
func (g *Gateway) record(ctx context.Context, rec callRecord) {
	name := rec.entry.Descriptor.Name
	g.metrics.Record(metrics.Observation{
		Model:      name,
		Usage:      rec.usage,
		CostUSD:    rec.cost,
		Latency:    rec.latency,
		CacheHit:   rec.cached,
		Unresolved: rec.unresolved,
		Err:        rec.err,
	})

	if g.usage == nil || name == "" {
		return
	}
	row := storage.UsageRecord{
		RequestID:        logging.RequestID(ctx),
		Model:            name,
		Provider:         rec.entry.Descriptor.Provider,
		PromptTokens:     int64(rec.usage.PromptTokens),
		CompletionTokens: int64(rec.usage.CompletionTokens),
		TotalTokens:      int64(rec.usage.TotalTokens),
		CostUSD:          rec.cost,
		LatencyMs:        millis(rec.latency),
		Cached:           rec.cached,
		CreatedAt:        g.now(),
	}
	if rec.err != nil {
		row.Error = rec.err.Error()
	}
	if err := g.usage.RecordUsage(context.WithoutCancel(ctx), row); err != nil {
		g.logger.Warn("usage ledger write failed", "error", err)
	}
}

// DetectModel reports the model keyword detection would pick for hint.
func (g *Gateway) DetectModel(_ context.Context, hint string) (llm.ModelDescriptor, bool) {
	return g.registry.Detect(hint)
}

// Models lists the registered models.
func (g *Gateway) Models(_ context.Context) ([]llm.ModelDescriptor, error) {
	return g.registry.Models(), nil
}

// ClearCache drops every cached response.
func (g *Gateway) ClearCache(ctx context.Context) error {
	if g.cache == nil {
		return nil
	}
	return g.cache.Clear(ctx)
}

// Metrics returns a snapshot of the collected metrics.
func (g *Gateway) Metrics() metrics.Snapshot {
	return g.metrics.Snapshot()
}

// ResetMetrics zeroes the collected metrics.
func (g *Gateway) ResetMetrics() {
	g.metrics.Reset()
}

func millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
