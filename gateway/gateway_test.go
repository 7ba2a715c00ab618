package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/richinex/agentgate/cache"
	"github.com/richinex/agentgate/llm"
	"github.com/richinex/agentgate/logging"
	"github.com/richinex/agentgate/storage"
)

// fakeProvider answers with a fixed response and counts calls.
type fakeProvider struct {
	name  string
	calls atomic.Int32
	resp  llm.Response
	err   error
	delay time.Duration
}

func (f *fakeProvider) Name() string  { return f.name }
func (f *fakeProvider) Model() string { return f.name + "-model" }
func (f *fakeProvider) Generate(ctx context.Context, req llm.Request) (llm.Response, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return llm.Response{}, ctx.Err()
		}
	}
	if f.err != nil {
		return llm.Response{}, f.err
	}
	return f.resp, nil
}

type recordingSink struct {
	mu   sync.Mutex
	rows []storage.UsageRecord
}

func (s *recordingSink) RecordUsage(_ context.Context, rec storage.UsageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = append(s.rows, rec)
	return nil
}

type testEnv struct {
	gateway *Gateway
	gpt     *fakeProvider
	gemini  *fakeProvider
	cache   *cache.Memory
	clock   *time.Time
}

func newTestGateway(t *testing.T, opts ...Option) *testEnv {
	t.Helper()
	gpt := &fakeProvider{name: "openai", resp: llm.Response{
		Text:  "gpt says hi",
		Usage: llm.TokenUsage{PromptTokens: 1000, CompletionTokens: 500, TotalTokens: 1500},
	}}
	gemini := &fakeProvider{name: "google", resp: llm.Response{
		Text:  "gemini says hi",
		Usage: llm.TokenUsage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
	}}

	registry := llm.NewRegistry()
	if err := registry.Register(llm.ModelDescriptor{Name: "gpt-4o", Provider: "openai"}, gpt); err != nil {
		t.Fatal(err)
	}
	if err := registry.Register(llm.ModelDescriptor{Name: "gemini-pro", Provider: "google"}, gemini, llm.WithCacheTTL(time.Minute)); err != nil {
		t.Fatal(err)
	}

	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := &now
	nowFn := func() time.Time { return *clock }
	mem := cache.NewMemory(cache.WithClock(nowFn))

	base := []Option{
		WithCache(mem),
		WithLogger(logging.Discard()),
		withClock(nowFn),
	}
	g := New(registry, append(base, opts...)...)
	return &testEnv{gateway: g, gpt: gpt, gemini: gemini, cache: mem, clock: clock}
}

func userRequest(model, content string) llm.Request {
	return llm.Request{
		Model:       model,
		Messages:    []llm.ChatMessage{llm.UserMessage(content)},
		Temperature: 0.7,
		MaxTokens:   100,
	}
}

func TestGenerateMissThenHit(t *testing.T) {
	env := newTestGateway(t)
	ctx := context.Background()
	req := userRequest("gpt-4o", "hello")

	first, err := env.gateway.Generate(ctx, req)
	if err != nil {
		t.Fatalf("first Generate failed: %v", err)
	}
	if first.Cached {
		t.Error("first call must not be cached")
	}
	if first.Model != "gpt-4o" {
		t.Errorf("expected model_used gpt-4o, got %s", first.Model)
	}
	if want := 1000*2.50/1e6 + 500*10.00/1e6; first.CostUSD != want {
		t.Errorf("expected cost %f, got %f", want, first.CostUSD)
	}

	second, err := env.gateway.Generate(ctx, req)
	if err != nil {
		t.Fatalf("second Generate failed: %v", err)
	}
	if !second.Cached {
		t.Error("second call should be served from cache")
	}
	if second.Text != first.Text || second.Usage != first.Usage {
		t.Errorf("cached response differs: %+v vs %+v", second, first)
	}
	if env.gpt.calls.Load() != 1 {
		t.Errorf("provider should be called once, got %d", env.gpt.calls.Load())
	}

	snap := env.gateway.Metrics()
	if snap.TotalRequests != 2 || snap.CacheHits != 1 || snap.CacheMisses != 1 {
		t.Errorf("unexpected metrics %+v", snap)
	}
	if snap.TotalTokens != 1500 {
		t.Errorf("cache hits must not re-account tokens, got %d", snap.TotalTokens)
	}
}

func TestGenerateCacheExpiresWithModelTTL(t *testing.T) {
	env := newTestGateway(t)
	ctx := context.Background()
	req := userRequest("gemini-pro", "hello")

	_, _ = env.gateway.Generate(ctx, req)
	*env.clock = env.clock.Add(59 * time.Second)
	if resp, _ := env.gateway.Generate(ctx, req); !resp.Cached {
		t.Error("expected hit before TTL")
	}

	*env.clock = env.clock.Add(2 * time.Second)
	if resp, _ := env.gateway.Generate(ctx, req); resp.Cached {
		t.Error("expected miss after the model's one minute TTL")
	}
	if env.gemini.calls.Load() != 2 {
		t.Errorf("expected 2 provider calls, got %d", env.gemini.calls.Load())
	}
}

func TestGenerateResolvesByKeyword(t *testing.T) {
	env := newTestGateway(t)

	resp, err := env.gateway.Generate(context.Background(), userRequest("", "usa gemini, suma 2 y 3"))
	if err != nil {
		t.Fatal(err)
	}
	if resp.Model != "gemini-pro" {
		t.Errorf("expected gemini-pro, got %s", resp.Model)
	}
}

func TestGenerateUnknownModel(t *testing.T) {
	env := newTestGateway(t)

	_, err := env.gateway.Generate(context.Background(), userRequest("gpt-5", "hi"))
	var unknown *llm.UnknownModelError
	if !errors.As(err, &unknown) {
		t.Fatalf("expected UnknownModelError, got %v", err)
	}
	if snap := env.gateway.Metrics(); snap.TotalRequests != 1 || snap.Errors != 1 {
		t.Errorf("failed calls must be recorded once, got %+v", snap)
	}

	if _, err := env.gateway.Generate(context.Background(), userRequest("gpt-4o", "hi")); err != nil {
		t.Fatal(err)
	}
	if _, err := env.gateway.Generate(context.Background(), userRequest("gpt-4o", "hi")); err != nil {
		t.Fatal(err)
	}
	snap := env.gateway.Metrics()
	if snap.CacheHits != 1 || snap.CacheMisses != 1 || snap.CacheHitRatio != 0.5 {
		t.Errorf("unknown-model calls must not count as cache misses, got %+v", snap)
	}
}

func TestGenerateProviderErrorNotCached(t *testing.T) {
	env := newTestGateway(t)
	env.gpt.err = &llm.ProviderError{Provider: "openai", Cause: llm.CauseQuota, Err: errors.New("rate limited")}
	ctx := context.Background()
	req := userRequest("gpt-4o", "hi")

	_, err := env.gateway.Generate(ctx, req)
	var perr *llm.ProviderError
	if !errors.As(err, &perr) || perr.Cause != llm.CauseQuota {
		t.Fatalf("expected quota ProviderError, got %v", err)
	}

	env.gpt.err = nil
	resp, err := env.gateway.Generate(ctx, req)
	if err != nil {
		t.Fatal(err)
	}
	if resp.Cached {
		t.Error("errors must never be cached")
	}

	snap := env.gateway.Metrics()
	if snap.TotalRequests != 2 || snap.Errors != 1 {
		t.Errorf("unexpected metrics %+v", snap)
	}
}

func TestGenerateProviderTimeout(t *testing.T) {
	env := newTestGateway(t, WithProviderTimeout(20*time.Millisecond))
	env.gpt.delay = time.Second

	_, err := env.gateway.Generate(context.Background(), userRequest("gpt-4o", "hi"))
	var perr *llm.ProviderError
	if !errors.As(err, &perr) {
		t.Fatalf("expected ProviderError, got %v", err)
	}
	if perr.Cause != llm.CauseTimeout {
		t.Errorf("expected timeout cause, got %s", perr.Cause)
	}
}

func TestGenerateEvictsCorruptedEntry(t *testing.T) {
	env := newTestGateway(t)
	ctx := context.Background()
	req := userRequest("gpt-4o", "hello")

	req = req.WithDefaults()
	key := Fingerprint("gpt-4o", req)
	_ = env.cache.Put(ctx, key, []byte("{not json"), time.Hour)

	resp, err := env.gateway.Generate(ctx, req)
	if err != nil {
		t.Fatalf("corruption must not surface, got %v", err)
	}
	if resp.Cached {
		t.Error("corrupted entry must be treated as a miss")
	}
	if env.gpt.calls.Load() != 1 {
		t.Errorf("expected provider call after corruption, got %d", env.gpt.calls.Load())
	}

	data, ok, _ := env.cache.Get(ctx, key)
	if !ok || !json.Valid(data) {
		t.Error("corrupted entry should be replaced by the fresh response")
	}
}

func TestGenerateWithoutCache(t *testing.T) {
	env := newTestGateway(t, WithCache(nil))
	ctx := context.Background()
	req := userRequest("gpt-4o", "hello")

	_, _ = env.gateway.Generate(ctx, req)
	resp, _ := env.gateway.Generate(ctx, req)
	if resp.Cached || env.gpt.calls.Load() != 2 {
		t.Error("disabled cache must always call the provider")
	}
	if err := env.gateway.ClearCache(ctx); err != nil {
		t.Errorf("ClearCache without cache should be a no-op, got %v", err)
	}
}

func TestClearCacheAndResetMetrics(t *testing.T) {
	env := newTestGateway(t)
	ctx := context.Background()
	req := userRequest("gpt-4o", "hello")

	_, _ = env.gateway.Generate(ctx, req)
	if err := env.gateway.ClearCache(ctx); err != nil {
		t.Fatal(err)
	}
	if resp, _ := env.gateway.Generate(ctx, req); resp.Cached {
		t.Error("expected miss after ClearCache")
	}

	env.gateway.ResetMetrics()
	if snap := env.gateway.Metrics(); snap.TotalRequests != 0 {
		t.Errorf("expected reset metrics, got %+v", snap)
	}
}

func TestUsageSinkReceivesEveryCall(t *testing.T) {
	sink := &recordingSink{}
	env := newTestGateway(t, WithUsageSink(sink))
	ctx := logging.WithRequestID(context.Background(), "req-1")
	req := userRequest("gpt-4o", "hello")

	_, _ = env.gateway.Generate(ctx, req)
	_, _ = env.gateway.Generate(ctx, req)

	if len(sink.rows) != 2 {
		t.Fatalf("expected 2 ledger rows, got %d", len(sink.rows))
	}
	if sink.rows[0].Cached || !sink.rows[1].Cached {
		t.Errorf("unexpected cached flags: %+v", sink.rows)
	}
	if sink.rows[0].RequestID != "req-1" || sink.rows[0].Provider != "openai" {
		t.Errorf("unexpected row %+v", sink.rows[0])
	}
}

func TestMetricsCountEveryConcurrentCall(t *testing.T) {
	env := newTestGateway(t)
	ctx := context.Background()

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _ = env.gateway.Generate(ctx, userRequest("gpt-4o", []string{"a", "b", "c"}[i%3]))
		}(i)
	}
	wg.Wait()

	snap := env.gateway.Metrics()
	if snap.TotalRequests != n {
		t.Errorf("expected %d requests, got %d", n, snap.TotalRequests)
	}
	if snap.CacheHitRatio < 0 || snap.CacheHitRatio > 1 {
		t.Errorf("hit ratio out of bounds: %f", snap.CacheHitRatio)
	}
}

func TestDetectModelAndModels(t *testing.T) {
	env := newTestGateway(t)
	ctx := context.Background()

	desc, ok := env.gateway.DetectModel(ctx, "please use GEMINI")
	if !ok || desc.Name != "gemini-pro" {
		t.Errorf("expected gemini-pro, got %+v (ok=%v)", desc, ok)
	}
	if _, ok := env.gateway.DetectModel(ctx, "Suma 5 y 3"); ok {
		t.Error("expected no detection")
	}

	models, _ := env.gateway.Models(ctx)
	if len(models) != 2 || models[0].Name != "gpt-4o" {
		t.Errorf("unexpected models %+v", models)
	}
}
