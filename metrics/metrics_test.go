package metrics

import (
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/richinex/agentgate/llm"
)

func TestCollectorEmptySnapshot(t *testing.T) {
	s := NewCollector().Snapshot()
	if s.TotalRequests != 0 || s.CacheHitRatio != 0 || s.AvgLatencyMs != 0 {
		t.Errorf("expected zero snapshot, got %+v", s)
	}
	if s.RequestsByModel == nil {
		t.Error("maps should be non-nil for JSON encoding")
	}
}

func TestCollectorRecord(t *testing.T) {
	c := NewCollector()

	c.Record(Observation{
		Model:   "gpt-4o",
		Usage:   llm.TokenUsage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
		CostUSD: 0.01,
		Latency: 100 * time.Millisecond,
	})
	c.Record(Observation{
		Model:    "gpt-4o",
		Latency:  0,
		CacheHit: true,
	})
	c.Record(Observation{
		Model:   "gemini-pro",
		Usage:   llm.TokenUsage{TotalTokens: 20},
		CostUSD: 0.02,
		Latency: 200 * time.Millisecond,
	})
	c.Record(Observation{
		Model:   "claude-haiku",
		Latency: 300 * time.Millisecond,
		Err:     errors.New("quota"),
	})

	s := c.Snapshot()
	if s.TotalRequests != 4 {
		t.Errorf("expected 4 requests, got %d", s.TotalRequests)
	}
	if s.TotalTokens != 35 {
		t.Errorf("expected 35 tokens, got %d", s.TotalTokens)
	}
	if math.Abs(s.TotalCostUSD-0.03) > 1e-9 {
		t.Errorf("expected cost 0.03, got %f", s.TotalCostUSD)
	}
	if math.Abs(s.AvgLatencyMs-150) > 1e-9 {
		t.Errorf("expected average latency 150ms, got %f", s.AvgLatencyMs)
	}
	if s.CacheHits != 1 || s.CacheMisses != 3 {
		t.Errorf("expected 1 hit / 3 misses, got %d / %d", s.CacheHits, s.CacheMisses)
	}
	if s.CacheHitRatio != 0.25 {
		t.Errorf("expected hit ratio 0.25, got %f", s.CacheHitRatio)
	}
	if s.Errors != 1 {
		t.Errorf("expected 1 error, got %d", s.Errors)
	}
	if s.RequestsByModel["gpt-4o"] != 2 || s.RequestsByModel["gemini-pro"] != 1 {
		t.Errorf("unexpected per-model counts: %v", s.RequestsByModel)
	}
}

func TestCollectorUnresolvedCallsSkipCacheCounters(t *testing.T) {
	c := NewCollector()
	c.Record(Observation{CacheHit: true, Model: "gpt-4o"})
	c.Record(Observation{Unresolved: true, Err: errors.New("unknown model")})

	s := c.Snapshot()
	if s.TotalRequests != 2 || s.Errors != 1 {
		t.Errorf("unresolved calls still count as failed requests, got %+v", s)
	}
	if s.CacheHits != 1 || s.CacheMisses != 0 || s.CacheHitRatio != 1 {
		t.Errorf("expected 1 hit / 0 misses, got %d / %d (ratio %f)", s.CacheHits, s.CacheMisses, s.CacheHitRatio)
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	c := NewCollector()
	c.Record(Observation{Model: "gpt-4o"})

	s := c.Snapshot()
	s.RequestsByModel["gpt-4o"] = 99

	if c.Snapshot().RequestsByModel["gpt-4o"] != 1 {
		t.Error("mutating a snapshot must not affect the collector")
	}
}

func TestCollectorReset(t *testing.T) {
	c := NewCollector()
	c.Record(Observation{Model: "gpt-4o", Usage: llm.TokenUsage{TotalTokens: 3}})
	c.Reset()

	s := c.Snapshot()
	if s.TotalRequests != 0 || s.TotalTokens != 0 || len(s.RequestsByModel) != 0 {
		t.Errorf("expected empty snapshot after reset, got %+v", s)
	}
}

func TestCollectorConcurrentRecord(t *testing.T) {
	c := NewCollector()
	const workers, perWorker = 10, 100

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				c.Record(Observation{Model: "m", CacheHit: i%2 == 0, Latency: time.Millisecond})
				s := c.Snapshot()
				if s.CacheHitRatio < 0 || s.CacheHitRatio > 1 {
					t.Errorf("hit ratio out of bounds: %f", s.CacheHitRatio)
				}
			}
		}(w)
	}
	wg.Wait()

	if got := c.Snapshot().TotalRequests; got != workers*perWorker {
		t.Errorf("expected %d requests, got %d", workers*perWorker, got)
	}
}
