// Package metrics accumulates gateway call counters.
package metrics

import (
	"sync"
	"time"

	"github.com/richinex/agentgate/llm"
)

// Observation is one completed gateway call. Unresolved marks calls that
// failed before the cache was consulted; they count as requests and errors
// but neither as hits nor misses.
type Observation struct {
	Model      string
	Usage      llm.TokenUsage
	CostUSD    float64
	Latency    time.Duration
	CacheHit   bool
	Unresolved bool
	Err        error
}

// Snapshot is a point-in-time copy of the collected metrics.
type Snapshot struct {
	TotalRequests   int64              `json:"total_requests"`
	TotalTokens     int64              `json:"total_tokens"`
	TotalCostUSD    float64            `json:"total_cost_usd"`
	AvgLatencyMs    float64            `json:"avg_latency_ms"`
	CacheHits       int64              `json:"cache_hits"`
	CacheMisses     int64              `json:"cache_misses"`
	CacheHitRatio   float64            `json:"cache_hit_ratio"`
	Errors          int64              `json:"errors"`
	RequestsByModel map[string]int64   `json:"requests_by_model"`
	TokensByModel   map[string]int64   `json:"tokens_by_model"`
	CostByModel     map[string]float64 `json:"cost_by_model"`
}

// Collector is safe for concurrent use; all updates go through one mutex.
type Collector struct {
	mu              sync.Mutex
	totalRequests   int64
	totalTokens     int64
	totalCost       float64
	avgLatencyMs    float64
	cacheHits       int64
	cacheMisses     int64
	errors          int64
	requestsByModel map[string]int64
	tokensByModel   map[string]int64
	costByModel     map[string]float64
}

// NewCollector creates an empty collector.
func NewCollector() *Collector {
	c := &Collector{}
	c.resetLocked()
	return c
}

// Record adds one observation.
func (c *Collector) Record(obs Observation) {
	latencyMs := float64(obs.Latency) / float64(time.Millisecond)
	tokens := int64(obs.Usage.TotalTokens)

	c.mu.Lock()
	defer c.mu.Unlock()

	c.totalRequests++
	c.avgLatencyMs += (latencyMs - c.avgLatencyMs) / float64(c.totalRequests)

	switch {
	case obs.Unresolved:
	case obs.CacheHit:
		c.cacheHits++
	default:
		c.cacheMisses++
	}
	if obs.Err != nil {
		c.errors++
	}

	c.totalTokens += tokens
	c.totalCost += obs.CostUSD

	if obs.Model != "" {
		c.requestsByModel[obs.Model]++
		c.tokensByModel[obs.Model] += tokens
		c.costByModel[obs.Model] += obs.CostUSD
	}
}

// Snapshot returns a copy of the current counters.
func (c *Collector) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Snapshot{
		TotalRequests:   c.totalRequests,
		TotalTokens:     c.totalTokens,
		TotalCostUSD:    c.totalCost,
		AvgLatencyMs:    c.avgLatencyMs,
		CacheHits:       c.cacheHits,
		CacheMisses:     c.cacheMisses,
		Errors:          c.errors,
		RequestsByModel: make(map[string]int64, len(c.requestsByModel)),
		TokensByModel:   make(map[string]int64, len(c.tokensByModel)),
		CostByModel:     make(map[string]float64, len(c.costByModel)),
	}
	if lookups := c.cacheHits + c.cacheMisses; lookups > 0 {
		s.CacheHitRatio = float64(c.cacheHits) / float64(lookups)
	}
	for k, v := range c.requestsByModel {
		s.RequestsByModel[k] = v
	}
	for k, v := range c.tokensByModel {
		s.TokensByModel[k] = v
	}
	for k, v := range c.costByModel {
		s.CostByModel[k] = v
	}
	return s
}

// Reset zeroes every counter.
func (c *Collector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resetLocked()
}

func (c *Collector) resetLocked() {
	c.totalRequests = 0
	c.totalTokens = 0
	c.totalCost = 0
	c.avgLatencyMs = 0
	c.cacheHits = 0
	c.cacheMisses = 0
	c.errors = 0
	c.requestsByModel = make(map[string]int64)
	c.tokensByModel = make(map[string]int64)
	c.costByModel = make(map[string]float64)
}
