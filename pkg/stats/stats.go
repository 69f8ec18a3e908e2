package stats

import (
	"sync"
	"time"

	"github.com/zen-systems/supportgate/pkg/config"
	"github.com/zen-systems/supportgate/pkg/schema"
)

// Outcome is one terminal query as reported by the orchestrator.
type Outcome struct {
	Intent   schema.IntentResult
	Decision schema.RoutingDecision
	Response schema.BackendResponse
	Elapsed  time.Duration
}

// RunningStats summarizes every recorded query since start or the last reset.
type RunningStats struct {
	TotalQueries     int64                  `json:"total_queries"`
	TotalLatency     float64                `json:"total_latency"`
	SuccessCount     int64                  `json:"success_count"`
	FailureCount     int64                  `json:"failure_count"`
	FallbackCount    int64                  `json:"fallback_usage_count"`
	IntentCounts     map[schema.Label]int64 `json:"intent_distribution"`
	BackendCounts    map[string]int64       `json:"backend_distribution"`
	TokenTotal       int64                  `json:"total_tokens"`
	EstimatedCostUSD float64                `json:"estimated_cost_usd"`
	AverageLatency   float64                `json:"avg_response_time"`
	SuccessRate      float64                `json:"success_rate"`
	StartedAt        time.Time              `json:"started_at"`
}

// Aggregator owns the process-wide RunningStats. All methods are safe for
// concurrent use.
type Aggregator struct {
	mu      sync.Mutex
	stats   RunningStats
	pricing config.PricingConfig
	now     func() time.Time
}

// NewAggregator creates an aggregator. pricing may be nil, in which case no
// cost is estimated.
func NewAggregator(pricing config.PricingConfig) *Aggregator {
	a := &Aggregator{pricing: pricing, now: time.Now}
	a.stats = emptyStats(a.now())
	return a
}

func emptyStats(now time.Time) RunningStats {
	counts := make(map[schema.Label]int64, len(schema.Labels()))
	for _, l := range schema.Labels() {
		counts[l] = 0
	}
	return RunningStats{
		IntentCounts:  counts,
		BackendCounts: make(map[string]int64),
		StartedAt:     now.UTC(),
	}
}

// Record folds one outcome into the running totals. Failed responses count
// toward volume and latency but never toward tokens, successes or cost.
func (a *Aggregator) Record(o Outcome) {
	a.mu.Lock()
	defer a.mu.Unlock()

	s := &a.stats
	s.TotalQueries++
	s.TotalLatency += o.Elapsed.Seconds()
	if o.Intent.Label != "" {
		s.IntentCounts[o.Intent.Label]++
	}
	if o.Decision.Reason.IsFallback() {
		s.FallbackCount++
	}
	if o.Response.BackendID != "" {
		s.BackendCounts[o.Response.BackendID]++
	}

	if !o.Response.Succeeded {
		s.FailureCount++
		return
	}
	s.SuccessCount++
	s.TokenTotal += int64(o.Response.TokenCount)
	if cost, ok := estimateCost(a.pricing, o.Response); ok {
		s.EstimatedCostUSD += cost
	}
}

// Snapshot returns a deep copy with derived fields filled in.
func (a *Aggregator) Snapshot() RunningStats {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := a.stats
	out.IntentCounts = make(map[schema.Label]int64, len(a.stats.IntentCounts))
	for k, v := range a.stats.IntentCounts {
		out.IntentCounts[k] = v
	}
	out.BackendCounts = make(map[string]int64, len(a.stats.BackendCounts))
	for k, v := range a.stats.BackendCounts {
		out.BackendCounts[k] = v
	}
	if out.TotalQueries > 0 {
		out.AverageLatency = out.TotalLatency / float64(out.TotalQueries)
		out.SuccessRate = float64(out.SuccessCount) / float64(out.TotalQueries)
	}
	return out
}

// Reset zeroes every counter.
func (a *Aggregator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stats = emptyStats(a.now())
}
