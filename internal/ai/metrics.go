package ai

import (
	"sync/atomic"
	"time"
)

// opStats aggregates one operation's counters. All fields are atomics so
// concurrent pipelines record without locking.
type opStats struct {
	count     int64
	errors    int64
	cacheHits int64
	latencyNS int64
}

func (o *opStats) record(start time.Time, cached, failed bool) {
	atomic.AddInt64(&o.count, 1)
	if cached {
		atomic.AddInt64(&o.cacheHits, 1)
	}
	if failed {
		atomic.AddInt64(&o.errors, 1)
	}
	atomic.AddInt64(&o.latencyNS, time.Since(start).Nanoseconds())
}

// OpMetrics is the aggregate view of one operation for the status surface.
type OpMetrics struct {
	Count        int64   `json:"count"`
	Errors       int64   `json:"errors"`
	CacheHits    int64   `json:"cache_hits"`
	AvgLatencyMS float64 `json:"avg_latency_ms"`
	SuccessRate  float64 `json:"success_rate"`
	CacheHitRate float64 `json:"cache_hit_rate"`
}

func (o *opStats) snapshot() OpMetrics {
	m := OpMetrics{
		Count:     atomic.LoadInt64(&o.count),
		Errors:    atomic.LoadInt64(&o.errors),
		CacheHits: atomic.LoadInt64(&o.cacheHits),
	}
	if m.Count > 0 {
		m.AvgLatencyMS = float64(atomic.LoadInt64(&o.latencyNS)) / float64(m.Count) / 1e6
		m.SuccessRate = float64(m.Count-m.Errors) / float64(m.Count)
		m.CacheHitRate = float64(m.CacheHits) / float64(m.Count)
	}
	return m
}

// Metrics returns per-operation counters keyed by operation name.
func (s *Service) Metrics() map[string]OpMetrics {
	return map[string]OpMetrics{
		"parse_profile":   s.parseStats.snapshot(),
		"analyze_product": s.productStats.snapshot(),
		"generate_email":  s.emailStats.snapshot(),
	}
}
