package cache

import (
	"sync/atomic"
	"time"
)

// counters общие счётчики горячих уровней
type counters struct {
	requests atomic.Int64
	hits     atomic.Int64
	coldHits atomic.Int64
	misses   atomic.Int64

	latencySum   atomic.Int64 // наносекунды
	latencyCount atomic.Int64
	maxLatency   atomic.Int64
}

func (c *counters) recordLatency(start time.Time) {
	latency := time.Since(start).Nanoseconds()
	c.latencySum.Add(latency)
	c.latencyCount.Add(1)

	for {
		current := c.maxLatency.Load()
		if latency <= current || c.maxLatency.CompareAndSwap(current, latency) {
			break
		}
	}
}

func (c *counters) snapshot() *CacheMetrics {
	m := &CacheMetrics{
		TotalRequests: c.requests.Load(),
		CacheHits:     c.hits.Load(),
		ColdHits:      c.coldHits.Load(),
		CacheMisses:   c.misses.Load(),
		LastUpdate:    time.Now(),
	}
	if total := m.CacheHits + m.ColdHits + m.CacheMisses; total > 0 {
		m.HitRatio = float64(m.CacheHits+m.ColdHits) / float64(total)
	}
	if n := c.latencyCount.Load(); n > 0 {
		m.AvgLatencyMs = float64(c.latencySum.Load()) / float64(n) / 1e6
		m.MaxLatencyMs = float64(c.maxLatency.Load()) / 1e6
	}
	return m
}
