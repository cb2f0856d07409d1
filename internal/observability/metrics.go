// ABOUTME: In-process metrics for analyses, provider calls, cache, and chat
// ABOUTME: Atomic counters, per-provider failure kinds, and latency percentiles

package observability

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

const (
	maxLatencySamples      = 10000
	providerLatencySamples = 1000
)

// LatencyPercentiles is a latency distribution.
type LatencyPercentiles struct {
	P50 time.Duration `json:"p50_ns"`
	P90 time.Duration `json:"p90_ns"`
	P99 time.Duration `json:"p99_ns"`
	Max time.Duration `json:"max_ns"`
}

// ProviderStat is the per-provider view of calls.
type ProviderStat struct {
	Calls          int64              `json:"calls"`
	Successes      int64              `json:"successes"`
	Failures       int64              `json:"failures"`
	FailuresByKind map[string]int64   `json:"failures_by_kind,omitempty"`
	CacheHits      int64              `json:"cache_hits"`
	AverageLatency time.Duration      `json:"average_latency_ns"`
	Latency        LatencyPercentiles `json:"latency"`
}

// MetricsSnapshot is a point-in-time view of all metrics.
type MetricsSnapshot struct {
	FilesAnalyzed   int64                   `json:"files_analyzed"`
	BatchesAnalyzed int64                   `json:"batches_analyzed"`
	ActiveAnalyses  int64                   `json:"active_analyses"`
	DegradedResults int64                   `json:"degraded_results"`
	ChatMessages    int64                   `json:"chat_messages"`
	ChatDegraded    int64                   `json:"chat_degraded"`
	CacheHits       int64                   `json:"cache_hits"`
	CacheMisses     int64                   `json:"cache_misses"`
	AnalysisLatency LatencyPercentiles      `json:"analysis_latency"`
	Providers       map[string]ProviderStat `json:"providers"`
	Timestamp       time.Time               `json:"timestamp"`
}

// String returns a one-line summary.
func (s *MetricsSnapshot) String() string {
	return fmt.Sprintf(
		"files=%d batches=%d active=%d degraded=%d chat=%d (degraded=%d) cache=%d/%d p50=%v p99=%v",
		s.FilesAnalyzed, s.BatchesAnalyzed, s.ActiveAnalyses, s.DegradedResults,
		s.ChatMessages, s.ChatDegraded, s.CacheHits, s.CacheHits+s.CacheMisses,
		s.AnalysisLatency.P50, s.AnalysisLatency.P99,
	)
}

type providerStats struct {
	mu        sync.Mutex
	calls     int64
	successes int64
	failures  int64
	byKind    map[string]int64
	cacheHits int64
	latencies []time.Duration
}

// Metrics collects counters for the analysis pipeline. Safe for concurrent use.
type Metrics struct {
	filesAnalyzed   atomic.Int64
	batchesAnalyzed atomic.Int64
	activeAnalyses  atomic.Int64
	degradedResults atomic.Int64
	chatMessages    atomic.Int64
	chatDegraded    atomic.Int64
	cacheHits       atomic.Int64
	cacheMisses     atomic.Int64

	mu        sync.RWMutex
	latencies []time.Duration
	providers map[string]*providerStats
}

// NewMetrics creates an empty collector.
func NewMetrics() *Metrics {
	return &Metrics{
		latencies: make([]time.Duration, 0, 1024),
		providers: make(map[string]*providerStats),
	}
}

func (m *Metrics) provider(name string) *providerStats {
	m.mu.RLock()
	ps, ok := m.providers[name]
	m.mu.RUnlock()
	if ok {
		return ps
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if ps, ok = m.providers[name]; !ok {
		ps = &providerStats{byKind: make(map[string]int64)}
		m.providers[name] = ps
	}
	return ps
}

// RecordProviderCall records one provider invocation.
// failureKind is empty on success.
func (m *Metrics) RecordProviderCall(provider string, duration time.Duration, failureKind string) {
	ps := m.provider(provider)
	ps.mu.Lock()
	defer ps.mu.Unlock()

	ps.calls++
	if failureKind == "" {
		ps.successes++
	} else {
		ps.failures++
		ps.byKind[failureKind]++
	}
	ps.latencies = append(ps.latencies, duration)
	if len(ps.latencies) > providerLatencySamples {
		ps.latencies = ps.latencies[len(ps.latencies)-providerLatencySamples/2:]
	}
}

// RecordCacheLookup records a report cache lookup for a provider.
func (m *Metrics) RecordCacheLookup(provider string, hit bool) {
	if !hit {
		m.cacheMisses.Add(1)
		return
	}
	m.cacheHits.Add(1)
	ps := m.provider(provider)
	ps.mu.Lock()
	ps.cacheHits++
	ps.mu.Unlock()
}

// RecordAnalysis records one finished per-file analysis.
func (m *Metrics) RecordAnalysis(duration time.Duration, degraded bool) {
	m.filesAnalyzed.Add(1)
	if degraded {
		m.degradedResults.Add(1)
	}

	m.mu.Lock()
	m.latencies = append(m.latencies, duration)
	if len(m.latencies) > maxLatencySamples {
		m.latencies = m.latencies[len(m.latencies)-maxLatencySamples/2:]
	}
	m.mu.Unlock()
}

// RecordBatch counts one batch request.
func (m *Metrics) RecordBatch() {
	m.batchesAnalyzed.Add(1)
}

// RecordChat counts one chat turn.
func (m *Metrics) RecordChat(degraded bool) {
	m.chatMessages.Add(1)
	if degraded {
		m.chatDegraded.Add(1)
	}
}

// TrackActive increments the active gauge and returns the matching decrement.
func (m *Metrics) TrackActive() func() {
	m.activeAnalyses.Add(1)
	return func() { m.activeAnalyses.Add(-1) }
}

// Snapshot returns the current values.
func (m *Metrics) Snapshot() *MetricsSnapshot {
	m.mu.RLock()
	analysis := percentiles(m.latencies)
	names := make([]string, 0, len(m.providers))
	stats := make([]*providerStats, 0, len(m.providers))
	for name, ps := range m.providers {
		names = append(names, name)
		stats = append(stats, ps)
	}
	m.mu.RUnlock()

	providers := make(map[string]ProviderStat, len(names))
	for i, ps := range stats {
		ps.mu.Lock()
		stat := ProviderStat{
			Calls:     ps.calls,
			Successes: ps.successes,
			Failures:  ps.failures,
			CacheHits: ps.cacheHits,
			Latency:   percentiles(ps.latencies),
		}
		if len(ps.byKind) > 0 {
			stat.FailuresByKind = make(map[string]int64, len(ps.byKind))
			for k, v := range ps.byKind {
				stat.FailuresByKind[k] = v
			}
		}
		if len(ps.latencies) > 0 {
			var total time.Duration
			for _, l := range ps.latencies {
				total += l
			}
			stat.AverageLatency = total / time.Duration(len(ps.latencies))
		}
		ps.mu.Unlock()
		providers[names[i]] = stat
	}

	return &MetricsSnapshot{
		FilesAnalyzed:   m.filesAnalyzed.Load(),
		BatchesAnalyzed: m.batchesAnalyzed.Load(),
		ActiveAnalyses:  m.activeAnalyses.Load(),
		DegradedResults: m.degradedResults.Load(),
		ChatMessages:    m.chatMessages.Load(),
		ChatDegraded:    m.chatDegraded.Load(),
		CacheHits:       m.cacheHits.Load(),
		CacheMisses:     m.cacheMisses.Load(),
		AnalysisLatency: analysis,
		Providers:       providers,
		Timestamp:       time.Now(),
	}
}

func percentiles(samples []time.Duration) LatencyPercentiles {
	if len(samples) == 0 {
		return LatencyPercentiles{}
	}
	sorted := make([]time.Duration, len(samples))
	copy(sorted, samples)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	return LatencyPercentiles{
		P50: percentile(sorted, 50),
		P90: percentile(sorted, 90),
		P99: percentile(sorted, 99),
		Max: sorted[len(sorted)-1],
	}
}

func percentile(sorted []time.Duration, p int) time.Duration {
	idx := (p * len(sorted)) / 100
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
