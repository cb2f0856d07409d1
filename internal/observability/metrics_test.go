// ABOUTME: Tests for pipeline metrics collection
// ABOUTME: Validates provider failure kinds, cache counters, gauges, and percentiles

package observability_test

import (
	"sync"
	"testing"
	"time"

	"github.com/hikmaai-io/hikmaai-codescan/internal/observability"
)

func TestMetrics_ProviderCalls(t *testing.T) {
	t.Parallel()

	m := observability.NewMetrics()
	m.RecordProviderCall("virustotal", 100*time.Millisecond, "")
	m.RecordProviderCall("virustotal", 300*time.Millisecond, "timed_out")
	m.RecordProviderCall("virustotal", 200*time.Millisecond, "timed_out")
	m.RecordProviderCall("malshare", 10*time.Millisecond, "transport")

	snap := m.Snapshot()
	vt := snap.Providers["virustotal"]
	if vt.Calls != 3 || vt.Successes != 1 || vt.Failures != 2 {
		t.Errorf("virustotal stat = %+v", vt)
	}
	if vt.FailuresByKind["timed_out"] != 2 {
		t.Errorf("timed_out failures = %d, want 2", vt.FailuresByKind["timed_out"])
	}
	if vt.AverageLatency != 200*time.Millisecond {
		t.Errorf("average latency = %v, want 200ms", vt.AverageLatency)
	}
	if vt.Latency.Max != 300*time.Millisecond {
		t.Errorf("max latency = %v, want 300ms", vt.Latency.Max)
	}
	if snap.Providers["malshare"].FailuresByKind["transport"] != 1 {
		t.Errorf("malshare stat = %+v", snap.Providers["malshare"])
	}
}

func TestMetrics_CacheAndChat(t *testing.T) {
	t.Parallel()

	m := observability.NewMetrics()
	m.RecordCacheLookup("virustotal", true)
	m.RecordCacheLookup("virustotal", false)
	m.RecordCacheLookup("malshare", false)
	m.RecordChat(false)
	m.RecordChat(true)
	m.RecordBatch()

	snap := m.Snapshot()
	if snap.CacheHits != 1 || snap.CacheMisses != 2 {
		t.Errorf("cache hits/misses = %d/%d", snap.CacheHits, snap.CacheMisses)
	}
	if snap.Providers["virustotal"].CacheHits != 1 {
		t.Errorf("virustotal cache hits = %d", snap.Providers["virustotal"].CacheHits)
	}
	if snap.ChatMessages != 2 || snap.ChatDegraded != 1 {
		t.Errorf("chat = %d/%d", snap.ChatMessages, snap.ChatDegraded)
	}
	if snap.BatchesAnalyzed != 1 {
		t.Errorf("batches = %d", snap.BatchesAnalyzed)
	}
}

func TestMetrics_AnalysisPercentiles(t *testing.T) {
	t.Parallel()

	m := observability.NewMetrics()
	for i := 1; i <= 100; i++ {
		m.RecordAnalysis(time.Duration(i)*time.Millisecond, i%10 == 0)
	}

	snap := m.Snapshot()
	if snap.FilesAnalyzed != 100 || snap.DegradedResults != 10 {
		t.Errorf("files/degraded = %d/%d", snap.FilesAnalyzed, snap.DegradedResults)
	}
	if snap.AnalysisLatency.P50 != 51*time.Millisecond {
		t.Errorf("p50 = %v, want 51ms", snap.AnalysisLatency.P50)
	}
	if snap.AnalysisLatency.Max != 100*time.Millisecond {
		t.Errorf("max = %v, want 100ms", snap.AnalysisLatency.Max)
	}
}

func TestMetrics_TrackActiveConcurrent(t *testing.T) {
	t.Parallel()

	m := observability.NewMetrics()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			done := m.TrackActive()
			m.RecordProviderCall("hybrid_analysis", time.Millisecond, "")
			done()
		}()
	}
	wg.Wait()

	snap := m.Snapshot()
	if snap.ActiveAnalyses != 0 {
		t.Errorf("active = %d, want 0", snap.ActiveAnalyses)
	}
	if snap.Providers["hybrid_analysis"].Calls != 50 {
		t.Errorf("calls = %d, want 50", snap.Providers["hybrid_analysis"].Calls)
	}
}
