package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

func boolPtr(b bool) *bool { return &b }

func TestSnapshotCounters(t *testing.T) {
	c := NewCollector()

	c.ObserveRequest("oracle", 120*time.Millisecond, boolPtr(true))
	c.ObserveRequest("oracle", 80*time.Millisecond, boolPtr(false))
	c.ObserveRequest("local", 2*time.Millisecond, nil)
	c.ObserveRequest("fallback", 3500*time.Millisecond, nil)
	c.ObserveBackgroundVerification(boolPtr(true))
	c.ObserveEventDropped()
	c.ObserveTraining("completed")
	c.ObserveTraining("completed")
	c.ObserveTraining("failed")
	c.ObserveHotSwap(true)
	c.ObserveHotSwap(false)

	f1 := 0.91
	c.SetStudent("20260826T000000Z", &f1)

	s := c.Snapshot()
	if s.Requests["oracle"] != 2 || s.Requests["local"] != 1 || s.Requests["fallback"] != 1 {
		t.Errorf("requests = %v", s.Requests)
	}
	if s.ComparableTotal != 3 {
		t.Errorf("comparable = %d, want 3", s.ComparableTotal)
	}
	// 4 requests + 1 background check with a comparison = 5 observations,
	// 2 of which agreed; the two single-path requests count against the rate.
	if s.AgreementRate == nil || *s.AgreementRate != 0.4 {
		t.Errorf("agreement rate = %v, want 0.4", s.AgreementRate)
	}
	if s.BackgroundChecks != 1 {
		t.Errorf("background = %d", s.BackgroundChecks)
	}
	if s.EventsDropped != 1 {
		t.Errorf("dropped = %d", s.EventsDropped)
	}
	if s.TrainRuns["completed"] != 2 || s.TrainRuns["failed"] != 1 {
		t.Errorf("train runs = %v", s.TrainRuns)
	}
	if s.HotSwapAccepted != 1 || s.HotSwapRejected != 1 {
		t.Errorf("hotswap = %d/%d", s.HotSwapAccepted, s.HotSwapRejected)
	}
	if s.StudentVersion != "20260826T000000Z" || s.StudentF1 == nil || *s.StudentF1 != 0.91 {
		t.Errorf("student = %q / %v", s.StudentVersion, s.StudentF1)
	}
}

func TestLatencyPercentiles(t *testing.T) {
	c := NewCollector()
	for i := 1; i <= 100; i++ {
		c.ObserveRequest("local", time.Duration(i)*time.Millisecond, nil)
	}

	s := c.Snapshot()
	if s.LatencyP50Ms != 50 {
		t.Errorf("p50 = %v, want 50", s.LatencyP50Ms)
	}
	if s.LatencyP95Ms != 95 {
		t.Errorf("p95 = %v, want 95", s.LatencyP95Ms)
	}
	if s.LatencyP99Ms != 99 {
		t.Errorf("p99 = %v, want 99", s.LatencyP99Ms)
	}
	if s.LatencyEWMA.OneMinute <= 0 {
		t.Errorf("ewma 1m = %v, want > 0", s.LatencyEWMA.OneMinute)
	}
}

func TestLatencyWindowBounded(t *testing.T) {
	c := NewCollector()
	for range latencyWindow + 500 {
		c.ObserveRequest("local", time.Millisecond, nil)
	}
	c.mu.Lock()
	n := len(c.latencies)
	c.mu.Unlock()
	if n != latencyWindow {
		t.Errorf("window size = %d, want %d", n, latencyWindow)
	}
}

func TestEWMAFavorsRecentSamples(t *testing.T) {
	now := time.Now()
	samples := []latencySample{
		{at: now.Add(-10 * time.Minute), ms: 1000},
		{at: now, ms: 10},
	}
	short := ewma(samples, now, time.Minute)
	long := ewma(samples, now, 15*time.Minute)
	if short >= long {
		t.Errorf("1m ewma %v should weight the recent fast sample more than 15m ewma %v", short, long)
	}
}

func TestConcurrentObservations(t *testing.T) {
	c := NewCollector()
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 200 {
				c.ObserveRequest("local", time.Millisecond, boolPtr(true))
				c.Snapshot()
			}
		}()
	}
	wg.Wait()

	if got := c.Snapshot().Requests["local"]; got != 1600 {
		t.Errorf("requests = %d, want 1600", got)
	}
}

func TestPrometheusExposition(t *testing.T) {
	c := NewCollector()
	c.ObserveRequest("oracle", 50*time.Millisecond, boolPtr(true))
	c.ObserveHotSwap(true)
	f1 := 0.88
	c.SetStudent("v1", &f1)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	Handler(c)(rec, req)

	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("content type = %q", ct)
	}
	body := rec.Body.String()
	for _, want := range []string{
		`intentd_requests_total{source="oracle"} 1`,
		"# TYPE intentd_requests_total counter",
		"intentd_agreement_rate 1",
		`intentd_hotswap_total{accepted="true"} 1`,
		"intentd_student_f1 0.88",
		`intentd_latency_ms{quantile="0.95"}`,
		`intentd_latency_ewma_ms{window="5m"}`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("exposition missing %q:\n%s", want, body)
		}
	}
}
