// Package metrics keeps in-process counters for the pipeline and exposes
// them in Prometheus text format. The collector is a plain mutex-guarded
// struct: the write path is a handful of integer bumps, so it stays cheap
// enough to sit inside the request path.
package metrics

import (
	"math"
	"sort"
	"sync"
	"time"
)

const latencyWindow = 1000

type latencySample struct {
	at time.Time
	ms float64
}

// Collector accumulates pipeline metrics.
type Collector struct {
	mu sync.Mutex

	startedAt time.Time

	requestsBySource map[string]int64
	latencies        []latencySample
	latencyNext      int

	agreementTotal int64
	comparable     int64
	agreed         int64

	backgroundVerifications int64
	eventsDropped           int64

	trainRuns       map[string]int64
	hotSwapAccepted int64
	hotSwapRejected int64

	studentF1      *float64
	studentVersion string
}

// NewCollector returns an empty collector.
func NewCollector() *Collector {
	return &Collector{
		startedAt:        time.Now(),
		requestsBySource: make(map[string]int64),
		trainRuns:        make(map[string]int64),
	}
}

// ObserveRequest records one classification decision: its final source, the
// end-to-end latency, and whether both paths agreed (nil when only one path
// answered).
func (c *Collector) ObserveRequest(source string, latency time.Duration, agreement *bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.requestsBySource[source]++
	c.recordLatency(latency)
	// Every decision counts toward the agreement rate; a call where only
	// one path answered is a disagreement, not a skip.
	c.agreementTotal++
	c.recordAgreement(agreement)
}

// ObserveBackgroundVerification records a deferred oracle check completing.
func (c *Collector) ObserveBackgroundVerification(agreement *bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.backgroundVerifications++
	// A verification where the oracle never answered compares nothing and
	// contributes nothing to the rate.
	if agreement != nil {
		c.agreementTotal++
	}
	c.recordAgreement(agreement)
}

// ObserveEventDropped records an event append that failed after retry.
func (c *Collector) ObserveEventDropped() {
	c.mu.Lock()
	c.eventsDropped++
	c.mu.Unlock()
}

// ObserveTraining records the outcome status of a training run.
func (c *Collector) ObserveTraining(status string) {
	c.mu.Lock()
	c.trainRuns[status]++
	c.mu.Unlock()
}

// ObserveHotSwap records a promotion decision for a candidate model.
func (c *Collector) ObserveHotSwap(accepted bool) {
	c.mu.Lock()
	if accepted {
		c.hotSwapAccepted++
	} else {
		c.hotSwapRejected++
	}
	c.mu.Unlock()
}

// SetStudent records the currently served model's version and, when known,
// its validation macro-F1.
func (c *Collector) SetStudent(version string, f1 *float64) {
	c.mu.Lock()
	c.studentVersion = version
	if f1 != nil {
		v := *f1
		c.studentF1 = &v
	}
	c.mu.Unlock()
}

func (c *Collector) recordLatency(latency time.Duration) {
	s := latencySample{at: time.Now(), ms: float64(latency.Microseconds()) / 1000}
	if len(c.latencies) < latencyWindow {
		c.latencies = append(c.latencies, s)
		return
	}
	c.latencies[c.latencyNext] = s
	c.latencyNext = (c.latencyNext + 1) % latencyWindow
}

func (c *Collector) recordAgreement(agreement *bool) {
	if agreement == nil {
		return
	}
	c.comparable++
	if *agreement {
		c.agreed++
	}
}

// Snapshot is a point-in-time copy of every metric the collector tracks.
type Snapshot struct {
	UptimeSeconds float64          `json:"uptime_seconds"`
	Requests      map[string]int64 `json:"requests_by_source"`

	LatencyP50Ms float64 `json:"latency_p50_ms"`
	LatencyP95Ms float64 `json:"latency_p95_ms"`
	LatencyP99Ms float64 `json:"latency_p99_ms"`
	LatencyEWMA  EWMA    `json:"latency_ewma_ms"`

	AgreementRate    *float64 `json:"agreement_rate,omitempty"`
	ComparableTotal  int64    `json:"comparable_total"`
	BackgroundChecks int64    `json:"background_verifications"`
	EventsDropped    int64    `json:"events_dropped"`

	TrainRuns       map[string]int64 `json:"train_runs"`
	HotSwapAccepted int64            `json:"hotswap_accepted"`
	HotSwapRejected int64            `json:"hotswap_rejected"`

	StudentVersion string   `json:"student_version,omitempty"`
	StudentF1      *float64 `json:"student_f1,omitempty"`
}

// EWMA holds exponentially-weighted latency averages over three horizons.
type EWMA struct {
	OneMinute      float64 `json:"1m"`
	FiveMinutes    float64 `json:"5m"`
	FifteenMinutes float64 `json:"15m"`
}

// Snapshot copies the current metric values.
func (c *Collector) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := Snapshot{
		UptimeSeconds:    time.Since(c.startedAt).Seconds(),
		Requests:         make(map[string]int64, len(c.requestsBySource)),
		ComparableTotal:  c.comparable,
		BackgroundChecks: c.backgroundVerifications,
		EventsDropped:    c.eventsDropped,
		TrainRuns:        make(map[string]int64, len(c.trainRuns)),
		HotSwapAccepted:  c.hotSwapAccepted,
		HotSwapRejected:  c.hotSwapRejected,
		StudentVersion:   c.studentVersion,
	}
	for k, v := range c.requestsBySource {
		snap.Requests[k] = v
	}
	for k, v := range c.trainRuns {
		snap.TrainRuns[k] = v
	}
	if c.agreementTotal > 0 {
		rate := float64(c.agreed) / float64(c.agreementTotal)
		snap.AgreementRate = &rate
	}
	if c.studentF1 != nil {
		v := *c.studentF1
		snap.StudentF1 = &v
	}

	if len(c.latencies) > 0 {
		sorted := make([]float64, len(c.latencies))
		for i, s := range c.latencies {
			sorted[i] = s.ms
		}
		sort.Float64s(sorted)
		snap.LatencyP50Ms = percentile(sorted, 0.50)
		snap.LatencyP95Ms = percentile(sorted, 0.95)
		snap.LatencyP99Ms = percentile(sorted, 0.99)

		now := time.Now()
		snap.LatencyEWMA = EWMA{
			OneMinute:      ewma(c.latencies, now, time.Minute),
			FiveMinutes:    ewma(c.latencies, now, 5*time.Minute),
			FifteenMinutes: ewma(c.latencies, now, 15*time.Minute),
		}
	}
	return snap
}

func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Ceil(p*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// ewma weights each sample by exp(-age/horizon), so recent samples dominate
// short horizons while long horizons smooth over the whole window.
func ewma(samples []latencySample, now time.Time, horizon time.Duration) float64 {
	var weighted, weights float64
	for _, s := range samples {
		age := now.Sub(s.at)
		if age < 0 {
			age = 0
		}
		w := math.Exp(-float64(age) / float64(horizon))
		weighted += w * s.ms
		weights += w
	}
	if weights == 0 {
		return 0
	}
	return weighted / weights
}
