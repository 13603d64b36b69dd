package metrics

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
)

// Handler serves the collector's state in Prometheus text exposition format.
func Handler(c *Collector) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		w.Write([]byte(Exposition(c.Snapshot())))
	}
}

// Exposition renders a snapshot as Prometheus text.
func Exposition(s Snapshot) string {
	var b strings.Builder

	writeHeader(&b, "intentd_uptime_seconds", "gauge", "Seconds since the collector started.")
	fmt.Fprintf(&b, "intentd_uptime_seconds %g\n", s.UptimeSeconds)

	writeHeader(&b, "intentd_requests_total", "counter", "Classification requests by final result source.")
	for _, source := range sortedKeys(s.Requests) {
		fmt.Fprintf(&b, "intentd_requests_total{source=%q} %d\n", source, s.Requests[source])
	}

	writeHeader(&b, "intentd_latency_ms", "gauge", "Request latency percentiles over the recent window.")
	fmt.Fprintf(&b, "intentd_latency_ms{quantile=\"0.5\"} %g\n", s.LatencyP50Ms)
	fmt.Fprintf(&b, "intentd_latency_ms{quantile=\"0.95\"} %g\n", s.LatencyP95Ms)
	fmt.Fprintf(&b, "intentd_latency_ms{quantile=\"0.99\"} %g\n", s.LatencyP99Ms)

	writeHeader(&b, "intentd_latency_ewma_ms", "gauge", "Exponentially-weighted average latency.")
	fmt.Fprintf(&b, "intentd_latency_ewma_ms{window=\"1m\"} %g\n", s.LatencyEWMA.OneMinute)
	fmt.Fprintf(&b, "intentd_latency_ewma_ms{window=\"5m\"} %g\n", s.LatencyEWMA.FiveMinutes)
	fmt.Fprintf(&b, "intentd_latency_ewma_ms{window=\"15m\"} %g\n", s.LatencyEWMA.FifteenMinutes)

	if s.AgreementRate != nil {
		writeHeader(&b, "intentd_agreement_rate", "gauge", "Share of decisions where both paths agreed; single-path decisions count against it.")
		fmt.Fprintf(&b, "intentd_agreement_rate %g\n", *s.AgreementRate)
	}

	writeHeader(&b, "intentd_comparable_total", "counter", "Decisions where both paths produced a result.")
	fmt.Fprintf(&b, "intentd_comparable_total %d\n", s.ComparableTotal)

	writeHeader(&b, "intentd_background_verifications_total", "counter", "Deferred oracle verifications completed.")
	fmt.Fprintf(&b, "intentd_background_verifications_total %d\n", s.BackgroundChecks)

	writeHeader(&b, "intentd_events_dropped_total", "counter", "Decision events lost after append retry.")
	fmt.Fprintf(&b, "intentd_events_dropped_total %d\n", s.EventsDropped)

	writeHeader(&b, "intentd_train_runs_total", "counter", "Training runs by outcome status.")
	for _, status := range sortedKeys(s.TrainRuns) {
		fmt.Fprintf(&b, "intentd_train_runs_total{status=%q} %d\n", status, s.TrainRuns[status])
	}

	writeHeader(&b, "intentd_hotswap_total", "counter", "Candidate model promotion decisions.")
	fmt.Fprintf(&b, "intentd_hotswap_total{accepted=\"true\"} %d\n", s.HotSwapAccepted)
	fmt.Fprintf(&b, "intentd_hotswap_total{accepted=\"false\"} %d\n", s.HotSwapRejected)

	if s.StudentF1 != nil {
		writeHeader(&b, "intentd_student_f1", "gauge", "Validation macro-F1 of the serving model.")
		fmt.Fprintf(&b, "intentd_student_f1 %g\n", *s.StudentF1)
	}

	return b.String()
}

func writeHeader(b *strings.Builder, name, typ, help string) {
	fmt.Fprintf(b, "# HELP %s %s\n# TYPE %s %s\n", name, help, name, typ)
}

func sortedKeys(m map[string]int64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
