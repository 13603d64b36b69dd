// Package intent defines the result and report types shared by the oracle
// client, the local classifier, the resolution pipeline, and the trainer.
package intent

// Source identifies which classification path produced a result.
type Source string

const (
	// SourceOracle marks results produced by the remote authoritative classifier.
	SourceOracle Source = "oracle"
	// SourceLocal marks results produced by the in-process student model.
	SourceLocal Source = "local"
	// SourceFallback marks the fixed low-confidence result returned when
	// neither path produced anything.
	SourceFallback Source = "fallback"
)

// Fallback sentinels. A fallback result always carries exactly these values;
// tests and callers rely on them being stable.
const (
	FallbackIntent     = "general_chat"
	FallbackConfidence = 0.33
)

// Result is the unit returned by any classifier path.
type Result struct {
	Intent         string   `json:"intent"`
	Confidence     float64  `json:"confidence"`
	Summary        string   `json:"summary,omitempty"`
	Tags           []string `json:"tags"`
	Safety         []string `json:"safety"`
	Source         Source   `json:"source"`
	LatencyMs      int64    `json:"latency_ms"`
	ModelAvailable bool     `json:"model_available"`
}

// Fallback returns the fixed degraded-mode result.
func Fallback(latencyMs int64) Result {
	return Result{
		Intent:         FallbackIntent,
		Confidence:     FallbackConfidence,
		Summary:        "no analysis available",
		Tags:           []string{},
		Safety:         []string{},
		Source:         SourceFallback,
		LatencyMs:      latencyMs,
		ModelAvailable: false,
	}
}
