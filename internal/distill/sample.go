package distill

import (
	"strings"

	"github.com/intale-ai/intentd/internal/events"
)

// SampleKind names the selection rule a sample matched.
type SampleKind string

const (
	// KindAgreement marks cheap positive reinforcement: both paths agreed
	// and the oracle was confident.
	KindAgreement SampleKind = "agreement"
	// KindCorrection marks active-learning signal: the oracle was sure
	// where the student was unsure or absent.
	KindCorrection SampleKind = "correction"
)

// Sample is one weighted training example derived from a decision event.
type Sample struct {
	Text   string
	Label  string
	Weight float64
	Kind   SampleKind
}

// Thresholds parameterize sample selection.
type Thresholds struct {
	AgreeMinConf    float64 `json:"agree_min_conf"`
	TeacherHighConf float64 `json:"teacher_high_conf"`
	StudentLowConf  float64 `json:"student_low_conf"`
}

// DefaultThresholds mirror the configuration defaults.
func DefaultThresholds() Thresholds {
	return Thresholds{AgreeMinConf: 0.75, TeacherHighConf: 0.80, StudentLowConf: 0.50}
}

// Select derives a training sample from an event, or reports false when the
// event is not informative enough. Only oracle-labeled events qualify:
//   - agreement: both paths named the same intent and the oracle's
//     confidence clears AgreeMinConf;
//   - correction: the oracle is confident while the student was unsure, or
//     had no model at all.
//
// The weight follows the oracle's confidence, clamped away from zero, with
// corrections boosted since they carry the distinctions the student lacks.
func (t Thresholds) Select(ev events.DecisionEvent) (Sample, bool) {
	if ev.Oracle == nil || ev.Oracle.Intent == "" {
		return Sample{}, false
	}
	if strings.TrimSpace(ev.Text) == "" {
		return Sample{}, false
	}

	oracleConf := ev.Oracle.Confidence

	agreement := ev.Local != nil &&
		ev.Local.Intent == ev.Oracle.Intent &&
		oracleConf >= t.AgreeMinConf

	correction := oracleConf >= t.TeacherHighConf &&
		(ev.Local == nil || ev.Local.Confidence <= t.StudentLowConf)

	if !agreement && !correction {
		return Sample{}, false
	}

	weight := oracleConf
	if weight < 0.1 {
		weight = 0.1
	}
	if weight > 1.0 {
		weight = 1.0
	}
	kind := KindAgreement
	if correction {
		kind = KindCorrection
		weight *= 1.5
	}

	return Sample{Text: ev.Text, Label: ev.Oracle.Intent, Weight: weight, Kind: kind}, true
}
