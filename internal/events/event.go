package events

import (
	"maps"
	"time"
	"unicode/utf8"

	"github.com/intale-ai/intentd/internal/intent"
)

// DecisionEvent is one persisted pipeline decision. Oracle and Local hold
// whatever each path produced before the deadline; either may be nil.
// Agreement and ConfidenceGap are set only when both paths answered.
type DecisionEvent struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"ts"`
	Text      string    `json:"text"`
	TextHash  string    `json:"text_hash"`
	// TextLength is the rune count of the original text, kept because
	// redaction can change the stored text's length.
	TextLength    int               `json:"text_length"`
	Context       map[string]string `json:"context,omitempty"`
	Oracle        *intent.Result    `json:"oracle,omitempty"`
	Local         *intent.Result    `json:"local,omitempty"`
	Final         intent.Result     `json:"final"`
	LatencyMs     int64             `json:"latency_ms"`
	Agreement     *bool             `json:"agreement,omitempty"`
	ConfidenceGap *float64          `json:"confidence_gap,omitempty"`
	// Background marks events recorded by deferred oracle verification
	// rather than by an in-band request.
	Background bool `json:"background,omitempty"`
}

// NewDecisionEvent builds an event from raw input text, hashing the original
// and storing only the redacted form. LatencyMs starts as the final result's
// latency (the whole decision as the caller saw it); background verification
// overrides it with the oracle call's duration. Agreement comes from the
// gate, which owns its definition; the confidence gap is derived here
// whenever both paths answered.
func NewDecisionEvent(rawText string, reqContext map[string]string, oracleRes, localRes *intent.Result, final intent.Result, agreement *bool) DecisionEvent {
	ev := DecisionEvent{
		Timestamp:  time.Now().UTC(),
		Text:       Redact(rawText),
		TextHash:   HashText(rawText),
		TextLength: utf8.RuneCountInString(rawText),
		Oracle:     oracleRes,
		Local:      localRes,
		Final:      final,
		LatencyMs:  final.LatencyMs,
		Agreement:  agreement,
	}
	if len(reqContext) > 0 {
		ev.Context = maps.Clone(reqContext)
	}
	if oracleRes != nil && localRes != nil {
		gap := oracleRes.Confidence - localRes.Confidence
		if gap < 0 {
			gap = -gap
		}
		ev.ConfidenceGap = &gap
	}
	return ev
}
