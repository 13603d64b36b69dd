package pipeline

import "github.com/intale-ai/intentd/internal/intent"

// Decide applies the agreement gate to whatever the two paths produced
// before the deadline. Precedence is fixed: an oracle result always wins, a
// local result is used only when the oracle never answered, and the fallback
// sentinel covers the case where neither path did. Disagreement is recorded,
// never adjudicated at serving time.
func Decide(oracleRes, localRes *intent.Result, latencyMs int64) intent.Result {
	switch {
	case oracleRes != nil:
		final := *oracleRes
		final.LatencyMs = latencyMs
		return final
	case localRes != nil:
		final := *localRes
		final.LatencyMs = latencyMs
		return final
	default:
		return intent.Fallback(latencyMs)
	}
}

// Agreement reports whether the two paths agreed: both answered, the intents
// match, and the oracle was confident enough for its verdict to count. nil
// when only one path answered.
func Agreement(oracleRes, localRes *intent.Result, agreeMinConf float64) *bool {
	if oracleRes == nil || localRes == nil {
		return nil
	}
	agree := oracleRes.Intent == localRes.Intent && oracleRes.Confidence >= agreeMinConf
	return &agree
}
