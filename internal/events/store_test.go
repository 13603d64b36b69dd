package events

import (
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/intale-ai/intentd/internal/intent"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func boolPtr(b bool) *bool { return &b }

func oracleResult(label string, conf float64) *intent.Result {
	return &intent.Result{
		Intent: label, Confidence: conf,
		Tags: []string{}, Safety: []string{},
		Source: intent.SourceOracle, ModelAvailable: true,
	}
}

func localResult(label string, conf float64) *intent.Result {
	return &intent.Result{
		Intent: label, Confidence: conf,
		Tags: []string{}, Safety: []string{},
		Source: intent.SourceLocal, ModelAvailable: true,
	}
}

func TestAppendAndForEachRoundTrip(t *testing.T) {
	s := openTestStore(t)

	o := oracleResult("technical_assistance", 0.9)
	l := localResult("general_chat", 0.4)
	final := *o
	final.LatencyMs = 420
	ev := NewDecisionEvent("my compiler crashes", map[string]string{"session": "abc"}, o, l, final, boolPtr(false))

	if err := s.Append(ev); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	var got []DecisionEvent
	if err := s.ForEach(0, func(e DecisionEvent) error {
		got = append(got, e)
		return nil
	}); err != nil {
		t.Fatalf("ForEach failed: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d events, want 1", len(got))
	}

	e := got[0]
	if e.ID == "" {
		t.Error("event ID should be assigned on append")
	}
	if e.Text != "my compiler crashes" {
		t.Errorf("text = %q", e.Text)
	}
	if e.TextHash != HashText("my compiler crashes") {
		t.Error("text hash mismatch")
	}
	if e.TextLength != len("my compiler crashes") {
		t.Errorf("text length = %d, want %d", e.TextLength, len("my compiler crashes"))
	}
	if e.Context["session"] != "abc" {
		t.Errorf("context = %v, want session=abc", e.Context)
	}
	if e.LatencyMs != 420 {
		t.Errorf("latency_ms = %d, want 420", e.LatencyMs)
	}
	if e.Oracle == nil || e.Oracle.Intent != "technical_assistance" {
		t.Errorf("oracle = %+v", e.Oracle)
	}
	if e.Local == nil || e.Local.Intent != "general_chat" {
		t.Errorf("local = %+v", e.Local)
	}
	if e.Final.Source != intent.SourceOracle {
		t.Errorf("final source = %q", e.Final.Source)
	}
	if e.Agreement == nil || *e.Agreement {
		t.Errorf("agreement = %v, want false", e.Agreement)
	}
	if e.ConfidenceGap == nil || *e.ConfidenceGap != 0.5 {
		t.Errorf("confidence gap = %v, want 0.5", e.ConfidenceGap)
	}
}

func TestNewDecisionEventRedactsPII(t *testing.T) {
	raw := "email me at alice@example.com or call +1 (555) 123-4567"
	ev := NewDecisionEvent(raw, nil, nil, nil, intent.Fallback(0), nil)

	if strings.Contains(ev.Text, "alice@example.com") {
		t.Errorf("email not redacted: %q", ev.Text)
	}
	if strings.Contains(ev.Text, "555") {
		t.Errorf("phone not redacted: %q", ev.Text)
	}
	if !strings.Contains(ev.Text, "[EMAIL]") || !strings.Contains(ev.Text, "[PHONE]") {
		t.Errorf("missing redaction markers: %q", ev.Text)
	}
	if ev.TextHash != HashText(raw) {
		t.Error("hash must cover the original text")
	}
	if ev.TextLength != utf8.RuneCountInString(raw) {
		t.Error("length must cover the original text, not the redacted form")
	}
	if ev.Agreement != nil || ev.ConfidenceGap != nil {
		t.Error("single-path events must not carry agreement annotations")
	}
}

func TestAgreementAnnotation(t *testing.T) {
	o := oracleResult("web_query", 0.8)
	l := localResult("web_query", 0.7)
	ev := NewDecisionEvent("weather in berlin tomorrow", nil, o, l, *o, boolPtr(true))

	if ev.Agreement == nil || !*ev.Agreement {
		t.Errorf("agreement = %v, want true", ev.Agreement)
	}
	if ev.ConfidenceGap == nil || *ev.ConfidenceGap < 0.099 || *ev.ConfidenceGap > 0.101 {
		t.Errorf("confidence gap = %v, want ~0.1", ev.ConfidenceGap)
	}
}

func TestForEachOrderAndAgeFilter(t *testing.T) {
	s := openTestStore(t)
	now := time.Now().UTC()

	stale := NewDecisionEvent("old event", nil, nil, localResult("general_chat", 0.9), *localResult("general_chat", 0.9), nil)
	stale.Timestamp = now.AddDate(0, 0, -10)
	fresh := NewDecisionEvent("new event", nil, nil, localResult("general_chat", 0.9), *localResult("general_chat", 0.9), nil)
	fresh.Timestamp = now

	// Insert newest first to prove ordering comes from ts, not insert order.
	if err := s.Append(fresh); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if err := s.Append(stale); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	var texts []string
	if err := s.ForEach(0, func(e DecisionEvent) error {
		texts = append(texts, e.Text)
		return nil
	}); err != nil {
		t.Fatalf("ForEach failed: %v", err)
	}
	if len(texts) != 2 || texts[0] != "old event" || texts[1] != "new event" {
		t.Errorf("order = %v, want [old event, new event]", texts)
	}

	texts = nil
	if err := s.ForEach(5, func(e DecisionEvent) error {
		texts = append(texts, e.Text)
		return nil
	}); err != nil {
		t.Fatalf("ForEach failed: %v", err)
	}
	if len(texts) != 1 || texts[0] != "new event" {
		t.Errorf("age-filtered events = %v, want just the fresh one", texts)
	}
}

func TestPrune(t *testing.T) {
	s := openTestStore(t)
	now := time.Now().UTC()

	for _, age := range []int{0, 5, 40, 60} {
		ev := NewDecisionEvent("event", nil, nil, localResult("general_chat", 0.9), *localResult("general_chat", 0.9), nil)
		ev.Timestamp = now.AddDate(0, 0, -age)
		if err := s.Append(ev); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	removed, err := s.Prune(30)
	if err != nil {
		t.Fatalf("Prune failed: %v", err)
	}
	if removed != 2 {
		t.Errorf("removed = %d, want 2", removed)
	}
	n, err := s.Count()
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if n != 2 {
		t.Errorf("remaining = %d, want 2", n)
	}

	// maxDays <= 0 disables pruning.
	if removed, err := s.Prune(0); err != nil || removed != 0 {
		t.Errorf("Prune(0) = (%d, %v), want (0, nil)", removed, err)
	}
}

func TestCollectStats(t *testing.T) {
	s := openTestStore(t)

	o := oracleResult("web_query", 0.9)
	l := localResult("web_query", 0.8)
	if err := s.Append(NewDecisionEvent("agreeing", nil, o, l, *o, boolPtr(true))); err != nil {
		t.Fatal(err)
	}

	o2 := oracleResult("general_chat", 0.9)
	l2 := localResult("web_query", 0.8)
	if err := s.Append(NewDecisionEvent("disagreeing", nil, o2, l2, *o2, boolPtr(false))); err != nil {
		t.Fatal(err)
	}

	bg := NewDecisionEvent("deferred check", nil, o, l, *o, boolPtr(true))
	bg.Background = true
	if err := s.Append(bg); err != nil {
		t.Fatal(err)
	}

	if err := s.Append(NewDecisionEvent("nothing answered", nil, nil, nil, intent.Fallback(0), nil)); err != nil {
		t.Fatal(err)
	}

	st, err := s.CollectStats()
	if err != nil {
		t.Fatalf("CollectStats failed: %v", err)
	}
	if st.TotalEvents != 4 {
		t.Errorf("total = %d, want 4", st.TotalEvents)
	}
	if st.BySource["oracle"] != 3 || st.BySource["fallback"] != 1 {
		t.Errorf("by source = %v", st.BySource)
	}
	if st.ComparableEvents != 3 {
		t.Errorf("comparable = %d, want 3", st.ComparableEvents)
	}
	if st.AgreementRate == nil {
		t.Fatal("agreement rate should be set")
	}
	if got := *st.AgreementRate; got < 0.66 || got > 0.67 {
		t.Errorf("agreement rate = %v, want 2/3", got)
	}
	if st.BackgroundEvents != 1 {
		t.Errorf("background = %d, want 1", st.BackgroundEvents)
	}
}

func TestRedact(t *testing.T) {
	cases := []struct{ in, want string }{
		{"no pii here", "no pii here"},
		{"reach me at bob@corp.io", "reach me at [EMAIL]"},
		{"call 555-123-4567 now", "call [PHONE] now"},
	}
	for _, tc := range cases {
		if got := Redact(tc.in); got != tc.want {
			t.Errorf("Redact(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
