package distill

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"path/filepath"
	"sync"
	"testing"

	"github.com/intale-ai/intentd/internal/events"
	"github.com/intale-ai/intentd/internal/intent"
	"github.com/intale-ai/intentd/internal/labels"
	"github.com/intale-ai/intentd/internal/student"
)

type fakeRecorder struct {
	mu       sync.Mutex
	statuses []string
	swaps    []bool
	version  string
	f1       *float64
}

func (f *fakeRecorder) ObserveTraining(status string) {
	f.mu.Lock()
	f.statuses = append(f.statuses, status)
	f.mu.Unlock()
}

func (f *fakeRecorder) ObserveHotSwap(accepted bool) {
	f.mu.Lock()
	f.swaps = append(f.swaps, accepted)
	f.mu.Unlock()
}

func (f *fakeRecorder) SetStudent(version string, f1 *float64) {
	f.mu.Lock()
	f.version = version
	f.f1 = f1
	f.mu.Unlock()
}

func testLogger() *slog.Logger { return slog.New(slog.DiscardHandler) }

func oracleRes(label string, conf float64) *intent.Result {
	return &intent.Result{
		Intent: label, Confidence: conf, Tags: []string{}, Safety: []string{},
		Source: intent.SourceOracle, ModelAvailable: true,
	}
}

func localRes(label string, conf float64) *intent.Result {
	return &intent.Result{
		Intent: label, Confidence: conf, Tags: []string{}, Safety: []string{},
		Source: intent.SourceLocal, ModelAvailable: true,
	}
}

func appendAgreement(t *testing.T, store *events.Store, text, label string, conf float64) {
	t.Helper()
	o, l := oracleRes(label, conf), localRes(label, conf-0.1)
	agree := true
	if err := store.Append(events.NewDecisionEvent(text, nil, o, l, *o, &agree)); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
}

func appendOracleOnly(t *testing.T, store *events.Store, text, label string, conf float64) {
	t.Helper()
	o := oracleRes(label, conf)
	if err := store.Append(events.NewDecisionEvent(text, nil, o, nil, *o, nil)); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
}

func newTestTrainer(t *testing.T, store *events.Store, params Params) (*Trainer, *student.Classifier, *fakeRecorder) {
	t.Helper()
	classifier := student.NewClassifier(filepath.Join(t.TempDir(), "student.gob"))
	space := labels.NewSpace(labels.BaseClasses())
	rec := &fakeRecorder{}
	return NewTrainer(params, store, classifier, space, rec, testLogger()), classifier, rec
}

func openStore(t *testing.T) *events.Store {
	t.Helper()
	s, err := events.Open(":memory:")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSelectRules(t *testing.T) {
	th := DefaultThresholds()

	mk := func(text string, o, l *intent.Result) events.DecisionEvent {
		var final intent.Result
		if o != nil {
			final = *o
		}
		return events.NewDecisionEvent(text, nil, o, l, final, nil)
	}

	// Agreement: matching intents, confident oracle.
	s, ok := th.Select(mk("find a dentist nearby", oracleRes("local_search", 0.9), localRes("local_search", 0.7)))
	if !ok || s.Kind != KindAgreement {
		t.Fatalf("agreement sample = %+v, ok = %v", s, ok)
	}
	if s.Label != "local_search" || math.Abs(s.Weight-0.9) > 1e-9 {
		t.Errorf("sample = %+v, want label local_search weight 0.9", s)
	}

	// Correction: confident oracle, hesitant student, boosted weight.
	s, ok = th.Select(mk("integrate x squared", oracleRes("math_calculation", 0.9), localRes("general_chat", 0.3)))
	if !ok || s.Kind != KindCorrection {
		t.Fatalf("correction sample = %+v, ok = %v", s, ok)
	}
	if math.Abs(s.Weight-1.35) > 1e-9 {
		t.Errorf("correction weight = %v, want 0.9*1.5", s.Weight)
	}

	// Correction also applies when the student had no model at all.
	if _, ok = th.Select(mk("summarize this paper", oracleRes("doc_summary", 0.85), nil)); !ok {
		t.Error("oracle-only event with confident oracle should be selected")
	}

	// Not informative: oracle unsure and student disagrees.
	if _, ok = th.Select(mk("hmm", oracleRes("general_chat", 0.5), localRes("web_query", 0.6))); ok {
		t.Error("low-confidence disagreement should be skipped")
	}

	// Matching intents but oracle below the agreement bar.
	if _, ok = th.Select(mk("hello", oracleRes("general_chat", 0.6), localRes("general_chat", 0.9))); ok {
		t.Error("weak oracle agreement should be skipped")
	}

	// No oracle label at all.
	if _, ok = th.Select(mk("hello", nil, localRes("general_chat", 0.9))); ok {
		t.Error("event without oracle result should be skipped")
	}

	// Blank text.
	if _, ok = th.Select(mk("   ", oracleRes("general_chat", 0.95), localRes("general_chat", 0.9))); ok {
		t.Error("blank text should be skipped")
	}
}

func TestSplitSmallBatchSkipsValidation(t *testing.T) {
	samples := make([]Sample, 9)
	for i := range samples {
		samples[i] = Sample{Text: "t", Label: "general_chat", Weight: 1}
	}
	train, validation := split(samples)
	if len(train) != 9 || validation != nil {
		t.Errorf("split = %d/%d, want 9/0", len(train), len(validation))
	}
}

func TestSplitStratifiedKeepsLabelCoverage(t *testing.T) {
	var samples []Sample
	for _, label := range []string{"general_chat", "web_query"} {
		for i := range 10 {
			samples = append(samples, Sample{Text: fmt.Sprintf("%s %d", label, i), Label: label, Weight: 1})
		}
	}

	train, validation := split(samples)
	if len(train)+len(validation) != 20 {
		t.Fatalf("split lost samples: %d + %d", len(train), len(validation))
	}
	count := func(ss []Sample, label string) int {
		n := 0
		for _, s := range ss {
			if s.Label == label {
				n++
			}
		}
		return n
	}
	for _, label := range []string{"general_chat", "web_query"} {
		if count(validation, label) != 2 {
			t.Errorf("validation has %d %s samples, want 2", count(validation, label), label)
		}
		if count(train, label) != 8 {
			t.Errorf("train has %d %s samples, want 8", count(train, label), label)
		}
	}
}

func TestSplitFallsBackWhenLabelScarce(t *testing.T) {
	samples := []Sample{{Text: "lone", Label: "rare_label", Weight: 1}}
	for i := range 11 {
		samples = append(samples, Sample{Text: fmt.Sprintf("chat %d", i), Label: "general_chat", Weight: 1})
	}

	train, validation := split(samples)
	if len(validation) == 0 {
		t.Error("random fallback should still hold out a validation set")
	}
	if len(train)+len(validation) != 12 {
		t.Errorf("split lost samples: %d + %d", len(train), len(validation))
	}
}

func TestMacroF1AndAccuracy(t *testing.T) {
	yTrue := []string{"a", "a", "b", "b"}
	yPred := []string{"a", "a", "a", "a"}

	// Class a: precision 0.5, recall 1.0 -> F1 2/3; class b: 0. Macro = 1/3.
	if got := macroF1(yTrue, yPred); math.Abs(got-1.0/3.0) > 1e-9 {
		t.Errorf("macroF1 = %v, want 1/3", got)
	}
	if got := accuracy(yTrue, yPred); got != 0.5 {
		t.Errorf("accuracy = %v, want 0.5", got)
	}
	if got := macroF1([]string{"a"}, []string{"a"}); got != 1.0 {
		t.Errorf("perfect macroF1 = %v, want 1", got)
	}
}

func TestTrainOnceNoSamples(t *testing.T) {
	trainer, classifier, rec := newTestTrainer(t, openStore(t), DefaultParams())

	report, err := trainer.TrainOnce(context.Background())
	if err != nil {
		t.Fatalf("TrainOnce failed: %v", err)
	}
	if report.Trained || report.Status != StatusSkipped || report.Reason != "no_samples" {
		t.Errorf("report = %+v, want skipped/no_samples", report)
	}
	if classifier.IsAvailable() {
		t.Error("no-op run must not create a model")
	}
	if len(rec.statuses) != 1 || rec.statuses[0] != StatusSkipped {
		t.Errorf("recorded statuses = %v", rec.statuses)
	}
}

func TestTrainOncePromotesUnvalidatedUpdate(t *testing.T) {
	store := openStore(t)
	// Below the validation minimum: the update is trusted and promoted.
	for i := range 5 {
		appendOracleOnly(t, store, fmt.Sprintf("what is %d times %d", i, i+2), "math_calculation", 0.9)
	}

	trainer, classifier, rec := newTestTrainer(t, store, DefaultParams())
	report, err := trainer.TrainOnce(context.Background())
	if err != nil {
		t.Fatalf("TrainOnce failed: %v", err)
	}

	if !report.Trained || report.Status != StatusHotSwapped {
		t.Fatalf("report = %+v, want hotswapped", report)
	}
	if report.F1Macro != nil || report.Accuracy != nil {
		t.Error("unvalidated run must report nil scores")
	}
	if report.Samples != 5 {
		t.Errorf("samples = %d, want 5", report.Samples)
	}
	if !classifier.IsAvailable() || classifier.Version() != report.ModelVersion {
		t.Errorf("classifier version = %q, report version = %q", classifier.Version(), report.ModelVersion)
	}
	if len(rec.swaps) != 1 || !rec.swaps[0] {
		t.Errorf("swaps = %v", rec.swaps)
	}
	if rec.version != report.ModelVersion {
		t.Errorf("metrics version = %q, want %q", rec.version, report.ModelVersion)
	}
}

func TestTrainOnceKeepsOldModelOnPoorValidation(t *testing.T) {
	store := openStore(t)
	// Identical text mapped to two labels: no model can validate well here.
	for i := range 10 {
		label := "general_chat"
		if i%2 == 0 {
			label = "web_query"
		}
		appendAgreement(t, store, "the same ambiguous text", label, 0.9)
	}

	trainer, classifier, rec := newTestTrainer(t, store, DefaultParams())

	// Seed a live model so there is something to keep.
	first, err := trainer.TrainOnce(context.Background())
	if err != nil {
		t.Fatalf("seed TrainOnce failed: %v", err)
	}
	if first.Status != StatusKeptOld {
		// With a conflicting corpus the very first run also fails the gate,
		// leaving no live model.
		t.Fatalf("seed status = %q, want kept_old", first.Status)
	}
	if classifier.IsAvailable() {
		t.Error("rejected candidate must not become the live model")
	}
	if first.F1Macro == nil || *first.F1Macro >= 0.85 {
		t.Errorf("f1 = %v, expected a failing score", first.F1Macro)
	}
	if len(rec.swaps) != 1 || rec.swaps[0] {
		t.Errorf("swaps = %v, want one rejection", rec.swaps)
	}
}

func TestTrainOncePromotesSeparableCorpus(t *testing.T) {
	store := openStore(t)
	texts := map[string][]string{
		"math_calculation": {
			"what is 12 times 8", "compute 44 plus 17", "what is 90 divided by 6",
			"calculate 15 percent of 200", "what is the square of 14",
			"solve 2x = 18", "what is 7 factorial", "compute 100 minus 37",
		},
		"general_chat": {
			"hey how are you", "good morning friend", "hello nice to see you",
			"hi what's up today", "hey there how was your day",
			"good evening, how are things", "hello again my friend", "hi, long time no see",
		},
	}
	for label, ts := range texts {
		for _, txt := range ts {
			appendAgreement(t, store, txt, label, 0.95)
		}
	}

	trainer, classifier, _ := newTestTrainer(t, store, DefaultParams())
	report, err := trainer.TrainOnce(context.Background())
	if err != nil {
		t.Fatalf("TrainOnce failed: %v", err)
	}
	if report.Status != StatusHotSwapped {
		t.Fatalf("report = %+v, want hotswapped on a separable corpus", report)
	}
	if report.F1Macro == nil || *report.F1Macro < 0.85 {
		t.Errorf("f1 = %v, want >= 0.85", report.F1Macro)
	}

	res, ok := classifier.Classify("what is 5 times 5")
	if !ok || res.Intent != "math_calculation" {
		t.Errorf("promoted model predicts %+v", res)
	}
}

func TestTrainOnceRespectsBatchCap(t *testing.T) {
	store := openStore(t)
	for i := range 20 {
		appendOracleOnly(t, store, fmt.Sprintf("compute %d plus %d", i, i), "math_calculation", 0.9)
	}

	params := DefaultParams()
	params.BatchSize = 7
	trainer, _, _ := newTestTrainer(t, store, params)

	report, err := trainer.TrainOnce(context.Background())
	if err != nil {
		t.Fatalf("TrainOnce failed: %v", err)
	}
	if report.Samples != 7 {
		t.Errorf("samples = %d, want the batch cap of 7", report.Samples)
	}
}

func TestTrainOnceSingleFlight(t *testing.T) {
	trainer, _, _ := newTestTrainer(t, openStore(t), DefaultParams())

	if !trainer.slot.TryAcquire(1) {
		t.Fatal("could not take the training slot")
	}
	defer trainer.slot.Release(1)

	if _, err := trainer.TrainOnce(context.Background()); !errors.Is(err, ErrTrainingInProgress) {
		t.Errorf("err = %v, want ErrTrainingInProgress", err)
	}
}

func TestEvaluateRequiresModel(t *testing.T) {
	trainer, _, _ := newTestTrainer(t, openStore(t), DefaultParams())
	if _, err := trainer.Evaluate(10); err == nil {
		t.Error("Evaluate without a model should fail")
	}
}

func TestEvaluateScoresLiveModel(t *testing.T) {
	store := openStore(t)
	for i := range 8 {
		appendOracleOnly(t, store, fmt.Sprintf("what is %d plus %d", i, i+1), "math_calculation", 0.9)
	}

	params := DefaultParams()
	trainer, _, _ := newTestTrainer(t, store, params)
	if _, err := trainer.TrainOnce(context.Background()); err != nil {
		t.Fatalf("TrainOnce failed: %v", err)
	}

	eval, err := trainer.Evaluate(100)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if eval.TestSamples != 8 {
		t.Errorf("test samples = %d, want 8", eval.TestSamples)
	}
	if eval.Accuracy < 0.9 {
		t.Errorf("accuracy = %v on the training corpus, want high", eval.Accuracy)
	}
	if _, ok := eval.PerLabel["math_calculation"]; !ok {
		t.Error("per-label report missing math_calculation")
	}
}

func TestStats(t *testing.T) {
	store := openStore(t)
	appendAgreement(t, store, "hello there", "general_chat", 0.9)
	appendOracleOnly(t, store, "integrate this", "math_calculation", 0.9)

	trainer, _, _ := newTestTrainer(t, store, DefaultParams())
	info, err := trainer.Stats()
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if info.TotalSamples != 2 {
		t.Errorf("total = %d, want 2", info.TotalSamples)
	}
	if info.CorrectionRate != 0.5 || info.AgreementRate != 0.5 {
		t.Errorf("rates = %v/%v, want 0.5/0.5", info.AgreementRate, info.CorrectionRate)
	}
	if info.WeightMax <= info.WeightMin {
		t.Errorf("weights = [%v, %v], correction boost should raise the max", info.WeightMin, info.WeightMax)
	}
	if info.ModelAvailable {
		t.Error("no model has been trained yet")
	}
	if info.LabelCount != len(labels.BaseClasses()) {
		t.Errorf("label count = %d", info.LabelCount)
	}
}

func TestDeriveLabelSpace(t *testing.T) {
	store := openStore(t)
	appendOracleOnly(t, store, "refactor my parser", "custom_refactoring", 0.9)
	appendOracleOnly(t, store, "rename these symbols", "custom_refactoring", 0.9)

	space, err := DeriveLabelSpace(store, DefaultThresholds(), 30, 64)
	if err != nil {
		t.Fatalf("DeriveLabelSpace failed: %v", err)
	}
	if !space.Contains("custom_refactoring") {
		t.Error("derived space should include observed labels")
	}
	for _, base := range labels.BaseClasses() {
		if !space.Contains(base) {
			t.Errorf("derived space missing base class %s", base)
		}
	}
}

func TestSchedulerRunOncePrunes(t *testing.T) {
	store := openStore(t)
	old := events.NewDecisionEvent("ancient", nil, oracleRes("general_chat", 0.9), nil, *oracleRes("general_chat", 0.9), nil)
	old.Timestamp = old.Timestamp.AddDate(0, 0, -90)
	if err := store.Append(old); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	trainer, _, _ := newTestTrainer(t, store, DefaultParams())
	sched := NewScheduler(trainer, store, 0, testLogger())
	sched.RunOnce(context.Background())

	n, err := store.Count()
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if n != 0 {
		t.Errorf("events after prune = %d, want 0", n)
	}
}
