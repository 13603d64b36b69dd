// Package distill implements the online teacher-to-student training loop:
// it reads decision events back out of the store, derives weighted samples,
// runs an incremental update on a clone of the serving model, validates the
// result, and promotes it through an atomic candidate-then-rename swap only
// when quality clears the gate.
package distill

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/intale-ai/intentd/internal/events"
	"github.com/intale-ai/intentd/internal/labels"
	"github.com/intale-ai/intentd/internal/student"
)

// ErrTrainingInProgress is returned when TrainOnce is called while another
// run holds the training slot.
var ErrTrainingInProgress = errors.New("training already in progress")

// errBatchFull stops event iteration once the sample cap is reached.
var errBatchFull = errors.New("batch full")

// Report statuses.
const (
	StatusHotSwapped = "hotswapped"
	StatusKeptOld    = "kept_old"
	StatusSkipped    = "skipped"
	StatusFailed     = "failed"
)

// Report describes the outcome of one training run.
type Report struct {
	Trained           bool           `json:"trained"`
	Status            string         `json:"status"`
	Reason            string         `json:"reason,omitempty"`
	Samples           int            `json:"samples"`
	Labels            int            `json:"labels"`
	LabelDistribution map[string]int `json:"label_distribution,omitempty"`
	F1Macro           *float64       `json:"f1_macro"`
	Accuracy          *float64       `json:"accuracy"`
	ModelVersion      string         `json:"model_version,omitempty"`
}

// EventSource is the slice of the event store the trainer needs.
type EventSource interface {
	ForEach(maxAgeDays int, fn func(events.DecisionEvent) error) error
}

// Recorder receives training metrics.
type Recorder interface {
	ObserveTraining(status string)
	ObserveHotSwap(accepted bool)
	SetStudent(version string, f1 *float64)
}

// Params configures a trainer.
type Params struct {
	Thresholds   Thresholds `json:"thresholds"`
	BatchSize    int        `json:"batch_size"`
	HotSwapMinF1 float64    `json:"hot_swap_min_f1"`
	MaxDays      int        `json:"max_days"`
}

// DefaultParams mirror the configuration defaults.
func DefaultParams() Params {
	return Params{
		Thresholds:   DefaultThresholds(),
		BatchSize:    128,
		HotSwapMinF1: 0.85,
		MaxDays:      30,
	}
}

// Trainer runs distillation passes. At most one run is in flight at a time;
// concurrent calls fail fast with ErrTrainingInProgress.
type Trainer struct {
	params     Params
	source     EventSource
	classifier *student.Classifier
	space      labels.Space
	metrics    Recorder
	logger     *slog.Logger

	slot *semaphore.Weighted
}

// NewTrainer wires a trainer against the event source and the serving
// classifier.
func NewTrainer(params Params, source EventSource, classifier *student.Classifier, space labels.Space, rec Recorder, logger *slog.Logger) *Trainer {
	if params.BatchSize <= 0 {
		params.BatchSize = 128
	}
	if params.HotSwapMinF1 <= 0 {
		params.HotSwapMinF1 = 0.85
	}
	if params.MaxDays <= 0 {
		params.MaxDays = 30
	}
	return &Trainer{
		params:     params,
		source:     source,
		classifier: classifier,
		space:      space,
		metrics:    rec,
		logger:     logger,
		slot:       semaphore.NewWeighted(1),
	}
}

// TrainOnce runs a single distillation pass and reports what happened. The
// serving model keeps answering throughout; it changes only via an atomic
// swap after promotion.
func (t *Trainer) TrainOnce(ctx context.Context) (Report, error) {
	if !t.slot.TryAcquire(1) {
		return Report{}, ErrTrainingInProgress
	}
	defer t.slot.Release(1)

	report := t.runGuarded(ctx)
	t.metrics.ObserveTraining(report.Status)
	return report, nil
}

// runGuarded isolates panics from vectorization or fitting: they become a
// failed report, never a crashed server or a corrupted live artifact.
func (t *Trainer) runGuarded(ctx context.Context) (report Report) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("training run panicked", "panic", r)
			report = Report{Status: StatusFailed, Reason: fmt.Sprintf("panic: %v", r)}
		}
	}()
	return t.run(ctx)
}

func (t *Trainer) run(ctx context.Context) Report {
	samples, err := t.gather()
	if err != nil {
		t.logger.Error("gathering samples failed", "error", err)
		return Report{Status: StatusFailed, Reason: err.Error()}
	}
	if len(samples) == 0 {
		return Report{Status: StatusSkipped, Reason: "no_samples"}
	}

	train, validation := split(samples)

	candidate := t.nextModel()
	fitSamples := make([]student.Sample, 0, len(train))
	dist := make(map[string]int, t.space.Len())
	for _, s := range train {
		class := candidate.ClassIndex(s.Label)
		if class < 0 {
			// Oracle invented a label outside the frozen space.
			continue
		}
		fitSamples = append(fitSamples, student.Sample{
			Features: student.Vectorize(s.Text),
			Class:    class,
			Weight:   float32(s.Weight),
		})
		dist[s.Label]++
	}
	if len(fitSamples) == 0 {
		return Report{Status: StatusSkipped, Reason: "no_samples", Samples: len(samples)}
	}

	if err := candidate.Fit(fitSamples, splitSeed); err != nil {
		t.logger.Error("fitting candidate failed", "error", err)
		return Report{Status: StatusFailed, Reason: err.Error(), Samples: len(samples)}
	}

	f1, acc := t.validate(ctx, candidate, validation)

	report := Report{
		Trained:           true,
		Samples:           len(samples),
		Labels:            len(dist),
		LabelDistribution: dist,
		F1Macro:           f1,
		Accuracy:          acc,
		ModelVersion:      candidate.Version,
	}

	promoted, err := t.promote(candidate, f1)
	if err != nil {
		t.logger.Error("promoting candidate failed", "error", err)
		report.Trained = false
		report.Status = StatusFailed
		report.Reason = err.Error()
		return report
	}
	if promoted {
		report.Status = StatusHotSwapped
		t.metrics.SetStudent(candidate.Version, f1)
		t.logger.Info("student model hotswapped",
			"version", candidate.Version, "samples", len(samples), "f1_macro", floatOrNaN(f1))
	} else {
		report.Status = StatusKeptOld
		report.ModelVersion = t.classifier.Version()
		t.logger.Info("kept previous student model",
			"candidate_f1", floatOrNaN(f1), "threshold", t.params.HotSwapMinF1)
	}
	t.metrics.ObserveHotSwap(promoted)
	return report
}

// gather iterates the event store in timestamp order, applying the sample
// selection policy until the batch cap.
func (t *Trainer) gather() ([]Sample, error) {
	var samples []Sample
	err := t.source.ForEach(t.params.MaxDays, func(ev events.DecisionEvent) error {
		if s, ok := t.params.Thresholds.Select(ev); ok {
			samples = append(samples, s)
			if len(samples) >= t.params.BatchSize {
				return errBatchFull
			}
		}
		return nil
	})
	if err != nil && !errors.Is(err, errBatchFull) {
		return nil, err
	}
	return samples, nil
}

// nextModel clones the serving model when its class list still matches the
// frozen label space, so updates are incremental; otherwise it starts fresh.
func (t *Trainer) nextModel() *student.Model {
	if live := t.liveModel(); live != nil && t.space.Equal(labels.NewSpace(live.Classes)) {
		return live.Clone()
	}
	return student.NewModel(t.space.Names())
}

func (t *Trainer) liveModel() *student.Model {
	m, err := student.Load(t.classifier.Path())
	if err != nil {
		return nil
	}
	return m
}

// validate scores the candidate against the held-out set. Returns nils when
// no validation set exists; the caller then trusts the update.
func (t *Trainer) validate(ctx context.Context, m *student.Model, validation []Sample) (*float64, *float64) {
	if len(validation) == 0 {
		return nil, nil
	}

	yTrue := make([]string, len(validation))
	yPred := make([]string, len(validation))

	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, s := range validation {
		g.Go(func() error {
			label, _ := m.Predict(student.Vectorize(s.Text))
			yTrue[i] = s.Label
			yPred[i] = label
			return nil
		})
	}
	g.Wait()

	f1 := macroF1(yTrue, yPred)
	acc := accuracy(yTrue, yPred)
	return &f1, &acc
}

// promote writes the candidate next to the live artifact and renames it over
// only when the quality gate passes. The serving classifier reloads from the
// new artifact before promotion is considered done.
func (t *Trainer) promote(candidate *student.Model, f1 *float64) (bool, error) {
	tmpPath := t.classifier.Path() + ".tmp"
	if err := student.Save(candidate, tmpPath); err != nil {
		return false, fmt.Errorf("writing candidate artifact: %w", err)
	}

	if f1 != nil && *f1 < t.params.HotSwapMinF1 {
		os.Remove(tmpPath)
		return false, nil
	}

	if err := os.Rename(tmpPath, t.classifier.Path()); err != nil {
		os.Remove(tmpPath)
		return false, fmt.Errorf("promoting candidate artifact: %w", err)
	}
	if err := t.classifier.Reload(); err != nil {
		return false, fmt.Errorf("reloading promoted model: %w", err)
	}
	return true, nil
}

func floatOrNaN(f *float64) any {
	if f == nil {
		return "n/a"
	}
	return *f
}
