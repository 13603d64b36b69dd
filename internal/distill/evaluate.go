package distill

import (
	"errors"
	"fmt"

	"github.com/intale-ai/intentd/internal/events"
)

// LabelScore is the per-label slice of an evaluation report.
type LabelScore struct {
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1        float64 `json:"f1"`
	Support   int     `json:"support"`
}

// Evaluation scores the live model against recent oracle-labeled samples.
type Evaluation struct {
	TestSamples int                   `json:"test_samples"`
	F1Macro     float64               `json:"f1_macro"`
	Accuracy    float64               `json:"accuracy"`
	PerLabel    map[string]LabelScore `json:"per_label"`
}

// Evaluate runs the live model over up to limit selected samples from the
// store and reports how well it reproduces the oracle's labels. It never
// touches the artifact on disk.
func (t *Trainer) Evaluate(limit int) (Evaluation, error) {
	if !t.classifier.IsAvailable() {
		return Evaluation{}, fmt.Errorf("no trained model available")
	}
	if limit <= 0 {
		limit = 100
	}

	var yTrue, yPred []string
	err := t.source.ForEach(t.params.MaxDays, func(ev events.DecisionEvent) error {
		s, ok := t.params.Thresholds.Select(ev)
		if !ok {
			return nil
		}
		res, ok := t.classifier.Classify(s.Text)
		if !ok {
			return fmt.Errorf("model became unavailable during evaluation")
		}
		yTrue = append(yTrue, s.Label)
		yPred = append(yPred, res.Intent)
		if len(yTrue) >= limit {
			return errBatchFull
		}
		return nil
	})
	if err != nil && !errors.Is(err, errBatchFull) {
		return Evaluation{}, err
	}
	if len(yTrue) == 0 {
		return Evaluation{}, fmt.Errorf("no evaluation samples available")
	}

	return Evaluation{
		TestSamples: len(yTrue),
		F1Macro:     macroF1(yTrue, yPred),
		Accuracy:    accuracy(yTrue, yPred),
		PerLabel:    perLabelScores(yTrue, yPred),
	}, nil
}

func perLabelScores(yTrue, yPred []string) map[string]LabelScore {
	scores := make(map[string]LabelScore)
	classes := make(map[string]struct{})
	for _, y := range yTrue {
		classes[y] = struct{}{}
	}
	for _, y := range yPred {
		classes[y] = struct{}{}
	}

	for class := range classes {
		var tp, fp, fn float64
		support := 0
		for i := range yTrue {
			if yTrue[i] == class {
				support++
			}
			switch {
			case yPred[i] == class && yTrue[i] == class:
				tp++
			case yPred[i] == class:
				fp++
			case yTrue[i] == class:
				fn++
			}
		}
		var precision, recall, f1 float64
		if tp > 0 {
			precision = tp / (tp + fp)
			recall = tp / (tp + fn)
			f1 = 2 * precision * recall / (precision + recall)
		}
		scores[class] = LabelScore{Precision: precision, Recall: recall, F1: f1, Support: support}
	}
	return scores
}
