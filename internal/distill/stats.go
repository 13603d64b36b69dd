package distill

import (
	"errors"

	"github.com/intale-ai/intentd/internal/events"
)

// Info describes the trainer's current state and the training corpus it
// would draw from on the next run.
type Info struct {
	ModelAvailable bool     `json:"model_available"`
	ModelVersion   string   `json:"model_version,omitempty"`
	ModelPath      string   `json:"model_path"`
	LabelCount     int      `json:"label_count"`
	Labels         []string `json:"labels"`
	Params         Params   `json:"params"`

	TotalSamples      int            `json:"total_samples"`
	LabelDistribution map[string]int `json:"label_distribution"`
	AgreementRate     float64        `json:"agreement_rate"`
	CorrectionRate    float64        `json:"correction_rate"`
	WeightMin         float64        `json:"weight_min"`
	WeightMax         float64        `json:"weight_max"`
	WeightAvg         float64        `json:"weight_avg"`
}

// Stats summarizes the selectable training corpus without training anything.
// Unlike TrainOnce it scans past the batch cap, so operators see the whole
// picture.
func (t *Trainer) Stats() (Info, error) {
	info := Info{
		ModelAvailable:    t.classifier.IsAvailable(),
		ModelVersion:      t.classifier.Version(),
		ModelPath:         t.classifier.Path(),
		LabelCount:        t.space.Len(),
		Labels:            t.space.Names(),
		Params:            t.params,
		LabelDistribution: make(map[string]int),
	}

	var totalWeight float64
	var corrections int
	err := t.source.ForEach(t.params.MaxDays, func(ev events.DecisionEvent) error {
		s, ok := t.params.Thresholds.Select(ev)
		if !ok {
			return nil
		}
		info.TotalSamples++
		info.LabelDistribution[s.Label]++
		totalWeight += s.Weight
		if info.WeightMin == 0 || s.Weight < info.WeightMin {
			info.WeightMin = s.Weight
		}
		if s.Weight > info.WeightMax {
			info.WeightMax = s.Weight
		}
		if s.Kind == KindCorrection {
			corrections++
		}
		return nil
	})
	if err != nil && !errors.Is(err, errBatchFull) {
		return Info{}, err
	}

	if info.TotalSamples > 0 {
		info.WeightAvg = totalWeight / float64(info.TotalSamples)
		info.CorrectionRate = float64(corrections) / float64(info.TotalSamples)
		info.AgreementRate = float64(info.TotalSamples-corrections) / float64(info.TotalSamples)
	}
	return info, nil
}
