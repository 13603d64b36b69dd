package student

import (
	"fmt"
	"math"
	"math/rand"
	"time"
)

// Training hyperparameters. Values are deliberately conservative: the model
// retrains often on small batches, so stability matters more than fit speed.
const (
	learningRate = 0.1
	l2Alpha      = 1e-5
	epochs       = 5
)

// Sample is one weighted training example.
type Sample struct {
	Features map[uint32]float32
	Class    int
	Weight   float32
}

// Model is a multinomial logistic classifier over the hashed feature space.
// Classes are frozen at construction and sorted, so class indices are stable
// for the lifetime of the artifact.
type Model struct {
	Version   string
	CreatedAt time.Time
	Dim       int
	Classes   []string
	Weights   [][]float32
	Bias      []float32
}

// NewModel allocates a zero-weight model over the given class list. The
// caller is responsible for passing a deduplicated, sorted class list.
func NewModel(classes []string) *Model {
	weights := make([][]float32, len(classes))
	for i := range weights {
		weights[i] = make([]float32, FeatureDim)
	}
	return &Model{
		Version:   time.Now().UTC().Format("20060102T150405.000Z"),
		CreatedAt: time.Now().UTC(),
		Dim:       FeatureDim,
		Classes:   append([]string(nil), classes...),
		Weights:   weights,
		Bias:      make([]float32, len(classes)),
	}
}

// Clone deep-copies the model with a fresh version stamp. Training always
// operates on a clone so the serving model is never mutated in place.
func (m *Model) Clone() *Model {
	weights := make([][]float32, len(m.Weights))
	for i, row := range m.Weights {
		weights[i] = append([]float32(nil), row...)
	}
	return &Model{
		Version:   time.Now().UTC().Format("20060102T150405.000Z"),
		CreatedAt: time.Now().UTC(),
		Dim:       m.Dim,
		Classes:   append([]string(nil), m.Classes...),
		Weights:   weights,
		Bias:      append([]float32(nil), m.Bias...),
	}
}

// ClassIndex returns the index of label, or -1 when the model was not
// trained on it.
func (m *Model) ClassIndex(label string) int {
	for i, c := range m.Classes {
		if c == label {
			return i
		}
	}
	return -1
}

// Predict scores the sparse feature vector and returns the winning label
// with its softmax probability.
func (m *Model) Predict(feats map[uint32]float32) (string, float64) {
	probs := m.probabilities(feats)
	best, bestP := 0, probs[0]
	for i, p := range probs {
		if p > bestP {
			best, bestP = i, p
		}
	}
	return m.Classes[best], bestP
}

func (m *Model) probabilities(feats map[uint32]float32) []float64 {
	scores := make([]float64, len(m.Classes))
	for k := range scores {
		s := float64(m.Bias[k])
		w := m.Weights[k]
		for idx, v := range feats {
			s += float64(w[idx]) * float64(v)
		}
		scores[k] = s
	}
	return softmax(scores)
}

// Fit runs weighted SGD over the samples. Regularization is applied lazily
// on the features each sample touches, which keeps a pass proportional to
// the sparse input rather than the full weight matrix.
func (m *Model) Fit(samples []Sample, seed int64) error {
	if len(samples) == 0 {
		return fmt.Errorf("no samples to fit")
	}
	for _, s := range samples {
		if s.Class < 0 || s.Class >= len(m.Classes) {
			return fmt.Errorf("sample class %d out of range [0,%d)", s.Class, len(m.Classes))
		}
	}

	rng := rand.New(rand.NewSource(seed))
	order := make([]int, len(samples))
	for i := range order {
		order[i] = i
	}

	for range epochs {
		rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
		for _, si := range order {
			m.step(samples[si])
		}
	}
	return nil
}

func (m *Model) step(s Sample) {
	probs := m.probabilities(s.Features)
	for k := range m.Classes {
		target := 0.0
		if k == s.Class {
			target = 1.0
		}
		grad := (probs[k] - target) * float64(s.Weight)
		if grad == 0 {
			continue
		}
		w := m.Weights[k]
		for idx, v := range s.Features {
			w[idx] -= float32(learningRate * (grad*float64(v) + l2Alpha*float64(w[idx])))
		}
		m.Bias[k] -= float32(learningRate * grad)
	}
}

func softmax(scores []float64) []float64 {
	maxS := scores[0]
	for _, s := range scores[1:] {
		if s > maxS {
			maxS = s
		}
	}
	var sum float64
	out := make([]float64, len(scores))
	for i, s := range scores {
		out[i] = math.Exp(s - maxS)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}
