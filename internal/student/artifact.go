package student

import (
	"encoding/gob"
	"fmt"
	"os"
)

// Save writes the model artifact to path using gob encoding. Callers that
// need crash-safe replacement write to a temporary path first and rename.
func Save(m *Model, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating model file: %w", err)
	}
	if err := gob.NewEncoder(f).Encode(m); err != nil {
		f.Close()
		return fmt.Errorf("encoding model: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing model file: %w", err)
	}
	return nil
}

// Load reads a model artifact from path.
func Load(path string) (*Model, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening model file: %w", err)
	}
	defer f.Close()

	var m Model
	if err := gob.NewDecoder(f).Decode(&m); err != nil {
		return nil, fmt.Errorf("decoding model: %w", err)
	}
	if m.Dim != FeatureDim {
		return nil, fmt.Errorf("model dimension %d does not match feature space %d", m.Dim, FeatureDim)
	}
	if len(m.Weights) != len(m.Classes) || len(m.Bias) != len(m.Classes) {
		return nil, fmt.Errorf("model artifact is inconsistent: %d classes, %d weight rows, %d biases",
			len(m.Classes), len(m.Weights), len(m.Bias))
	}
	return &m, nil
}
