package distill

import (
	"math/rand"
)

// Validation is held out only once the batch is big enough to spare it.
const (
	minSamplesForValidation = 10
	validationFraction      = 0.2
	splitSeed               = 42
)

// split carves out a held-out validation set, stratified by label so every
// class keeps both training and validation coverage. When any label is too
// scarce to stratify, it degrades to a plain random split, and below the
// minimum batch size everything goes to training.
func split(samples []Sample) (train, validation []Sample) {
	if len(samples) < minSamplesForValidation {
		return samples, nil
	}

	rng := rand.New(rand.NewSource(splitSeed))
	if canStratify(samples) {
		return stratifiedSplit(samples, rng)
	}
	return randomSplit(samples, rng)
}

func canStratify(samples []Sample) bool {
	counts := make(map[string]int)
	for _, s := range samples {
		counts[s.Label]++
	}
	for _, n := range counts {
		if n < 2 {
			return false
		}
	}
	return true
}

func stratifiedSplit(samples []Sample, rng *rand.Rand) (train, validation []Sample) {
	byLabel := make(map[string][]int)
	var labels []string
	for i, s := range samples {
		if _, seen := byLabel[s.Label]; !seen {
			labels = append(labels, s.Label)
		}
		byLabel[s.Label] = append(byLabel[s.Label], i)
	}

	// Iterate labels in first-seen order so the seeded shuffle is
	// deterministic across runs.
	for _, label := range labels {
		idx := byLabel[label]
		rng.Shuffle(len(idx), func(i, j int) { idx[i], idx[j] = idx[j], idx[i] })

		nVal := int(float64(len(idx)) * validationFraction)
		if nVal < 1 {
			nVal = 1
		}
		for _, i := range idx[:nVal] {
			validation = append(validation, samples[i])
		}
		for _, i := range idx[nVal:] {
			train = append(train, samples[i])
		}
	}
	return train, validation
}

func randomSplit(samples []Sample, rng *rand.Rand) (train, validation []Sample) {
	idx := make([]int, len(samples))
	for i := range idx {
		idx[i] = i
	}
	rng.Shuffle(len(idx), func(i, j int) { idx[i], idx[j] = idx[j], idx[i] })

	nVal := int(float64(len(samples)) * validationFraction)
	if nVal < 1 {
		nVal = 1
	}
	for _, i := range idx[:nVal] {
		validation = append(validation, samples[i])
	}
	for _, i := range idx[nVal:] {
		train = append(train, samples[i])
	}
	return train, validation
}
