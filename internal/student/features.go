package student

import (
	"hash/fnv"
	"math"
	"strings"
)

const (
	// FeatureDim is the size of the hashed feature space.
	FeatureDim = 1 << 15

	minGram = 2
	maxGram = 5
)

// Vectorize maps text to a sparse, L2-normalized bag of hashed character
// n-grams. Hashing keeps the feature space fixed so models trained at
// different times stay dimensionally compatible.
func Vectorize(text string) map[uint32]float32 {
	runes := []rune(strings.ToLower(strings.TrimSpace(text)))
	feats := make(map[uint32]float32)
	if len(runes) == 0 {
		return feats
	}

	for n := minGram; n <= maxGram; n++ {
		if len(runes) < n {
			break
		}
		for i := 0; i+n <= len(runes); i++ {
			feats[hashGram(string(runes[i:i+n]))]++
		}
	}

	var norm float64
	for _, v := range feats {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		inv := float32(1 / math.Sqrt(norm))
		for k, v := range feats {
			feats[k] = v * inv
		}
	}
	return feats
}

func hashGram(gram string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(gram))
	return h.Sum32() % FeatureDim
}
