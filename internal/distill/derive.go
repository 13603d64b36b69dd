package distill

import (
	"errors"
	"sort"

	"github.com/intale-ai/intentd/internal/events"
	"github.com/intale-ai/intentd/internal/labels"
)

// DeriveLabelSpace counts oracle labels across the selectable corpus and
// freezes the topK most frequent, merged with the base classes so a thin
// history cannot produce a degenerate space. Used at startup when no label
// config exists.
func DeriveLabelSpace(source EventSource, th Thresholds, maxDays, topK int) (labels.Space, error) {
	if topK <= 0 {
		topK = 64
	}

	counts := make(map[string]int)
	err := source.ForEach(maxDays, func(ev events.DecisionEvent) error {
		if s, ok := th.Select(ev); ok {
			counts[s.Label]++
		}
		return nil
	})
	if err != nil && !errors.Is(err, errBatchFull) {
		return labels.Space{}, err
	}

	derived := make([]string, 0, len(counts))
	for label := range counts {
		derived = append(derived, label)
	}
	sort.Slice(derived, func(i, j int) bool {
		if counts[derived[i]] != counts[derived[j]] {
			return counts[derived[i]] > counts[derived[j]]
		}
		return derived[i] < derived[j]
	})
	if len(derived) > topK {
		derived = derived[:topK]
	}
	return labels.Merge(derived), nil
}
