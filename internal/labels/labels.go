// Package labels owns the intent label space: the ordered, fixed set of
// valid intents for one generation of the student model. The space is loaded
// from a config file when one exists, otherwise derived once from historical
// events, and frozen afterwards — online partial updates require every class
// to be known up front, so changing the set means a new model generation.
package labels

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
)

// BaseClasses is the conservative default intent set. Derived spaces always
// include these so a thin event history cannot produce a degenerate space.
func BaseClasses() []string {
	return []string{
		"general_chat",
		"web_query",
		"local_search",
		"medical_support",
		"sensitive_support",
		"creative_expression",
		"analytical_inquiry",
		"emotional_support",
		"collaborative_task",
		"technical_assistance",
		"math_calculation",
		"file_operation",
		"doc_summary",
	}
}

// Space is a frozen label space. The slice is sorted and never mutated after
// construction.
type Space struct {
	names []string
	index map[string]int
}

// NewSpace freezes the given labels into a Space, deduplicating and sorting.
func NewSpace(names []string) Space {
	seen := make(map[string]bool, len(names))
	var out []string
	for _, n := range names {
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	sort.Strings(out)

	idx := make(map[string]int, len(out))
	for i, n := range out {
		idx[n] = i
	}
	return Space{names: out, index: idx}
}

// Names returns the sorted labels. Callers must not mutate the result.
func (s Space) Names() []string { return s.names }

// Len returns the number of labels.
func (s Space) Len() int { return len(s.names) }

// Index returns the position of the label in the space, or -1 if absent.
func (s Space) Index(label string) int {
	i, ok := s.index[label]
	if !ok {
		return -1
	}
	return i
}

// Contains reports whether the label belongs to the space.
func (s Space) Contains(label string) bool {
	_, ok := s.index[label]
	return ok
}

// Equal reports whether two spaces hold the same label set.
func (s Space) Equal(other Space) bool {
	if len(s.names) != len(other.names) {
		return false
	}
	for i, n := range s.names {
		if other.names[i] != n {
			return false
		}
	}
	return true
}

// LoadFile reads a JSON array of label strings from path.
func LoadFile(path string) (Space, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Space{}, fmt.Errorf("reading labels file: %w", err)
	}
	var names []string
	if err := json.Unmarshal(data, &names); err != nil {
		return Space{}, fmt.Errorf("parsing labels file %s: %w", path, err)
	}
	if len(names) == 0 {
		return Space{}, fmt.Errorf("labels file %s lists no labels", path)
	}
	return NewSpace(names), nil
}

// Merge combines derived labels with the base classes into one frozen space.
func Merge(derived []string) Space {
	return NewSpace(append(derived, BaseClasses()...))
}
