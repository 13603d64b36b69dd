package labels

import (
	"os"
	"path/filepath"
	"sort"
	"testing"
)

func TestNewSpaceDedupesAndSorts(t *testing.T) {
	s := NewSpace([]string{"web_query", "general_chat", "web_query", "", "math_calculation"})
	names := s.Names()
	if len(names) != 3 {
		t.Fatalf("len = %d, want 3", len(names))
	}
	if !sort.StringsAreSorted(names) {
		t.Errorf("names not sorted: %v", names)
	}
	if s.Index("general_chat") != 0 || s.Index("absent") != -1 {
		t.Errorf("unexpected indices: %d / %d", s.Index("general_chat"), s.Index("absent"))
	}
	if !s.Contains("math_calculation") || s.Contains("") {
		t.Error("Contains misbehaves")
	}
}

func TestSpaceEqual(t *testing.T) {
	a := NewSpace([]string{"b", "a"})
	b := NewSpace([]string{"a", "b"})
	c := NewSpace([]string{"a", "c"})
	if !a.Equal(b) {
		t.Error("order must not matter")
	}
	if a.Equal(c) {
		t.Error("different sets must not be equal")
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "labels.json")
	if err := os.WriteFile(path, []byte(`["alpha","beta"]`), 0o644); err != nil {
		t.Fatal(err)
	}
	s, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}
	if s.Len() != 2 || !s.Contains("alpha") {
		t.Errorf("space = %v", s.Names())
	}

	if _, err := LoadFile(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("missing file should fail")
	}

	empty := filepath.Join(t.TempDir(), "empty.json")
	os.WriteFile(empty, []byte(`[]`), 0o644)
	if _, err := LoadFile(empty); err == nil {
		t.Error("empty label list should fail")
	}
}

func TestMergeIncludesBaseClasses(t *testing.T) {
	s := Merge([]string{"custom_intent"})
	if !s.Contains("custom_intent") {
		t.Error("merge lost the derived label")
	}
	for _, base := range BaseClasses() {
		if !s.Contains(base) {
			t.Errorf("merge missing base class %s", base)
		}
	}
}
