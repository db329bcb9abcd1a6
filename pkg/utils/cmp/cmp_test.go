package cmp_test

import (
	"testing"

	"github.com/fnndsc/plinst/pkg/utils/cmp"
)

func TestSliceContentEq(t *testing.T) {
	for name, testcase := range map[string]struct {
		a, b     []string
		expected bool
	}{
		"empty slices are equal":            {a: nil, b: []string{}, expected: true},
		"same elements in the same order":   {a: []string{"a", "b"}, b: []string{"a", "b"}, expected: true},
		"same elements in different order":  {a: []string{"a", "b"}, b: []string{"b", "a"}, expected: true},
		"different multiplicity is unequal": {a: []string{"a", "a", "b"}, b: []string{"a", "b", "b"}, expected: false},
		"different length is unequal":       {a: []string{"a"}, b: []string{"a", "a"}, expected: false},
		"different elements are not equal":  {a: []string{"a"}, b: []string{"b"}, expected: false},
	} {
		t.Run(name, func(t *testing.T) {
			if actual := cmp.SliceContentEq(testcase.a, testcase.b); actual != testcase.expected {
				t.Errorf("(actual, expected) = (%v, %v)", actual, testcase.expected)
			}
		})
	}
}

func TestMapEq(t *testing.T) {
	a := map[string]int{"x": 1, "y": 2}
	if !cmp.MapEq(a, map[string]int{"y": 2, "x": 1}) {
		t.Errorf("equal maps are reported unequal")
	}
	if cmp.MapEq(a, map[string]int{"x": 1, "y": 3}) {
		t.Errorf("different values are reported equal")
	}
	if cmp.MapEq(a, map[string]int{"x": 1}) {
		t.Errorf("different keys are reported equal")
	}
}
