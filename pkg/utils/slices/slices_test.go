package slices_test

import (
	"errors"
	"strconv"
	"testing"

	"github.com/fnndsc/plinst/pkg/utils/cmp"
	"github.com/fnndsc/plinst/pkg/utils/slices"
)

func TestMap(t *testing.T) {
	actual := slices.Map([]int{1, 2, 3}, strconv.Itoa)
	expected := []string{"1", "2", "3"}
	if !cmp.SliceEq(actual, expected) {
		t.Errorf("(actual, expected) = (%v, %v)", actual, expected)
	}
}

func TestMapUntilError(t *testing.T) {
	t.Run("it maps all elements", func(t *testing.T) {
		actual, err := slices.MapUntilError([]string{"1", "2"}, strconv.Atoi)
		if err != nil {
			t.Fatal(err)
		}
		if !cmp.SliceEq(actual, []int{1, 2}) {
			t.Errorf("unexpected: %v", actual)
		}
	})

	t.Run("it stops at the first error", func(t *testing.T) {
		calls := 0
		_, err := slices.MapUntilError([]string{"1", "x", "3"}, func(s string) (int, error) {
			calls += 1
			return strconv.Atoi(s)
		})
		var nerr *strconv.NumError
		if !errors.As(err, &nerr) {
			t.Errorf("unexpected error: %v", err)
		}
		if calls != 2 {
			t.Errorf("calls: (actual, expected) = (%d, %d)", calls, 2)
		}
	})
}

func TestUniq(t *testing.T) {
	actual := slices.Uniq([]int{3, 1, 3, 2, 1})
	expected := []int{3, 1, 2}
	if !cmp.SliceEq(actual, expected) {
		t.Errorf("(actual, expected) = (%v, %v)", actual, expected)
	}
}

func TestFilterAndFirst(t *testing.T) {
	even := func(i int) bool { return i%2 == 0 }

	if actual := slices.Filter([]int{1, 2, 3, 4}, even); !cmp.SliceEq(actual, []int{2, 4}) {
		t.Errorf("Filter: unexpected: %v", actual)
	}
	if v, ok := slices.First([]int{1, 3, 4, 6}, even); !ok || v != 4 {
		t.Errorf("First: unexpected: %v, %v", v, ok)
	}
	if _, ok := slices.First([]int{1, 3}, even); ok {
		t.Errorf("First: found in nothing")
	}
	if !slices.Contains([]string{"a", "b"}, "b") || slices.Contains([]string{"a"}, "b") {
		t.Errorf("Contains is broken")
	}
}
