package recurring_test

import (
	"errors"
	"testing"
	"time"

	"github.com/fnndsc/plinst/cmd/loops/recurring"
	"github.com/fnndsc/plinst/pkg/loop"
)

func TestParsePolicy(t *testing.T) {
	for name, testcase := range map[string]struct {
		when        string
		then        recurring.Policy
		expectError bool
	}{
		"forever means forever": {
			when: "forever",
			then: recurring.Forever(0),
		},
		"forever:3s means forever with cooldown 3 seconds": {
			when: "forever:3s",
			then: recurring.Forever(3 * time.Second),
		},
		"forever:someday can not be parsed (someday is not time.Duration)": {
			when:        "forever:someday",
			expectError: true,
		},
		"forever:-1s can not be parsed": {
			when:        "forever:-1s",
			expectError: true,
		},
		"backlog means backlog": {
			when: "backlog",
			then: recurring.Backlog(),
		},
		"backlog:param can not be parsed (it should not take any parameters)": {
			when:        "backlog:param",
			expectError: true,
		},
		"empty string can not be parsed": {
			when:        "",
			expectError: true,
		},
		"unknown policy can not be parsed": {
			when:        "sometimes",
			expectError: true,
		},
	} {
		t.Run(name, func(t *testing.T) {
			actual, err := recurring.ParsePolicy(testcase.when)
			if testcase.expectError {
				if err == nil {
					t.Fatal("expected error does not occur")
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if actual != testcase.then {
				t.Errorf("unmatch: (actual, expected) = (%v, %v)", actual, testcase.then)
			}
		})
	}
}

func TestPolicy_Next(t *testing.T) {
	errBoom := errors.New("boom")

	theory := func(p recurring.Policy, updated bool, err error, expected loop.Next) func(*testing.T) {
		return func(t *testing.T) {
			actual := p.Next(updated, err)
			if actual.String() != expected.String() {
				t.Errorf("(actual, expected) = (%s, %s)", actual, expected)
			}
		}
	}

	t.Run("forever goes at once with backlog", theory(recurring.Forever(time.Second), true, nil, loop.Continue(0)))
	t.Run("forever cools down without backlog", theory(recurring.Forever(time.Second), false, nil, loop.Continue(time.Second)))
	t.Run("forever ignores errors", theory(recurring.Forever(time.Second), false, errBoom, loop.Continue(time.Second)))
	t.Run("backlog goes at once with backlog", theory(recurring.Backlog(), true, nil, loop.Continue(0)))
	t.Run("backlog quits without backlog", theory(recurring.Backlog(), false, nil, loop.Break(nil)))
	t.Run("until error breaks with error", theory(recurring.UntilError(recurring.Forever(time.Second)), true, errBoom, loop.Break(errBoom)))
	t.Run("until error follows base otherwise", theory(recurring.UntilError(recurring.Forever(time.Second)), false, nil, loop.Continue(time.Second)))
}
