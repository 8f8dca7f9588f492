package harness

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/roach88/unitwork/internal/heap"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string   // Assertion type for categorization
	Expected string   // Human-readable expected outcome
	Actual   string   // Human-readable actual outcome
	Commands []string // Full command trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Commands) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for i, cmd := range e.Commands {
			fmt.Fprintf(&buf, "  [%d] %s\n", i+1, cmd)
		}
	}
	return buf.String()
}

// assertCommandContains checks that some command starts with the prefix.
func assertCommandContains(commands []string, assertion Assertion) error {
	for _, cmd := range commands {
		if strings.HasPrefix(cmd, assertion.Command) {
			return nil
		}
	}
	return &AssertionError{
		Type:     AssertCommandContains,
		Expected: fmt.Sprintf("command %q", assertion.Command),
		Actual:   "not found in trace",
		Commands: commands,
	}
}

// assertCommandOrder checks that commands matching each prefix appear in the
// given order. Commands don't need to be consecutive.
func assertCommandOrder(commands []string, assertion Assertion) error {
	pos := 0
	for _, want := range assertion.Commands {
		found := false
		for pos < len(commands) {
			cmd := commands[pos]
			pos++
			if strings.HasPrefix(cmd, want) {
				found = true
				break
			}
		}
		if !found {
			return &AssertionError{
				Type:     AssertCommandOrder,
				Expected: fmt.Sprintf("commands in order: %s", strings.Join(assertion.Commands, " → ")),
				Actual:   fmt.Sprintf("%q not found after the previous command", want),
				Commands: commands,
			}
		}
	}
	return nil
}

// assertCommandCount checks the exact number of commands with the prefix.
func assertCommandCount(commands []string, assertion Assertion) error {
	n := 0
	for _, cmd := range commands {
		if strings.HasPrefix(cmd, assertion.Command) {
			n++
		}
	}
	if n != *assertion.Count {
		return &AssertionError{
			Type:     AssertCommandCount,
			Expected: fmt.Sprintf("%d command(s) %q", *assertion.Count, assertion.Command),
			Actual:   fmt.Sprintf("%d", n),
			Commands: commands,
		}
	}
	return nil
}

// assertFinalState checks the rows of a table after the last transaction.
//
// With Expect, exactly one row must match Where and carry the expected
// values (subset semantics). With Count only, that many rows must match.
func assertFinalState(state map[string][]Row, assertion Assertion) error {
	rows, ok := state[assertion.Table]
	if !ok {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("table %s", assertion.Table),
			Actual:   "table not found",
		}
	}

	var matched []Row
	for _, r := range rows {
		if rowMatches(r, assertion.Where) {
			matched = append(matched, r)
		}
	}

	if assertion.Count != nil && len(matched) != *assertion.Count {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("%d row(s) in %s where %s", *assertion.Count, assertion.Table, formatWhere(assertion.Where)),
			Actual:   fmt.Sprintf("%d row(s)", len(matched)),
		}
	}
	if len(assertion.Expect) == 0 {
		return nil
	}

	switch len(matched) {
	case 0:
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("row in %s where %s", assertion.Table, formatWhere(assertion.Where)),
			Actual:   "row not found",
		}
	case 1:
	default:
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("exactly one row in %s where %s", assertion.Table, formatWhere(assertion.Where)),
			Actual:   "multiple rows matched (assertion is ambiguous)",
		}
	}

	actual := matched[0]
	for _, key := range slices.Sorted(maps.Keys(assertion.Expect)) {
		want := assertion.Expect[key]
		got, exists := actual[key]
		if !exists {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("field %q to exist", key),
				Actual:   fmt.Sprintf("field %q not present in %s", key, assertion.Table),
			}
		}
		if !heap.Equal(want, got) {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("field %q = %v (type %T)", key, want, want),
				Actual:   fmt.Sprintf("field %q = %v (type %T)", key, got, got),
			}
		}
	}
	return nil
}

func rowMatches(r Row, where map[string]any) bool {
	for k, v := range where {
		if !heap.Equal(r[k], v) {
			return false
		}
	}
	return true
}

// formatWhere renders a where map with sorted keys for error messages.
func formatWhere(where map[string]any) string {
	if len(where) == 0 {
		return "(any)"
	}
	parts := make([]string, 0, len(where))
	for _, k := range slices.Sorted(maps.Keys(where)) {
		parts = append(parts, fmt.Sprintf("%s=%v", k, where[k]))
	}
	return strings.Join(parts, " AND ")
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var errors []string
	commands := result.Commands()

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertCommandContains:
			err = assertCommandContains(commands, assertion)
		case AssertCommandOrder:
			err = assertCommandOrder(commands, assertion)
		case AssertCommandCount:
			err = assertCommandCount(commands, assertion)
		case AssertFinalState:
			err = assertFinalState(result.State, assertion)
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}
	return errors
}
