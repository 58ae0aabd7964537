package harness

import (
	"bytes"
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/cozygen/internal/form"
	"github.com/roach88/cozygen/internal/graph"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Steps applied before the compile
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nSteps:\n")
		for _, ev := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %s %s", ev.Seq, ev.Op, ev.Param)
			if ev.Error != "" {
				fmt.Fprintf(&buf, " (error: %s)", ev.Error)
			}
			buf.WriteByte('\n')
		}
	}
	return buf.String()
}

// EvaluateAssertions runs every assertion and returns the failure
// messages.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var errs []string
	for i, a := range assertions {
		if err := evaluateAssertion(result, a); err != nil {
			errs = append(errs, fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}
	return errs
}

func evaluateAssertion(result *Result, a Assertion) error {
	if a.Type == AssertWarning {
		return assertWarning(result, a)
	}
	if result.Compiled == nil {
		return &AssertionError{
			Type:     a.Type,
			Expected: "a compiled graph",
			Actual:   fmt.Sprintf("compile failed (%s)", result.ErrCode),
			Trace:    result.Trace,
		}
	}

	switch a.Type {
	case AssertInput:
		return assertInput(result, a)
	case AssertNodeAbsent:
		return assertNodeAbsent(result, a)
	case AssertMetaText:
		return assertMetaText(result, a)
	case AssertBypass:
		return assertBypass(result, a)
	case AssertState:
		return assertState(result, a)
	}
	return fmt.Errorf("unknown assertion type %q", a.Type)
}

func assertInput(result *Result, a Assertion) error {
	n, ok := result.Compiled.Graph.Node(graph.NodeID(a.Node))
	if !ok {
		return &AssertionError{
			Type:     AssertInput,
			Expected: fmt.Sprintf("node %s present", a.Node),
			Actual:   "node not in compiled graph",
			Trace:    result.Trace,
		}
	}
	got, ok := n.Input(a.Input)
	if !ok {
		return &AssertionError{
			Type:     AssertInput,
			Expected: fmt.Sprintf("%s.%s = %v", a.Node, a.Input, a.Value),
			Actual:   "input not set",
			Trace:    result.Trace,
		}
	}
	return compareValue(AssertInput, fmt.Sprintf("%s.%s", a.Node, a.Input), got, a.Value, result.Trace)
}

func assertNodeAbsent(result *Result, a Assertion) error {
	if result.Compiled.Graph.Has(graph.NodeID(a.Node)) {
		return &AssertionError{
			Type:     AssertNodeAbsent,
			Expected: fmt.Sprintf("node %s removed", a.Node),
			Actual:   "node still present",
			Trace:    result.Trace,
		}
	}
	return nil
}

func assertMetaText(result *Result, a Assertion) error {
	want, _ := a.Value.(string)
	if result.Compiled.MetaText != want {
		return &AssertionError{
			Type:     AssertMetaText,
			Expected: fmt.Sprintf("%q", want),
			Actual:   fmt.Sprintf("%q", result.Compiled.MetaText),
			Trace:    result.Trace,
		}
	}
	return nil
}

func assertBypass(result *Result, a Assertion) error {
	var outcomes []string
	for _, r := range result.Compiled.Bypass {
		if r.ParamName != a.Param {
			continue
		}
		if string(r.Outcome) == a.Outcome {
			return nil
		}
		outcomes = append(outcomes, string(r.Outcome))
	}
	actual := "no bypass recorded"
	if len(outcomes) > 0 {
		actual = strings.Join(outcomes, ", ")
	}
	return &AssertionError{
		Type:     AssertBypass,
		Expected: fmt.Sprintf("%s bypass %s", a.Param, a.Outcome),
		Actual:   actual,
		Trace:    result.Trace,
	}
}

func assertWarning(result *Result, a Assertion) error {
	codes := make([]string, len(result.Warnings))
	for i, w := range result.Warnings {
		codes[i] = w.Code
	}
	if slices.Contains(codes, a.Code) {
		return nil
	}
	return &AssertionError{
		Type:     AssertWarning,
		Expected: fmt.Sprintf("warning %s", a.Code),
		Actual:   fmt.Sprintf("warnings %v", codes),
		Trace:    result.Trace,
	}
}

func assertState(result *Result, a Assertion) error {
	v, ok := result.Compiled.State[a.Param]
	if !ok {
		return &AssertionError{
			Type:     AssertState,
			Expected: fmt.Sprintf("%s = %v", a.Param, a.Value),
			Actual:   "no state for param",
			Trace:    result.Trace,
		}
	}
	got, err := graph.FromAny(form.ToAny(v))
	if err != nil {
		return err
	}
	return compareValue(AssertState, a.Param, got, a.Value, result.Trace)
}

// compareValue compares canonical encodings, so 1 and 1.0 are equal and
// object key order is ignored.
func compareValue(kind, where string, got graph.Value, want any, trace []TraceEvent) error {
	wantValue, err := graph.FromAny(want)
	if err != nil {
		return fmt.Errorf("%s: expected value: %w", where, err)
	}
	gotJSON, err := graph.MarshalCanonicalValue(got)
	if err != nil {
		return fmt.Errorf("%s: actual value: %w", where, err)
	}
	wantJSON, err := graph.MarshalCanonicalValue(wantValue)
	if err != nil {
		return fmt.Errorf("%s: expected value: %w", where, err)
	}
	if bytes.Equal(gotJSON, wantJSON) {
		return nil
	}
	return &AssertionError{
		Type:     kind,
		Expected: fmt.Sprintf("%s = %s", where, wantJSON),
		Actual:   string(gotJSON),
		Trace:    trace,
	}
}
