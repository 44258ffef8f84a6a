package harness

import (
	"context"
	"fmt"
	"strings"

	"github.com/loomworks/loom/internal/ir"
	"github.com/loomworks/loom/internal/lineage"
	"github.com/loomworks/loom/internal/values"
)

// Assertion type constants.
const (
	// AssertOutputEquals checks a pipeline output payload.
	AssertOutputEquals = "output_equals"
	// AssertStepState checks the final state of one step.
	AssertStepState = "step_state"
	// AssertLineageContains checks that a module appears in the lineage
	// of a pipeline output.
	AssertLineageContains = "lineage_contains"
	// AssertOrphanCount checks the number of distinct orphan values in a
	// pipeline output's lineage.
	AssertOrphanCount = "orphan_count"
)

// Assertion validates one aspect of a scenario outcome.
type Assertion struct {
	// Type selects the assertion kind.
	Type string `yaml:"type"`

	// Output names a pipeline output (output_equals, lineage_contains,
	// orphan_count).
	Output string `yaml:"output,omitempty"`

	// Value is the expected payload (output_equals).
	Value any `yaml:"value,omitempty"`

	// Step names a step (step_state).
	Step string `yaml:"step,omitempty"`

	// State is the expected final step state (step_state).
	State string `yaml:"state,omitempty"`

	// Module is the producing module name (lineage_contains).
	Module string `yaml:"module,omitempty"`

	// Count is the expected orphan count (orphan_count).
	Count int `yaml:"count,omitempty"`
}

func (a Assertion) validate() error {
	switch a.Type {
	case AssertOutputEquals, AssertLineageContains, AssertOrphanCount:
		if a.Output == "" {
			return fmt.Errorf("%s: output is required", a.Type)
		}
		if a.Type == AssertLineageContains && a.Module == "" {
			return fmt.Errorf("%s: module is required", a.Type)
		}
	case AssertStepState:
		if a.Step == "" || a.State == "" {
			return fmt.Errorf("%s: step and state are required", a.Type)
		}
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
	return nil
}

// AssertionContext carries the run's stack for assertions that need to
// look past the result (lineage resolution).
type AssertionContext struct {
	Store   *values.Store
	Lineage *lineage.Resolver
	Ctx     context.Context
}

// EvaluateAssertions checks every assertion against the result and
// returns the failure messages. An empty slice means all held.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var failures []string
	for i, a := range assertions {
		if err := evaluate(result, a, actx); err != nil {
			failures = append(failures, fmt.Sprintf("assertion %d (%s): %v", i, a.Type, err))
		}
	}
	return failures
}

func evaluate(result *Result, a Assertion, actx *AssertionContext) error {
	switch a.Type {
	case AssertOutputEquals:
		return assertOutputEquals(result, a)
	case AssertStepState:
		return assertStepState(result, a)
	case AssertLineageContains:
		return assertLineageContains(result, a)
	case AssertOrphanCount:
		return assertOrphanCount(result, a, actx)
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
}

func assertOutputEquals(result *Result, a Assertion) error {
	actual, ok := result.Payloads[a.Output]
	if !ok {
		return fmt.Errorf("no output %q in result", a.Output)
	}
	expected, err := convertToDatum(a.Value)
	if err != nil {
		return fmt.Errorf("expected value: %w", err)
	}
	blob, err := ir.MarshalCanonical(expected)
	if err != nil {
		return fmt.Errorf("expected value: %w", err)
	}
	if actual != string(blob) {
		return fmt.Errorf("output %q is %s, expected %s", a.Output, actual, blob)
	}
	return nil
}

func assertStepState(result *Result, a Assertion) error {
	if result.Run == nil {
		return fmt.Errorf("no run result")
	}
	state, ok := result.Run.States[a.Step]
	if !ok {
		return fmt.Errorf("no step %q in run", a.Step)
	}
	if string(state) != a.State {
		return fmt.Errorf("step %q is %s, expected %s", a.Step, state, a.State)
	}
	return nil
}

func assertLineageContains(result *Result, a Assertion) error {
	rendered, ok := result.Lineage[a.Output]
	if !ok {
		return fmt.Errorf("no output %q in result", a.Output)
	}
	if !strings.Contains(rendered, "produced by "+a.Module+" ") {
		return fmt.Errorf("module %q not found in lineage of output %q", a.Module, a.Output)
	}
	return nil
}

func assertOrphanCount(result *Result, a Assertion, actx *AssertionContext) error {
	if result.Run == nil {
		return fmt.Errorf("no run result")
	}
	id, ok := result.Run.Outputs[a.Output]
	if !ok {
		return fmt.Errorf("no output %q in run", a.Output)
	}
	graph, err := actx.Lineage.Resolve(actx.Ctx, id)
	if err != nil {
		return fmt.Errorf("resolve lineage of output %q: %w", a.Output, err)
	}
	if got := len(graph.Orphans()); got != a.Count {
		return fmt.Errorf("output %q has %d orphan values, expected %d", a.Output, got, a.Count)
	}
	return nil
}
