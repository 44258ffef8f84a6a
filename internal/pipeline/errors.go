package pipeline

import (
	"fmt"
	"strings"
)

// DanglingConnectionError reports a connection referencing an unknown
// step, field, or a malformed endpoint combination. Fatal at compile
// time: the structure is never partially compiled.
type DanglingConnectionError struct {
	Detail string
}

func (e *DanglingConnectionError) Error() string {
	return fmt.Sprintf("dangling connection: %s", e.Detail)
}

// AmbiguousConnectionError reports a step input with more than one
// source. A step input has exactly one source: a connected step output
// XOR a connected pipeline input.
type AmbiguousConnectionError struct {
	StepID string
	Input  string
}

func (e *AmbiguousConnectionError) Error() string {
	return fmt.Sprintf("ambiguous connection: step %q input %q has more than one source", e.StepID, e.Input)
}

// CyclicPipelineError reports a dependency cycle among steps.
type CyclicPipelineError struct {
	Steps []string
}

func (e *CyclicPipelineError) Error() string {
	return fmt.Sprintf("pipeline contains a dependency cycle among steps: %s", strings.Join(e.Steps, ", "))
}

// UnresolvedDependencyError aborts a run: a required step cannot be
// processed because the named inputs are invalid, and the step is not
// skippable.
type UnresolvedDependencyError struct {
	StepID string
	Inputs []string
}

func (e *UnresolvedDependencyError) Error() string {
	return fmt.Sprintf("step %q cannot be processed: invalid inputs: %s", e.StepID, strings.Join(e.Inputs, ", "))
}

// AlreadyRunningError is the controller's re-entrancy guard: a controller
// instance refuses overlapping pipeline runs.
type AlreadyRunningError struct {
	Pipeline string
}

func (e *AlreadyRunningError) Error() string {
	return fmt.Sprintf("pipeline %q is already running on this controller", e.Pipeline)
}

// StepFailedError wraps a failed step's job error with the step id so
// callers see which step of which pipeline broke.
type StepFailedError struct {
	Pipeline string
	StepID   string
	Reason   error
}

func (e *StepFailedError) Error() string {
	return fmt.Sprintf("pipeline %q step %q failed: %v", e.Pipeline, e.StepID, e.Reason)
}

func (e *StepFailedError) Unwrap() error { return e.Reason }
