package harness

import "github.com/loomworks/loom/internal/pipeline"

// Result is the outcome of one scenario execution.
type Result struct {
	// Scenario is the scenario name.
	Scenario string `json:"scenario"`

	// Pass indicates overall scenario success: the run outcome matched
	// the expectation and every assertion held.
	Pass bool `json:"pass"`

	// Run holds the pipeline run result. Nil when the run failed.
	Run *pipeline.RunResult `json:"run,omitempty"`

	// RunError carries the run failure message when the run failed.
	RunError string `json:"run_error,omitempty"`

	// Payloads maps pipeline output names to canonical JSON payloads.
	// Sentinel outputs render as "(not set)" and "(none)".
	Payloads map[string]string `json:"payloads,omitempty"`

	// Lineage maps pipeline output names to rendered lineage text.
	Lineage map[string]string `json:"lineage,omitempty"`

	// Errors lists expectation and assertion failures. Empty when Pass.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a passing result for a scenario.
func NewResult(scenario string) *Result {
	return &Result{
		Scenario: scenario,
		Pass:     true,
		Payloads: make(map[string]string),
		Lineage:  make(map[string]string),
	}
}

// AddError records a failure and marks the result as failed.
func (r *Result) AddError(msg string) {
	r.Errors = append(r.Errors, msg)
	r.Pass = false
}
