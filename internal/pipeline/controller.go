package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/loomworks/loom/internal/ir"
	"github.com/loomworks/loom/internal/jobs"
	"github.com/loomworks/loom/internal/values"
)

// StepState is the lifecycle state of one step within a run.
type StepState string

const (
	// StepBlocked steps wait on upstream outputs that do not exist yet,
	// or were invalidated by a changed upstream output.
	StepBlocked StepState = "blocked"
	// StepReady steps have every required input resolvable.
	StepReady StepState = "ready"
	// StepRunning steps have a job in flight.
	StepRunning StepState = "running"
	// StepDone steps finished and their outputs are current.
	StepDone StepState = "done"
	// StepSkipped steps were optional and had unresolvable inputs.
	StepSkipped StepState = "skipped"
	// StepFailed steps had their job end in an error.
	StepFailed StepState = "failed"
)

// RunResult is the outcome of one pipeline run.
type RunResult struct {
	Pipeline string
	// States holds the final state of every step.
	States map[string]StepState
	// Jobs maps each executed step to its job id.
	Jobs map[string]string
	// StepOutputs maps step -> output field -> value id.
	StepOutputs map[string]map[string]string
	// Outputs maps pipeline output names to value ids.
	Outputs map[string]string
}

// runState is the mutable per-run bookkeeping. It survives the run so
// callers can inspect step states and probe processability afterwards.
type runState struct {
	states      map[string]StepState
	jobIDs      map[string]string
	inputs      map[string]map[string]string
	outputs     map[string]map[string]string
	processable map[string]bool
}

// Controller drives one pipeline structure stage by stage. A controller
// is single-flight: overlapping Process calls are rejected, not queued.
type Controller struct {
	structure *Structure
	store     *values.Store
	jobs      *jobs.Registry

	busy atomic.Bool

	mu    sync.Mutex
	state *runState
}

// NewController creates a controller for one compiled structure.
func NewController(structure *Structure, store *values.Store, registry *jobs.Registry) *Controller {
	return &Controller{
		structure: structure,
		store:     store,
		jobs:      registry,
		state:     newRunState(structure),
	}
}

func newRunState(s *Structure) *runState {
	st := &runState{
		states:      make(map[string]StepState, len(s.order)),
		jobIDs:      make(map[string]string),
		inputs:      make(map[string]map[string]string, len(s.order)),
		outputs:     make(map[string]map[string]string, len(s.order)),
		processable: make(map[string]bool),
	}
	for _, id := range s.order {
		if len(s.upstream[id]) == 0 {
			st.states[id] = StepReady
		} else {
			st.states[id] = StepBlocked
		}
	}
	return st
}

// Process runs the pipeline once over the given pipeline inputs (name to
// value id) and blocks until the run is terminal.
//
// Stages execute strictly in order: every job of stage i reaches a
// terminal state before stage i+1 submits anything. A failed required
// step ends the run after the stage barrier; in-flight stage-mates are
// awaited, never cancelled, so their memoized results stay usable.
func (c *Controller) Process(ctx context.Context, pipelineInputs map[string]string) (*RunResult, error) {
	if !c.busy.CompareAndSwap(false, true) {
		return nil, &AlreadyRunningError{Pipeline: c.structure.Name}
	}
	defer c.busy.Store(false)

	if err := c.checkPipelineInputs(ctx, pipelineInputs); err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.state = newRunState(c.structure)
	state := c.state
	c.mu.Unlock()

	pipelineRuns.Inc()
	slog.Info("pipeline run started",
		"pipeline", c.structure.Name,
		"staging", string(c.structure.Staging),
		"stages", len(c.structure.Stages),
	)

	for i, stage := range c.structure.Stages {
		if err := c.runStage(ctx, state, i, stage, pipelineInputs); err != nil {
			pipelineFailures.Inc()
			slog.Error("pipeline run failed", "pipeline", c.structure.Name, "stage", i, "error", err)
			return nil, err
		}
	}

	result := c.collectResult(state)
	slog.Info("pipeline run finished", "pipeline", c.structure.Name, "outputs", len(result.Outputs))
	return result, nil
}

// runStage submits every step of one stage, waits at the barrier, then
// commits outcomes in declaration order.
func (c *Controller) runStage(ctx context.Context, state *runState, index int, stage []string, pipelineInputs map[string]string) error {
	var submitted []string

	abort := func(err error) error {
		if len(submitted) > 0 {
			// Await, do not cancel: completed jobs stay memoized.
			if werr := c.jobs.WaitFor(submitted...); werr != nil {
				slog.Error("await in-flight jobs", "pipeline", c.structure.Name, "error", werr)
			}
		}
		return err
	}

	for _, stepID := range stage {
		step := c.structure.steps[stepID]

		resolved, invalid, err := c.resolveInputs(ctx, state, stepID, pipelineInputs)
		if err != nil {
			return abort(fmt.Errorf("pipeline %q step %q: %w", c.structure.Name, stepID, err))
		}
		if len(invalid) > 0 {
			if step.Required {
				c.setState(state, stepID, StepBlocked)
				return abort(&UnresolvedDependencyError{StepID: stepID, Inputs: invalid})
			}
			c.skipStep(state, stepID, resolved)
			continue
		}

		c.setState(state, stepID, StepRunning)
		jobID, err := c.jobs.Execute(ctx, step.Manifest, resolved, false)
		if err != nil {
			c.setState(state, stepID, StepFailed)
			return abort(&StepFailedError{Pipeline: c.structure.Name, StepID: stepID, Reason: err})
		}

		c.mu.Lock()
		state.jobIDs[stepID] = jobID
		state.inputs[stepID] = resolved
		c.mu.Unlock()
		submitted = append(submitted, jobID)
	}

	if len(submitted) > 0 {
		if err := c.jobs.WaitFor(submitted...); err != nil {
			return fmt.Errorf("pipeline %q stage %d: %w", c.structure.Name, index, err)
		}
	}

	// Commit after the barrier so a stage is all-or-nothing for its
	// downstream stages.
	var failed *StepFailedError
	for _, stepID := range stage {
		jobID, ok := state.jobIDs[stepID]
		if !ok || state.states[stepID] != StepRunning {
			continue
		}
		rec, ok := c.jobs.Record(jobID)
		if !ok {
			return fmt.Errorf("pipeline %q step %q: job %q has no record", c.structure.Name, stepID, jobID)
		}
		if rec.Status == ir.JobSuccess {
			c.writeOutputs(state, stepID, rec.Outputs)
			continue
		}
		c.setState(state, stepID, StepFailed)
		if failed == nil {
			failed = &StepFailedError{
				Pipeline: c.structure.Name,
				StepID:   stepID,
				Reason: &jobs.JobExecutionError{
					JobHash:  rec.JobHash,
					Manifest: rec.Manifest.ModuleType,
					Reason:   fmt.Errorf("%s", rec.Err),
				},
			}
		}
	}
	if failed != nil {
		return failed
	}
	return nil
}

// resolveInputs resolves every declared input of a step to a value id.
// Required inputs that resolve to nothing, or to a value that carries no
// data, are reported by name in invalid.
func (c *Controller) resolveInputs(ctx context.Context, state *runState, stepID string, pipelineInputs map[string]string) (map[string]string, []string, error) {
	schemas := c.structure.inputSchemas[stepID]
	names := make([]string, 0, len(schemas))
	for name := range schemas {
		names = append(names, name)
	}
	sort.Strings(names)

	resolved := make(map[string]string, len(names))
	var invalid []string

	for _, name := range names {
		schema := schemas[name]

		if schema.Kind == ir.FieldConstant {
			id, err := c.registerDefault(ctx, schema)
			if err != nil {
				return nil, nil, fmt.Errorf("constant input %q: %w", name, err)
			}
			resolved[name] = id
			continue
		}

		id := ""
		if src, ok := c.structure.inputSources[stepID][name]; ok {
			if src.pipelineInput != "" {
				id = pipelineInputs[src.pipelineInput]
			} else {
				c.mu.Lock()
				id = state.outputs[src.fromStep][src.fromOutput]
				c.mu.Unlock()
			}
		}

		if id == "" || id == values.NotSetValueID {
			if schema.Kind == ir.FieldOptional {
				defID, err := c.registerDefault(ctx, schema)
				if err != nil {
					return nil, nil, fmt.Errorf("optional input %q: %w", name, err)
				}
				resolved[name] = defID
				continue
			}
			resolved[name] = values.NotSetValueID
			invalid = append(invalid, name)
			continue
		}

		if schema.Kind == ir.FieldRequired {
			v, err := c.store.Get(ctx, id)
			if err != nil {
				return nil, nil, fmt.Errorf("input %q: %w", name, err)
			}
			if v.Status != ir.StatusSet {
				resolved[name] = id
				invalid = append(invalid, name)
				continue
			}
		}
		resolved[name] = id
	}

	c.mu.Lock()
	state.processable[stepID] = len(invalid) == 0
	if len(invalid) == 0 && state.states[stepID] == StepBlocked {
		state.states[stepID] = StepReady
	}
	c.mu.Unlock()

	return resolved, invalid, nil
}

// registerDefault materializes a schema default as a value. A nil
// default resolves to the not-set sentinel.
func (c *Controller) registerDefault(ctx context.Context, schema ir.FieldSchema) (string, error) {
	if schema.Default == nil {
		return values.NotSetValueID, nil
	}
	v, err := c.store.Register(ctx, schema.Default, schema, ir.OrphanPedigree())
	if err != nil {
		return "", err
	}
	return v.ID, nil
}

// skipStep marks an optional step skipped and publishes not-set outputs
// so downstream resolution sees an explicit hole instead of a missing
// entry.
func (c *Controller) skipStep(state *runState, stepID string, resolved map[string]string) {
	outs := make(map[string]string, len(c.structure.outputSchemas[stepID]))
	for field := range c.structure.outputSchemas[stepID] {
		outs[field] = values.NotSetValueID
	}

	c.mu.Lock()
	state.states[stepID] = StepSkipped
	state.inputs[stepID] = resolved
	state.outputs[stepID] = outs
	c.mu.Unlock()

	stepsSkipped.Inc()
	slog.Info("step skipped", "pipeline", c.structure.Name, "step", stepID)

	c.notifyDownstream(state, stepID, false)
}

// writeOutputs publishes a step's outputs into the run state and sends
// the inputs-changed notification downstream. A re-write with different
// value ids marks every directly connected downstream step stale.
func (c *Controller) writeOutputs(state *runState, stepID string, outputs map[string]string) {
	c.mu.Lock()
	prev, had := state.outputs[stepID]
	changed := had && !sameStringMap(prev, outputs)
	state.outputs[stepID] = copyStringMap(outputs)
	state.states[stepID] = StepDone
	c.mu.Unlock()

	c.notifyDownstream(state, stepID, changed)
}

// notifyDownstream invalidates processability of every step with an
// input connected to the given step. When the outputs actually changed
// after a prior write, downstream steps drop back to blocked until they
// are re-processed.
func (c *Controller) notifyDownstream(state *runState, stepID string, changed bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, down := range c.structure.downstream[stepID] {
		delete(state.processable, down)
		if changed {
			state.processable[down] = false
			if state.states[down] == StepDone || state.states[down] == StepReady {
				state.states[down] = StepBlocked
			}
		}
	}
}

// setState records one step state transition.
func (c *Controller) setState(state *runState, stepID string, to StepState) {
	c.mu.Lock()
	state.states[stepID] = to
	c.mu.Unlock()
}

// canBeProcessed reports whether a step's required inputs currently
// resolve to data-carrying values. The answer is cached per step;
// inputs-changed notifications drop the cache entry.
func (c *Controller) canBeProcessed(ctx context.Context, stepID string) bool {
	c.mu.Lock()
	state := c.state
	if cached, ok := state.processable[stepID]; ok {
		c.mu.Unlock()
		return cached
	}
	c.mu.Unlock()

	ok := true
	for name, schema := range c.structure.inputSchemas[stepID] {
		if schema.Kind != ir.FieldRequired {
			continue
		}
		src, wired := c.structure.inputSources[stepID][name]
		if !wired {
			ok = false
			break
		}
		if src.pipelineInput != "" {
			continue
		}
		c.mu.Lock()
		id := state.outputs[src.fromStep][src.fromOutput]
		done := state.states[src.fromStep] == StepDone
		c.mu.Unlock()
		if !done || id == "" || id == values.NotSetValueID {
			ok = false
			break
		}
		v, err := c.store.Get(ctx, id)
		if err != nil || v.Status != ir.StatusSet {
			ok = false
			break
		}
	}

	c.mu.Lock()
	state.processable[stepID] = ok
	c.mu.Unlock()
	return ok
}

// checkPipelineInputs rejects unknown input names and dangling value ids
// before any job is submitted.
func (c *Controller) checkPipelineInputs(ctx context.Context, pipelineInputs map[string]string) error {
	for name, id := range pipelineInputs {
		if !c.structure.pipelineInputs[name] {
			return fmt.Errorf("pipeline %q has no input %q", c.structure.Name, name)
		}
		if _, err := c.store.Get(ctx, id); err != nil {
			return fmt.Errorf("pipeline input %q: %w", name, err)
		}
	}
	return nil
}

// collectResult snapshots the run state and maps pipeline outputs to
// value ids. Outputs of skipped steps surface as the not-set sentinel.
func (c *Controller) collectResult(state *runState) *RunResult {
	c.mu.Lock()
	defer c.mu.Unlock()

	result := &RunResult{
		Pipeline:    c.structure.Name,
		States:      make(map[string]StepState, len(state.states)),
		Jobs:        copyStringMap(state.jobIDs),
		StepOutputs: make(map[string]map[string]string, len(state.outputs)),
		Outputs:     make(map[string]string, len(c.structure.pipelineOutputs)),
	}
	for id, st := range state.states {
		result.States[id] = st
	}
	for id, outs := range state.outputs {
		result.StepOutputs[id] = copyStringMap(outs)
	}
	for name, ref := range c.structure.pipelineOutputs {
		id := state.outputs[ref.step][ref.field]
		if id == "" {
			id = values.NotSetValueID
		}
		result.Outputs[name] = id
	}
	return result
}

func copyStringMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func sameStringMap(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if b[k] != v {
			return false
		}
	}
	return true
}
