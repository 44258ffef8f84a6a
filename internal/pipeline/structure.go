// Package pipeline assembles declared steps and connections into a
// validated execution structure, plans its stages, and drives runs
// stage by stage against the job registry.
package pipeline

import (
	"fmt"
	"sort"

	"github.com/loomworks/loom/internal/ir"
	"github.com/loomworks/loom/internal/jobs"
)

// StagingPolicy selects how steps are grouped into execution stages.
type StagingPolicy string

const (
	// StageSingle puts every step into one stage, in declaration order.
	StageSingle StagingPolicy = "single_stage"
	// StagePerStep gives every step its own stage, in declaration order.
	StagePerStep StagingPolicy = "stage_per_step"
	// StageEarly schedules each step as soon as its dependencies allow.
	StageEarly StagingPolicy = "early"
	// StageLate defers each step as long as its dependents allow.
	StageLate StagingPolicy = "late"
)

// DefaultStaging is used when a declaration names no policy.
const DefaultStaging = StageEarly

// Decl is a raw, unvalidated pipeline declaration as it comes out of the
// compiler or a test fixture.
type Decl struct {
	Name        string
	Staging     StagingPolicy
	Steps       []ir.Step
	Connections []ir.Connection
}

// inputSource is the single resolved source of one step input: a step
// output xor a pipeline input.
type inputSource struct {
	fromStep      string
	fromOutput    string
	pipelineInput string
}

// outputRef names the step output feeding a pipeline output.
type outputRef struct {
	step  string
	field string
}

// Structure is a compiled, validated pipeline. It is immutable after
// Compile; controllers share one structure across runs.
type Structure struct {
	Name    string
	Staging StagingPolicy

	// Stages is the execution plan: stage i completes before stage i+1
	// starts. Within a stage, declaration order.
	Stages [][]string

	steps map[string]ir.Step
	order []string

	inputSchemas  map[string]map[string]ir.FieldSchema
	outputSchemas map[string]map[string]ir.FieldSchema
	inputSources  map[string]map[string]inputSource

	pipelineInputs  map[string]bool
	pipelineOutputs map[string]outputRef

	upstream   map[string][]string
	downstream map[string][]string
}

// Compile validates a declaration against the module set and produces
// the execution structure, including the stage plan. Compilation is
// all-or-nothing: any defect fails the whole pipeline.
func Compile(decl Decl, modules *jobs.ModuleSet) (*Structure, error) {
	staging := decl.Staging
	if staging == "" {
		staging = DefaultStaging
	}
	switch staging {
	case StageSingle, StagePerStep, StageEarly, StageLate:
	default:
		return nil, fmt.Errorf("compile pipeline %q: unknown staging policy %q", decl.Name, staging)
	}

	s := &Structure{
		Name:            decl.Name,
		Staging:         staging,
		steps:           make(map[string]ir.Step, len(decl.Steps)),
		order:           make([]string, 0, len(decl.Steps)),
		inputSchemas:    make(map[string]map[string]ir.FieldSchema, len(decl.Steps)),
		outputSchemas:   make(map[string]map[string]ir.FieldSchema, len(decl.Steps)),
		inputSources:    make(map[string]map[string]inputSource, len(decl.Steps)),
		pipelineInputs:  make(map[string]bool),
		pipelineOutputs: make(map[string]outputRef),
		upstream:        make(map[string][]string, len(decl.Steps)),
		downstream:      make(map[string][]string, len(decl.Steps)),
	}

	if len(decl.Steps) == 0 {
		return nil, fmt.Errorf("compile pipeline %q: no steps declared", decl.Name)
	}

	for _, step := range decl.Steps {
		if step.ID == "" {
			return nil, fmt.Errorf("compile pipeline %q: step with empty id", decl.Name)
		}
		if _, dup := s.steps[step.ID]; dup {
			return nil, fmt.Errorf("compile pipeline %q: duplicate step id %q", decl.Name, step.ID)
		}
		module, err := modules.Instantiate(step.Manifest)
		if err != nil {
			return nil, fmt.Errorf("compile pipeline %q: step %q: %w", decl.Name, step.ID, err)
		}
		s.steps[step.ID] = step
		s.order = append(s.order, step.ID)
		s.inputSchemas[step.ID] = module.InputsSchema()
		s.outputSchemas[step.ID] = module.OutputsSchema()
		s.inputSources[step.ID] = make(map[string]inputSource)
	}

	for _, conn := range decl.Connections {
		if err := s.wire(conn); err != nil {
			return nil, err
		}
	}

	s.buildDependencyGraph()
	if err := s.checkAcyclic(); err != nil {
		return nil, err
	}

	stages, err := s.planStages()
	if err != nil {
		return nil, err
	}
	s.Stages = stages
	return s, nil
}

// wire validates one connection and records it on the structure.
func (s *Structure) wire(conn ir.Connection) error {
	fromStep := conn.FromStep != "" || conn.FromOutput != ""
	fromPipe := conn.FromPipeline != ""
	toStep := conn.ToStep != "" || conn.ToInput != ""
	toPipe := conn.ToPipeline != ""

	switch {
	case fromStep == fromPipe:
		return &DanglingConnectionError{Detail: fmt.Sprintf("connection %+v: exactly one source required", conn)}
	case toStep == toPipe:
		return &DanglingConnectionError{Detail: fmt.Sprintf("connection %+v: exactly one target required", conn)}
	case fromStep && (conn.FromStep == "" || conn.FromOutput == ""):
		return &DanglingConnectionError{Detail: fmt.Sprintf("connection %+v: step source needs both step and output", conn)}
	case toStep && (conn.ToStep == "" || conn.ToInput == ""):
		return &DanglingConnectionError{Detail: fmt.Sprintf("connection %+v: step target needs both step and input", conn)}
	case fromPipe && toPipe:
		return &DanglingConnectionError{Detail: fmt.Sprintf("connection %+v: pipeline input wired straight to pipeline output", conn)}
	}

	if fromStep {
		outs, ok := s.outputSchemas[conn.FromStep]
		if !ok {
			return &DanglingConnectionError{Detail: fmt.Sprintf("unknown source step %q", conn.FromStep)}
		}
		if _, ok := outs[conn.FromOutput]; !ok {
			return &DanglingConnectionError{Detail: fmt.Sprintf("step %q has no output %q", conn.FromStep, conn.FromOutput)}
		}
	}

	if toStep {
		ins, ok := s.inputSchemas[conn.ToStep]
		if !ok {
			return &DanglingConnectionError{Detail: fmt.Sprintf("unknown target step %q", conn.ToStep)}
		}
		schema, ok := ins[conn.ToInput]
		if !ok {
			return &DanglingConnectionError{Detail: fmt.Sprintf("step %q has no input %q", conn.ToStep, conn.ToInput)}
		}
		if schema.Kind == ir.FieldConstant {
			return &DanglingConnectionError{Detail: fmt.Sprintf("input %q of step %q is constant and accepts no connection", conn.ToInput, conn.ToStep)}
		}
		if _, taken := s.inputSources[conn.ToStep][conn.ToInput]; taken {
			return &AmbiguousConnectionError{StepID: conn.ToStep, Input: conn.ToInput}
		}
		src := inputSource{pipelineInput: conn.FromPipeline}
		if fromStep {
			src = inputSource{fromStep: conn.FromStep, fromOutput: conn.FromOutput}
		} else {
			s.pipelineInputs[conn.FromPipeline] = true
		}
		s.inputSources[conn.ToStep][conn.ToInput] = src
		return nil
	}

	// Step output feeding a pipeline output.
	if _, taken := s.pipelineOutputs[conn.ToPipeline]; taken {
		return &DanglingConnectionError{Detail: fmt.Sprintf("pipeline output %q connected more than once", conn.ToPipeline)}
	}
	s.pipelineOutputs[conn.ToPipeline] = outputRef{step: conn.FromStep, field: conn.FromOutput}
	return nil
}

// buildDependencyGraph derives the step-level dependency edges from the
// recorded input sources.
func (s *Structure) buildDependencyGraph() {
	for _, id := range s.order {
		seen := make(map[string]bool)
		for _, src := range s.inputSources[id] {
			if src.fromStep == "" || seen[src.fromStep] {
				continue
			}
			seen[src.fromStep] = true
			s.upstream[id] = append(s.upstream[id], src.fromStep)
			s.downstream[src.fromStep] = append(s.downstream[src.fromStep], id)
		}
		sort.Strings(s.upstream[id])
	}
	for id := range s.downstream {
		sort.Strings(s.downstream[id])
	}
}

// checkAcyclic runs Kahn's algorithm over the step graph; anything left
// unordered sits on a cycle.
func (s *Structure) checkAcyclic() error {
	indegree := make(map[string]int, len(s.order))
	for _, id := range s.order {
		indegree[id] = len(s.upstream[id])
	}

	queue := make([]string, 0, len(s.order))
	for _, id := range s.order {
		if indegree[id] == 0 {
			queue = append(queue, id)
		}
	}

	ordered := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		ordered++
		for _, down := range s.downstream[id] {
			indegree[down]--
			if indegree[down] == 0 {
				queue = append(queue, down)
			}
		}
	}

	if ordered == len(s.order) {
		return nil
	}
	var cyclic []string
	for _, id := range s.order {
		if indegree[id] > 0 {
			cyclic = append(cyclic, id)
		}
	}
	sort.Strings(cyclic)
	return &CyclicPipelineError{Steps: cyclic}
}

// Step returns the declaration of one step.
func (s *Structure) Step(id string) (ir.Step, bool) {
	step, ok := s.steps[id]
	return step, ok
}

// StepIDs returns all step ids in declaration order.
func (s *Structure) StepIDs() []string {
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// PipelineInputs returns the declared pipeline input names, sorted.
func (s *Structure) PipelineInputs() []string {
	out := make([]string, 0, len(s.pipelineInputs))
	for name := range s.pipelineInputs {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// PipelineOutputs returns the declared pipeline output names, sorted.
func (s *Structure) PipelineOutputs() []string {
	out := make([]string, 0, len(s.pipelineOutputs))
	for name := range s.pipelineOutputs {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// InputSchema returns the input schema of one step.
func (s *Structure) InputSchema(stepID string) map[string]ir.FieldSchema {
	return s.inputSchemas[stepID]
}

// OutputSchema returns the output schema of one step.
func (s *Structure) OutputSchema(stepID string) map[string]ir.FieldSchema {
	return s.outputSchemas[stepID]
}

// Upstream returns the ids of the steps feeding this step, sorted.
func (s *Structure) Upstream(stepID string) []string {
	out := make([]string, len(s.upstream[stepID]))
	copy(out, s.upstream[stepID])
	return out
}

// Downstream returns the ids of the steps fed by this step, sorted.
func (s *Structure) Downstream(stepID string) []string {
	out := make([]string, len(s.downstream[stepID]))
	copy(out, s.downstream[stepID])
	return out
}
