package pipeline

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomworks/loom/internal/archive"
	"github.com/loomworks/loom/internal/ir"
	"github.com/loomworks/loom/internal/jobs"
	"github.com/loomworks/loom/internal/types"
	"github.com/loomworks/loom/internal/values"
)

type ctrlFixture struct {
	store    *values.Store
	registry *jobs.Registry
	modules  *jobs.ModuleSet
	calls    *atomic.Int64
}

func newCtrlFixture(t *testing.T) *ctrlFixture {
	t.Helper()

	reg, err := types.NewRegistry(types.BuiltinProvider())
	require.NoError(t, err)

	arch := archive.NewMemory()
	store := values.NewStore(reg, arch, values.WithIDGenerator(values.NewSeqGenerator("v")))

	calls := &atomic.Int64{}
	modules := testModules(t, calls)

	return &ctrlFixture{
		store:    store,
		registry: jobs.NewRegistry(store, modules, jobs.SyncProcessor{}, arch),
		modules:  modules,
		calls:    calls,
	}
}

func (f *ctrlFixture) controller(t *testing.T, decl Decl) *Controller {
	t.Helper()
	s, err := Compile(decl, f.modules)
	require.NoError(t, err)
	return NewController(s, f.store, f.registry)
}

func (f *ctrlFixture) register(t *testing.T, text string) string {
	t.Helper()
	v, err := f.store.Register(context.Background(), ir.String(text),
		stringField(ir.FieldRequired), ir.OrphanPedigree())
	require.NoError(t, err)
	return v.ID
}

func (f *ctrlFixture) payload(t *testing.T, id string) string {
	t.Helper()
	v, err := f.store.Get(context.Background(), id)
	require.NoError(t, err)
	d, err := f.store.Data(context.Background(), v)
	require.NoError(t, err)
	s, ok := d.(ir.String)
	require.True(t, ok)
	return string(s)
}

func TestProcess_Chain(t *testing.T) {
	f := newCtrlFixture(t)
	c := f.controller(t, chainDecl(StageEarly))

	result, err := c.Process(context.Background(), map[string]string{"seed": f.register(t, "hello")})
	require.NoError(t, err)

	for _, id := range []string{"A", "B", "C"} {
		assert.Equal(t, StepDone, result.States[id])
	}
	assert.Len(t, result.Jobs, 3)
	assert.Equal(t,
		"two(x=src(seed=hello),y=one(x=src(seed=hello)))",
		f.payload(t, result.Outputs["result"]))
	assert.Equal(t, int64(3), f.calls.Load())

	// Provenance threads through: the result's pedigree names C's inputs.
	v, err := f.store.Get(context.Background(), result.Outputs["result"])
	require.NoError(t, err)
	assert.False(t, v.Pedigree.Orphan)
	assert.Equal(t, "two", v.Pedigree.Manifest.ModuleType)
	assert.Equal(t, result.StepOutputs["A"]["out"], v.Pedigree.Inputs["x"])
	assert.Equal(t, result.StepOutputs["B"]["out"], v.Pedigree.Inputs["y"])
}

func TestProcess_RerunIsFullyMemoized(t *testing.T) {
	f := newCtrlFixture(t)
	c := f.controller(t, chainDecl(StageEarly))
	inputs := map[string]string{"seed": f.register(t, "hello")}

	first, err := c.Process(context.Background(), inputs)
	require.NoError(t, err)
	require.Equal(t, int64(3), f.calls.Load())

	second, err := c.Process(context.Background(), inputs)
	require.NoError(t, err)

	assert.Equal(t, int64(3), f.calls.Load(), "a rerun over identical inputs executes nothing")
	assert.Equal(t, first.Outputs, second.Outputs)
	assert.Equal(t, first.Jobs, second.Jobs)
	assert.Equal(t, first.StepOutputs, second.StepOutputs)
}

func TestProcess_StagingPoliciesAgreeOnResults(t *testing.T) {
	for _, staging := range []StagingPolicy{StageEarly, StageLate, StagePerStep} {
		t.Run(string(staging), func(t *testing.T) {
			f := newCtrlFixture(t)
			c := f.controller(t, chainDecl(staging))

			result, err := c.Process(context.Background(), map[string]string{"seed": f.register(t, "hello")})
			require.NoError(t, err)
			assert.Equal(t,
				"two(x=src(seed=hello),y=one(x=src(seed=hello)))",
				f.payload(t, result.Outputs["result"]))
		})
	}
}

func TestProcess_SingleStageNeedsIndependentSteps(t *testing.T) {
	f := newCtrlFixture(t)

	// Independent steps share one stage fine.
	decl := Decl{
		Name:    "flat",
		Staging: StageSingle,
		Steps: []ir.Step{
			{ID: "L", Manifest: ir.Manifest{ModuleType: "src"}, Required: true},
			{ID: "R", Manifest: ir.Manifest{ModuleType: "src"}, Required: true},
		},
		Connections: []ir.Connection{
			{FromPipeline: "left", ToStep: "L", ToInput: "seed"},
			{FromPipeline: "right", ToStep: "R", ToInput: "seed"},
			{FromStep: "L", FromOutput: "out", ToPipeline: "l"},
			{FromStep: "R", FromOutput: "out", ToPipeline: "r"},
		},
	}
	c := f.controller(t, decl)
	result, err := c.Process(context.Background(), map[string]string{
		"left":  f.register(t, "a"),
		"right": f.register(t, "b"),
	})
	require.NoError(t, err)
	assert.Equal(t, "src(seed=a)", f.payload(t, result.Outputs["l"]))
	assert.Equal(t, "src(seed=b)", f.payload(t, result.Outputs["r"]))

	// A dependent chain flattened into one stage cannot resolve B's
	// input, which only exists after A commits.
	chain := f.controller(t, chainDecl(StageSingle))
	_, err = chain.Process(context.Background(), map[string]string{"seed": f.register(t, "hello")})
	var ude *UnresolvedDependencyError
	require.True(t, errors.As(err, &ude))
	assert.Equal(t, "B", ude.StepID)
	assert.Equal(t, []string{"x"}, ude.Inputs)
}

func TestProcess_RequiredStepUnresolved(t *testing.T) {
	f := newCtrlFixture(t)
	c := f.controller(t, chainDecl(StageEarly))

	_, err := c.Process(context.Background(), nil)
	var ude *UnresolvedDependencyError
	require.True(t, errors.As(err, &ude))
	assert.Equal(t, "A", ude.StepID)
	assert.Equal(t, []string{"seed"}, ude.Inputs)
	assert.Equal(t, int64(0), f.calls.Load())
}

func TestProcess_NoneInputDoesNotSatisfyRequired(t *testing.T) {
	f := newCtrlFixture(t)
	c := f.controller(t, chainDecl(StageEarly))

	_, err := c.Process(context.Background(), map[string]string{"seed": values.NoneValueID})
	var ude *UnresolvedDependencyError
	require.True(t, errors.As(err, &ude))
	assert.Equal(t, "A", ude.StepID)
}

func TestProcess_OptionalStepSkipped(t *testing.T) {
	f := newCtrlFixture(t)
	decl := Decl{
		Name:    "maybe",
		Staging: StageEarly,
		Steps: []ir.Step{
			{ID: "OPT", Manifest: ir.Manifest{ModuleType: "one"}, Required: false},
		},
		Connections: []ir.Connection{
			{FromPipeline: "extra", ToStep: "OPT", ToInput: "x"},
			{FromStep: "OPT", FromOutput: "out", ToPipeline: "res"},
		},
	}
	c := f.controller(t, decl)

	result, err := c.Process(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, StepSkipped, result.States["OPT"])
	assert.Equal(t, values.NotSetValueID, result.Outputs["res"])
	assert.Equal(t, int64(0), f.calls.Load())
}

func TestProcess_FailedStepStopsRun(t *testing.T) {
	f := newCtrlFixture(t)
	require.NoError(t, f.modules.Register("boom", func(ir.Object) (jobs.Module, error) {
		return &fakeModule{
			name:    "boom",
			inputs:  map[string]ir.FieldSchema{"x": stringField(ir.FieldRequired)},
			outputs: map[string]ir.FieldSchema{"out": stringField(ir.FieldRequired)},
			calls:   f.calls,
			fail:    true,
		}, nil
	}))

	decl := Decl{
		Name:    "fragile",
		Staging: StageEarly,
		Steps: []ir.Step{
			{ID: "A", Manifest: ir.Manifest{ModuleType: "src"}, Required: true},
			{ID: "B", Manifest: ir.Manifest{ModuleType: "boom"}, Required: true},
			{ID: "C", Manifest: ir.Manifest{ModuleType: "one"}, Required: true},
		},
		Connections: []ir.Connection{
			{FromPipeline: "seed", ToStep: "A", ToInput: "seed"},
			{FromStep: "A", FromOutput: "out", ToStep: "B", ToInput: "x"},
			{FromStep: "B", FromOutput: "out", ToStep: "C", ToInput: "x"},
		},
	}
	c := f.controller(t, decl)

	_, err := c.Process(context.Background(), map[string]string{"seed": f.register(t, "hello")})
	var sfe *StepFailedError
	require.True(t, errors.As(err, &sfe))
	assert.Equal(t, "B", sfe.StepID)
	var jee *jobs.JobExecutionError
	assert.True(t, errors.As(err, &jee))

	// A committed before the failure, C never started.
	assert.Equal(t, StepDone, c.state.states["A"])
	assert.Equal(t, StepFailed, c.state.states["B"])
	assert.Equal(t, StepBlocked, c.state.states["C"])
}

func TestProcess_ConstantAndDefaultInputs(t *testing.T) {
	f := newCtrlFixture(t)
	require.NoError(t, f.modules.Register("greet", func(ir.Object) (jobs.Module, error) {
		return &fakeModule{
			name: "greet",
			inputs: map[string]ir.FieldSchema{
				"name":     stringField(ir.FieldRequired),
				"greeting": {TypeName: "string", Kind: ir.FieldOptional, Default: ir.String("hello")},
				"lang":     {TypeName: "string", Kind: ir.FieldConstant, Default: ir.String("en")},
			},
			outputs: map[string]ir.FieldSchema{"out": stringField(ir.FieldRequired)},
			calls:   f.calls,
		}, nil
	}))

	decl := Decl{
		Name:  "greeter",
		Steps: []ir.Step{{ID: "G", Manifest: ir.Manifest{ModuleType: "greet"}, Required: true}},
		Connections: []ir.Connection{
			{FromPipeline: "name", ToStep: "G", ToInput: "name"},
			{FromStep: "G", FromOutput: "out", ToPipeline: "res"},
		},
	}
	c := f.controller(t, decl)

	result, err := c.Process(context.Background(), map[string]string{"name": f.register(t, "world")})
	require.NoError(t, err)
	assert.Equal(t, "greet(greeting=hello,lang=en,name=world)", f.payload(t, result.Outputs["res"]))
}

func TestProcess_UnknownPipelineInput(t *testing.T) {
	f := newCtrlFixture(t)
	c := f.controller(t, chainDecl(StageEarly))

	_, err := c.Process(context.Background(), map[string]string{"nope": f.register(t, "x")})
	assert.ErrorContains(t, err, `has no input "nope"`)
}

func TestProcess_RejectsOverlappingRuns(t *testing.T) {
	f := newCtrlFixture(t)
	gate := make(chan struct{})
	require.NoError(t, f.modules.Register("slow", func(ir.Object) (jobs.Module, error) {
		return &fakeModule{
			name:    "slow",
			inputs:  map[string]ir.FieldSchema{"x": stringField(ir.FieldRequired)},
			outputs: map[string]ir.FieldSchema{"out": stringField(ir.FieldRequired)},
			gate:    gate,
		}, nil
	}))

	decl := Decl{
		Name:  "slowpoke",
		Steps: []ir.Step{{ID: "S", Manifest: ir.Manifest{ModuleType: "slow"}, Required: true}},
		Connections: []ir.Connection{
			{FromPipeline: "in", ToStep: "S", ToInput: "x"},
		},
	}
	c := f.controller(t, decl)
	inputs := map[string]string{"in": f.register(t, "x")}

	done := make(chan error, 1)
	go func() {
		_, err := c.Process(context.Background(), inputs)
		done <- err
	}()

	require.Eventually(t, c.busy.Load, time.Second, time.Millisecond)
	_, err := c.Process(context.Background(), inputs)
	var are *AlreadyRunningError
	require.True(t, errors.As(err, &are))
	assert.Equal(t, "slowpoke", are.Pipeline)

	close(gate)
	require.NoError(t, <-done)
}

func TestInvalidation_PropagatesDownstream(t *testing.T) {
	f := newCtrlFixture(t)
	c := f.controller(t, chainDecl(StageEarly))
	ctx := context.Background()
	inputs := map[string]string{"seed": f.register(t, "hello")}

	result, err := c.Process(ctx, inputs)
	require.NoError(t, err)
	require.True(t, c.canBeProcessed(ctx, "B"))
	require.True(t, c.canBeProcessed(ctx, "C"))

	// A's output changes: every step reading it goes stale until it is
	// processed again.
	changed := f.register(t, "changed")
	c.writeOutputs(c.state, "A", map[string]string{"out": changed})

	assert.False(t, c.canBeProcessed(ctx, "B"))
	assert.False(t, c.canBeProcessed(ctx, "C"))
	assert.Equal(t, StepBlocked, c.state.states["B"])
	assert.Equal(t, StepBlocked, c.state.states["C"])

	// Re-resolving B against the new upstream output clears its flag.
	_, invalid, err := c.resolveInputs(ctx, c.state, "B", inputs)
	require.NoError(t, err)
	require.Empty(t, invalid)
	assert.True(t, c.canBeProcessed(ctx, "B"))

	// Once B re-publishes, C becomes processable again.
	c.writeOutputs(c.state, "B", result.StepOutputs["B"])
	assert.True(t, c.canBeProcessed(ctx, "C"))
}
