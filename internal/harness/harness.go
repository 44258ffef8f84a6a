package harness

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/loomworks/loom/internal/archive"
	"github.com/loomworks/loom/internal/compiler"
	"github.com/loomworks/loom/internal/ir"
	"github.com/loomworks/loom/internal/jobs"
	"github.com/loomworks/loom/internal/lineage"
	"github.com/loomworks/loom/internal/pipeline"
	"github.com/loomworks/loom/internal/types"
	"github.com/loomworks/loom/internal/values"
)

// Run executes a scenario and returns its result.
//
// Each scenario runs against a fresh in-memory archive with a sequential
// value id generator, so repeated runs yield identical ids, payloads,
// and lineage text. Infrastructure failures (unreadable pipeline file,
// invalid scenario inputs) return an error; run failures and assertion
// failures are scenario outcomes recorded on the result.
func Run(scenario *Scenario) (*Result, error) {
	ctx := context.Background()

	decl, err := compileDecl(scenario)
	if err != nil {
		return nil, err
	}
	if scenario.Staging != "" {
		decl.Staging = pipeline.StagingPolicy(scenario.Staging)
	}

	registry, err := types.NewRegistry(types.BuiltinProvider())
	if err != nil {
		return nil, fmt.Errorf("harness: %w", err)
	}
	arch := archive.NewMemory()
	store := values.NewStore(registry, arch,
		values.WithIDGenerator(values.NewSeqGenerator("v")))
	modules := jobs.BuiltinModules()
	registryJobs := jobs.NewRegistry(store, modules, jobs.SyncProcessor{}, arch)

	structure, err := pipeline.Compile(decl, modules)
	if err != nil {
		return nil, fmt.Errorf("harness: compile pipeline: %w", err)
	}

	inputIDs, err := registerInputs(ctx, store, scenario.Inputs)
	if err != nil {
		return nil, fmt.Errorf("harness: %w", err)
	}

	result := NewResult(scenario.Name)
	controller := pipeline.NewController(structure, store, registryJobs)
	run, runErr := controller.Process(ctx, inputIDs)

	switch {
	case runErr != nil && scenario.ExpectError == "":
		result.RunError = runErr.Error()
		result.AddError(fmt.Sprintf("pipeline run failed: %v", runErr))
	case runErr != nil:
		result.RunError = runErr.Error()
		if !strings.Contains(runErr.Error(), scenario.ExpectError) {
			result.AddError(fmt.Sprintf("run error %q does not contain %q",
				runErr.Error(), scenario.ExpectError))
		}
	case scenario.ExpectError != "":
		result.AddError(fmt.Sprintf("run succeeded, expected failure containing %q",
			scenario.ExpectError))
	}

	resolver := lineage.NewResolver(store)
	if run != nil {
		result.Run = run
		for name, id := range run.Outputs {
			payload, err := renderPayload(ctx, store, id)
			if err != nil {
				return nil, fmt.Errorf("harness: output %q: %w", name, err)
			}
			result.Payloads[name] = payload

			graph, err := resolver.Resolve(ctx, id)
			if err != nil {
				return nil, fmt.Errorf("harness: output %q: %w", name, err)
			}
			result.Lineage[name] = lineage.Render(graph)
		}
	}

	actx := &AssertionContext{Store: store, Lineage: resolver, Ctx: ctx}
	for _, msg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(msg)
	}
	return result, nil
}

func compileDecl(scenario *Scenario) (pipeline.Decl, error) {
	if scenario.Source != "" {
		return compiler.CompileSource(scenario.Source, scenario.Name+".cue")
	}
	return compiler.CompileFile(scenario.pipelinePath())
}

// registerInputs converts scenario inputs to payloads and registers them
// as orphans. Names register in sorted order so sequential ids stay
// stable across runs.
func registerInputs(ctx context.Context, store *values.Store, inputs map[string]any) (map[string]string, error) {
	names := make([]string, 0, len(inputs))
	for name := range inputs {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make(map[string]string, len(inputs))
	for _, name := range names {
		d, err := convertToDatum(inputs[name])
		if err != nil {
			return nil, fmt.Errorf("input %q: %w", name, err)
		}
		v, err := store.Register(ctx, d,
			ir.FieldSchema{TypeName: datumTypeName(d), Kind: ir.FieldRequired},
			ir.OrphanPedigree())
		if err != nil {
			return nil, fmt.Errorf("input %q: %w", name, err)
		}
		out[name] = v.ID
	}
	return out, nil
}

func renderPayload(ctx context.Context, store *values.Store, id string) (string, error) {
	v, err := store.Get(ctx, id)
	if err != nil {
		return "", err
	}
	switch v.Status {
	case ir.StatusNotSet:
		return "(not set)", nil
	case ir.StatusNone:
		return "(none)", nil
	}
	d, err := store.Data(ctx, v)
	if err != nil {
		return "", err
	}
	blob, err := ir.MarshalCanonical(d)
	if err != nil {
		return "", err
	}
	return string(blob), nil
}
