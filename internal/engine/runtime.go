// Package engine assembles the component stack into one runtime: type
// registry, value store, module set, job registry, and lineage resolver
// behind a single explicit context object.
package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/loomworks/loom/internal/archive"
	"github.com/loomworks/loom/internal/ir"
	"github.com/loomworks/loom/internal/jobs"
	"github.com/loomworks/loom/internal/lineage"
	"github.com/loomworks/loom/internal/pipeline"
	"github.com/loomworks/loom/internal/types"
	"github.com/loomworks/loom/internal/values"
)

// Runtime owns every shared component of one engine instance. There are
// no package-level singletons; everything reachable from a pipeline run
// hangs off the runtime.
type Runtime struct {
	Types   *types.Registry
	Store   *values.Store
	Modules *jobs.ModuleSet
	Jobs    *jobs.Registry
	Lineage *lineage.Resolver

	cfg  Config
	arch archive.Archive
	proc jobs.Processor
}

// New builds a runtime from configuration. providers extend the builtin
// type palette; modules is the full module set the runtime executes
// (BuiltinModules() plus whatever the embedder registers).
func New(cfg Config, providers []types.Provider, modules *jobs.ModuleSet) (*Runtime, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}
	if modules == nil {
		modules = jobs.BuiltinModules()
	}

	registry, err := types.NewRegistry(append([]types.Provider{types.BuiltinProvider()}, providers...)...)
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}

	arch, err := cfg.openArchive()
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}

	var storeOpts []values.Option
	if !cfg.Dedup {
		storeOpts = append(storeOpts, values.WithoutDedup())
	}
	store := values.NewStore(registry, arch, storeOpts...)

	var proc jobs.Processor = jobs.SyncProcessor{}
	if cfg.Workers > 1 {
		proc = jobs.NewPoolProcessor(cfg.Workers)
	}

	rt := &Runtime{
		Types:   registry,
		Store:   store,
		Modules: modules,
		Jobs:    jobs.NewRegistry(store, modules, proc, arch),
		Lineage: lineage.NewResolver(store),
		cfg:     cfg,
		arch:    arch,
		proc:    proc,
	}

	slog.Info("runtime ready",
		"backend", cfg.Archive.Backend,
		"dedup", cfg.Dedup,
		"workers", cfg.Workers,
	)
	return rt, nil
}

// Close drains in-flight jobs and releases the archive.
func (rt *Runtime) Close() error {
	if err := rt.proc.Drain(); err != nil {
		return fmt.Errorf("engine close: %w", err)
	}
	if err := rt.arch.Close(); err != nil {
		return fmt.Errorf("engine close: %w", err)
	}
	return nil
}

// CompilePipeline compiles a declaration against the runtime's module
// set, applying the configured default staging policy.
func (rt *Runtime) CompilePipeline(decl pipeline.Decl) (*pipeline.Structure, error) {
	if decl.Staging == "" {
		decl.Staging = rt.cfg.Staging
	}
	return pipeline.Compile(decl, rt.Modules)
}

// RunPipeline compiles and runs a declaration in one call.
func (rt *Runtime) RunPipeline(ctx context.Context, decl pipeline.Decl, pipelineInputs map[string]string) (*pipeline.RunResult, error) {
	structure, err := rt.CompilePipeline(decl)
	if err != nil {
		return nil, err
	}
	controller := pipeline.NewController(structure, rt.Store, rt.Jobs)
	return controller.Process(ctx, pipelineInputs)
}

// RegisterInput registers an externally supplied payload as an orphan
// value and returns its id.
func (rt *Runtime) RegisterInput(ctx context.Context, d ir.Datum, typeName string) (string, error) {
	v, err := rt.Store.Register(ctx, d,
		ir.FieldSchema{TypeName: typeName, Kind: ir.FieldRequired},
		ir.OrphanPedigree())
	if err != nil {
		return "", err
	}
	return v.ID, nil
}

// Trace resolves the lineage graph of one value.
func (rt *Runtime) Trace(ctx context.Context, valueID string) (*lineage.Graph, error) {
	return rt.Lineage.Resolve(ctx, valueID)
}
