// Package jobs owns memoized step execution: a job is one run of a
// manifest against resolved inputs, keyed by a content-derived hash, so
// identical computations execute at most once.
package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/loomworks/loom/internal/archive"
	"github.com/loomworks/loom/internal/ir"
	"github.com/loomworks/loom/internal/values"
)

type record struct {
	rec  ir.JobRecord
	done chan struct{}
}

// Registry executes jobs and memoizes them by job hash. The job index is
// mutable shared state; the mutex makes the check-then-create step atomic
// with respect to concurrent submission of an identical job.
type Registry struct {
	mu      sync.Mutex
	records map[string]*record

	store   *values.Store
	modules *ModuleSet
	proc    Processor
	arch    archive.Archive
}

// NewRegistry creates a job registry executing on the given processor
// and persisting terminal records to the archive.
func NewRegistry(store *values.Store, modules *ModuleSet, proc Processor, arch archive.Archive) *Registry {
	return &Registry{
		records: make(map[string]*record),
		store:   store,
		modules: modules,
		proc:    proc,
		arch:    arch,
	}
}

// Execute submits one computation and returns its job id (the job hash).
//
// If a record with the same hash already succeeded, in memory or in the
// archive, the cached id is returned without invoking the module.
// A running record is joined, never duplicated. A failed record is
// re-attempted: failures are never cached as successes.
//
// With wait=true the call blocks until the job is terminal and returns
// the job's error, if any.
func (r *Registry) Execute(ctx context.Context, manifest ir.Manifest, inputs map[string]string, wait bool) (string, error) {
	manifestHash, err := manifest.Hash()
	if err != nil {
		return "", fmt.Errorf("execute: %w", err)
	}

	contentHashes, err := r.inputContentHashes(ctx, inputs)
	if err != nil {
		return "", fmt.Errorf("execute: %w", err)
	}
	jobHash, err := ir.JobHash(manifestHash, contentHashes)
	if err != nil {
		return "", fmt.Errorf("execute: %w", err)
	}
	inputsHash, err := ir.InputsHash(contentHashes)
	if err != nil {
		return "", fmt.Errorf("execute: %w", err)
	}

	r.mu.Lock()
	if rec, ok := r.records[jobHash]; ok {
		switch rec.rec.Status {
		case ir.JobSuccess:
			r.mu.Unlock()
			jobCacheHits.Inc()
			slog.Debug("job cache hit", "job", shortHash(jobHash), "module", manifest.ModuleType)
			return jobHash, nil
		case ir.JobRunning:
			done := rec.done
			r.mu.Unlock()
			if wait {
				<-done
				return jobHash, r.terminalError(jobHash)
			}
			return jobHash, nil
		case ir.JobFailed:
			// Fall through: replace the failed record and re-attempt.
		}
	} else if cached, ok := r.loadArchived(ctx, jobHash); ok && cached.Status == ir.JobSuccess {
		closed := make(chan struct{})
		close(closed)
		r.records[jobHash] = &record{rec: cached, done: closed}
		r.mu.Unlock()
		jobCacheHits.Inc()
		slog.Debug("job cache hit (archive)", "job", shortHash(jobHash), "module", manifest.ModuleType)
		return jobHash, nil
	}

	module, err := r.modules.Instantiate(manifest)
	if err != nil {
		r.mu.Unlock()
		return "", fmt.Errorf("execute: %w", err)
	}

	rec := &record{
		rec: ir.JobRecord{
			JobHash:      jobHash,
			ManifestHash: manifestHash,
			InputsHash:   inputsHash,
			Manifest:     manifest,
			Status:       ir.JobRunning,
			Submitted:    time.Now().UTC(),
		},
		done: make(chan struct{}),
	}
	r.records[jobHash] = rec
	r.mu.Unlock()

	jobExecutions.Inc()
	slog.Info("job submitted", "job", shortHash(jobHash), "module", manifest.ModuleType)

	r.proc.Submit(func() {
		r.run(ctx, rec, module, manifest, inputs)
	})

	if wait {
		<-rec.done
		return jobHash, r.terminalError(jobHash)
	}
	return jobHash, nil
}

// WaitFor blocks until every referenced job reaches a terminal state.
// It does not retry failed jobs; inspect Record for outcomes.
func (r *Registry) WaitFor(jobHashes ...string) error {
	dones := make([]chan struct{}, 0, len(jobHashes))

	r.mu.Lock()
	for _, h := range jobHashes {
		rec, ok := r.records[h]
		if !ok {
			r.mu.Unlock()
			return &UnknownJobError{JobHash: h}
		}
		dones = append(dones, rec.done)
	}
	r.mu.Unlock()

	for _, done := range dones {
		<-done
	}
	return nil
}

// Record returns a copy of a job's record.
func (r *Registry) Record(jobHash string) (ir.JobRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[jobHash]
	if !ok {
		return ir.JobRecord{}, false
	}
	out := rec.rec
	out.Outputs = copyStringMap(rec.rec.Outputs)
	return out, true
}

// run executes the module body and commits the result. Called on the
// processor's goroutine.
func (r *Registry) run(ctx context.Context, rec *record, module Module, manifest ir.Manifest, inputs map[string]string) {
	payloads, err := r.resolvePayloads(ctx, inputs)
	if err != nil {
		r.finish(ctx, rec, nil, err)
		return
	}

	outputs, err := module.Process(ctx, payloads)
	if err != nil {
		r.finish(ctx, rec, nil, err)
		return
	}

	// Register outputs in field order so value ids are deterministic
	// under a sequential id generator.
	outputSchemas := module.OutputsSchema()
	fields := make([]string, 0, len(outputs))
	for field := range outputs {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	outputIDs := make(map[string]string, len(outputs))
	for _, field := range fields {
		schema, ok := outputSchemas[field]
		if !ok {
			schema = ir.FieldSchema{TypeName: "any", Kind: ir.FieldOptional}
		}
		pedigree := ir.Pedigree{
			Manifest:    manifest,
			Inputs:      copyStringMap(inputs),
			OutputField: field,
		}
		v, err := r.store.Register(ctx, outputs[field], schema, pedigree)
		if err != nil {
			r.finish(ctx, rec, nil, fmt.Errorf("register output %q: %w", field, err))
			return
		}
		outputIDs[field] = v.ID
	}

	r.finish(ctx, rec, outputIDs, nil)
}

// finish transitions a record to its terminal state, persists it, and
// releases waiters.
func (r *Registry) finish(ctx context.Context, rec *record, outputs map[string]string, runErr error) {
	r.mu.Lock()
	rec.rec.Finished = time.Now().UTC()
	if runErr != nil {
		rec.rec.Status = ir.JobFailed
		rec.rec.Err = runErr.Error()
	} else {
		rec.rec.Status = ir.JobSuccess
		rec.rec.Outputs = outputs
	}
	snapshot := rec.rec
	r.mu.Unlock()

	if runErr != nil {
		jobFailures.Inc()
		slog.Error("job failed",
			"job", shortHash(snapshot.JobHash),
			"module", snapshot.Manifest.ModuleType,
			"error", runErr,
		)
	} else {
		slog.Info("job succeeded",
			"job", shortHash(snapshot.JobHash),
			"module", snapshot.Manifest.ModuleType,
			"outputs", len(outputs),
		)
	}

	// Persist-and-continue: a persistence failure is logged, not turned
	// into a job failure, so replays stay deterministic.
	if blob, err := json.Marshal(snapshot); err != nil {
		slog.Error("encode job record", "job", shortHash(snapshot.JobHash), "error", err)
	} else if err := r.arch.Put(ctx, jobKey(snapshot.JobHash), blob); err != nil {
		slog.Error("persist job record", "job", shortHash(snapshot.JobHash), "error", err)
	}

	close(rec.done)
}

// terminalError converts a terminal record into the caller-facing error.
func (r *Registry) terminalError(jobHash string) error {
	rec, ok := r.Record(jobHash)
	if !ok || rec.Status != ir.JobFailed {
		return nil
	}
	return &JobExecutionError{
		JobHash:  jobHash,
		Manifest: rec.Manifest.ModuleType,
		Reason:   fmt.Errorf("%s", rec.Err),
	}
}

// inputContentHashes maps each input name to the content hash of the
// value it resolves to. Sentinel values contribute their status marker
// instead of a hash, so "not set" and "none" stay distinguishable.
func (r *Registry) inputContentHashes(ctx context.Context, inputs map[string]string) (map[string]string, error) {
	out := make(map[string]string, len(inputs))
	for name, id := range inputs {
		v, err := r.store.Get(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("input %q: %w", name, err)
		}
		if v.Status == ir.StatusSet {
			out[name] = v.ContentHash
		} else {
			out[name] = "status:" + string(v.Status)
		}
	}
	return out, nil
}

// resolvePayloads loads the payloads behind the input value ids.
func (r *Registry) resolvePayloads(ctx context.Context, inputs map[string]string) (map[string]ir.Datum, error) {
	out := make(map[string]ir.Datum, len(inputs))
	for name, id := range inputs {
		v, err := r.store.Get(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("input %q: %w", name, err)
		}
		d, err := r.store.Data(ctx, v)
		if err != nil {
			return nil, fmt.Errorf("input %q: %w", name, err)
		}
		out[name] = d
	}
	return out, nil
}

// loadArchived fetches a persisted record for a job hash, if any.
// Caller holds r.mu.
func (r *Registry) loadArchived(ctx context.Context, jobHash string) (ir.JobRecord, bool) {
	blob, ok, err := r.arch.Get(ctx, jobKey(jobHash))
	if err != nil {
		slog.Error("load job record", "job", shortHash(jobHash), "error", err)
		return ir.JobRecord{}, false
	}
	if !ok {
		return ir.JobRecord{}, false
	}
	var rec ir.JobRecord
	if err := json.Unmarshal(blob, &rec); err != nil {
		slog.Error("decode job record", "job", shortHash(jobHash), "error", err)
		return ir.JobRecord{}, false
	}
	return rec, true
}

func jobKey(jobHash string) string { return "job/" + jobHash }

func copyStringMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
