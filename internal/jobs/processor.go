package jobs

import "golang.org/x/sync/errgroup"

// Processor owns the concurrency policy for job execution. The registry
// hands it self-contained run functions; completion is observed through
// the job records, not the processor.
//
// Both implementations preserve the memoization guarantee: dedup happens
// in the registry before a run function is ever built.
type Processor interface {
	// Submit schedules one job body. It may run in-caller or on a
	// worker; it must run exactly once.
	Submit(run func())
	// Drain blocks until every submitted job body has returned.
	Drain() error
}

// SyncProcessor runs each job inline in the submitting goroutine.
// Used for trivial pipelines and deterministic tests.
type SyncProcessor struct{}

func (SyncProcessor) Submit(run func()) { run() }

func (SyncProcessor) Drain() error { return nil }

// PoolProcessor fans jobs out to a bounded worker pool.
type PoolProcessor struct {
	group *errgroup.Group
}

// NewPoolProcessor creates a processor running at most workers jobs
// concurrently. workers < 1 falls back to 1.
func NewPoolProcessor(workers int) *PoolProcessor {
	if workers < 1 {
		workers = 1
	}
	g := &errgroup.Group{}
	g.SetLimit(workers)
	return &PoolProcessor{group: g}
}

func (p *PoolProcessor) Submit(run func()) {
	p.group.Go(func() error {
		run()
		return nil
	})
}

func (p *PoolProcessor) Drain() error {
	return p.group.Wait()
}
