package pipeline

import "fmt"

// planStages turns the validated step graph into the stage plan for the
// structure's staging policy and verifies the plan respects every
// step-to-step dependency. Called after the cycle check, so the graph is
// a DAG.
func (s *Structure) planStages() ([][]string, error) {
	var stages [][]string
	switch s.Staging {
	case StageSingle:
		stage := make([]string, len(s.order))
		copy(stage, s.order)
		stages = [][]string{stage}
	case StagePerStep:
		stages = make([][]string, 0, len(s.order))
		for _, id := range s.order {
			stages = append(stages, []string{id})
		}
	case StageEarly:
		stages = s.groupByIndex(s.earlyIndexes())
	case StageLate:
		stages = s.groupByIndex(s.lateIndexes())
	}

	// single_stage deliberately trades ordering for one flat barrier;
	// every other policy must honor the dependency order.
	if s.Staging != StageSingle {
		if err := s.checkStageOrder(stages); err != nil {
			return nil, err
		}
	}
	return stages, nil
}

// earlyIndexes assigns each step the length of the longest dependency
// path feeding it: a step runs as soon as its inputs can exist.
func (s *Structure) earlyIndexes() map[string]int {
	index := make(map[string]int, len(s.order))
	var visit func(id string) int
	visit = func(id string) int {
		if idx, ok := index[id]; ok {
			return idx
		}
		idx := 0
		for _, up := range s.upstream[id] {
			if d := visit(up) + 1; d > idx {
				idx = d
			}
		}
		index[id] = idx
		return idx
	}
	for _, id := range s.order {
		visit(id)
	}
	return index
}

// lateIndexes assigns stages from the output side: each step runs as
// late as its dependents allow, so steps feeding only the final stage
// run just before it.
func (s *Structure) lateIndexes() map[string]int {
	height := make(map[string]int, len(s.order))
	var visit func(id string) int
	visit = func(id string) int {
		if h, ok := height[id]; ok {
			return h
		}
		h := 0
		for _, down := range s.downstream[id] {
			if d := visit(down) + 1; d > h {
				h = d
			}
		}
		height[id] = h
		return h
	}
	max := 0
	for _, id := range s.order {
		if h := visit(id); h > max {
			max = h
		}
	}

	index := make(map[string]int, len(s.order))
	for id, h := range height {
		index[id] = max - h
	}
	return index
}

// groupByIndex buckets steps by stage index, keeping declaration order
// within each stage. Empty buckets cannot occur: indexes are path
// lengths over a connected assignment.
func (s *Structure) groupByIndex(index map[string]int) [][]string {
	max := 0
	for _, idx := range index {
		if idx > max {
			max = idx
		}
	}
	stages := make([][]string, max+1)
	for _, id := range s.order {
		idx := index[id]
		stages[idx] = append(stages[idx], id)
	}

	out := stages[:0]
	for _, stage := range stages {
		if len(stage) > 0 {
			out = append(out, stage)
		}
	}
	return out
}

// checkStageOrder verifies that every dependency lands in a strictly
// earlier stage than its dependent. stage_per_step preserves declaration
// order instead of recomputing topology, so a declaration listing a step
// before its dependency fails here.
func (s *Structure) checkStageOrder(stages [][]string) error {
	stageOf := make(map[string]int, len(s.order))
	for i, stage := range stages {
		for _, id := range stage {
			stageOf[id] = i
		}
	}
	for _, id := range s.order {
		for _, up := range s.upstream[id] {
			if stageOf[up] >= stageOf[id] {
				return fmt.Errorf("staging %q: step %q is scheduled no later than its dependency %q", s.Staging, id, up)
			}
		}
	}
	return nil
}
