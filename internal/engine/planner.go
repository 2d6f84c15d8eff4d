package engine

import (
	"fmt"
	"strings"
)

// ExecutionPlan is the flattened, strictly sequential order the executor
// walks. Dependency levels only decide ordering; nothing ever runs in
// parallel.
type ExecutionPlan struct {
	StepIDs []string
	Levels  [][]string
}

// GeneratePlan converts a dependency graph into a sequential execution plan.
func GeneratePlan(graph *Graph) (*ExecutionPlan, error) {
	if graph == nil {
		return nil, fmt.Errorf("graph cannot be nil")
	}

	plan := &ExecutionPlan{}
	for _, ids := range graph.Levels {
		level := append([]string(nil), ids...)
		plan.Levels = append(plan.Levels, level)
		plan.StepIDs = append(plan.StepIDs, level...)
	}

	return plan, nil
}

// String renders a human readable summary of the plan.
func (p *ExecutionPlan) String() string {
	if p == nil {
		return ""
	}

	var b strings.Builder
	for i, level := range p.Levels {
		fmt.Fprintf(&b, "Level %d (%d steps): %s\n", i, len(level), strings.Join(level, ", "))
	}
	return b.String()
}
