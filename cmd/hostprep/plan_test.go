package main

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hostprep/hostprep/internal/engine"
)

func TestEmbeddedProfilePlansCleanly(t *testing.T) {
	cfg, err := loadProfile("")
	require.NoError(t, err)

	graph, err := engine.BuildDAG(cfg.Steps)
	require.NoError(t, err)

	plan, err := engine.GeneratePlan(graph)
	require.NoError(t, err)
	require.Len(t, plan.StepIDs, len(cfg.Steps))

	// Dependencies always land in earlier levels than their dependents.
	position := make(map[string]int, len(plan.StepIDs))
	for i, id := range plan.StepIDs {
		position[id] = i
	}
	for _, step := range cfg.Steps {
		for _, dep := range step.DependsOn {
			require.Less(t, position[dep], position[step.ID],
				"%s must run before %s", dep, step.ID)
		}
	}
}

func TestPlanCommandRejectsBrokenProfile(t *testing.T) {
	err := runPlan("/path/does/not/exist.yaml")
	require.Error(t, err)
}
