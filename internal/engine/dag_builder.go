package engine

import (
	"fmt"

	"github.com/hostprep/hostprep/internal/config"
	hosterrors "github.com/hostprep/hostprep/pkg/errors"
)

// BuildDAG constructs the dependency graph from the provided steps. Disabled
// steps are excluded; dependencies on disabled steps are dropped rather than
// treated as errors so a profile can toggle optional directives off.
func BuildDAG(steps []config.Step) (*Graph, error) {
	graph := NewGraph()
	stepMap := make(map[string]*config.Step, len(steps))

	for i := range steps {
		step := &steps[i]
		if !step.Enabled {
			continue
		}
		if _, err := graph.AddNode(step, i); err != nil {
			return nil, err
		}
		stepMap[step.ID] = step
	}

	known := config.StepMap(steps)

	for _, step := range steps {
		if !step.Enabled {
			continue
		}
		for _, dependency := range step.DependsOn {
			if _, declared := known[dependency]; !declared {
				return nil, hosterrors.NewValidationError("steps", fmt.Sprintf("step %q depends on unknown step %q", step.ID, dependency), nil)
			}
			if _, enabled := stepMap[dependency]; !enabled {
				continue
			}
			if err := graph.AddEdge(dependency, step.ID); err != nil {
				return nil, err
			}
		}
	}

	if err := graph.TopologicalSort(); err != nil {
		return nil, err
	}

	return graph, nil
}
