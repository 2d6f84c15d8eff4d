package engine

import (
	"fmt"
	"sort"

	"github.com/hostprep/hostprep/internal/config"
	hosterrors "github.com/hostprep/hostprep/pkg/errors"
)

// Node represents a vertex in the directive dependency graph.
type Node struct {
	ID         string
	Step       *config.Step
	Index      int
	DependsOn  []*Node
	Dependents []*Node
}

// Graph encapsulates the dependency structure and its topological levels.
// Within a level, nodes keep the order they appear in the profile: list
// position remains the documented tiebreak even though depends_on carries
// the real ordering contract.
type Graph struct {
	Nodes  map[string]*Node
	Levels [][]string
}

// NewGraph creates an empty graph.
func NewGraph() *Graph {
	return &Graph{Nodes: make(map[string]*Node)}
}

// AddNode inserts a step as a vertex in the graph. Index is the step's
// position in the profile.
func (g *Graph) AddNode(step *config.Step, index int) (*Node, error) {
	if step == nil {
		return nil, hosterrors.NewExecutionError("", fmt.Errorf("step cannot be nil"))
	}

	if g.Nodes == nil {
		g.Nodes = make(map[string]*Node)
	}

	if _, exists := g.Nodes[step.ID]; exists {
		return nil, hosterrors.NewValidationError("steps", fmt.Sprintf("duplicate step id %q", step.ID), nil)
	}

	node := &Node{ID: step.ID, Step: step, Index: index}
	g.Nodes[step.ID] = node
	return node, nil
}

// AddEdge records that `to` depends on `from`.
func (g *Graph) AddEdge(from, to string) error {
	source, ok := g.Nodes[from]
	if !ok {
		return hosterrors.NewValidationError("steps", fmt.Sprintf("unknown dependency %q", from), nil)
	}

	target, ok := g.Nodes[to]
	if !ok {
		return hosterrors.NewValidationError("steps", fmt.Sprintf("unknown dependency target %q", to), nil)
	}

	source.Dependents = append(source.Dependents, target)
	target.DependsOn = append(target.DependsOn, source)
	return nil
}

// TopologicalSort computes the dependency levels using Kahn's algorithm.
func (g *Graph) TopologicalSort() error {
	indegree := make(map[string]int, len(g.Nodes))
	for id := range g.Nodes {
		indegree[id] = 0
	}

	for _, node := range g.Nodes {
		for range node.DependsOn {
			indegree[node.ID]++
		}
	}

	var queue []string
	for id, degree := range indegree {
		if degree == 0 {
			queue = append(queue, id)
		}
	}
	g.sortByIndex(queue)

	processed := 0
	var levels [][]string

	for len(queue) > 0 {
		currentLevel := queue
		g.sortByIndex(currentLevel)
		levels = append(levels, append([]string(nil), currentLevel...))

		var nextLevel []string
		for _, id := range currentLevel {
			processed++
			node := g.Nodes[id]
			for _, dependent := range node.Dependents {
				indegree[dependent.ID]--
				if indegree[dependent.ID] == 0 {
					nextLevel = append(nextLevel, dependent.ID)
				}
			}
		}

		queue = nextLevel
	}

	if processed != len(g.Nodes) {
		return hosterrors.NewValidationError("steps", "cycle detected while sorting graph", nil)
	}

	g.Levels = levels
	return nil
}

func (g *Graph) sortByIndex(ids []string) {
	sort.SliceStable(ids, func(i, j int) bool {
		return g.Nodes[ids[i]].Index < g.Nodes[ids[j]].Index
	})
}
