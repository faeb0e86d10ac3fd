package graph

import "strings"

// Index maps node ids to their position in g.Nodes and resolves each node's
// dependencies to positions. It is the slot layout the scheduler runs on.
type Index struct {
	Positions map[string]int
	Deps      [][]int
}

// Validate checks ids, dependency references and acyclicity. It returns a
// *GraphError matching ErrInvalidGraph, ErrDuplicateNodeID,
// ErrUnknownDependency or ErrCycleDetected.
func Validate(g *TaskGraph) error {
	_, err := BuildIndex(g)
	return err
}

// BuildIndex validates g and returns its slot index.
func BuildIndex(g *TaskGraph) (*Index, error) {
	if g == nil {
		return nil, invalidf("graph is nil")
	}

	positions := make(map[string]int, len(g.Nodes))
	for i, node := range g.Nodes {
		id := strings.TrimSpace(node.ID)
		if id == "" {
			return nil, invalidf("node at position %d has an empty id", i)
		}
		if _, exists := positions[node.ID]; exists {
			return nil, duplicateError(node.ID)
		}
		positions[node.ID] = i
	}

	deps := make([][]int, len(g.Nodes))
	for i, node := range g.Nodes {
		if len(node.DependsOn) == 0 {
			continue
		}
		resolved := make([]int, 0, len(node.DependsOn))
		for _, dep := range node.DependsOn {
			pos, ok := positions[dep]
			if !ok {
				return nil, unknownDependencyError(node.ID, dep)
			}
			resolved = append(resolved, pos)
		}
		deps[i] = resolved
	}

	if cycle := findCycle(g, deps); cycle != nil {
		return nil, cycleError(cycle)
	}
	return &Index{Positions: positions, Deps: deps}, nil
}

type visitState uint8

const (
	unvisited visitState = iota
	visiting
	visited
)

type frame struct {
	node int
	next int
}

// findCycle walks dependsOn edges depth-first with an explicit stack and
// returns the first cycle found as a closed id path (a -> b -> a).
func findCycle(g *TaskGraph, deps [][]int) []string {
	state := make([]visitState, len(g.Nodes))
	stack := make([]frame, 0, len(g.Nodes))

	for root := range g.Nodes {
		if state[root] != unvisited {
			continue
		}
		state[root] = visiting
		stack = append(stack[:0], frame{node: root})

		for len(stack) > 0 {
			top := &stack[len(stack)-1]
			if top.next >= len(deps[top.node]) {
				state[top.node] = visited
				stack = stack[:len(stack)-1]
				continue
			}
			dep := deps[top.node][top.next]
			top.next++

			switch state[dep] {
			case unvisited:
				state[dep] = visiting
				stack = append(stack, frame{node: dep})
			case visiting:
				return cyclePath(g, stack, dep)
			}
		}
	}
	return nil
}

func cyclePath(g *TaskGraph, stack []frame, repeated int) []string {
	start := 0
	for i, f := range stack {
		if f.node == repeated {
			start = i
			break
		}
	}
	path := make([]string, 0, len(stack)-start+1)
	for _, f := range stack[start:] {
		path = append(path, g.Nodes[f.node].ID)
	}
	return append(path, g.Nodes[repeated].ID)
}
