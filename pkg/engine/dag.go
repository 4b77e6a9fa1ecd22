package engine

import (
	"fmt"
	"slices"
	"strings"
)

// Node is one resource in the artifact ordering graph.
type Node struct {
	ID           string       `json:"id"`
	Kind         string       `json:"kind"`
	Ensure       string       `json:"ensure"`
	Dependencies []Dependency `json:"dependencies,omitempty"`
}

// ExecutionGraph is the artifacts arranged in levels. Every node comes
// after all of its dependencies; nodes on one level are unordered among
// themselves and listed by ID.
type ExecutionGraph struct {
	Nodes  map[string]*GraphNode `json:"nodes"`
	Edges  []GraphEdge           `json:"edges"`
	Roots  []string              `json:"roots"`
	Levels [][]string            `json:"levels"`
	Depth  int                   `json:"depth"`
}

// GraphNode is a node annotated with its level.
type GraphNode struct {
	ID           string   `json:"id"`
	Kind         string   `json:"kind"`
	Ensure       string   `json:"ensure"`
	Level        int      `json:"level"`
	Dependencies []string `json:"dependencies"`
	Dependents   []string `json:"dependents"`
}

// GraphEdge points from a dependency to its dependent.
type GraphEdge struct {
	From string         `json:"from"`
	To   string         `json:"to"`
	Type DependencyType `json:"type"`
}

// BuildGraph checks references and orders nodes by level. A cycle is
// reported with its path, e.g. "a -> b -> a".
func BuildGraph(nodes []Node) (*ExecutionGraph, error) {
	g := &ExecutionGraph{
		Nodes:  make(map[string]*GraphNode, len(nodes)),
		Edges:  []GraphEdge{},
		Roots:  []string{},
		Levels: [][]string{},
	}

	for _, n := range nodes {
		if n.ID == "" {
			return nil, fmt.Errorf("%w: empty reference", ErrUnknownReference)
		}
		if _, dup := g.Nodes[n.ID]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateRef, n.ID)
		}
		g.Nodes[n.ID] = &GraphNode{ID: n.ID, Kind: n.Kind, Ensure: n.Ensure, Dependencies: []string{}, Dependents: []string{}}
	}

	for _, n := range nodes {
		for _, dep := range n.Dependencies {
			from, ok := g.Nodes[dep.TargetID]
			if !ok {
				return nil, fmt.Errorf("%w: %s depends on %s", ErrUnknownReference, n.ID, dep.TargetID)
			}
			from.Dependents = append(from.Dependents, n.ID)
			g.Nodes[n.ID].Dependencies = append(g.Nodes[n.ID].Dependencies, dep.TargetID)
			g.Edges = append(g.Edges, GraphEdge{From: dep.TargetID, To: n.ID, Type: dep.Type})
		}
	}
	slices.SortFunc(g.Edges, func(a, b GraphEdge) int {
		if c := strings.Compare(a.To, b.To); c != 0 {
			return c
		}
		return strings.Compare(a.From, b.From)
	})

	if err := g.level(); err != nil {
		return nil, err
	}
	return g, nil
}

// level assigns levels by repeatedly taking the nodes whose dependencies
// are all placed.
func (g *ExecutionGraph) level() error {
	waiting := make(map[string]int, len(g.Nodes))
	var ready []string
	for id, n := range g.Nodes {
		waiting[id] = len(n.Dependencies)
		if len(n.Dependencies) == 0 {
			ready = append(ready, id)
		}
	}

	placed := 0
	for len(ready) > 0 {
		slices.Sort(ready)
		depth := len(g.Levels)
		g.Levels = append(g.Levels, ready)
		placed += len(ready)

		var next []string
		for _, id := range ready {
			g.Nodes[id].Level = depth
			for _, d := range g.Nodes[id].Dependents {
				if waiting[d]--; waiting[d] == 0 {
					next = append(next, d)
				}
			}
		}
		ready = next
	}

	if placed < len(g.Nodes) {
		return fmt.Errorf("%w: %s", ErrCycle, strings.Join(g.cycle(waiting), " -> "))
	}

	g.Depth = len(g.Levels)
	if len(g.Levels) > 0 {
		g.Roots = g.Levels[0]
	}
	return nil
}

// cycle follows unplaced dependencies from the smallest unplaced node
// until a node repeats. Every unplaced node has an unplaced dependency.
func (g *ExecutionGraph) cycle(waiting map[string]int) []string {
	var start string
	for id, n := range waiting {
		if n > 0 && (start == "" || id < start) {
			start = id
		}
	}

	seen := map[string]int{}
	var path []string
	for id := start; ; {
		if i, ok := seen[id]; ok {
			return append(path[i:], id)
		}
		seen[id] = len(path)
		path = append(path, id)

		deps := slices.Clone(g.Nodes[id].Dependencies)
		slices.Sort(deps)
		for _, d := range deps {
			if waiting[d] > 0 {
				id = d
				break
			}
		}
	}
}

// Order flattens the levels into a single apply order.
func (g *ExecutionGraph) Order() []string {
	return slices.Concat(g.Levels...)
}

// ToDOT renders the graph for Graphviz with one cluster per level.
func (g *ExecutionGraph) ToDOT() string {
	var sb strings.Builder

	sb.WriteString("digraph Artifacts {\n")
	sb.WriteString("  rankdir=TB;\n")
	sb.WriteString("  node [shape=box, style=\"filled,rounded\"];\n\n")

	for depth, ids := range g.Levels {
		fmt.Fprintf(&sb, "  subgraph cluster_level_%d {\n", depth)
		fmt.Fprintf(&sb, "    label=\"Level %d\";\n    style=dashed;\n", depth)
		for _, id := range ids {
			n := g.Nodes[id]
			fmt.Fprintf(&sb, "    %q [label=%q, fillcolor=%s];\n", id, id+"\n"+n.Ensure, ensureColor(n.Ensure))
		}
		sb.WriteString("  }\n\n")
	}

	for _, e := range g.Edges {
		style := "style=solid, color=black"
		if e.Type == DependencySubscribe {
			style = "style=dashed, color=blue"
		}
		fmt.Fprintf(&sb, "  %q -> %q [%s];\n", e.From, e.To, style)
	}

	sb.WriteString("}\n")
	return sb.String()
}

func ensureColor(ensure string) string {
	switch FileEnsure(ensure) {
	case FileEnsureFile, FileEnsureDirectory:
		return "lightgreen"
	case FileEnsureAbsent:
		return "lightcoral"
	}
	return "lightblue"
}
