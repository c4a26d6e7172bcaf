package engine

import (
	"fmt"
	"sort"
	"strings"
)

// GraphBuilder builds the dependency graph over a catalog's resources. It
// validates dependency targets, detects cycles, and computes a deterministic
// topological order: dependencies first, ties broken by declaration order.
type GraphBuilder struct {
	// resources maps resource IDs to their resources
	resources map[string]*Resource

	// declIndex records declaration order for the stable tie-break
	declIndex map[string]int

	// dependents maps a resource ID to the IDs that depend on it
	dependents map[string][]string

	// inDegree tracks the number of unsatisfied dependencies per resource
	inDegree map[string]int

	// levels maps execution level to resource IDs at that level
	levels [][]string
}

// Graph is the computed execution structure for one catalog.
type Graph struct {
	// Order is the full topological order of resource IDs.
	Order []string `json:"order"`

	// Levels groups resource IDs by depth from the roots. Resources within a
	// level share no dependency path and may be applied concurrently.
	Levels [][]string `json:"levels"`

	// Dependents maps a resource ID to the IDs that require it.
	Dependents map[string][]string `json:"dependents"`
}

// NewGraphBuilder creates a new graph builder.
func NewGraphBuilder() *GraphBuilder {
	return &GraphBuilder{
		resources:  make(map[string]*Resource),
		declIndex:  make(map[string]int),
		dependents: make(map[string][]string),
		inDegree:   make(map[string]int),
	}
}

// Build constructs the dependency graph for a catalog.
func (b *GraphBuilder) Build(cat *Catalog) (*Graph, error) {
	if err := b.initialize(cat); err != nil {
		return nil, err
	}
	if err := b.detectCycles(); err != nil {
		return nil, err
	}
	b.computeLevels()

	order := make([]string, 0, len(b.resources))
	for _, level := range b.levels {
		order = append(order, level...)
	}
	if len(order) != len(b.resources) {
		// Unreachable once cycle detection passed.
		return nil, NewCycleError([]string{"<unprocessed resources remain>"})
	}

	return &Graph{
		Order:      order,
		Levels:     b.levels,
		Dependents: b.dependents,
	}, nil
}

// initialize indexes resources and builds the dependency edges.
func (b *GraphBuilder) initialize(cat *Catalog) error {
	for i := range cat.Resources {
		r := &cat.Resources[i]
		b.resources[r.ID] = r
		b.declIndex[r.ID] = i
		b.inDegree[r.ID] = 0
	}

	for i := range cat.Resources {
		r := &cat.Resources[i]
		for _, dep := range r.Dependencies {
			if _, exists := b.resources[dep]; !exists {
				return NewSchemaError(r.ID, "dependencies",
					fmt.Sprintf("depends on undeclared resource %q", dep))
			}
			b.dependents[dep] = append(b.dependents[dep], r.ID)
			b.inDegree[r.ID]++
		}
	}
	return nil
}

// detectCycles walks the dependency relation depth-first and reports the
// first cycle found, with its path, as a CycleError.
func (b *GraphBuilder) detectCycles() error {
	visited := make(map[string]bool)
	onStack := make(map[string]bool)

	// Iterate in declaration order so the reported cycle is stable.
	ids := b.declarationOrder()
	for _, id := range ids {
		if visited[id] {
			continue
		}
		if cycle := b.findCycle(id, visited, onStack, nil); cycle != nil {
			return NewCycleError(cycle)
		}
	}
	return nil
}

func (b *GraphBuilder) findCycle(id string, visited, onStack map[string]bool, path []string) []string {
	visited[id] = true
	onStack[id] = true
	path = append(path, id)

	for _, next := range b.dependents[id] {
		if !visited[next] {
			if cycle := b.findCycle(next, visited, onStack, path); cycle != nil {
				return cycle
			}
		} else if onStack[next] {
			start := 0
			for i, p := range path {
				if p == next {
					start = i
					break
				}
			}
			return append(append([]string{}, path[start:]...), next)
		}
	}

	onStack[id] = false
	return nil
}

// computeLevels runs Kahn's algorithm, sorting each level by declaration
// order so the resulting order is deterministic.
func (b *GraphBuilder) computeLevels() {
	inDegree := make(map[string]int, len(b.inDegree))
	for id, d := range b.inDegree {
		inDegree[id] = d
	}

	current := make([]string, 0)
	for _, id := range b.declarationOrder() {
		if inDegree[id] == 0 {
			current = append(current, id)
		}
	}

	for len(current) > 0 {
		b.sortByDeclaration(current)
		b.levels = append(b.levels, current)

		next := make([]string, 0)
		for _, id := range current {
			for _, dep := range b.dependents[id] {
				inDegree[dep]--
				if inDegree[dep] == 0 {
					next = append(next, dep)
				}
			}
		}
		current = next
	}
}

// declarationOrder returns all resource IDs sorted by declaration index.
func (b *GraphBuilder) declarationOrder() []string {
	ids := make([]string, 0, len(b.resources))
	for id := range b.resources {
		ids = append(ids, id)
	}
	b.sortByDeclaration(ids)
	return ids
}

func (b *GraphBuilder) sortByDeclaration(ids []string) {
	sort.Slice(ids, func(i, j int) bool {
		return b.declIndex[ids[i]] < b.declIndex[ids[j]]
	})
}

// ToDOT renders the graph in DOT format for Graphviz.
func (g *Graph) ToDOT() string {
	var sb strings.Builder
	sb.WriteString("digraph catalog {\n")
	sb.WriteString("  rankdir=TB;\n")
	sb.WriteString("  node [shape=box, style=rounded];\n")
	for _, id := range g.Order {
		fmt.Fprintf(&sb, "  %q;\n", id)
	}
	for from, tos := range g.Dependents {
		for _, to := range tos {
			fmt.Fprintf(&sb, "  %q -> %q;\n", from, to)
		}
	}
	sb.WriteString("}\n")
	return sb.String()
}
