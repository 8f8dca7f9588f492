package schema

import (
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/unitwork/internal/orm"
	"github.com/roach88/unitwork/internal/relation"
)

// CycleWarning reports a cycle of master relations between roles.
//
// Role-level cycles are not errors: a self-referencing tree is a cycle at
// role level and acyclic at row level. A cycle without a deferrable
// relation (refers_to) cannot be broken at run time if the rows themselves
// form it; those are reported at level "warning", the others at "info".
type CycleWarning struct {
	Path    []string `json:"path"`
	Message string   `json:"message"`
	Level   string   `json:"level"`
}

// AnalyzeCycles finds cycles in the graph of master relations.
//
// The algorithm:
//  1. Build role → target edges from belongs_to, refers_to and shadow
//     relations
//  2. Use Tarjan's algorithm to find strongly connected components
//  3. Report each SCC with size > 1 or a self-loop
//
// Output is sorted by path for stable reports.
func AnalyzeCycles(reg *Registry) []CycleWarning {
	graph, deferrable := buildDependencyGraph(reg)

	var warnings []CycleWarning
	for _, scc := range tarjanSCC(graph, reg.Roles()) {
		if len(scc) > 1 || (len(scc) == 1 && hasSelfLoop(scc[0], graph)) {
			warnings = append(warnings, cycleToWarning(scc, graph, deferrable))
		}
	}
	slices.SortFunc(warnings, func(a, b CycleWarning) int {
		return strings.Compare(strings.Join(a.Path, ","), strings.Join(b.Path, ","))
	})
	return warnings
}

// dependencyGraph maps role → roles that must be written first.
type dependencyGraph map[string][]string

type edge struct{ from, to string }

func buildDependencyGraph(reg *Registry) (dependencyGraph, map[edge]bool) {
	graph := make(dependencyGraph)
	deferrable := make(map[edge]bool)
	for _, role := range reg.Roles() {
		e, _ := reg.Entity(role)
		if graph[role] == nil {
			graph[role] = []string{}
		}
		for _, rel := range e.Relations.Side(orm.SideMaster) {
			to := rel.Target()
			if !slices.Contains(graph[role], to) {
				graph[role] = append(graph[role], to)
			}
			if rel.Kind() == relation.KindRefersTo {
				deferrable[edge{role, to}] = true
			}
		}
		slices.Sort(graph[role])
	}
	return graph, deferrable
}

func hasSelfLoop(node string, graph dependencyGraph) bool {
	return slices.Contains(graph[node], node)
}

// tarjanSCC finds strongly connected components using Tarjan's algorithm.
// Nodes are visited in the given order for deterministic output.
func tarjanSCC(graph dependencyGraph, nodes []string) [][]string {
	var (
		index   = 0
		stack   []string
		indices = make(map[string]int)
		lowlink = make(map[string]int)
		onStack = make(map[string]bool)
		sccs    [][]string
	)

	var strongConnect func(string)
	strongConnect = func(v string) {
		indices[v] = index
		lowlink[v] = index
		index++
		stack = append(stack, v)
		onStack[v] = true

		for _, w := range graph[v] {
			if _, visited := indices[w]; !visited {
				strongConnect(w)
				lowlink[v] = min(lowlink[v], lowlink[w])
			} else if onStack[w] {
				lowlink[v] = min(lowlink[v], indices[w])
			}
		}

		if lowlink[v] == indices[v] {
			var scc []string
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				scc = append(scc, w)
				if w == v {
					break
				}
			}
			slices.Sort(scc)
			sccs = append(sccs, scc)
		}
	}

	for _, node := range nodes {
		if _, visited := indices[node]; !visited {
			strongConnect(node)
		}
	}
	return sccs
}

func cycleToWarning(scc []string, graph dependencyGraph, deferrable map[edge]bool) CycleWarning {
	path := []string{scc[0], scc[0]}
	if len(scc) > 1 {
		path = reconstructCyclePath(scc, graph)
	}

	breakable := false
	for i := 0; i+1 < len(path); i++ {
		if deferrable[edge{path[i], path[i+1]}] {
			breakable = true
			break
		}
	}

	if breakable {
		return CycleWarning{
			Path:    path,
			Message: fmt.Sprintf("cycle broken by deferred writes: %s", strings.Join(path, " → ")),
			Level:   "info",
		}
	}
	return CycleWarning{
		Path:    path,
		Message: fmt.Sprintf("cycle without refers_to: %s; rows forming it cannot be ordered", strings.Join(path, " → ")),
		Level:   "warning",
	}
}

// reconstructCyclePath follows edges inside the SCC from its first node
// until it returns to it.
func reconstructCyclePath(scc []string, graph dependencyGraph) []string {
	members := make(map[string]bool, len(scc))
	for _, n := range scc {
		members[n] = true
	}

	start := scc[0]
	current := start
	path := []string{current}
	visited := make(map[string]bool)
	for {
		visited[current] = true
		var next string
		for _, w := range graph[current] {
			if members[w] && (!visited[w] || w == start) {
				next = w
				break
			}
		}
		if next == "" {
			break
		}
		path = append(path, next)
		if next == start {
			break
		}
		current = next
	}
	return path
}
