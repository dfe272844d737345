package resolve

import (
	"sort"

	"github.com/terassyi/depot/internal/depoterr"
)

// dag is the resolver's working graph of operations during construction;
// Plan is its finished, linearized output. Structure mirrors the teacher's
// node/edge/in-degree map shape, generalized from resource dependencies to
// operation dependencies.
type dag struct {
	nodes    map[OpID]Operation
	edges    map[OpID]map[OpID]struct{} // from -> set of ops it depends on
	inDegree map[OpID]int
	order    []OpID // insertion order, used for stable tie-breaks
}

func newDAG() *dag {
	return &dag{
		nodes:    make(map[OpID]Operation),
		edges:    make(map[OpID]map[OpID]struct{}),
		inDegree: make(map[OpID]int),
	}
}

// addOp inserts op if not already present (by OpID) and returns whether it
// was newly added — callers use this to implement per-fingerprint dedup
// (spec §4.6: at most one op with the same fingerprint per transaction).
func (g *dag) addOp(op Operation) bool {
	if _, exists := g.nodes[op.ID]; exists {
		return false
	}
	g.nodes[op.ID] = op
	g.edges[op.ID] = make(map[OpID]struct{})
	g.inDegree[op.ID] = 0
	g.order = append(g.order, op.ID)
	return true
}

// addDependency records that from must run after to succeeds.
func (g *dag) addDependency(from, to OpID) {
	if from == to {
		return
	}
	if _, ok := g.edges[from][to]; ok {
		return
	}
	g.edges[from][to] = struct{}{}
	g.inDegree[from]++
}

// linearize performs Kahn's algorithm to produce the resolver's total order
// (spec §4.5 contract 11): reverse-topological, i.e. dependencies run
// before dependents, with stable tie-breaks on (kind=Runtime before App,
// ref string lexicographic) among ops with equal in-degree.
func (g *dag) linearize() ([]Operation, error) {
	inDegree := make(map[OpID]int, len(g.inDegree))
	for id, n := range g.inDegree {
		inDegree[id] = n
	}
	// dependents[to] = ops that depend on "to", used to decrement inDegree
	dependents := make(map[OpID][]OpID)
	for from, deps := range g.edges {
		for to := range deps {
			dependents[to] = append(dependents[to], from)
		}
	}

	var ready []OpID
	for _, id := range g.order {
		if inDegree[id] == 0 {
			ready = append(ready, id)
		}
	}

	var result []Operation
	visited := make(map[OpID]bool)
	for len(ready) > 0 {
		sortReady(g, ready)
		next := ready[0]
		ready = ready[1:]
		if visited[next] {
			continue
		}
		visited[next] = true
		op := g.nodes[next]
		for dep := range g.edges[next] {
			op.DependsOn = append(op.DependsOn, dep)
		}
		result = append(result, op)

		for _, dependent := range dependents[next] {
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				ready = append(ready, dependent)
			}
		}
	}

	if len(result) != len(g.nodes) {
		return nil, depoterr.DependencyCycle
	}
	return result, nil
}

// sortReady applies the stable tie-break: Runtime ops before App ops, then
// lexicographic ref string, matching spec §4.5 contract 11.
func sortReady(g *dag, ids []OpID) {
	sort.SliceStable(ids, func(i, j int) bool {
		a, b := g.nodes[ids[i]], g.nodes[ids[j]]
		ra, rb := a.Ref.IsRuntime(), b.Ref.IsRuntime()
		if ra != rb {
			return ra // runtime sorts first
		}
		return a.Ref.Format() < b.Ref.Format()
	})
}
