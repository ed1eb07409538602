// Package prune removes nodes that cannot influence the execution
// targets. Reachability follows link edges backward from the targets;
// everything outside the closure is removed consumers-before-producers
// so the model's in-use check never trips.
package prune

import (
	"github.com/kjall/promptfold/pkg/cycles"
	"github.com/kjall/promptfold/pkg/graph"

	gonumgraph "gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/traverse"
)

// Reachable computes the backward-reachable closure of the targets over
// the model's link edges. Targets absent from the model are ignored.
func Reachable(m *graph.Model, targets []graph.NodeID) map[graph.NodeID]bool {
	view := graph.NewLinkView(m, nil)
	reached := make(map[graph.NodeID]bool)

	// One walker across all targets: BFS keeps its visited set between
	// walks, so shared upstream regions are traversed once.
	walker := traverse.BreadthFirst{}
	for _, target := range targets {
		gid, ok := view.GraphID(target)
		if !ok || reached[target] {
			continue
		}
		walker.Walk(view.Directed(), simple.Node(gid), func(n gonumgraph.Node, _ int) bool {
			if id, ok := view.ModelID(n.ID()); ok {
				reached[id] = true
			}
			return false
		})
	}
	return reached
}

// Prune removes every node outside the backward-reachable closure of
// targets and returns the removed ids. An empty or unknown target set
// is a no-op: removing the whole graph is never the right answer.
func Prune(m *graph.Model, targets []graph.NodeID) ([]graph.NodeID, error) {
	reached := Reachable(m, targets)
	if len(reached) == 0 {
		return nil, nil
	}

	unreachable := make(map[graph.NodeID]bool)
	for _, id := range m.IDs() {
		if !reached[id] {
			unreachable[id] = true
		}
	}
	if len(unreachable) == 0 {
		return nil, nil
	}

	// Order removals by the condensation of the unreachable subgraph.
	// Tarjan emits producers first; walking the list backward removes
	// consumers before the nodes they link to.
	view := graph.NewLinkView(m, func(id graph.NodeID) bool { return unreachable[id] })
	sccs := cycles.NewTarjanSCC(view.Directed()).FindSCCs()

	removed := make([]graph.NodeID, 0, len(unreachable))
	for i := len(sccs) - 1; i >= 0; i-- {
		scc := sccs[i]
		ids := make([]graph.NodeID, 0, len(scc))
		for _, gid := range scc {
			if id, ok := view.ModelID(gid); ok {
				ids = append(ids, id)
			}
		}
		// Cyclic clusters (and self-linking nodes) have no valid removal
		// order; break the cycle by detaching their inputs first.
		if len(ids) > 1 {
			for _, id := range ids {
				m.DetachInputs(id)
			}
		} else if len(ids) == 1 && view.HasSelfLink(ids[0]) {
			m.DetachInputs(ids[0])
		}
		for _, id := range ids {
			if err := m.RemoveNode(id); err != nil {
				return removed, err
			}
			removed = append(removed, id)
		}
	}
	return removed, nil
}
