// Package cycles reports strongly connected link structures in a prompt
// graph. Hosts submit graphs that are expected to be acyclic, but the
// engine never assumes it; cycles found here feed debug diagnostics and
// the pruner's removal ordering.
package cycles

import (
	"github.com/kjall/promptfold/pkg/graph"
)

// LinkCycle is a set of nodes whose links form a cycle.
type LinkCycle struct {
	Nodes []graph.NodeID
}

// FindLinkCycles returns every cycle in the model's link structure,
// including single nodes that link to their own output.
func FindLinkCycles(m *graph.Model) []LinkCycle {
	view := graph.NewLinkView(m, nil)
	sccs := NewTarjanSCC(view.Directed()).FindSCCs()

	var out []LinkCycle
	for _, scc := range sccs {
		ids := make([]graph.NodeID, 0, len(scc))
		for _, gid := range scc {
			if id, ok := view.ModelID(gid); ok {
				ids = append(ids, id)
			}
		}
		if len(ids) > 1 || (len(ids) == 1 && view.HasSelfLink(ids[0])) {
			out = append(out, LinkCycle{Nodes: ids})
		}
	}
	return out
}
