package graph

import (
	gonumgraph "gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/simple"
)

// LinkView projects a Model onto a gonum directed graph so reachability
// and SCC algorithms can run over it. Edges point from consumer to
// producer, matching the backward direction the pruner traverses.
type LinkView struct {
	g         *simple.DirectedGraph
	ids       map[NodeID]int64
	back      map[int64]NodeID
	selfLinks map[NodeID]bool
}

// NewLinkView builds the projection. A nil include func takes every
// node; otherwise only nodes (and edges between nodes) for which
// include returns true are added.
func NewLinkView(m *Model, include func(NodeID) bool) *LinkView {
	v := &LinkView{
		g:         simple.NewDirectedGraph(),
		ids:       make(map[NodeID]int64),
		back:      make(map[int64]NodeID),
		selfLinks: make(map[NodeID]bool),
	}
	var next int64
	add := func(id NodeID) int64 {
		gid, ok := v.ids[id]
		if !ok {
			gid = next
			next++
			v.ids[id] = gid
			v.back[gid] = id
			v.g.AddNode(simple.Node(gid))
		}
		return gid
	}

	for _, id := range m.IDs() {
		if include != nil && !include(id) {
			continue
		}
		n, _ := m.Node(id)
		from := add(id)
		edge := func(link Link) {
			if include != nil && !include(link.Source) {
				return
			}
			if _, exists := m.Node(link.Source); !exists {
				return
			}
			if link.Source == id {
				// simple.DirectedGraph rejects self edges; remember them
				// so callers can treat the node as its own consumer.
				v.selfLinks[id] = true
				return
			}
			to := add(link.Source)
			if !v.g.HasEdgeFromTo(from, to) {
				v.g.SetEdge(v.g.NewEdge(v.g.Node(from), v.g.Node(to)))
			}
		}
		for _, name := range n.InputNames() {
			in := n.Inputs[name]
			if link, isLink := in.Link(); isLink {
				edge(link)
				continue
			}
			// Links nested inside list/object values are never rewired,
			// but they still anchor their sources in the graph.
			for _, link := range in.NestedLinks() {
				edge(link)
			}
		}
	}
	return v
}

// Directed exposes the underlying gonum graph.
func (v *LinkView) Directed() gonumgraph.Directed { return v.g }

// GraphID maps a node id to its gonum id.
func (v *LinkView) GraphID(id NodeID) (int64, bool) {
	gid, ok := v.ids[id]
	return gid, ok
}

// ModelID maps a gonum id back to the node id.
func (v *LinkView) ModelID(gid int64) (NodeID, bool) {
	id, ok := v.back[gid]
	return id, ok
}

// HasSelfLink reports whether the node links to its own output.
func (v *LinkView) HasSelfLink(id NodeID) bool { return v.selfLinks[id] }
