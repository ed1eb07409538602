package graph

import (
	"encoding/json"
	"fmt"
	"sort"
)

// NodeID identifies a node within one submitted graph.
type NodeID string

// Endpoint is one output slot of a node.
type Endpoint struct {
	Node NodeID
	Slot int
}

// Consumer is one named input of a node that links to some endpoint.
type Consumer struct {
	Node  NodeID
	Input string
}

// Link points an input at another node's output slot.
type Link struct {
	Source NodeID
	Slot   int
}

// InputValue is a tagged input: either a literal JSON value or a link to
// another node's output. The raw JSON encoding is kept so untouched
// inputs round-trip byte-for-byte.
type InputValue struct {
	link *Link
	raw  json.RawMessage
}

// Lit builds a literal input from any JSON-representable value.
func Lit(v any) InputValue {
	raw, err := json.Marshal(v)
	if err != nil {
		// Only reachable with non-JSON values, which callers never pass.
		raw = []byte("null")
	}
	return InputValue{raw: raw}
}

// LitRaw builds a literal input from an already-encoded JSON value.
func LitRaw(raw json.RawMessage) InputValue {
	return InputValue{raw: raw}
}

// LinkTo builds a link input pointing at the given node and output slot.
func LinkTo(id NodeID, slot int) InputValue {
	raw, _ := json.Marshal([2]any{string(id), slot})
	return InputValue{link: &Link{Source: id, Slot: slot}, raw: raw}
}

// IsLink reports whether the input is a link rather than a literal.
func (v InputValue) IsLink() bool { return v.link != nil }

// Link returns the link target, if the input is a link.
func (v InputValue) Link() (Link, bool) {
	if v.link == nil {
		return Link{}, false
	}
	return *v.link, true
}

// Raw returns the JSON encoding of the input value.
func (v InputValue) Raw() json.RawMessage { return v.raw }

// Literal decodes a literal input into a Go value. Links decode to nil.
func (v InputValue) Literal() (any, bool) {
	if v.link != nil {
		return nil, false
	}
	var out any
	if err := json.Unmarshal(v.raw, &out); err != nil {
		return nil, false
	}
	return out, true
}

// Equal compares two input values by JSON encoding.
func (v InputValue) Equal(o InputValue) bool {
	if (v.link == nil) != (o.link == nil) {
		return false
	}
	if v.link != nil {
		return *v.link == *o.link
	}
	return string(v.raw) == string(o.raw)
}

// Node is one vertex of the prompt graph: a class type plus named inputs.
// Fields the engine does not interpret (such as _meta) are preserved in
// extra and re-emitted on export.
type Node struct {
	ID        NodeID
	ClassType string
	Inputs    map[string]InputValue

	extra map[string]json.RawMessage
}

// InputNames returns the node's input names in sorted order.
func (n *Node) InputNames() []string {
	names := make([]string, 0, len(n.Inputs))
	for name := range n.Inputs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Model is the in-memory graph: a node arena plus a derived consumer
// index mapping each output endpoint to the inputs that link to it. The
// index is kept consistent with the node set across every mutation.
type Model struct {
	nodes     map[NodeID]*Node
	consumers map[Endpoint]map[Consumer]struct{}
}

// New creates an empty model.
func New() *Model {
	return &Model{
		nodes:     make(map[NodeID]*Node),
		consumers: make(map[Endpoint]map[Consumer]struct{}),
	}
}

// Len returns the number of nodes.
func (m *Model) Len() int { return len(m.nodes) }

// Node looks up a node by id.
func (m *Model) Node(id NodeID) (*Node, bool) {
	n, ok := m.nodes[id]
	return n, ok
}

// IDs returns all node ids in sorted order, for deterministic passes.
func (m *Model) IDs() []NodeID {
	ids := make([]NodeID, 0, len(m.nodes))
	for id := range m.nodes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// AddNode inserts a node and registers its links in the consumer index.
// Link targets are not validated here; Load checks the whole graph once
// all nodes are present.
func (m *Model) AddNode(n *Node) error {
	if _, dup := m.nodes[n.ID]; dup {
		return fmt.Errorf("duplicate node id %q", n.ID)
	}
	m.nodes[n.ID] = n
	for name, v := range n.Inputs {
		if link, ok := v.Link(); ok {
			m.register(Endpoint{link.Source, link.Slot}, Consumer{n.ID, name})
		}
	}
	return nil
}

// ConsumersOf returns the inputs currently linking to an endpoint, in
// deterministic order.
func (m *Model) ConsumersOf(ep Endpoint) []Consumer {
	set := m.consumers[ep]
	out := make([]Consumer, 0, len(set))
	for c := range set {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Node != out[j].Node {
			return out[i].Node < out[j].Node
		}
		return out[i].Input < out[j].Input
	})
	return out
}

// HasConsumers reports whether any input links to any output slot of id.
func (m *Model) HasConsumers(id NodeID) bool {
	for ep, set := range m.consumers {
		if ep.Node == id && len(set) > 0 {
			return true
		}
	}
	return false
}

// SetInput assigns one input of a node, keeping the consumer index in
// sync with the old and new value.
func (m *Model) SetInput(id NodeID, name string, v InputValue) error {
	n, ok := m.nodes[id]
	if !ok {
		return fmt.Errorf("set input: unknown node %q", id)
	}
	if old, exists := n.Inputs[name]; exists {
		if link, isLink := old.Link(); isLink {
			m.unregister(Endpoint{link.Source, link.Slot}, Consumer{id, name})
		}
	}
	n.Inputs[name] = v
	if link, isLink := v.Link(); isLink {
		m.register(Endpoint{link.Source, link.Slot}, Consumer{id, name})
	}
	return nil
}

// RewireConsumers repoints every input that links to from so that it
// links to to instead. Returns the number of inputs changed.
func (m *Model) RewireConsumers(from, to Endpoint) (int, error) {
	if from == to {
		return 0, nil
	}
	if _, ok := m.nodes[to.Node]; !ok {
		return 0, &MalformedGraphError{Node: to.Node, Reason: "rewire target does not exist"}
	}
	consumers := m.ConsumersOf(from)
	for _, c := range consumers {
		if err := m.SetInput(c.Node, c.Input, LinkTo(to.Node, to.Slot)); err != nil {
			return 0, err
		}
	}
	return len(consumers), nil
}

// ReplaceConsumersWithLiteral replaces every input linking to from with
// a copy of the given literal. Returns the number of inputs changed.
func (m *Model) ReplaceConsumersWithLiteral(from Endpoint, lit InputValue) (int, error) {
	if lit.IsLink() {
		return 0, fmt.Errorf("replacement value is a link, not a literal")
	}
	consumers := m.ConsumersOf(from)
	for _, c := range consumers {
		if err := m.SetInput(c.Node, c.Input, lit); err != nil {
			return 0, err
		}
	}
	return len(consumers), nil
}

// RemoveNode deletes a node that no input links to. Callers removing
// whole unreachable regions must remove consumers before producers.
func (m *Model) RemoveNode(id NodeID) error {
	n, ok := m.nodes[id]
	if !ok {
		return fmt.Errorf("remove: unknown node %q", id)
	}
	count := 0
	for ep, set := range m.consumers {
		if ep.Node == id {
			count += len(set)
		}
	}
	if count > 0 {
		return &NodeInUseError{Node: id, Consumers: count}
	}
	for name, v := range n.Inputs {
		if link, isLink := v.Link(); isLink {
			m.unregister(Endpoint{link.Source, link.Slot}, Consumer{id, name})
		}
	}
	delete(m.nodes, id)
	return nil
}

// DetachInputs drops every link input of a node, unregistering it from
// the consumer index. Used when dismantling cyclic unreachable clusters
// where no removal order satisfies the in-use check.
func (m *Model) DetachInputs(id NodeID) {
	n, ok := m.nodes[id]
	if !ok {
		return
	}
	for name, v := range n.Inputs {
		if link, isLink := v.Link(); isLink {
			m.unregister(Endpoint{link.Source, link.Slot}, Consumer{id, name})
			n.Inputs[name] = LitRaw([]byte("null"))
		}
	}
}

func (m *Model) register(ep Endpoint, c Consumer) {
	set := m.consumers[ep]
	if set == nil {
		set = make(map[Consumer]struct{})
		m.consumers[ep] = set
	}
	set[c] = struct{}{}
}

func (m *Model) unregister(ep Endpoint, c Consumer) {
	set := m.consumers[ep]
	if set == nil {
		return
	}
	delete(set, c)
	if len(set) == 0 {
		delete(m.consumers, ep)
	}
}
