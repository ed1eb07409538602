package graph

import "fmt"

// MalformedGraphError reports a structural defect in a submitted graph,
// typically a link that references a node absent from the graph.
type MalformedGraphError struct {
	Node   NodeID
	Input  string
	Reason string
}

func (e *MalformedGraphError) Error() string {
	if e.Input != "" {
		return fmt.Sprintf("malformed graph: node %q input %q: %s", e.Node, e.Input, e.Reason)
	}
	return fmt.Sprintf("malformed graph: node %q: %s", e.Node, e.Reason)
}

// NodeInUseError is returned by RemoveNode when the node still has
// consumers linking to one of its output slots.
type NodeInUseError struct {
	Node      NodeID
	Consumers int
}

func (e *NodeInUseError) Error() string {
	return fmt.Sprintf("node %q still has %d consumer(s)", e.Node, e.Consumers)
}
