package graph

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// RawGraph is the wire form of a submitted graph: node id to the node's
// raw JSON object ({"class_type": ..., "inputs": {...}, ...}).
type RawGraph map[string]json.RawMessage

type rawNode struct {
	ClassType string                     `json:"class_type"`
	Inputs    map[string]json.RawMessage `json:"inputs"`
}

// Load parses a raw graph into a Model and validates that every link
// references a node present in the graph. A dangling link yields a
// MalformedGraphError; the caller is expected to fall back to the
// unmodified input rather than crash.
func Load(raw RawGraph) (*Model, error) {
	m := New()
	for id, data := range raw {
		n, err := parseNode(NodeID(id), data)
		if err != nil {
			return nil, err
		}
		if err := m.AddNode(n); err != nil {
			return nil, err
		}
	}
	for _, id := range m.IDs() {
		n := m.nodes[id]
		for _, name := range n.InputNames() {
			if link, ok := n.Inputs[name].Link(); ok {
				if _, exists := m.nodes[link.Source]; !exists {
					return nil, &MalformedGraphError{
						Node:   id,
						Input:  name,
						Reason: fmt.Sprintf("link references missing node %q", link.Source),
					}
				}
			}
		}
	}
	return m, nil
}

func parseNode(id NodeID, data json.RawMessage) (*Node, error) {
	var rn rawNode
	if err := json.Unmarshal(data, &rn); err != nil {
		return nil, &MalformedGraphError{Node: id, Reason: fmt.Sprintf("not a node object: %v", err)}
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, &MalformedGraphError{Node: id, Reason: fmt.Sprintf("not a node object: %v", err)}
	}
	delete(fields, "class_type")
	delete(fields, "inputs")

	n := &Node{
		ID:        id,
		ClassType: rn.ClassType,
		Inputs:    make(map[string]InputValue, len(rn.Inputs)),
		extra:     fields,
	}
	for name, rawVal := range rn.Inputs {
		n.Inputs[name] = parseInput(rawVal)
	}
	return n, nil
}

// parseInput follows the host's link convention: a two-element array
// whose second element is an integer slot index. Anything else is a
// literal, including two-element arrays with a fractional second value.
func parseInput(raw json.RawMessage) InputValue {
	var arr []any
	if err := json.Unmarshal(raw, &arr); err != nil || len(arr) != 2 {
		return InputValue{raw: raw}
	}
	slot, ok := asSlotIndex(arr[1])
	if !ok {
		return InputValue{raw: raw}
	}
	source, ok := asNodeID(arr[0])
	if !ok {
		return InputValue{raw: raw}
	}
	return InputValue{link: &Link{Source: source, Slot: slot}, raw: raw}
}

// NestedLinks returns link-shaped elements found one level inside a
// list or object literal. Hosts allow inputs that aggregate several
// node outputs this way; the engine never rewires such inputs, but
// they keep their sources reachable.
func (v InputValue) NestedLinks() []Link {
	if v.link == nil {
		if els, ok := literalElements(v.raw); ok {
			var out []Link
			for _, el := range els {
				if nested := parseInput(el); nested.link != nil {
					out = append(out, *nested.link)
				}
			}
			return out
		}
	}
	return nil
}

func literalElements(raw json.RawMessage) ([]json.RawMessage, bool) {
	var arr []json.RawMessage
	if err := json.Unmarshal(raw, &arr); err == nil {
		return arr, true
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err == nil {
		els := make([]json.RawMessage, 0, len(obj))
		for _, el := range obj {
			els = append(els, el)
		}
		return els, true
	}
	return nil, false
}

func asSlotIndex(v any) (int, bool) {
	f, ok := v.(float64)
	if !ok || f != math.Trunc(f) {
		return 0, false
	}
	return int(f), true
}

// asNodeID accepts string ids and whole-number ids; JSON object keys are
// always strings, so numeric link sources normalize to their string form.
func asNodeID(v any) (NodeID, bool) {
	switch t := v.(type) {
	case string:
		return NodeID(t), true
	case float64:
		if t != math.Trunc(t) {
			return "", false
		}
		return NodeID(strconv.FormatInt(int64(t), 10)), true
	}
	return "", false
}

// Export serializes the model back into the wire shape it was loaded
// from. Untouched inputs keep their original encoding; rewired links
// are emitted as ["sourceId", slot].
func (m *Model) Export() (RawGraph, error) {
	out := make(RawGraph, len(m.nodes))
	for id, n := range m.nodes {
		fields := make(map[string]json.RawMessage, len(n.extra)+2)
		for k, v := range n.extra {
			fields[k] = v
		}
		ct, err := json.Marshal(n.ClassType)
		if err != nil {
			return nil, err
		}
		fields["class_type"] = ct

		inputs := make(map[string]json.RawMessage, len(n.Inputs))
		for name, v := range n.Inputs {
			inputs[name] = v.Raw()
		}
		encInputs, err := json.Marshal(inputs)
		if err != nil {
			return nil, err
		}
		fields["inputs"] = encInputs

		encNode, err := json.Marshal(fields)
		if err != nil {
			return nil, err
		}
		out[string(id)] = encNode
	}
	return out, nil
}
