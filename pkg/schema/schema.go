// Package schema exposes the host's node-class registry to the engine as
// a read-only capability. The engine never owns class definitions; it
// only asks what inputs a class declares, whether an input port accepts
// literal values, and which classes are output nodes.
package schema

import "sort"

// NodeClassSchema answers structural questions about node classes.
// Implementations may be backed by the host registry, a JSON dump, or a
// fixed in-memory table in tests.
type NodeClassSchema interface {
	// Inputs returns the declared input names for a class, sorted, and
	// whether the class is known at all.
	Inputs(classType string) ([]string, bool)

	// AcceptsLiteral reports whether the named input of a class can hold
	// a literal (widget) value rather than requiring a wire connection.
	// Unknown classes and inputs are treated as accepting literals.
	AcceptsLiteral(classType, input string) bool

	// IsOutputNode reports whether instances of the class are terminal
	// output nodes, which serve as default execution targets.
	IsOutputNode(classType string) bool
}

// ClassDef describes one node class for the static schema.
type ClassDef struct {
	Inputs     []string `json:"inputs"`
	WireOnly   []string `json:"wire_only"`
	OutputNode bool     `json:"output_node"`
}

// Static is an in-memory NodeClassSchema.
type Static struct {
	classes map[string]ClassDef
}

// NewStatic builds a static schema from class definitions.
func NewStatic(classes map[string]ClassDef) *Static {
	if classes == nil {
		classes = map[string]ClassDef{}
	}
	return &Static{classes: classes}
}

// Default returns a schema with no class knowledge: every class is
// unknown, every port accepts literals, no class is an output node.
// Classification then falls back to instance inputs, and pruning is
// driven purely by host-supplied targets.
func Default() *Static {
	return NewStatic(nil)
}

func (s *Static) Inputs(classType string) ([]string, bool) {
	def, ok := s.classes[classType]
	if !ok {
		return nil, false
	}
	names := make([]string, len(def.Inputs))
	copy(names, def.Inputs)
	sort.Strings(names)
	return names, true
}

func (s *Static) AcceptsLiteral(classType, input string) bool {
	def, ok := s.classes[classType]
	if !ok {
		return true
	}
	for _, wire := range def.WireOnly {
		if wire == input {
			return false
		}
	}
	return true
}

func (s *Static) IsOutputNode(classType string) bool {
	def, ok := s.classes[classType]
	return ok && def.OutputNode
}
