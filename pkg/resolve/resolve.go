// Package resolve determines whether an input resolves to a
// submission-time constant. Resolution is conservative by construction:
// it follows literals, reroute-like pass-throughs, and literal-only
// constant-source nodes, and refuses everything else. The engine never
// evaluates node semantics, so a failed resolution means "leave the
// switch alone", not an error.
package resolve

import (
	"regexp"
	"strings"

	"github.com/kjall/promptfold/pkg/graph"
)

// DefaultConstClassPattern matches the common constant/primitive/literal
// node-class families. Overridable via configuration.
const DefaultConstClassPattern = `(?i)(?:primitive|constant|literal|bool\s*primitive|int\s*primitive|float\s*primitive)`

// widgetKeys are the input names a constant-source node is expected to
// hold its value under, in lookup order.
var widgetKeys = []string{
	"value", "bool", "boolean", "boolean_value", "state", "enabled", "enable",
	"switch", "toggle", "flag", "index", "int", "number",
}

type want int

const (
	wantBool want = iota
	wantInt
)

type cacheKey struct {
	node graph.NodeID
	slot int
	want want
}

type cacheEntry struct {
	value any
	ok    bool
}

// Resolver resolves inputs against one model. The memo cache is keyed
// per endpoint and target type so repeated selector chains are walked
// once per pass; it never survives a pass that changed the graph.
type Resolver struct {
	model      *graph.Model
	constClass *regexp.Regexp
	cache      map[cacheKey]cacheEntry
}

// New creates a resolver over the given model. constClass gates which
// class names qualify as constant sources; nil selects the default
// pattern.
func New(m *graph.Model, constClass *regexp.Regexp) *Resolver {
	if constClass == nil {
		constClass = regexp.MustCompile(DefaultConstClassPattern)
	}
	return &Resolver{
		model:      m,
		constClass: constClass,
		cache:      make(map[cacheKey]cacheEntry),
	}
}

// Reset drops the memo cache. Must be called between folding passes:
// a rewire can turn a cached miss into a constant.
func (r *Resolver) Reset() {
	r.cache = make(map[cacheKey]cacheEntry)
}

// Bool resolves an input to a boolean constant.
func (r *Resolver) Bool(v graph.InputValue) (bool, bool) {
	res, ok, _ := r.resolve(v, wantBool, make(map[graph.NodeID]bool))
	if !ok {
		return false, false
	}
	b, isBool := res.(bool)
	return b, isBool
}

// Int resolves an input to an integer constant.
func (r *Resolver) Int(v graph.InputValue) (int, bool) {
	res, ok, _ := r.resolve(v, wantInt, make(map[graph.NodeID]bool))
	if !ok {
		return 0, false
	}
	n, isInt := res.(int)
	return n, isInt
}

// resolve walks one input. visiting tracks nodes on the current call
// chain; revisiting one means the graph has a link cycle, which is
// treated as unresolvable. Cycle-induced failures are not cached since
// they depend on the path taken, unlike genuine misses.
func (r *Resolver) resolve(v graph.InputValue, w want, visiting map[graph.NodeID]bool) (value any, ok bool, cyclic bool) {
	if lit, isLit := v.Literal(); isLit {
		value, ok = coerce(lit, w)
		return value, ok, false
	}

	link, isLink := v.Link()
	if !isLink {
		return nil, false, false
	}

	key := cacheKey{link.Source, link.Slot, w}
	if e, hit := r.cache[key]; hit {
		return e.value, e.ok, false
	}

	if visiting[link.Source] {
		return nil, false, true
	}
	visiting[link.Source] = true
	defer delete(visiting, link.Source)

	value, ok, cyclic = r.resolveNode(link.Source, w, visiting)
	if !cyclic {
		r.cache[key] = cacheEntry{value: value, ok: ok}
	}
	return value, ok, cyclic
}

func (r *Resolver) resolveNode(id graph.NodeID, w want, visiting map[graph.NodeID]bool) (any, bool, bool) {
	n, exists := r.model.Node(id)
	if !exists {
		return nil, false, false
	}

	// Reroute-like pass-through: chase its single linked input.
	if strings.Contains(strings.ToLower(n.ClassType), "reroute") {
		for _, name := range n.InputNames() {
			if n.Inputs[name].IsLink() {
				return r.resolve(n.Inputs[name], w, visiting)
			}
		}
		return nil, false, false
	}

	// Constant-like sources must match the configured class pattern AND
	// have zero linked inputs. A node that computes its value from a
	// wire merely looks like a constant and must not be trusted.
	if !r.constClass.MatchString(n.ClassType) {
		return nil, false, false
	}
	for _, name := range n.InputNames() {
		if n.Inputs[name].IsLink() {
			return nil, false, false
		}
	}

	for _, c := range constantCandidates(n) {
		if v, ok := coerce(c, w); ok {
			return v, true, false
		}
	}
	return nil, false, false
}

// constantCandidates returns the literal values a constant node may
// carry: the known widget keys first, then a lone input as fallback.
func constantCandidates(n *graph.Node) []any {
	var out []any
	for _, key := range widgetKeys {
		if v, present := n.Inputs[key]; present {
			if lit, ok := v.Literal(); ok {
				out = append(out, lit)
			}
		}
	}
	if len(out) == 0 && len(n.Inputs) == 1 {
		for _, v := range n.Inputs {
			if lit, ok := v.Literal(); ok {
				out = append(out, lit)
			}
		}
	}
	return out
}

func coerce(v any, w want) (any, bool) {
	switch w {
	case wantBool:
		if b, ok := CoerceBool(v); ok {
			return b, true
		}
	case wantInt:
		if n, ok := CoerceInt(v); ok {
			return n, true
		}
	}
	return nil, false
}
