// Package fold rewires the consumers of decidable switch nodes directly
// to the statically selected branch. One call folds each foldable
// switch once; the orchestrator iterates to a fixpoint, since a fold
// can turn another switch's selector into a resolvable constant.
package fold

import (
	"fmt"
	"strconv"

	"github.com/kjall/promptfold/pkg/classify"
	"github.com/kjall/promptfold/pkg/graph"
	"github.com/kjall/promptfold/pkg/resolve"
	"github.com/kjall/promptfold/pkg/schema"
)

// Outcome summarizes one folding pass.
type Outcome struct {
	// Candidates is the number of nodes classified as switches.
	Candidates int
	// Folded is the number of switches whose consumers were rewired.
	Folded int
	// Rewritten holds the ids of consumer nodes whose inputs changed.
	Rewritten map[graph.NodeID]struct{}
	// Skipped carries per-node diagnostics for verbose logging.
	Skipped []string
}

// DidFold reports whether the pass changed the graph.
func (o Outcome) DidFold() bool { return o.Folded > 0 }

// Engine folds switches over one model.
type Engine struct {
	model    *graph.Model
	schema   schema.NodeClassSchema
	resolver *resolve.Resolver
}

// New creates a fold engine over one model and resolver.
func New(m *graph.Model, sch schema.NodeClassSchema, r *resolve.Resolver) *Engine {
	return &Engine{model: m, schema: sch, resolver: r}
}

// FoldOnce visits every node in deterministic order and folds each
// switch whose selector resolves to a constant. Only rewires that
// actually change a consumer input count as folds, which is what makes
// the fixpoint terminate on already-folded graphs.
func (e *Engine) FoldOnce() (Outcome, error) {
	// An earlier pass may have rewired a selector chain onto a constant;
	// memoized misses from before that rewire must not stick.
	e.resolver.Reset()

	out := Outcome{Rewritten: make(map[graph.NodeID]struct{})}

	for _, id := range e.model.IDs() {
		n, ok := e.model.Node(id)
		if !ok {
			continue
		}
		spec, isSwitch := classify.Classify(n, e.schema)
		if !isSwitch {
			continue
		}
		out.Candidates++

		chosen, decided := e.chooseBranch(n, spec)
		if !decided {
			out.Skipped = append(out.Skipped,
				fmt.Sprintf("not foldable: %s #%s (%s switch not decidable)", n.ClassType, n.ID, spec.Kind))
			continue
		}

		source := graph.Endpoint{Node: n.ID, Slot: 0}
		consumers := e.model.ConsumersOf(source)
		if len(consumers) == 0 {
			out.Skipped = append(out.Skipped,
				fmt.Sprintf("not foldable: %s #%s (no consumers)", n.ClassType, n.ID))
			continue
		}

		var changed int
		var err error
		if link, isLink := chosen.Link(); isLink {
			if link.Source == n.ID {
				out.Skipped = append(out.Skipped,
					fmt.Sprintf("not foldable: %s #%s (branch links to itself)", n.ClassType, n.ID))
				continue
			}
			changed, err = e.model.RewireConsumers(source, graph.Endpoint{Node: link.Source, Slot: link.Slot})
		} else {
			// A literal branch is copied onto each consumer input, which
			// is only valid when every one of those ports accepts
			// literals. Wire-only ports leave the switch unfolded rather
			// than inventing a synthetic constant node.
			if !e.consumersAcceptLiteral(consumers) {
				out.Skipped = append(out.Skipped,
					fmt.Sprintf("not foldable: %s #%s (consumer port is wire-only)", n.ClassType, n.ID))
				continue
			}
			changed, err = e.model.ReplaceConsumersWithLiteral(source, chosen)
		}
		if err != nil {
			return out, err
		}
		if changed == 0 {
			continue
		}

		out.Folded++
		for _, c := range consumers {
			out.Rewritten[c.Node] = struct{}{}
		}
	}
	return out, nil
}

// chooseBranch resolves the selector and picks the branch input. A
// false return means the switch stays as-is.
func (e *Engine) chooseBranch(n *graph.Node, spec classify.Spec) (graph.InputValue, bool) {
	switch spec.Kind {
	case classify.KindBoolean:
		sel, present := n.Inputs[spec.Selector]
		if !present {
			return graph.InputValue{}, false
		}
		// An instance missing either branch is not a complete switch,
		// even when the selector would only pick the present one.
		onTrue, hasTrue := n.Inputs[spec.TrueInput]
		onFalse, hasFalse := n.Inputs[spec.FalseInput]
		if !hasTrue || !hasFalse {
			return graph.InputValue{}, false
		}
		truthy, ok := e.resolver.Bool(sel)
		if !ok {
			return graph.InputValue{}, false
		}
		if truthy {
			return onTrue, true
		}
		return onFalse, true

	case classify.KindIndex:
		sel, present := n.Inputs[spec.Selector]
		if !present {
			return graph.InputValue{}, false
		}
		i, ok := e.resolver.Int(sel)
		if !ok || i < 0 {
			return graph.InputValue{}, false
		}
		// Out-of-range indices leave the node unfolded, not an error.
		v, present := n.Inputs["value"+strconv.Itoa(i)]
		return v, present

	case classify.KindConditional:
		if len(spec.ConditionInputs) == 0 {
			return graph.InputValue{}, false
		}
		for i, cond := range spec.ConditionInputs {
			cv, present := n.Inputs[cond]
			if !present {
				return graph.InputValue{}, false
			}
			truthy, ok := e.resolver.Bool(cv)
			if !ok {
				// Short-circuit means later conditions could still have
				// decided, but an unresolved earlier one blocks the
				// decision entirely.
				return graph.InputValue{}, false
			}
			if truthy {
				v, present := n.Inputs[spec.ValueInputs[i]]
				return v, present
			}
		}
		if spec.ElseInput == "" {
			return graph.InputValue{}, false
		}
		v, present := n.Inputs[spec.ElseInput]
		return v, present
	}
	return graph.InputValue{}, false
}

func (e *Engine) consumersAcceptLiteral(consumers []graph.Consumer) bool {
	for _, c := range consumers {
		n, ok := e.model.Node(c.Node)
		if !ok {
			return false
		}
		if !e.schema.AcceptsLiteral(n.ClassType, c.Input) {
			return false
		}
	}
	return true
}
