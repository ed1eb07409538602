// Package classify recognizes switch-shaped nodes and extracts their
// selector/branch structure. Known lazy-switch classes match by name;
// any other node matches only if its declared inputs are exactly one of
// the reserved switch signatures. Exact matching is deliberate: a node
// that merely shares a field name with a switch must not be folded.
package classify

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"

	"github.com/kjall/promptfold/pkg/graph"
	"github.com/kjall/promptfold/pkg/schema"
)

// Kind discriminates the switch shapes the fold engine understands.
type Kind int

const (
	// KindBoolean selects between two branches on a boolean selector.
	KindBoolean Kind = iota + 1
	// KindIndex selects value<i> on an integer selector.
	KindIndex
	// KindConditional selects the value of the first true condition,
	// falling back to an else branch.
	KindConditional
)

func (k Kind) String() string {
	switch k {
	case KindBoolean:
		return "boolean"
	case KindIndex:
		return "index"
	case KindConditional:
		return "conditional"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Spec is the classification result for one node. It is recomputed per
// transformation pass and never persisted.
type Spec struct {
	Kind    Kind
	Generic bool // matched structurally rather than by class name

	// Boolean shape.
	Selector   string
	TrueInput  string
	FalseInput string

	// Conditional shape: ConditionInputs[i] pairs with ValueInputs[i].
	ConditionInputs []string
	ValueInputs     []string
	ElseInput       string
}

// Known lazy-switch class names. LazySwitchKJ is a widespread fork of
// LazySwitch with identical inputs.
const (
	classLazySwitch      = "LazySwitch"
	classLazySwitchKJ    = "LazySwitchKJ"
	classLazyIndexSwitch = "LazyIndexSwitch"
	classLazyConditional = "LazyConditional"
)

var conditionName = regexp.MustCompile(`^condition(\d+)$`)

// Classify inspects one node and reports whether it is a switch. A
// false return is the normal outcome for almost every node and carries
// no error meaning.
func Classify(n *graph.Node, sch schema.NodeClassSchema) (Spec, bool) {
	switch n.ClassType {
	case classLazySwitch, classLazySwitchKJ:
		return Spec{Kind: KindBoolean, Selector: "switch", TrueInput: "on_true", FalseInput: "on_false"}, true
	case classLazyIndexSwitch:
		return Spec{Kind: KindIndex, Selector: "index", ValueInputs: orderedValueInputs(n.InputNames())}, true
	case classLazyConditional:
		conds, values := conditionalInputs(n.InputNames())
		spec := Spec{Kind: KindConditional, ConditionInputs: conds, ValueInputs: values}
		if _, ok := n.Inputs["else"]; ok {
			spec.ElseInput = "else"
		}
		return spec, true
	}
	return classifyGeneric(n, sch)
}

// classifyGeneric applies the exact-signature structural rules. The
// declared inputs come from the class schema when the class is known,
// otherwise from the node instance itself.
func classifyGeneric(n *graph.Node, sch schema.NodeClassSchema) (Spec, bool) {
	names, known := sch.Inputs(n.ClassType)
	if !known {
		names = n.InputNames()
	}

	if exactSignature(names, "on_false", "on_true", "switch") {
		return Spec{Kind: KindBoolean, Generic: true, Selector: "switch", TrueInput: "on_true", FalseInput: "on_false"}, true
	}
	if exactSignature(names, "condition", "if_false", "if_true") {
		return Spec{Kind: KindBoolean, Generic: true, Selector: "condition", TrueInput: "if_true", FalseInput: "if_false"}, true
	}
	if values, ok := indexSignature(names); ok {
		return Spec{Kind: KindIndex, Generic: true, Selector: "index", ValueInputs: values}, true
	}
	return Spec{}, false
}

// exactSignature reports whether names is exactly the given sorted set.
func exactSignature(names []string, want ...string) bool {
	if len(names) != len(want) {
		return false
	}
	for i, name := range names {
		if name != want[i] {
			return false
		}
	}
	return true
}

// indexSignature matches exactly {index, value0..value(K-1)} for some
// K>=1 with no gaps and no extra inputs.
func indexSignature(names []string) ([]string, bool) {
	if len(names) < 2 {
		return nil, false
	}
	seen := make(map[int]bool, len(names)-1)
	hasIndex := false
	max := -1
	for _, name := range names {
		if name == "index" {
			hasIndex = true
			continue
		}
		k, ok := valueNumber(name)
		if !ok || seen[k] {
			return nil, false
		}
		seen[k] = true
		if k > max {
			max = k
		}
	}
	if !hasIndex || len(seen) != max+1 {
		return nil, false
	}
	values := make([]string, max+1)
	for i := range values {
		values[i] = "value" + strconv.Itoa(i)
	}
	return values, true
}

// orderedValueInputs collects the value<N> inputs present on a node,
// ordered by N. Known index switches declare however many branches the
// instance carries, so gaps are tolerated here and bounds-checked at
// fold time.
func orderedValueInputs(names []string) []string {
	nums := make([]int, 0, len(names))
	for _, name := range names {
		if k, ok := valueNumber(name); ok {
			nums = append(nums, k)
		}
	}
	sort.Ints(nums)
	values := make([]string, len(nums))
	for i, k := range nums {
		values[i] = "value" + strconv.Itoa(k)
	}
	return values
}

// conditionalInputs collects condition<N> inputs in ascending N order
// and pairs each with its value<N> input.
func conditionalInputs(names []string) (conditions, values []string) {
	nums := make([]int, 0, len(names))
	for _, name := range names {
		if m := conditionName.FindStringSubmatch(name); m != nil {
			k, err := strconv.Atoi(m[1])
			if err == nil {
				nums = append(nums, k)
			}
		}
	}
	sort.Ints(nums)
	for _, k := range nums {
		conditions = append(conditions, "condition"+strconv.Itoa(k))
		values = append(values, "value"+strconv.Itoa(k))
	}
	return conditions, values
}

func valueNumber(name string) (int, bool) {
	const prefix = "value"
	if len(name) <= len(prefix) || name[:len(prefix)] != prefix {
		return 0, false
	}
	digits := name[len(prefix):]
	for _, r := range digits {
		if r < '0' || r > '9' {
			return 0, false
		}
	}
	k, err := strconv.Atoi(digits)
	if err != nil {
		return 0, false
	}
	return k, true
}
