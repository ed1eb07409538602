package prune

import (
	"encoding/json"
	"sort"
	"testing"

	"github.com/kjall/promptfold/pkg/graph"
)

func loadModel(t *testing.T, jsonGraph string) *graph.Model {
	t.Helper()
	var raw graph.RawGraph
	if err := json.Unmarshal([]byte(jsonGraph), &raw); err != nil {
		t.Fatal(err)
	}
	m, err := graph.Load(raw)
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func sortedIDs(ids []graph.NodeID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = string(id)
	}
	sort.Strings(out)
	return out
}

func TestReachableFollowsLinksBackward(t *testing.T) {
	m := loadModel(t, `{
		"load": {"class_type": "Load", "inputs": {}},
		"mid": {"class_type": "Process", "inputs": {"in": ["load", 0]}},
		"save": {"class_type": "Save", "inputs": {"in": ["mid", 0]}},
		"stray": {"class_type": "Load", "inputs": {}}
	}`)

	reached := Reachable(m, []graph.NodeID{"save"})
	for _, id := range []graph.NodeID{"save", "mid", "load"} {
		if !reached[id] {
			t.Errorf("%s should be reachable from save", id)
		}
	}
	if reached["stray"] {
		t.Error("stray must not be reachable")
	}
}

func TestReachableSharedUpstream(t *testing.T) {
	m := loadModel(t, `{
		"base": {"class_type": "Load", "inputs": {}},
		"s1": {"class_type": "Save", "inputs": {"in": ["base", 0]}},
		"s2": {"class_type": "Save", "inputs": {"in": ["base", 0]}}
	}`)

	reached := Reachable(m, []graph.NodeID{"s1", "s2"})
	if len(reached) != 3 {
		t.Errorf("reached %d nodes, want 3", len(reached))
	}
}

func TestReachableUnknownTargetIgnored(t *testing.T) {
	m := loadModel(t, `{
		"a": {"class_type": "Load", "inputs": {}}
	}`)

	reached := Reachable(m, []graph.NodeID{"nope"})
	if len(reached) != 0 {
		t.Errorf("unknown target must reach nothing, got %d", len(reached))
	}
}

func TestPruneRemovesUnreachable(t *testing.T) {
	m := loadModel(t, `{
		"load": {"class_type": "Load", "inputs": {}},
		"save": {"class_type": "Save", "inputs": {"in": ["load", 0]}},
		"dead1": {"class_type": "Load", "inputs": {}},
		"dead2": {"class_type": "Process", "inputs": {"in": ["dead1", 0]}}
	}`)

	removed, err := Prune(m, []graph.NodeID{"save"})
	if err != nil {
		t.Fatal(err)
	}
	got := sortedIDs(removed)
	want := []string{"dead1", "dead2"}
	if len(got) != len(want) {
		t.Fatalf("removed %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("removed %v, want %v", got, want)
		}
	}
	if m.Len() != 2 {
		t.Errorf("model has %d nodes after prune, want 2", m.Len())
	}
}

func TestPruneRemovalOrderConsumersFirst(t *testing.T) {
	// dead2 consumes dead1; removing dead1 first would trip the in-use
	// check, so the returned order must list dead2 before dead1.
	m := loadModel(t, `{
		"save": {"class_type": "Save", "inputs": {}},
		"dead1": {"class_type": "Load", "inputs": {}},
		"dead2": {"class_type": "Process", "inputs": {"in": ["dead1", 0]}}
	}`)

	removed, err := Prune(m, []graph.NodeID{"save"})
	if err != nil {
		t.Fatal(err)
	}
	if len(removed) != 2 || removed[0] != "dead2" || removed[1] != "dead1" {
		t.Errorf("removal order %v, want [dead2 dead1]", removed)
	}
}

func TestPruneEmptyTargetsNoOp(t *testing.T) {
	m := loadModel(t, `{
		"a": {"class_type": "Load", "inputs": {}},
		"b": {"class_type": "Save", "inputs": {"in": ["a", 0]}}
	}`)

	removed, err := Prune(m, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(removed) != 0 || m.Len() != 2 {
		t.Errorf("empty targets must not remove anything, removed %v", removed)
	}
}

func TestPruneUnknownTargetsNoOp(t *testing.T) {
	m := loadModel(t, `{
		"a": {"class_type": "Load", "inputs": {}}
	}`)

	removed, err := Prune(m, []graph.NodeID{"ghost"})
	if err != nil {
		t.Fatal(err)
	}
	if len(removed) != 0 || m.Len() != 1 {
		t.Errorf("unknown targets must not remove anything, removed %v", removed)
	}
}

func TestPruneFullyReachableNoOp(t *testing.T) {
	m := loadModel(t, `{
		"a": {"class_type": "Load", "inputs": {}},
		"b": {"class_type": "Save", "inputs": {"in": ["a", 0]}}
	}`)

	removed, err := Prune(m, []graph.NodeID{"b"})
	if err != nil {
		t.Fatal(err)
	}
	if len(removed) != 0 {
		t.Errorf("fully reachable graph must not shrink, removed %v", removed)
	}
}

func TestReachableFollowsNestedLinks(t *testing.T) {
	// Inputs may aggregate node outputs inside list or object values;
	// those sources are reachable even though nothing links to them at
	// the top level.
	m := loadModel(t, `{
		"a": {"class_type": "Load", "inputs": {}},
		"b": {"class_type": "Load", "inputs": {}},
		"sink": {"class_type": "Batch", "inputs": {"batch": [["a", 0]], "named": {"x": ["b", 0]}}}
	}`)

	reached := Reachable(m, []graph.NodeID{"sink"})
	for _, id := range []graph.NodeID{"sink", "a", "b"} {
		if !reached[id] {
			t.Errorf("%s should be reachable through the nested link", id)
		}
	}
}

func TestPruneKeepsNestedLinkSources(t *testing.T) {
	m := loadModel(t, `{
		"a": {"class_type": "Load", "inputs": {}},
		"dead": {"class_type": "Load", "inputs": {}},
		"sink": {"class_type": "Batch", "inputs": {"batch": [["a", 0], "not a link"]}}
	}`)

	removed, err := Prune(m, []graph.NodeID{"sink"})
	if err != nil {
		t.Fatal(err)
	}
	if len(removed) != 1 || removed[0] != "dead" {
		t.Errorf("removed %v, want only [dead]", removed)
	}
	if _, ok := m.Node("a"); !ok {
		t.Error("nested-link source was pruned away")
	}
}

func TestPruneCyclicCluster(t *testing.T) {
	// c1 and c2 link to each other; neither can be removed until the
	// cluster's inputs are detached.
	m := loadModel(t, `{
		"keep": {"class_type": "Save", "inputs": {}},
		"c1": {"class_type": "Process", "inputs": {"in": ["c2", 0]}},
		"c2": {"class_type": "Process", "inputs": {"in": ["c1", 0]}}
	}`)

	removed, err := Prune(m, []graph.NodeID{"keep"})
	if err != nil {
		t.Fatal(err)
	}
	got := sortedIDs(removed)
	if len(got) != 2 || got[0] != "c1" || got[1] != "c2" {
		t.Errorf("removed %v, want the whole cycle", got)
	}
	if m.Len() != 1 {
		t.Errorf("model has %d nodes, want 1", m.Len())
	}
}

func TestPruneSelfLinkingNode(t *testing.T) {
	m := loadModel(t, `{
		"keep": {"class_type": "Save", "inputs": {}},
		"loop": {"class_type": "Process", "inputs": {"in": ["loop", 0]}}
	}`)

	removed, err := Prune(m, []graph.NodeID{"keep"})
	if err != nil {
		t.Fatal(err)
	}
	if len(removed) != 1 || removed[0] != "loop" {
		t.Errorf("removed %v, want [loop]", removed)
	}
}

func TestPruneCycleFeedingDeadChain(t *testing.T) {
	// The dead chain consumes the cycle, so the chain must go first.
	m := loadModel(t, `{
		"keep": {"class_type": "Save", "inputs": {}},
		"c1": {"class_type": "Process", "inputs": {"in": ["c2", 0]}},
		"c2": {"class_type": "Process", "inputs": {"in": ["c1", 0]}},
		"tail": {"class_type": "Process", "inputs": {"in": ["c1", 0]}}
	}`)

	removed, err := Prune(m, []graph.NodeID{"keep"})
	if err != nil {
		t.Fatal(err)
	}
	if len(removed) != 3 {
		t.Fatalf("removed %v, want 3 nodes", removed)
	}
	if removed[0] != "tail" {
		t.Errorf("removal order %v, want tail before the cycle", removed)
	}
	if m.Len() != 1 {
		t.Errorf("model has %d nodes, want 1", m.Len())
	}
}
