package cycles

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

func TestFindLinkCyclesAcyclic(t *testing.T) {
	m := loadModel(t, `{
		"a": {"class_type": "Load", "inputs": {}},
		"b": {"class_type": "Process", "inputs": {"in": ["a", 0]}},
		"c": {"class_type": "Save", "inputs": {"in": ["b", 0]}}
	}`)

	if got := FindLinkCycles(m); len(got) != 0 {
		t.Errorf("acyclic graph reported cycles: %v", got)
	}
}

func TestFindLinkCyclesTwoNodeCycle(t *testing.T) {
	m := loadModel(t, `{
		"a": {"class_type": "Process", "inputs": {"in": ["b", 0]}},
		"b": {"class_type": "Process", "inputs": {"in": ["a", 0]}},
		"c": {"class_type": "Save", "inputs": {"in": ["a", 0]}}
	}`)

	got := FindLinkCycles(m)
	if len(got) != 1 {
		t.Fatalf("found %d cycles, want 1", len(got))
	}
	ids := make([]string, len(got[0].Nodes))
	for i, id := range got[0].Nodes {
		ids[i] = string(id)
	}
	sort.Strings(ids)
	if len(ids) != 2 || ids[0] != "a" || ids[1] != "b" {
		t.Errorf("cycle nodes %v, want [a b]", ids)
	}
}

func TestFindLinkCyclesSelfLink(t *testing.T) {
	m := loadModel(t, `{
		"loop": {"class_type": "Process", "inputs": {"in": ["loop", 0]}},
		"ok": {"class_type": "Load", "inputs": {}}
	}`)

	got := FindLinkCycles(m)
	if len(got) != 1 {
		t.Fatalf("found %d cycles, want 1", len(got))
	}
	if len(got[0].Nodes) != 1 || got[0].Nodes[0] != "loop" {
		t.Errorf("cycle nodes %v, want [loop]", got[0].Nodes)
	}
}

func TestFindLinkCyclesMultiple(t *testing.T) {
	m := loadModel(t, `{
		"a": {"class_type": "P", "inputs": {"in": ["b", 0]}},
		"b": {"class_type": "P", "inputs": {"in": ["a", 0]}},
		"x": {"class_type": "P", "inputs": {"in": ["y", 0]}},
		"y": {"class_type": "P", "inputs": {"in": ["x", 0]}}
	}`)

	if got := FindLinkCycles(m); len(got) != 2 {
		t.Errorf("found %d cycles, want 2", len(got))
	}
}

func TestTarjanReverseTopologicalOrder(t *testing.T) {
	// Links point consumer to producer in the view, so producers are
	// emitted before their consumers.
	m := loadModel(t, `{
		"src": {"class_type": "Load", "inputs": {}},
		"mid": {"class_type": "Process", "inputs": {"in": ["src", 0]}},
		"out": {"class_type": "Save", "inputs": {"in": ["mid", 0]}}
	}`)
	view := graph.NewLinkView(m, nil)

	sccs := NewTarjanSCC(view.Directed()).FindSCCs()
	if len(sccs) != 3 {
		t.Fatalf("got %d components, want 3 singletons", len(sccs))
	}
	pos := make(map[graph.NodeID]int)
	for i, scc := range sccs {
		if len(scc) != 1 {
			t.Fatalf("component %d has %d members, want 1", i, len(scc))
		}
		id, ok := view.ModelID(scc[0])
		if !ok {
			t.Fatalf("unmapped gonum id %d", scc[0])
		}
		pos[id] = i
	}
	if !(pos["src"] < pos["mid"] && pos["mid"] < pos["out"]) {
		t.Errorf("emission order %v, want src before mid before out", pos)
	}
}
