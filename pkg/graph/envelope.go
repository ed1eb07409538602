package graph

import (
	"encoding/json"
	"fmt"
)

// targetKeys are the envelope fields hosts use to request partial
// execution, in the order they are consulted.
var targetKeys = []string{
	"partial_execution_targets",
	"partial_execution_list",
	"partial_execution_nodes",
	"partial_execution",
}

// ParseEnvelope accepts either a bare graph object or a submission
// envelope ({"prompt": {...}, "partial_execution_targets": [...]}) and
// returns the raw graph plus any execution targets the host requested.
func ParseEnvelope(data []byte) (RawGraph, []NodeID, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(data, &top); err != nil {
		return nil, nil, fmt.Errorf("parse submission: %w", err)
	}

	if promptRaw, ok := top["prompt"]; ok {
		var raw RawGraph
		if err := json.Unmarshal(promptRaw, &raw); err != nil {
			return nil, nil, fmt.Errorf("parse prompt: %w", err)
		}
		return raw, extractTargets(top), nil
	}

	var raw RawGraph
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, nil, fmt.Errorf("parse graph: %w", err)
	}
	return raw, nil, nil
}

// ReplacePrompt re-emits a submission with its graph swapped for the
// rewritten one, preserving every other envelope field. Bare graph
// submissions come back as a bare graph.
func ReplacePrompt(original []byte, rewritten RawGraph) ([]byte, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(original, &top); err != nil {
		return nil, fmt.Errorf("parse submission: %w", err)
	}
	encGraph, err := json.Marshal(rewritten)
	if err != nil {
		return nil, err
	}
	if _, ok := top["prompt"]; !ok {
		return encGraph, nil
	}
	top["prompt"] = encGraph
	return json.Marshal(top)
}

func extractTargets(top map[string]json.RawMessage) []NodeID {
	for _, key := range targetKeys {
		rawList, ok := top[key]
		if !ok {
			continue
		}
		var list []any
		if err := json.Unmarshal(rawList, &list); err != nil || len(list) == 0 {
			continue
		}
		ids := make([]NodeID, 0, len(list))
		for _, v := range list {
			if id, ok := asNodeID(v); ok {
				ids = append(ids, id)
			}
		}
		if len(ids) > 0 {
			return ids
		}
	}
	return nil
}
