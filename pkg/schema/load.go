package schema

import (
	"encoding/json"
	"fmt"
	"os"
)

// LoadFile reads a static schema from a JSON file mapping class names to
// definitions:
//
//	{"SaveImage": {"inputs": ["images"], "wire_only": ["images"], "output_node": true}}
func LoadFile(path string) (*Static, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read schema file: %w", err)
	}
	var classes map[string]ClassDef
	if err := json.Unmarshal(data, &classes); err != nil {
		return nil, fmt.Errorf("parse schema file %s: %w", path, err)
	}
	return NewStatic(classes), nil
}
