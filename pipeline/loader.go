package pipeline

import (
	"encoding/json"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ParseSet attempts to parse JSON or YAML into a Set.
func ParseSet(data []byte) (Set, error) {
	var cfg Set
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		// yaml can handle JSON too, so a single attempt is fine
		return cfg, err
	}
	return cfg, cfg.Validate()
}

// LoadSet reads and parses a pipeline set from disk.
func LoadSet(path string) (Set, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Set{}, fmt.Errorf("read pipeline set: %w", err)
	}
	cfg, err := ParseSet(data)
	if err != nil {
		return Set{}, fmt.Errorf("parse pipeline set %s: %w", path, err)
	}
	return cfg, nil
}

// MarshalSet renders a Set as JSON (useful for fixtures).
func MarshalSet(cfg Set) ([]byte, error) {
	return json.Marshal(cfg)
}
