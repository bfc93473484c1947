// Package contract loads the declarative topic + payload schema descriptors
// the consumer fleet and dispatch engine are built from at startup.
// Hardcoded topic lists are forbidden (spec.md §4.2): the subscription set
// is fully contract-driven, the way the teacher's config package loads the
// agent/chain/MCP registries from disk before anything downstream can use
// them.
package contract

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Contract names the topics a kind/schema_version pair is delivered on.
// One file per contract; a directory of contracts is loaded as a set.
type Contract struct {
	Kind            string   `yaml:"kind"`
	SchemaVersion   int      `yaml:"schema_version"`
	SubscribeTopics []string `yaml:"subscribe_topics"`
	PayloadSchema   string   `yaml:"payload_schema"`
}

// Key identifies a contract uniquely, the same tuple the dispatch registry
// keys handlers by.
type Key struct {
	Kind          string
	SchemaVersion int
}

// Set is the full collection of contracts discovered at startup, plus the
// derived union of topics to subscribe to.
type Set struct {
	byKey  map[Key]Contract
	topics map[string]struct{}
}

// Load reads every *.yaml/*.yml/*.json file in dir as a Contract and
// returns the assembled Set. It fails fast if two contract files declare
// the same (kind, schema_version) or if any contract names no topics —
// spec.md §4.2 requires start() to fail fast on ambiguous or unresolvable
// contracts.
func Load(dir string) (*Set, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("contract: read dir %s: %w", dir, err)
	}

	set := &Set{byKey: make(map[Key]Contract), topics: make(map[string]struct{})}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext != ".yaml" && ext != ".yml" && ext != ".json" {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("contract: read %s: %w", path, err)
		}
		var c Contract
		if err := yaml.Unmarshal(data, &c); err != nil {
			return nil, fmt.Errorf("contract: parse %s: %w", path, err)
		}
		if err := set.add(c); err != nil {
			return nil, fmt.Errorf("contract: %s: %w", path, err)
		}
	}

	if len(set.byKey) == 0 {
		return nil, fmt.Errorf("contract: no contract files found in %s", dir)
	}
	return set, nil
}

func (s *Set) add(c Contract) error {
	if c.Kind == "" {
		return fmt.Errorf("contract missing kind")
	}
	if c.SchemaVersion < 1 {
		return fmt.Errorf("contract %q missing schema_version", c.Kind)
	}
	if len(c.SubscribeTopics) == 0 {
		return fmt.Errorf("contract %q/%d names no subscribe_topics", c.Kind, c.SchemaVersion)
	}
	key := Key{Kind: c.Kind, SchemaVersion: c.SchemaVersion}
	if _, exists := s.byKey[key]; exists {
		return fmt.Errorf("duplicate contract for kind=%q schema_version=%d", c.Kind, c.SchemaVersion)
	}
	s.byKey[key] = c
	for _, t := range c.SubscribeTopics {
		s.topics[t] = struct{}{}
	}
	return nil
}

// Topics returns the union of every contract's subscribe_topics, the exact
// subscription set the consumer fleet must establish.
func (s *Set) Topics() []string {
	out := make([]string, 0, len(s.topics))
	for t := range s.topics {
		out = append(out, t)
	}
	return out
}

// Lookup returns the contract registered for (kind, schemaVersion), if any.
func (s *Set) Lookup(kind string, schemaVersion int) (Contract, bool) {
	c, ok := s.byKey[Key{Kind: kind, SchemaVersion: schemaVersion}]
	return c, ok
}

// All returns every loaded contract, for building the dispatch registry.
func (s *Set) All() []Contract {
	out := make([]Contract, 0, len(s.byKey))
	for _, c := range s.byKey {
		out = append(out, c)
	}
	return out
}
