// Package extract walks a normalized trace and produces candidate
// patterns, each content-addressed by a signature_hash computed over a
// canonical serialization of the pattern's essential structure — the
// pattern-learning pipeline's pure second stage (spec.md §4.5).
package extract

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/codeready-toolchain/patternctl/pkg/learning/trace"
)

// Candidate is a pattern extracted from a trace, not yet persisted.
type Candidate struct {
	PatternType       string
	Name              string
	SignatureHash     string
	EssentialStructure map[string]any
}

// essentialStructure is what gets hashed: the tool name, the sorted set
// of argument keys seen across the streak, and how many calls made up
// the streak. Anything that varies run-to-run without changing the
// pattern's shape (exact argument values, timestamps, ordering of
// unrelated events) is deliberately excluded.
func essentialStructure(toolName string, argKeys []string, occurrences int) map[string]any {
	sorted := append([]string(nil), argKeys...)
	sort.Strings(sorted)
	return map[string]any{
		"tool_name":    toolName,
		"argument_keys": sorted,
		"occurrences":  occurrences,
	}
}

// canonicalJSON re-marshals v so that map keys are sorted and whitespace
// is fixed — Go's encoding/json already sorts map[string]any keys on
// Marshal, so round-tripping through a map is sufficient to canonicalize
// (the same JSON-surgery trick the teacher's publisher.go uses to
// rebuild a payload for a size limit, reused here for a stable hash
// input instead).
func canonicalJSON(v map[string]any) ([]byte, error) {
	return json.Marshal(v)
}

func signatureHash(structure map[string]any) (string, error) {
	canon, err := canonicalJSON(structure)
	if err != nil {
		return "", fmt.Errorf("extract: canonicalize: %w", err)
	}
	sum := sha256.Sum256(canon)
	return hex.EncodeToString(sum[:]), nil
}

// Candidates groups consecutive events sharing a tool_name into streaks
// and emits one candidate pattern per streak of length >= 2 (a single
// isolated call is not a pattern). Candidates is pure: no I/O, and the
// same events always produce the same candidates in the same order.
func Candidates(events []trace.Event) ([]Candidate, error) {
	var candidates []Candidate

	i := 0
	for i < len(events) {
		j := i + 1
		argKeySet := map[string]struct{}{}
		for k := range events[i].Arguments {
			argKeySet[k] = struct{}{}
		}
		for j < len(events) && events[j].ToolName == events[i].ToolName {
			for k := range events[j].Arguments {
				argKeySet[k] = struct{}{}
			}
			j++
		}

		occurrences := j - i
		if occurrences >= 2 {
			argKeys := make([]string, 0, len(argKeySet))
			for k := range argKeySet {
				argKeys = append(argKeys, k)
			}
			structure := essentialStructure(events[i].ToolName, argKeys, occurrences)
			hash, err := signatureHash(structure)
			if err != nil {
				return nil, err
			}
			candidates = append(candidates, Candidate{
				PatternType:        "tool_repetition",
				Name:               fmt.Sprintf("%s_repeated", events[i].ToolName),
				SignatureHash:      hash,
				EssentialStructure: structure,
			})
		}

		i = j
	}

	return candidates, nil
}
