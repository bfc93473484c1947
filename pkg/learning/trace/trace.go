// Package trace parses a session's recorded tool/event stream into a
// normalized sequence — the pattern-learning pipeline's pure first
// stage (spec.md §4.5).
package trace

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// Event is one normalized step in a session's execution trace.
type Event struct {
	Sequence   int            `json:"sequence"`
	ToolName   string         `json:"tool_name"`
	Arguments  map[string]any `json:"arguments"`
	Success    bool           `json:"success"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// rawEntry is the wire shape a session records; field order and
// whitespace in the source are not meaningful, only the decoded values.
type rawEntry struct {
	ToolName   string         `json:"tool_name"`
	Arguments  map[string]any `json:"arguments"`
	Success    bool           `json:"success"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// Parse decodes a raw JSON array of trace entries into a sequence
// ordered by occurred_at, stamping each with its position. Parse is
// pure: it performs no I/O and the same input always yields the same
// output.
func Parse(raw []byte) ([]Event, error) {
	var entries []rawEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("trace: parse: %w", err)
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].OccurredAt.Before(entries[j].OccurredAt)
	})

	events := make([]Event, 0, len(entries))
	for i, e := range entries {
		events = append(events, Event{
			Sequence:   i,
			ToolName:   e.ToolName,
			Arguments:  e.Arguments,
			Success:    e.Success,
			OccurredAt: e.OccurredAt.UTC(),
		})
	}
	return events, nil
}
