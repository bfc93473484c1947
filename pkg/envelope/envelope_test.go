package envelope

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type findingObserved struct {
	FindingID string `json:"finding_id"`
	RuleID    string `json:"rule_id"`
}

func TestRoundTrip(t *testing.T) {
	e, err := New("finding_observed", 1, uuid.NewString(), "reviewer-bot", findingObserved{FindingID: "F1", RuleID: "r1"})
	require.NoError(t, err)

	raw, err := e.Serialize()
	require.NoError(t, err)

	parsed, err := Parse(raw)
	require.NoError(t, err)

	assert.Equal(t, e.MessageID, parsed.MessageID)
	assert.Equal(t, e.Kind, parsed.Kind)
	assert.Equal(t, e.CorrelationID, parsed.CorrelationID)
	assert.JSONEq(t, string(e.Payload), string(parsed.Payload))

	var payload findingObserved
	require.NoError(t, parsed.UnmarshalPayload(&payload))
	assert.Equal(t, "F1", payload.FindingID)
}

func TestParse_RejectsUnknownTopLevelField(t *testing.T) {
	e, err := New("finding_observed", 1, uuid.NewString(), "reviewer-bot", findingObserved{FindingID: "F1"})
	require.NoError(t, err)

	raw, err := e.Serialize()
	require.NoError(t, err)

	var asMap map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(raw, &asMap))
	extra, err := json.Marshal("surprise")
	require.NoError(t, err)
	asMap["unexpected_field"] = extra
	mutated, err := json.Marshal(asMap)
	require.NoError(t, err)

	_, err = Parse(mutated)
	assert.Error(t, err)
}

func TestParse_RejectsMissingRequiredField(t *testing.T) {
	_, err := Parse([]byte(`{"kind":"x","schema_version":1,"producer_id":"p","occurred_at":"2026-01-01T00:00:00Z","payload":{}}`))
	assert.Error(t, err)
}
