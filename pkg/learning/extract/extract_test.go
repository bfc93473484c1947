package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/patternctl/pkg/learning/trace"
)

func events(toolNames ...string) []trace.Event {
	out := make([]trace.Event, len(toolNames))
	for i, name := range toolNames {
		out[i] = trace.Event{Sequence: i, ToolName: name, Arguments: map[string]any{"x": i}}
	}
	return out
}

func TestCandidates_StreakOfTwoOrMoreBecomesCandidate(t *testing.T) {
	cs, err := Candidates(events("grep", "grep", "edit"))
	require.NoError(t, err)
	require.Len(t, cs, 1)
	assert.Equal(t, "grep_repeated", cs[0].Name)
	assert.Len(t, cs[0].SignatureHash, 64)
}

func TestCandidates_IsolatedCallIsNotACandidate(t *testing.T) {
	cs, err := Candidates(events("grep", "edit", "write"))
	require.NoError(t, err)
	assert.Empty(t, cs)
}

func TestCandidates_SameShapeSameHash(t *testing.T) {
	a, err := Candidates(events("grep", "grep"))
	require.NoError(t, err)
	b, err := Candidates(events("grep", "grep"))
	require.NoError(t, err)
	require.Len(t, a, 1)
	require.Len(t, b, 1)
	assert.Equal(t, a[0].SignatureHash, b[0].SignatureHash)
}

func TestCandidates_DifferentOccurrenceCountDifferentHash(t *testing.T) {
	a, err := Candidates(events("grep", "grep"))
	require.NoError(t, err)
	b, err := Candidates(events("grep", "grep", "grep"))
	require.NoError(t, err)
	assert.NotEqual(t, a[0].SignatureHash, b[0].SignatureHash)
}
