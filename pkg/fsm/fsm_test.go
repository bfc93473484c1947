package fsm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEdgeSets_IngestionLegalPath(t *testing.T) {
	assert.Equal(t, "RECEIVED", edgeSets[Ingestion][edge{"", "receive"}])
	assert.Equal(t, "PROCESSING", edgeSets[Ingestion][edge{"RECEIVED", "begin_processing"}])
	assert.Equal(t, "INDEXED", edgeSets[Ingestion][edge{"PROCESSING", "index"}])
}

func TestEdgeSets_IllegalTransitionAbsent(t *testing.T) {
	// FOUNDATION's only outgoing edge is begin_matching; "finish" must not
	// resolve to anything (spec.md §8 scenario 4).
	_, ok := edgeSets[PatternLearning][edge{"FOUNDATION", "finish"}]
	assert.False(t, ok)
}

func TestEdgeSets_QualityAssessmentTerminalChain(t *testing.T) {
	assert.Equal(t, "SCORED", edgeSets[QualityAssessment][edge{"ASSESSING", "score"}])
	assert.Equal(t, "STORED", edgeSets[QualityAssessment][edge{"SCORED", "store"}])
	_, ok := edgeSets[QualityAssessment][edge{"STORED", "store"}]
	assert.False(t, ok, "STORED has no outgoing edges")
}

