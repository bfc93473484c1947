package pairing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/codeready-toolchain/patternctl/pkg/storage"
)

func TestOverlapLength_FullyNested(t *testing.T) {
	assert.Equal(t, 3, overlapLength(LineRange{10, 12}, LineRange{9, 13}))
}

func TestOverlapLength_AdjacentNotOverlapping(t *testing.T) {
	assert.Equal(t, 0, overlapLength(LineRange{10, 12}, LineRange{13, 15}))
}

func TestOverlapLength_SingleLineMissingLineEnd(t *testing.T) {
	finding := SingleLine(10, nil)
	assert.Equal(t, LineRange{10, 10}, finding)
	assert.Equal(t, 1, overlapLength(finding, LineRange{9, 13}))
}

func TestBestFix_LargestOverlapWins(t *testing.T) {
	finding := LineRange{10, 12}
	fixes := []CandidateFix{
		{FixID: "x2", Range: LineRange{11, 12}},
		{FixID: "x1", Range: LineRange{9, 13}},
	}
	best := BestFix(finding, fixes)
	assert.Equal(t, "x1", best.FixID)
}

func TestBestFix_TieBrokenByLexicographicallySmallestFixID(t *testing.T) {
	finding := LineRange{10, 12}
	fixes := []CandidateFix{
		{FixID: "x9", Range: LineRange{10, 12}},
		{FixID: "x1", Range: LineRange{10, 12}},
	}
	best := BestFix(finding, fixes)
	assert.Equal(t, "x1", best.FixID)
}

func TestBaseConfidence_MatchesSpecTable(t *testing.T) {
	assert.Equal(t, 0.95, baseConfidence[Autofix])
	assert.Equal(t, 0.85, baseConfidence[SameCommit])
	assert.Equal(t, 0.70, baseConfidence[SamePR])
	assert.Equal(t, 0.50, baseConfidence[Temporal])
	assert.Equal(t, 0.30, baseConfidence[Inferred])
}

func TestSortFixesByID(t *testing.T) {
	fixes := []CandidateFix{{FixID: "b"}, {FixID: "a"}}
	sortFixesByID(fixes)
	assert.Equal(t, "a", fixes[0].FixID)
}

func TestClassify_ToolAutofixAlwaysWins(t *testing.T) {
	finding := storage.FindingRow{CommitSHAObserved: "c1", ObservedAt: time.Unix(0, 0)}
	fix := storage.FixRow{ToolAutofix: true, FixCommitSHA: "c2", AppliedAt: time.Unix(0, 0).Add(99 * time.Hour)}
	assert.Equal(t, Autofix, Classify(finding, fix, time.Hour))
}

func TestClassify_SameCommit(t *testing.T) {
	finding := storage.FindingRow{CommitSHAObserved: "c1", ObservedAt: time.Unix(0, 0)}
	fix := storage.FixRow{FixCommitSHA: "c1", AppliedAt: time.Unix(0, 0).Add(time.Hour)}
	assert.Equal(t, SameCommit, Classify(finding, fix, time.Minute))
}

func TestClassify_TemporalWithinWindow(t *testing.T) {
	finding := storage.FindingRow{CommitSHAObserved: "c1", ObservedAt: time.Unix(0, 0)}
	fix := storage.FixRow{FixCommitSHA: "c2", AppliedAt: time.Unix(0, 0).Add(30 * time.Minute)}
	assert.Equal(t, Temporal, Classify(finding, fix, time.Hour))
}

func TestClassify_OutsideWindowFallsBackToInferred(t *testing.T) {
	finding := storage.FindingRow{CommitSHAObserved: "c1", ObservedAt: time.Unix(0, 0)}
	fix := storage.FixRow{FixCommitSHA: "c2", AppliedAt: time.Unix(0, 0).Add(48 * time.Hour)}
	assert.Equal(t, Inferred, Classify(finding, fix, time.Hour))
}
