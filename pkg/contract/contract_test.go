package contract

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeContract(t *testing.T, dir, name, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
}

func TestLoad_UnionOfTopics(t *testing.T) {
	dir := t.TempDir()
	writeContract(t, dir, "finding_observed.yaml", `
kind: finding_observed
schema_version: 1
subscribe_topics:
  - dev.patternctl.evt.reviewer.finding_observed.v1
payload_schema: FindingObserved
`)
	writeContract(t, dir, "fix_applied.yaml", `
kind: fix_applied
schema_version: 1
subscribe_topics:
  - dev.patternctl.evt.reviewer.fix_applied.v1
payload_schema: FixApplied
`)

	set, err := Load(dir)
	require.NoError(t, err)
	assert.Len(t, set.Topics(), 2)

	c, ok := set.Lookup("finding_observed", 1)
	require.True(t, ok)
	assert.Equal(t, "FindingObserved", c.PayloadSchema)
}

func TestLoad_DuplicateKeyFails(t *testing.T) {
	dir := t.TempDir()
	writeContract(t, dir, "a.yaml", "kind: x\nschema_version: 1\nsubscribe_topics: [t1]\n")
	writeContract(t, dir, "b.yaml", "kind: x\nschema_version: 1\nsubscribe_topics: [t2]\n")

	_, err := Load(dir)
	assert.Error(t, err)
}

func TestLoad_NoTopicsFails(t *testing.T) {
	dir := t.TempDir()
	writeContract(t, dir, "a.yaml", "kind: x\nschema_version: 1\nsubscribe_topics: []\n")

	_, err := Load(dir)
	assert.Error(t, err)
}
