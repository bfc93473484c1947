//go:build integration

package fsm_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/patternctl/internal/testdb"
	"github.com/codeready-toolchain/patternctl/pkg/fsm"
	"github.com/codeready-toolchain/patternctl/pkg/storage"
)

// TestLeaseContention is spec.md §8 scenario 3: two proposers race on the
// same (fsm_kind, entity_id); exactly one wins the lease, the other
// observes Conflict, and history gains exactly one transition row.
func TestLeaseContention(t *testing.T) {
	client := testdb.NewTestClient(t)
	repo := storage.NewFSMRepository(client.DB())
	reducer := fsm.NewReducer(repo)

	ctx := context.Background()
	entityID := "E7"

	var wg sync.WaitGroup
	tokens := make([]fsm.LeaseToken, 2)
	errs := make([]error, 2)

	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tok, err := reducer.Propose(ctx, fsm.PatternLearning, entityID, uuid.NewString(), 5*time.Minute)
			tokens[i] = tok
			errs[i] = err
		}(i)
	}
	wg.Wait()

	successCount := 0
	for _, err := range errs {
		if err == nil {
			successCount++
		}
	}
	assert.Equal(t, 1, successCount, "exactly one proposer should win the lease")

	for i, err := range errs {
		if err == nil {
			require.NoError(t, reducer.Transition(ctx, tokens[i], "", "start", uuid.NewString(), nil, time.Now()))
		}
	}

	history, err := repo.HistoryFor(ctx, string(fsm.PatternLearning), entityID)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

// TestWalk_IngestionHappyPath is spec.md §8 scenario 1 driven through the
// Walk helper the inbound handlers use: receive, begin_processing, index
// should land the FSM in INDEXED with one history row per action and the
// lease released.
func TestWalk_IngestionHappyPath(t *testing.T) {
	client := testdb.NewTestClient(t)
	repo := storage.NewFSMRepository(client.DB())
	reducer := fsm.NewReducer(repo)

	ctx := context.Background()
	entityID := "finding-" + uuid.NewString()

	err := reducer.Walk(ctx, fsm.Ingestion, entityID, uuid.NewString(), time.Minute,
		[]string{"receive", "begin_processing", "index"}, map[string]any{"source": "test"})
	require.NoError(t, err)

	row, err := repo.Get(ctx, string(fsm.Ingestion), entityID)
	require.NoError(t, err)
	assert.Equal(t, "INDEXED", row.CurrentState)

	history, err := repo.HistoryFor(ctx, string(fsm.Ingestion), entityID)
	require.NoError(t, err)
	assert.Len(t, history, 3)
}

// TestWalk_IllegalActionFailsAndReleases is spec.md §8 scenario 4 through
// Walk: an action with no outgoing edge from the reached state must stop
// the walk and surface InvalidTransition, and since FOUNDATION has a legal
// "fail" edge, the cleanup step records it rather than leaving the FSM
// stuck holding a lease no one released.
func TestWalk_IllegalActionFailsAndReleases(t *testing.T) {
	client := testdb.NewTestClient(t)
	repo := storage.NewFSMRepository(client.DB())
	reducer := fsm.NewReducer(repo)

	ctx := context.Background()
	entityID := "trace-" + uuid.NewString()

	err := reducer.Walk(ctx, fsm.PatternLearning, entityID, uuid.NewString(), time.Minute,
		[]string{"start", "finish"}, nil)
	require.Error(t, err)

	row, err := repo.Get(ctx, string(fsm.PatternLearning), entityID)
	require.NoError(t, err)
	assert.Equal(t, "FAILED", row.CurrentState, "FOUNDATION has a legal fail edge, taken during cleanup")

	// A new proposer can claim immediately: the lease was released even
	// though the walk failed mid-sequence.
	_, err = reducer.Propose(ctx, fsm.PatternLearning, entityID, uuid.NewString(), time.Minute)
	assert.NoError(t, err)
}
