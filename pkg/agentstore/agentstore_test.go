package agentstore_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentinel-governance/sentinel/pkg/agentstore"
	"github.com/sentinel-governance/sentinel/pkg/apperr"
	"github.com/sentinel-governance/sentinel/pkg/database"
	"github.com/sentinel-governance/sentinel/pkg/testutil"
)

func newStore(t *testing.T, db *database.Client) *agentstore.Store {
	return agentstore.New(db, agentstore.Config{
		ProcessID: "test-process", StaleAfter: 200 * time.Millisecond, BackoffBase: 10 * time.Millisecond, MaxRetries: 3,
	})
}

func createTestAgent(t *testing.T, store *agentstore.Store) uuid.UUID {
	t.Helper()
	id := uuid.New()
	err := store.CreateAgent(context.Background(), agentstore.Metadata{
		UUID: id, AgentID: "agent-" + id.String()[:8], Status: agentstore.StatusActive,
		CreatedAt: time.Now(), APIKeyHash: "h", APIKeySalt: "s",
	}, 0.15)
	require.NoError(t, err)
	return id
}

func TestCreateAgentAndLoad(t *testing.T) {
	db := testutil.NewTestDatabase(t)
	store := newStore(t, db)
	ctx := context.Background()

	id := createTestAgent(t, store)

	meta, err := store.LoadMetadata(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, agentstore.StatusActive, meta.Status)

	st, err := store.LoadState(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 0.15, st.Lambda1)
	assert.Equal(t, "linear", st.Regime)
	assert.Empty(t, st.History)
}

func TestLoadMetadataByAgentID(t *testing.T) {
	db := testutil.NewTestDatabase(t)
	store := newStore(t, db)
	ctx := context.Background()

	id := uuid.New()
	require.NoError(t, store.CreateAgent(ctx, agentstore.Metadata{
		UUID: id, AgentID: "fixed-agent-id", Status: agentstore.StatusActive,
		CreatedAt: time.Now(), APIKeyHash: "h", APIKeySalt: "s",
	}, 0.15))

	meta, err := store.LoadMetadataByAgentID(ctx, "fixed-agent-id")
	require.NoError(t, err)
	assert.Equal(t, id, meta.UUID)
}

func TestLoadMetadataNotFound(t *testing.T) {
	db := testutil.NewTestDatabase(t)
	store := newStore(t, db)

	_, err := store.LoadMetadata(context.Background(), uuid.New())
	require.Error(t, err)
	assert.Equal(t, apperr.CodeNotFound, apperr.CodeOf(err))
}

func TestAcquireAndRelease(t *testing.T) {
	db := testutil.NewTestDatabase(t)
	store := newStore(t, db)
	ctx := context.Background()
	id := createTestAgent(t, store)

	lock, err := store.Acquire(ctx, id)
	require.NoError(t, err)

	_, err = store.Acquire(ctx, id)
	require.Error(t, err)
	assert.Equal(t, apperr.CodeBusy, apperr.CodeOf(err))

	lock.Release(ctx)

	lock2, err := store.Acquire(ctx, id)
	require.NoError(t, err)
	lock2.Release(ctx)
}

func TestAcquireReclaimsStaleLock(t *testing.T) {
	db := testutil.NewTestDatabase(t)
	store := newStore(t, db)
	ctx := context.Background()
	id := createTestAgent(t, store)

	lock, err := store.Acquire(ctx, id)
	require.NoError(t, err)
	_ = lock // deliberately never released, simulating a crashed holder

	time.Sleep(250 * time.Millisecond)

	lock2, err := store.Acquire(ctx, id)
	require.NoError(t, err)
	lock2.Release(ctx)
}

func TestPersistAppendsHistory(t *testing.T) {
	db := testutil.NewTestDatabase(t)
	store := newStore(t, db)
	ctx := context.Background()
	id := createTestAgent(t, store)

	st, err := store.LoadState(ctx, id)
	require.NoError(t, err)

	entry := agentstore.HistoryEntry{E: 1, I: 1, S: 0, V: 0, Timestamp: time.Now()}
	require.NoError(t, store.Persist(ctx, agentstore.Update{State: *st, NewEntry: entry}))

	reloaded, err := store.LoadState(ctx, id)
	require.NoError(t, err)
	require.Len(t, reloaded.History, 1)
	assert.Equal(t, 1.0, reloaded.History[0].E)
}

func TestTransitionRecordsLifecycleEvent(t *testing.T) {
	db := testutil.NewTestDatabase(t)
	store := newStore(t, db)
	ctx := context.Background()
	id := createTestAgent(t, store)

	require.NoError(t, store.Transition(ctx, id, agentstore.Transition{
		From: agentstore.StatusActive, To: agentstore.StatusPaused, Reason: "void_event",
	}))

	meta, err := store.LoadMetadata(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, agentstore.StatusPaused, meta.Status)
	require.Len(t, meta.Events, 1)
	assert.Equal(t, agentstore.StatusActive, meta.Events[0].From)
	assert.Equal(t, agentstore.StatusPaused, meta.Events[0].To)
}

func TestUpdateMetadataPartial(t *testing.T) {
	db := testutil.NewTestDatabase(t)
	store := newStore(t, db)
	ctx := context.Background()
	id := createTestAgent(t, store)

	label := "renamed"
	require.NoError(t, store.UpdateMetadata(ctx, id, agentstore.MetadataUpdate{Label: &label}))

	meta, err := store.LoadMetadata(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "renamed", meta.Label)
	assert.Empty(t, meta.Notes)
}

func TestListAgents(t *testing.T) {
	db := testutil.NewTestDatabase(t)
	store := newStore(t, db)

	createTestAgent(t, store)
	createTestAgent(t, store)

	agents, err := store.ListAgents(context.Background(), 0)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(agents), 2)
}

func TestInactiveSince(t *testing.T) {
	db := testutil.NewTestDatabase(t)
	store := newStore(t, db)
	ctx := context.Background()
	id := createTestAgent(t, store)

	ids, err := store.InactiveSince(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Contains(t, ids, id)

	ids, err = store.InactiveSince(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.NotContains(t, ids, id)
}
