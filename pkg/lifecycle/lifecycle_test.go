package lifecycle_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentinel-governance/sentinel/pkg/agentstore"
	"github.com/sentinel-governance/sentinel/pkg/lifecycle"
	"github.com/sentinel-governance/sentinel/pkg/testutil"
)

func TestSweeperArchivesInactiveAgents(t *testing.T) {
	db := testutil.NewTestDatabase(t)
	store := agentstore.New(db, agentstore.Config{ProcessID: "test"})
	ctx := context.Background()

	stale := uuid.New()
	require.NoError(t, store.CreateAgent(ctx, agentstore.Metadata{
		UUID: stale, AgentID: "stale-agent", Status: agentstore.StatusActive,
		CreatedAt: time.Now(), APIKeyHash: "h", APIKeySalt: "s",
	}, 0.15))
	_, err := db.Pool.Exec(ctx, `UPDATE agents SET updated_at = now() - interval '10 days' WHERE uuid = $1`, stale)
	require.NoError(t, err)

	fresh := uuid.New()
	require.NoError(t, store.CreateAgent(ctx, agentstore.Metadata{
		UUID: fresh, AgentID: "fresh-agent", Status: agentstore.StatusActive,
		CreatedAt: time.Now(), APIKeyHash: "h", APIKeySalt: "s",
	}, 0.15))

	sweeper, err := lifecycle.New(store, 24*time.Hour, "@every 1h")
	require.NoError(t, err)
	sweeper.Start(ctx)
	sweeper.Stop()

	staleMeta, err := store.LoadMetadata(ctx, stale)
	require.NoError(t, err)
	assert.Equal(t, agentstore.StatusArchived, staleMeta.Status)

	freshMeta, err := store.LoadMetadata(ctx, fresh)
	require.NoError(t, err)
	assert.Equal(t, agentstore.StatusActive, freshMeta.Status)
}

func TestNewRejectsInvalidSchedule(t *testing.T) {
	db := testutil.NewTestDatabase(t)
	store := agentstore.New(db, agentstore.Config{ProcessID: "test"})

	_, err := lifecycle.New(store, time.Hour, "not a valid cron expression")
	require.Error(t, err)
}
