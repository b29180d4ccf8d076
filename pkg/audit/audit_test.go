package audit_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentinel-governance/sentinel/pkg/audit"
	"github.com/sentinel-governance/sentinel/pkg/testutil"
)

func TestRecordAndAuthFailure(t *testing.T) {
	db := testutil.NewTestDatabase(t)
	log := audit.NewLog(db)
	ctx := context.Background()

	agentID := uuid.New()
	log.AuthFailure(ctx, &agentID, "bad api key")

	var event, code string
	err := db.Pool.QueryRow(ctx, `SELECT event, code FROM audit WHERE agent_uuid = $1`, agentID).Scan(&event, &code)
	require.NoError(t, err)
	assert.Equal(t, "auth_failure", event)
	assert.Equal(t, "AuthRequired", code)
}

func TestInstabilityAndCircuitBreaker(t *testing.T) {
	db := testutil.NewTestDatabase(t)
	log := audit.NewLog(db)
	ctx := context.Background()

	agentID := uuid.New()
	log.Instability(ctx, agentID, "E", 1e12)
	log.CircuitBreaker(ctx, agentID, 0.9, 0.1, true)

	var count int
	err := db.Pool.QueryRow(ctx, `SELECT count(*) FROM audit WHERE agent_uuid = $1`, agentID).Scan(&count)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestDialecticResolved(t *testing.T) {
	db := testutil.NewTestDatabase(t)
	log := audit.NewLog(db)
	ctx := context.Background()

	agentID := uuid.New()
	sessionID := uuid.New()
	log.DialecticResolved(ctx, sessionID, agentID, "resume")

	var event string
	err := db.Pool.QueryRow(ctx, `SELECT event FROM audit WHERE agent_uuid = $1`, agentID).Scan(&event)
	require.NoError(t, err)
	assert.Equal(t, "dialectic_resolved", event)
}
