package knowledge_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentinel-governance/sentinel/pkg/apperr"
	"github.com/sentinel-governance/sentinel/pkg/knowledge"
	"github.com/sentinel-governance/sentinel/pkg/testutil"
)

func TestStoreRejectsEmptySummary(t *testing.T) {
	db := testutil.NewTestDatabase(t)
	store := knowledge.NewPostgresStore(db)

	_, err := store.Store(context.Background(), knowledge.Discovery{AuthorID: uuid.New()})
	require.Error(t, err)
	assert.Equal(t, apperr.CodeInvalidArgument, apperr.CodeOf(err))
}

func TestStoreAndSearch(t *testing.T) {
	db := testutil.NewTestDatabase(t)
	store := knowledge.NewPostgresStore(db)
	ctx := context.Background()
	author := uuid.New()

	id, err := store.Store(ctx, knowledge.Discovery{
		AuthorID: author, Summary: "found a parsing edge case", Tags: []string{"parser", "edge-case"},
		Severity: knowledge.SeverityWarning,
	})
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, id)

	results, err := store.Search(ctx, knowledge.Query{Text: "parsing"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, id, results[0].ID)
	assert.Equal(t, knowledge.StatusOpen, results[0].Status)

	byTag, err := store.Search(ctx, knowledge.Query{Tags: []string{"edge-case"}})
	require.NoError(t, err)
	require.Len(t, byTag, 1)

	bySeverity, err := store.Search(ctx, knowledge.Query{Severity: knowledge.SeverityCritical})
	require.NoError(t, err)
	assert.Empty(t, bySeverity)
}

func TestUpdateStatus(t *testing.T) {
	db := testutil.NewTestDatabase(t)
	store := knowledge.NewPostgresStore(db)
	ctx := context.Background()
	author := uuid.New()

	id, err := store.Store(ctx, knowledge.Discovery{AuthorID: author, Summary: "x"})
	require.NoError(t, err)

	require.NoError(t, store.UpdateStatus(ctx, id, knowledge.StatusResolved, author))

	results, err := store.Search(ctx, knowledge.Query{Author: author})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, knowledge.StatusResolved, results[0].Status)
}

func TestUpdateStatusNotFound(t *testing.T) {
	db := testutil.NewTestDatabase(t)
	store := knowledge.NewPostgresStore(db)

	err := store.UpdateStatus(context.Background(), uuid.New(), knowledge.StatusResolved, uuid.New())
	require.Error(t, err)
	assert.Equal(t, apperr.CodeNotFound, apperr.CodeOf(err))
}

func TestLeaveNote(t *testing.T) {
	db := testutil.NewTestDatabase(t)
	store := knowledge.NewPostgresStore(db)
	ctx := context.Background()
	author := uuid.New()

	id, err := store.LeaveNote(ctx, author, "heads up on this region", []string{"reminder"})
	require.NoError(t, err)

	results, err := store.Search(ctx, knowledge.Query{Author: author})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, id, results[0].ID)
	assert.Equal(t, "note", results[0].Type)
}
