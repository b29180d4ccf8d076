package governance_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentinel-governance/sentinel/pkg/agentstore"
	"github.com/sentinel-governance/sentinel/pkg/apperr"
	"github.com/sentinel-governance/sentinel/pkg/audit"
	"github.com/sentinel-governance/sentinel/pkg/collaborator"
	"github.com/sentinel-governance/sentinel/pkg/dialectic"
	"github.com/sentinel-governance/sentinel/pkg/dynamics"
	"github.com/sentinel-governance/sentinel/pkg/governance"
	"github.com/sentinel-governance/sentinel/pkg/governor"
	"github.com/sentinel-governance/sentinel/pkg/identity"
	"github.com/sentinel-governance/sentinel/pkg/knowledge"
	"github.com/sentinel-governance/sentinel/pkg/profile"
	"github.com/sentinel-governance/sentinel/pkg/risk"
	"github.com/sentinel-governance/sentinel/pkg/testutil"
)

func newTestService(t *testing.T) *governance.Service {
	t.Helper()
	db := testutil.NewTestDatabase(t)
	collab := collaborator.HashEmbedder{}

	return &governance.Service{
		Cfg:      governance.DefaultConfig(),
		Profile:  profile.Default(),
		Governor: governor.DefaultConfig(),
		Risk:     risk.DefaultWeights(),

		Store:     agentstore.New(db, agentstore.Config{ProcessID: "test"}),
		Sessions:  identity.NewSessionBinder(time.Hour),
		Tokens:    mustTokenIssuer(t),
		Knowledge: knowledge.NewPostgresStore(db),
		Audit:     audit.NewLog(db),
		Dialectic: dialectic.New(db, dialectic.DefaultConfig(), "test-secret", collab),
		Embedder:  collab,
		Collab:    collab,
	}
}

func mustTokenIssuer(t *testing.T) *identity.TokenIssuer {
	t.Helper()
	issuer, err := identity.NewTokenIssuer("test-token-secret-0123456789")
	require.NoError(t, err)
	return issuer
}

func TestOnboardGeneratesAgentIDWhenBlank(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	u, agentID, plaintext, err := svc.Onboard(ctx, "", "")
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, u)
	assert.NotEmpty(t, agentID)
	assert.NotEmpty(t, plaintext)
}

func TestOnboardRejectsDuplicateAgentID(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, _, _, err := svc.Onboard(ctx, "dup-agent", "")
	require.NoError(t, err)

	_, _, _, err = svc.Onboard(ctx, "dup-agent", "")
	require.Error(t, err)
	assert.Equal(t, apperr.CodeInvalidIdentifier, apperr.CodeOf(err))
}

func TestProcessUpdateImplicitOnboardAndSubsequentUpdate(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	agentID := "implicit-agent"

	resp, err := svc.ProcessUpdate(ctx, governance.ProcessUpdateRequest{
		SessionKey: "session-1", AgentID: &agentID, ResponseText: "first response", Complexity: 0.2,
	})
	require.NoError(t, err)
	assert.Equal(t, agentID, resp.AgentID)
	assert.True(t, resp.CoherenceUnavailable)
	assert.NotNil(t, resp.APIKeyHint)

	resp2, err := svc.ProcessUpdate(ctx, governance.ProcessUpdateRequest{
		SessionKey: "session-1", ResponseText: "second response", Complexity: 0.3,
	})
	require.NoError(t, err)
	assert.False(t, resp2.CoherenceUnavailable)
	assert.Nil(t, resp2.APIKeyHint)
}

func TestProcessUpdateFreshAgentFirstUpdateProceeds(t *testing.T) {
	// spec.md §8 scenario 1: onboard, response_text="hello",
	// complexity=0.3, no drift -> verdict proceed, coherence unavailable,
	// risk in [0.20, 0.40], one history row.
	svc := newTestService(t)
	ctx := context.Background()
	agentID := "scenario-a"

	resp, err := svc.ProcessUpdate(ctx, governance.ProcessUpdateRequest{
		SessionKey: "session-scenario-a", AgentID: &agentID, ResponseText: "hello", Complexity: 0.3,
	})
	require.NoError(t, err)
	assert.Equal(t, dynamics.VerdictProceed, resp.Verdict)
	assert.True(t, resp.CoherenceUnavailable)
	assert.GreaterOrEqual(t, resp.Risk, 0.20)
	assert.LessOrEqual(t, resp.Risk, 0.40)

	u, err := svc.ResolveAgentID(ctx, agentID)
	require.NoError(t, err)
	history, err := svc.GetHistory(ctx, u, 0)
	require.NoError(t, err)
	require.Len(t, history, 1)
}

func TestProcessUpdateRejectsPausedAgent(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	u, _, _, err := svc.Onboard(ctx, "paused-agent", "")
	require.NoError(t, err)
	require.NoError(t, svc.Store.Transition(ctx, u, agentstore.Transition{
		From: agentstore.StatusActive, To: agentstore.StatusPaused, Reason: "manual test setup",
	}))
	svc.Sessions.Bind("session-paused", u)

	_, err = svc.ProcessUpdate(ctx, governance.ProcessUpdateRequest{
		SessionKey: "session-paused", ResponseText: "x", Complexity: 0.1,
	})
	require.Error(t, err)
	assert.Equal(t, apperr.CodeAgentPaused, apperr.CodeOf(err))
}

func TestGetMetricsAndHistory(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	agentID := "metrics-agent"

	_, err := svc.ProcessUpdate(ctx, governance.ProcessUpdateRequest{
		SessionKey: "session-metrics", AgentID: &agentID, ResponseText: "a", Complexity: 0.1,
	})
	require.NoError(t, err)

	u, err := svc.ResolveAgentID(ctx, agentID)
	require.NoError(t, err)

	metrics, err := svc.GetMetrics(ctx, u)
	require.NoError(t, err)
	assert.Equal(t, agentID, metrics.AgentID)

	history, err := svc.GetHistory(ctx, u, 0)
	require.NoError(t, err)
	require.Len(t, history, 1)
}

func TestDirectResumeIfSafe(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	u, _, _, err := svc.Onboard(ctx, "resume-agent", "")
	require.NoError(t, err)
	require.NoError(t, svc.Store.Transition(ctx, u, agentstore.Transition{
		From: agentstore.StatusActive, To: agentstore.StatusPaused, Reason: "test setup",
	}))

	resumed, _, err := svc.DirectResumeIfSafe(ctx, u)
	require.NoError(t, err)
	assert.True(t, resumed)

	meta, err := svc.Store.LoadMetadata(ctx, u)
	require.NoError(t, err)
	assert.Equal(t, agentstore.StatusActive, meta.Status)
}

func TestDirectResumeIfSafeRefusesWhenRiskHigh(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	u, _, _, err := svc.Onboard(ctx, "risky-agent", "")
	require.NoError(t, err)

	st, err := svc.Store.LoadState(ctx, u)
	require.NoError(t, err)
	st.Risk = 0.9
	require.NoError(t, svc.Store.Persist(ctx, agentstore.Update{State: *st, NewEntry: agentstore.HistoryEntry{Timestamp: time.Now()}}))
	require.NoError(t, svc.Store.Transition(ctx, u, agentstore.Transition{
		From: agentstore.StatusActive, To: agentstore.StatusPaused, Reason: "test setup",
	}))

	resumed, reason, err := svc.DirectResumeIfSafe(ctx, u)
	require.NoError(t, err)
	assert.False(t, resumed)
	assert.NotEmpty(t, reason)
}

func TestRequestDialecticReviewAndResolve(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	paused, _, _, err := svc.Onboard(ctx, "dialectic-paused", "")
	require.NoError(t, err)
	reviewer, _, _, err := svc.Onboard(ctx, "dialectic-reviewer", "")
	require.NoError(t, err)
	require.NoError(t, svc.Store.Transition(ctx, paused, agentstore.Transition{
		From: agentstore.StatusActive, To: agentstore.StatusPaused, Reason: "test setup",
	}))

	session, err := svc.RequestDialecticReview(ctx, paused, []dialectic.Candidate{
		{AgentID: reviewer, Risk: 0.1, Coherence: 0.9, TrackRecord: 0.8, DomainAffinity: 0.7},
	})
	require.NoError(t, err)
	require.NotNil(t, session.ReviewerID)
	assert.Equal(t, reviewer, *session.ReviewerID)

	_, err = svc.SubmitThesis(ctx, session.SessionID, paused, "reasoning", "root cause", []string{"cap complexity"}, nil)
	require.NoError(t, err)
	_, err = svc.SubmitAntithesis(ctx, session.SessionID, reviewer, "agree", "", nil, nil)
	require.NoError(t, err)
	_, err = svc.SubmitSynthesis(ctx, session.SessionID, paused, "root cause", []string{"cap complexity"}, true)
	require.NoError(t, err)
	outcome, err := svc.SubmitSynthesis(ctx, session.SessionID, reviewer, "root cause", []string{"cap complexity"}, true)
	require.NoError(t, err)

	assert.True(t, outcome.Converged)
	meta, err := svc.Store.LoadMetadata(ctx, paused)
	require.NoError(t, err)
	assert.Equal(t, agentstore.StatusActive, meta.Status)
}

func TestKnowledgeOperations(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	author := uuid.New()

	id, err := svc.LeaveNote(ctx, author, "worth remembering", []string{"tag1"})
	require.NoError(t, err)

	results, err := svc.SearchDiscoveries(ctx, knowledge.Query{Author: author})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, id, results[0].ID)

	require.NoError(t, svc.UpdateDiscoveryStatus(ctx, id, knowledge.StatusResolved, author))
}

func TestArchiveAndDeleteAreIdempotent(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	u, _, _, err := svc.Onboard(ctx, "lifecycle-agent", "")
	require.NoError(t, err)

	require.NoError(t, svc.Archive(ctx, u, "inactive"))
	require.NoError(t, svc.Archive(ctx, u, "inactive again"))

	meta, err := svc.Store.LoadMetadata(ctx, u)
	require.NoError(t, err)
	assert.Equal(t, agentstore.StatusArchived, meta.Status)

	require.NoError(t, svc.Delete(ctx, u, "cleanup"))
	require.NoError(t, svc.Delete(ctx, u, "cleanup again"))

	meta, err = svc.Store.LoadMetadata(ctx, u)
	require.NoError(t, err)
	assert.Equal(t, agentstore.StatusDeleted, meta.Status)
}

func TestListAgentsAndUpdateMetadata(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	u, _, _, err := svc.Onboard(ctx, "listed-agent", "")
	require.NoError(t, err)

	agents, err := svc.ListAgents(ctx, 0)
	require.NoError(t, err)
	assert.NotEmpty(t, agents)

	label := "renamed-label"
	require.NoError(t, svc.UpdateMetadata(ctx, u, agentstore.MetadataUpdate{Label: &label}))

	meta, err := svc.Store.LoadMetadata(ctx, u)
	require.NoError(t, err)
	assert.Equal(t, "renamed-label", meta.Label)
}
