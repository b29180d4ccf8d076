package governance

import (
	"context"

	"github.com/google/uuid"

	"github.com/sentinel-governance/sentinel/pkg/agentstore"
	"github.com/sentinel-governance/sentinel/pkg/apperr"
	"github.com/sentinel-governance/sentinel/pkg/database"
	"github.com/sentinel-governance/sentinel/pkg/dialectic"
	"github.com/sentinel-governance/sentinel/pkg/identity"
	"github.com/sentinel-governance/sentinel/pkg/knowledge"
)

// ResolveAgentID resolves a human-facing agent_id to its UUID without
// requiring an API key (used by read-only/admin operations that take
// agent_id directly, e.g. get_metrics, list_agents scoping).
func (s *Service) ResolveAgentID(ctx context.Context, agentID string) (uuid.UUID, error) {
	meta, err := s.Store.LoadMetadataByAgentID(ctx, agentID)
	if err != nil {
		return uuid.UUID{}, err
	}
	return meta.UUID, nil
}

// AuthenticateAgent validates an agent_id/api_key pair and returns the
// bound UUID, for operations spec.md §6 requires a credential on
// (direct_resume_if_safe).
func (s *Service) AuthenticateAgent(ctx context.Context, agentID, apiKey string) (uuid.UUID, error) {
	if err := identity.ValidateAgentID(agentID); err != nil {
		return uuid.UUID{}, err
	}
	meta, err := s.Store.LoadMetadataByAgentID(ctx, agentID)
	if err != nil {
		return uuid.UUID{}, err
	}
	if !identity.VerifyAPIKey(apiKey, meta.APIKeySalt, meta.APIKeyHash) {
		s.Audit.AuthFailure(ctx, &meta.UUID, "invalid api key")
		return uuid.UUID{}, apperr.New(apperr.CodeAuthRequired, "invalid api_key")
	}
	return meta.UUID, nil
}

// MetricsResponse mirrors spec.md §6's get_metrics output.
type MetricsResponse struct {
	AgentID    string
	Status     agentstore.Status
	E, I, S, V float64
	Coherence  float64
	Risk       float64
	Lambda1    float64
	VoidActive bool
}

// GetMetrics returns the current snapshot of one agent's state.
func (s *Service) GetMetrics(ctx context.Context, agentID uuid.UUID) (*MetricsResponse, error) {
	meta, err := s.Store.LoadMetadata(ctx, agentID)
	if err != nil {
		return nil, err
	}
	st, err := s.Store.LoadState(ctx, agentID)
	if err != nil {
		return nil, err
	}
	return &MetricsResponse{
		AgentID: meta.AgentID, Status: meta.Status,
		E: st.E, I: st.I, S: st.S, V: st.V,
		Coherence: st.Coherence, Risk: st.Risk, Lambda1: st.Lambda1, VoidActive: st.VoidActive,
	}, nil
}

// GetHistory returns up to limit of the agent's most recent history
// entries, newest last (spec.md §6 "get_history").
func (s *Service) GetHistory(ctx context.Context, agentID uuid.UUID, limit int) ([]agentstore.HistoryEntry, error) {
	st, err := s.Store.LoadState(ctx, agentID)
	if err != nil {
		return nil, err
	}
	if limit <= 0 || limit > len(st.History) {
		return st.History, nil
	}
	return st.History[len(st.History)-limit:], nil
}

// DirectResumeIfSafe re-evaluates a paused agent's current state
// against the (looser) safe-resume thresholds and resumes it without a
// dialectic review if they clear (spec.md §4.6/§4.9: "may attempt a
// direct resume if the conditions that caused the pause have since
// cleared").
func (s *Service) DirectResumeIfSafe(ctx context.Context, agentID uuid.UUID) (resumed bool, reason string, err error) {
	lock, err := s.Store.Acquire(ctx, agentID)
	if err != nil {
		return false, "", err
	}
	defer lock.Release(ctx)

	meta, err := s.Store.LoadMetadata(ctx, agentID)
	if err != nil {
		return false, "", err
	}
	if meta.Status != agentstore.StatusPaused {
		return false, "", apperr.New(apperr.CodeInvalidArgument, "agent is not paused")
	}

	st, err := s.Store.LoadState(ctx, agentID)
	if err != nil {
		return false, "", err
	}

	safe := st.Risk < s.Cfg.SafeResumeRiskMax && st.Coherence >= s.Cfg.SafeResumeCohMin && !st.VoidActive
	if !safe {
		return false, "risk, coherence, or void state has not cleared the safe-resume thresholds", nil
	}

	if err := s.Store.Transition(ctx, agentID, agentstore.Transition{
		From: agentstore.StatusPaused, To: agentstore.StatusActive, Reason: "direct_resume_if_safe",
		Detail: map[string]any{"risk": st.Risk, "coherence": st.Coherence},
	}); err != nil {
		return false, "", err
	}
	return true, "circuit-breaker conditions cleared", nil
}

// RequestDialecticReview starts a peer-review session for a paused
// agent. A reviewer is drawn from candidates by SelectReviewer; when
// candidates is empty, or SelectReviewer finds no healthy reviewer in
// it, the session has no reviewer and runs in LLM-assisted mode
// (spec.md §4.10).
func (s *Service) RequestDialecticReview(ctx context.Context, pausedAgentID uuid.UUID, candidates []dialectic.Candidate) (*dialectic.Session, error) {
	meta, err := s.Store.LoadMetadata(ctx, pausedAgentID)
	if err != nil {
		return nil, err
	}
	if meta.Status != agentstore.StatusPaused {
		return nil, apperr.New(apperr.CodeInvalidArgument, "agent is not paused")
	}

	var reviewerID *uuid.UUID
	if len(candidates) > 0 {
		chosen, err := s.Dialectic.SelectReviewer(pausedAgentID, candidates)
		switch {
		case err == nil:
			reviewerID = &chosen
		case apperr.CodeOf(err) == apperr.CodeNoReviewerAvailable:
			// No healthy peer in the supplied pool: fall back to the
			// single-agent LLM-assisted variant (spec.md §4.9) rather
			// than failing the request outright.
		default:
			return nil, err
		}
	}

	return s.Dialectic.RequestReview(ctx, pausedAgentID, reviewerID)
}

// SubmitThesis, SubmitAntithesis, and SubmitSynthesis are thin
// phase-tagged wrappers around dialectic.Protocol.Submit (spec.md §6's
// three separate submit_* operations share one underlying state
// machine).
func (s *Service) SubmitThesis(ctx context.Context, sessionID, author uuid.UUID, reasoning, rootCause string, conditions []string, observed map[string]float64) (*dialectic.Outcome, error) {
	return s.submitAndResolve(ctx, sessionID, dialectic.SubmitInput{
		Type: dialectic.MsgThesis, AuthorID: author, Reasoning: reasoning, RootCause: rootCause,
		ProposedConditions: conditions, ObservedMetrics: observed,
	})
}

func (s *Service) SubmitAntithesis(ctx context.Context, sessionID, author uuid.UUID, reasoning, rootCause string, conditions []string, observed map[string]float64) (*dialectic.Outcome, error) {
	return s.submitAndResolve(ctx, sessionID, dialectic.SubmitInput{
		Type: dialectic.MsgAntithesis, AuthorID: author, Reasoning: reasoning, RootCause: rootCause,
		ProposedConditions: conditions, ObservedMetrics: observed,
	})
}

func (s *Service) SubmitSynthesis(ctx context.Context, sessionID, author uuid.UUID, rootCause string, conditions []string, agrees bool) (*dialectic.Outcome, error) {
	return s.submitAndResolve(ctx, sessionID, dialectic.SubmitInput{
		Type: dialectic.MsgSynthesis, AuthorID: author, RootCause: rootCause,
		ProposedConditions: conditions, Agrees: &agrees,
	})
}

// submitAndResolve submits a protocol turn and, when it converges to a
// resolved session, applies the terminal action against the paused
// agent's lifecycle status (spec.md §4.9: resume/block/escalate).
func (s *Service) submitAndResolve(ctx context.Context, sessionID uuid.UUID, in dialectic.SubmitInput) (*dialectic.Outcome, error) {
	out, err := s.Dialectic.Submit(ctx, sessionID, in)
	if err != nil {
		return nil, err
	}
	if !out.Converged || out.Session.Resolution == nil {
		return out, nil
	}

	sess := out.Session
	switch sess.Resolution.Action {
	case dialectic.ActionResume:
		if err := s.Store.Transition(ctx, sess.PausedAgentID, agentstore.Transition{
			From: agentstore.StatusPaused, To: agentstore.StatusActive, Reason: "dialectic_resolved",
			Detail: map[string]any{"session_id": sess.SessionID, "conditions": sess.Resolution.Conditions},
		}); err != nil {
			return nil, err
		}
	case dialectic.ActionBlock, dialectic.ActionEscalate:
		// Status stays paused; the resolution record itself carries the
		// outcome for the caller to act on (spec.md §4.9).
	}
	s.Audit.DialecticResolved(ctx, sess.SessionID, sess.PausedAgentID, string(sess.Resolution.Action))
	return out, nil
}

// RunLLMAssisted delegates to the dialectic protocol's single-agent
// variant and applies the same terminal-action handling as the
// multi-turn submit path.
func (s *Service) RunLLMAssisted(ctx context.Context, sessionID uuid.UUID, reasoning, rootCause string, conditions []string, observed map[string]float64) (*dialectic.Outcome, error) {
	out, err := s.Dialectic.RunLLMAssisted(ctx, sessionID, reasoning, rootCause, conditions, observed)
	if err != nil {
		return nil, err
	}
	if out.Converged && out.Session.Resolution != nil && out.Session.Resolution.Action == dialectic.ActionResume {
		if err := s.Store.Transition(ctx, out.Session.PausedAgentID, agentstore.Transition{
			From: agentstore.StatusPaused, To: agentstore.StatusActive, Reason: "dialectic_resolved_llm_assisted",
			Detail: map[string]any{"session_id": out.Session.SessionID},
		}); err != nil {
			return nil, err
		}
	}
	if out.Converged && out.Session.Resolution != nil {
		s.Audit.DialecticResolved(ctx, out.Session.SessionID, out.Session.PausedAgentID, string(out.Session.Resolution.Action))
	}
	return out, nil
}

// StoreDiscovery, SearchDiscoveries, LeaveNote, and UpdateDiscoveryStatus
// forward directly to the knowledge store (spec.md §4.11/§6).
func (s *Service) StoreDiscovery(ctx context.Context, d knowledge.Discovery) (uuid.UUID, error) {
	return s.Knowledge.Store(ctx, d)
}

func (s *Service) SearchDiscoveries(ctx context.Context, q knowledge.Query) ([]knowledge.Discovery, error) {
	return s.Knowledge.Search(ctx, q)
}

func (s *Service) LeaveNote(ctx context.Context, author uuid.UUID, content string, tags []string) (uuid.UUID, error) {
	return s.Knowledge.LeaveNote(ctx, author, content, tags)
}

func (s *Service) UpdateDiscoveryStatus(ctx context.Context, id uuid.UUID, status knowledge.Status, updater uuid.UUID) error {
	return s.Knowledge.UpdateStatus(ctx, id, status, updater)
}

// ListAgents returns a lifecycle summary of every agent (spec.md §6).
func (s *Service) ListAgents(ctx context.Context, limit int) ([]agentstore.Metadata, error) {
	return s.Store.ListAgents(ctx, limit)
}

// UpdateMetadata applies a partial edit to an agent's lifecycle record
// (spec.md §6 "update_metadata").
func (s *Service) UpdateMetadata(ctx context.Context, agentID uuid.UUID, u agentstore.MetadataUpdate) error {
	return s.Store.UpdateMetadata(ctx, agentID, u)
}

// Archive transitions an agent to archived status, idempotent on an
// already-archived agent (spec.md §4.6: archival is an irreversible,
// non-destructive lifecycle step).
func (s *Service) Archive(ctx context.Context, agentID uuid.UUID, reason string) error {
	meta, err := s.Store.LoadMetadata(ctx, agentID)
	if err != nil {
		return err
	}
	if meta.Status == agentstore.StatusArchived {
		return nil
	}
	return s.Store.Transition(ctx, agentID, agentstore.Transition{
		From: meta.Status, To: agentstore.StatusArchived, Reason: reason,
	})
}

// Delete soft-deletes an agent by lifecycle transition; no row is
// physically removed (spec.md §3: history and metadata are append-only).
func (s *Service) Delete(ctx context.Context, agentID uuid.UUID, reason string) error {
	meta, err := s.Store.LoadMetadata(ctx, agentID)
	if err != nil {
		return err
	}
	if meta.Status == agentstore.StatusDeleted {
		return nil
	}
	return s.Store.Transition(ctx, agentID, agentstore.Transition{
		From: meta.Status, To: agentstore.StatusDeleted, Reason: reason,
	})
}

// HealthCheck reports database connectivity for the health_check
// operation (spec.md §6).
func (s *Service) HealthCheck(ctx context.Context, db *database.Client) database.Health {
	return database.CheckHealth(ctx, db)
}
