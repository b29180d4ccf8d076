package api

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/sentinel-governance/sentinel/pkg/agentstore"
	"github.com/sentinel-governance/sentinel/pkg/apperr"
	"github.com/sentinel-governance/sentinel/pkg/dialectic"
	"github.com/sentinel-governance/sentinel/pkg/governance"
	"github.com/sentinel-governance/sentinel/pkg/knowledge"
)

func (s *Server) handleOnboard(c *gin.Context) {
	var req OnboardRequest
	if err := bindStrict(c, &req); err != nil {
		writeError(c, err)
		return
	}
	ctx, cancel := s.withTimeout(c)
	defer cancel()

	agentUUID, agentID, keyPlaintext, err := s.svc.Onboard(ctx, req.DisplayName, req.ModelHint)
	if err != nil {
		writeError(c, err)
		return
	}
	token, _, err := s.tokens.Issue(agentID, 0)
	if err != nil {
		writeError(c, err)
		return
	}
	s.svc.Sessions.Bind(token, agentUUID)
	writeOK(c, gin.H{
		"uuid":          agentUUID,
		"agent_id":      agentID,
		"api_key_hint":  keyPlaintext,
		"session_token": token,
	})
}

func (s *Server) handleIdentity(c *gin.Context) {
	ctx, cancel := s.withTimeout(c)
	defer cancel()

	meta, err := s.svc.Identity(ctx, sessionKey(c))
	if err != nil {
		writeError(c, err)
		return
	}
	writeOK(c, gin.H{
		"uuid": meta.UUID, "agent_id": meta.AgentID, "display_name": meta.Label, "status": meta.Status,
	})
}

func (s *Server) handleProcessUpdate(c *gin.Context) {
	var req ProcessUpdateRequest
	if err := bindStrict(c, &req); err != nil {
		writeError(c, err)
		return
	}
	ctx, cancel := s.withTimeout(c)
	defer cancel()

	resp, err := s.svc.ProcessUpdate(ctx, governance.ProcessUpdateRequest{
		SessionKey: sessionKey(c), AgentID: req.AgentID, APIKey: req.APIKey,
		ResponseText: req.ResponseText, Complexity: req.Complexity,
		Parameters: req.Parameters, EthicalDrift: req.EthicalDrift,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	// coherence is only meaningful once a prior fingerprint exists; on
	// the first update it must read as unavailable, not a misleading 0.0
	// (spec.md §4.3/§6 scenario 1).
	var coherence any
	if !resp.CoherenceUnavailable {
		coherence = resp.Coherence
	}
	writeOK(c, gin.H{
		"state":                 gin.H{"e": resp.E, "i": resp.I, "s": resp.S, "v": resp.V},
		"coherence":             coherence,
		"coherence_unavailable": resp.CoherenceUnavailable,
		"risk":                  resp.Risk,
		"verdict":               resp.Verdict,
		"decision":              resp.Verdict,
		"guidance":              resp.Guidance,
		"learning_context":      resp.LearningContext,
		"api_key_hint":          resp.APIKeyHint,
	})
}

func (s *Server) handleGetMetrics(c *gin.Context) {
	var req GetMetricsRequest
	if err := bindStrict(c, &req); err != nil {
		writeError(c, err)
		return
	}
	ctx, cancel := s.withTimeout(c)
	defer cancel()

	agentUUID, err := s.resolveAgent(ctx, req.AgentID, c)
	if err != nil {
		writeError(c, err)
		return
	}
	metrics, err := s.svc.GetMetrics(ctx, agentUUID)
	if err != nil {
		writeError(c, err)
		return
	}
	writeOK(c, metrics)
}

func (s *Server) handleGetHistory(c *gin.Context) {
	var req GetHistoryRequest
	if err := bindStrict(c, &req); err != nil {
		writeError(c, err)
		return
	}
	ctx, cancel := s.withTimeout(c)
	defer cancel()

	agentUUID, err := s.resolveAgent(ctx, req.AgentID, c)
	if err != nil {
		writeError(c, err)
		return
	}
	history, err := s.svc.GetHistory(ctx, agentUUID, req.Limit)
	if err != nil {
		writeError(c, err)
		return
	}
	writeOK(c, gin.H{"history": history})
}

func (s *Server) handleDirectResume(c *gin.Context) {
	var req DirectResumeRequest
	if err := bindStrict(c, &req); err != nil {
		writeError(c, err)
		return
	}
	ctx, cancel := s.withTimeout(c)
	defer cancel()

	agentUUID, err := s.svc.AuthenticateAgent(ctx, req.AgentID, req.APIKey)
	if err != nil {
		writeError(c, err)
		return
	}
	resumed, reason, err := s.svc.DirectResumeIfSafe(ctx, agentUUID)
	if err != nil {
		writeError(c, err)
		return
	}
	writeOK(c, gin.H{"resumed": resumed, "reason": reason})
}

func (s *Server) handleRequestDialecticReview(c *gin.Context) {
	var req RequestDialecticReviewRequest
	if err := bindStrict(c, &req); err != nil {
		writeError(c, err)
		return
	}
	if req.ReviewerMode != "auto" && req.ReviewerMode != "self" {
		writeError(c, apperr.New(apperr.CodeInvalidArgument, "reviewer_mode must be \"auto\" or \"self\""))
		return
	}
	ctx, cancel := s.withTimeout(c)
	defer cancel()

	agentUUID, err := s.resolveAgent(ctx, &req.AgentID, c)
	if err != nil {
		writeError(c, err)
		return
	}

	var candidates []dialectic.Candidate
	if req.ReviewerMode == "auto" {
		for _, cand := range req.Candidates {
			candUUID, err := s.resolveAgent(ctx, &cand.AgentID, c)
			if err != nil {
				writeError(c, err)
				return
			}
			candidates = append(candidates, dialectic.Candidate{
				AgentID: candUUID, Risk: cand.Risk, Coherence: cand.Coherence,
				TrackRecord: cand.TrackRecord, DomainAffinity: cand.DomainAffinity,
			})
		}
	}

	session, err := s.svc.RequestDialecticReview(ctx, agentUUID, candidates)
	if err != nil {
		writeError(c, err)
		return
	}
	writeOK(c, gin.H{"session_id": session.SessionID, "reviewer_id": session.ReviewerID})
}

func (s *Server) handleSubmitThesis(c *gin.Context) {
	s.handleSubmit(c, dialectic.MsgThesis)
}
func (s *Server) handleSubmitAntithesis(c *gin.Context) {
	s.handleSubmit(c, dialectic.MsgAntithesis)
}
func (s *Server) handleSubmitSynthesis(c *gin.Context) {
	s.handleSubmit(c, dialectic.MsgSynthesis)
}

func (s *Server) handleSubmit(c *gin.Context, msgType dialectic.MessageType) {
	var req SubmitProtocolRequest
	if err := bindStrict(c, &req); err != nil {
		writeError(c, err)
		return
	}
	ctx, cancel := s.withTimeout(c)
	defer cancel()

	sessionID, err := uuid.Parse(req.SessionID)
	if err != nil {
		writeError(c, apperr.New(apperr.CodeInvalidArgument, "session_id must be a valid uuid"))
		return
	}
	authorUUID, err := s.resolveAgent(ctx, &req.Author, c)
	if err != nil {
		writeError(c, err)
		return
	}

	var out *dialectic.Outcome
	switch msgType {
	case dialectic.MsgThesis:
		out, err = s.svc.SubmitThesis(ctx, sessionID, authorUUID, req.Reasoning, req.RootCause, req.ProposedConditions, req.ObservedMetrics)
	case dialectic.MsgAntithesis:
		out, err = s.svc.SubmitAntithesis(ctx, sessionID, authorUUID, req.Reasoning, req.RootCause, req.ProposedConditions, req.ObservedMetrics)
	case dialectic.MsgSynthesis:
		agrees := req.Agrees != nil && *req.Agrees
		out, err = s.svc.SubmitSynthesis(ctx, sessionID, authorUUID, req.RootCause, req.ProposedConditions, agrees)
	}
	if err != nil {
		writeError(c, err)
		return
	}
	writeOK(c, gin.H{"phase": out.Session.Phase, "converged": out.Converged, "rounds": out.Session.Rounds})
}

func (s *Server) handleStoreDiscovery(c *gin.Context) {
	var req StoreDiscoveryRequest
	if err := bindStrict(c, &req); err != nil {
		writeError(c, err)
		return
	}
	ctx, cancel := s.withTimeout(c)
	defer cancel()

	authorUUID, err := s.resolveAgent(ctx, &req.Author, c)
	if err != nil {
		writeError(c, err)
		return
	}
	id, err := s.svc.StoreDiscovery(ctx, knowledge.Discovery{
		AuthorID: authorUUID, Severity: knowledge.Severity(req.Severity), Type: req.Type,
		Tags: req.Tags, Summary: req.Summary, Details: req.Details,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	writeOK(c, gin.H{"id": id})
}

func (s *Server) handleSearchDiscoveries(c *gin.Context) {
	var req SearchDiscoveriesRequest
	if err := bindStrict(c, &req); err != nil {
		writeError(c, err)
		return
	}
	ctx, cancel := s.withTimeout(c)
	defer cancel()

	q := knowledge.Query{Text: req.Text, Tags: req.Tags, Severity: knowledge.Severity(req.Severity), Limit: req.Limit}
	if req.Author != "" {
		authorUUID, err := s.resolveAgent(ctx, &req.Author, c)
		if err != nil {
			writeError(c, err)
			return
		}
		q.Author = authorUUID
	}
	results, err := s.svc.SearchDiscoveries(ctx, q)
	if err != nil {
		writeError(c, err)
		return
	}
	writeOK(c, gin.H{"discoveries": results})
}

func (s *Server) handleLeaveNote(c *gin.Context) {
	var req LeaveNoteRequest
	if err := bindStrict(c, &req); err != nil {
		writeError(c, err)
		return
	}
	ctx, cancel := s.withTimeout(c)
	defer cancel()

	authorUUID, err := s.resolveAgent(ctx, &req.Author, c)
	if err != nil {
		writeError(c, err)
		return
	}
	id, err := s.svc.LeaveNote(ctx, authorUUID, req.Content, req.Tags)
	if err != nil {
		writeError(c, err)
		return
	}
	writeOK(c, gin.H{"id": id})
}

func (s *Server) handleUpdateDiscoveryStatus(c *gin.Context) {
	var req UpdateDiscoveryStatusRequest
	if err := bindStrict(c, &req); err != nil {
		writeError(c, err)
		return
	}
	ctx, cancel := s.withTimeout(c)
	defer cancel()

	id, err := uuid.Parse(req.ID)
	if err != nil {
		writeError(c, apperr.New(apperr.CodeInvalidArgument, "id must be a valid uuid"))
		return
	}
	updaterUUID, err := s.resolveAgent(ctx, &req.Updater, c)
	if err != nil {
		writeError(c, err)
		return
	}
	if err := s.svc.UpdateDiscoveryStatus(ctx, id, knowledge.Status(req.Status), updaterUUID); err != nil {
		writeError(c, err)
		return
	}
	writeOK(c, gin.H{"id": id, "status": req.Status})
}

func (s *Server) handleListAgents(c *gin.Context) {
	var req ListAgentsRequest
	if err := bindStrict(c, &req); err != nil {
		writeError(c, err)
		return
	}
	ctx, cancel := s.withTimeout(c)
	defer cancel()

	agents, err := s.svc.ListAgents(ctx, req.Limit)
	if err != nil {
		writeError(c, err)
		return
	}
	writeOK(c, gin.H{"agents": agents})
}

func (s *Server) handleArchive(c *gin.Context) {
	var req AgentActionRequest
	if err := bindStrict(c, &req); err != nil {
		writeError(c, err)
		return
	}
	ctx, cancel := s.withTimeout(c)
	defer cancel()

	agentUUID, err := s.resolveAgent(ctx, &req.AgentID, c)
	if err != nil {
		writeError(c, err)
		return
	}
	if err := s.svc.Archive(ctx, agentUUID, req.Reason); err != nil {
		writeError(c, err)
		return
	}
	writeOK(c, gin.H{"agent_id": req.AgentID, "status": "archived"})
}

func (s *Server) handleDelete(c *gin.Context) {
	var req AgentActionRequest
	if err := bindStrict(c, &req); err != nil {
		writeError(c, err)
		return
	}
	ctx, cancel := s.withTimeout(c)
	defer cancel()

	agentUUID, err := s.resolveAgent(ctx, &req.AgentID, c)
	if err != nil {
		writeError(c, err)
		return
	}
	if err := s.svc.Delete(ctx, agentUUID, req.Reason); err != nil {
		writeError(c, err)
		return
	}
	writeOK(c, gin.H{"agent_id": req.AgentID, "status": "deleted"})
}

func (s *Server) handleUpdateMetadata(c *gin.Context) {
	var req UpdateMetadataRequest
	if err := bindStrict(c, &req); err != nil {
		writeError(c, err)
		return
	}
	ctx, cancel := s.withTimeout(c)
	defer cancel()

	agentUUID, err := s.resolveAgent(ctx, &req.AgentID, c)
	if err != nil {
		writeError(c, err)
		return
	}
	update := agentstore.MetadataUpdate{Label: req.Label, Tags: req.Tags, Notes: req.Notes}
	if err := s.svc.UpdateMetadata(ctx, agentUUID, update); err != nil {
		writeError(c, err)
		return
	}
	writeOK(c, gin.H{"agent_id": req.AgentID, "status": "updated"})
}

func (s *Server) handleHealthCheck(c *gin.Context) {
	ctx, cancel := s.withTimeout(c)
	defer cancel()
	writeOK(c, s.svc.HealthCheck(ctx, s.db))
}

// resolveAgent resolves a human agent_id string to its UUID. A blank
// id falls back to the bearer session binding (spec.md §4.7's
// auto-injection rule), matching the teacher's "omit the id, use the
// authenticated caller" convenience.
func (s *Server) resolveAgent(ctx context.Context, agentID *string, c *gin.Context) (uuid.UUID, error) {
	if agentID == nil || *agentID == "" {
		meta, err := s.svc.Identity(ctx, sessionKey(c))
		if err != nil {
			return uuid.UUID{}, err
		}
		return meta.UUID, nil
	}
	return s.svc.ResolveAgentID(ctx, *agentID)
}
