package governance

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/sentinel-governance/sentinel/pkg/agentstore"
	"github.com/sentinel-governance/sentinel/pkg/apperr"
	"github.com/sentinel-governance/sentinel/pkg/audit"
	"github.com/sentinel-governance/sentinel/pkg/collaborator"
	"github.com/sentinel-governance/sentinel/pkg/dialectic"
	"github.com/sentinel-governance/sentinel/pkg/dynamics"
	"github.com/sentinel-governance/sentinel/pkg/fingerprint"
	"github.com/sentinel-governance/sentinel/pkg/governor"
	"github.com/sentinel-governance/sentinel/pkg/identity"
	"github.com/sentinel-governance/sentinel/pkg/knowledge"
	"github.com/sentinel-governance/sentinel/pkg/profile"
	"github.com/sentinel-governance/sentinel/pkg/risk"
)

// Service is the single entry point every transport operation in
// spec.md §6 ultimately calls. It owns every collaborator listed in
// spec.md §2's data-flow diagram.
type Service struct {
	Cfg       Config
	Profile   *profile.Profile
	Governor  governor.Config
	Risk      risk.Weights

	Store      *agentstore.Store
	Sessions   *identity.SessionBinder
	Tokens     *identity.TokenIssuer
	Knowledge  knowledge.Store
	Audit      *audit.Log
	Dialectic  *dialectic.Protocol
	Embedder   fingerprint.Embedder
	Collab     collaborator.ModelCollaborator
}

// Onboard creates a new agent (spec.md §6 "onboard"). displayName, if
// empty, is replaced with a generated agent_id.
func (s *Service) Onboard(ctx context.Context, displayName, modelHint string) (uuid.UUID, string, string, error) {
	agentID := displayName
	if agentID == "" {
		agentID = fmt.Sprintf("agent-%s", uuid.New().String()[:8])
	}
	if err := identity.ValidateAgentID(agentID); err != nil {
		return uuid.UUID{}, "", "", err
	}

	if _, err := s.Store.LoadMetadataByAgentID(ctx, agentID); err == nil {
		return uuid.UUID{}, "", "", apperr.New(apperr.CodeInvalidIdentifier, "agent_id already in use")
	} else if apperr.CodeOf(err) != apperr.CodeNotFound {
		return uuid.UUID{}, "", "", err
	}

	key, err := identity.GenerateAPIKey()
	if err != nil {
		return uuid.UUID{}, "", "", err
	}

	u := identity.NewAgentUUID()
	m := agentstore.Metadata{
		UUID: u, AgentID: agentID, Label: displayName, APIKeyHash: key.Hash, APIKeySalt: key.Salt,
		Status: agentstore.StatusActive, CreatedAt: time.Now(),
		Notes: modelHint,
	}
	if err := s.Store.CreateAgent(ctx, m, s.Profile.Lambda1Base); err != nil {
		return uuid.UUID{}, "", "", err
	}
	return u, agentID, key.Plaintext, nil
}

// Identity resolves the agent bound to a session key (spec.md §6
// "identity").
func (s *Service) Identity(ctx context.Context, sessionKey string) (*agentstore.Metadata, error) {
	bound, ok := s.Sessions.Lookup(sessionKey)
	if !ok {
		return nil, apperr.New(apperr.CodeNotBound, "no session binding").WithRecovery("onboard", "create an agent to establish a session")
	}
	return s.Store.LoadMetadata(ctx, bound)
}

// ProcessUpdateRequest bundles spec.md §6's process_update inputs.
type ProcessUpdateRequest struct {
	SessionKey   string
	AgentID      *string
	APIKey       *string
	ResponseText string
	Complexity   float64
	Parameters   []float64
	EthicalDrift []float64
}

// ProcessUpdateResponse mirrors spec.md §6's process_update output.
type ProcessUpdateResponse struct {
	UUID              uuid.UUID
	AgentID           string
	E, I, S, V        float64
	Coherence         float64
	CoherenceUnavailable bool
	Risk              float64
	Verdict           dynamics.Verdict
	VoidActive        bool
	Guidance          string
	LearningContext   []string
	APIKeyHint        *string
}

// ProcessUpdate is the governance loop (spec.md §4.8): identity/auth,
// lock, load, fingerprint/coherence, one dynamics step, governor,
// risk, verdict, circuit breaker, persist, release.
func (s *Service) ProcessUpdate(ctx context.Context, req ProcessUpdateRequest) (*ProcessUpdateResponse, error) {
	agentUUID, agentIDStr, keyHint, err := s.resolveAndAuthorize(ctx, req.SessionKey, req.AgentID, req.APIKey)
	if err != nil {
		return nil, err
	}

	lock, err := s.Store.Acquire(ctx, agentUUID)
	if err != nil {
		return nil, err
	}
	defer lock.Release(ctx)

	meta, err := s.Store.LoadMetadata(ctx, agentUUID)
	if err != nil {
		return nil, err
	}
	if meta.Status != agentstore.StatusActive {
		return nil, apperr.New(apperr.CodeAgentPaused, "agent is paused").
			WithRecovery("direct_resume_if_safe", "try direct_resume_if_safe first; if conditions have not cleared, request a dialectic review instead")
	}

	state, err := s.Store.LoadState(ctx, agentUUID)
	if err != nil {
		return nil, err
	}

	fp, err := fingerprint.Extract(ctx, fingerprint.Input{
		ResponseText: req.ResponseText,
		CoreMetrics:  req.Parameters,
		Drift:        req.EthicalDrift,
	}, s.Embedder)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeStorageError, "extract fingerprint", err)
	}

	var coherenceVal float64
	unavailable := state.LastFingerprint == nil
	if !unavailable {
		coherenceVal = fingerprint.Coherence(*state.LastFingerprint, fp, fingerprint.DefaultSigma)
	}

	var rnd *rand.Rand
	if s.Profile.Stochastic {
		rnd = rand.New(rand.NewSource(int64(len(state.History)) + 1))
	}

	result, stepErr := dynamics.Step(s.Profile, dynamics.Input{
		Current:    state.AsDynamicsState(),
		Drift:      req.EthicalDrift,
		Lambda1:    state.Lambda1,
		Lambda2:    s.Profile.Lambda2Base,
		Complexity: clip01(req.Complexity),
		Rand:       rnd,
	})
	if stepErr != nil {
		if ie, ok := stepErr.(*dynamics.InstabilityError); ok {
			s.Audit.Instability(ctx, agentUUID, ie.Field, ie.Value)
			return nil, apperr.Wrap(apperr.CodeDynamicsInstability, "dynamics step produced a non-finite value; retry with the prior state", stepErr)
		}
		return nil, apperr.Wrap(apperr.CodeDynamicsInstability, "dynamics step failed", stepErr)
	}

	voidThreshold := state.VoidThreshold
	if voidThreshold == 0 || len(state.History)%s.Cfg.VoidThresholdWindow == 0 {
		voidThreshold = risk.VoidThreshold(state.RecentV(s.Cfg.VoidThresholdWindow))
	}
	voidActive := risk.VoidActive(result.Next.V, voidThreshold)

	govState := governor.State{
		PIIntegral:       state.PIIntegral,
		Lambda1:          state.Lambda1,
		UpdatesSinceVoid: state.UpdatesSinceVoid,
		VoidHistory:      state.RecentVoid(s.Governor.WindowSize),
	}
	govState = governor.Advance(s.Governor, govState, voidActive, s.Profile.Dt, s.Profile.Lambda1Base, s.Profile.Lambda1Min, s.Profile.Lambda1Max)

	riskScore := risk.Score(s.Risk, risk.Input{
		Coherence: coherenceVal, CoherenceUnavailable: unavailable,
		S: result.Next.S, SMax: s.Profile.ClipS.Max,
		VoidActive: voidActive, V: result.Next.V, VMax: s.Profile.ClipV.Max,
	})

	pauseNow := riskScore >= s.Cfg.TauPause || (!unavailable && coherenceVal <= s.Cfg.TauCohMin) || voidActive

	newState := *state
	newState.E, newState.I, newState.S, newState.V = result.Next.E, result.Next.I, result.Next.S, result.Next.V
	newState.Coherence = coherenceVal
	newState.Risk = riskScore
	newState.VoidActive = voidActive
	newState.VoidThreshold = voidThreshold
	newState.Lambda1 = govState.Lambda1
	newState.PIIntegral = govState.PIIntegral
	newState.UpdatesSinceVoid = govState.UpdatesSinceVoid
	newState.LastFingerprint = &fp
	newState.Regime = string(s.Profile.IMode)

	entry := agentstore.HistoryEntry{
		E: newState.E, I: newState.I, S: newState.S, V: newState.V,
		Coherence: coherenceEntryValue(coherenceVal, unavailable),
		Risk:      riskScore, VoidActive: voidActive, Decision: result.Verdict, Timestamp: time.Now(),
	}

	update := agentstore.Update{State: newState, NewEntry: entry}
	if pauseNow {
		update.Transition = &agentstore.Transition{
			From: agentstore.StatusActive, To: agentstore.StatusPaused, Reason: "circuit_breaker",
			Detail: map[string]any{"risk": riskScore, "coherence": coherenceVal, "void_active": voidActive},
		}
	}

	if err := s.Store.Persist(ctx, update); err != nil {
		return nil, err
	}
	if pauseNow {
		s.Audit.CircuitBreaker(ctx, agentUUID, riskScore, coherenceVal, voidActive)
	}

	learning := s.learningContext(ctx, agentUUID)

	resp := &ProcessUpdateResponse{
		UUID: agentUUID, AgentID: agentIDStr,
		E: newState.E, I: newState.I, S: newState.S, V: newState.V,
		Coherence: coherenceVal, CoherenceUnavailable: unavailable,
		Risk: riskScore, Verdict: result.Verdict, VoidActive: voidActive,
		Guidance:        guidanceFor(result.Verdict, riskScore, pauseNow),
		LearningContext: learning,
	}
	if keyHint != "" {
		resp.APIKeyHint = &keyHint
	}
	return resp, nil
}

// resolveAndAuthorize implements spec.md §4.7/§4.8 steps 1-2: session
// binding resolution, implicit-create-on-first-use, and API key
// verification for an existing agent.
func (s *Service) resolveAndAuthorize(ctx context.Context, sessionKey string, agentIDStr, apiKey *string) (uuid.UUID, string, string, error) {
	if agentIDStr != nil {
		if err := identity.ValidateAgentID(*agentIDStr); err != nil {
			return uuid.UUID{}, "", "", err
		}
	}

	if bound, ok := s.Sessions.Lookup(sessionKey); ok {
		if agentIDStr != nil {
			meta, err := s.Store.LoadMetadataByAgentID(ctx, *agentIDStr)
			if err != nil {
				return uuid.UUID{}, "", "", err
			}
			if meta.UUID != bound {
				return uuid.UUID{}, "", "", apperr.New(apperr.CodeSessionMismatch, "session is bound to a different agent")
			}
		}
		meta, err := s.Store.LoadMetadata(ctx, bound)
		if err != nil {
			return uuid.UUID{}, "", "", err
		}
		return bound, meta.AgentID, "", nil
	}

	if agentIDStr == nil {
		return uuid.UUID{}, "", "", apperr.New(apperr.CodeAuthRequired, "no session binding and no agent_id supplied")
	}

	meta, err := s.Store.LoadMetadataByAgentID(ctx, *agentIDStr)
	if err != nil {
		if apperr.CodeOf(err) != apperr.CodeNotFound {
			return uuid.UUID{}, "", "", err
		}
		// First use of this agent_id: implicit onboarding (spec.md §4.7
		// "the key is established at creation time"; no key is required
		// to create a new agent).
		key, genErr := identity.GenerateAPIKey()
		if genErr != nil {
			return uuid.UUID{}, "", "", genErr
		}
		u := identity.NewAgentUUID()
		newMeta := agentstore.Metadata{
			UUID: u, AgentID: *agentIDStr, APIKeyHash: key.Hash, APIKeySalt: key.Salt,
			Status: agentstore.StatusActive, CreatedAt: time.Now(),
		}
		if err := s.Store.CreateAgent(ctx, newMeta, s.Profile.Lambda1Base); err != nil {
			return uuid.UUID{}, "", "", err
		}
		s.Sessions.Bind(sessionKey, u)
		return u, *agentIDStr, identity.KeyHint(key.Plaintext), nil
	}

	if apiKey == nil || !identity.VerifyAPIKey(*apiKey, meta.APIKeySalt, meta.APIKeyHash) {
		s.Audit.AuthFailure(ctx, &meta.UUID, "invalid or missing api key")
		return uuid.UUID{}, "", "", apperr.New(apperr.CodeAuthRequired, "a valid api_key is required for an existing agent")
	}
	s.Sessions.Bind(sessionKey, meta.UUID)
	return meta.UUID, meta.AgentID, "", nil
}

func (s *Service) learningContext(ctx context.Context, agentID uuid.UUID) []string {
	discoveries, err := s.Knowledge.Search(ctx, knowledge.Query{Limit: s.Cfg.LearningContextLimit})
	if err != nil {
		slog.Warn("governance: learning context lookup failed", "agent", agentID, "error", err)
		return nil
	}
	out := make([]string, 0, len(discoveries))
	for _, d := range discoveries {
		out = append(out, d.Summary)
	}
	return out
}

func guidanceFor(v dynamics.Verdict, riskScore float64, paused bool) string {
	if paused {
		return "circuit breaker engaged: risk or coherence crossed a safety threshold; request a dialectic review or check direct_resume_if_safe"
	}
	if v == dynamics.VerdictPause {
		return "objective score below threshold; proceed with heightened caution on the next update"
	}
	if riskScore > 0.3 {
		return "proceeding, but risk is elevated; monitor the next few updates"
	}
	return "proceeding normally"
}

func coherenceEntryValue(c float64, unavailable bool) float64 {
	if unavailable {
		return -1
	}
	return c
}

func clip01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
