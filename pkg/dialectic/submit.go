package dialectic

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/sentinel-governance/sentinel/pkg/apperr"
)

// SubmitInput is one caller-submitted protocol turn (spec.md §4.9's
// submit_thesis/antithesis/synthesis operations, unified: the dispatch
// table in pkg/api picks the operation, this package validates that the
// submitted Type matches the session's current phase).
type SubmitInput struct {
	Type               MessageType
	AuthorID           uuid.UUID
	Reasoning          string
	ProposedConditions []string
	RootCause          string
	ObservedMetrics    map[string]float64
	Agrees             *bool
}

// Outcome is the result of one Submit call (spec.md §6:
// "{phase, converged, rounds}").
type Outcome struct {
	Session   *Session
	Converged bool
}

// Submit validates and applies one protocol turn, advancing the
// session's phase and, on convergence, running the hard-limits safety
// check and recording the terminal resolution (spec.md §4.9).
func (p *Protocol) Submit(ctx context.Context, sessionID uuid.UUID, in SubmitInput) (*Outcome, error) {
	s, err := p.LoadSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	switch s.Phase {
	case PhaseResolved, PhaseEscalated, PhaseFailed:
		return nil, apperr.New(apperr.CodeWrongPhase, "dialectic session has already terminated")
	}

	if err := p.checkTransitionAllowed(s, in); err != nil {
		return nil, err
	}

	msgs, err := p.LoadMessages(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	ordinal := len(msgs)

	content := messageContent{
		Reasoning:          in.Reasoning,
		ProposedConditions: in.ProposedConditions,
		RootCause:          in.RootCause,
		ObservedMetrics:    in.ObservedMetrics,
		Agrees:             in.Agrees,
	}
	contentJSON, err := json.Marshal(content)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeStorageError, "marshal message content", err)
	}
	ts := time.Now()
	sig := p.signer.Sign(in.AuthorID, sessionID, string(contentJSON), ts)

	if _, err := p.db.Pool.Exec(ctx, `
		INSERT INTO dialectic_messages (session_id, ordinal, type, author_uuid, content, signature, timestamp)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		sessionID, ordinal, string(in.Type), in.AuthorID, content, sig, ts); err != nil {
		return nil, apperr.Wrap(apperr.CodeStorageError, "insert dialectic message", err)
	}

	nextPhase := s.Phase
	rounds := s.Rounds
	converged := false
	var resolution *Resolution

	switch in.Type {
	case MsgThesis:
		nextPhase = PhaseAntithesis
	case MsgAntithesis:
		nextPhase = PhaseSynthesis
	case MsgSynthesis:
		rounds++
		allMsgs := append(msgs, Message{Type: in.Type, AuthorID: in.AuthorID, RootCause: in.RootCause, ProposedConditions: in.ProposedConditions, Agrees: in.Agrees})
		if converges(allMsgs, s.PausedAgentID, s.ReviewerID) {
			converged = true
			verdict := CheckSafety(latestSynthesisConditions(allMsgs))
			if verdict.Safe {
				nextPhase = PhaseResolved
				resolution = &Resolution{Action: ActionResume, Conditions: latestSynthesisConditions(allMsgs)}
			} else {
				nextPhase = PhaseResolved
				resolution = &Resolution{Action: ActionBlock, Conditions: verdict.Reasons}
			}
		} else if rounds >= p.cfg.MaxRounds {
			nextPhase = PhaseEscalated
			resolution = &Resolution{Action: ActionEscalate}
		}
	}

	if err := p.updateSessionPhase(ctx, sessionID, nextPhase, rounds, resolution); err != nil {
		return nil, err
	}

	s.Phase = nextPhase
	s.Rounds = rounds
	s.Resolution = resolution
	if nextPhase == PhaseResolved || nextPhase == PhaseEscalated {
		now := time.Now()
		s.ResolvedAt = &now
	}
	return &Outcome{Session: s, Converged: converged}, nil
}

func (p *Protocol) checkTransitionAllowed(s *Session, in SubmitInput) error {
	switch in.Type {
	case MsgThesis:
		if s.Phase != PhaseThesis {
			return apperr.New(apperr.CodeWrongPhase, "session is not awaiting a thesis")
		}
		if in.AuthorID != s.PausedAgentID {
			return apperr.New(apperr.CodeAuthRequired, "only the paused agent may submit the thesis")
		}
	case MsgAntithesis:
		if s.Phase != PhaseAntithesis {
			return apperr.New(apperr.CodeWrongPhase, "session is not awaiting an antithesis")
		}
		if s.ReviewerID != nil && in.AuthorID != *s.ReviewerID {
			return apperr.New(apperr.CodeAuthRequired, "only the assigned reviewer may submit the antithesis")
		}
	case MsgSynthesis:
		if s.Phase != PhaseSynthesis {
			return apperr.New(apperr.CodeWrongPhase, "session is not awaiting synthesis")
		}
		allowed := in.AuthorID == s.PausedAgentID
		if s.ReviewerID != nil {
			allowed = allowed || in.AuthorID == *s.ReviewerID
		} else {
			allowed = allowed || in.AuthorID == CollaboratorAuthor
		}
		if !allowed {
			return apperr.New(apperr.CodeAuthRequired, "only a session participant may submit synthesis")
		}
	default:
		return apperr.New(apperr.CodeInvalidArgument, "unknown message type")
	}
	return nil
}

func (p *Protocol) updateSessionPhase(ctx context.Context, sessionID uuid.UUID, phase Phase, rounds int, resolution *Resolution) error {
	var resolutionJSON []byte
	var resolvedAt *time.Time
	if resolution != nil {
		var err error
		resolutionJSON, err = json.Marshal(resolution)
		if err != nil {
			return apperr.Wrap(apperr.CodeStorageError, "marshal resolution", err)
		}
		now := time.Now()
		resolvedAt = &now
	}
	_, err := p.db.Pool.Exec(ctx, `
		UPDATE dialectic_sessions SET phase=$1, rounds=$2, updated_at=now(), resolution=$3, resolved_at=$4
		WHERE session_id=$5`,
		string(phase), rounds, resolutionJSON, resolvedAt, sessionID)
	if err != nil {
		return apperr.Wrap(apperr.CodeStorageError, "update dialectic session", err)
	}
	return nil
}

// converges reports whether the most recent synthesis message from
// each of the two parties agrees, on matching root cause and proposed
// conditions (spec.md §4.9).
func converges(msgs []Message, paused uuid.UUID, reviewer *uuid.UUID) bool {
	var pausedMsg, reviewerMsg *Message
	for idx := len(msgs) - 1; idx >= 0; idx-- {
		m := msgs[idx]
		if m.Type != MsgSynthesis {
			continue
		}
		if m.AuthorID == paused && pausedMsg == nil {
			cp := m
			pausedMsg = &cp
		}
		if reviewer != nil && m.AuthorID == *reviewer && reviewerMsg == nil {
			cp := m
			reviewerMsg = &cp
		}
		if pausedMsg != nil && (reviewer == nil || reviewerMsg != nil) {
			break
		}
	}
	if pausedMsg == nil {
		return false
	}
	// Single-agent LLM-assisted sessions (reviewer == nil) converge on
	// the paused agent's own latest synthesis alone, since the
	// collaborator's synthesis turn is folded into that same message
	// exchange by RunLLMAssisted.
	if reviewer == nil {
		return pausedMsg.Agrees != nil && *pausedMsg.Agrees
	}
	if reviewerMsg == nil {
		return false
	}
	if pausedMsg.Agrees == nil || reviewerMsg.Agrees == nil || !*pausedMsg.Agrees || !*reviewerMsg.Agrees {
		return false
	}
	return sameRootCause(pausedMsg.RootCause, reviewerMsg.RootCause) && sameConditions(pausedMsg.ProposedConditions, reviewerMsg.ProposedConditions)
}

func latestSynthesisConditions(msgs []Message) []string {
	for idx := len(msgs) - 1; idx >= 0; idx-- {
		if msgs[idx].Type == MsgSynthesis {
			return msgs[idx].ProposedConditions
		}
	}
	return nil
}
