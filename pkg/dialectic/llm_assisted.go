package dialectic

import (
	"context"

	"github.com/google/uuid"

	"github.com/sentinel-governance/sentinel/pkg/apperr"
	"github.com/sentinel-governance/sentinel/pkg/collaborator"
)

// CollaboratorAuthor is the synthetic author UUID recorded against
// antithesis/synthesis messages generated by the external model
// collaborator rather than submitted by a peer agent (spec.md §4.10:
// "for agents operating without peers").
var CollaboratorAuthor = uuid.Nil

// RunLLMAssisted executes the full single-agent variant in one call:
// thesis (by the paused agent), antithesis and synthesis (generated by
// the collaborator), and the paused agent's own synthesis accepting the
// collaborator's proposal — after which the same convergence and
// hard-limits safety check spec.md §4.9 defines apply unchanged. This
// collapses what would otherwise be three separate submit_* RPCs into
// one orchestrated exchange, since there is no second agent to submit
// the other side.
func (p *Protocol) RunLLMAssisted(ctx context.Context, sessionID uuid.UUID, thesisReasoning, thesisRootCause string, thesisConditions []string, observed map[string]float64) (*Outcome, error) {
	s, err := p.LoadSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if s.ReviewerID != nil {
		return nil, apperr.New(apperr.CodeInvalidArgument, "session has an assigned peer reviewer; use submit_thesis/antithesis/synthesis instead")
	}

	if _, err := p.Submit(ctx, sessionID, SubmitInput{
		Type: MsgThesis, AuthorID: s.PausedAgentID, Reasoning: thesisReasoning,
		RootCause: thesisRootCause, ProposedConditions: thesisConditions, ObservedMetrics: observed,
	}); err != nil {
		return nil, err
	}

	antithesis, err := p.collab.Dialectic(ctx, collaborator.DialecticRequest{
		Kind: "antithesis", ThesisContent: thesisReasoning, ObservedMetrics: observed,
	})
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeStorageError, "collaborator antithesis", err)
	}
	if _, err := p.Submit(ctx, sessionID, SubmitInput{
		Type: MsgAntithesis, AuthorID: CollaboratorAuthor, Reasoning: strJoin(antithesis.Concerns),
		RootCause: antithesis.RootCause, ProposedConditions: antithesis.ProposedConditions,
	}); err != nil {
		return nil, err
	}

	synthesis, err := p.collab.Dialectic(ctx, collaborator.DialecticRequest{
		Kind: "synthesis", ThesisContent: thesisReasoning, PriorReasoning: antithesis.Concerns, ObservedMetrics: observed,
	})
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeStorageError, "collaborator synthesis", err)
	}
	agrees := synthesis.Agrees
	if _, err := p.Submit(ctx, sessionID, SubmitInput{
		Type: MsgSynthesis, AuthorID: CollaboratorAuthor, RootCause: synthesis.RootCause,
		ProposedConditions: synthesis.ProposedConditions, Agrees: &agrees,
	}); err != nil {
		return nil, err
	}

	accept := true
	return p.Submit(ctx, sessionID, SubmitInput{
		Type: MsgSynthesis, AuthorID: s.PausedAgentID, RootCause: synthesis.RootCause,
		ProposedConditions: synthesis.ProposedConditions, Agrees: &accept,
	})
}

func strJoin(parts []string) string {
	out := ""
	for idx, p := range parts {
		if idx > 0 {
			out += "; "
		}
		out += p
	}
	return out
}
