// Package dialectic implements the three-phase (thesis/antithesis/
// synthesis) recovery protocol between a paused agent and a reviewer
// (spec.md §4.9), including reviewer selection, convergence detection,
// the hard-limits safety check, and the single-agent LLM-assisted
// variant (spec.md §4.10). Grounded on the teacher's
// pkg/database/client.go transactional-write pattern for session/
// message persistence and pkg/agent/llm_client.go's interface boundary
// for the collaborator-backed variant.
package dialectic

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/sentinel-governance/sentinel/pkg/apperr"
	"github.com/sentinel-governance/sentinel/pkg/collaborator"
	"github.com/sentinel-governance/sentinel/pkg/database"
)

// Phase is a dialectic session's current state (spec.md §4.9).
type Phase string

const (
	PhaseThesis     Phase = "thesis"
	PhaseAntithesis Phase = "antithesis"
	PhaseSynthesis  Phase = "synthesis"
	PhaseResolved   Phase = "resolved"
	PhaseEscalated  Phase = "escalated"
	PhaseFailed     Phase = "failed"
)

// MessageType is the kind of one submitted message.
type MessageType string

const (
	MsgThesis     MessageType = "thesis"
	MsgAntithesis MessageType = "antithesis"
	MsgSynthesis  MessageType = "synthesis"
)

// Message is one append-only protocol turn (spec.md §4.9).
type Message struct {
	Ordinal            int
	Type               MessageType
	AuthorID           uuid.UUID
	Reasoning          string
	ProposedConditions []string
	RootCause          string
	ObservedMetrics    map[string]float64
	Agrees             *bool
	Signature          string
	Timestamp          time.Time
}

// Action is the terminal outcome of a converged session.
type Action string

const (
	ActionResume   Action = "resume"
	ActionBlock    Action = "block"
	ActionEscalate Action = "escalate"
)

// Resolution is the structured terminal record (spec.md §4.9).
type Resolution struct {
	Action     Action   `json:"action"`
	Conditions []string `json:"conditions"`
}

// Session is a dialectic session record (spec.md §4.9).
type Session struct {
	SessionID     uuid.UUID
	PausedAgentID uuid.UUID
	ReviewerID    *uuid.UUID
	Phase         Phase
	Rounds        int
	CreatedAt     time.Time
	UpdatedAt     time.Time
	ResolvedAt    *time.Time
	Resolution    *Resolution
}

// Config tunes reviewer selection, round limits, and authority scoring
// (spec.md §4.9: documented defaults, alternative weights permitted).
type Config struct {
	MaxRounds            int           `yaml:"max_rounds"`
	ReviewerHealthRiskMax float64      `yaml:"reviewer_health_risk_max"`
	ReviewerCoherenceMin  float64      `yaml:"reviewer_coherence_min"`
	RecentReviewWindow    time.Duration `yaml:"recent_review_window"`
	AuthorityHealth       float64      `yaml:"authority_health"`
	AuthorityTrackRecord  float64      `yaml:"authority_track_record"`
	AuthorityDomain       float64      `yaml:"authority_domain"`
	AuthorityFreshness    float64      `yaml:"authority_freshness"`
	HMACSecretEnv         string       `yaml:"hmac_secret_env"`
}

// DefaultConfig returns spec.md §4.9's documented defaults.
func DefaultConfig() Config {
	return Config{
		MaxRounds:             5,
		ReviewerHealthRiskMax: 0.40,
		ReviewerCoherenceMin:  0.50,
		RecentReviewWindow:    24 * time.Hour,
		AuthorityHealth:       0.4,
		AuthorityTrackRecord:  0.3,
		AuthorityDomain:       0.2,
		AuthorityFreshness:    0.1,
		HMACSecretEnv:         "SENTINEL_DIALECTIC_HMAC_SECRET",
	}
}

// Validate fails fast on an internally inconsistent Config.
func (c Config) Validate() error {
	if c.MaxRounds <= 0 {
		return fmt.Errorf("dialectic: max_rounds must be positive, got %d", c.MaxRounds)
	}
	sum := c.AuthorityHealth + c.AuthorityTrackRecord + c.AuthorityDomain + c.AuthorityFreshness
	if sum <= 0 {
		return fmt.Errorf("dialectic: authority weights must sum to a positive value")
	}
	return nil
}

// Candidate is a reviewer-pool entry supplied by the caller (the
// governance loop knows current risk/coherence per agent; this package
// only scores and selects — it never reaches across agent locks itself,
// per spec.md §5's locking discipline).
type Candidate struct {
	AgentID      uuid.UUID
	Risk         float64
	Coherence    float64
	TrackRecord  float64 // historical successful-review rate in [0,1]
	DomainAffinity float64 // [0,1], caller-supplied similarity score
	LastReviewedAt *time.Time // this paused agent, if reviewed before
}

// Protocol orchestrates dialectic sessions.
type Protocol struct {
	db      *database.Client
	cfg     Config
	signer  *Signer
	collab  collaborator.ModelCollaborator
	rand    *rand.Rand
}

// New constructs a Protocol.
func New(db *database.Client, cfg Config, hmacSecret string, collab collaborator.ModelCollaborator) *Protocol {
	return &Protocol{db: db, cfg: cfg, signer: NewSigner(hmacSecret), collab: collab, rand: rand.New(rand.NewSource(1))}
}

// SelectReviewer picks a reviewer from the healthy pool by weighted
// random draw on authority score (spec.md §4.9). Returns
// apperr.CodeNoReviewerAvailable if the pool is empty after filtering.
func (p *Protocol) SelectReviewer(paused uuid.UUID, pool []Candidate) (uuid.UUID, error) {
	var healthy []Candidate
	for _, c := range pool {
		if c.AgentID == paused {
			continue
		}
		if c.Risk >= p.cfg.ReviewerHealthRiskMax || c.Coherence < p.cfg.ReviewerCoherenceMin {
			continue
		}
		if c.LastReviewedAt != nil && time.Since(*c.LastReviewedAt) < p.cfg.RecentReviewWindow {
			continue
		}
		healthy = append(healthy, c)
	}
	if len(healthy) == 0 {
		return uuid.UUID{}, apperr.New(apperr.CodeNoReviewerAvailable, "no healthy reviewer available")
	}

	scores := make([]float64, len(healthy))
	var total float64
	for idx, c := range healthy {
		health := 1 - c.Risk
		freshness := 1.0
		if c.LastReviewedAt != nil {
			age := time.Since(*c.LastReviewedAt)
			if age < p.cfg.RecentReviewWindow {
				freshness = age.Seconds() / p.cfg.RecentReviewWindow.Seconds()
			}
		}
		score := p.cfg.AuthorityHealth*health + p.cfg.AuthorityTrackRecord*c.TrackRecord +
			p.cfg.AuthorityDomain*c.DomainAffinity + p.cfg.AuthorityFreshness*freshness
		if score < 0 {
			score = 0
		}
		scores[idx] = score
		total += score
	}

	if total <= 0 {
		return healthy[p.rand.Intn(len(healthy))].AgentID, nil
	}
	draw := p.rand.Float64() * total
	var cum float64
	for idx, s := range scores {
		cum += s
		if draw <= cum {
			return healthy[idx].AgentID, nil
		}
	}
	return healthy[len(healthy)-1].AgentID, nil
}

// RequestReview creates a new session. When reviewerID is nil the
// session is LLM-assisted (spec.md §4.10): there is no human-equivalent
// peer, and antithesis/synthesis turns are generated by the
// collaborator instead of submitted by a second agent.
func (p *Protocol) RequestReview(ctx context.Context, paused uuid.UUID, reviewerID *uuid.UUID) (*Session, error) {
	s := &Session{
		SessionID:     uuid.New(),
		PausedAgentID: paused,
		ReviewerID:    reviewerID,
		Phase:         PhaseThesis,
		CreatedAt:     time.Now(),
		UpdatedAt:     time.Now(),
	}
	_, err := p.db.Pool.Exec(ctx, `
		INSERT INTO dialectic_sessions (session_id, paused_uuid, reviewer_uuid, phase, rounds, created_at, updated_at)
		VALUES ($1,$2,$3,$4,0,$5,$5)`,
		s.SessionID, s.PausedAgentID, s.ReviewerID, string(s.Phase), s.CreatedAt)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeStorageError, "create dialectic session", err)
	}
	return s, nil
}

// LoadSession reads a session by ID.
func (p *Protocol) LoadSession(ctx context.Context, id uuid.UUID) (*Session, error) {
	var s Session
	var phase string
	var resolutionAction *string
	var resolutionConditions []string
	err := p.db.Pool.QueryRow(ctx, `
		SELECT session_id, paused_uuid, reviewer_uuid, phase, rounds, created_at, updated_at, resolved_at,
		       resolution->>'action', resolution->'conditions'
		FROM dialectic_sessions WHERE session_id = $1`, id).
		Scan(&s.SessionID, &s.PausedAgentID, &s.ReviewerID, &phase, &s.Rounds, &s.CreatedAt, &s.UpdatedAt, &s.ResolvedAt,
			&resolutionAction, &resolutionConditions)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, apperr.New(apperr.CodeNotFound, "dialectic session not found")
		}
		return nil, apperr.Wrap(apperr.CodeStorageError, "load dialectic session", err)
	}
	s.Phase = Phase(phase)
	if resolutionAction != nil {
		s.Resolution = &Resolution{Action: Action(*resolutionAction), Conditions: resolutionConditions}
	}
	return &s, nil
}

// LoadMessages reads every message for a session, ordinal ascending.
func (p *Protocol) LoadMessages(ctx context.Context, id uuid.UUID) ([]Message, error) {
	rows, err := p.db.Pool.Query(ctx, `
		SELECT ordinal, type, author_uuid, content, signature, timestamp
		FROM dialectic_messages WHERE session_id = $1 ORDER BY ordinal ASC`, id)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeStorageError, "load dialectic messages", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		var typ string
		var content messageContent
		if err := rows.Scan(&m.Ordinal, &typ, &m.AuthorID, &content, &m.Signature, &m.Timestamp); err != nil {
			return nil, apperr.Wrap(apperr.CodeStorageError, "scan dialectic message", err)
		}
		m.Type = MessageType(typ)
		m.Reasoning = content.Reasoning
		m.ProposedConditions = content.ProposedConditions
		m.RootCause = content.RootCause
		m.ObservedMetrics = content.ObservedMetrics
		m.Agrees = content.Agrees
		out = append(out, m)
	}
	return out, rows.Err()
}

// sameConditions reports whether two proposed-conditions sets match
// (spec.md §4.9: "matching root_cause and proposed_conditions").
// Order-insensitive, case-insensitive trimmed comparison.
func sameConditions(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	norm := func(in []string) map[string]int {
		m := make(map[string]int, len(in))
		for _, s := range in {
			m[strings.ToLower(strings.TrimSpace(s))]++
		}
		return m
	}
	ma, mb := norm(a), norm(b)
	if len(ma) != len(mb) {
		return false
	}
	for k, v := range ma {
		if mb[k] != v {
			return false
		}
	}
	return true
}

func sameRootCause(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}
