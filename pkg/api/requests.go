// Package api implements the HTTP transport boundary: one tagged
// request type per operation, a dispatch table keyed by operation
// name, and conversion of apperr.Error into transport-level JSON
// (spec.md §9: "define a tagged-variant request type per operation ...
// dispatch table keyed by operation name; unknown fields rejected").
// Grounded on the teacher's pkg/api/handlers.go (gin.Context-based
// handlers) and pkg/api/errors.go (service-error -> HTTP-status
// mapping), generalized from one hard-wired Gin route per handler to a
// declared dispatch table since this system's 19 operations share one
// shape (identity/auth, validated body, typed response).
package api

import "github.com/google/uuid"

// OnboardRequest is onboard's request body.
type OnboardRequest struct {
	DisplayName string `json:"display_name"`
	ModelHint   string `json:"model_hint"`
}

// ProcessUpdateRequest is process_update's request body (spec.md §6).
type ProcessUpdateRequest struct {
	AgentID      *string   `json:"agent_id"`
	APIKey       *string   `json:"api_key"`
	ResponseText string    `json:"response_text"`
	Complexity   float64   `json:"complexity"`
	Parameters   []float64 `json:"parameters"`
	EthicalDrift []float64 `json:"ethical_drift"`
}

// GetMetricsRequest is get_metrics's request body.
type GetMetricsRequest struct {
	AgentID *string `json:"agent_id"`
}

// GetHistoryRequest is get_history's request body.
type GetHistoryRequest struct {
	AgentID *string `json:"agent_id"`
	Limit   int     `json:"limit"`
}

// DirectResumeRequest is direct_resume_if_safe's request body.
type DirectResumeRequest struct {
	AgentID string `json:"agent_id"`
	APIKey  string `json:"api_key"`
}

// ReviewCandidateRequest is one reviewer candidate supplied by the
// caller in request_dialectic_review (spec.md §4.9: the governance
// loop knows current risk/coherence per agent, not this package).
type ReviewCandidateRequest struct {
	AgentID        string  `json:"agent_id"`
	Risk           float64 `json:"risk"`
	Coherence      float64 `json:"coherence"`
	TrackRecord    float64 `json:"track_record"`
	DomainAffinity float64 `json:"domain_affinity"`
}

// RequestDialecticReviewRequest is request_dialectic_review's request
// body.
type RequestDialecticReviewRequest struct {
	AgentID      string                   `json:"agent_id"`
	Reason       string                   `json:"reason"`
	ReviewerMode string                   `json:"reviewer_mode"`
	Candidates   []ReviewCandidateRequest `json:"candidates"`
}

// SubmitProtocolRequest is the shared body shape for
// submit_thesis/antithesis/synthesis.
type SubmitProtocolRequest struct {
	SessionID          string             `json:"session_id"`
	Author             string             `json:"author"`
	Reasoning          string             `json:"reasoning"`
	RootCause          string             `json:"root_cause"`
	ProposedConditions []string           `json:"proposed_conditions"`
	ObservedMetrics    map[string]float64 `json:"observed_metrics"`
	Agrees             *bool              `json:"agrees"`
}

// StoreDiscoveryRequest is store_discovery's request body.
type StoreDiscoveryRequest struct {
	Author   string   `json:"author"`
	Severity string   `json:"severity"`
	Type     string   `json:"type"`
	Tags     []string `json:"tags"`
	Summary  string   `json:"summary"`
	Details  string   `json:"details"`
}

// SearchDiscoveriesRequest is search_discoveries's request body.
type SearchDiscoveriesRequest struct {
	Text     string   `json:"text"`
	Tags     []string `json:"tags"`
	Severity string   `json:"severity"`
	Author   string   `json:"author"`
	Limit    int      `json:"limit"`
}

// LeaveNoteRequest is leave_note's request body.
type LeaveNoteRequest struct {
	Author  string   `json:"author"`
	Content string   `json:"content"`
	Tags    []string `json:"tags"`
}

// UpdateDiscoveryStatusRequest is update_discovery_status's request
// body.
type UpdateDiscoveryStatusRequest struct {
	ID      string `json:"id"`
	Status  string `json:"status"`
	Updater string `json:"updater"`
}

// ListAgentsRequest is list_agents's request body.
type ListAgentsRequest struct {
	Limit int `json:"limit"`
}

// AgentActionRequest is the shared body shape for archive/delete.
type AgentActionRequest struct {
	AgentID string `json:"agent_id"`
	Reason  string `json:"reason"`
}

// UpdateMetadataRequest is update_metadata's request body.
type UpdateMetadataRequest struct {
	AgentID string   `json:"agent_id"`
	Label   *string  `json:"label"`
	Tags    []string `json:"tags"`
	Notes   *string  `json:"notes"`
}

func parseUUID(s string) (uuid.UUID, error) { return uuid.Parse(s) }
