// Package audit implements the append-only, time-partitioned audit log
// spec.md §6/§7 requires ("security-relevant [errors], logged to
// audit"). Grounded on the teacher's pkg/events append-only event
// style, backed by the shared Postgres client and partitioned by range
// on occurred_at (pkg/database/migrations).
package audit

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/google/uuid"

	"github.com/sentinel-governance/sentinel/pkg/apperr"
	"github.com/sentinel-governance/sentinel/pkg/database"
)

// Entry is one audit record.
type Entry struct {
	AgentID *uuid.UUID
	Event   string
	Code    string
	Detail  map[string]any
}

// Log writes audit entries. Failures to write are logged but never
// propagated to the caller: audit is best-effort observability, not a
// transactional participant in the per-update write.
type Log struct {
	db *database.Client
}

// NewLog constructs a Log over an existing database.Client.
func NewLog(db *database.Client) *Log { return &Log{db: db} }

// Record appends one audit entry.
func (l *Log) Record(ctx context.Context, e Entry) {
	detail, err := json.Marshal(e.Detail)
	if err != nil {
		slog.Error("audit: marshal detail failed", "event", e.Event, "error", err)
		detail = []byte("{}")
	}
	_, err = l.db.Pool.Exec(ctx, `
		INSERT INTO audit (agent_uuid, event, code, detail)
		VALUES ($1, $2, $3, $4)`,
		e.AgentID, e.Event, e.Code, detail)
	if err != nil {
		slog.Error("audit: write failed", "event", e.Event, "error", err)
	}
}

// AuthFailure records a security-relevant auth failure (spec.md §7).
func (l *Log) AuthFailure(ctx context.Context, agentID *uuid.UUID, reason string) {
	l.Record(ctx, Entry{AgentID: agentID, Event: "auth_failure", Code: string(apperr.CodeAuthRequired), Detail: map[string]any{"reason": reason}})
}

// Instability records a dynamics-instability rollback (spec.md §4.2/§7).
func (l *Log) Instability(ctx context.Context, agentID uuid.UUID, field string, value float64) {
	l.Record(ctx, Entry{AgentID: &agentID, Event: "dynamics_instability", Code: string(apperr.CodeDynamicsInstability), Detail: map[string]any{"field": field, "value": value}})
}

// CircuitBreaker records a pause transition (spec.md §4.6).
func (l *Log) CircuitBreaker(ctx context.Context, agentID uuid.UUID, risk, coherence float64, voidActive bool) {
	l.Record(ctx, Entry{AgentID: &agentID, Event: "circuit_breaker_paused", Detail: map[string]any{
		"risk": risk, "coherence": coherence, "void_active": voidActive,
	}})
}

// DialecticResolved records a dialectic session's terminal outcome.
func (l *Log) DialecticResolved(ctx context.Context, sessionID uuid.UUID, agentID uuid.UUID, action string) {
	l.Record(ctx, Entry{AgentID: &agentID, Event: "dialectic_resolved", Detail: map[string]any{
		"session_id": sessionID, "action": action,
	}})
}
