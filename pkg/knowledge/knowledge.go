// Package knowledge defines the contract the governance loop and the
// dialectic protocol use to store and retrieve shared discoveries
// (spec.md §4.11). The storage engine itself is an explicit non-goal
// (spec.md §1): this package only defines the interface and a
// Postgres-backed implementation of it, grounded on the teacher's
// services-over-a-typed-client pattern (pkg/services/event_service.go).
package knowledge

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/sentinel-governance/sentinel/pkg/apperr"
	"github.com/sentinel-governance/sentinel/pkg/database"
)

// Severity is the discovery severity level.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Status is the discovery lifecycle status (spec.md §3).
type Status string

const (
	StatusOpen     Status = "open"
	StatusResolved Status = "resolved"
	StatusArchived Status = "archived"
)

// Discovery is one shared knowledge-graph entry.
type Discovery struct {
	ID        uuid.UUID `json:"id"`
	AuthorID  uuid.UUID `json:"author_id"`
	Timestamp time.Time `json:"timestamp"`
	Severity  Severity  `json:"severity"`
	Type      string    `json:"type"`
	Tags      []string  `json:"tags"`
	Summary   string    `json:"summary"`
	Details   string    `json:"details"`
	Status    Status    `json:"status"`
}

// Query filters Search results. Zero-valued fields are unconstrained.
type Query struct {
	Text     string
	Tags     []string
	Severity Severity
	Author   uuid.UUID
	Limit    int
}

// Store is the contract spec.md §4.11 requires: store, search,
// update_status, and the leave_note convenience wrapper. Implementations
// must be read-your-write for the author (spec.md: "visible to the
// author within their own subsequent searches") even though the engine
// as a whole is only eventually consistent for other readers.
type Store interface {
	Store(ctx context.Context, d Discovery) (uuid.UUID, error)
	Search(ctx context.Context, q Query) ([]Discovery, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status Status, updater uuid.UUID) error
	LeaveNote(ctx context.Context, author uuid.UUID, content string, tags []string) (uuid.UUID, error)
}

// PostgresStore is the default Store backed directly by the shared
// Postgres client — not a dedicated graph database, per spec.md §1's
// explicit non-goal.
type PostgresStore struct {
	db *database.Client
}

// NewPostgresStore constructs a Store over an existing database.Client.
func NewPostgresStore(db *database.Client) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Store(ctx context.Context, d Discovery) (uuid.UUID, error) {
	if d.Summary == "" {
		return uuid.UUID{}, apperr.New(apperr.CodeInvalidArgument, "discovery summary must not be empty")
	}
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	if d.Severity == "" {
		d.Severity = SeverityInfo
	}
	if d.Status == "" {
		d.Status = StatusOpen
	}
	if d.Timestamp.IsZero() {
		d.Timestamp = time.Now()
	}

	_, err := s.db.Pool.Exec(ctx, `
		INSERT INTO discoveries (id, author_uuid, timestamp, severity, type, tags, summary, details, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		d.ID, d.AuthorID, d.Timestamp, string(d.Severity), d.Type, d.Tags, d.Summary, d.Details, string(d.Status))
	if err != nil {
		return uuid.UUID{}, apperr.Wrap(apperr.CodeStorageError, "store discovery", err)
	}
	return d.ID, nil
}

func (s *PostgresStore) Search(ctx context.Context, q Query) ([]Discovery, error) {
	limit := q.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	sql := `SELECT id, author_uuid, timestamp, severity, type, tags, summary, details, status
	        FROM discoveries WHERE 1=1`
	args := []any{}
	n := 0
	next := func(v any) string {
		n++
		args = append(args, v)
		return fmt.Sprintf("$%d", n)
	}

	if q.Text != "" {
		sql += fmt.Sprintf(" AND (summary ILIKE %s OR details ILIKE %s)", next("%"+q.Text+"%"), next("%"+q.Text+"%"))
	}
	if len(q.Tags) > 0 {
		sql += fmt.Sprintf(" AND tags && %s", next(q.Tags))
	}
	if q.Severity != "" {
		sql += fmt.Sprintf(" AND severity = %s", next(string(q.Severity)))
	}
	if q.Author != uuid.Nil {
		sql += fmt.Sprintf(" AND author_uuid = %s", next(q.Author))
	}
	sql += fmt.Sprintf(" ORDER BY timestamp DESC LIMIT %s", next(limit))

	rows, err := s.db.Pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeStorageError, "search discoveries", err)
	}
	defer rows.Close()

	var out []Discovery
	for rows.Next() {
		var d Discovery
		var severity, status string
		if err := rows.Scan(&d.ID, &d.AuthorID, &d.Timestamp, &severity, &d.Type, &d.Tags, &d.Summary, &d.Details, &status); err != nil {
			return nil, apperr.Wrap(apperr.CodeStorageError, "scan discovery", err)
		}
		d.Severity = Severity(severity)
		d.Status = Status(status)
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Wrap(apperr.CodeStorageError, "iterate discoveries", err)
	}
	return out, nil
}

func (s *PostgresStore) UpdateStatus(ctx context.Context, id uuid.UUID, status Status, _ uuid.UUID) error {
	tag, err := s.db.Pool.Exec(ctx, `UPDATE discoveries SET status = $1 WHERE id = $2`, string(status), id)
	if err != nil {
		return apperr.Wrap(apperr.CodeStorageError, "update discovery status", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.New(apperr.CodeNotFound, "discovery not found")
	}
	return nil
}

func (s *PostgresStore) LeaveNote(ctx context.Context, author uuid.UUID, content string, tags []string) (uuid.UUID, error) {
	return s.Store(ctx, Discovery{
		AuthorID: author,
		Type:     "note",
		Tags:     tags,
		Summary:  content,
	})
}
