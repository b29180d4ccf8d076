// Package agentstore owns per-agent state S_a and metadata M_a
// (spec.md §3/§4.6): locked single-writer mutation, bounded histories,
// durable persistence, and the lifecycle status machine including the
// circuit breaker. Grounded directly on the teacher's
// pkg/queue/pool.go + pkg/queue/orphan.go (liveness-checked lock
// ownership, stale-lock reclamation, exponential-backoff acquire) and
// pkg/database/client.go (pgx-backed persistence).
package agentstore

import (
	"context"
	"encoding/json"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/sentinel-governance/sentinel/pkg/apperr"
	"github.com/sentinel-governance/sentinel/pkg/database"
	"github.com/sentinel-governance/sentinel/pkg/dynamics"
	"github.com/sentinel-governance/sentinel/pkg/fingerprint"
)

// MaxHistory is the default ring-buffer cap (spec.md §3: "capped to a
// ring of N (default 1000)").
const MaxHistory = 1000

// InitialE and InitialI seed a fresh agent's energy/information-integrity
// state at full trust rather than zero. The I term has no restoring force
// of its own (dI depends on I through beta_i*i*coherence - gammaI*i), so a
// zero start never recovers; E=I=1 also keeps Phi's -wI*(1-I) term from
// swamping the objective on the very first update (spec.md §8 scenario 1
// expects proceed on a fresh agent's first gentle update).
const (
	InitialE = 1.0
	InitialI = 1.0
)

// Status is an agent's lifecycle status (spec.md §3).
type Status string

const (
	StatusActive       Status = "active"
	StatusPaused       Status = "paused"
	StatusWaitingInput Status = "waiting_input"
	StatusArchived     Status = "archived"
	StatusDeleted      Status = "deleted"
)

// LifecycleEvent is one append-only transition record (spec.md §3).
type LifecycleEvent struct {
	At     time.Time      `json:"at"`
	From   Status         `json:"from"`
	To     Status         `json:"to"`
	Reason string         `json:"reason"`
	Detail map[string]any `json:"detail,omitempty"`
}

// Metadata is M_a: the lifecycle record (spec.md §3).
type Metadata struct {
	UUID       uuid.UUID
	AgentID    string
	Label      string
	APIKeyHash string
	APIKeySalt string
	Status     Status
	CreatedAt  time.Time
	UpdatedAt  time.Time
	ParentUUID *uuid.UUID
	Tags       []string
	Notes      string
	Events     []LifecycleEvent
}

// HistoryEntry is one recorded update (spec.md §3).
type HistoryEntry struct {
	E, I, S, V float64
	Coherence  float64
	Risk       float64
	VoidActive bool
	Decision   dynamics.Verdict
	Timestamp  time.Time
}

// State is S_a: the thermodynamic state and governor/risk bookkeeping
// owned exclusively by the governance loop while the agent's lock is
// held (spec.md §3).
type State struct {
	UUID  uuid.UUID
	E, I, S, V float64
	Coherence          float64
	Risk               float64
	VoidActive         bool
	VoidThreshold      float64
	Lambda1            float64
	PIIntegral         float64
	UpdatesSinceVoid   int
	LastFingerprint    *fingerprint.Vector
	Regime             string
	RecordedAt         time.Time
	History            []HistoryEntry
}

// AsDynamicsState projects the four scalars the dynamics engine needs.
func (s *State) AsDynamicsState() dynamics.State {
	return dynamics.State{E: s.E, I: s.I, S: s.S, V: s.V}
}

// RecentV returns up to n most recent V values, newest last, for the
// adaptive void-threshold computation (spec.md §4.5).
func (s *State) RecentV(n int) []float64 {
	if n > len(s.History) {
		n = len(s.History)
	}
	out := make([]float64, 0, n)
	for _, h := range s.History[len(s.History)-n:] {
		out = append(out, h.V)
	}
	return out
}

// RecentVoid returns up to n most recent void_active flags, newest
// last, for the governor's moving-average void-frequency window
// (spec.md §4.4).
func (s *State) RecentVoid(n int) []bool {
	if n > len(s.History) {
		n = len(s.History)
	}
	out := make([]bool, 0, n)
	for _, h := range s.History[len(s.History)-n:] {
		out = append(out, h.VoidActive)
	}
	return out
}

// appendHistory appends an entry and caps the ring at MaxHistory,
// dropping the oldest (spec.md §3: "histories are monotonically
// appended with strictly non-decreasing timestamps").
func (s *State) appendHistory(e HistoryEntry) {
	s.History = append(s.History, e)
	if len(s.History) > MaxHistory {
		s.History = s.History[len(s.History)-MaxHistory:]
	}
}

// Store persists agent state and metadata behind a per-agent lock.
type Store struct {
	db          *database.Client
	processID   string
	staleAfter  time.Duration
	backoffBase time.Duration
	maxRetries  int
}

// Config tunes locking (spec.md §4.6).
type Config struct {
	ProcessID   string
	StaleAfter  time.Duration
	BackoffBase time.Duration
	MaxRetries  int
}

// New constructs a Store.
func New(db *database.Client, cfg Config) *Store {
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 10 * time.Second
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 200 * time.Millisecond
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 6
	}
	return &Store{db: db, processID: cfg.ProcessID, staleAfter: cfg.StaleAfter, backoffBase: cfg.BackoffBase, maxRetries: cfg.MaxRetries}
}

// Lock is a held write lock on one agent. Release must be called on
// every exit path (spec.md §4.6: "Releases are guaranteed on every exit
// path").
type Lock struct {
	store *Store
	agent uuid.UUID
	held  bool
}

// Release unlocks the agent. Safe to call multiple times.
func (l *Lock) Release(ctx context.Context) {
	if l == nil || !l.held {
		return
	}
	l.held = false
	_, err := l.store.db.Pool.Exec(ctx,
		`UPDATE agent_state SET lock_owner = NULL, lock_acquired_at = NULL WHERE uuid = $1 AND lock_owner = $2`,
		l.agent, l.store.processID)
	if err != nil {
		// Best-effort: a stuck lock is recovered by the next acquirer's
		// liveness check once it goes stale.
		_ = err
	}
}

// Acquire takes the write lock for agentID, reclaiming a stale lock if
// the current owner has not refreshed it within staleAfter (the
// "liveness check" spec.md §4.6 requires — no distributed process
// registry is assumed, so freshness of the heartbeat timestamp is the
// liveness signal, matching the teacher's orphan-detection threshold
// check in pkg/queue/orphan.go). Retries with exponential backoff
// backoffBase*2^k (0.2*2^k seconds with the default 200ms base), bounded
// by MaxRetries; on exhaustion returns a Busy error with a RetryAfter
// hint.
func (s *Store) Acquire(ctx context.Context, agentID uuid.UUID) (*Lock, error) {
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		ok, err := s.tryAcquire(ctx, agentID)
		if err != nil {
			return nil, err
		}
		if ok {
			return &Lock{store: s, agent: agentID, held: true}, nil
		}
		if attempt == s.maxRetries {
			break
		}
		delay := time.Duration(float64(s.backoffBase) * math.Pow(2, float64(attempt)))
		select {
		case <-ctx.Done():
			return nil, apperr.Wrap(apperr.CodeBusy, "lock acquire cancelled", ctx.Err())
		case <-time.After(delay):
		}
	}
	return nil, apperr.New(apperr.CodeBusy, "agent is locked by another writer").WithRetryAfter(s.backoffBase)
}

func (s *Store) tryAcquire(ctx context.Context, agentID uuid.UUID) (bool, error) {
	tx, err := s.db.Pool.Begin(ctx)
	if err != nil {
		return false, apperr.Wrap(apperr.CodeStorageError, "begin lock tx", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var owner *string
	var acquiredAt *time.Time
	err = tx.QueryRow(ctx, `SELECT lock_owner, lock_acquired_at FROM agent_state WHERE uuid = $1 FOR UPDATE`, agentID).
		Scan(&owner, &acquiredAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return false, apperr.New(apperr.CodeNotFound, "agent not found")
		}
		return false, apperr.Wrap(apperr.CodeStorageError, "read lock row", err)
	}

	stale := owner == nil || acquiredAt == nil || time.Since(*acquiredAt) > s.staleAfter
	if !stale {
		return false, nil
	}

	if _, err := tx.Exec(ctx, `UPDATE agent_state SET lock_owner = $1, lock_acquired_at = now() WHERE uuid = $2`, s.processID, agentID); err != nil {
		return false, apperr.Wrap(apperr.CodeStorageError, "write lock row", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return false, apperr.Wrap(apperr.CodeStorageError, "commit lock tx", err)
	}
	return true, nil
}

// CreateAgent inserts a brand-new agent row and its initial state row
// (E=InitialE, I=InitialI, the given lambda1) in one transaction (spec.md §4.7: "the key is established at creation
// time").
func (s *Store) CreateAgent(ctx context.Context, m Metadata, initialLambda1 float64) error {
	tx, err := s.db.Pool.Begin(ctx)
	if err != nil {
		return apperr.Wrap(apperr.CodeStorageError, "begin create tx", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	metaJSON, _ := json.Marshal(struct{}{})
	lineageJSON, _ := json.Marshal([]uuid.UUID{})
	eventsJSON, err := json.Marshal(m.Events)
	if err != nil {
		return apperr.Wrap(apperr.CodeStorageError, "marshal lifecycle events", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO agents (uuid, agent_id, label, api_key_hash, api_key_salt, status, created_at, updated_at, parent_uuid, tags, notes, metadata, lineage, lifecycle_events)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$7,$8,$9,$10,$11,$12,$13)`,
		m.UUID, m.AgentID, m.Label, m.APIKeyHash, m.APIKeySalt, string(m.Status), m.CreatedAt,
		m.ParentUUID, m.Tags, m.Notes, metaJSON, lineageJSON, eventsJSON)
	if err != nil {
		return apperr.Wrap(apperr.CodeStorageError, "insert agent", err)
	}

	historyJSON, _ := json.Marshal([]HistoryEntry{})
	_, err = tx.Exec(ctx, `
		INSERT INTO agent_state (uuid, e, i, lambda1, regime, history, recorded_at)
		VALUES ($1, $2, $3, $4, 'linear', $5, now())`,
		m.UUID, InitialE, InitialI, initialLambda1, historyJSON)
	if err != nil {
		return apperr.Wrap(apperr.CodeStorageError, "insert agent_state", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return apperr.Wrap(apperr.CodeStorageError, "commit create tx", err)
	}
	return nil
}

// LoadState reads S_a. Must be called only while holding the agent's
// lock (spec.md §3: "owned exclusively by the governance loop ...
// mutated only while holding a's lock").
func (s *Store) LoadState(ctx context.Context, agentID uuid.UUID) (*State, error) {
	var st State
	st.UUID = agentID
	var historyJSON []byte
	var lastFP []float64

	err := s.db.Pool.QueryRow(ctx, `
		SELECT e, i, s, v, coherence, risk, void_active, void_threshold, lambda1, pi_integral,
		       updates_since_void, last_fingerprint, regime, recorded_at, history
		FROM agent_state WHERE uuid = $1`, agentID).
		Scan(&st.E, &st.I, &st.S, &st.V, &st.Coherence, &st.Risk, &st.VoidActive, &st.VoidThreshold,
			&st.Lambda1, &st.PIIntegral, &st.UpdatesSinceVoid, &lastFP, &st.Regime, &st.RecordedAt, &historyJSON)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, apperr.New(apperr.CodeNotFound, "agent not found")
		}
		return nil, apperr.Wrap(apperr.CodeStorageError, "load agent state", err)
	}

	if len(lastFP) == fingerprint.Dim {
		var v fingerprint.Vector
		copy(v[:], lastFP)
		st.LastFingerprint = &v
	}

	if len(historyJSON) > 0 {
		if err := json.Unmarshal(historyJSON, &st.History); err != nil {
			return nil, apperr.Wrap(apperr.CodeStorageError, "unmarshal history", err)
		}
	}
	return &st, nil
}

// LoadMetadata reads M_a by UUID.
func (s *Store) LoadMetadata(ctx context.Context, agentID uuid.UUID) (*Metadata, error) {
	return s.loadMetadata(ctx, `uuid = $1`, agentID)
}

// LoadMetadataByAgentID reads M_a by its human-facing agent_id.
func (s *Store) LoadMetadataByAgentID(ctx context.Context, agentID string) (*Metadata, error) {
	return s.loadMetadata(ctx, `agent_id = $1`, agentID)
}

func (s *Store) loadMetadata(ctx context.Context, where string, arg any) (*Metadata, error) {
	var m Metadata
	var status string
	var eventsJSON []byte

	err := s.db.Pool.QueryRow(ctx, `
		SELECT uuid, agent_id, label, api_key_hash, api_key_salt, status, created_at, updated_at, parent_uuid, tags, notes, lifecycle_events
		FROM agents WHERE `+where, arg).
		Scan(&m.UUID, &m.AgentID, &m.Label, &m.APIKeyHash, &m.APIKeySalt, &status, &m.CreatedAt, &m.UpdatedAt,
			&m.ParentUUID, &m.Tags, &m.Notes, &eventsJSON)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, apperr.New(apperr.CodeNotFound, "agent not found")
		}
		return nil, apperr.Wrap(apperr.CodeStorageError, "load agent metadata", err)
	}
	m.Status = Status(status)
	if len(eventsJSON) > 0 {
		if err := json.Unmarshal(eventsJSON, &m.Events); err != nil {
			return nil, apperr.Wrap(apperr.CodeStorageError, "unmarshal lifecycle events", err)
		}
	}
	return &m, nil
}

// Update is what one accepted governance-loop step persists: the new
// state, the appended history entry, and — when non-nil — a lifecycle
// status transition. All three commit together or not at all (spec.md
// §7: "Per-update writes are atomic").
type Update struct {
	State      State
	NewEntry   HistoryEntry
	Transition *Transition
}

// Transition is an append-only lifecycle-event write (spec.md §3/§4.6).
type Transition struct {
	From   Status
	To     Status
	Reason string
	Detail map[string]any
}

// Persist writes an Update atomically: state scalars, bookkeeping,
// capped history, and (if present) a metadata status transition plus
// its lifecycle event.
func (s *Store) Persist(ctx context.Context, u Update) error {
	st := u.State
	st.appendHistory(u.NewEntry)

	historyJSON, err := json.Marshal(st.History)
	if err != nil {
		return apperr.Wrap(apperr.CodeStorageError, "marshal history", err)
	}

	var lastFP []float64
	if st.LastFingerprint != nil {
		lastFP = st.LastFingerprint[:]
	}

	tx, err := s.db.Pool.Begin(ctx)
	if err != nil {
		return apperr.Wrap(apperr.CodeStorageError, "begin persist tx", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		UPDATE agent_state SET
			e=$2, i=$3, s=$4, v=$5, coherence=$6, risk=$7, void_active=$8, void_threshold=$9,
			lambda1=$10, pi_integral=$11, updates_since_void=$12, last_fingerprint=$13, regime=$14,
			recorded_at=now(), history=$15
		WHERE uuid = $1`,
		st.UUID, st.E, st.I, st.S, st.V, st.Coherence, st.Risk, st.VoidActive, st.VoidThreshold,
		st.Lambda1, st.PIIntegral, st.UpdatesSinceVoid, lastFP, st.Regime, historyJSON)
	if err != nil {
		return apperr.Wrap(apperr.CodeStorageError, "update agent_state", err)
	}

	if u.Transition != nil {
		ev := LifecycleEvent{At: time.Now(), From: u.Transition.From, To: u.Transition.To, Reason: u.Transition.Reason, Detail: u.Transition.Detail}
		if err := s.appendLifecycleEventTx(ctx, tx, st.UUID, u.Transition.To, ev); err != nil {
			return err
		}
	} else {
		if _, err := tx.Exec(ctx, `UPDATE agents SET updated_at = now() WHERE uuid = $1`, st.UUID); err != nil {
			return apperr.Wrap(apperr.CodeStorageError, "touch agent updated_at", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return apperr.Wrap(apperr.CodeStorageError, "commit persist tx", err)
	}
	return nil
}

// Transition applies a standalone lifecycle transition (e.g. resume via
// dialectic, archive, delete) not tied to a dynamics update.
func (s *Store) Transition(ctx context.Context, agentID uuid.UUID, t Transition) error {
	tx, err := s.db.Pool.Begin(ctx)
	if err != nil {
		return apperr.Wrap(apperr.CodeStorageError, "begin transition tx", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	ev := LifecycleEvent{At: time.Now(), From: t.From, To: t.To, Reason: t.Reason, Detail: t.Detail}
	if err := s.appendLifecycleEventTx(ctx, tx, agentID, t.To, ev); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return apperr.Wrap(apperr.CodeStorageError, "commit transition tx", err)
	}
	return nil
}

func (s *Store) appendLifecycleEventTx(ctx context.Context, tx pgx.Tx, agentID uuid.UUID, to Status, ev LifecycleEvent) error {
	var existing []byte
	if err := tx.QueryRow(ctx, `SELECT lifecycle_events FROM agents WHERE uuid = $1 FOR UPDATE`, agentID).Scan(&existing); err != nil {
		if err == pgx.ErrNoRows {
			return apperr.New(apperr.CodeNotFound, "agent not found")
		}
		return apperr.Wrap(apperr.CodeStorageError, "read lifecycle events", err)
	}
	var events []LifecycleEvent
	if len(existing) > 0 {
		if err := json.Unmarshal(existing, &events); err != nil {
			return apperr.Wrap(apperr.CodeStorageError, "unmarshal lifecycle events", err)
		}
	}
	events = append(events, ev)
	encoded, err := json.Marshal(events)
	if err != nil {
		return apperr.Wrap(apperr.CodeStorageError, "marshal lifecycle events", err)
	}
	if _, err := tx.Exec(ctx, `UPDATE agents SET status = $1, updated_at = now(), lifecycle_events = $2 WHERE uuid = $3`, string(to), encoded, agentID); err != nil {
		return apperr.Wrap(apperr.CodeStorageError, "write lifecycle transition", err)
	}
	return nil
}

// ListAgents returns a lifecycle summary of every agent, newest first.
func (s *Store) ListAgents(ctx context.Context, limit int) ([]Metadata, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := s.db.Pool.Query(ctx, `
		SELECT uuid, agent_id, label, api_key_hash, api_key_salt, status, created_at, updated_at, parent_uuid, tags, notes, lifecycle_events
		FROM agents ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeStorageError, "list agents", err)
	}
	defer rows.Close()

	var out []Metadata
	for rows.Next() {
		var m Metadata
		var status string
		var eventsJSON []byte
		if err := rows.Scan(&m.UUID, &m.AgentID, &m.Label, &m.APIKeyHash, &m.APIKeySalt, &status, &m.CreatedAt, &m.UpdatedAt, &m.ParentUUID, &m.Tags, &m.Notes, &eventsJSON); err != nil {
			return nil, apperr.Wrap(apperr.CodeStorageError, "scan agent", err)
		}
		m.Status = Status(status)
		if len(eventsJSON) > 0 {
			_ = json.Unmarshal(eventsJSON, &m.Events)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// MetadataUpdate carries the caller-editable subset of M_a (spec.md §6
// "update_metadata"): label, tags, and notes. A nil pointer leaves the
// corresponding column unchanged.
type MetadataUpdate struct {
	Label *string
	Tags  []string
	Notes *string
}

// UpdateMetadata applies a partial metadata edit.
func (s *Store) UpdateMetadata(ctx context.Context, agentID uuid.UUID, u MetadataUpdate) error {
	m, err := s.LoadMetadata(ctx, agentID)
	if err != nil {
		return err
	}
	label := m.Label
	if u.Label != nil {
		label = *u.Label
	}
	tags := m.Tags
	if u.Tags != nil {
		tags = u.Tags
	}
	notes := m.Notes
	if u.Notes != nil {
		notes = *u.Notes
	}
	_, err = s.db.Pool.Exec(ctx, `UPDATE agents SET label=$1, tags=$2, notes=$3, updated_at=now() WHERE uuid=$4`, label, tags, notes, agentID)
	if err != nil {
		return apperr.Wrap(apperr.CodeStorageError, "update agent metadata", err)
	}
	return nil
}

// InactiveSince returns the UUIDs of agents whose metadata was last
// touched before cutoff and whose status is active, for the lifecycle
// archival sweep (spec.md §4.6).
func (s *Store) InactiveSince(ctx context.Context, cutoff time.Time) ([]uuid.UUID, error) {
	rows, err := s.db.Pool.Query(ctx, `SELECT uuid FROM agents WHERE status = 'active' AND updated_at < $1`, cutoff)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeStorageError, "query inactive agents", err)
	}
	defer rows.Close()
	var out []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, apperr.Wrap(apperr.CodeStorageError, "scan inactive agent", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
