// Package lifecycle runs the background archival sweep: agents idle
// past a configured threshold transition active -> archived (spec.md
// §4.6/§6). Grounded on the teacher's pkg/cleanup/service.go
// (context-cancelable background loop with an initial immediate run),
// adapted to a cron-scheduled sweep via robfig/cron/v3 since the
// archival cadence is expressed as a schedule (spec.md §4 "SPEC_FULL
// supplement") rather than a fixed ticker interval.
package lifecycle

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/sentinel-governance/sentinel/pkg/agentstore"
)

// Sweeper periodically archives agents that have been inactive for
// longer than ArchiveAfter.
type Sweeper struct {
	store        *agentstore.Store
	archiveAfter time.Duration
	cron         *cron.Cron
	entryID      cron.EntryID
}

// New constructs a Sweeper. schedule is a six-field cron expression
// whose first field is seconds (robfig/cron/v3's WithSeconds parser),
// or a descriptor such as "@every 1h"; five-field expressions are
// rejected.
func New(store *agentstore.Store, archiveAfter time.Duration, schedule string) (*Sweeper, error) {
	c := cron.New(cron.WithSeconds())
	s := &Sweeper{store: store, archiveAfter: archiveAfter, cron: c}
	id, err := c.AddFunc(schedule, func() { s.runOnce(context.Background()) })
	if err != nil {
		return nil, err
	}
	s.entryID = id
	return s, nil
}

// Start launches the cron scheduler, running one sweep immediately
// first (matching the teacher's "run once at startup, then on the
// ticker" pattern).
func (s *Sweeper) Start(ctx context.Context) {
	s.runOnce(ctx)
	s.cron.Start()
	slog.Info("lifecycle: archival sweeper started", "archive_after", s.archiveAfter)
}

// Stop halts the scheduler and waits for any in-flight sweep to finish.
func (s *Sweeper) Stop() {
	stopCtx := s.cron.Stop()
	<-stopCtx.Done()
	slog.Info("lifecycle: archival sweeper stopped")
}

func (s *Sweeper) runOnce(ctx context.Context) {
	cutoff := time.Now().Add(-s.archiveAfter)
	ids, err := s.store.InactiveSince(ctx, cutoff)
	if err != nil {
		slog.Error("lifecycle: query inactive agents failed", "error", err)
		return
	}
	archived := 0
	for _, id := range ids {
		if err := s.store.Transition(ctx, id, agentstore.Transition{
			From: agentstore.StatusActive, To: agentstore.StatusArchived, Reason: "inactivity_policy",
			Detail: map[string]any{"archive_after": s.archiveAfter.String()},
		}); err != nil {
			slog.Error("lifecycle: archive agent failed", "agent", id, "error", err)
			continue
		}
		archived++
	}
	if archived > 0 {
		slog.Info("lifecycle: archival sweep complete", "archived", archived)
	}
}
