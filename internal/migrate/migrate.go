// Package migrate runs the site-wide rebuild: every change in the legacy
// store is reconstructed into the note log by a bounded worker pool.
//
// Per-change outcomes are isolated. A change that cannot be rebuilt is
// counted and logged, never fatal to the run; transient storage errors are
// retried with exponential backoff before giving up.
package migrate

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"

	"github.com/relogdev/relog/internal/model"
	"github.com/relogdev/relog/internal/rebuild"
	"github.com/relogdev/relog/internal/reviewdb"
)

// Stats counts per-change outcomes of one migration run.
type Stats struct {
	Migrated   atomic.Int64 // rebuilt and published (or already identical)
	Skipped    atomic.Int64 // unreconstructible changes (no patch sets)
	Conflicted atomic.Int64 // lost the state marker race to a divergent writer
	Failed     atomic.Int64 // data, I/O, or invariant failures
}

// Summary renders the counters for logs.
func (s *Stats) Summary() string {
	return fmt.Sprintf("migrated=%d skipped=%d conflicted=%d failed=%d",
		s.Migrated.Load(), s.Skipped.Load(), s.Conflicted.Load(), s.Failed.Load())
}

// Migrator drives the site-wide rebuild.
type Migrator struct {
	review    *reviewdb.Store
	rebuilder *rebuild.Rebuilder
	workers   int

	// retries bounds backoff attempts per change. Exposed for tests.
	retries uint64
}

// New creates a Migrator. workers < 1 is clamped to 1.
func New(review *reviewdb.Store, rebuilder *rebuild.Rebuilder, workers int) *Migrator {
	if workers < 1 {
		workers = 1
	}
	return &Migrator{review: review, rebuilder: rebuilder, workers: workers, retries: 3}
}

// Run rebuilds every change, at most workers at a time. It returns an error
// only when the run itself cannot proceed (enumeration failure, context
// cancellation); per-change failures land in Stats.
func (m *Migrator) Run(ctx context.Context) (*Stats, error) {
	ids, err := m.review.ListChangeIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("enumerate changes: %w", err)
	}
	slog.Info("migration starting", "changes", len(ids), "workers", m.workers)
	start := time.Now()

	stats := &Stats{}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.workers)
	for _, id := range ids {
		id := id
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			m.migrateOne(gctx, id, stats)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return stats, err
	}
	slog.Info("migration finished", "elapsed", time.Since(start), "result", stats.Summary())
	return stats, nil
}

// migrateOne rebuilds a single change, classifying the outcome. Invariant
// panics from the rebuild pipeline are contained here so one corrupt change
// cannot take down the whole run.
func (m *Migrator) migrateOne(ctx context.Context, id model.ChangeID, stats *Stats) {
	err := m.withRetry(ctx, id, func() error {
		return m.rebuildRecovering(ctx, id)
	})
	switch {
	case err == nil:
		stats.Migrated.Add(1)
	case rebuild.IsNoPatchSets(err):
		stats.Skipped.Add(1)
		slog.Warn("skipping change with no patch sets", "change", id)
	default:
		if _, ok := rebuild.AsConflicting(err); ok {
			stats.Conflicted.Add(1)
			slog.Warn("conflicting concurrent rebuild", "change", id, "error", err)
			return
		}
		stats.Failed.Add(1)
		slog.Error("rebuild failed", "change", id, "error", err)
	}
}

// rebuildRecovering converts invariant panics into errors so the worker
// pool survives them.
func (m *Migrator) rebuildRecovering(ctx context.Context, id model.ChangeID) (err error) {
	defer func() {
		if r := recover(); r != nil {
			if ie, ok := r.(*rebuild.InvariantError); ok {
				err = backoff.Permanent(fmt.Errorf("change %d: %w", id, ie))
				return
			}
			panic(r)
		}
	}()
	_, err = m.rebuilder.Rebuild(ctx, id)
	return err
}

// withRetry retries transient failures with exponential backoff. Outcomes
// that retrying cannot change are marked permanent before they get here or
// below.
func (m *Migrator) withRetry(ctx context.Context, id model.ChangeID, op func() error) error {
	attempt := 0
	wrapped := func() error {
		attempt++
		err := op()
		if err == nil {
			return nil
		}
		if rebuild.IsNoPatchSets(err) {
			return backoff.Permanent(err)
		}
		if _, ok := rebuild.AsConflicting(err); ok {
			return backoff.Permanent(err)
		}
		slog.Debug("retrying change", "change", id, "attempt", attempt, "error", err)
		return err
	}
	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), m.retries), ctx)
	return backoff.Retry(wrapped, bo)
}
