// Package orchestrator implements the Pipeline Orchestrator (spec.md
// §4.11, C11): a job registry over the ingest/extract/derive/score/
// integrity stages, singleton-run enforcement per job type, bounded
// concurrent worker pools, cooperative cancellation, and retry of
// transient storage errors.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/truthledger/ledger/internal/model"
	"github.com/truthledger/ledger/internal/storage"
)

// Default worker pool sizes per job type (spec.md §4.11 leaves exact
// concurrency implementer-defined; these mirror the fan-out/fan-in shape
// of each stage — ingest and score are I/O- and compute-heavy respectively,
// integrity runs alone so its checks see a consistent snapshot).
const (
	DefaultIngestWorkers    = 4
	DefaultExtractWorkers   = 8
	DefaultDeriveWorkers    = 4
	DefaultScoreWorkers     = 8
	DefaultIntegrityWorkers = 1
)

// Default retry policy for a unit's transient storage errors (spec.md §5).
// Overridable via SetRetryPolicy once config is loaded.
const (
	defaultRetryMaxAttempts = 3
	defaultRetryBaseDelay   = 100 * time.Millisecond
)

// JobSpec describes one registered stage: how to enumerate its work items
// and how to process a single item. Process is expected to perform its
// own storage writes; Orchestrator wraps each call in WithRetry so a
// transient serialization failure doesn't fail the whole run.
type JobSpec struct {
	JobType model.JobType
	Workers int
	// Fetch enumerates the work items for one run. Returning zero items is
	// not an error — the run simply completes having processed nothing.
	Fetch func(ctx context.Context) ([]any, error)
	// Process handles a single work item. Errors here count toward the
	// run's failure but do not themselves cancel sibling workers.
	Process func(ctx context.Context, item any) error
}

// Orchestrator runs registered JobSpecs as SyncRuns, enforcing that at
// most one run per job type is active at a time (spec.md §5).
type Orchestrator struct {
	db     *storage.DB
	logger *slog.Logger

	mu      sync.Mutex
	specs   map[model.JobType]JobSpec
	cancels map[uuid.UUID]context.CancelFunc

	retryMaxAttempts int
	retryBaseDelay   time.Duration
}

// New builds an Orchestrator bound to a storage handle.
func New(db *storage.DB, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		db:               db,
		logger:           logger,
		specs:            make(map[model.JobType]JobSpec),
		cancels:          make(map[uuid.UUID]context.CancelFunc),
		retryMaxAttempts: defaultRetryMaxAttempts,
		retryBaseDelay:   defaultRetryBaseDelay,
	}
}

// SetRetryPolicy overrides the per-unit retry policy applied to transient
// storage errors during execute. Call before Start; it is not safe to
// change while a run is in flight.
func (o *Orchestrator) SetRetryPolicy(maxAttempts int, baseDelay time.Duration) {
	if maxAttempts < 1 {
		maxAttempts = defaultRetryMaxAttempts
	}
	if baseDelay <= 0 {
		baseDelay = defaultRetryBaseDelay
	}
	o.retryMaxAttempts = maxAttempts
	o.retryBaseDelay = baseDelay
}

// Register adds or replaces the JobSpec for its JobType.
func (o *Orchestrator) Register(spec JobSpec) {
	if spec.Workers <= 0 {
		spec.Workers = 1
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.specs[spec.JobType] = spec
}

// Start launches a run for jobType in the background and returns its
// SyncRun immediately, in line with the run-control API's fire-and-poll
// shape (spec.md §6: POST /pipeline/jobs/{type} returns a run ID to poll).
// It refuses to start a second run of the same job type while one is
// already pending or running.
func (o *Orchestrator) Start(ctx context.Context, jobType model.JobType, correlationID string) (model.SyncRun, error) {
	o.mu.Lock()
	spec, ok := o.specs[jobType]
	o.mu.Unlock()
	if !ok {
		return model.SyncRun{}, fmt.Errorf("orchestrator: no job registered for type %q", jobType)
	}

	if active, err := o.db.GetActiveSyncRun(ctx, jobType); err == nil {
		return model.SyncRun{}, fmt.Errorf("orchestrator: job %q already active as run %s: %w", jobType, active.ID, storage.ErrConflict)
	} else if !errors.Is(err, storage.ErrNotFound) {
		return model.SyncRun{}, fmt.Errorf("orchestrator: check active run: %w", err)
	}

	run, err := o.db.CreateSyncRun(ctx, jobType, correlationID)
	if err != nil {
		return model.SyncRun{}, fmt.Errorf("orchestrator: create sync run: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	o.mu.Lock()
	o.cancels[run.ID] = cancel
	o.mu.Unlock()

	go o.execute(runCtx, run, spec, cancel)

	return run, nil
}

// Cancel requests cooperative cancellation of an active run. Workers
// observe ctx.Done() between items and stop picking up new work; it does
// not forcibly interrupt an in-flight Process call. Returns false if runID
// has no active cancellation (already finished, or unknown).
func (o *Orchestrator) Cancel(runID uuid.UUID) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	cancel, ok := o.cancels[runID]
	if !ok {
		return false
	}
	cancel()
	return true
}

func (o *Orchestrator) execute(ctx context.Context, run model.SyncRun, spec JobSpec, cancel context.CancelFunc) {
	defer func() {
		o.mu.Lock()
		delete(o.cancels, run.ID)
		o.mu.Unlock()
		cancel()
	}()

	if err := o.db.StartSyncRun(ctx, run.ID); err != nil {
		o.logger.Error("orchestrator: failed to start run", "run_id", run.ID, "job_type", spec.JobType, "error", err)
		return
	}

	items, err := spec.Fetch(ctx)
	if err != nil {
		o.finish(ctx, run.ID, model.RunFailed, err)
		return
	}

	total := len(items)
	if total == 0 {
		o.finish(ctx, run.ID, model.RunSuccess, nil)
		return
	}

	var processed, succeeded, failed atomic.Int32
	var progressMu sync.Mutex

	// Workers share spec.Workers slots via errgroup.SetLimit, but a unit's
	// error is never returned to the group: per spec.md §4.11/§7, a failed
	// unit is logged and its siblings keep running, so returning it here
	// (and letting errgroup cancel gCtx on the first one) would both stop
	// not-yet-started items and force the run to RunFailed regardless of
	// how many units already succeeded.
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(spec.Workers)

	for _, item := range items {
		g.Go(func() error {
			select {
			case <-ctx.Done():
				return nil
			default:
			}

			err := storage.WithRetry(gCtx, o.retryMaxAttempts, o.retryBaseDelay, func() error {
				return spec.Process(gCtx, item)
			})
			if err != nil {
				failed.Add(1)
				o.logger.Error("orchestrator: unit failed", "run_id", run.ID, "job_type", spec.JobType, "error", err)
			} else {
				succeeded.Add(1)
			}

			progressMu.Lock()
			n := processed.Add(1)
			_ = o.db.UpdateSyncRunProgress(ctx, run.ID, int(n), model.Progress{Current: int(n), Total: total})
			progressMu.Unlock()

			return nil
		})
	}

	_ = g.Wait()

	var cause error
	if n := failed.Load(); n > 0 {
		cause = fmt.Errorf("orchestrator: %d of %d units failed", n, total)
	}

	switch {
	case ctx.Err() != nil:
		o.finish(ctx, run.ID, model.RunCancelled, ctx.Err())
	case succeeded.Load() > 0:
		o.finish(ctx, run.ID, model.RunSuccess, cause)
	default:
		o.finish(ctx, run.ID, model.RunFailed, cause)
	}
}

func (o *Orchestrator) finish(ctx context.Context, runID uuid.UUID, state model.RunState, cause error) {
	var msg *string
	if cause != nil {
		s := cause.Error()
		msg = &s
	}
	// Completion must land even if the run's own context was cancelled —
	// use a fresh background context bounded by a short timeout so a
	// cancelled run still gets a terminal state recorded.
	completeCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
	defer done()
	if err := o.db.CompleteSyncRun(completeCtx, runID, state, msg); err != nil {
		o.logger.Error("orchestrator: failed to complete run", "run_id", runID, "state", state, "error", err)
	}
}
