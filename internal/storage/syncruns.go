package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/truthledger/ledger/internal/model"
)

// CreateSyncRun inserts a new pending SyncRun.
func (db *DB) CreateSyncRun(ctx context.Context, jobType model.JobType, correlationID string) (model.SyncRun, error) {
	run := model.SyncRun{
		ID:            uuid.New(),
		JobType:       jobType,
		State:         model.RunPending,
		CorrelationID: correlationID,
	}
	_, err := db.pool.Exec(ctx,
		`INSERT INTO sync_runs (id, job_type, state, records_processed, progress, correlation_id)
		 VALUES ($1, $2, $3, 0, $4, $5)`,
		run.ID, string(run.JobType), string(run.State), run.Progress, run.CorrelationID,
	)
	if err != nil {
		return model.SyncRun{}, fmt.Errorf("storage: create sync run: %w", err)
	}
	return run, nil
}

// StartSyncRun transitions a run from pending to running, enforcing the
// state machine (spec.md §4.11): only a pending run may start.
func (db *DB) StartSyncRun(ctx context.Context, id uuid.UUID) error {
	now := time.Now().UTC()
	tag, err := db.pool.Exec(ctx,
		`UPDATE sync_runs SET state = $1, started_at = $2 WHERE id = $3 AND state = $4`,
		string(model.RunRunning), now, id, string(model.RunPending),
	)
	if err != nil {
		return fmt.Errorf("storage: start sync run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return db.syncRunTransitionError(ctx, id, model.RunPending)
	}
	return nil
}

// UpdateSyncRunProgress advances a running run's progress counter. Safe to
// call frequently — Orchestrator workers call this after each processed
// unit, so it favors a lightweight UPDATE over a full row read.
func (db *DB) UpdateSyncRunProgress(ctx context.Context, id uuid.UUID, processed int, progress model.Progress) error {
	_, err := db.pool.Exec(ctx,
		`UPDATE sync_runs SET records_processed = $1, progress = $2 WHERE id = $3 AND state = $4`,
		processed, progress, id, string(model.RunRunning),
	)
	if err != nil {
		return fmt.Errorf("storage: update sync run progress: %w", err)
	}
	return nil
}

// CompleteSyncRun finalizes a run as success, failed, or cancelled. Calling
// this twice on an already-finalized run is idempotent success, mirroring
// the retry-safe completion pattern the Orchestrator relies on when a
// worker's terminal write races a context cancellation.
func (db *DB) CompleteSyncRun(ctx context.Context, id uuid.UUID, state model.RunState, runErr *string) error {
	if state != model.RunSuccess && state != model.RunFailed && state != model.RunCancelled {
		return fmt.Errorf("storage: complete sync run: invalid terminal state %q", state)
	}
	now := time.Now().UTC()
	tag, err := db.pool.Exec(ctx,
		`UPDATE sync_runs SET state = $1, completed_at = $2, error = $3 WHERE id = $4 AND state = $5`,
		string(state), now, runErr, id, string(model.RunRunning),
	)
	if err != nil {
		return fmt.Errorf("storage: complete sync run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return db.syncRunTransitionError(ctx, id, model.RunRunning)
	}
	return nil
}

// RecordMerkleRoot attaches a batch-proof root and the claim count it was
// computed over to a run, so the integrity stage's tamper-evidence check
// (spec.md §4.10) survives as a queryable SyncRun artifact rather than a
// log line. Callable at any run state, including after completion.
func (db *DB) RecordMerkleRoot(ctx context.Context, id uuid.UUID, root string, claimCount int) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE sync_runs SET merkle_root = $1, merkle_claim_count = $2 WHERE id = $3`,
		root, claimCount, id,
	)
	if err != nil {
		return fmt.Errorf("storage: record merkle root: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("storage: sync run %s: %w", id, ErrNotFound)
	}
	return nil
}

// syncRunTransitionError inspects the run's current state after a
// zero-row-affected transition attempt and decides whether that's an
// idempotent no-op (already in a terminal state) or a genuine conflict.
func (db *DB) syncRunTransitionError(ctx context.Context, id uuid.UUID, expected model.RunState) error {
	var state string
	err := db.pool.QueryRow(ctx, `SELECT state FROM sync_runs WHERE id = $1`, id).Scan(&state)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("storage: sync run %s: %w", id, ErrNotFound)
		}
		return fmt.Errorf("storage: sync run transition lookup: %w", err)
	}
	s := model.RunState(state)
	if s == model.RunSuccess || s == model.RunFailed || s == model.RunCancelled {
		return nil // already finalized: treat as idempotent
	}
	return fmt.Errorf("storage: sync run %s expected state %q, found %q: %w", id, expected, state, ErrConflict)
}

// GetSyncRun retrieves a SyncRun by ID.
func (db *DB) GetSyncRun(ctx context.Context, id uuid.UUID) (model.SyncRun, error) {
	var r model.SyncRun
	err := db.pool.QueryRow(ctx,
		`SELECT id, job_type, state, started_at, completed_at, records_processed, progress, error, correlation_id, merkle_root, merkle_claim_count
		 FROM sync_runs WHERE id = $1`, id,
	).Scan(&r.ID, &r.JobType, &r.State, &r.StartedAt, &r.CompletedAt, &r.Processed, &r.Progress, &r.Error, &r.CorrelationID, &r.MerkleRoot, &r.MerkleClaimCount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.SyncRun{}, fmt.Errorf("storage: sync run %s: %w", id, ErrNotFound)
		}
		return model.SyncRun{}, fmt.Errorf("storage: get sync run: %w", err)
	}
	return r, nil
}

// GetActiveSyncRun returns the currently pending-or-running run for a job
// type, if any — the check behind the Orchestrator's singleton-run
// enforcement (spec.md §5): at most one active run per job type.
func (db *DB) GetActiveSyncRun(ctx context.Context, jobType model.JobType) (model.SyncRun, error) {
	var r model.SyncRun
	err := db.pool.QueryRow(ctx,
		`SELECT id, job_type, state, started_at, completed_at, records_processed, progress, error, correlation_id, merkle_root, merkle_claim_count
		 FROM sync_runs WHERE job_type = $1 AND state IN ($2, $3)
		 ORDER BY started_at DESC NULLS FIRST LIMIT 1`,
		string(jobType), string(model.RunPending), string(model.RunRunning),
	).Scan(&r.ID, &r.JobType, &r.State, &r.StartedAt, &r.CompletedAt, &r.Processed, &r.Progress, &r.Error, &r.CorrelationID, &r.MerkleRoot, &r.MerkleClaimCount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.SyncRun{}, fmt.Errorf("storage: active sync run for %s: %w", jobType, ErrNotFound)
		}
		return model.SyncRun{}, fmt.Errorf("storage: get active sync run: %w", err)
	}
	return r, nil
}

// GetLastSuccessfulSyncRun returns the most recently started successful run
// for a job type, if any — the Scorer's (C8) watermark for incremental
// re-scoring: claims created after that run's start time haven't been
// covered by a completed score pass yet.
func (db *DB) GetLastSuccessfulSyncRun(ctx context.Context, jobType model.JobType) (model.SyncRun, error) {
	var r model.SyncRun
	err := db.pool.QueryRow(ctx,
		`SELECT id, job_type, state, started_at, completed_at, records_processed, progress, error, correlation_id, merkle_root, merkle_claim_count
		 FROM sync_runs WHERE job_type = $1 AND state = $2
		 ORDER BY started_at DESC NULLS LAST LIMIT 1`,
		string(jobType), string(model.RunSuccess),
	).Scan(&r.ID, &r.JobType, &r.State, &r.StartedAt, &r.CompletedAt, &r.Processed, &r.Progress, &r.Error, &r.CorrelationID, &r.MerkleRoot, &r.MerkleClaimCount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.SyncRun{}, fmt.Errorf("storage: last successful sync run for %s: %w", jobType, ErrNotFound)
		}
		return model.SyncRun{}, fmt.Errorf("storage: get last successful sync run: %w", err)
	}
	return r, nil
}

// ListRecentSyncRuns returns the most recent runs across all job types.
// No HTTP handler calls it; the run-control API has no list endpoint.
func (db *DB) ListRecentSyncRuns(ctx context.Context, limit int) ([]model.SyncRun, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.pool.Query(ctx,
		`SELECT id, job_type, state, started_at, completed_at, records_processed, progress, error, correlation_id, merkle_root, merkle_claim_count
		 FROM sync_runs ORDER BY started_at DESC NULLS FIRST LIMIT $1`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list recent sync runs: %w", err)
	}
	defer rows.Close()

	var out []model.SyncRun
	for rows.Next() {
		var r model.SyncRun
		if err := rows.Scan(&r.ID, &r.JobType, &r.State, &r.StartedAt, &r.CompletedAt, &r.Processed, &r.Progress, &r.Error, &r.CorrelationID, &r.MerkleRoot, &r.MerkleClaimCount); err != nil {
			return nil, fmt.Errorf("storage: scan sync run: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
