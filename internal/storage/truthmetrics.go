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

// UpsertTruthMetrics writes the Scorer's (C8) output for one claim. Always
// an upsert: a claim's metrics are recomputed whenever its bucket's
// evidence set changes, never appended to (spec.md §3.3 invariant 6 —
// re-running the Scorer on unchanged inputs must reproduce the same row).
func (db *DB) UpsertTruthMetrics(ctx context.Context, m model.TruthMetrics) (model.TruthMetrics, error) {
	if m.ComputedAt.IsZero() {
		m.ComputedAt = time.Now().UTC()
	}
	_, err := db.pool.Exec(ctx,
		`INSERT INTO truth_metrics (claim_id, truth_raw, support_score, contradiction_score,
		 independent_sources, recency_score, factors, computed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (claim_id) DO UPDATE SET
		   truth_raw = EXCLUDED.truth_raw,
		   support_score = EXCLUDED.support_score,
		   contradiction_score = EXCLUDED.contradiction_score,
		   independent_sources = EXCLUDED.independent_sources,
		   recency_score = EXCLUDED.recency_score,
		   factors = EXCLUDED.factors,
		   computed_at = EXCLUDED.computed_at`,
		m.ClaimID, m.TruthRaw, m.SupportScore, m.ContradictionScore,
		m.IndependentSources, m.RecencyScore, m.Factors, m.ComputedAt,
	)
	if err != nil {
		return model.TruthMetrics{}, fmt.Errorf("storage: upsert truth metrics: %w", err)
	}
	return m, nil
}

// GetTruthMetrics retrieves the TruthMetrics row for a claim.
func (db *DB) GetTruthMetrics(ctx context.Context, claimID uuid.UUID) (model.TruthMetrics, error) {
	var m model.TruthMetrics
	err := db.pool.QueryRow(ctx,
		`SELECT claim_id, truth_raw, support_score, contradiction_score, independent_sources,
		 recency_score, factors, computed_at FROM truth_metrics WHERE claim_id = $1`, claimID,
	).Scan(&m.ClaimID, &m.TruthRaw, &m.SupportScore, &m.ContradictionScore,
		&m.IndependentSources, &m.RecencyScore, &m.Factors, &m.ComputedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.TruthMetrics{}, fmt.Errorf("storage: truth metrics %s: %w", claimID, ErrNotFound)
		}
		return model.TruthMetrics{}, fmt.Errorf("storage: get truth metrics: %w", err)
	}
	return m, nil
}

// GetTruthMetricsByClaims batches TruthMetrics lookup for all claims in a
// bucket — the Display Calibrator (C9) needs every member's truth_raw to
// pick the displayed claim (spec.md §4.9).
func (db *DB) GetTruthMetricsByClaims(ctx context.Context, claimIDs []uuid.UUID) (map[uuid.UUID]model.TruthMetrics, error) {
	if len(claimIDs) == 0 {
		return nil, nil
	}
	rows, err := db.pool.Query(ctx,
		`SELECT claim_id, truth_raw, support_score, contradiction_score, independent_sources,
		 recency_score, factors, computed_at FROM truth_metrics WHERE claim_id = ANY($1)`, claimIDs,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: get truth metrics batch: %w", err)
	}
	defer rows.Close()

	out := make(map[uuid.UUID]model.TruthMetrics, len(claimIDs))
	for rows.Next() {
		var m model.TruthMetrics
		if err := rows.Scan(&m.ClaimID, &m.TruthRaw, &m.SupportScore, &m.ContradictionScore,
			&m.IndependentSources, &m.RecencyScore, &m.Factors, &m.ComputedAt); err != nil {
			return nil, fmt.Errorf("storage: scan truth metrics: %w", err)
		}
		out[m.ClaimID] = m
	}
	return out, rows.Err()
}
