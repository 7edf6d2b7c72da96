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

// UpsertConflictGroup inserts or updates a ConflictGroup row, keyed by its
// immutable claim_key_hash (spec.md §4.6). The Conflict Grouper re-derives
// claim_count, conflict_present, and factual_status every time new claims
// land in the bucket, so this is always an upsert, never an insert-only.
func (db *DB) UpsertConflictGroup(ctx context.Context, g model.ConflictGroup) (model.ConflictGroup, error) {
	now := time.Now().UTC()
	if g.CreatedAt.IsZero() {
		g.CreatedAt = now
	}
	g.UpdatedAt = now
	_, err := db.pool.Exec(ctx,
		`INSERT INTO conflict_groups (claim_key_hash, entity_id, attribute_id, scope, claim_count,
		 conflict_present, factual_status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (claim_key_hash) DO UPDATE SET
		   claim_count = EXCLUDED.claim_count,
		   conflict_present = EXCLUDED.conflict_present,
		   factual_status = EXCLUDED.factual_status,
		   updated_at = EXCLUDED.updated_at`,
		g.ClaimKeyHash, g.EntityID, g.AttributeID, map[string]any(g.Scope), g.ClaimCount,
		g.ConflictPresent, string(g.FactualStatus), g.CreatedAt, g.UpdatedAt,
	)
	if err != nil {
		return model.ConflictGroup{}, fmt.Errorf("storage: upsert conflict group: %w", err)
	}
	return g, nil
}

// GetConflictGroup retrieves a ConflictGroup by its claim_key_hash — the
// primary lookup behind the Query API's /facts/{claim_key_hash} endpoint
// (spec.md §6).
func (db *DB) GetConflictGroup(ctx context.Context, claimKeyHash string) (model.ConflictGroup, error) {
	var g model.ConflictGroup
	var scope map[string]any
	err := db.pool.QueryRow(ctx,
		`SELECT claim_key_hash, entity_id, attribute_id, scope, claim_count, conflict_present,
		 factual_status, created_at, updated_at
		 FROM conflict_groups WHERE claim_key_hash = $1`, claimKeyHash,
	).Scan(&g.ClaimKeyHash, &g.EntityID, &g.AttributeID, &scope, &g.ClaimCount, &g.ConflictPresent,
		&g.FactualStatus, &g.CreatedAt, &g.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.ConflictGroup{}, fmt.Errorf("storage: conflict group %s: %w", claimKeyHash, ErrNotFound)
		}
		return model.ConflictGroup{}, fmt.Errorf("storage: get conflict group: %w", err)
	}
	g.Scope = scope
	return g, nil
}

// ListConflictGroupsByEntity returns all buckets for an entity — used by
// the Display Calibrator (C9) when resolving a field-link lookup across
// several attributes at once.
func (db *DB) ListConflictGroupsByEntity(ctx context.Context, entityID uuid.UUID) ([]model.ConflictGroup, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT claim_key_hash, entity_id, attribute_id, scope, claim_count, conflict_present,
		 factual_status, created_at, updated_at
		 FROM conflict_groups WHERE entity_id = $1 ORDER BY updated_at DESC`, entityID,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list conflict groups by entity: %w", err)
	}
	defer rows.Close()

	var out []model.ConflictGroup
	for rows.Next() {
		var g model.ConflictGroup
		var scope map[string]any
		if err := rows.Scan(&g.ClaimKeyHash, &g.EntityID, &g.AttributeID, &scope, &g.ClaimCount,
			&g.ConflictPresent, &g.FactualStatus, &g.CreatedAt, &g.UpdatedAt); err != nil {
			return nil, fmt.Errorf("storage: scan conflict group: %w", err)
		}
		g.Scope = scope
		out = append(out, g)
	}
	return out, rows.Err()
}

// ListConflictGroupsNeedingReview returns buckets flagged needs_review —
// the worklist an operator dashboard would page through (spec.md §4.6).
func (db *DB) ListConflictGroupsNeedingReview(ctx context.Context, limit int) ([]model.ConflictGroup, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.pool.Query(ctx,
		`SELECT claim_key_hash, entity_id, attribute_id, scope, claim_count, conflict_present,
		 factual_status, created_at, updated_at
		 FROM conflict_groups WHERE factual_status = $1 ORDER BY updated_at DESC LIMIT $2`,
		string(model.StatusNeedsReview), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list conflict groups needing review: %w", err)
	}
	defer rows.Close()

	var out []model.ConflictGroup
	for rows.Next() {
		var g model.ConflictGroup
		var scope map[string]any
		if err := rows.Scan(&g.ClaimKeyHash, &g.EntityID, &g.AttributeID, &scope, &g.ClaimCount,
			&g.ConflictPresent, &g.FactualStatus, &g.CreatedAt, &g.UpdatedAt); err != nil {
			return nil, fmt.Errorf("storage: scan conflict group: %w", err)
		}
		g.Scope = scope
		out = append(out, g)
	}
	return out, rows.Err()
}
