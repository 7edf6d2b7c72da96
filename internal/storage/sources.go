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

// CreateSource inserts a new Source.
func (db *DB) CreateSource(ctx context.Context, s model.Source) (model.Source, error) {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}
	_, err := db.pool.Exec(ctx,
		`INSERT INTO sources (id, name, type, base_trust, independence_cluster_id, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		s.ID, s.Name, string(s.Type), s.BaseTrust, s.IndependenceClusterID, s.CreatedAt,
	)
	if err != nil {
		return model.Source{}, fmt.Errorf("storage: create source: %w", err)
	}
	return s, nil
}

// GetSource retrieves a Source by ID.
func (db *DB) GetSource(ctx context.Context, id uuid.UUID) (model.Source, error) {
	var s model.Source
	err := db.pool.QueryRow(ctx,
		`SELECT id, name, type, base_trust, independence_cluster_id, created_at
		 FROM sources WHERE id = $1`, id,
	).Scan(&s.ID, &s.Name, &s.Type, &s.BaseTrust, &s.IndependenceClusterID, &s.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Source{}, fmt.Errorf("storage: source %s: %w", id, ErrNotFound)
		}
		return model.Source{}, fmt.Errorf("storage: get source: %w", err)
	}
	return s, nil
}

// GetSourcesByIDs retrieves many Sources in one round trip, keyed by ID.
// The Scorer (C8) does not use it; it looks sources up one at a time with
// GetSource.
func (db *DB) GetSourcesByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]model.Source, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := db.pool.Query(ctx,
		`SELECT id, name, type, base_trust, independence_cluster_id, created_at
		 FROM sources WHERE id = ANY($1)`, ids,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: get sources batch: %w", err)
	}
	defer rows.Close()

	out := make(map[uuid.UUID]model.Source, len(ids))
	for rows.Next() {
		var s model.Source
		if err := rows.Scan(&s.ID, &s.Name, &s.Type, &s.BaseTrust, &s.IndependenceClusterID, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("storage: scan source: %w", err)
		}
		out[s.ID] = s
	}
	return out, rows.Err()
}

// UpdateSourceTrust changes a Source's base_trust and records the change in
// source_trust_changes within the same transaction, so trust history stays
// auditable (spec.md §3's "scores carry the weights they saw" invariant).
func (db *DB) UpdateSourceTrust(ctx context.Context, sourceID uuid.UUID, newTrust float64, reason string) (model.TrustChange, error) {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return model.TrustChange{}, fmt.Errorf("storage: begin update source trust tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var oldTrust float64
	err = tx.QueryRow(ctx, `SELECT base_trust FROM sources WHERE id = $1 FOR UPDATE`, sourceID).Scan(&oldTrust)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.TrustChange{}, fmt.Errorf("storage: source %s: %w", sourceID, ErrNotFound)
		}
		return model.TrustChange{}, fmt.Errorf("storage: lock source: %w", err)
	}

	if _, err := tx.Exec(ctx, `UPDATE sources SET base_trust = $1 WHERE id = $2`, newTrust, sourceID); err != nil {
		return model.TrustChange{}, fmt.Errorf("storage: update source trust: %w", err)
	}

	change := model.TrustChange{
		ID:        uuid.New(),
		SourceID:  sourceID,
		OldTrust:  oldTrust,
		NewTrust:  newTrust,
		ChangedAt: time.Now().UTC(),
		Reason:    reason,
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO source_trust_changes (id, source_id, old_trust, new_trust, changed_at, reason)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		change.ID, change.SourceID, change.OldTrust, change.NewTrust, change.ChangedAt, change.Reason,
	)
	if err != nil {
		return model.TrustChange{}, fmt.Errorf("storage: insert trust change: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return model.TrustChange{}, fmt.Errorf("storage: commit update source trust tx: %w", err)
	}
	return change, nil
}

// ListTrustChanges returns a Source's trust history, most recent first.
func (db *DB) ListTrustChanges(ctx context.Context, sourceID uuid.UUID) ([]model.TrustChange, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, source_id, old_trust, new_trust, changed_at, reason
		 FROM source_trust_changes WHERE source_id = $1 ORDER BY changed_at DESC`, sourceID,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list trust changes: %w", err)
	}
	defer rows.Close()

	var out []model.TrustChange
	for rows.Next() {
		var c model.TrustChange
		if err := rows.Scan(&c.ID, &c.SourceID, &c.OldTrust, &c.NewTrust, &c.ChangedAt, &c.Reason); err != nil {
			return nil, fmt.Errorf("storage: scan trust change: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
