package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/truthledger/ledger/internal/model"
)

// CreateEntity inserts a new Entity.
func (db *DB) CreateEntity(ctx context.Context, e model.Entity) (model.Entity, error) {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	_, err := db.pool.Exec(ctx,
		`INSERT INTO entities (id, entity_type, canonical_name, aliases) VALUES ($1, $2, $3, $4)`,
		e.ID, e.Type, e.Name, e.Aliases,
	)
	if err != nil {
		return model.Entity{}, fmt.Errorf("storage: create entity: %w", err)
	}
	return e, nil
}

// GetEntity retrieves an Entity by ID.
func (db *DB) GetEntity(ctx context.Context, id uuid.UUID) (model.Entity, error) {
	var e model.Entity
	err := db.pool.QueryRow(ctx,
		`SELECT id, entity_type, canonical_name, aliases FROM entities WHERE id = $1`, id,
	).Scan(&e.ID, &e.Type, &e.Name, &e.Aliases)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Entity{}, fmt.Errorf("storage: entity %s: %w", id, ErrNotFound)
		}
		return model.Entity{}, fmt.Errorf("storage: get entity: %w", err)
	}
	return e, nil
}

// ListEntities returns every Entity — the snapshot source for
// registry.Load, called once at the start of each pipeline run
// (spec.md §5).
func (db *DB) ListEntities(ctx context.Context) ([]model.Entity, error) {
	rows, err := db.pool.Query(ctx, `SELECT id, entity_type, canonical_name, aliases FROM entities ORDER BY canonical_name`)
	if err != nil {
		return nil, fmt.Errorf("storage: list entities: %w", err)
	}
	defer rows.Close()

	var out []model.Entity
	for rows.Next() {
		var e model.Entity
		if err := rows.Scan(&e.ID, &e.Type, &e.Name, &e.Aliases); err != nil {
			return nil, fmt.Errorf("storage: scan entity: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
