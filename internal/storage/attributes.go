package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/truthledger/ledger/internal/model"
)

// CreateAttribute inserts a new Attribute.
func (db *DB) CreateAttribute(ctx context.Context, a model.Attribute) (model.Attribute, error) {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	_, err := db.pool.Exec(ctx,
		`INSERT INTO attributes (id, canonical_name, value_type, canonical_unit, absolute_tolerance, relative_tolerance)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		a.ID, a.CanonicalName, string(a.ValueType), a.CanonicalUnit, a.AbsoluteTol, a.RelativeTol,
	)
	if err != nil {
		return model.Attribute{}, fmt.Errorf("storage: create attribute: %w", err)
	}
	return a, nil
}

// GetAttribute retrieves an Attribute by ID.
func (db *DB) GetAttribute(ctx context.Context, id uuid.UUID) (model.Attribute, error) {
	var a model.Attribute
	err := db.pool.QueryRow(ctx,
		`SELECT id, canonical_name, value_type, canonical_unit, absolute_tolerance, relative_tolerance
		 FROM attributes WHERE id = $1`, id,
	).Scan(&a.ID, &a.CanonicalName, &a.ValueType, &a.CanonicalUnit, &a.AbsoluteTol, &a.RelativeTol)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Attribute{}, fmt.Errorf("storage: attribute %s: %w", id, ErrNotFound)
		}
		return model.Attribute{}, fmt.Errorf("storage: get attribute: %w", err)
	}
	return a, nil
}

// ListAttributes returns every Attribute — the snapshot source for
// registry.Load (spec.md §5).
func (db *DB) ListAttributes(ctx context.Context) ([]model.Attribute, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, canonical_name, value_type, canonical_unit, absolute_tolerance, relative_tolerance
		 FROM attributes ORDER BY canonical_name`,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list attributes: %w", err)
	}
	defer rows.Close()

	var out []model.Attribute
	for rows.Next() {
		var a model.Attribute
		if err := rows.Scan(&a.ID, &a.CanonicalName, &a.ValueType, &a.CanonicalUnit, &a.AbsoluteTol, &a.RelativeTol); err != nil {
			return nil, fmt.Errorf("storage: scan attribute: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
