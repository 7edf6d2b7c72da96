package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/truthledger/ledger/internal/model"
)

// UpsertFieldLink points (entity, field_name) at the claim_key_hash that
// should answer GET /entities/{id}/field/{field} (spec.md §4.9, §6).
func (db *DB) UpsertFieldLink(ctx context.Context, entityID uuid.UUID, fieldName, claimKeyHash string) (model.FieldLink, error) {
	l := model.FieldLink{ID: uuid.New(), EntityID: entityID, FieldName: fieldName, ClaimKeyHash: &claimKeyHash}
	_, err := db.pool.Exec(ctx,
		`INSERT INTO field_links (id, entity_id, field_name, claim_key_hash)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (entity_id, field_name) DO UPDATE SET claim_key_hash = EXCLUDED.claim_key_hash`,
		l.ID, l.EntityID, l.FieldName, claimKeyHash,
	)
	if err != nil {
		return model.FieldLink{}, fmt.Errorf("storage: upsert field link: %w", err)
	}
	return l, nil
}

// GetFieldLink resolves (entity, field_name) to its claim_key_hash.
func (db *DB) GetFieldLink(ctx context.Context, entityID uuid.UUID, fieldName string) (model.FieldLink, error) {
	var l model.FieldLink
	err := db.pool.QueryRow(ctx,
		`SELECT id, entity_id, field_name, claim_key_hash FROM field_links
		 WHERE entity_id = $1 AND field_name = $2`, entityID, fieldName,
	).Scan(&l.ID, &l.EntityID, &l.FieldName, &l.ClaimKeyHash)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.FieldLink{}, fmt.Errorf("storage: field link %s/%s: %w", entityID, fieldName, ErrNotFound)
		}
		return model.FieldLink{}, fmt.Errorf("storage: get field link: %w", err)
	}
	return l, nil
}
