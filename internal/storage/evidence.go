package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/truthledger/ledger/internal/model"
)

// CreateEvidenceBatch bulk-inserts evidence rows produced by one
// Extractor (C5) pass over a document's snippets.
func (db *DB) CreateEvidenceBatch(ctx context.Context, evs []model.Evidence) error {
	if len(evs) == 0 {
		return nil
	}
	columns := []string{"id", "claim_id", "snippet_id", "quote", "stance", "confidence", "created_at"}
	rows := make([][]any, len(evs))
	for i, ev := range evs {
		id := ev.ID
		if id == uuid.Nil {
			id = uuid.New()
		}
		createdAt := ev.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		}
		rows[i] = []any{id, ev.ClaimID, ev.SnippetID, ev.Quote, string(ev.Stance), ev.Confidence, createdAt}
	}
	_, err := db.pool.CopyFrom(ctx, pgx.Identifier{"evidence"}, columns, pgx.CopyFromRows(rows))
	if err != nil {
		return fmt.Errorf("storage: copy evidence: %w", err)
	}
	return nil
}

// GetEvidenceByClaim returns all evidence backing a claim, most confident first.
func (db *DB) GetEvidenceByClaim(ctx context.Context, claimID uuid.UUID) ([]model.Evidence, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, claim_id, snippet_id, quote, stance, confidence, created_at
		 FROM evidence WHERE claim_id = $1 ORDER BY confidence DESC`, claimID,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: get evidence by claim: %w", err)
	}
	defer rows.Close()
	return scanEvidence(rows)
}

// GetEvidenceByClaims batches evidence lookup across many claims in one
// round trip, keyed by claim ID — used by the Scorer (C8) when re-scoring
// a whole conflict bucket at once.
func (db *DB) GetEvidenceByClaims(ctx context.Context, claimIDs []uuid.UUID) (map[uuid.UUID][]model.Evidence, error) {
	if len(claimIDs) == 0 {
		return nil, nil
	}
	rows, err := db.pool.Query(ctx,
		`SELECT id, claim_id, snippet_id, quote, stance, confidence, created_at
		 FROM evidence WHERE claim_id = ANY($1) ORDER BY confidence DESC`, claimIDs,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: get evidence batch: %w", err)
	}
	defer rows.Close()

	out := make(map[uuid.UUID][]model.Evidence)
	evs, err := scanEvidence(rows)
	if err != nil {
		return nil, err
	}
	for _, ev := range evs {
		out[ev.ClaimID] = append(out[ev.ClaimID], ev)
	}
	return out, nil
}

// CountEvidenceByClaim reports how many evidence rows back a claim — used
// by the integrity checker's orphan/coverage checks (spec.md §4.10).
func (db *DB) CountEvidenceByClaim(ctx context.Context, claimID uuid.UUID) (int, error) {
	var n int
	err := db.pool.QueryRow(ctx, `SELECT count(*) FROM evidence WHERE claim_id = $1`, claimID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("storage: count evidence: %w", err)
	}
	return n, nil
}

func scanEvidence(rows pgx.Rows) ([]model.Evidence, error) {
	var out []model.Evidence
	for rows.Next() {
		var ev model.Evidence
		if err := rows.Scan(&ev.ID, &ev.ClaimID, &ev.SnippetID, &ev.Quote, &ev.Stance, &ev.Confidence, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("storage: scan evidence: %w", err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}
