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

// CreateSnippetsBatch bulk-inserts snippets for a document using COPY,
// the established pattern for high-volume per-document writes.
func (db *DB) CreateSnippetsBatch(ctx context.Context, snippets []model.Snippet) error {
	if len(snippets) == 0 {
		return nil
	}
	columns := []string{"id", "document_id", "locator", "normalized_text", "snippet_hash", "snippet_type", "created_at"}
	rows := make([][]any, len(snippets))
	for i, s := range snippets {
		id := s.ID
		if id == uuid.Nil {
			id = uuid.New()
		}
		createdAt := s.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		}
		rows[i] = []any{id, s.DocumentID, s.Locator, s.NormalizedText, s.SnippetHash, string(s.Type), createdAt}
	}
	_, err := db.pool.CopyFrom(ctx, pgx.Identifier{"snippets"}, columns, pgx.CopyFromRows(rows))
	if err != nil {
		return fmt.Errorf("storage: copy snippets: %w", err)
	}
	return nil
}

// GetSnippetsByDocument returns all snippets for a document, ordered by locator.
func (db *DB) GetSnippetsByDocument(ctx context.Context, documentID uuid.UUID) ([]model.Snippet, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, document_id, locator, normalized_text, snippet_hash, snippet_type, created_at
		 FROM snippets WHERE document_id = $1 ORDER BY locator`, documentID,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: get snippets by document: %w", err)
	}
	defer rows.Close()

	var out []model.Snippet
	for rows.Next() {
		var s model.Snippet
		if err := rows.Scan(&s.ID, &s.DocumentID, &s.Locator, &s.NormalizedText, &s.SnippetHash, &s.Type, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("storage: scan snippet: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// GetSnippet retrieves a single snippet by ID — used when resolving
// Evidence.SnippetID for a quote lookup.
func (db *DB) GetSnippet(ctx context.Context, id uuid.UUID) (model.Snippet, error) {
	var s model.Snippet
	err := db.pool.QueryRow(ctx,
		`SELECT id, document_id, locator, normalized_text, snippet_hash, snippet_type, created_at
		 FROM snippets WHERE id = $1`, id,
	).Scan(&s.ID, &s.DocumentID, &s.Locator, &s.NormalizedText, &s.SnippetHash, &s.Type, &s.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Snippet{}, fmt.Errorf("storage: snippet %s: %w", id, ErrNotFound)
		}
		return model.Snippet{}, fmt.Errorf("storage: get snippet: %w", err)
	}
	return s, nil
}

// ListSnippetsMissingExtraction returns snippets attached to documents that
// have not yet produced any evidence — the Extractor's (C5) work queue.
func (db *DB) ListSnippetsMissingExtraction(ctx context.Context, limit int) ([]model.Snippet, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := db.pool.Query(ctx,
		`SELECT s.id, s.document_id, s.locator, s.normalized_text, s.snippet_hash, s.snippet_type, s.created_at
		 FROM snippets s
		 LEFT JOIN evidence e ON e.snippet_id = s.id
		 WHERE e.id IS NULL
		 ORDER BY s.created_at ASC
		 LIMIT $1`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list snippets missing extraction: %w", err)
	}
	defer rows.Close()

	var out []model.Snippet
	for rows.Next() {
		var s model.Snippet
		if err := rows.Scan(&s.ID, &s.DocumentID, &s.Locator, &s.NormalizedText, &s.SnippetHash, &s.Type, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("storage: scan snippet: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
