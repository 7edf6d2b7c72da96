package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/truthledger/ledger/internal/model"
)

// CreateDocument inserts a Document. Callers are expected to have already
// deduplicated on (source_id, content_hash) — GetDocumentByHash exists for
// that check — so a unique-constraint violation here surfaces as
// ErrConflict rather than being silently absorbed.
func (db *DB) CreateDocument(ctx context.Context, d model.Document) (model.Document, error) {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	if d.RetrievedAt.IsZero() {
		d.RetrievedAt = time.Now().UTC()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}
	_, err := db.pool.Exec(ctx,
		`INSERT INTO documents (id, source_id, content_hash, url, doc_type, published_at, retrieved_at, supersedes, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		d.ID, d.SourceID, d.ContentHash, d.URL, string(d.DocType), d.PublishedAt, d.RetrievedAt, d.Supersedes, d.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return model.Document{}, fmt.Errorf("storage: document %s already ingested for source %s: %w", d.ContentHash, d.SourceID, ErrConflict)
		}
		return model.Document{}, fmt.Errorf("storage: create document: %w", err)
	}
	return d, nil
}

// GetDocumentByHash looks up a Document by its (source_id, content_hash)
// pair — the re-ingestion dedup check the Fetcher runs before creating a
// new row (spec.md §4.3).
func (db *DB) GetDocumentByHash(ctx context.Context, sourceID uuid.UUID, contentHash string) (model.Document, error) {
	var d model.Document
	err := db.pool.QueryRow(ctx,
		`SELECT id, source_id, content_hash, url, doc_type, published_at, retrieved_at, supersedes, created_at
		 FROM documents WHERE source_id = $1 AND content_hash = $2`, sourceID, contentHash,
	).Scan(&d.ID, &d.SourceID, &d.ContentHash, &d.URL, &d.DocType, &d.PublishedAt, &d.RetrievedAt, &d.Supersedes, &d.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Document{}, fmt.Errorf("storage: document %s/%s: %w", sourceID, contentHash, ErrNotFound)
		}
		return model.Document{}, fmt.Errorf("storage: get document by hash: %w", err)
	}
	return d, nil
}

// GetLatestDocumentByURL returns the most recently retrieved, non-
// superseded Document for (source_id, url) — the supersession lookup
// upsert_document performs before inserting a changed retrieval of the
// same URL (spec.md §4.3).
func (db *DB) GetLatestDocumentByURL(ctx context.Context, sourceID uuid.UUID, url string) (model.Document, error) {
	var d model.Document
	err := db.pool.QueryRow(ctx,
		`SELECT id, source_id, content_hash, url, doc_type, published_at, retrieved_at, supersedes, created_at
		 FROM documents d
		 WHERE source_id = $1 AND url = $2
		   AND NOT EXISTS (SELECT 1 FROM documents o WHERE o.supersedes = d.id)
		 ORDER BY retrieved_at DESC LIMIT 1`, sourceID, url,
	).Scan(&d.ID, &d.SourceID, &d.ContentHash, &d.URL, &d.DocType, &d.PublishedAt, &d.RetrievedAt, &d.Supersedes, &d.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Document{}, fmt.Errorf("storage: latest document for %s/%s: %w", sourceID, url, ErrNotFound)
		}
		return model.Document{}, fmt.Errorf("storage: get latest document by url: %w", err)
	}
	return d, nil
}

// GetDocument retrieves a Document by ID.
func (db *DB) GetDocument(ctx context.Context, id uuid.UUID) (model.Document, error) {
	var d model.Document
	err := db.pool.QueryRow(ctx,
		`SELECT id, source_id, content_hash, url, doc_type, published_at, retrieved_at, supersedes, created_at
		 FROM documents WHERE id = $1`, id,
	).Scan(&d.ID, &d.SourceID, &d.ContentHash, &d.URL, &d.DocType, &d.PublishedAt, &d.RetrievedAt, &d.Supersedes, &d.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Document{}, fmt.Errorf("storage: document %s: %w", id, ErrNotFound)
		}
		return model.Document{}, fmt.Errorf("storage: get document: %w", err)
	}
	return d, nil
}

// ListDocumentsMissingSnippets returns IDs of documents with no snippets
// yet — the Snippetizer's (C4) work queue.
func (db *DB) ListDocumentsMissingSnippets(ctx context.Context, limit int) ([]model.Document, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := db.pool.Query(ctx,
		`SELECT d.id, d.source_id, d.content_hash, d.url, d.doc_type, d.published_at, d.retrieved_at, d.supersedes, d.created_at
		 FROM documents d
		 LEFT JOIN snippets s ON s.document_id = d.id
		 WHERE s.id IS NULL
		 ORDER BY d.retrieved_at ASC
		 LIMIT $1`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list documents missing snippets: %w", err)
	}
	defer rows.Close()

	var docs []model.Document
	for rows.Next() {
		var d model.Document
		if err := rows.Scan(&d.ID, &d.SourceID, &d.ContentHash, &d.URL, &d.DocType, &d.PublishedAt, &d.RetrievedAt, &d.Supersedes, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("storage: scan document: %w", err)
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

// IsSuperseded reports whether some other document names id via its own
// supersedes column — i.e. id has been replaced by a newer retrieval of
// the same fact, which the Scorer (C8) penalizes via the recency curve's
// superseded-document multiplier (spec.md §4.8).
func (db *DB) IsSuperseded(ctx context.Context, id uuid.UUID) (bool, error) {
	var exists bool
	err := db.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM documents WHERE supersedes = $1)`, id,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("storage: check superseded for document %s: %w", id, err)
	}
	return exists, nil
}

// isUniqueViolation reports whether err is a Postgres unique_violation.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
