// Package ingest implements the Document Store's upsert operation (spec.md
// §4.3, C3) and wires it, together with the Fetcher/Readability
// collaborators and the Snippetizer (C4), into an Orchestrator job.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/truthledger/ledger/internal/fetch"
	"github.com/truthledger/ledger/internal/hashing"
	"github.com/truthledger/ledger/internal/model"
	"github.com/truthledger/ledger/internal/snippet"
	"github.com/truthledger/ledger/internal/storage"
)

// DefaultFetchTimeout bounds a single retrieval (spec.md §6's fetch(url,
// timeout) contract).
const DefaultFetchTimeout = 30 * time.Second

// Target is one source to poll: feed/RSS discovery of new URLs is out of
// scope (spec.md §1), so targets are supplied by configuration rather than
// discovered.
type Target struct {
	SourceID uuid.UUID
	URL      string
	DocType  model.DocType
}

// Ingestor upserts Documents (C3) and snippetizes them (C4) as one pipeline
// unit, so the Orchestrator's ingest job leaves every ingested document
// ready for extraction.
type Ingestor struct {
	db          *storage.DB
	fetcher     fetch.Fetcher
	readability fetch.Readability
}

// NewIngestor builds an Ingestor bound to its collaborators.
func NewIngestor(db *storage.DB, fetcher fetch.Fetcher, readability fetch.Readability) *Ingestor {
	return &Ingestor{db: db, fetcher: fetcher, readability: readability}
}

// UpsertDocument implements operation upsert_document(source_id, url?,
// raw_text, doc_type, published_at?) -> Document (spec.md §4.3):
//  1. compute content_hash over raw_text
//  2. if (source_id, content_hash) exists, return it unchanged
//  3. otherwise insert a new document, setting supersedes to the most
//     recent existing document for (source_id, url) when url is given
func (ig *Ingestor) UpsertDocument(ctx context.Context, sourceID uuid.UUID, url *string, rawText string, docType model.DocType, publishedAt *time.Time) (model.Document, error) {
	contentHash := hashing.ContentHash(rawText)

	existing, err := ig.db.GetDocumentByHash(ctx, sourceID, contentHash)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return model.Document{}, fmt.Errorf("ingest: check existing document: %w", err)
	}

	doc := model.Document{
		ID:          uuid.New(),
		SourceID:    sourceID,
		ContentHash: contentHash,
		URL:         url,
		DocType:     docType,
		PublishedAt: publishedAt,
		RetrievedAt: time.Now().UTC(),
	}

	if url != nil {
		prev, err := ig.db.GetLatestDocumentByURL(ctx, sourceID, *url)
		if err == nil {
			doc.Supersedes = &prev.ID
		} else if !errors.Is(err, storage.ErrNotFound) {
			return model.Document{}, fmt.Errorf("ingest: find superseded document: %w", err)
		}
	}

	created, err := ig.db.CreateDocument(ctx, doc)
	if err != nil {
		if errors.Is(err, storage.ErrConflict) {
			// Lost a race with a concurrent ingest of the same content;
			// the winner's row is equivalent for our purposes.
			return ig.db.GetDocumentByHash(ctx, sourceID, contentHash)
		}
		return model.Document{}, fmt.Errorf("ingest: create document: %w", err)
	}
	return created, nil
}

// FetchAndIngest retrieves target's URL, extracts plain text via
// Readability, upserts the resulting Document, and snippetizes it
// (spec.md §4.3, §4.4) — the Orchestrator's per-item ingest unit.
func (ig *Ingestor) FetchAndIngest(ctx context.Context, target Target) (model.Document, error) {
	fetched, err := ig.fetcher.Fetch(ctx, target.URL, DefaultFetchTimeout)
	if err != nil {
		return model.Document{}, fmt.Errorf("ingest: fetch %s: %w", target.URL, err)
	}

	text, err := ig.readability.ToText(fetched.RawBytes, fetched.ContentType)
	if err != nil {
		return model.Document{}, fmt.Errorf("ingest: extract text from %s: %w", target.URL, err)
	}

	publishedAt := text.PublishedAt
	if publishedAt == nil {
		publishedAt = fetched.PublishedAt
	}

	url := fetched.FinalURL
	doc, err := ig.UpsertDocument(ctx, target.SourceID, &url, text.Body, target.DocType, publishedAt)
	if err != nil {
		return model.Document{}, err
	}

	if err := ig.snippetize(ctx, doc, text.Body); err != nil {
		return doc, fmt.Errorf("ingest: snippetize document %s: %w", doc.ID, err)
	}
	return doc, nil
}

// snippetize partitions a document's text and persists its snippets
// (spec.md §4.4), skipping documents that already have them — this makes
// FetchAndIngest safe to call again for a document returned unchanged by
// UpsertDocument's step 2.
func (ig *Ingestor) snippetize(ctx context.Context, doc model.Document, text string) error {
	existing, err := ig.db.GetSnippetsByDocument(ctx, doc.ID)
	if err != nil {
		return fmt.Errorf("check existing snippets: %w", err)
	}
	if len(existing) > 0 {
		return nil
	}

	candidates := snippet.PartitionPlainText(text)
	if len(candidates) == 0 {
		return nil
	}

	snippets := make([]model.Snippet, len(candidates))
	for i, c := range candidates {
		snippets[i] = model.Snippet{
			ID:             uuid.New(),
			DocumentID:     doc.ID,
			Locator:        c.Locator,
			NormalizedText: c.Text,
			SnippetHash:    hashing.SnippetHash(c.Locator, c.Text),
			Type:           c.Type,
		}
	}
	return ig.db.CreateSnippetsBatch(ctx, snippets)
}
