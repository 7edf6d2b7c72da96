package model

import (
	"time"

	"github.com/google/uuid"
)

// Document is a retrieved artifact belonging to one Source, identified
// within that source by its content hash (spec.md §3, §4.3).
type Document struct {
	ID          uuid.UUID  `json:"id"`
	SourceID    uuid.UUID  `json:"source_id"`
	ContentHash string     `json:"content_hash"`
	URL         *string    `json:"url,omitempty"`
	DocType     DocType    `json:"doc_type"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
	RetrievedAt time.Time  `json:"retrieved_at"`
	Supersedes  *uuid.UUID `json:"supersedes,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// SnippetType enumerates the structural kind of a Snippet (spec.md §4.4).
type SnippetType string

const (
	SnippetText     SnippetType = "text"
	SnippetTable    SnippetType = "table"
	SnippetFigure   SnippetType = "figure"
	SnippetEquation SnippetType = "equation"
	SnippetList     SnippetType = "list"
	SnippetOther    SnippetType = "other"
)

// Snippet is a stable, addressable fragment of a Document (spec.md §3, §4.4).
type Snippet struct {
	ID             uuid.UUID   `json:"id"`
	DocumentID     uuid.UUID   `json:"document_id"`
	Locator        string      `json:"locator"`
	NormalizedText string      `json:"normalized_text"`
	SnippetHash    string      `json:"snippet_hash"`
	Type           SnippetType `json:"snippet_type"`
	CreatedAt      time.Time   `json:"created_at"`
}
