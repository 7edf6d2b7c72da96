package extract

import (
	"context"
	"fmt"

	"github.com/truthledger/ledger/internal/model"
	"github.com/truthledger/ledger/internal/orchestrator"
	"github.com/truthledger/ledger/internal/registry"
	"github.com/truthledger/ledger/internal/storage"
)

// extractBatchSize bounds how many unprocessed snippets one run claims —
// large enough that a run drains a realistic backlog, small enough that a
// single run doesn't grow unbounded while ingest is still producing more.
const extractBatchSize = 2000

// NewJobSpec builds the Orchestrator registration for the extract stage
// (spec.md §4.5, §4.11): one work item per snippet not yet extracted,
// each run through the pattern set and committed independently.
func NewJobSpec(db *storage.DB, reg *registry.Registry, patterns []ExtractorPattern, workers int) orchestrator.JobSpec {
	committer := NewCommitter(db, reg)

	return orchestrator.JobSpec{
		JobType: model.JobExtract,
		Workers: workers,
		Fetch: func(ctx context.Context) ([]any, error) {
			snippets, err := db.ListSnippetsMissingExtraction(ctx, extractBatchSize)
			if err != nil {
				return nil, fmt.Errorf("extract: list pending snippets: %w", err)
			}
			items := make([]any, len(snippets))
			for i, s := range snippets {
				items[i] = s
			}
			return items, nil
		},
		Process: func(ctx context.Context, item any) error {
			snippet, ok := item.(model.Snippet)
			if !ok {
				return fmt.Errorf("extract: unexpected work item type %T", item)
			}
			results, err := Extract(ctx, snippet, reg, patterns)
			if err != nil {
				return fmt.Errorf("extract snippet %s: %w", snippet.ID, err)
			}
			for _, r := range results {
				if _, err := committer.Commit(ctx, snippet.ID, r); err != nil {
					return fmt.Errorf("commit extraction for snippet %s: %w", snippet.ID, err)
				}
			}
			return nil
		},
	}
}
