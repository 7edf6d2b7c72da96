package ingest

import (
	"context"
	"fmt"

	"github.com/truthledger/ledger/internal/model"
	"github.com/truthledger/ledger/internal/orchestrator"
)

// NewJobSpec builds the Orchestrator registration for the ingest stage
// (spec.md §4.11): one work item per configured Target, each fetched and
// snippetized independently so a single bad URL doesn't fail its siblings.
func NewJobSpec(ig *Ingestor, targets []Target, workers int) orchestrator.JobSpec {
	return orchestrator.JobSpec{
		JobType: model.JobIngest,
		Workers: workers,
		Fetch: func(ctx context.Context) ([]any, error) {
			items := make([]any, len(targets))
			for i, t := range targets {
				items[i] = t
			}
			return items, nil
		},
		Process: func(ctx context.Context, item any) error {
			target, ok := item.(Target)
			if !ok {
				return fmt.Errorf("ingest: unexpected work item type %T", item)
			}
			_, err := ig.FetchAndIngest(ctx, target)
			return err
		},
	}
}
