package derive

import (
	"context"
	"fmt"

	"github.com/truthledger/ledger/internal/model"
	"github.com/truthledger/ledger/internal/orchestrator"
	"github.com/truthledger/ledger/internal/storage"
)

// deriveBatchSize bounds how many (entity, attribute) pairs one run
// projects — re-derivation is idempotent, so a run simply covers whatever
// fits rather than tracking a separate backlog watermark.
const deriveBatchSize = 2000

// NewJobSpec builds the Orchestrator registration for the derive stage
// (spec.md §4.7, §4.11): one work item per (entity, attribute) pair with
// high-quality scoped claims, each projected onto its domain-default bucket.
func NewJobSpec(db *storage.DB, deriver *Deriver, workers int) orchestrator.JobSpec {
	return orchestrator.JobSpec{
		JobType: model.JobDerive,
		Workers: workers,
		Fetch: func(ctx context.Context) ([]any, error) {
			pairs, err := db.ListDerivableEntityAttributePairs(ctx, deriveBatchSize)
			if err != nil {
				return nil, fmt.Errorf("derive: list candidate pairs: %w", err)
			}
			items := make([]any, len(pairs))
			for i, p := range pairs {
				items[i] = p
			}
			return items, nil
		},
		Process: func(ctx context.Context, item any) error {
			pair, ok := item.(storage.EntityAttributePair)
			if !ok {
				return fmt.Errorf("derive: unexpected work item type %T", item)
			}
			if _, err := deriver.Derive(ctx, pair.EntityID, pair.AttributeID); err != nil {
				return fmt.Errorf("derive entity %s attribute %s: %w", pair.EntityID, pair.AttributeID, err)
			}
			return nil
		},
	}
}
