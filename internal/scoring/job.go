package scoring

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/truthledger/ledger/internal/model"
	"github.com/truthledger/ledger/internal/orchestrator"
	"github.com/truthledger/ledger/internal/storage"
)

// scoreBatchSize bounds how many claims one run re-scores.
const scoreBatchSize = 5000

// NewJobSpec builds the Orchestrator registration for the score stage
// (spec.md §4.8, §4.11): one work item per claim created since the last
// successful score run, each scored independently into a TruthMetrics row.
func NewJobSpec(db *storage.DB, scorer *Scorer, workers int) orchestrator.JobSpec {
	return orchestrator.JobSpec{
		JobType: model.JobScore,
		Workers: workers,
		Fetch: func(ctx context.Context) ([]any, error) {
			since := time.Time{}
			if last, err := db.GetLastSuccessfulSyncRun(ctx, model.JobScore); err == nil {
				if last.StartedAt != nil {
					since = *last.StartedAt
				}
			} else if !errors.Is(err, storage.ErrNotFound) {
				return nil, fmt.Errorf("score: find watermark: %w", err)
			}

			claims, err := db.ListClaimsUpdatedSince(ctx, since, scoreBatchSize)
			if err != nil {
				return nil, fmt.Errorf("score: list pending claims: %w", err)
			}
			items := make([]any, len(claims))
			for i, c := range claims {
				items[i] = c
			}
			return items, nil
		},
		Process: func(ctx context.Context, item any) error {
			claim, ok := item.(model.Claim)
			if !ok {
				return fmt.Errorf("score: unexpected work item type %T", item)
			}
			if _, err := scorer.ScoreClaim(ctx, claim.ID, time.Now().UTC()); err != nil {
				return fmt.Errorf("score claim %s: %w", claim.ID, err)
			}
			return nil
		},
	}
}
