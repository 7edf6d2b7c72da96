package integrity

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/truthledger/ledger/internal/model"
	"github.com/truthledger/ledger/internal/orchestrator"
	"github.com/truthledger/ledger/internal/storage"
)

// NewJobSpec builds the Orchestrator registration for the integrity stage
// (spec.md §4.10, §4.11): a single work item that runs all ten checks,
// applies the three repairs that have one (checks 1, 6, and 7), and closes
// the run by computing a Merkle batch proof over the ledger's current claim
// set. The other seven checks surface in the run's log for an operator to
// act on — deleting a claim or nulling a link is a targeted, reversible
// write; the rest (stale snippets, scope drift, duplicates) need a human
// call.
func NewJobSpec(db *storage.DB, checker *Checker, logger *slog.Logger) orchestrator.JobSpec {
	return orchestrator.JobSpec{
		JobType: model.JobIntegrity,
		Workers: 1,
		Fetch: func(ctx context.Context) ([]any, error) {
			return []any{struct{}{}}, nil
		},
		Process: func(ctx context.Context, item any) error {
			violations, err := checker.RunAll(ctx)
			if err != nil {
				return fmt.Errorf("integrity: run checks: %w", err)
			}
			for _, v := range violations {
				logger.Warn("integrity violation",
					"check", v.Check,
					"severity", v.Severity,
					"description", v.Description,
					"subject_count", len(v.SubjectIDs),
					"subject", v.Subject,
				)
			}

			repairedOrphans, err := checker.RepairOrphanClaims(ctx)
			if err != nil {
				return fmt.Errorf("integrity: repair orphan claims: %w", err)
			}
			repairedCounts, err := checker.RepairConflictGroupCounts(ctx)
			if err != nil {
				return fmt.Errorf("integrity: repair conflict group counts: %w", err)
			}
			repairedLinks, err := checker.RepairInvalidFieldLinks(ctx)
			if err != nil {
				return fmt.Errorf("integrity: repair invalid field links: %w", err)
			}

			active, err := db.GetActiveSyncRun(ctx, model.JobIntegrity)
			if err != nil {
				return fmt.Errorf("integrity: locate active run for batch proof: %w", err)
			}
			proof, err := checker.BatchProof(ctx, active.ID, time.Now().UTC())
			if err != nil {
				return fmt.Errorf("integrity: compute batch proof: %w", err)
			}
			if err := db.RecordMerkleRoot(ctx, active.ID, proof.MerkleRoot, proof.ClaimCount); err != nil {
				return fmt.Errorf("integrity: record batch proof: %w", err)
			}

			logger.Info("integrity run complete",
				"violations", len(violations),
				"orphan_claims_deleted", repairedOrphans,
				"conflict_group_counts_fixed", repairedCounts,
				"field_links_nulled", repairedLinks,
				"merkle_root", proof.MerkleRoot,
				"merkle_claim_count", proof.ClaimCount,
			)
			return nil
		},
	}
}
