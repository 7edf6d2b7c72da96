package storage

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// ClaimsWithoutEvidence returns IDs of claims backed by zero Evidence rows
// (integrity check 1, critical).
func (db *DB) ClaimsWithoutEvidence(ctx context.Context) ([]uuid.UUID, error) {
	return db.queryUUIDs(ctx,
		`SELECT c.id FROM claims c
		 LEFT JOIN evidence e ON e.claim_id = c.id
		 WHERE e.id IS NULL`)
}

// ClaimsWithoutTruthMetrics returns IDs of claims with no TruthMetrics row
// (integrity check 2, warning).
func (db *DB) ClaimsWithoutTruthMetrics(ctx context.Context) ([]uuid.UUID, error) {
	return db.queryUUIDs(ctx,
		`SELECT c.id FROM claims c
		 LEFT JOIN truth_metrics m ON m.claim_id = c.id
		 WHERE m.claim_id IS NULL`)
}

// EvidenceWithBrokenChain returns IDs of evidence rows whose
// snippet/document/source chain is broken (integrity check 3, critical).
// A foreign key would normally prevent this; the check exists to surface
// rows that survived a prior schema migration or manual intervention.
func (db *DB) EvidenceWithBrokenChain(ctx context.Context) ([]uuid.UUID, error) {
	return db.queryUUIDs(ctx,
		`SELECT e.id FROM evidence e
		 LEFT JOIN snippets s ON s.id = e.snippet_id
		 LEFT JOIN documents d ON d.id = s.document_id
		 LEFT JOIN sources src ON src.id = d.source_id
		 WHERE s.id IS NULL OR d.id IS NULL OR src.id IS NULL`)
}

// SnippetsStaleWithoutEvidence returns IDs of snippets older than
// olderThanDays with no Evidence extracted from them (integrity check 4, info).
func (db *DB) SnippetsStaleWithoutEvidence(ctx context.Context, olderThanDays int) ([]uuid.UUID, error) {
	return db.queryUUIDs(ctx,
		`SELECT s.id FROM snippets s
		 LEFT JOIN evidence e ON e.snippet_id = s.id
		 WHERE e.id IS NULL AND s.created_at < now() - ($1 || ' days')::interval`,
		olderThanDays)
}

// DocumentsStaleWithoutSnippets returns IDs of documents older than
// olderThanDays with no Snippets (integrity check 5, info).
func (db *DB) DocumentsStaleWithoutSnippets(ctx context.Context, olderThanDays int) ([]uuid.UUID, error) {
	return db.queryUUIDs(ctx,
		`SELECT d.id FROM documents d
		 LEFT JOIN snippets s ON s.document_id = d.id
		 WHERE s.id IS NULL AND d.retrieved_at < now() - ($1 || ' days')::interval`,
		olderThanDays)
}

// ConflictGroupCountMismatches returns claim_key_hashes whose stored
// claim_count disagrees with the actual number of member claims
// (integrity check 6, warning).
func (db *DB) ConflictGroupCountMismatches(ctx context.Context) ([]string, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT g.claim_key_hash FROM conflict_groups g
		 JOIN (SELECT claim_key_hash, count(*) AS actual FROM claims GROUP BY claim_key_hash) c
		   ON c.claim_key_hash = g.claim_key_hash
		 WHERE g.claim_count != c.actual`)
	if err != nil {
		return nil, fmt.Errorf("storage: conflict group count mismatches: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, fmt.Errorf("storage: scan claim_key_hash: %w", err)
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// FieldLinksToMissingConflictGroup returns IDs of FieldLinks pointing at a
// claim_key_hash with no ConflictGroup row (integrity check 7, warning).
func (db *DB) FieldLinksToMissingConflictGroup(ctx context.Context) ([]uuid.UUID, error) {
	return db.queryUUIDs(ctx,
		`SELECT fl.id FROM field_links fl
		 LEFT JOIN conflict_groups g ON g.claim_key_hash = fl.claim_key_hash
		 WHERE fl.claim_key_hash IS NOT NULL AND g.claim_key_hash IS NULL`)
}

// DerivedClaimsWithMissingSource returns IDs of derived claims whose
// source_claim_id no longer resolves to a claim (integrity check 8, warning).
func (db *DB) DerivedClaimsWithMissingSource(ctx context.Context) ([]uuid.UUID, error) {
	return db.queryUUIDs(ctx,
		`SELECT c.id FROM claims c
		 LEFT JOIN claims src ON src.id = c.source_claim_id
		 WHERE c.is_derived AND c.source_claim_id IS NOT NULL AND src.id IS NULL`)
}

// ClaimScopeMismatches returns IDs of claims whose scope, normalized,
// disagrees with their ConflictGroup's stored scope (integrity check 9,
// warning). Normalization happens in Go, not SQL, so the comparison
// reuses hashing.NormalizeScope's exact semantics; this query returns raw
// pairs for the caller to compare.
func (db *DB) ClaimScopeMismatches(ctx context.Context) ([]ClaimScopePair, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT c.id, c.scope, g.scope FROM claims c
		 JOIN conflict_groups g ON g.claim_key_hash = c.claim_key_hash`)
	if err != nil {
		return nil, fmt.Errorf("storage: claim scope mismatches: %w", err)
	}
	defer rows.Close()
	var out []ClaimScopePair
	for rows.Next() {
		var p ClaimScopePair
		if err := rows.Scan(&p.ClaimID, &p.ClaimScope, &p.GroupScope); err != nil {
			return nil, fmt.Errorf("storage: scan scope pair: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ClaimScopePair is one (claim, bucket) scope comparison row.
type ClaimScopePair struct {
	ClaimID    uuid.UUID
	ClaimScope map[string]any
	GroupScope map[string]any
}

// DuplicateClaims returns groups of claim IDs sharing a bucket and an
// identical typed value — exact duplicates (integrity check 10, info).
func (db *DB) DuplicateClaims(ctx context.Context) ([][]uuid.UUID, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT array_agg(id ORDER BY created_at)
		 FROM claims
		 GROUP BY claim_key_hash, value
		 HAVING count(*) > 1`)
	if err != nil {
		return nil, fmt.Errorf("storage: duplicate claims: %w", err)
	}
	defer rows.Close()
	var out [][]uuid.UUID
	for rows.Next() {
		var ids []uuid.UUID
		if err := rows.Scan(&ids); err != nil {
			return nil, fmt.Errorf("storage: scan duplicate group: %w", err)
		}
		out = append(out, ids)
	}
	return out, rows.Err()
}

// RepairConflictGroupCount recomputes and persists claim_count for one
// bucket (repair for check 6).
func (db *DB) RepairConflictGroupCount(ctx context.Context, claimKeyHash string) error {
	_, err := db.pool.Exec(ctx,
		`UPDATE conflict_groups g SET claim_count = c.actual, updated_at = now()
		 FROM (SELECT count(*) AS actual FROM claims WHERE claim_key_hash = $1) c
		 WHERE g.claim_key_hash = $1`, claimKeyHash)
	if err != nil {
		return fmt.Errorf("storage: repair conflict group count %s: %w", claimKeyHash, err)
	}
	return nil
}

// RepairDeleteOrphanClaim deletes a claim with no Evidence (repair for
// check 1). Callers must have already confirmed via ClaimsWithoutEvidence.
func (db *DB) RepairDeleteOrphanClaim(ctx context.Context, claimID uuid.UUID) error {
	_, err := db.pool.Exec(ctx, `DELETE FROM claims WHERE id = $1`, claimID)
	if err != nil {
		return fmt.Errorf("storage: repair delete orphan claim %s: %w", claimID, err)
	}
	return nil
}

// RepairNullFieldLinkTarget nulls out a FieldLink's claim_key_hash when it
// points to a missing ConflictGroup (repair for check 7).
func (db *DB) RepairNullFieldLinkTarget(ctx context.Context, fieldLinkID uuid.UUID) error {
	_, err := db.pool.Exec(ctx, `UPDATE field_links SET claim_key_hash = NULL WHERE id = $1`, fieldLinkID)
	if err != nil {
		return fmt.Errorf("storage: repair field link %s: %w", fieldLinkID, err)
	}
	return nil
}

func (db *DB) queryUUIDs(ctx context.Context, sql string, args ...any) ([]uuid.UUID, error) {
	rows, err := db.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: integrity query: %w", err)
	}
	defer rows.Close()
	var out []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("storage: scan uuid: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
