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

// CreateClaim inserts a Claim. The caller (Extractor or Deriver) has
// already computed ClaimKeyHash via hashing.ClaimKeyHash.
func (db *DB) CreateClaim(ctx context.Context, c model.Claim) (model.Claim, error) {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	_, err := db.pool.Exec(ctx,
		`INSERT INTO claims (id, entity_id, attribute_id, scope, claim_key_hash, value, valid_from, valid_to,
		 is_derived, source_claim_id, parser_notes, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		c.ID, c.EntityID, c.AttributeID, map[string]any(c.Scope), c.ClaimKeyHash, c.Value,
		c.ValidFrom, c.ValidTo, c.IsDerived, c.SourceClaimID, c.ParserNotes, c.CreatedAt,
	)
	if err != nil {
		return model.Claim{}, fmt.Errorf("storage: create claim: %w", err)
	}
	return c, nil
}

// GetClaim retrieves a Claim by ID.
func (db *DB) GetClaim(ctx context.Context, id uuid.UUID) (model.Claim, error) {
	var c model.Claim
	var scope map[string]any
	err := db.pool.QueryRow(ctx,
		`SELECT id, entity_id, attribute_id, scope, claim_key_hash, value, valid_from, valid_to,
		 is_derived, source_claim_id, parser_notes, created_at
		 FROM claims WHERE id = $1`, id,
	).Scan(&c.ID, &c.EntityID, &c.AttributeID, &scope, &c.ClaimKeyHash, &c.Value,
		&c.ValidFrom, &c.ValidTo, &c.IsDerived, &c.SourceClaimID, &c.ParserNotes, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Claim{}, fmt.Errorf("storage: claim %s: %w", id, ErrNotFound)
		}
		return model.Claim{}, fmt.Errorf("storage: get claim: %w", err)
	}
	c.Scope = scope
	return c, nil
}

// GetClaimsByKeyHash returns every claim sharing a claim_key_hash — the
// membership of one conflict bucket (spec.md §4.6).
func (db *DB) GetClaimsByKeyHash(ctx context.Context, claimKeyHash string) ([]model.Claim, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, entity_id, attribute_id, scope, claim_key_hash, value, valid_from, valid_to,
		 is_derived, source_claim_id, parser_notes, created_at
		 FROM claims WHERE claim_key_hash = $1 ORDER BY created_at`, claimKeyHash,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: get claims by key hash: %w", err)
	}
	defer rows.Close()
	return scanClaims(rows)
}

// ListClaimsMissingConflictGroup returns claims whose claim_key_hash has no
// corresponding conflict_groups row — the Conflict Grouper's (C6) work queue.
func (db *DB) ListClaimsMissingConflictGroup(ctx context.Context, limit int) ([]model.Claim, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := db.pool.Query(ctx,
		`SELECT DISTINCT ON (c.claim_key_hash) c.id, c.entity_id, c.attribute_id, c.scope, c.claim_key_hash,
		 c.value, c.valid_from, c.valid_to, c.is_derived, c.source_claim_id, c.parser_notes, c.created_at
		 FROM claims c
		 LEFT JOIN conflict_groups g ON g.claim_key_hash = c.claim_key_hash
		 WHERE g.claim_key_hash IS NULL
		 ORDER BY c.claim_key_hash, c.created_at ASC
		 LIMIT $1`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list claims missing conflict group: %w", err)
	}
	defer rows.Close()
	return scanClaims(rows)
}

// ListClaimsUpdatedSince returns claims created after ts — the Scorer's
// (C8) incremental re-scoring queue.
func (db *DB) ListClaimsUpdatedSince(ctx context.Context, ts time.Time, limit int) ([]model.Claim, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := db.pool.Query(ctx,
		`SELECT id, entity_id, attribute_id, scope, claim_key_hash, value, valid_from, valid_to,
		 is_derived, source_claim_id, parser_notes, created_at
		 FROM claims WHERE created_at > $1 ORDER BY created_at ASC LIMIT $2`, ts, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list claims updated since: %w", err)
	}
	defer rows.Close()
	return scanClaims(rows)
}

// ListHighQualityScopedClaims returns non-derived claims for (entity,
// attribute) backed by at least one evidence row whose document is not
// tagged with a low-quality doc type (spec.md §3.2) — the Deriver's (C7)
// candidate pool for projecting a domain-default bucket.
func (db *DB) ListHighQualityScopedClaims(ctx context.Context, entityID, attributeID uuid.UUID) ([]model.Claim, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT DISTINCT c.id, c.entity_id, c.attribute_id, c.scope, c.claim_key_hash, c.value,
		 c.valid_from, c.valid_to, c.is_derived, c.source_claim_id, c.parser_notes, c.created_at
		 FROM claims c
		 JOIN evidence e ON e.claim_id = c.id
		 JOIN snippets s ON s.id = e.snippet_id
		 JOIN documents d ON d.id = s.document_id
		 WHERE c.entity_id = $1 AND c.attribute_id = $2 AND c.is_derived = false
		   AND d.doc_type NOT IN ('news_article','company_news','blog_post','wiki','forum_post','social_media')
		 ORDER BY c.created_at ASC`, entityID, attributeID,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list high quality scoped claims: %w", err)
	}
	defer rows.Close()
	return scanClaims(rows)
}

// EntityAttributePair names one (entity, attribute) combination.
type EntityAttributePair struct {
	EntityID    uuid.UUID
	AttributeID uuid.UUID
}

// ListDerivableEntityAttributePairs returns every distinct (entity,
// attribute) pair with at least one non-derived, high-quality-backed claim
// — the Deriver's (C7) work queue. Re-derivation is idempotent, so this
// intentionally returns the full eligible set rather than tracking a
// separate "needs re-derive" watermark.
func (db *DB) ListDerivableEntityAttributePairs(ctx context.Context, limit int) ([]EntityAttributePair, error) {
	if limit <= 0 {
		limit = 2000
	}
	rows, err := db.pool.Query(ctx,
		`SELECT DISTINCT c.entity_id, c.attribute_id
		 FROM claims c
		 JOIN evidence e ON e.claim_id = c.id
		 JOIN snippets s ON s.id = e.snippet_id
		 JOIN documents d ON d.id = s.document_id
		 WHERE c.is_derived = false
		   AND d.doc_type NOT IN ('news_article','company_news','blog_post','wiki','forum_post','social_media')
		 LIMIT $1`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list derivable entity/attribute pairs: %w", err)
	}
	defer rows.Close()

	var out []EntityAttributePair
	for rows.Next() {
		var p EntityAttributePair
		if err := rows.Scan(&p.EntityID, &p.AttributeID); err != nil {
			return nil, fmt.Errorf("storage: scan entity/attribute pair: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ClaimIdentity is a claim's identity and current value, with none of the
// provenance columns a full Claim carries — the Integrity Checker's (C10)
// input for building a batch-proof Merkle root over the whole ledger.
type ClaimIdentity struct {
	ID           uuid.UUID
	ClaimKeyHash string
	Value        any
}

// ListAllClaimIdentities returns every claim's (id, claim_key_hash, value),
// for the integrity stage's batch-proof computation (spec.md §4.10). The
// full table is read each run — deliberate, since the proof is only
// meaningful as an audit over current state, not an incremental one.
func (db *DB) ListAllClaimIdentities(ctx context.Context) ([]ClaimIdentity, error) {
	rows, err := db.pool.Query(ctx, `SELECT id, claim_key_hash, value FROM claims ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("storage: list all claim identities: %w", err)
	}
	defer rows.Close()

	var out []ClaimIdentity
	for rows.Next() {
		var ci ClaimIdentity
		if err := rows.Scan(&ci.ID, &ci.ClaimKeyHash, &ci.Value); err != nil {
			return nil, fmt.Errorf("storage: scan claim identity: %w", err)
		}
		out = append(out, ci)
	}
	return out, rows.Err()
}

func scanClaims(rows pgx.Rows) ([]model.Claim, error) {
	var out []model.Claim
	for rows.Next() {
		var c model.Claim
		var scope map[string]any
		if err := rows.Scan(&c.ID, &c.EntityID, &c.AttributeID, &scope, &c.ClaimKeyHash, &c.Value,
			&c.ValidFrom, &c.ValidTo, &c.IsDerived, &c.SourceClaimID, &c.ParserNotes, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("storage: scan claim: %w", err)
		}
		c.Scope = scope
		out = append(out, c)
	}
	return out, rows.Err()
}
