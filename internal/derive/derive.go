// Package derive implements the Deriver (spec.md §4.7, C7): it projects
// scoped claims onto a synthetic "domain-default" bucket so legacy-column
// lookups get a single authoritative value per (entity, attribute).
package derive

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/truthledger/ledger/internal/hashing"
	"github.com/truthledger/ledger/internal/lederr"
	"github.com/truthledger/ledger/internal/model"
	"github.com/truthledger/ledger/internal/registry"
	"github.com/truthledger/ledger/internal/storage"
)

// DomainDefaultProfile is the scope profile tag for derived buckets
// (spec.md §4.7, GLOSSARY).
const DomainDefaultProfile = "domain_default_v1"

// FamilyPolicy picks the representative claim among high-quality
// candidates for one (entity, attribute) pair (spec.md §4.7: "the
// derived claim's value is chosen by policy per attribute family").
// Candidates are ordered oldest-first; ties are broken by declaration
// order, i.e. the first candidate the policy prefers.
type FamilyPolicy func(candidates []model.Claim) model.Claim

// PreferVacuumOverSeaLevel is the engine-performance family policy named
// in spec.md §4.7's example: among candidates, prefer one whose scope
// tags altitude "vacuum" over "sea_level"; otherwise take the first
// (oldest) candidate.
func PreferVacuumOverSeaLevel(candidates []model.Claim) model.Claim {
	for _, c := range candidates {
		if alt, ok := c.Scope["altitude"]; ok {
			if s, ok := alt.(string); ok && s == "vacuum" {
				return c
			}
		}
	}
	return candidates[0]
}

// DefaultPolicy is used for attribute families with no specific
// preference: the oldest high-quality candidate wins, which keeps
// derivation stable across re-runs absent new data.
func DefaultPolicy(candidates []model.Claim) model.Claim {
	return candidates[0]
}

// Deriver projects claims into domain-default buckets.
type Deriver struct {
	db       *storage.DB
	reg      *registry.Registry
	policies map[string]FamilyPolicy // keyed by attribute canonical name
}

// New builds a Deriver. policies maps an attribute's canonical name to the
// FamilyPolicy that should select its domain-default value; attributes
// absent from the map use DefaultPolicy.
func New(db *storage.DB, reg *registry.Registry, policies map[string]FamilyPolicy) *Deriver {
	if policies == nil {
		policies = map[string]FamilyPolicy{}
	}
	return &Deriver{db: db, reg: reg, policies: policies}
}

// Derive projects (entity, attribute)'s high-quality scoped claims onto
// its domain-default bucket (spec.md §4.7). Idempotent: upserting the
// derived claim and its evidence is safe to call repeatedly with
// unchanged inputs.
func (d *Deriver) Derive(ctx context.Context, entityID, attributeID uuid.UUID) (model.Claim, error) {
	attr, ok := d.reg.AttributeByID(attributeID)
	if !ok {
		return model.Claim{}, lederr.Wrap(lederr.Structural, "derive.Derive", "attribute %s not in registry snapshot", attributeID)
	}

	candidates, err := d.db.ListHighQualityScopedClaims(ctx, entityID, attributeID)
	if err != nil {
		return model.Claim{}, fmt.Errorf("derive: list candidates: %w", err)
	}
	if len(candidates) == 0 {
		return model.Claim{}, lederr.Wrap(lederr.NotFound, "derive.Derive", "no high-quality scoped claims for entity %s attribute %s", entityID, attributeID)
	}

	policy, ok := d.policies[attr.CanonicalName]
	if !ok {
		policy = DefaultPolicy
	}
	source := policy(candidates)

	scope := map[string]any{
		"profile": DomainDefaultProfile,
		"field":   attr.CanonicalName,
	}
	claimKeyHash := hashing.ClaimKeyHash(entityID.String(), attributeID.String(), scope)

	existing, err := d.findExistingDerived(ctx, claimKeyHash, source.ID)
	if err == nil {
		return existing, nil // idempotent: same (entity, attribute, scope, source_claim_id)
	}

	derived := model.Claim{
		EntityID:      entityID,
		AttributeID:   attributeID,
		Scope:         scope,
		ClaimKeyHash:  claimKeyHash,
		Value:         source.Value,
		ValidFrom:     source.ValidFrom,
		ValidTo:       source.ValidTo,
		IsDerived:     true,
		SourceClaimID: &source.ID,
	}

	saved, err := d.db.CreateClaim(ctx, derived)
	if err != nil {
		return model.Claim{}, fmt.Errorf("derive: create derived claim: %w", err)
	}

	sourceEvidence, err := d.db.GetEvidenceByClaim(ctx, source.ID)
	if err != nil {
		return model.Claim{}, fmt.Errorf("derive: load source evidence: %w", err)
	}
	derivedEvidence := make([]model.Evidence, len(sourceEvidence))
	for i, ev := range sourceEvidence {
		derivedEvidence[i] = model.Evidence{
			ClaimID:    saved.ID,
			SnippetID:  ev.SnippetID,
			Quote:      ev.Quote,
			Stance:     model.StanceSupport,
			Confidence: ev.Confidence, // inherited, per spec.md §9's determinism choice
		}
	}
	if err := d.db.CreateEvidenceBatch(ctx, derivedEvidence); err != nil {
		return model.Claim{}, fmt.Errorf("derive: create derived evidence: %w", err)
	}

	return saved, nil
}

// findExistingDerived looks for a derived claim already carrying this
// (claim_key_hash, source_claim_id) pair, the identity spec.md §4.7's
// idempotent-upsert policy is keyed on.
func (d *Deriver) findExistingDerived(ctx context.Context, claimKeyHash string, sourceClaimID uuid.UUID) (model.Claim, error) {
	existing, err := d.db.GetClaimsByKeyHash(ctx, claimKeyHash)
	if err != nil {
		return model.Claim{}, err
	}
	for _, c := range existing {
		if c.IsDerived && c.SourceClaimID != nil && *c.SourceClaimID == sourceClaimID {
			return c, nil
		}
	}
	return model.Claim{}, lederr.Wrap(lederr.NotFound, "derive.findExistingDerived", "no existing derived claim for %s/%s", claimKeyHash, sourceClaimID)
}
