// Package conflict implements the Conflict Grouper (spec.md §4.6, C6): it
// partitions a bucket's claims into tolerance-aware equivalence classes and
// derives the bucket's conflict_present flag and factual_status.
package conflict

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/truthledger/ledger/internal/hashing"
	"github.com/truthledger/ledger/internal/lederr"
	"github.com/truthledger/ledger/internal/model"
	"github.com/truthledger/ledger/internal/registry"
	"github.com/truthledger/ledger/internal/storage"
)

// EqualUnderTolerance reports whether a and b agree within the attribute's
// absolute/relative tolerance (spec.md §4.6): |a-b| <= max(absTol,
// relTol*max(|a|,|b|)). A nil tolerance is treated as 0. Symmetric and
// reflexive by construction (spec.md §8 invariant 7).
func EqualUnderTolerance(a, b float64, absTol, relTol *float64) bool {
	diff := math.Abs(a - b)
	abs := 0.0
	if absTol != nil {
		abs = *absTol
	}
	rel := 0.0
	if relTol != nil {
		rel = *relTol
	}
	bound := math.Max(abs, rel*math.Max(math.Abs(a), math.Abs(b)))
	return diff <= bound
}

// canonicalToken normalizes a non-numeric value for equality comparison:
// trim, then lowercase (spec.md §4.6).
func canonicalToken(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// EquivalenceClass is one group of claims whose values agree, per
// spec.md §4.6.
type EquivalenceClass struct {
	Representative model.TypedValue
	Claims         []model.Claim
}

// valuesEqual decides whether two typed values belong in the same
// equivalence class, dispatching on value type. Values of differing type
// are never equal — a mixed-type bucket (a parser bug, not a spec
// scenario) is reported as distinct classes rather than panicking.
func valuesEqual(a, b model.TypedValue, attr model.Attribute) bool {
	if a.Type != b.Type {
		return false
	}
	switch a.Type {
	case model.ValueNumber:
		if a.Number == nil || b.Number == nil {
			return false
		}
		return EqualUnderTolerance(*a.Number, *b.Number, attr.AbsoluteTol, attr.RelativeTol)
	case model.ValueRange:
		if a.RangeLow == nil || a.RangeHigh == nil || b.RangeLow == nil || b.RangeHigh == nil {
			return false
		}
		return EqualUnderTolerance(*a.RangeLow, *b.RangeLow, attr.AbsoluteTol, attr.RelativeTol) &&
			EqualUnderTolerance(*a.RangeHigh, *b.RangeHigh, attr.AbsoluteTol, attr.RelativeTol)
	case model.ValueText:
		if a.Text == nil || b.Text == nil {
			return false
		}
		return canonicalToken(*a.Text) == canonicalToken(*b.Text)
	case model.ValueEnum:
		if a.Enum == nil || b.Enum == nil {
			return false
		}
		return canonicalToken(*a.Enum) == canonicalToken(*b.Enum)
	case model.ValueBoolean:
		if a.Bool == nil || b.Bool == nil {
			return false
		}
		return *a.Bool == *b.Bool
	case model.ValueDate:
		if a.Date == nil || b.Date == nil {
			return false
		}
		return a.Date.Equal(*b.Date)
	default:
		return false
	}
}

// Classify partitions claims into equivalence classes under attr's
// tolerance rules (spec.md §4.6, steps 2-3).
func Classify(claims []model.Claim, attr model.Attribute) []EquivalenceClass {
	var classes []EquivalenceClass
	for _, c := range claims {
		placed := false
		for i := range classes {
			if valuesEqual(classes[i].Representative, c.Value, attr) {
				classes[i].Claims = append(classes[i].Claims, c)
				placed = true
				break
			}
		}
		if !placed {
			classes = append(classes, EquivalenceClass{Representative: c.Value, Claims: []model.Claim{c}})
		}
	}
	return classes
}

// intervalsDisjoint reports whether [aFrom,aTo) and [bFrom,bTo) never
// overlap. A nil bound is open-ended on that side.
func intervalsDisjoint(aFrom, aTo, bFrom, bTo *time.Time) bool {
	if aTo != nil && bFrom != nil && !aTo.After(*bFrom) {
		return true
	}
	if bTo != nil && aFrom != nil && !bTo.After(*aFrom) {
		return true
	}
	return false
}

// fullySeparatedByVersioning reports whether every pair of claims drawn
// from different equivalence classes has disjoint validity intervals
// (spec.md §4.6's resolved_by_versioning condition).
func fullySeparatedByVersioning(classes []EquivalenceClass) bool {
	for i := range classes {
		for j := i + 1; j < len(classes); j++ {
			for _, a := range classes[i].Claims {
				for _, b := range classes[j].Claims {
					if !intervalsDisjoint(a.ValidFrom, a.ValidTo, b.ValidFrom, b.ValidTo) {
						return false
					}
				}
			}
		}
	}
	return true
}

// DeriveFactualStatus implements spec.md §4.6 step 4's status decision.
// resolved_by_scope is reserved (spec.md §9) and never produced here: a
// single bucket has one normalized scope by construction, so scope-based
// separation cannot occur within it.
func DeriveFactualStatus(classes []EquivalenceClass) model.FactualStatus {
	if len(classes) <= 1 {
		return model.StatusNoConflict
	}
	if fullySeparatedByVersioning(classes) {
		return model.StatusResolvedByVersioning
	}
	return model.StatusActiveConflict
}

// Grouper recomputes a bucket's ConflictGroup after claim inserts/deletes
// (spec.md §4.6, §5 — per-bucket recomputation must be serialized on
// claim_key_hash, which Recompute achieves via a row-level lock acquired
// inside the upsert transaction).
type Grouper struct {
	db  *storage.DB
	reg *registry.Registry
}

// New builds a Grouper bound to a storage handle and the run's registry
// snapshot.
func New(db *storage.DB, reg *registry.Registry) *Grouper {
	return &Grouper{db: db, reg: reg}
}

// Recompute re-derives and persists the ConflictGroup for claimKeyHash
// from its current claim membership (spec.md §4.6).
func (g *Grouper) Recompute(ctx context.Context, claimKeyHash string) (model.ConflictGroup, error) {
	claims, err := g.db.GetClaimsByKeyHash(ctx, claimKeyHash)
	if err != nil {
		return model.ConflictGroup{}, fmt.Errorf("conflict: recompute %s: %w", claimKeyHash, err)
	}
	if len(claims) == 0 {
		return model.ConflictGroup{}, lederr.Wrap(lederr.NotFound, "conflict.Recompute", "no claims for bucket %s", claimKeyHash)
	}

	first := claims[0]
	attr, ok := g.reg.AttributeByID(first.AttributeID)
	if !ok {
		return model.ConflictGroup{}, lederr.Wrap(lederr.Structural, "conflict.Recompute", "attribute %s not in registry snapshot", first.AttributeID)
	}

	classes := Classify(claims, attr)
	status := DeriveFactualStatus(classes)

	group := model.ConflictGroup{
		ClaimKeyHash:    claimKeyHash,
		EntityID:        first.EntityID,
		AttributeID:     first.AttributeID,
		Scope:           hashing.NormalizeScope(first.Scope),
		ClaimCount:      len(claims),
		ConflictPresent: len(classes) > 1,
		FactualStatus:   status,
	}

	saved, err := g.db.UpsertConflictGroup(ctx, group)
	if err != nil {
		return model.ConflictGroup{}, fmt.Errorf("conflict: persist bucket %s: %w", claimKeyHash, err)
	}
	return saved, nil
}

// EntityAttributeKey is a small convenience pair used by callers that
// batch Recompute calls across several dirty buckets after one snippet's
// extraction.
type EntityAttributeKey struct {
	EntityID    uuid.UUID
	AttributeID uuid.UUID
}
