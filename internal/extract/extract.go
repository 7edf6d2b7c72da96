// Package extract implements the Extractor (spec.md §4.5, C5):
// pattern-driven conversion of a text snippet into typed, unit-normalized
// claims with provenance, committed alongside their Evidence and the
// bucket's recomputed ConflictGroup.
package extract

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/truthledger/ledger/internal/conflict"
	"github.com/truthledger/ledger/internal/hashing"
	"github.com/truthledger/ledger/internal/lederr"
	"github.com/truthledger/ledger/internal/model"
	"github.com/truthledger/ledger/internal/registry"
	"github.com/truthledger/ledger/internal/storage"
)

// ExtractorPattern describes one rule for recognizing an attribute's value
// in text (spec.md §4.5). Patterns must carry named capture groups
// matching their ValueType: number/range patterns need "value" (and
// "value_high" for range) plus "unit"; boolean and enum patterns need no
// captures beyond a match, since their produced value is fixed on the
// pattern itself.
type ExtractorPattern struct {
	Name                string
	AttributeName       string // canonical "TABLE.FIELD" name, resolved against the registry
	RequiredEntityType  string // "" means no constraint
	ValueType           model.ValueType
	Regexes             []*regexp.Regexp
	TargetUnit          string
	UnitAliases         map[string]float64 // lowercased alias -> multiplier into TargetUnit
	BoolValue           bool               // fixed value asserted by a boolean pattern's match
	EnumValue           string             // fixed canonical token asserted by an enum pattern's match
	Priority            int
	Confidence          float64
	Active              bool
}

// ExtractionResult is one typed claim candidate surfaced from a snippet
// (spec.md §4.5 step 2c), not yet committed.
type ExtractionResult struct {
	EntityID    uuid.UUID
	AttributeID uuid.UUID
	Value       model.TypedValue
	Scope       model.Scope
	Quote       string
	Confidence  float64
	ParserNotes []string
}

// snippetExecutionBudget bounds the number of pattern×entity combinations
// attempted per snippet (spec.md §4.5's "Non-goals"/"Edge cases" call for
// guarding against pathological regexes). Go's regexp package is RE2-based
// and therefore immune to catastrophic backtracking by construction; this
// cap is defense against an unreasonably large pattern set or entity hit
// count, not against regex blowup itself.
const snippetExecutionBudget = 2000

// Extract implements operation extract(snippet) -> list<ExtractionResult>
// (spec.md §4.5).
func Extract(ctx context.Context, snippet model.Snippet, reg *registry.Registry, patterns []ExtractorPattern) ([]ExtractionResult, error) {
	hits := reg.FindEntities(snippet.NormalizedText)
	if len(hits) == 0 {
		return nil, nil
	}

	ordered := make([]ExtractorPattern, 0, len(patterns))
	for _, p := range patterns {
		if p.Active {
			ordered = append(ordered, p)
		}
	}
	// Stable sort so equal-priority patterns keep declaration order
	// (spec.md §4.5 step 3's tie rule).
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Priority > ordered[j].Priority })

	type winnerKey struct {
		entityID    uuid.UUID
		attributeID uuid.UUID
	}
	winners := make(map[winnerKey]ExtractionResult)
	winnerPriority := make(map[winnerKey]int)

	attempts := 0
	for _, pattern := range ordered {
		attr, ok := reg.Attribute(pattern.AttributeName)
		if !ok {
			continue
		}
		for _, hit := range hits {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("extract: %w", ctx.Err())
			}
			attempts++
			if attempts > snippetExecutionBudget {
				return nil, lederr.Wrap(lederr.Transient, "extract.Extract", "execution budget exceeded for snippet %s", snippet.ID)
			}
			if pattern.RequiredEntityType != "" && hit.Entity.Type != pattern.RequiredEntityType {
				continue
			}

			key := winnerKey{hit.Entity.ID, attr.ID}
			if prevPriority, seen := winnerPriority[key]; seen && prevPriority >= pattern.Priority {
				continue // a higher- or equal-priority (earlier-declared) pattern already won
			}

			result, ok := matchPattern(pattern, attr, snippet.NormalizedText, hit.Entity.ID, attr.ID)
			if !ok {
				continue
			}
			winners[key] = result
			winnerPriority[key] = pattern.Priority
		}
	}

	out := make([]ExtractionResult, 0, len(winners))
	for _, r := range winners {
		out = append(out, r)
	}
	return out, nil
}

func matchPattern(pattern ExtractorPattern, attr model.Attribute, text string, entityID, attributeID uuid.UUID) (ExtractionResult, bool) {
	for _, re := range pattern.Regexes {
		m := re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		names := re.SubexpNames()
		group := func(name string) string {
			for i, n := range names {
				if n == name && i < len(m) {
					return m[i]
				}
			}
			return ""
		}

		switch pattern.ValueType {
		case model.ValueNumber:
			v, unit, notes, ok := convertNumber(group("value"), group("unit"), pattern)
			if !ok {
				continue
			}
			return ExtractionResult{
				EntityID: entityID, AttributeID: attributeID,
				Value:       model.NumberValue(v, unit),
				Scope:       model.Scope{},
				Quote:       m[0],
				Confidence:  pattern.Confidence,
				ParserNotes: notes,
			}, true

		case model.ValueRange:
			lowRaw, highRaw, unitRaw := group("value"), group("value_high"), group("unit")
			low, _, lowNotes, lowOK := convertNumber(lowRaw, unitRaw, pattern)
			high, _, highNotes, highOK := convertNumber(highRaw, unitRaw, pattern)
			if !lowOK || !highOK {
				continue
			}
			return ExtractionResult{
				EntityID: entityID, AttributeID: attributeID,
				Value:       model.TypedValue{Type: model.ValueRange, RangeLow: &low, RangeHigh: &high, Unit: pattern.TargetUnit},
				Scope:       model.Scope{},
				Quote:       m[0],
				Confidence:  pattern.Confidence,
				ParserNotes: append(lowNotes, highNotes...),
			}, true

		case model.ValueBoolean:
			return ExtractionResult{
				EntityID: entityID, AttributeID: attributeID,
				Value:      model.BoolValue(pattern.BoolValue),
				Scope:      model.Scope{},
				Quote:      m[0],
				Confidence: pattern.Confidence,
			}, true

		case model.ValueEnum:
			return ExtractionResult{
				EntityID: entityID, AttributeID: attributeID,
				Value:      model.EnumValue(pattern.EnumValue),
				Scope:      model.Scope{},
				Quote:      m[0],
				Confidence: pattern.Confidence,
			}, true

		case model.ValueDate:
			raw := group("value")
			t, err := parseDate(raw)
			if err != nil {
				continue
			}
			return ExtractionResult{
				EntityID: entityID, AttributeID: attributeID,
				Value:      model.TypedValue{Type: model.ValueDate, Date: &t},
				Scope:      model.Scope{},
				Quote:      m[0],
				Confidence: pattern.Confidence,
			}, true

		case model.ValueText:
			return ExtractionResult{
				EntityID: entityID, AttributeID: attributeID,
				Value:      model.TextValue(strings.TrimSpace(group("value"))),
				Scope:      model.Scope{},
				Quote:      m[0],
				Confidence: pattern.Confidence,
			}, true
		}
	}
	return ExtractionResult{}, false
}

// convertNumber parses a numeric capture and converts it to the pattern's
// target unit via its alias multiplier map (spec.md §4.5 step 2b). An
// absent alias is not an error: it returns ok=false with an "unknown unit"
// note, and the caller skips the match. matchPattern does not keep that
// note, so it appears on no ExtractionResult.
func convertNumber(valueRaw, unitRaw string, pattern ExtractorPattern) (value float64, unit string, notes []string, ok bool) {
	v, err := strconv.ParseFloat(strings.TrimSpace(valueRaw), 64)
	if err != nil {
		return 0, "", nil, false
	}
	alias := strings.ToLower(strings.TrimSpace(unitRaw))
	mult, known := pattern.UnitAliases[alias]
	if !known {
		return 0, "", []string{fmt.Sprintf("unknown unit: %s", unitRaw)}, false
	}
	return v * mult, pattern.TargetUnit, nil, true
}

func parseDate(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	for _, layout := range []string{"2006-01-02", "January 2, 2006", "Jan 2, 2006", "2006"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("extract: unrecognized date %q", raw)
}

// Committer persists ExtractionResults as the transactional unit spec.md
// §4.5 describes: claim + evidence inserted together, then the bucket's
// ConflictGroup recomputed from actual membership.
type Committer struct {
	db  *storage.DB
	reg *registry.Registry
}

// NewCommitter builds a Committer bound to a storage handle and registry
// snapshot.
func NewCommitter(db *storage.DB, reg *registry.Registry) *Committer {
	return &Committer{db: db, reg: reg}
}

// Commit writes one ExtractionResult's claim and evidence inside a single
// database transaction, then recomputes the bucket's ConflictGroup
// (spec.md §4.5's "storage" contract). The ConflictGroup recompute runs
// after the transaction commits rather than inside it: Grouper.Recompute
// reads back committed claims via the pool, and it is idempotent and
// re-derivable from current claim state, so a crash between claim commit
// and recompute leaves a merely stale claim_count that the Integrity
// Checker's check 6 repair (spec.md §4.10) already detects and fixes —
// not a correctness gap, just a narrower window than a single all-or-
// nothing transaction would give.
func (c *Committer) Commit(ctx context.Context, snippetID uuid.UUID, r ExtractionResult) (model.Claim, error) {
	claimKeyHash := hashing.ClaimKeyHash(r.EntityID.String(), r.AttributeID.String(), r.Scope)

	tx, err := c.db.Pool().Begin(ctx)
	if err != nil {
		return model.Claim{}, fmt.Errorf("extract: begin commit tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op once committed

	claim := model.Claim{
		ID:           uuid.New(),
		EntityID:     r.EntityID,
		AttributeID:  r.AttributeID,
		Scope:        r.Scope,
		ClaimKeyHash: claimKeyHash,
		Value:        r.Value,
		ParserNotes:  r.ParserNotes,
		CreatedAt:    time.Now().UTC(),
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO claims (id, entity_id, attribute_id, scope, claim_key_hash, value, valid_from, valid_to,
		 is_derived, source_claim_id, parser_notes, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, NULL, NULL, false, NULL, $7, $8)`,
		claim.ID, claim.EntityID, claim.AttributeID, map[string]any(claim.Scope), claim.ClaimKeyHash,
		claim.Value, claim.ParserNotes, claim.CreatedAt,
	)
	if err != nil {
		return model.Claim{}, fmt.Errorf("extract: insert claim: %w", err)
	}

	evidenceID := uuid.New()
	_, err = tx.Exec(ctx,
		`INSERT INTO evidence (id, claim_id, snippet_id, quote, stance, confidence, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		evidenceID, claim.ID, snippetID, r.Quote, string(model.StanceSupport), r.Confidence, claim.CreatedAt,
	)
	if err != nil {
		return model.Claim{}, fmt.Errorf("extract: insert evidence: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return model.Claim{}, fmt.Errorf("extract: commit claim+evidence: %w", err)
	}

	grouper := conflict.New(c.db, c.reg)
	if _, err := grouper.Recompute(ctx, claimKeyHash); err != nil {
		return claim, fmt.Errorf("extract: recompute bucket %s: %w", claimKeyHash, err)
	}
	return claim, nil
}
