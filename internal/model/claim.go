package model

import (
	"time"

	"github.com/google/uuid"
)

// Scope is a small string-keyed map describing the conditions under which a
// Claim holds (altitude, orbit, edition, …). It is part of the bucket key
// after normalization (spec.md §4.1) and is represented the way §9 prescribes:
// a sorted string-to-primitive map, serialized canonically for hashing.
type Scope map[string]any

// TypedValue is a tagged variant over the value-type enum (spec.md §9): the
// systems-language analogue of the source's untyped JSON claim value.
// Exactly one of the typed fields is populated, per Type.
type TypedValue struct {
	Type ValueType `json:"type"`

	Number *float64 `json:"number,omitempty"`
	Text   *string  `json:"text,omitempty"`
	Bool   *bool    `json:"bool,omitempty"`

	RangeLow  *float64 `json:"range_low,omitempty"`
	RangeHigh *float64 `json:"range_high,omitempty"`

	Enum *string    `json:"enum,omitempty"`
	Date *time.Time `json:"date,omitempty"`

	// Unit is the canonical unit the value has been normalized to; only
	// meaningful for Number and Range values.
	Unit string `json:"unit,omitempty"`
}

// NumberValue builds a typed numeric value in the given canonical unit.
func NumberValue(v float64, unit string) TypedValue {
	return TypedValue{Type: ValueNumber, Number: &v, Unit: unit}
}

// TextValue builds a typed free-text value.
func TextValue(v string) TypedValue {
	return TypedValue{Type: ValueText, Text: &v}
}

// BoolValue builds a typed boolean value.
func BoolValue(v bool) TypedValue {
	return TypedValue{Type: ValueBoolean, Bool: &v}
}

// EnumValue builds a typed canonical-token value.
func EnumValue(token string) TypedValue {
	return TypedValue{Type: ValueEnum, Enum: &token}
}

// FactualStatus enumerates a ConflictGroup's disagreement state (spec.md §3, §4.6).
type FactualStatus string

const (
	StatusUnknown                FactualStatus = "unknown"
	StatusNoConflict             FactualStatus = "no_conflict"
	StatusActiveConflict         FactualStatus = "active_conflict"
	StatusResolvedByVersioning   FactualStatus = "resolved_by_versioning"
	StatusResolvedByScope        FactualStatus = "resolved_by_scope"
	StatusNeedsReview            FactualStatus = "needs_review"
)

// ConflictGroup (a "bucket") is the equivalence class of claims sharing
// (entity, attribute, normalized scope), keyed by ClaimKeyHash (spec.md §3).
type ConflictGroup struct {
	ClaimKeyHash    string        `json:"claim_key_hash"`
	EntityID        uuid.UUID     `json:"entity_id"`
	AttributeID     uuid.UUID     `json:"attribute_id"`
	Scope           Scope         `json:"scope"`
	ClaimCount      int           `json:"claim_count"`
	ConflictPresent bool          `json:"conflict_present"`
	FactualStatus   FactualStatus `json:"factual_status"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

// Claim is a single typed assertion inside a bucket, carrying provenance
// (spec.md §3).
type Claim struct {
	ID              uuid.UUID   `json:"id"`
	EntityID        uuid.UUID   `json:"entity_id"`
	AttributeID     uuid.UUID   `json:"attribute_id"`
	Scope           Scope       `json:"scope"`
	ClaimKeyHash    string      `json:"claim_key_hash"`
	Value           TypedValue  `json:"value"`
	ValidFrom       *time.Time  `json:"valid_from,omitempty"`
	ValidTo         *time.Time  `json:"valid_to,omitempty"`
	IsDerived       bool        `json:"is_derived"`
	SourceClaimID   *uuid.UUID  `json:"source_claim_id,omitempty"`
	ParserNotes     []string    `json:"parser_notes,omitempty"`
	CreatedAt       time.Time   `json:"created_at"`
}

// Stance enumerates how a piece of Evidence relates to its Claim (spec.md §3).
type Stance string

const (
	StanceSupport    Stance = "support"
	StanceContradict Stance = "contradict"
	StanceNeutral    Stance = "neutral"
)

// Evidence links a Claim to the Snippet that supports, contradicts, or is
// neutral toward it (spec.md §3).
type Evidence struct {
	ID         uuid.UUID `json:"id"`
	ClaimID    uuid.UUID `json:"claim_id"`
	SnippetID  uuid.UUID `json:"snippet_id"`
	Quote      string    `json:"quote"`
	Stance     Stance    `json:"stance"`
	Confidence float64   `json:"confidence"`
	CreatedAt  time.Time `json:"created_at"`
}

// FieldLink is a shortcut from (entity, field) to a claim_key_hash, for
// direct lookup from a legacy column (spec.md §3). ClaimKeyHash is nulled
// out by the Integrity Checker's repair for check 7 when it no longer
// resolves to a ConflictGroup.
type FieldLink struct {
	ID           uuid.UUID `json:"id"`
	EntityID     uuid.UUID `json:"entity_id"`
	FieldName    string    `json:"field_name"`
	ClaimKeyHash *string   `json:"claim_key_hash,omitempty"`
}
