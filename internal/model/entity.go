package model

import "github.com/google/uuid"

// Entity is a real-world referent a Claim can be about (spec.md §3, §4.2).
type Entity struct {
	ID      uuid.UUID `json:"id"`
	Type    string    `json:"entity_type"`
	Name    string    `json:"canonical_name"`
	Aliases []string  `json:"aliases"`
}

// ValueType enumerates the shapes a Claim's value may take (spec.md §3, §9).
type ValueType string

const (
	ValueNumber  ValueType = "number"
	ValueText    ValueType = "text"
	ValueBoolean ValueType = "boolean"
	ValueRange   ValueType = "range"
	ValueEnum    ValueType = "enum"
	ValueDate    ValueType = "date"
)

// Attribute is a named measurable property, canonically named "TABLE.FIELD"
// (e.g. "engines.isp_s"), carrying the tolerances used by the Conflict
// Grouper (C6) to decide whether two numeric claims agree (spec.md §3, §4.6).
type Attribute struct {
	ID            uuid.UUID `json:"id"`
	CanonicalName string    `json:"canonical_name"`
	ValueType     ValueType `json:"value_type"`
	CanonicalUnit string    `json:"canonical_unit,omitempty"`
	AbsoluteTol   *float64  `json:"absolute_tolerance,omitempty"`
	RelativeTol   *float64  `json:"relative_tolerance,omitempty"`
}
