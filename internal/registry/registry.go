// Package registry implements the Entity & Attribute Registry (spec.md §4.2,
// C2): an immutable, in-memory alias index and attribute metadata table
// loaded once per pipeline run (spec.md §5 — a snapshot, so admin edits
// never racily affect an in-flight job).
package registry

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/google/uuid"

	"github.com/truthledger/ledger/internal/model"
)

// Hit is one alias match produced by FindEntities.
type Hit struct {
	Entity   model.Entity
	AliasHit string // the exact alias (case-folded) that matched
}

// Registry is an immutable snapshot of entities and attributes, safe for
// concurrent read-only use by many worker goroutines (spec.md §5).
type Registry struct {
	entities     []model.Entity
	aliasIndex   map[string]model.Entity // case-folded alias -> entity
	attributes   map[string]model.Attribute
	attributesByID map[uuid.UUID]model.Attribute
}

// Load builds a Registry from entities and attributes. It refuses to load
// (returns an error) if any two entities share an alias after case-folding,
// per spec.md §4.2's uniqueness invariant.
func Load(entities []model.Entity, attributes []model.Attribute) (*Registry, error) {
	r := &Registry{
		entities:       entities,
		aliasIndex:     make(map[string]model.Entity),
		attributes:     make(map[string]model.Attribute, len(attributes)),
		attributesByID: make(map[uuid.UUID]model.Attribute, len(attributes)),
	}

	for _, e := range entities {
		names := make([]string, 0, len(e.Aliases)+1)
		names = append(names, e.Name)
		names = append(names, e.Aliases...)
		for _, name := range names {
			key := strings.ToLower(name)
			if key == "" {
				continue
			}
			if existing, ok := r.aliasIndex[key]; ok && existing.ID != e.ID {
				return nil, fmt.Errorf("registry: alias %q claimed by both entity %s and %s", name, existing.ID, e.ID)
			}
			r.aliasIndex[key] = e
		}
	}

	for _, a := range attributes {
		if _, ok := r.attributes[a.CanonicalName]; ok {
			return nil, fmt.Errorf("registry: duplicate attribute %q", a.CanonicalName)
		}
		r.attributes[a.CanonicalName] = a
		r.attributesByID[a.ID] = a
	}

	return r, nil
}

// Attribute looks up an attribute by its canonical "TABLE.FIELD" name.
func (r *Registry) Attribute(canonicalName string) (model.Attribute, bool) {
	a, ok := r.attributes[canonicalName]
	return a, ok
}

// AttributeByID looks up an attribute by its stable id, the lookup the
// Conflict Grouper (C6) needs since a Claim row carries attribute_id, not
// the canonical name.
func (r *Registry) AttributeByID(id uuid.UUID) (model.Attribute, bool) {
	a, ok := r.attributesByID[id]
	return a, ok
}

// Entities returns the full entity list backing this snapshot.
func (r *Registry) Entities() []model.Entity {
	return r.entities
}

// isBoundary reports whether r is NOT a letter or digit, i.e. it's a valid
// flanking character for an alias match (spec.md §9 open question: the
// boundary rule is not spelled out by the original spec, so this
// implementation codifies one explicitly and tests pin it down).
func isBoundary(r rune) bool {
	return !unicode.IsLetter(r) && !unicode.IsDigit(r)
}

// FindEntities scans text for alias occurrences using a case-folded
// substring match with word-ish boundary checks (spec.md §4.2): an alias
// matches only when the characters immediately before and after the match
// (if any) are non-letter/non-digit. This makes "raptors" not match alias
// "raptor" (trailing "s" is a letter) while "Raptor-2" matches alias
// "Raptor" (trailing "-" is a boundary).
func (r *Registry) FindEntities(text string) []Hit {
	if text == "" || len(r.aliasIndex) == 0 {
		return nil
	}
	lower := strings.ToLower(text)
	runes := []rune(lower)

	var hits []Hit
	seen := make(map[string]bool) // dedupe identical (entity, alias) pairs
	for alias, entity := range r.aliasIndex {
		aliasRunes := []rune(alias)
		n := len(aliasRunes)
		if n == 0 {
			continue
		}
		for i := 0; i+n <= len(runes); i++ {
			if !runesEqual(runes[i:i+n], aliasRunes) {
				continue
			}
			if i > 0 && !isBoundary(runes[i-1]) {
				continue
			}
			if i+n < len(runes) && !isBoundary(runes[i+n]) {
				continue
			}
			key := entity.ID.String() + "::" + alias
			if seen[key] {
				continue
			}
			seen[key] = true
			hits = append(hits, Hit{Entity: entity, AliasHit: alias})
			break // one hit per alias is enough; entity may still match via other aliases
		}
	}
	return hits
}

func runesEqual(a, b []rune) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// EntityByID is a small convenience used by components that already hold an
// ID (e.g. the Extractor resolving a pattern's required entity type).
func (r *Registry) EntityByID(id uuid.UUID) (model.Entity, bool) {
	for _, e := range r.entities {
		if e.ID == id {
			return e, true
		}
	}
	return model.Entity{}, false
}
