package registry

import (
	"testing"

	"github.com/google/uuid"

	"github.com/truthledger/ledger/internal/model"
)

func mustLoad(t *testing.T, entities []model.Entity) *Registry {
	t.Helper()
	r, err := Load(entities, nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	return r
}

func TestFindEntitiesBoundaryRules(t *testing.T) {
	raptor := model.Entity{ID: uuid.New(), Name: "Raptor", Aliases: []string{"Raptor-2"}}
	r := mustLoad(t, []model.Entity{raptor})

	hits := r.FindEntities("The raptors are loud")
	if len(hits) != 0 {
		t.Fatalf("expected no match for 'raptors' against alias 'raptor', got %v", hits)
	}

	hits = r.FindEntities("The Raptor-2 engine")
	if len(hits) == 0 {
		t.Fatal("expected 'Raptor-2' to match alias 'Raptor-2'")
	}

	hits = r.FindEntities("A Raptor engine roars")
	if len(hits) == 0 {
		t.Fatal("expected 'Raptor' to match its own canonical name")
	}
}

func TestLoadRefusesAliasCollision(t *testing.T) {
	a := model.Entity{ID: uuid.New(), Name: "Merlin 1D", Aliases: []string{"Merlin"}}
	b := model.Entity{ID: uuid.New(), Name: "Merlin Vacuum", Aliases: []string{"merlin"}}
	if _, err := Load([]model.Entity{a, b}, nil); err == nil {
		t.Fatal("expected Load to refuse colliding aliases")
	}
}

func TestFindEntitiesMultipleHits(t *testing.T) {
	e1 := model.Entity{ID: uuid.New(), Name: "RS-25"}
	e2 := model.Entity{ID: uuid.New(), Name: "Merlin 1D"}
	r := mustLoad(t, []model.Entity{e1, e2})

	hits := r.FindEntities("Comparing the RS-25 to the Merlin 1D engine.")
	if len(hits) != 2 {
		t.Fatalf("expected 2 hits, got %d: %+v", len(hits), hits)
	}
}

func TestAttributeLookup(t *testing.T) {
	attr := model.Attribute{ID: uuid.New(), CanonicalName: "engines.isp_s", ValueType: model.ValueNumber}
	r, err := Load(nil, []model.Attribute{attr})
	if err != nil {
		t.Fatal(err)
	}
	got, ok := r.Attribute("engines.isp_s")
	if !ok || got.CanonicalName != "engines.isp_s" {
		t.Fatalf("expected to find attribute, got %+v ok=%v", got, ok)
	}
	if _, ok := r.Attribute("unknown.field"); ok {
		t.Fatal("expected unknown attribute to be absent")
	}
	byID, ok := r.AttributeByID(attr.ID)
	if !ok || byID.CanonicalName != "engines.isp_s" {
		t.Fatalf("expected to find attribute by id, got %+v ok=%v", byID, ok)
	}
}
