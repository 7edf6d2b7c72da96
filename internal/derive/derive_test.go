package derive

import (
	"testing"

	"github.com/google/uuid"

	"github.com/truthledger/ledger/internal/model"
)

func TestPreferVacuumOverSeaLevelPicksVacuumScope(t *testing.T) {
	seaLevel := model.Claim{ID: uuid.New(), Scope: model.Scope{"altitude": "sea_level"}, Value: model.NumberValue(282, "s")}
	vacuum := model.Claim{ID: uuid.New(), Scope: model.Scope{"altitude": "vacuum"}, Value: model.NumberValue(311, "s")}

	got := PreferVacuumOverSeaLevel([]model.Claim{seaLevel, vacuum})
	if got.ID != vacuum.ID {
		t.Fatalf("expected vacuum-scoped claim to win, got %+v", got)
	}
}

func TestPreferVacuumOverSeaLevelFallsBackToFirst(t *testing.T) {
	a := model.Claim{ID: uuid.New(), Scope: model.Scope{"altitude": "sea_level"}, Value: model.NumberValue(282, "s")}
	b := model.Claim{ID: uuid.New(), Scope: model.Scope{"altitude": "sea_level"}, Value: model.NumberValue(280, "s")}

	got := PreferVacuumOverSeaLevel([]model.Claim{a, b})
	if got.ID != a.ID {
		t.Fatalf("expected first candidate as fallback, got %+v", got)
	}
}

func TestDefaultPolicyPicksFirstCandidate(t *testing.T) {
	a := model.Claim{ID: uuid.New()}
	b := model.Claim{ID: uuid.New()}
	got := DefaultPolicy([]model.Claim{a, b})
	if got.ID != a.ID {
		t.Fatalf("expected oldest (first) candidate, got %+v", got)
	}
}
