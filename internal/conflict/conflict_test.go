package conflict

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/truthledger/ledger/internal/model"
)

func ptrF(f float64) *float64 { return &f }

func TestEqualUnderToleranceSymmetricAndReflexive(t *testing.T) {
	absTol := ptrF(0.0)
	relTol := ptrF(0.02)
	a, b := 845000.0, 854000.0
	if EqualUnderTolerance(a, b, absTol, relTol) != EqualUnderTolerance(b, a, absTol, relTol) {
		t.Fatal("equal_under_tolerance must be symmetric")
	}
	if !EqualUnderTolerance(a, a, absTol, relTol) {
		t.Fatal("equal_under_tolerance must be reflexive")
	}
}

func TestEqualUnderToleranceWithinBound(t *testing.T) {
	relTol := ptrF(0.02)
	if !EqualUnderTolerance(845000, 854000, nil, relTol) {
		t.Fatal("845kN and 854kN should be within 2% relative tolerance")
	}
	if EqualUnderTolerance(845000, 1200000, nil, relTol) {
		t.Fatal("845kN and 1200kN should not be within 2% relative tolerance")
	}
}

func TestClassifyGroupsNumericWithinTolerance(t *testing.T) {
	attr := model.Attribute{ValueType: model.ValueNumber, RelativeTol: ptrF(0.02)}
	claims := []model.Claim{
		{ID: uuid.New(), Value: model.NumberValue(845000, "N")},
		{ID: uuid.New(), Value: model.NumberValue(854000, "N")},
	}
	classes := Classify(claims, attr)
	if len(classes) != 1 {
		t.Fatalf("expected 1 equivalence class, got %d", len(classes))
	}
}

func TestClassifySeparatesIrreconcilableValues(t *testing.T) {
	attr := model.Attribute{ValueType: model.ValueNumber, RelativeTol: ptrF(0.02)}
	claims := []model.Claim{
		{ID: uuid.New(), Value: model.NumberValue(845000, "N")},
		{ID: uuid.New(), Value: model.NumberValue(1200000, "N")},
	}
	classes := Classify(claims, attr)
	if len(classes) != 2 {
		t.Fatalf("expected 2 equivalence classes, got %d", len(classes))
	}
	if DeriveFactualStatus(classes) != model.StatusActiveConflict {
		t.Fatalf("expected active_conflict, got %s", DeriveFactualStatus(classes))
	}
}

func TestDeriveFactualStatusNoConflict(t *testing.T) {
	attr := model.Attribute{ValueType: model.ValueNumber}
	claims := []model.Claim{{ID: uuid.New(), Value: model.NumberValue(452, "s")}}
	classes := Classify(claims, attr)
	if DeriveFactualStatus(classes) != model.StatusNoConflict {
		t.Fatal("single claim bucket must be no_conflict")
	}
}

func TestDeriveFactualStatusResolvedByVersioning(t *testing.T) {
	attr := model.Attribute{ValueType: model.ValueNumber}
	t1 := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	t2 := time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)
	t3 := time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC)
	claims := []model.Claim{
		{ID: uuid.New(), Value: model.NumberValue(100, "s"), ValidFrom: &t1, ValidTo: &t2},
		{ID: uuid.New(), Value: model.NumberValue(200, "s"), ValidFrom: &t2, ValidTo: &t3},
	}
	classes := Classify(claims, attr)
	if len(classes) != 2 {
		t.Fatalf("expected 2 classes, got %d", len(classes))
	}
	if DeriveFactualStatus(classes) != model.StatusResolvedByVersioning {
		t.Fatalf("expected resolved_by_versioning, got %s", DeriveFactualStatus(classes))
	}
}

func TestClassifyTextCanonicalization(t *testing.T) {
	attr := model.Attribute{ValueType: model.ValueText}
	claims := []model.Claim{
		{ID: uuid.New(), Value: model.TextValue("  Reusable  ")},
		{ID: uuid.New(), Value: model.TextValue("reusable")},
	}
	classes := Classify(claims, attr)
	if len(classes) != 1 {
		t.Fatalf("expected trim+lowercase to unify text values, got %d classes", len(classes))
	}
}
