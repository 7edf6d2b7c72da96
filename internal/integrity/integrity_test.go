package integrity

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/truthledger/ledger/internal/model"
	"github.com/truthledger/ledger/internal/storage"
	"github.com/truthledger/ledger/internal/testutil"
)

func TestHashPairIsOrderSensitive(t *testing.T) {
	a := hashPair("foo", "bar")
	b := hashPair("bar", "foo")
	if a == b {
		t.Fatal("hashPair(a, b) should differ from hashPair(b, a)")
	}
}

func TestBuildMerkleRootSingleLeafIsItself(t *testing.T) {
	if got := BuildMerkleRoot([]string{"leaf1"}); got != "leaf1" {
		t.Fatalf("expected single leaf to be its own root, got %q", got)
	}
}

func TestBuildMerkleRootEmptyIsEmptyString(t *testing.T) {
	if got := BuildMerkleRoot(nil); got != "" {
		t.Fatalf("expected empty root for no leaves, got %q", got)
	}
}

func TestBuildMerkleRootDeterministic(t *testing.T) {
	leaves := []string{"a", "b", "c"}
	r1 := BuildMerkleRoot(leaves)
	r2 := BuildMerkleRoot(leaves)
	if r1 != r2 {
		t.Fatalf("same leaves should produce the same root: %q != %q", r1, r2)
	}
	if r1 == "" {
		t.Fatal("root should not be empty for non-empty leaves")
	}
}

func TestBuildMerkleRootOddCountHandledWithoutPanic(t *testing.T) {
	leaves := []string{"a", "b", "c", "d", "e"}
	if got := BuildMerkleRoot(leaves); got == "" {
		t.Fatal("expected a non-empty root for an odd leaf count")
	}
}

func TestBuildMerkleRootChangesWithAnyLeaf(t *testing.T) {
	base := BuildMerkleRoot([]string{"a", "b", "c", "d"})
	changed := BuildMerkleRoot([]string{"a", "b", "c", "z"})
	if base == changed {
		t.Fatal("changing one leaf should change the root")
	}
}

func TestComputeBatchProofIsOrderIndependent(t *testing.T) {
	syncRunID := uuid.New()
	claimA := uuid.New()
	claimB := uuid.New()
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

	p1 := ComputeBatchProof(syncRunID, []ClaimLeafInput{
		{ClaimID: claimA, ClaimKeyHash: "hash-a", Value: model.NumberValue(1, "s")},
		{ClaimID: claimB, ClaimKeyHash: "hash-b", Value: model.NumberValue(2, "s")},
	}, now)
	p2 := ComputeBatchProof(syncRunID, []ClaimLeafInput{
		{ClaimID: claimB, ClaimKeyHash: "hash-b", Value: model.NumberValue(2, "s")},
		{ClaimID: claimA, ClaimKeyHash: "hash-a", Value: model.NumberValue(1, "s")},
	}, now)

	if p1.MerkleRoot != p2.MerkleRoot {
		t.Fatalf("batch proof should not depend on input order: %q != %q", p1.MerkleRoot, p2.MerkleRoot)
	}
	if p1.ClaimCount != 2 {
		t.Fatalf("expected claim count 2, got %d", p1.ClaimCount)
	}
}

func TestComputeBatchProofDetectsTamperedValue(t *testing.T) {
	syncRunID := uuid.New()
	claimA := uuid.New()
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

	before := ComputeBatchProof(syncRunID, []ClaimLeafInput{
		{ClaimID: claimA, ClaimKeyHash: "hash-a", Value: model.NumberValue(452.3, "s")},
	}, now)
	after := ComputeBatchProof(syncRunID, []ClaimLeafInput{
		{ClaimID: claimA, ClaimKeyHash: "hash-a", Value: model.NumberValue(999, "s")},
	}, now)

	if before.MerkleRoot == after.MerkleRoot {
		t.Fatal("root should change when a claim's value changes after the run")
	}
}

func TestScopesEqualIgnoresKeyOrderButNotValue(t *testing.T) {
	a := map[string]any{"altitude": "vacuum", "stage": "upper"}
	b := map[string]any{"stage": "upper", "altitude": "vacuum"}
	if !scopesEqual(a, b) {
		t.Fatal("scopesEqual should ignore map iteration order")
	}

	c := map[string]any{"altitude": "sea_level", "stage": "upper"}
	if scopesEqual(a, c) {
		t.Fatal("scopesEqual should not equate differing values")
	}

	d := map[string]any{"altitude": "vacuum"}
	if scopesEqual(a, d) {
		t.Fatal("scopesEqual should not equate maps of differing size")
	}
}

var testDB *storage.DB

func TestMain(m *testing.M) {
	tc := testutil.MustStartPostgres()
	defer tc.Terminate()

	var err error
	testDB, err = tc.NewTestDB(context.Background(), testutil.TestLogger())
	if err != nil {
		slog.Error("integrity_test: failed to set up test database", "error", err)
		os.Exit(1)
	}
	os.Exit(m.Run())
}

// seedOrphanClaim creates a claim with no evidence, tripping check 1.
func seedOrphanClaim(t *testing.T, ctx context.Context) model.Claim {
	t.Helper()
	entity, err := testDB.CreateEntity(ctx, model.Entity{Type: "engine", Name: uuid.NewString()})
	require.NoError(t, err)
	attr, err := testDB.CreateAttribute(ctx, model.Attribute{CanonicalName: "engines.isp_s", ValueType: model.ValueNumber})
	require.NoError(t, err)
	claim, err := testDB.CreateClaim(ctx, model.Claim{
		EntityID: entity.ID, AttributeID: attr.ID, ClaimKeyHash: uuid.NewString(), Value: model.NumberValue(100, "s"),
	})
	require.NoError(t, err)
	return claim
}

func TestRunAllFindsOrphanClaims(t *testing.T) {
	ctx := context.Background()
	claim := seedOrphanClaim(t, ctx)

	violations, err := New(testDB).RunAll(ctx)
	require.NoError(t, err)

	found := false
	for _, v := range violations {
		if v.Check != CheckClaimsWithoutEvidence {
			continue
		}
		for _, id := range v.SubjectIDs {
			if id == claim.ID {
				found = true
			}
		}
	}
	require.True(t, found, "expected RunAll to flag orphan claim %s", claim.ID)
}

func TestRepairOrphanClaimsDeletesFlaggedRows(t *testing.T) {
	ctx := context.Background()
	claim := seedOrphanClaim(t, ctx)

	checker := New(testDB)
	n, err := checker.RepairOrphanClaims(ctx)
	require.NoError(t, err)
	require.GreaterOrEqual(t, n, 1)

	_, err = testDB.GetClaim(ctx, claim.ID)
	require.Error(t, err)
}

func TestRepairConflictGroupCountsFixesMismatch(t *testing.T) {
	ctx := context.Background()
	entity, err := testDB.CreateEntity(ctx, model.Entity{Type: "engine", Name: uuid.NewString()})
	require.NoError(t, err)
	attr, err := testDB.CreateAttribute(ctx, model.Attribute{CanonicalName: "engines.isp_s", ValueType: model.ValueNumber})
	require.NoError(t, err)

	hash := uuid.NewString()
	_, err = testDB.CreateClaim(ctx, model.Claim{
		EntityID: entity.ID, AttributeID: attr.ID, ClaimKeyHash: hash, Value: model.NumberValue(200, "s"),
	})
	require.NoError(t, err)

	_, err = testDB.UpsertConflictGroup(ctx, model.ConflictGroup{
		ClaimKeyHash: hash, EntityID: entity.ID, AttributeID: attr.ID,
		ClaimCount: 99, FactualStatus: model.StatusNoConflict,
	})
	require.NoError(t, err)

	n, err := New(testDB).RepairConflictGroupCounts(ctx)
	require.NoError(t, err)
	require.GreaterOrEqual(t, n, 1)

	groups, err := testDB.ConflictGroupCountMismatches(ctx)
	require.NoError(t, err)
	for _, h := range groups {
		require.NotEqual(t, hash, h)
	}
}

func TestRepairInvalidFieldLinksNullsTarget(t *testing.T) {
	ctx := context.Background()
	entity, err := testDB.CreateEntity(ctx, model.Entity{Type: "engine", Name: uuid.NewString()})
	require.NoError(t, err)

	_, err = testDB.UpsertFieldLink(ctx, entity.ID, "engines.isp_s", "does-not-exist-as-a-group")
	require.NoError(t, err)

	n, err := New(testDB).RepairInvalidFieldLinks(ctx)
	require.NoError(t, err)
	require.GreaterOrEqual(t, n, 1)

	got, err := testDB.GetFieldLink(ctx, entity.ID, "engines.isp_s")
	require.NoError(t, err)
	require.Nil(t, got.ClaimKeyHash)
}

func TestRunAllCleanLedgerHasNoCriticalViolations(t *testing.T) {
	ctx := context.Background()
	// Earlier tests in this package share the database and leave claims
	// with no evidence behind; clear them so the ledger starts clean.
	_, err := New(testDB).RepairOrphanClaims(ctx)
	require.NoError(t, err)
	src, err := testDB.CreateSource(ctx, model.Source{Name: uuid.NewString(), Type: model.SourceGovernmentAgncy, BaseTrust: 0.9})
	require.NoError(t, err)
	doc, err := testDB.CreateDocument(ctx, model.Document{SourceID: src.ID, ContentHash: uuid.NewString(), DocType: model.DocTechnicalReport})
	require.NoError(t, err)
	require.NoError(t, testDB.CreateSnippetsBatch(ctx, []model.Snippet{
		{ID: uuid.New(), DocumentID: doc.ID, Locator: "p[1]", NormalizedText: "isp 300s", SnippetHash: uuid.NewString(), Type: model.SnippetText},
	}))
	snippets, err := testDB.GetSnippetsByDocument(ctx, doc.ID)
	require.NoError(t, err)

	entity, err := testDB.CreateEntity(ctx, model.Entity{Type: "engine", Name: uuid.NewString()})
	require.NoError(t, err)
	attr, err := testDB.CreateAttribute(ctx, model.Attribute{CanonicalName: "engines.isp_s", ValueType: model.ValueNumber})
	require.NoError(t, err)
	hash := uuid.NewString()
	claim, err := testDB.CreateClaim(ctx, model.Claim{
		EntityID: entity.ID, AttributeID: attr.ID, ClaimKeyHash: hash, Value: model.NumberValue(300, "s"),
	})
	require.NoError(t, err)
	require.NoError(t, testDB.CreateEvidenceBatch(ctx, []model.Evidence{
		{ID: uuid.New(), ClaimID: claim.ID, SnippetID: snippets[0].ID, Quote: "isp 300s", Stance: model.StanceSupport, Confidence: 0.9},
	}))
	_, err = testDB.UpsertTruthMetrics(ctx, model.TruthMetrics{
		ClaimID: claim.ID, TruthRaw: 0.8, SupportScore: 0.8, IndependentSources: 1,
		Factors: model.ScoringFactors{CapsApplied: []string{}},
	})
	require.NoError(t, err)
	_, err = testDB.UpsertConflictGroup(ctx, model.ConflictGroup{
		ClaimKeyHash: hash, EntityID: entity.ID, AttributeID: attr.ID,
		ClaimCount: 1, FactualStatus: model.StatusNoConflict,
	})
	require.NoError(t, err)

	violations, err := New(testDB).RunAll(ctx)
	require.NoError(t, err)
	for _, v := range violations {
		require.NotEqualf(t, SeverityCritical, v.Severity, "unexpected critical violation: %+v", v)
	}
}
