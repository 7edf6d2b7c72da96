package scoring

import (
	"context"
	"log/slog"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/truthledger/ledger/internal/model"
	"github.com/truthledger/ledger/internal/storage"
	"github.com/truthledger/ledger/internal/testutil"
)

var testDB *storage.DB

func TestMain(m *testing.M) {
	tc := testutil.MustStartPostgres()
	defer tc.Terminate()

	var err error
	testDB, err = tc.NewTestDB(context.Background(), testutil.TestLogger())
	if err != nil {
		slog.Error("scoring_test: failed to set up test database", "error", err)
		os.Exit(1)
	}
	os.Exit(m.Run())
}

func TestJobSpecFetchReturnsUnscoredClaimsOnFirstRun(t *testing.T) {
	ctx := context.Background()
	entity, err := testDB.CreateEntity(ctx, model.Entity{Type: "engine", Name: uuid.NewString()})
	require.NoError(t, err)
	attr, err := testDB.CreateAttribute(ctx, model.Attribute{CanonicalName: "engines.isp_s", ValueType: model.ValueNumber})
	require.NoError(t, err)
	claim, err := testDB.CreateClaim(ctx, model.Claim{
		EntityID: entity.ID, AttributeID: attr.ID, ClaimKeyHash: uuid.NewString(), Value: model.NumberValue(282, "s"),
	})
	require.NoError(t, err)

	scorer := New(testDB)
	spec := NewJobSpec(testDB, scorer, 2)

	items, err := spec.Fetch(ctx)
	require.NoError(t, err)

	var found bool
	for _, item := range items {
		c, ok := item.(model.Claim)
		require.True(t, ok)
		if c.ID == claim.ID {
			found = true
		}
	}
	require.True(t, found, "expected claim with no prior successful score run to be in the work queue")
}

func TestJobSpecProcessRejectsWrongItemType(t *testing.T) {
	spec := NewJobSpec(testDB, New(testDB), 1)
	err := spec.Process(context.Background(), 42)
	require.Error(t, err)
}
