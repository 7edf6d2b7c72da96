package integrity

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/truthledger/ledger/internal/model"
)

func TestJobSpecProcessRunsChecksAndRepairs(t *testing.T) {
	ctx := context.Background()
	claim := seedOrphanClaim(t, ctx)

	run, err := testDB.CreateSyncRun(ctx, model.JobIntegrity, "test-integrity-1")
	require.NoError(t, err)
	require.NoError(t, testDB.StartSyncRun(ctx, run.ID))

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	spec := NewJobSpec(testDB, New(testDB), logger)

	items, err := spec.Fetch(ctx)
	require.NoError(t, err)
	require.Len(t, items, 1)

	require.NoError(t, spec.Process(ctx, items[0]))

	_, err = testDB.GetClaim(ctx, claim.ID)
	require.Error(t, err, "expected the orphan claim to have been repaired away")

	require.NoError(t, testDB.CompleteSyncRun(ctx, run.ID, model.RunSuccess, nil))
	final, err := testDB.GetSyncRun(ctx, run.ID)
	require.NoError(t, err)
	require.NotNil(t, final.MerkleRoot)
	require.NotEmpty(t, *final.MerkleRoot)
}
