package orchestrator_test

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/truthledger/ledger/internal/model"
	"github.com/truthledger/ledger/internal/orchestrator"
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
		slog.Error("orchestrator_test: failed to set up test database", "error", err)
		os.Exit(1)
	}
	os.Exit(m.Run())
}

func waitForTerminal(t *testing.T, ctx context.Context, runID interface {
	String() string
}, get func() (model.SyncRun, error)) model.SyncRun {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		run, err := get()
		require.NoError(t, err)
		switch run.State {
		case model.RunSuccess, model.RunFailed, model.RunCancelled:
			return run
		}
		select {
		case <-deadline:
			t.Fatalf("run %s did not reach a terminal state in time (last state %q)", runID.String(), run.State)
		case <-time.After(20 * time.Millisecond):
		}
	}
}

func TestStartProcessesAllItemsAndSucceeds(t *testing.T) {
	ctx := context.Background()
	o := orchestrator.New(testDB, testutil.TestLogger())

	var processed atomic.Int32
	o.Register(orchestrator.JobSpec{
		JobType: model.JobIngest,
		Workers: 2,
		Fetch: func(ctx context.Context) ([]any, error) {
			return []any{1, 2, 3, 4, 5}, nil
		},
		Process: func(ctx context.Context, item any) error {
			processed.Add(1)
			return nil
		},
	})

	run, err := o.Start(ctx, model.JobIngest, "corr-ingest-1")
	require.NoError(t, err)

	final := waitForTerminal(t, ctx, run.ID, func() (model.SyncRun, error) {
		return testDB.GetSyncRun(ctx, run.ID)
	})
	require.Equal(t, model.RunSuccess, final.State)
	require.Equal(t, int32(5), processed.Load())
	require.Equal(t, 5, final.Processed)
}

func TestStartRefusesSecondRunOfSameJobType(t *testing.T) {
	ctx := context.Background()
	o := orchestrator.New(testDB, testutil.TestLogger())

	block := make(chan struct{})
	o.Register(orchestrator.JobSpec{
		JobType: model.JobExtract,
		Workers: 1,
		Fetch: func(ctx context.Context) ([]any, error) {
			return []any{1}, nil
		},
		Process: func(ctx context.Context, item any) error {
			<-block
			return nil
		},
	})

	run, err := o.Start(ctx, model.JobExtract, "corr-extract-1")
	require.NoError(t, err)

	_, err = o.Start(ctx, model.JobExtract, "corr-extract-2")
	require.Error(t, err)
	require.ErrorIs(t, err, storage.ErrConflict)

	close(block)
	waitForTerminal(t, ctx, run.ID, func() (model.SyncRun, error) {
		return testDB.GetSyncRun(ctx, run.ID)
	})
}

func TestStartFailsRunWhenAllUnitsError(t *testing.T) {
	ctx := context.Background()
	o := orchestrator.New(testDB, testutil.TestLogger())

	boom := errors.New("boom")
	o.Register(orchestrator.JobSpec{
		JobType: model.JobScore,
		Workers: 2,
		Fetch: func(ctx context.Context) ([]any, error) {
			return []any{1, 2, 3}, nil
		},
		Process: func(ctx context.Context, item any) error {
			return boom
		},
	})

	run, err := o.Start(ctx, model.JobScore, "corr-score-1")
	require.NoError(t, err)

	final := waitForTerminal(t, ctx, run.ID, func() (model.SyncRun, error) {
		return testDB.GetSyncRun(ctx, run.ID)
	})
	require.Equal(t, model.RunFailed, final.State)
	require.NotNil(t, final.Error)
}

// TestStartSucceedsWhenSomeUnitsErrorButOthersDontCovers spec.md §4.11/§7:
// an uncaught unit error is logged and the run continues; it only ends
// RunFailed if zero units succeeded.
func TestStartSucceedsWhenSomeUnitsErrorButOthersDont(t *testing.T) {
	ctx := context.Background()
	o := orchestrator.New(testDB, testutil.TestLogger())

	boom := errors.New("boom")
	var processedCount atomic.Int32
	o.Register(orchestrator.JobSpec{
		JobType: model.JobExtract,
		Workers: 1,
		Fetch: func(ctx context.Context) ([]any, error) {
			return []any{1, 2, 3}, nil
		},
		Process: func(ctx context.Context, item any) error {
			processedCount.Add(1)
			if item.(int) == 2 {
				return boom
			}
			return nil
		},
	})

	run, err := o.Start(ctx, model.JobExtract, "corr-extract-partial-1")
	require.NoError(t, err)

	final := waitForTerminal(t, ctx, run.ID, func() (model.SyncRun, error) {
		return testDB.GetSyncRun(ctx, run.ID)
	})
	require.Equal(t, model.RunSuccess, final.State)
	require.Equal(t, int32(3), processedCount.Load(), "sibling items must still run after one unit fails")
	require.Equal(t, 3, final.Processed)
	require.NotNil(t, final.Error, "the failed unit should still be surfaced even though the run succeeded")
}

func TestStartWithNoWorkItemsSucceedsImmediately(t *testing.T) {
	ctx := context.Background()
	o := orchestrator.New(testDB, testutil.TestLogger())

	o.Register(orchestrator.JobSpec{
		JobType: model.JobDerive,
		Workers: 1,
		Fetch: func(ctx context.Context) ([]any, error) {
			return nil, nil
		},
		Process: func(ctx context.Context, item any) error {
			return fmt.Errorf("should never be called")
		},
	})

	run, err := o.Start(ctx, model.JobDerive, "corr-derive-1")
	require.NoError(t, err)

	final := waitForTerminal(t, ctx, run.ID, func() (model.SyncRun, error) {
		return testDB.GetSyncRun(ctx, run.ID)
	})
	require.Equal(t, model.RunSuccess, final.State)
}

func TestCancelStopsOutstandingWork(t *testing.T) {
	ctx := context.Background()
	o := orchestrator.New(testDB, testutil.TestLogger())

	started := make(chan struct{}, 1)
	o.Register(orchestrator.JobSpec{
		JobType: model.JobIntegrity,
		Workers: 1,
		Fetch: func(ctx context.Context) ([]any, error) {
			return []any{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, nil
		},
		Process: func(ctx context.Context, item any) error {
			select {
			case started <- struct{}{}:
			default:
			}
			time.Sleep(10 * time.Millisecond)
			return nil
		},
	})

	run, err := o.Start(ctx, model.JobIntegrity, "corr-integrity-1")
	require.NoError(t, err)

	<-started
	require.True(t, o.Cancel(run.ID))

	final := waitForTerminal(t, ctx, run.ID, func() (model.SyncRun, error) {
		return testDB.GetSyncRun(ctx, run.ID)
	})
	require.Equal(t, model.RunCancelled, final.State)
}
