package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/tally/internal/cellstate"
	"github.com/wonny/tally/internal/contracts"
	"github.com/wonny/tally/internal/testutil"
)

func fixedClock() func() time.Time {
	t0 := time.Date(2025, 10, 25, 20, 0, 0, 0, time.UTC)
	n := 0
	return func() time.Time {
		n++
		return t0.Add(time.Duration(n) * time.Minute)
	}
}

func TestMemoryStore_UnknownCellsArePending(t *testing.T) {
	store := NewMemoryStore()

	snap, err := store.Snapshot(context.Background(), []string{"C1"})
	require.NoError(t, err)
	assert.Equal(t, int64(0), snap.Revision)
	assert.True(t, snap.AsOf.IsZero())
	assert.Equal(t, contracts.CellPending, snap.Cell("C1").Status)
}

func TestMemoryStore_ReplaceNotAppend(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore().WithClock(fixedClock())
	decide := cellstate.Decide(cellstate.ImportSucceeded)

	first, err := store.ReplaceImport(ctx, testutil.Batch("C1",
		testutil.Row("", 100, 30, 30),
		testutil.Row("", 100, 20, 20),
	), "gen-1", decide)
	require.NoError(t, err)
	assert.Equal(t, contracts.CellPending, first.PreviousStatus)
	assert.Equal(t, contracts.CellImported, first.Status)
	assert.Equal(t, 0, first.Replaced)

	second, err := store.ReplaceImport(ctx, testutil.Batch("C1",
		testutil.Row("", 100, 70, 70),
	), "gen-2", decide)
	require.NoError(t, err)
	assert.Equal(t, 2, second.Replaced)
	assert.Greater(t, second.Revision, first.Revision)

	snap, err := store.Snapshot(ctx, []string{"C1"})
	require.NoError(t, err)
	cell := snap.Cell("C1")
	require.Len(t, cell.Rows, 1)
	assert.Equal(t, "gen-2", cell.Generation)
	assert.Equal(t, "gen-2", cell.Rows[0].Generation)
	assert.Equal(t, int64(70), cell.Rows[0].Voters)
}

func TestMemoryStore_RejectedDecisionLeavesCell(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	_, err := store.ReplaceImport(ctx, testutil.Batch("C1", testutil.Row("", 100, 50, 50)), "g1", cellstate.Decide(cellstate.ImportSucceeded))
	require.NoError(t, err)
	_, err = store.Transition(ctx, []string{"C1"}, cellstate.Decide(cellstate.Release), contracts.OutcomeReleased, "admin")
	require.NoError(t, err)
	rev, _ := store.Revision(ctx)

	_, err = store.ReplaceImport(ctx, testutil.Batch("C1", testutil.Row("", 100, 90, 90)), "g2", cellstate.Decide(cellstate.ImportSucceeded))
	require.Error(t, err)
	assert.True(t, errors.Is(err, contracts.ErrPublishedLocked))

	after, _ := store.Revision(ctx)
	assert.Equal(t, rev, after)

	snap, _ := store.Snapshot(ctx, []string{"C1"})
	assert.Equal(t, "g1", snap.Cell("C1").Generation)
	assert.Equal(t, contracts.CellPublished, snap.Cell("C1").Status)
	assert.NotNil(t, snap.Cell("C1").PublishedAt)
}

func TestMemoryStore_Transition(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	for _, code := range []string{"C1", "C2"} {
		_, err := store.ReplaceImport(ctx, testutil.Batch(code, testutil.Row("", 10, 5, 5)), "g-"+code, cellstate.Decide(cellstate.ImportSucceeded))
		require.NoError(t, err)
	}

	report, err := store.Transition(ctx, []string{"C2", "C1", "C3", "C1"}, cellstate.Decide(cellstate.Release), contracts.OutcomeReleased, "admin")
	require.NoError(t, err)
	assert.Equal(t, []string{"C1", "C2"}, report.Changed)
	assert.Contains(t, report.Skipped, "C3")
	assert.Equal(t, int64(3), report.Revision)

	again, err := store.Transition(ctx, []string{"C1"}, cellstate.Decide(cellstate.Release), contracts.OutcomeReleased, "admin")
	require.NoError(t, err)
	assert.Empty(t, again.Changed)
	assert.Equal(t, "unchanged", again.Skipped["C1"])
	assert.Equal(t, int64(3), again.Revision)

	history, err := store.History(ctx, "C1", 10)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, contracts.OutcomeReleased, history[0].Outcome)
	assert.Equal(t, contracts.OutcomeImported, history[1].Outcome)
}

func TestMemoryStore_RecordFailureKeepsRevision(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	batch := testutil.Batch("C1", testutil.Row("", 10, 5, 5))
	require.NoError(t, store.RecordFailure(ctx, batch, "row 1: bad"))

	rev, _ := store.Revision(ctx)
	assert.Equal(t, int64(0), rev)

	snap, _ := store.Snapshot(ctx, []string{"C1"})
	assert.Equal(t, contracts.CellPending, snap.Cell("C1").Status)
	assert.Equal(t, "row 1: bad", snap.Cell("C1").LastError)
}

// Readers must see either the old generation or the new one
func TestMemoryStore_ConcurrentReplaceNeverMixes(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	decide := cellstate.Decide(cellstate.ImportSucceeded)

	batchOf := func(voters int64) contracts.ImportBatch {
		return testutil.Batch("C1",
			testutil.Row("", 1000, voters, voters),
			testutil.Row("", 1000, voters, voters),
			testutil.Row("", 1000, voters, voters),
		)
	}
	_, err := store.ReplaceImport(ctx, batchOf(10), "g0", decide)
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			_, _ = store.ReplaceImport(ctx, batchOf(int64(10+i%2)), "g", decide)
		}
	}()

	for i := 0; i < 200; i++ {
		snap, err := store.Snapshot(ctx, []string{"C1"})
		require.NoError(t, err)
		rows := snap.Cell("C1").Rows
		require.Len(t, rows, 3)
		for _, r := range rows {
			assert.Equal(t, rows[0].Voters, r.Voters)
		}
	}
	wg.Wait()
}
