package tally

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/tally/internal/cellstate"
	"github.com/wonny/tally/internal/contracts"
	"github.com/wonny/tally/internal/publication"
	"github.com/wonny/tally/internal/testutil"
)

func TestAuditor_Reconcile(t *testing.T) {
	h := newHarness(t, publication.GateModeEnforce)
	h.importRows(t, testutil.CellAbobo1, testutil.Row("", 100, 60, 40, 20))
	h.importRows(t, testutil.CellSongon, testutil.Row("", 300, 200, 100, 100))
	h.importRows(t, testutil.CellBouake, testutil.Row("", 50, 20, 0, 0, 20))

	var buf bytes.Buffer
	auditor := NewAuditor(h.holder, h.store, testutil.Logger(&buf))

	report, err := auditor.Reconcile(context.Background())
	require.NoError(t, err)
	assert.True(t, report.OK())
	assert.Empty(t, report.Mismatches)
	// regions, departments, then sub-prefectures and communes per department
	assert.Equal(t, 2+2*2, report.Checks)
	assert.Equal(t, 3, report.EligibleCells)
	assert.Equal(t, 2, report.PendingCells)
	assert.Contains(t, buf.String(), "Consistency audit passed")
}

func TestAuditor_ReportsInconsistentCells(t *testing.T) {
	h := newHarness(t, publication.GateModeEnforce)
	ctx := context.Background()

	bad := testutil.Row("", 10, 5, 5)
	bad.Expressed = 4
	_, err := h.store.ReplaceImport(ctx, testutil.Batch(testutil.CellCocody, bad), "corrupt", cellstate.Decide(cellstate.ImportSucceeded))
	require.NoError(t, err)

	var buf bytes.Buffer
	report, err := NewAuditor(h.holder, h.store, testutil.Logger(&buf)).Reconcile(ctx)
	require.NoError(t, err)
	assert.False(t, report.OK())
	assert.Equal(t, []string{testutil.CellCocody}, report.InconsistentCells)
	assert.Contains(t, buf.String(), "Consistency audit found problems")
}

func TestCompareRollup(t *testing.T) {
	parent := &contracts.AggregateResult{
		Totals:     contracts.Totals{Registered: 300, Voters: 150},
		Candidates: []contracts.CandidateResult{{Slot: 1, Score: 100}, {Slot: 2, Score: 50}},
		Coverage:   contracts.Coverage{TotalCells: 3},
	}
	children := []*contracts.AggregateResult{
		{
			Totals:     contracts.Totals{Registered: 100, Voters: 50},
			Candidates: []contracts.CandidateResult{{Slot: 1, Score: 50}},
			Coverage:   contracts.Coverage{TotalCells: 1},
		},
		{
			Totals:     contracts.Totals{Registered: 100, Voters: 50},
			Candidates: []contracts.CandidateResult{{Slot: 1, Score: 50}},
			Coverage:   contracts.Coverage{TotalCells: 1},
		},
	}

	mismatches := compareRollup("001", contracts.LevelCommune, parent, children)
	fields := make(map[string]Mismatch)
	for _, m := range mismatches {
		fields[m.Field] = m
	}

	require.Contains(t, fields, "registered")
	assert.Equal(t, int64(300), fields["registered"].Expected)
	assert.Equal(t, int64(200), fields["registered"].Actual)
	assert.Contains(t, fields, "voters")
	assert.Contains(t, fields, "cells")
	assert.Contains(t, fields, "slot_2")
	assert.NotContains(t, fields, "slot_1")
	assert.Equal(t, "001 vs Σ commune: registered 300 != 200", fields["registered"].String())

	assert.Empty(t, compareRollup("001", contracts.LevelCommune, parent, []*contracts.AggregateResult{parent}))
}
