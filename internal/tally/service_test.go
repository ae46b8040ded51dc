package tally

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/tally/internal/catalog"
	"github.com/wonny/tally/internal/cellstate"
	"github.com/wonny/tally/internal/contracts"
	"github.com/wonny/tally/internal/ledger"
	"github.com/wonny/tally/internal/publication"
	"github.com/wonny/tally/internal/testutil"
	"github.com/wonny/tally/internal/visibility"
	"github.com/wonny/tally/pkg/redis"
)

type harness struct {
	holder *catalog.Holder
	store  *ledger.MemoryStore
	svc    *Service
	logs   *bytes.Buffer
}

func newHarness(t *testing.T, mode publication.GateMode) *harness {
	t.Helper()

	var buf bytes.Buffer
	log := testutil.Logger(&buf)
	holder := testutil.Holder(t)
	store := ledger.NewMemoryStore()

	svc := NewService(Deps{
		Catalog:  holder,
		Ledger:   store,
		Importer: ledger.NewImporter(store, holder, log),
		Scoper:   visibility.NewScoper(log),
		Gate:     publication.NewGate(publication.NewMemoryFlagStore(), mode, log),
		Cache:    redis.NewCache(redis.Disabled(), "tally"),
		Logger:   log,
	})
	return &harness{holder: holder, store: store, svc: svc, logs: &buf}
}

func (h *harness) importRows(t *testing.T, cell string, rows ...contracts.LedgerRow) {
	t.Helper()
	_, err := h.svc.Import(context.Background(), testutil.Batch(cell, rows...), testutil.SuperAdmin)
	require.NoError(t, err)
}

func (h *harness) results(t *testing.T, scope string, id contracts.Identity) *contracts.AggregateResult {
	t.Helper()
	resp, err := h.svc.Results(context.Background(), Query{ScopeKey: scope, Identity: id})
	require.NoError(t, err)
	require.Equal(t, StatusOK, resp.Status)
	require.NotNil(t, resp.Result)
	return resp.Result
}

// Communes sharing a local code never leak cells into each other
func TestResults_CompositeKeyUniqueness(t *testing.T) {
	h := newHarness(t, publication.GateModeEnforce)
	h.importRows(t, testutil.CellAbobo1, testutil.Row("", 100, 60, 60))
	h.importRows(t, testutil.CellAbobo2, testutil.Row("", 200, 100, 100))
	h.importRows(t, testutil.CellSongon, testutil.Row("", 1000, 900, 900))

	abobo := h.results(t, testutil.KeyAbobo, testutil.SuperAdmin)
	assert.Equal(t, 2, abobo.Coverage.TotalCells)
	assert.Equal(t, 2, abobo.Coverage.EligibleCells)
	assert.Equal(t, int64(300), abobo.Totals.Registered)
	assert.Equal(t, int64(160), abobo.Totals.Voters)

	songon := h.results(t, testutil.KeySongon, testutil.SuperAdmin)
	assert.Equal(t, 1, songon.Coverage.TotalCells)
	assert.Equal(t, int64(1000), songon.Totals.Registered)
}

// Pending cells contribute zero and are reported, not hidden
func TestResults_EligibilityGating(t *testing.T) {
	h := newHarness(t, publication.GateModeEnforce)
	h.importRows(t, testutil.CellAbobo1, testutil.Row("", 500, 300, 300))

	before := h.results(t, "", testutil.SuperAdmin)
	assert.Equal(t, 4, before.Coverage.PendingCells)
	assert.Contains(t, before.Coverage.PendingCellCodes, testutil.CellBouake)
	assert.False(t, before.NoData)

	h.importRows(t, testutil.CellBouake, testutil.Row("", 100, 60))

	after := h.results(t, "", testutil.SuperAdmin)
	assert.Equal(t, before.Totals.Registered+100, after.Totals.Registered)
	assert.Equal(t, before.Totals.Voters+60, after.Totals.Voters)
	assert.Equal(t, 3, after.Coverage.PendingCells)
	assert.NotContains(t, after.Coverage.PendingCellCodes, testutil.CellBouake)
	assert.Greater(t, after.Revision, before.Revision)
}

func TestResults_NoDataIsNotAnError(t *testing.T) {
	h := newHarness(t, publication.GateModeEnforce)

	result := h.results(t, "002", testutil.SuperAdmin)
	assert.True(t, result.NoData)
	assert.Equal(t, 0, result.Coverage.EligibleCells)
	assert.Equal(t, 1, result.Coverage.PendingCells)
	assert.Equal(t, 5, result.Coverage.DeclaredStations)
	assert.Empty(t, result.Candidates)
	assert.Zero(t, result.Rates.Turnout)
}

// Two reads without a write in between are identical
func TestResults_Idempotent(t *testing.T) {
	h := newHarness(t, publication.GateModeEnforce)
	h.importRows(t, testutil.CellAbobo1, testutil.Row("", 333, 333, 111, 222))
	h.importRows(t, testutil.CellCocody, testutil.Row("", 90, 45, 20, 20, 5))

	first := h.results(t, "001", testutil.SuperAdmin)
	second := h.results(t, "001", testutil.SuperAdmin)
	assert.Equal(t, first, second)

	a, err := json.Marshal(first)
	require.NoError(t, err)
	b, err := json.Marshal(second)
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
}

// Re-import replaces the previous rows of the cell
func TestResults_ReimportReplaces(t *testing.T) {
	h := newHarness(t, publication.GateModeEnforce)
	h.importRows(t, testutil.CellAbobo2, testutil.Row("", 200, 50, 50))
	h.importRows(t, testutil.CellAbobo2, testutil.Row("", 200, 40, 40), testutil.Row("", 100, 30, 30))

	result := h.results(t, "001", testutil.SuperAdmin)
	assert.Equal(t, int64(70), result.Totals.Voters)
	assert.Equal(t, 2, result.Coverage.CountedRows)
}

func TestResults_VisibilityScoping(t *testing.T) {
	h := newHarness(t, publication.GateModeEnforce)
	h.importRows(t, testutil.CellAbobo1, testutil.Row("", 100, 60, 60))
	h.importRows(t, testutil.CellSongon, testutil.Row("", 300, 200, 200))
	h.importRows(t, testutil.CellBouake, testutil.Row("", 50, 20, 20))

	ctx := context.Background()
	deptUser := testutil.UserWith([]string{"001"}, nil)

	_, err := h.svc.Results(ctx, Query{ScopeKey: "002", Identity: deptUser, Audience: publication.AudienceInternal})
	assert.True(t, errors.Is(err, contracts.ErrForbidden))

	resp, err := h.svc.Results(ctx, Query{ScopeKey: "001", Identity: deptUser, Audience: publication.AudienceInternal})
	require.NoError(t, err)
	assert.Equal(t, int64(400), resp.Result.Totals.Registered)
	assert.False(t, resp.Result.Narrowed)

	cellUser := testutil.UserWith(nil, []string{testutil.CellAbobo1})
	resp, err = h.svc.Results(ctx, Query{ScopeKey: "001", Identity: cellUser, Audience: publication.AudienceInternal})
	require.NoError(t, err)
	assert.Equal(t, int64(100), resp.Result.Totals.Registered)
	assert.Equal(t, 1, resp.Result.Coverage.TotalCells)
	assert.True(t, resp.Result.Narrowed)
}

func TestResults_PublicationGateIndependence(t *testing.T) {
	h := newHarness(t, publication.GateModeEnforce)
	h.importRows(t, testutil.CellAbobo1, testutil.Row("", 100, 60, 60))
	h.importRows(t, testutil.CellAbobo2, testutil.Row("", 100, 50, 50))
	ctx := context.Background()

	resp, err := h.svc.Results(ctx, Query{ScopeKey: testutil.KeyAbobo, Identity: testutil.Public})
	require.NoError(t, err)
	assert.Equal(t, StatusPendingPublication, resp.Status)
	assert.Nil(t, resp.Result)
	require.NotNil(t, resp.Publication)
	assert.Equal(t, contracts.NotPublished, resp.Publication.State)

	// same for an external reader with assignments
	resp, err = h.svc.Results(ctx, Query{ScopeKey: testutil.KeyAbobo, Identity: testutil.UserWith([]string{"001"}, nil)})
	require.NoError(t, err)
	assert.Equal(t, StatusPendingPublication, resp.Status)

	resp, err = h.svc.Results(ctx, Query{ScopeKey: testutil.KeyAbobo, Identity: testutil.SuperAdmin})
	require.NoError(t, err)
	assert.Equal(t, StatusOK, resp.Status)
	assert.Equal(t, int64(110), resp.Result.Totals.Voters)

	// publishing opens the gate; cell states are untouched
	_, err = h.svc.Publish(ctx, testutil.KeyAbobo, testutil.Admin)
	require.NoError(t, err)

	resp, err = h.svc.Results(ctx, Query{ScopeKey: testutil.KeyAbobo, Identity: testutil.Public})
	require.NoError(t, err)
	assert.Equal(t, StatusOK, resp.Status)
	assert.Equal(t, 0, resp.Result.Coverage.PublishedCells)

	status, err := h.svc.IsPublished(ctx, testutil.KeyAbobo)
	require.NoError(t, err)
	assert.True(t, status.IsPublished())
}

// A commune unpublished under a published department stays out of the
// department's public totals, so it cannot be derived by subtraction.
func TestResults_UnpublishedChildWithheldFromParent(t *testing.T) {
	h := newHarness(t, publication.GateModeEnforce)
	h.importRows(t, testutil.CellAbobo1, testutil.Row("", 100, 60, 60))
	h.importRows(t, testutil.CellSongon, testutil.Row("", 1000, 900, 900))
	ctx := context.Background()

	_, err := h.svc.Publish(ctx, "001", testutil.Admin)
	require.NoError(t, err)
	_, err = h.svc.Unpublish(ctx, testutil.KeySongon, testutil.Admin)
	require.NoError(t, err)

	resp, err := h.svc.Results(ctx, Query{ScopeKey: testutil.KeySongon, Identity: testutil.Public})
	require.NoError(t, err)
	assert.Equal(t, StatusPendingPublication, resp.Status)

	dept := h.results(t, "001", testutil.Public)
	assert.Equal(t, int64(60), dept.Totals.Voters)
	assert.Equal(t, []string{testutil.CellSongon}, dept.Coverage.WithheldCells)
	assert.Equal(t, 3, dept.Coverage.TotalCells)

	// staff still see the whole department
	full := h.results(t, "001", testutil.SuperAdmin)
	assert.Equal(t, int64(960), full.Totals.Voters)
	assert.Empty(t, full.Coverage.WithheldCells)

	// republishing the commune restores it
	_, err = h.svc.Publish(ctx, testutil.KeySongon, testutil.Admin)
	require.NoError(t, err)
	dept = h.results(t, "001", testutil.Public)
	assert.Equal(t, int64(960), dept.Totals.Voters)
	assert.Empty(t, dept.Coverage.WithheldCells)
}

func TestResults_ShadowModeLogsWithheldCells(t *testing.T) {
	h := newHarness(t, publication.GateModeShadow)
	h.importRows(t, testutil.CellAbobo1, testutil.Row("", 100, 60, 60))
	h.importRows(t, testutil.CellSongon, testutil.Row("", 1000, 900, 900))
	ctx := context.Background()

	_, err := h.svc.Publish(ctx, "001", testutil.Admin)
	require.NoError(t, err)
	_, err = h.svc.Unpublish(ctx, testutil.KeySongon, testutil.Admin)
	require.NoError(t, err)

	dept := h.results(t, "001", testutil.Public)
	assert.Equal(t, int64(960), dept.Totals.Voters)
	assert.Empty(t, dept.Coverage.WithheldCells)
	assert.Contains(t, h.logs.String(), "would withhold")
}

func TestResults_ShadowModeServesAndFlags(t *testing.T) {
	h := newHarness(t, publication.GateModeShadow)
	h.importRows(t, testutil.CellAbobo1, testutil.Row("", 100, 60, 60))

	resp, err := h.svc.Results(context.Background(), Query{ScopeKey: testutil.KeyAbobo, Identity: testutil.Public})
	require.NoError(t, err)
	assert.Equal(t, StatusOK, resp.Status)
	require.NotNil(t, resp.Gate)
	assert.True(t, resp.Gate.WouldBlock)
	assert.Contains(t, h.logs.String(), "would block")
}

func TestResults_ZeroDenominator(t *testing.T) {
	h := newHarness(t, publication.GateModeEnforce)
	h.importRows(t, testutil.CellBouake, testutil.Row("", 0, 0))

	result := h.results(t, "002", testutil.SuperAdmin)
	assert.False(t, result.NoData)
	assert.Equal(t, 0.0, result.Rates.Turnout)
	assert.Equal(t, 0.0, result.Rates.NullBallots)
	assert.Equal(t, 0.0, result.Rates.BlankBallots)
}

func TestResults_PercentageRounding(t *testing.T) {
	h := newHarness(t, publication.GateModeEnforce)
	h.importRows(t, testutil.CellBouake, testutil.Row("", 400, 333, 111, 222))

	result := h.results(t, "002", testutil.SuperAdmin)
	require.Len(t, result.Candidates, 2)
	assert.Equal(t, 33.33, result.Candidates[0].Percentage)
	assert.Equal(t, 66.67, result.Candidates[1].Percentage)
	assert.Equal(t, 83.25, result.Rates.Turnout)
}

func TestResults_CandidateExclusionIsScopeDependent(t *testing.T) {
	h := newHarness(t, publication.GateModeEnforce)
	h.importRows(t, testutil.CellAbobo1, testutil.Row("", 100, 60, 40, 20))
	h.importRows(t, testutil.CellBouake, testutil.Row("", 100, 60, 10, 0, 50))

	abobo := h.results(t, testutil.KeyAbobo, testutil.SuperAdmin)
	require.Len(t, abobo.Candidates, 2)
	assert.Equal(t, []int{1, 2}, []int{abobo.Candidates[0].Slot, abobo.Candidates[1].Slot})

	bouake := h.results(t, testutil.KeyBouake, testutil.SuperAdmin)
	require.Len(t, bouake.Candidates, 2)
	assert.Equal(t, 3, bouake.Candidates[1].Slot)
	assert.Equal(t, "BAMBA Issa", bouake.Candidates[1].Name)

	national := h.results(t, "", testutil.SuperAdmin)
	assert.Len(t, national.Candidates, 3)
	require.NotNil(t, national.Candidates[0].Sponsor)
	assert.Equal(t, "PDN", national.Candidates[0].Sponsor.Code)
}

func TestResults_InconsistentCellExcluded(t *testing.T) {
	h := newHarness(t, publication.GateModeEnforce)
	ctx := context.Background()
	h.importRows(t, testutil.CellAbobo1, testutil.Row("", 100, 60, 60))

	// rows written past the validator
	bad := testutil.Row("", 100, 160, 160)
	_, err := h.store.ReplaceImport(ctx, testutil.Batch(testutil.CellAbobo2, bad), "corrupt", cellstate.Decide(cellstate.ImportSucceeded))
	require.NoError(t, err)

	result := h.results(t, testutil.KeyAbobo, testutil.SuperAdmin)
	assert.Equal(t, []string{testutil.CellAbobo2}, result.Coverage.InconsistentCells)
	assert.Equal(t, 1, result.Coverage.EligibleCells)
	assert.Equal(t, int64(60), result.Totals.Voters)
	assert.Contains(t, h.logs.String(), "Inconsistent cell excluded")
}

func TestResults_OnlyCompletedRowsCount(t *testing.T) {
	h := newHarness(t, publication.GateModeEnforce)
	partial := testutil.Row("", 50, 10, 10)
	partial.Status = contracts.ImportPartial
	h.importRows(t, testutil.CellBouake, testutil.Row("", 100, 60, 60), partial)

	result := h.results(t, "002", testutil.SuperAdmin)
	assert.Equal(t, int64(100), result.Totals.Registered)
	assert.Equal(t, 1, result.Coverage.CountedRows)
	assert.Equal(t, 1, result.Coverage.SkippedRows)
}

func TestResults_Errors(t *testing.T) {
	h := newHarness(t, publication.GateModeEnforce)
	ctx := context.Background()

	_, err := h.svc.Results(ctx, Query{ScopeKey: "009", Identity: testutil.SuperAdmin})
	assert.True(t, errors.Is(err, contracts.ErrNotFound))

	// bare suffix is not a key
	_, err = h.svc.Results(ctx, Query{ScopeKey: "01-001", Identity: testutil.SuperAdmin})
	assert.True(t, errors.Is(err, contracts.ErrNotFound))

	_, err = h.svc.ResultsByLocal(ctx, contracts.LevelCommune, "001", Query{Identity: testutil.SuperAdmin})
	require.Error(t, err)
	var ambiguous *contracts.AmbiguousError
	require.True(t, errors.As(err, &ambiguous))
	assert.Len(t, ambiguous.Matches, 3)

	resp, err := h.svc.ResultsByLocal(ctx, contracts.LevelCommune, "002", Query{Identity: testutil.SuperAdmin})
	require.NoError(t, err)
	assert.Equal(t, testutil.KeyCocody, resp.Scope.Key)
}

func TestService_ReleaseAndWithdraw(t *testing.T) {
	h := newHarness(t, publication.GateModeEnforce)
	ctx := context.Background()
	h.importRows(t, testutil.CellAbobo1, testutil.Row("", 100, 60, 60))

	_, err := h.svc.Release(ctx, "001", testutil.UserWith([]string{"001"}, nil))
	assert.True(t, errors.Is(err, contracts.ErrForbidden))

	report, err := h.svc.Release(ctx, "001", testutil.Admin)
	require.NoError(t, err)
	assert.Equal(t, []string{testutil.CellAbobo1}, report.Changed)
	assert.Len(t, report.Skipped, 3)

	result := h.results(t, "001", testutil.SuperAdmin)
	assert.Equal(t, 1, result.Coverage.PublishedCells)

	// published cells are locked against re-import
	_, err = h.svc.Import(ctx, testutil.Batch(testutil.CellAbobo1, testutil.Row("", 100, 70, 70)), testutil.SuperAdmin)
	assert.True(t, errors.Is(err, contracts.ErrPublishedLocked))

	_, err = h.svc.Withdraw(ctx, testutil.CellAbobo1, testutil.Admin)
	require.NoError(t, err)
	h.importRows(t, testutil.CellAbobo1, testutil.Row("", 100, 70, 70))

	view, err := h.svc.Cell(ctx, testutil.CellAbobo1, testutil.Admin)
	require.NoError(t, err)
	assert.Equal(t, contracts.CellImported, view.Ledger.Status)
	require.NotEmpty(t, view.History)
	assert.Equal(t, contracts.OutcomeImported, view.History[0].Outcome)
}

func TestService_CellAuthorization(t *testing.T) {
	h := newHarness(t, publication.GateModeEnforce)
	ctx := context.Background()
	user := testutil.UserWith(nil, []string{testutil.CellSongon})

	_, err := h.svc.Import(ctx, testutil.Batch(testutil.CellSongon, testutil.Row("", 10, 5, 5)), user)
	require.NoError(t, err)

	_, err = h.svc.Import(ctx, testutil.Batch(testutil.CellAbobo1, testutil.Row("", 10, 5, 5)), user)
	assert.True(t, errors.Is(err, contracts.ErrForbidden))

	_, err = h.svc.Cell(ctx, testutil.CellSongon, testutil.Public)
	assert.True(t, errors.Is(err, contracts.ErrForbidden))

	_, err = h.svc.Cell(ctx, "C99", testutil.Admin)
	assert.True(t, errors.Is(err, contracts.ErrNotFound))
}

func TestService_Unit(t *testing.T) {
	h := newHarness(t, publication.GateModeEnforce)
	user := testutil.UserWith(nil, []string{testutil.CellSongon})

	view, err := h.svc.Unit("001", user)
	require.NoError(t, err)
	require.Len(t, view.Children, 1)
	assert.Equal(t, "001-02", view.Children[0].Key)
	assert.Equal(t, []string{testutil.CellSongon}, view.Cells)

	_, err = h.svc.Unit("002", user)
	assert.True(t, errors.Is(err, contracts.ErrForbidden))

	view, err = h.svc.Unit("", testutil.SuperAdmin)
	require.NoError(t, err)
	assert.Len(t, view.Children, 2)
	assert.Empty(t, view.Ancestors)
}

func TestPercent(t *testing.T) {
	tests := []struct {
		part, whole int64
		want        float64
	}{
		{111, 333, 33.33},
		{222, 333, 66.67},
		{1, 800, 0.13},
		{1, 3, 33.33},
		{2, 3, 66.67},
		{60, 100, 60},
		{5, 0, 0},
		{0, 0, 0},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, Percent(tt.part, tt.whole), "%d/%d", tt.part, tt.whole)
	}
}
