package visibility

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/tally/internal/catalog"
	"github.com/wonny/tally/internal/contracts"
	"github.com/wonny/tally/internal/testutil"
)

func unit(t *testing.T, cat *catalog.Catalog, key string) *contracts.GeoUnit {
	t.Helper()
	res := cat.Resolve(key)
	require.Equal(t, contracts.Resolved, res.Kind, key)
	return res.Unit
}

func TestNarrow_Unrestricted(t *testing.T) {
	cat := testutil.Catalog(t)
	s := NewScoper(testutil.Logger(&bytes.Buffer{}))

	for _, id := range []contracts.Identity{testutil.SuperAdmin, testutil.Admin, testutil.Public} {
		scope, err := s.Narrow(cat, unit(t, cat, ""), id)
		require.NoError(t, err, id.Role)
		assert.Len(t, scope.Cells, 5)
		assert.False(t, scope.Narrowed)
	}
}

func TestNarrow_DepartmentAssignment(t *testing.T) {
	cat := testutil.Catalog(t)
	s := NewScoper(testutil.Logger(&bytes.Buffer{}))
	user := testutil.UserWith([]string{"001"}, nil)

	scope, err := s.Narrow(cat, unit(t, cat, "001"), user)
	require.NoError(t, err)
	assert.Equal(t, []string{"C1", "C2", "C3", "C4"}, scope.Cells)
	assert.False(t, scope.Narrowed)

	scope, err = s.Narrow(cat, unit(t, cat, testutil.KeySongon), user)
	require.NoError(t, err)
	assert.Equal(t, []string{"C3"}, scope.Cells)

	_, err = s.Narrow(cat, unit(t, cat, "002"), user)
	assert.True(t, errors.Is(err, contracts.ErrForbidden))

	// national overlaps department 001 only
	scope, err = s.Narrow(cat, unit(t, cat, ""), user)
	require.NoError(t, err)
	assert.Equal(t, []string{"C1", "C2", "C3", "C4"}, scope.Cells)
	assert.True(t, scope.Narrowed)
}

func TestNarrow_CellAssignment(t *testing.T) {
	cat := testutil.Catalog(t)
	var buf bytes.Buffer
	s := NewScoper(testutil.Logger(&buf))
	user := testutil.UserWith(nil, []string{testutil.CellAbobo1})

	scope, err := s.Narrow(cat, unit(t, cat, "001"), user)
	require.NoError(t, err)
	assert.Equal(t, []string{"C1"}, scope.Cells)
	assert.True(t, scope.Narrowed)

	_, err = s.Narrow(cat, unit(t, cat, testutil.KeySongon), user)
	assert.True(t, errors.Is(err, contracts.ErrForbidden))
	assert.Contains(t, buf.String(), "Scope outside caller assignments")
}

func TestNarrow_AdminWithAssignmentsIsScoped(t *testing.T) {
	cat := testutil.Catalog(t)
	s := NewScoper(testutil.Logger(&bytes.Buffer{}))
	admin := contracts.Identity{UserID: "regional", Role: contracts.RoleAdmin, Departments: []string{"002"}}

	_, err := s.Narrow(cat, unit(t, cat, "001"), admin)
	assert.True(t, errors.Is(err, contracts.ErrForbidden))

	scope, err := s.Narrow(cat, unit(t, cat, "region:R02"), admin)
	require.NoError(t, err)
	assert.Equal(t, []string{"C5"}, scope.Cells)
	assert.False(t, scope.Narrowed)
}

func TestNarrow_UnassignedUserAndBadAssignments(t *testing.T) {
	cat := testutil.Catalog(t)
	var buf bytes.Buffer
	s := NewScoper(testutil.Logger(&buf))

	_, err := s.Narrow(cat, unit(t, cat, "001"), testutil.UserWith(nil, nil))
	assert.True(t, errors.Is(err, contracts.ErrForbidden))

	// an empty department code must not widen to national
	_, err = s.Narrow(cat, unit(t, cat, "001"), testutil.UserWith([]string{"", "999"}, []string{"C99"}))
	assert.True(t, errors.Is(err, contracts.ErrForbidden))
	assert.Contains(t, buf.String(), "Unknown assigned department")
	assert.Contains(t, buf.String(), "Unknown assigned cell")

	_, err = s.Narrow(cat, unit(t, cat, "001"), contracts.Identity{Role: "guest"})
	assert.True(t, errors.Is(err, contracts.ErrForbidden))
}

func TestCanSee(t *testing.T) {
	cat := testutil.Catalog(t)
	s := NewScoper(testutil.Logger(&bytes.Buffer{}))
	user := testutil.UserWith(nil, []string{testutil.CellAbobo2})

	visible := []string{"", "region:R01", "001", "001-01", testutil.KeyAbobo, "001-01-001-0002", "001-01-001-0002-1"}
	hidden := []string{"002", "001-02", testutil.KeySongon, "001-01-001-0001"}

	for _, key := range visible {
		u, ok := cat.Unit(key)
		require.True(t, ok, key)
		assert.True(t, s.CanSee(cat, u, user), key)
	}
	for _, key := range hidden {
		u, ok := cat.Unit(key)
		require.True(t, ok, key)
		assert.False(t, s.CanSee(cat, u, user), key)
	}

	deptUser := testutil.UserWith([]string{"002"}, nil)
	u, _ := cat.Unit("region:R02")
	assert.True(t, s.CanSee(cat, u, deptUser))
	u, _ = cat.Unit(testutil.KeyBouake)
	assert.True(t, s.CanSee(cat, u, deptUser))
	u, _ = cat.Unit("region:R01")
	assert.False(t, s.CanSee(cat, u, deptUser))
}

func TestAssignedCells(t *testing.T) {
	cat := testutil.Catalog(t)
	s := NewScoper(testutil.Logger(&bytes.Buffer{}))

	assert.Nil(t, s.AssignedCells(cat, testutil.SuperAdmin))
	assert.Equal(t, []string{"C1", "C5"}, s.AssignedCells(cat, testutil.UserWith([]string{"002"}, []string{"C1", "C1"})))
}

func TestAllowedScope_Without(t *testing.T) {
	cat := testutil.Catalog(t)
	scope := AllowedScope{Unit: unit(t, cat, "001"), Cells: []string{"C1", "C2", "C3"}, Narrowed: true}

	out := scope.Without([]string{"C3", "C1", "C9"})
	assert.Equal(t, []string{"C2"}, out.Cells)
	assert.Equal(t, []string{"C1", "C3"}, out.Withheld)
	assert.True(t, out.Narrowed)
	assert.Equal(t, []string{"C1", "C2", "C3"}, scope.Cells)
}
