package catalog_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/tally/internal/catalog"
	"github.com/wonny/tally/internal/contracts"
	"github.com/wonny/tally/internal/testutil"
)

func TestBuild_Fixture(t *testing.T) {
	cat := testutil.Catalog(t)

	stats := cat.Stats()
	assert.Equal(t, 5, stats.Cells)
	assert.Equal(t, 3, stats.Candidates)
	assert.Equal(t, 2, stats.Units[contracts.LevelRegion])
	assert.Equal(t, 2, stats.Units[contracts.LevelDepartment])
	assert.Equal(t, 4, stats.Units[contracts.LevelCommune])
	assert.Equal(t, 5, stats.Units[contracts.LevelVotingPlace])
	assert.Equal(t, 16, stats.Units[contracts.LevelPollingStation])
	assert.Len(t, stats.Hash, 64)
}

func TestResolve_FullKeys(t *testing.T) {
	cat := testutil.Catalog(t)

	tests := []struct {
		input string
		level contracts.Level
		label string
	}{
		{"", contracts.LevelNational, "PRESIDENTIELLE TEST"},
		{"region:R02", contracts.LevelRegion, "GBEKE"},
		{"001", contracts.LevelDepartment, "ABIDJAN"},
		{"001-02", contracts.LevelSubPrefecture, "SONGON"},
		{testutil.KeyAbobo, contracts.LevelCommune, "ABOBO"},
		{testutil.KeySongon, contracts.LevelCommune, "SONGON"},
		{testutil.KeyBouake, contracts.LevelCommune, "BOUAKE"},
		{"001-01-001-0002", contracts.LevelVotingPlace, "COLLEGE ABOBO"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			res := cat.Resolve(tt.input)
			require.Equal(t, contracts.Resolved, res.Kind)
			assert.Equal(t, tt.level, res.Unit.Level)
			assert.Equal(t, tt.label, res.Unit.Label)
		})
	}
}

func TestResolve_NoSuffixMatching(t *testing.T) {
	cat := testutil.Catalog(t)

	// "001-001" would be ABOBO or SONGON if segments were matched loosely;
	// as a two segment key it names sub-prefecture 001 of department 001,
	// which does not exist.
	for _, input := range []string{"001-001", "01-001", "009", "001-09-001"} {
		res := cat.Resolve(input)
		assert.Equal(t, contracts.Unresolved, res.Kind, input)
		assert.NoError(t, res.Invalid, input)
		assert.True(t, errors.Is(res.Err(), contracts.ErrNotFound), input)
	}
}

func TestResolve_MalformedKeyIsInvalid(t *testing.T) {
	cat := testutil.Catalog(t)

	for _, input := range []string{"001-", "001--01", "1-2-3-4-5", "region:"} {
		res := cat.Resolve(input)
		assert.Equal(t, contracts.Unresolved, res.Kind, input)
		require.Error(t, res.Invalid, input)

		err := res.Err()
		assert.True(t, errors.Is(err, contracts.ErrInvalidScope), input)
		assert.False(t, errors.Is(err, contracts.ErrNotFound), input)
	}
}

func TestResolveLocal_Ambiguous(t *testing.T) {
	cat := testutil.Catalog(t)

	res := cat.ResolveLocal(contracts.LevelCommune, "001")
	require.Equal(t, contracts.Ambiguous, res.Kind)
	require.Len(t, res.Matches, 3)
	assert.Equal(t, testutil.KeyAbobo, res.Matches[0].Key)
	assert.Equal(t, testutil.KeySongon, res.Matches[1].Key)
	assert.Equal(t, testutil.KeyBouake, res.Matches[2].Key)

	var ambiguous *contracts.AmbiguousError
	require.True(t, errors.As(res.Err(), &ambiguous))
	assert.Len(t, ambiguous.Matches, 3)

	single := cat.ResolveLocal(contracts.LevelCommune, "002")
	require.Equal(t, contracts.Resolved, single.Kind)
	assert.Equal(t, testutil.KeyCocody, single.Unit.Key)

	none := cat.ResolveLocal(contracts.LevelCommune, "999")
	assert.Equal(t, contracts.Unresolved, none.Kind)
}

func TestResolveWithin_DepartmentAndCommuneOnly(t *testing.T) {
	cat := testutil.Catalog(t)

	// department + commune without sub-prefecture is exactly the input that
	// merged ABOBO and SONGON; it must come back ambiguous
	res := cat.ResolveWithin("001", contracts.LevelCommune, "001")
	require.Equal(t, contracts.Ambiguous, res.Kind)
	require.Len(t, res.Matches, 2)
	assert.Equal(t, "001/001", res.Input)

	res = cat.ResolveWithin("002", contracts.LevelCommune, "001")
	require.Equal(t, contracts.Resolved, res.Kind)
	assert.Equal(t, testutil.KeyBouake, res.Unit.Key)
}

func TestDescendantCells_CompositeKeyUniqueness(t *testing.T) {
	cat := testutil.Catalog(t)

	cells := func(key string) []string {
		res := cat.Resolve(key)
		require.Equal(t, contracts.Resolved, res.Kind, key)
		return cat.DescendantCells(res.Unit)
	}

	assert.Equal(t, []string{"C1", "C2"}, cells(testutil.KeyAbobo))
	assert.Equal(t, []string{"C3"}, cells(testutil.KeySongon))
	assert.Equal(t, []string{"C5"}, cells(testutil.KeyBouake))
	assert.Equal(t, []string{"C1", "C2", "C3", "C4"}, cells("001"))
	assert.Equal(t, []string{"C1", "C2"}, cells("001-01"))
	assert.Equal(t, []string{"C5"}, cells("002-01"))
	assert.Equal(t, []string{"C1", "C2", "C3", "C4"}, cells("region:R01"))
	assert.Equal(t, []string{"C1", "C2", "C3", "C4", "C5"}, cells(""))
	assert.Equal(t, []string{"C2"}, cells("001-01-001-0002"))
}

func TestAncestorsAndChildren(t *testing.T) {
	cat := testutil.Catalog(t)

	ancestors := cat.Ancestors(testutil.KeySongon)
	keys := make([]string, len(ancestors))
	for i, a := range ancestors {
		keys[i] = a.Key
	}
	assert.Equal(t, []string{"001-02", "001", "region:R01", ""}, keys)

	children := cat.Children("001")
	require.Len(t, children, 3)
	assert.Equal(t, "001-01", children[0].Key)

	assert.True(t, cat.IsWithin(testutil.KeySongon, "001"))
	assert.False(t, cat.IsWithin(testutil.KeySongon, "001-01"))
	assert.True(t, cat.IsWithin(testutil.KeyBouake, ""))

	communeKey, ok := cat.CellUnitKey("C3")
	require.True(t, ok)
	assert.Equal(t, testutil.KeySongon, communeKey)
}

func TestBuild_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(s *catalog.Seed)
	}{
		{
			name: "partial cell path",
			mutate: func(s *catalog.Seed) {
				s.Cells[0].SubPrefecture = ""
			},
		},
		{
			name: "cell in unknown commune",
			mutate: func(s *catalog.Seed) {
				s.Cells[2].SubPrefecture = "09"
			},
		},
		{
			name: "voting place outside the cell commune",
			mutate: func(s *catalog.Seed) {
				// 0002 exists under ABOBO but not under SONGON
				s.Cells[2].VotingPlaces = []string{"0002"}
			},
		},
		{
			name: "duplicate cell",
			mutate: func(s *catalog.Seed) {
				s.Cells = append(s.Cells, s.Cells[0])
			},
		},
		{
			name: "code with delimiter",
			mutate: func(s *catalog.Seed) {
				s.Regions[0].Departments[0].SubPrefectures[0].Code = "0-1"
			},
		},
		{
			name: "duplicate sub-prefecture under one department",
			mutate: func(s *catalog.Seed) {
				d := &s.Regions[0].Departments[0]
				d.SubPrefectures = append(d.SubPrefectures, d.SubPrefectures[0])
			},
		},
		{
			name: "candidate slot out of range",
			mutate: func(s *catalog.Seed) {
				s.Candidates[0].Slot = contracts.MaxCandidateSlots + 1
			},
		},
		{
			name: "duplicate candidate slot",
			mutate: func(s *catalog.Seed) {
				s.Candidates[1].Slot = 1
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seed := testutil.Seed()
			tt.mutate(seed)

			_, err := catalog.Build(seed)
			require.Error(t, err)
			assert.True(t, errors.Is(err, catalog.ErrInvalidSeed))
		})
	}
}

func TestBuild_RejectsNationalCode(t *testing.T) {
	seed := testutil.Seed()
	// BOUAKE and its cell move to a department coded like the national scope
	seed.Regions[1].Departments[0].Code = "National"
	seed.Cells[4].Department = "National"

	_, err := catalog.Build(seed)
	require.Error(t, err)
	assert.True(t, errors.Is(err, catalog.ErrInvalidSeed))
	assert.Contains(t, err.Error(), "reserved for the national scope")
}

func TestParseSeed(t *testing.T) {
	data := []byte(`
election: TEST
regions:
  - code: R01
    label: ABIDJAN
    departments:
      - code: "001"
        label: ABIDJAN
        sub_prefectures:
          - code: "01"
            label: ABOBO
            communes:
              - code: "001"
                label: ABOBO
                voting_places:
                  - code: "0001"
                    label: EPP
                    stations: 2
cells:
  - code: C1
    label: CEL 1
    station_count: 2
    department: "001"
    sub_prefecture: "01"
    commune: "001"
    voting_places: ["0001"]
candidates:
  - slot: 1
    name: A
    sponsor:
      code: X
      name: Party X
`)

	seed, err := catalog.ParseSeed(data)
	require.NoError(t, err)

	cat, err := catalog.Build(seed)
	require.NoError(t, err)
	assert.Equal(t, 1, cat.Stats().Cells)

	_, err = catalog.ParseSeed([]byte("election: TEST\nunknown_field: 1\n"))
	assert.Error(t, err, "unknown fields must be rejected")
}

func TestHash_Deterministic(t *testing.T) {
	h1, err := catalog.Hash(testutil.Seed())
	require.NoError(t, err)
	h2, err := catalog.Hash(testutil.Seed())
	require.NoError(t, err)
	assert.Equal(t, h1, h2)

	changed := testutil.Seed()
	changed.Cells[0].Label = "RENAMED"
	h3, err := catalog.Hash(changed)
	require.NoError(t, err)
	assert.NotEqual(t, h1, h3)
}
