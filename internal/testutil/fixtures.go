// Package testutil holds shared fixtures for engine tests.
package testutil

import (
	"bytes"
	"testing"

	"github.com/rs/zerolog"

	"github.com/wonny/tally/internal/catalog"
	"github.com/wonny/tally/internal/contracts"
	"github.com/wonny/tally/pkg/logger"
)

// Fixture cells.
//
//	001-01-001 ABOBO    C1, C2
//	001-02-001 SONGON   C3   (same local commune code as ABOBO)
//	001-03-002 COCODY   C4
//	002-01-001 BOUAKE   C5   (same local sub-prefecture and commune codes)
const (
	CellAbobo1 = "C1"
	CellAbobo2 = "C2"
	CellSongon = "C3"
	CellCocody = "C4"
	CellBouake = "C5"

	KeyAbobo  = "001-01-001"
	KeySongon = "001-02-001"
	KeyCocody = "001-03-002"
	KeyBouake = "002-01-001"
)

// Seed returns the reference fixture used across packages
func Seed() *catalog.Seed {
	return &catalog.Seed{
		Election: "PRESIDENTIELLE TEST",
		Regions: []catalog.RegionSeed{
			{
				Code:  "R01",
				Label: "DISTRICT AUTONOME D'ABIDJAN",
				Departments: []catalog.DepartmentSeed{
					{
						Code:  "001",
						Label: "ABIDJAN",
						SubPrefectures: []catalog.SubPrefectureSeed{
							{Code: "01", Label: "ABOBO", Communes: []catalog.CommuneSeed{
								{Code: "001", Label: "ABOBO", VotingPlaces: []catalog.VotingPlaceSeed{
									{Code: "0001", Label: "EPP ABOBO GARE", Stations: 3},
									{Code: "0002", Label: "COLLEGE ABOBO", Stations: 2},
								}},
							}},
							{Code: "02", Label: "SONGON", Communes: []catalog.CommuneSeed{
								{Code: "001", Label: "SONGON", VotingPlaces: []catalog.VotingPlaceSeed{
									{Code: "0001", Label: "EPP SONGON AGBAN", Stations: 2},
								}},
							}},
							{Code: "03", Label: "COCODY", Communes: []catalog.CommuneSeed{
								{Code: "002", Label: "COCODY", VotingPlaces: []catalog.VotingPlaceSeed{
									{Code: "0001", Label: "LYCEE COCODY", Stations: 4},
								}},
							}},
						},
					},
				},
			},
			{
				Code:  "R02",
				Label: "GBEKE",
				Departments: []catalog.DepartmentSeed{
					{
						Code:  "002",
						Label: "BOUAKE",
						SubPrefectures: []catalog.SubPrefectureSeed{
							{Code: "01", Label: "BOUAKE", Communes: []catalog.CommuneSeed{
								{Code: "001", Label: "BOUAKE", VotingPlaces: []catalog.VotingPlaceSeed{
									{Code: "0001", Label: "EPP BOUAKE CENTRE", Stations: 5},
								}},
							}},
						},
					},
				},
			},
		},
		Cells: []catalog.CellSeed{
			{Code: CellAbobo1, Label: "CEL ABOBO 1", StationCount: 3, Department: "001", SubPrefecture: "01", Commune: "001", VotingPlaces: []string{"0001"}},
			{Code: CellAbobo2, Label: "CEL ABOBO 2", StationCount: 2, Department: "001", SubPrefecture: "01", Commune: "001", VotingPlaces: []string{"0002"}},
			{Code: CellSongon, Label: "CEL SONGON", StationCount: 2, Department: "001", SubPrefecture: "02", Commune: "001", VotingPlaces: []string{"0001"}},
			{Code: CellCocody, Label: "CEL COCODY", StationCount: 4, Department: "001", SubPrefecture: "03", Commune: "002", VotingPlaces: []string{"0001"}},
			{Code: CellBouake, Label: "CEL BOUAKE", StationCount: 5, Department: "002", SubPrefecture: "01", Commune: "001", VotingPlaces: []string{"0001"}},
		},
		Candidates: []contracts.Candidate{
			{Slot: 1, Name: "KOFFI Jean", Sponsor: &contracts.Sponsor{Code: "PDN", Name: "Parti de la Nation"}},
			{Slot: 2, Name: "TRAORE Awa", Sponsor: &contracts.Sponsor{Code: "UPR", Name: "Union pour la Republique"}},
			{Slot: 3, Name: "BAMBA Issa"},
		},
	}
}

// Catalog builds the fixture catalog or fails the test
func Catalog(t testing.TB) *catalog.Catalog {
	t.Helper()

	cat, err := catalog.Build(Seed())
	if err != nil {
		t.Fatalf("Failed to build fixture catalog: %v", err)
	}
	return cat
}

// Holder wraps the fixture catalog in a handle
func Holder(t testing.TB) *catalog.Holder {
	t.Helper()
	return catalog.NewHolder(Catalog(t))
}

// Row builds a consistent completed row. Voters are split evenly between
// men and women; blank ballots and null ballots are zero; expressed equals
// the sum of scores.
func Row(cell string, registered, voters int64, scores ...int64) contracts.LedgerRow {
	row := contracts.LedgerRow{
		CellCode:        cell,
		RowNo:           1,
		Status:          contracts.ImportCompleted,
		RegisteredMen:   registered / 2,
		RegisteredWomen: registered - registered/2,
		Registered:      registered,
		VotersMen:       voters / 2,
		VotersWomen:     voters - voters/2,
		Voters:          voters,
	}
	for i, s := range scores {
		row.Scores[i] = s
		row.Expressed += s
	}
	return row
}

// Batch wraps rows into an import batch for cell, numbering them
func Batch(cell string, rows ...contracts.LedgerRow) contracts.ImportBatch {
	for i := range rows {
		rows[i].CellCode = cell
		rows[i].RowNo = i + 1
	}
	return contracts.ImportBatch{CellCode: cell, Source: "fixture.xlsx", Actor: "importer", Rows: rows}
}

// Logger returns a logger writing into buf
func Logger(buf *bytes.Buffer) *logger.Logger {
	return logger.NewWithWriter(buf, zerolog.DebugLevel)
}

// Identities used across tests
var (
	SuperAdmin = contracts.Identity{UserID: "root", Role: contracts.RoleSuperAdmin}
	Admin      = contracts.Identity{UserID: "admin", Role: contracts.RoleAdmin}
	Public     = contracts.PublicIdentity()
)

// UserWith builds a User identity with departments and cells
func UserWith(departments []string, cells []string) contracts.Identity {
	return contracts.Identity{UserID: "agent", Role: contracts.RoleUser, Departments: departments, Cells: cells}
}

// Unit resolves a full scope key or fails the test
func Unit(t testing.TB, cat *catalog.Catalog, key string) *contracts.GeoUnit {
	t.Helper()

	res := cat.Resolve(key)
	if res.Kind != contracts.Resolved {
		t.Fatalf("Failed to resolve fixture scope %q", key)
	}
	return res.Unit
}
