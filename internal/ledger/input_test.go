package ledger

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/tally/internal/contracts"
)

func TestLoadBatchFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "C1.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
cell: C1
rows:
  - voting_place: "0001"
    station: "1"
    registered: 100
    voters: 60
    expressed: 60
    scores: [30, 20, 10]
  - row_no: 7
    status: Partial
    registered: 50
    scores: [0, 0]
`), 0o644))

	in, err := LoadBatchFile(path)
	require.NoError(t, err)
	assert.Equal(t, "C1.yaml", in.Source)

	batch, err := in.ToBatch("importer")
	require.NoError(t, err)
	require.Len(t, batch.Rows, 2)

	first := batch.Rows[0]
	assert.Equal(t, 1, first.RowNo)
	assert.Equal(t, contracts.ImportCompleted, first.Status)
	assert.Equal(t, int64(30), first.Scores[0])
	assert.Equal(t, int64(10), first.Scores[2])
	assert.Equal(t, int64(0), first.Scores[3])
	assert.Equal(t, "C1", first.CellCode)

	assert.Equal(t, 7, batch.Rows[1].RowNo)
	assert.Equal(t, contracts.ImportPartial, batch.Rows[1].Status)
	assert.Equal(t, "importer", batch.Actor)
}

func TestLoadBatchFile_UnknownField(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("cell: C1\nrows: []\nextra: true\n"), 0o644))

	_, err := LoadBatchFile(path)
	assert.Error(t, err)
}

func TestToBatch_TooManyScores(t *testing.T) {
	in := BatchInput{Cell: "C1", Rows: []RowInput{{Scores: make([]int64, contracts.MaxCandidateSlots+1)}}}

	_, err := in.ToBatch("importer")
	require.Error(t, err)
	assert.True(t, errors.Is(err, contracts.ErrInconsistentImport))
}
