package jobs

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/tally/internal/catalog"
	"github.com/wonny/tally/internal/contracts"
	"github.com/wonny/tally/internal/ledger"
	"github.com/wonny/tally/internal/tally"
	"github.com/wonny/tally/internal/testutil"
)

type seedSource struct {
	seed *catalog.Seed
}

func (s *seedSource) Load(ctx context.Context) (*catalog.Seed, error) {
	return s.seed, nil
}

func TestCatalogRefreshJob(t *testing.T) {
	var buf bytes.Buffer
	log := testutil.Logger(&buf)
	holder := testutil.Holder(t)
	before := holder.Current()

	source := &seedSource{seed: testutil.Seed()}
	job := NewCatalogRefreshJob(catalog.NewRefresher(source, holder, log), holder, "0 */5 * * * *", log)
	assert.Equal(t, "catalog_refresh", job.Name())
	assert.Equal(t, "0 */5 * * * *", job.Schedule())

	require.NoError(t, job.Run(context.Background()))
	assert.Same(t, before, holder.Current())
	assert.Equal(t, "catalog unchanged", job.Summary())

	source.seed.Candidates = append(source.seed.Candidates, contracts.Candidate{Slot: 4, Name: "YAO Marc"})
	require.NoError(t, job.Run(context.Background()))
	assert.NotSame(t, before, holder.Current())
	assert.Len(t, holder.Current().Candidates(), 4)
	assert.Contains(t, job.Summary(), "catalog swapped to ")

	// an invalid seed keeps the previous catalog
	current := holder.Current()
	invalid := testutil.Seed()
	invalid.Candidates = append(invalid.Candidates, contracts.Candidate{Slot: 1, Name: "DOUBLON"})
	source.seed = invalid
	assert.Error(t, job.Run(context.Background()))
	assert.Same(t, current, holder.Current())
}

func TestConsistencyAuditJob(t *testing.T) {
	var buf bytes.Buffer
	log := testutil.Logger(&buf)
	holder := testutil.Holder(t)
	store := ledger.NewMemoryStore()
	importer := ledger.NewImporter(store, holder, log)

	_, err := importer.Import(context.Background(), testutil.Batch(testutil.CellAbobo1, testutil.Row("", 100, 60, 40, 20)))
	require.NoError(t, err)

	job := NewConsistencyAuditJob(tally.NewAuditor(holder, store, log), "@hourly", log)
	assert.Nil(t, job.LastReport())
	assert.Empty(t, job.Summary())

	require.NoError(t, job.Run(context.Background()))
	report := job.LastReport()
	require.NotNil(t, report)
	assert.True(t, report.OK())
	assert.Equal(t, 1, report.EligibleCells)
	assert.Contains(t, job.Summary(), "no findings")
}
