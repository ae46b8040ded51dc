package database

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/tally/pkg/config"
)

func integrationDB(t *testing.T) *DB {
	t.Helper()
	if os.Getenv("DATABASE_URL") == "" {
		t.Skip("DATABASE_URL not set, skipping integration test")
	}

	cfg, err := config.Load()
	require.NoError(t, err)

	db, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(db.Close)
	return db
}

func TestNewWithInvalidURL(t *testing.T) {
	cfg := &config.Config{
		Database: config.DatabaseConfig{
			URL:             "invalid://url",
			MaxConns:        25,
			MinConns:        5,
			MaxConnLifetime: time.Hour,
			MaxConnIdleTime: 30 * time.Minute,
		},
	}

	_, err := New(cfg)
	assert.Error(t, err)
}

func TestSchemaStatements(t *testing.T) {
	stmts := SchemaStatements()
	require.NotEmpty(t, stmts)

	joined := strings.Join(stmts, "\n")
	for _, table := range []string{
		"geo.communes", "geo.voting_places", "tally.cells",
		"tally.ledger_rows", "tally.publication_flags", "tally.revision",
	} {
		assert.Contains(t, joined, table)
	}

	// communes must be keyed by the full chain
	assert.Contains(t, joined, "PRIMARY KEY (department_code, sub_prefecture_code, code)")

	stmts[0] = "mutated"
	assert.NotEqual(t, "mutated", SchemaStatements()[0])
}

func TestHealthCheck(t *testing.T) {
	db := integrationDB(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	status, err := db.HealthCheck(ctx)
	require.NoError(t, err)
	assert.True(t, status.Healthy)
	assert.NotZero(t, status.Stats.MaxConns)
}

func TestEnsureSchema_Idempotent(t *testing.T) {
	db := integrationDB(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	require.NoError(t, EnsureSchema(ctx, db.Pool))
	require.NoError(t, EnsureSchema(ctx, db.Pool))

	var value int64
	require.NoError(t, db.Pool.QueryRow(ctx, `SELECT value FROM tally.revision WHERE id = 1`).Scan(&value))
	assert.GreaterOrEqual(t, value, int64(0))
}

func TestClose_Twice(t *testing.T) {
	db := integrationDB(t)
	assert.NotPanics(t, func() {
		db.Close()
		db.Close()
	})
}
