package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// schema is applied in order; every statement is idempotent.
// Geographic tables are keyed by the full parent chain so that local codes
// reused under different parents never collide.
var schema = []string{
	`CREATE SCHEMA IF NOT EXISTS geo`,
	`CREATE SCHEMA IF NOT EXISTS tally`,

	`CREATE TABLE IF NOT EXISTS geo.regions (
		code  TEXT PRIMARY KEY,
		label TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS geo.departments (
		code        TEXT PRIMARY KEY,
		region_code TEXT NOT NULL REFERENCES geo.regions (code),
		label       TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS geo.sub_prefectures (
		department_code TEXT NOT NULL REFERENCES geo.departments (code),
		code            TEXT NOT NULL,
		label           TEXT NOT NULL,
		PRIMARY KEY (department_code, code)
	)`,
	`CREATE TABLE IF NOT EXISTS geo.communes (
		department_code     TEXT NOT NULL,
		sub_prefecture_code TEXT NOT NULL,
		code                TEXT NOT NULL,
		label               TEXT NOT NULL,
		PRIMARY KEY (department_code, sub_prefecture_code, code),
		FOREIGN KEY (department_code, sub_prefecture_code)
			REFERENCES geo.sub_prefectures (department_code, code)
	)`,
	`CREATE TABLE IF NOT EXISTS geo.voting_places (
		department_code     TEXT NOT NULL,
		sub_prefecture_code TEXT NOT NULL,
		commune_code        TEXT NOT NULL,
		code                TEXT NOT NULL,
		label               TEXT NOT NULL,
		stations            INTEGER NOT NULL DEFAULT 0 CHECK (stations >= 0),
		PRIMARY KEY (department_code, sub_prefecture_code, commune_code, code),
		FOREIGN KEY (department_code, sub_prefecture_code, commune_code)
			REFERENCES geo.communes (department_code, sub_prefecture_code, code)
	)`,

	`CREATE TABLE IF NOT EXISTS tally.cells (
		code                TEXT PRIMARY KEY,
		label               TEXT NOT NULL,
		station_count       INTEGER NOT NULL DEFAULT 0,
		department_code     TEXT NOT NULL,
		sub_prefecture_code TEXT NOT NULL,
		commune_code        TEXT NOT NULL,
		status              TEXT NOT NULL DEFAULT 'pending'
			CHECK (status IN ('pending', 'imported', 'published')),
		generation          TEXT,
		imported_at         TIMESTAMPTZ,
		published_at        TIMESTAMPTZ,
		last_error          TEXT,
		updated_at          TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		FOREIGN KEY (department_code, sub_prefecture_code, commune_code)
			REFERENCES geo.communes (department_code, sub_prefecture_code, code)
	)`,
	`CREATE TABLE IF NOT EXISTS tally.cell_voting_places (
		cell_code           TEXT NOT NULL REFERENCES tally.cells (code),
		department_code     TEXT NOT NULL,
		sub_prefecture_code TEXT NOT NULL,
		commune_code        TEXT NOT NULL,
		voting_place_code   TEXT NOT NULL,
		PRIMARY KEY (cell_code, voting_place_code),
		FOREIGN KEY (department_code, sub_prefecture_code, commune_code, voting_place_code)
			REFERENCES geo.voting_places (department_code, sub_prefecture_code, commune_code, code)
	)`,
	`CREATE TABLE IF NOT EXISTS tally.candidates (
		slot             INTEGER PRIMARY KEY CHECK (slot BETWEEN 1 AND 16),
		name             TEXT NOT NULL,
		photo_url        TEXT,
		sponsor_code     TEXT,
		sponsor_name     TEXT,
		sponsor_logo_url TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS tally.ledger_rows (
		cell_code        TEXT NOT NULL REFERENCES tally.cells (code),
		generation       TEXT NOT NULL,
		row_no           INTEGER NOT NULL,
		voting_place     TEXT NOT NULL DEFAULT '',
		station          TEXT NOT NULL DEFAULT '',
		status           TEXT NOT NULL,
		registered_men   BIGINT NOT NULL DEFAULT 0,
		registered_women BIGINT NOT NULL DEFAULT 0,
		registered       BIGINT NOT NULL DEFAULT 0,
		voters_men       BIGINT NOT NULL DEFAULT 0,
		voters_women     BIGINT NOT NULL DEFAULT 0,
		voters           BIGINT NOT NULL DEFAULT 0,
		turnout_rate     DOUBLE PRECISION NOT NULL DEFAULT 0,
		null_ballots     BIGINT NOT NULL DEFAULT 0,
		expressed        BIGINT NOT NULL DEFAULT 0,
		blank_ballots    BIGINT NOT NULL DEFAULT 0,
		scores           BIGINT[] NOT NULL,
		PRIMARY KEY (cell_code, row_no)
	)`,
	`CREATE TABLE IF NOT EXISTS tally.publication_flags (
		unit_key   TEXT PRIMARY KEY,
		level      TEXT NOT NULL,
		state      TEXT NOT NULL CHECK (state IN ('not_published', 'published')),
		changed_by TEXT NOT NULL,
		changed_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS tally.import_events (
		id         BIGSERIAL PRIMARY KEY,
		cell_code  TEXT NOT NULL,
		generation TEXT,
		outcome    TEXT NOT NULL,
		actor      TEXT NOT NULL DEFAULT '',
		source     TEXT NOT NULL DEFAULT '',
		message    TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_import_events_cell ON tally.import_events (cell_code, created_at DESC)`,

	// Single-row write counter; bumped by every ledger mutation
	`CREATE TABLE IF NOT EXISTS tally.revision (
		id         SMALLINT PRIMARY KEY DEFAULT 1 CHECK (id = 1),
		value      BIGINT NOT NULL DEFAULT 0,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`INSERT INTO tally.revision (id, value) VALUES (1, 0) ON CONFLICT (id) DO NOTHING`,
}

// EnsureSchema creates the tally tables if they do not exist
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	return Tx(ctx, pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		for i, stmt := range schema {
			if _, err := tx.Exec(ctx, stmt); err != nil {
				return fmt.Errorf("schema statement %d: %w", i+1, err)
			}
		}
		return nil
	})
}

// SchemaStatements returns the DDL applied by EnsureSchema
func SchemaStatements() []string {
	out := make([]string, len(schema))
	copy(out, schema)
	return out
}
