package publication

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wonny/tally/internal/contracts"
)

// Repository implements contracts.PublicationRepository on PostgreSQL
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new publication repository
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Flags implements contracts.PublicationRepository
func (r *Repository) Flags(ctx context.Context, keys []string) (map[string]contracts.PublicationFlag, error) {
	out := make(map[string]contracts.PublicationFlag, len(keys))
	if len(keys) == 0 {
		return out, nil
	}

	rows, err := r.pool.Query(ctx, `
		SELECT unit_key, level, state, changed_by, changed_at
		FROM tally.publication_flags
		WHERE unit_key = ANY($1)
	`, keys)
	if err != nil {
		return nil, fmt.Errorf("query flags: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		flag, err := scanFlag(rows)
		if err != nil {
			return nil, err
		}
		out[flag.UnitKey] = flag
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate flags: %w", err)
	}
	return out, nil
}

// SetFlag implements contracts.PublicationRepository
func (r *Repository) SetFlag(ctx context.Context, flag contracts.PublicationFlag) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO tally.publication_flags (unit_key, level, state, changed_by, changed_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (unit_key) DO UPDATE SET
			level = EXCLUDED.level,
			state = EXCLUDED.state,
			changed_by = EXCLUDED.changed_by,
			changed_at = EXCLUDED.changed_at
	`, flag.UnitKey, flag.Level.String(), string(flag.State), flag.ChangedBy, flag.ChangedAt)
	if err != nil {
		return fmt.Errorf("upsert flag %q: %w", flag.UnitKey, err)
	}
	return nil
}

// ListFlags implements contracts.PublicationRepository
func (r *Repository) ListFlags(ctx context.Context) ([]contracts.PublicationFlag, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT unit_key, level, state, changed_by, changed_at
		FROM tally.publication_flags
		ORDER BY unit_key
	`)
	if err != nil {
		return nil, fmt.Errorf("query flags: %w", err)
	}
	defer rows.Close()

	var out []contracts.PublicationFlag
	for rows.Next() {
		flag, err := scanFlag(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, flag)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate flags: %w", err)
	}
	return out, nil
}

func scanFlag(rows pgx.Rows) (contracts.PublicationFlag, error) {
	var flag contracts.PublicationFlag
	var level, state string
	if err := rows.Scan(&flag.UnitKey, &level, &state, &flag.ChangedBy, &flag.ChangedAt); err != nil {
		return flag, fmt.Errorf("scan flag: %w", err)
	}

	parsed, err := contracts.ParseLevel(level)
	if err != nil {
		return flag, fmt.Errorf("flag %q: %w", flag.UnitKey, err)
	}
	flag.Level = parsed

	switch s := contracts.PublicationState(state); s {
	case contracts.Published, contracts.NotPublished:
		flag.State = s
	default:
		return flag, fmt.Errorf("flag %q: unknown state %q", flag.UnitKey, state)
	}
	return flag, nil
}
