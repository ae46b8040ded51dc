package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wonny/tally/internal/contracts"
	"github.com/wonny/tally/pkg/database"
)

// Repository implements contracts.LedgerRepository on PostgreSQL
// ⭐ SSOT: CEL 상태와 행 저장은 여기서만
//
// Writers lock the cell rows FOR UPDATE and bump tally.revision in the same
// transaction; readers use a repeatable-read snapshot, so a reader sees the
// old generation or the new one and never a mix.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new ledger repository
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

var rowColumns = []string{
	"cell_code", "generation", "row_no", "voting_place", "station", "status",
	"registered_men", "registered_women", "registered",
	"voters_men", "voters_women", "voters", "turnout_rate",
	"null_ballots", "expressed", "blank_ballots", "scores",
}

// Snapshot implements contracts.LedgerRepository
func (r *Repository) Snapshot(ctx context.Context, codes []string) (*contracts.LedgerSnapshot, error) {
	snap := &contracts.LedgerSnapshot{Cells: make(map[string]contracts.CellLedger, len(codes))}

	err := database.Tx(ctx, r.pool, database.ReadOnlySnapshot, func(tx pgx.Tx) error {
		if err := tx.QueryRow(ctx, `SELECT value, updated_at FROM tally.revision WHERE id = 1`).
			Scan(&snap.Revision, &snap.AsOf); err != nil {
			return fmt.Errorf("read revision: %w", err)
		}

		if len(codes) == 0 {
			return nil
		}

		rows, err := tx.Query(ctx, `
			SELECT code, status, COALESCE(generation, ''), imported_at, published_at, COALESCE(last_error, '')
			FROM tally.cells
			WHERE code = ANY($1)
		`, codes)
		if err != nil {
			return fmt.Errorf("query cells: %w", err)
		}
		for rows.Next() {
			var c contracts.CellLedger
			var status string
			if err := rows.Scan(&c.Code, &status, &c.Generation, &c.ImportedAt, &c.PublishedAt, &c.LastError); err != nil {
				rows.Close()
				return fmt.Errorf("scan cell: %w", err)
			}
			if c.Status, err = contracts.ParseCellStatus(status); err != nil {
				rows.Close()
				return fmt.Errorf("cell %s: %w", c.Code, err)
			}
			snap.Cells[c.Code] = c
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return fmt.Errorf("iterate cells: %w", err)
		}

		// 현재 세대 행만 조회
		rows, err = tx.Query(ctx, `
			SELECT lr.cell_code, lr.generation, lr.row_no, lr.voting_place, lr.station, lr.status,
			       lr.registered_men, lr.registered_women, lr.registered,
			       lr.voters_men, lr.voters_women, lr.voters, lr.turnout_rate,
			       lr.null_ballots, lr.expressed, lr.blank_ballots, lr.scores
			FROM tally.ledger_rows lr
			JOIN tally.cells c ON c.code = lr.cell_code AND c.generation = lr.generation
			WHERE lr.cell_code = ANY($1)
			ORDER BY lr.cell_code, lr.row_no
		`, codes)
		if err != nil {
			return fmt.Errorf("query ledger rows: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			row, err := scanRow(rows)
			if err != nil {
				return err
			}
			entry := snap.Cells[row.CellCode]
			entry.Rows = append(entry.Rows, row)
			snap.Cells[row.CellCode] = entry
		}
		if err := rows.Err(); err != nil {
			return fmt.Errorf("iterate ledger rows: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return snap, nil
}

func scanRow(rows pgx.Rows) (contracts.LedgerRow, error) {
	var row contracts.LedgerRow
	var status string
	var scores []int64
	if err := rows.Scan(
		&row.CellCode, &row.Generation, &row.RowNo, &row.VotingPlace, &row.Station, &status,
		&row.RegisteredMen, &row.RegisteredWomen, &row.Registered,
		&row.VotersMen, &row.VotersWomen, &row.Voters, &row.TurnoutRate,
		&row.NullBallots, &row.Expressed, &row.BlankBallots, &scores,
	); err != nil {
		return row, fmt.Errorf("scan ledger row: %w", err)
	}
	if len(scores) > contracts.MaxCandidateSlots {
		return row, fmt.Errorf("cell %s row %d: %d scores exceed %d slots", row.CellCode, row.RowNo, len(scores), contracts.MaxCandidateSlots)
	}
	row.Status = contracts.ImportStatus(status)
	copy(row.Scores[:], scores)
	return row, nil
}

// Revision implements contracts.LedgerRepository
func (r *Repository) Revision(ctx context.Context) (int64, error) {
	var rev int64
	if err := r.pool.QueryRow(ctx, `SELECT value FROM tally.revision WHERE id = 1`).Scan(&rev); err != nil {
		return 0, fmt.Errorf("read revision: %w", err)
	}
	return rev, nil
}

func bumpRevision(ctx context.Context, tx pgx.Tx) (int64, time.Time, error) {
	var rev int64
	var at time.Time
	err := tx.QueryRow(ctx, `
		UPDATE tally.revision SET value = value + 1, updated_at = NOW()
		WHERE id = 1
		RETURNING value, updated_at
	`).Scan(&rev, &at)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("bump revision: %w", err)
	}
	return rev, at, nil
}

func lockStatus(ctx context.Context, tx pgx.Tx, code string) (contracts.CellStatus, error) {
	var status string
	err := tx.QueryRow(ctx, `SELECT status FROM tally.cells WHERE code = $1 FOR UPDATE`, code).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("%w: cell %s", contracts.ErrNotFound, code)
	}
	if err != nil {
		return "", fmt.Errorf("lock cell %s: %w", code, err)
	}
	return contracts.ParseCellStatus(status)
}

func insertEvent(ctx context.Context, tx pgx.Tx, ev contracts.ImportEvent) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO tally.import_events (cell_code, generation, outcome, actor, source, message, created_at)
		VALUES ($1, NULLIF($2, ''), $3, $4, $5, $6, $7)
	`, ev.CellCode, ev.Generation, string(ev.Outcome), ev.Actor, ev.Source, ev.Message, ev.At)
	if err != nil {
		return fmt.Errorf("insert import event: %w", err)
	}
	return nil
}

// ReplaceImport implements contracts.LedgerRepository
func (r *Repository) ReplaceImport(ctx context.Context, batch contracts.ImportBatch, generation string, decide contracts.TransitionFunc) (*contracts.ImportReceipt, error) {
	receipt := &contracts.ImportReceipt{
		CellCode:   batch.CellCode,
		Generation: generation,
		Rows:       len(batch.Rows),
	}

	err := database.Tx(ctx, r.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		from, err := lockStatus(ctx, tx, batch.CellCode)
		if err != nil {
			return err
		}
		to, err := decide(from)
		if err != nil {
			return fmt.Errorf("cell %s: %w", batch.CellCode, err)
		}
		receipt.PreviousStatus, receipt.Status = from, to

		tag, err := tx.Exec(ctx, `DELETE FROM tally.ledger_rows WHERE cell_code = $1`, batch.CellCode)
		if err != nil {
			return fmt.Errorf("delete previous rows: %w", err)
		}
		receipt.Replaced = int(tag.RowsAffected())

		copied, err := tx.CopyFrom(ctx,
			pgx.Identifier{"tally", "ledger_rows"},
			rowColumns,
			pgx.CopyFromSlice(len(batch.Rows), func(i int) ([]any, error) {
				row := batch.Rows[i]
				return []any{
					batch.CellCode, generation, row.RowNo, row.VotingPlace, row.Station, string(row.Status),
					row.RegisteredMen, row.RegisteredWomen, row.Registered,
					row.VotersMen, row.VotersWomen, row.Voters, row.TurnoutRate,
					row.NullBallots, row.Expressed, row.BlankBallots, row.Scores[:],
				}, nil
			}),
		)
		if err != nil {
			return fmt.Errorf("copy rows: %w", err)
		}
		if int(copied) != len(batch.Rows) {
			return fmt.Errorf("copied %d of %d rows", copied, len(batch.Rows))
		}

		rev, at, err := bumpRevision(ctx, tx)
		if err != nil {
			return err
		}
		receipt.Revision = rev

		if _, err := tx.Exec(ctx, `
			UPDATE tally.cells
			SET status = $2, generation = $3, imported_at = $4, last_error = NULL, updated_at = $4
			WHERE code = $1
		`, batch.CellCode, string(to), generation, at); err != nil {
			return fmt.Errorf("update cell: %w", err)
		}

		return insertEvent(ctx, tx, contracts.ImportEvent{
			CellCode:   batch.CellCode,
			Generation: generation,
			Outcome:    contracts.OutcomeImported,
			Actor:      batch.Actor,
			Source:     batch.Source,
			Message:    fmt.Sprintf("%d rows", len(batch.Rows)),
			At:         at,
		})
	})
	if err != nil {
		return nil, err
	}

	return receipt, nil
}

// RecordFailure implements contracts.LedgerRepository
func (r *Repository) RecordFailure(ctx context.Context, batch contracts.ImportBatch, reason string) error {
	return database.Tx(ctx, r.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `UPDATE tally.cells SET last_error = $2, updated_at = NOW() WHERE code = $1`, batch.CellCode, reason)
		if err != nil {
			return fmt.Errorf("record failure: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("%w: cell %s", contracts.ErrNotFound, batch.CellCode)
		}
		return insertEvent(ctx, tx, contracts.ImportEvent{
			CellCode: batch.CellCode,
			Outcome:  contracts.OutcomeRejected,
			Actor:    batch.Actor,
			Source:   batch.Source,
			Message:  reason,
			At:       time.Now().UTC(),
		})
	})
}

// Transition implements contracts.LedgerRepository
func (r *Repository) Transition(ctx context.Context, codes []string, decide contracts.TransitionFunc, outcome contracts.ImportOutcome, actor string) (*contracts.TransitionReport, error) {
	codes = dedupe(codes)
	report := &contracts.TransitionReport{Skipped: make(map[string]string)}

	err := database.Tx(ctx, r.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		// ORDER BY로 잠금 순서 고정
		rows, err := tx.Query(ctx, `
			SELECT code, status, COALESCE(generation, '')
			FROM tally.cells
			WHERE code = ANY($1)
			ORDER BY code
			FOR UPDATE
		`, codes)
		if err != nil {
			return fmt.Errorf("lock cells: %w", err)
		}

		type current struct {
			status     contracts.CellStatus
			generation string
		}
		found := make(map[string]current, len(codes))
		for rows.Next() {
			var code, status, generation string
			if err := rows.Scan(&code, &status, &generation); err != nil {
				rows.Close()
				return fmt.Errorf("scan cell: %w", err)
			}
			parsed, err := contracts.ParseCellStatus(status)
			if err != nil {
				rows.Close()
				return fmt.Errorf("cell %s: %w", code, err)
			}
			found[code] = current{parsed, generation}
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return fmt.Errorf("iterate cells: %w", err)
		}

		changes := make(map[string]contracts.CellStatus)
		for _, code := range codes {
			cur, ok := found[code]
			if !ok {
				report.Skipped[code] = contracts.ErrNotFound.Error()
				continue
			}
			to, err := decide(cur.status)
			if err != nil {
				report.Skipped[code] = err.Error()
				continue
			}
			if to == cur.status {
				report.Skipped[code] = "unchanged"
				continue
			}
			changes[code] = to
		}

		if len(changes) == 0 {
			return tx.QueryRow(ctx, `SELECT value, updated_at FROM tally.revision WHERE id = 1`).
				Scan(&report.Revision, &report.At)
		}

		rev, at, err := bumpRevision(ctx, tx)
		if err != nil {
			return err
		}
		report.Revision, report.At = rev, at

		for _, code := range codes {
			to, ok := changes[code]
			if !ok {
				continue
			}
			if _, err := tx.Exec(ctx, `
				UPDATE tally.cells
				SET status = $2,
				    published_at = CASE WHEN $2 = 'published' THEN $3::timestamptz ELSE NULL END,
				    updated_at = $3
				WHERE code = $1
			`, code, string(to), at); err != nil {
				return fmt.Errorf("update cell %s: %w", code, err)
			}
			if err := insertEvent(ctx, tx, contracts.ImportEvent{
				CellCode:   code,
				Generation: found[code].generation,
				Outcome:    outcome,
				Actor:      actor,
				At:         at,
			}); err != nil {
				return err
			}
			report.Changed = append(report.Changed, code)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return report, nil
}

// History implements contracts.LedgerRepository
func (r *Repository) History(ctx context.Context, code string, limit int) ([]contracts.ImportEvent, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := r.pool.Query(ctx, `
		SELECT cell_code, COALESCE(generation, ''), outcome, actor, source, message, created_at
		FROM tally.import_events
		WHERE cell_code = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, code, limit)
	if err != nil {
		return nil, fmt.Errorf("query import events: %w", err)
	}
	defer rows.Close()

	var events []contracts.ImportEvent
	for rows.Next() {
		var ev contracts.ImportEvent
		var outcome string
		if err := rows.Scan(&ev.CellCode, &ev.Generation, &outcome, &ev.Actor, &ev.Source, &ev.Message, &ev.At); err != nil {
			return nil, fmt.Errorf("scan import event: %w", err)
		}
		ev.Outcome = contracts.ImportOutcome(outcome)
		events = append(events, ev)
	}

	return events, rows.Err()
}
