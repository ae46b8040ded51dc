package catalog

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wonny/tally/internal/contracts"
)

// Repository loads and stores reference data in Postgres.
// ⭐ SSOT: 참조 데이터 저장/조회는 여기서만
//
// Every join between levels uses the full parent key columns; a commune is
// never joined on (department, commune) alone.
type Repository struct {
	pool     *pgxpool.Pool
	election string
}

// NewRepository creates a new catalog repository
func NewRepository(pool *pgxpool.Pool, election string) *Repository {
	return &Repository{pool: pool, election: election}
}

// Load implements Source
func (r *Repository) Load(ctx context.Context) (*Seed, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, fmt.Errorf("begin catalog read: %w", err)
	}
	defer tx.Rollback(ctx)

	seed := &Seed{Election: r.election}

	regions, err := r.loadRegions(ctx, tx)
	if err != nil {
		return nil, err
	}
	seed.Regions = regions

	cells, err := r.loadCells(ctx, tx)
	if err != nil {
		return nil, err
	}
	seed.Cells = cells

	candidates, err := r.loadCandidates(ctx, tx)
	if err != nil {
		return nil, err
	}
	seed.Candidates = candidates

	return seed, nil
}

func (r *Repository) loadRegions(ctx context.Context, tx pgx.Tx) ([]RegionSeed, error) {
	var regions []RegionSeed
	regionIdx := make(map[string]int)

	rows, err := tx.Query(ctx, `SELECT code, label FROM geo.regions ORDER BY code`)
	if err != nil {
		return nil, fmt.Errorf("query regions: %w", err)
	}
	for rows.Next() {
		var rs RegionSeed
		if err := rows.Scan(&rs.Code, &rs.Label); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan region: %w", err)
		}
		regionIdx[rs.Code] = len(regions)
		regions = append(regions, rs)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate regions: %w", err)
	}

	// Departments
	type deptPos struct{ region, dept int }
	deptIdx := make(map[string]deptPos)

	rows, err = tx.Query(ctx, `SELECT code, region_code, label FROM geo.departments ORDER BY code`)
	if err != nil {
		return nil, fmt.Errorf("query departments: %w", err)
	}
	for rows.Next() {
		var ds DepartmentSeed
		var regionCode string
		if err := rows.Scan(&ds.Code, &regionCode, &ds.Label); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan department: %w", err)
		}
		ri, ok := regionIdx[regionCode]
		if !ok {
			rows.Close()
			return nil, fmt.Errorf("department %s references unknown region %s", ds.Code, regionCode)
		}
		deptIdx[ds.Code] = deptPos{ri, len(regions[ri].Departments)}
		regions[ri].Departments = append(regions[ri].Departments, ds)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate departments: %w", err)
	}

	dept := func(code string) (*DepartmentSeed, error) {
		pos, ok := deptIdx[code]
		if !ok {
			return nil, fmt.Errorf("unknown department %s", code)
		}
		return &regions[pos.region].Departments[pos.dept], nil
	}

	// Sub-prefectures, keyed by department-subprefecture
	spIdx := make(map[string]int)
	rows, err = tx.Query(ctx, `
		SELECT department_code, code, label
		FROM geo.sub_prefectures
		ORDER BY department_code, code
	`)
	if err != nil {
		return nil, fmt.Errorf("query sub-prefectures: %w", err)
	}
	for rows.Next() {
		var deptCode string
		var sp SubPrefectureSeed
		if err := rows.Scan(&deptCode, &sp.Code, &sp.Label); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan sub-prefecture: %w", err)
		}
		d, err := dept(deptCode)
		if err != nil {
			rows.Close()
			return nil, err
		}
		spIdx[contracts.JoinKey(deptCode, sp.Code)] = len(d.SubPrefectures)
		d.SubPrefectures = append(d.SubPrefectures, sp)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sub-prefectures: %w", err)
	}

	subPrefecture := func(deptCode, spCode string) (*SubPrefectureSeed, error) {
		d, err := dept(deptCode)
		if err != nil {
			return nil, err
		}
		i, ok := spIdx[contracts.JoinKey(deptCode, spCode)]
		if !ok {
			return nil, fmt.Errorf("unknown sub-prefecture %s", contracts.JoinKey(deptCode, spCode))
		}
		return &d.SubPrefectures[i], nil
	}

	// Communes, keyed by the full triple
	communeIdx := make(map[string]int)
	rows, err = tx.Query(ctx, `
		SELECT department_code, sub_prefecture_code, code, label
		FROM geo.communes
		ORDER BY department_code, sub_prefecture_code, code
	`)
	if err != nil {
		return nil, fmt.Errorf("query communes: %w", err)
	}
	for rows.Next() {
		var deptCode, spCode string
		var cm CommuneSeed
		if err := rows.Scan(&deptCode, &spCode, &cm.Code, &cm.Label); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan commune: %w", err)
		}
		sp, err := subPrefecture(deptCode, spCode)
		if err != nil {
			rows.Close()
			return nil, err
		}
		communeIdx[contracts.JoinKey(deptCode, spCode, cm.Code)] = len(sp.Communes)
		sp.Communes = append(sp.Communes, cm)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate communes: %w", err)
	}

	rows, err = tx.Query(ctx, `
		SELECT department_code, sub_prefecture_code, commune_code, code, label, stations
		FROM geo.voting_places
		ORDER BY department_code, sub_prefecture_code, commune_code, code
	`)
	if err != nil {
		return nil, fmt.Errorf("query voting places: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var deptCode, spCode, communeCode string
		var vp VotingPlaceSeed
		if err := rows.Scan(&deptCode, &spCode, &communeCode, &vp.Code, &vp.Label, &vp.Stations); err != nil {
			return nil, fmt.Errorf("scan voting place: %w", err)
		}
		sp, err := subPrefecture(deptCode, spCode)
		if err != nil {
			return nil, err
		}
		i, ok := communeIdx[contracts.JoinKey(deptCode, spCode, communeCode)]
		if !ok {
			return nil, fmt.Errorf("voting place %s references unknown commune", vp.Code)
		}
		sp.Communes[i].VotingPlaces = append(sp.Communes[i].VotingPlaces, vp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate voting places: %w", err)
	}

	return regions, nil
}

func (r *Repository) loadCells(ctx context.Context, tx pgx.Tx) ([]CellSeed, error) {
	rows, err := tx.Query(ctx, `
		SELECT
			c.code,
			c.label,
			c.station_count,
			c.department_code,
			c.sub_prefecture_code,
			c.commune_code,
			COALESCE(
				array_agg(l.voting_place_code ORDER BY l.voting_place_code)
					FILTER (WHERE l.voting_place_code IS NOT NULL),
				'{}'
			)
		FROM tally.cells c
		LEFT JOIN tally.cell_voting_places l
			ON  l.cell_code = c.code
			AND l.department_code = c.department_code
			AND l.sub_prefecture_code = c.sub_prefecture_code
			AND l.commune_code = c.commune_code
		GROUP BY c.code
		ORDER BY c.code
	`)
	if err != nil {
		return nil, fmt.Errorf("query cells: %w", err)
	}
	defer rows.Close()

	var cells []CellSeed
	for rows.Next() {
		var cs CellSeed
		if err := rows.Scan(&cs.Code, &cs.Label, &cs.StationCount, &cs.Department, &cs.SubPrefecture, &cs.Commune, &cs.VotingPlaces); err != nil {
			return nil, fmt.Errorf("scan cell: %w", err)
		}
		cells = append(cells, cs)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cells: %w", err)
	}

	return cells, nil
}

func (r *Repository) loadCandidates(ctx context.Context, tx pgx.Tx) ([]contracts.Candidate, error) {
	rows, err := tx.Query(ctx, `
		SELECT slot, name, photo_url, sponsor_code, sponsor_name, sponsor_logo_url
		FROM tally.candidates
		ORDER BY slot
	`)
	if err != nil {
		return nil, fmt.Errorf("query candidates: %w", err)
	}
	defer rows.Close()

	var candidates []contracts.Candidate
	for rows.Next() {
		var c contracts.Candidate
		var photo, sponsorCode, sponsorName, sponsorLogo *string
		if err := rows.Scan(&c.Slot, &c.Name, &photo, &sponsorCode, &sponsorName, &sponsorLogo); err != nil {
			return nil, fmt.Errorf("scan candidate: %w", err)
		}
		if photo != nil {
			c.PhotoURL = *photo
		}
		if sponsorCode != nil {
			c.Sponsor = &contracts.Sponsor{Code: *sponsorCode}
			if sponsorName != nil {
				c.Sponsor.Name = *sponsorName
			}
			if sponsorLogo != nil {
				c.Sponsor.LogoURL = *sponsorLogo
			}
		}
		candidates = append(candidates, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate candidates: %w", err)
	}

	return candidates, nil
}

// Save upserts the seed. Cell statuses and ledger rows are left untouched.
func (r *Repository) Save(ctx context.Context, seed *Seed) error {
	if _, err := Build(seed); err != nil {
		return err
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	for _, rg := range seed.Regions {
		batch.Queue(`
			INSERT INTO geo.regions (code, label) VALUES ($1, $2)
			ON CONFLICT (code) DO UPDATE SET label = EXCLUDED.label
		`, rg.Code, rg.Label)

		for _, d := range rg.Departments {
			batch.Queue(`
				INSERT INTO geo.departments (code, region_code, label) VALUES ($1, $2, $3)
				ON CONFLICT (code) DO UPDATE SET region_code = EXCLUDED.region_code, label = EXCLUDED.label
			`, d.Code, rg.Code, d.Label)

			for _, sp := range d.SubPrefectures {
				batch.Queue(`
					INSERT INTO geo.sub_prefectures (department_code, code, label) VALUES ($1, $2, $3)
					ON CONFLICT (department_code, code) DO UPDATE SET label = EXCLUDED.label
				`, d.Code, sp.Code, sp.Label)

				for _, cm := range sp.Communes {
					batch.Queue(`
						INSERT INTO geo.communes (department_code, sub_prefecture_code, code, label) VALUES ($1, $2, $3, $4)
						ON CONFLICT (department_code, sub_prefecture_code, code) DO UPDATE SET label = EXCLUDED.label
					`, d.Code, sp.Code, cm.Code, cm.Label)

					for _, vp := range cm.VotingPlaces {
						batch.Queue(`
							INSERT INTO geo.voting_places (department_code, sub_prefecture_code, commune_code, code, label, stations)
							VALUES ($1, $2, $3, $4, $5, $6)
							ON CONFLICT (department_code, sub_prefecture_code, commune_code, code)
							DO UPDATE SET label = EXCLUDED.label, stations = EXCLUDED.stations
						`, d.Code, sp.Code, cm.Code, vp.Code, vp.Label, vp.Stations)
					}
				}
			}
		}
	}

	for _, cs := range seed.Cells {
		batch.Queue(`
			INSERT INTO tally.cells (code, label, station_count, department_code, sub_prefecture_code, commune_code, status)
			VALUES ($1, $2, $3, $4, $5, $6, 'pending')
			ON CONFLICT (code) DO UPDATE SET
				label = EXCLUDED.label,
				station_count = EXCLUDED.station_count,
				department_code = EXCLUDED.department_code,
				sub_prefecture_code = EXCLUDED.sub_prefecture_code,
				commune_code = EXCLUDED.commune_code
		`, cs.Code, cs.Label, cs.StationCount, cs.Department, cs.SubPrefecture, cs.Commune)

		batch.Queue(`DELETE FROM tally.cell_voting_places WHERE cell_code = $1`, cs.Code)
		for _, vp := range cs.VotingPlaces {
			batch.Queue(`
				INSERT INTO tally.cell_voting_places (cell_code, department_code, sub_prefecture_code, commune_code, voting_place_code)
				VALUES ($1, $2, $3, $4, $5)
			`, cs.Code, cs.Department, cs.SubPrefecture, cs.Commune, vp)
		}
	}

	for _, c := range seed.Candidates {
		var sponsorCode, sponsorName, sponsorLogo *string
		if c.Sponsor != nil {
			sponsorCode, sponsorName, sponsorLogo = &c.Sponsor.Code, &c.Sponsor.Name, &c.Sponsor.LogoURL
		}
		batch.Queue(`
			INSERT INTO tally.candidates (slot, name, photo_url, sponsor_code, sponsor_name, sponsor_logo_url)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (slot) DO UPDATE SET
				name = EXCLUDED.name,
				photo_url = EXCLUDED.photo_url,
				sponsor_code = EXCLUDED.sponsor_code,
				sponsor_name = EXCLUDED.sponsor_name,
				sponsor_logo_url = EXCLUDED.sponsor_logo_url
		`, c.Slot, c.Name, c.PhotoURL, sponsorCode, sponsorName, sponsorLogo)
	}

	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to upsert catalog: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}
