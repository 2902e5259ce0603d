package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/blitzquote/rate-engine/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. It backs local
// single-file builds and tests; semantics match PostgresStore.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := sqlDB.Exec(pragma); err != nil {
			sqlDB.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: sqlDB}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS regions (
	id         TEXT PRIMARY KEY,
	naic       TEXT NOT NULL,
	state      TEXT NOT NULL,
	kind       TEXT NOT NULL,
	hash       TEXT NOT NULL,
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	UNIQUE (naic, state, hash)
);

CREATE TABLE IF NOT EXISTS region_members (
	region_id TEXT NOT NULL REFERENCES regions(id) ON DELETE CASCADE,
	location  TEXT NOT NULL,
	PRIMARY KEY (region_id, location)
);

CREATE TABLE IF NOT EXISTS rates (
	region_id      TEXT NOT NULL,
	naic           TEXT NOT NULL,
	state          TEXT NOT NULL,
	gender         TEXT NOT NULL,
	tobacco        INTEGER NOT NULL,
	age            INTEGER NOT NULL,
	plan           TEXT NOT NULL,
	rate           REAL NOT NULL,
	discount_rate  REAL NOT NULL,
	effective_date TEXT NOT NULL,
	PRIMARY KEY (region_id, gender, tobacco, age, plan, effective_date)
);

CREATE TABLE IF NOT EXISTS rate_corrections (
	id             TEXT PRIMARY KEY,
	region_id      TEXT NOT NULL,
	naic           TEXT NOT NULL,
	gender         TEXT NOT NULL,
	tobacco        INTEGER NOT NULL,
	age            INTEGER NOT NULL,
	plan           TEXT NOT NULL,
	effective_date TEXT NOT NULL,
	old_rate       REAL NOT NULL,
	new_rate       REAL NOT NULL,
	old_discount   REAL NOT NULL,
	new_discount   REAL NOT NULL,
	detected_at    DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS processing_records (
	state          TEXT NOT NULL,
	naic           TEXT NOT NULL,
	requested_date TEXT NOT NULL,
	source_dates   TEXT,
	success        INTEGER NOT NULL,
	processed_at   DATETIME NOT NULL DEFAULT (datetime('now')),
	PRIMARY KEY (state, naic, requested_date)
);

CREATE TABLE IF NOT EXISTS carrier_info (
	naic         TEXT PRIMARY KEY,
	company_name TEXT NOT NULL,
	category     INTEGER NOT NULL DEFAULT 2,
	selected     INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_regions_naic_state ON regions(naic, state);
CREATE INDEX IF NOT EXISTS idx_region_members_location ON region_members(location);
CREATE INDEX IF NOT EXISTS idx_rates_state_naic_date ON rates(state, naic, effective_date);
CREATE INDEX IF NOT EXISTS idx_rates_region_date ON rates(region_id, effective_date DESC);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// SaveRegions persists one discovery's regions in a single transaction. A
// failure rolls back the whole batch so no partial region graph survives.
func (s *SQLiteStore) SaveRegions(ctx context.Context, regions []model.RatingRegion) ([]model.RatingRegion, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: begin regions tx")
	}
	defer tx.Rollback() //nolint:errcheck

	out := make([]model.RatingRegion, 0, len(regions))
	for _, region := range regions {
		if region.Hash == "" {
			region.Hash = model.RegionHash(region.Locations)
		}

		var existingID string
		err := tx.QueryRowContext(ctx,
			`SELECT id FROM regions WHERE naic = ? AND state = ? AND hash = ?`,
			region.NAIC, region.State, region.Hash,
		).Scan(&existingID)
		switch {
		case err == nil:
			region.ID = existingID
			out = append(out, region)
			continue
		case !errors.Is(err, sql.ErrNoRows):
			return nil, eris.Wrapf(err, "sqlite: lookup region %s/%s", region.State, region.NAIC)
		}

		region.ID = uuid.New().String()
		region.CreatedAt = time.Now().UTC()

		_, err = tx.ExecContext(ctx,
			`INSERT INTO regions (id, naic, state, kind, hash, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
			region.ID, region.NAIC, region.State, string(region.Kind), region.Hash, region.CreatedAt,
		)
		if err != nil {
			return nil, eris.Wrapf(err, "sqlite: insert region %s/%s", region.State, region.NAIC)
		}
		for _, loc := range region.Locations {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO region_members (region_id, location) VALUES (?, ?)`,
				region.ID, loc,
			); err != nil {
				return nil, eris.Wrapf(err, "sqlite: insert region member %s", region.ID)
			}
		}
		out = append(out, region)
	}
	if err := tx.Commit(); err != nil {
		return nil, eris.Wrap(err, "sqlite: commit regions tx")
	}
	return out, nil
}

func (s *SQLiteStore) RegionsFor(ctx context.Context, state, naic string) ([]model.RatingRegion, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT r.id, r.naic, r.state, r.kind, r.hash, r.created_at, m.location
		 FROM regions r JOIN region_members m ON m.region_id = r.id
		 WHERE r.state = ? AND r.naic = ?
		 ORDER BY r.id, m.location`,
		state, naic,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: regions for %s/%s", state, naic)
	}
	defer rows.Close() //nolint:errcheck

	var regions []model.RatingRegion
	for rows.Next() {
		var (
			id, rNaic, rState, kind, hash, location string
			createdAt                               time.Time
		)
		if err := rows.Scan(&id, &rNaic, &rState, &kind, &hash, &createdAt, &location); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan region row")
		}
		if len(regions) == 0 || regions[len(regions)-1].ID != id {
			regions = append(regions, model.RatingRegion{
				ID: id, NAIC: rNaic, State: rState,
				Kind: model.MappingKind(kind), Hash: hash, CreatedAt: createdAt,
			})
		}
		last := &regions[len(regions)-1]
		last.Locations = append(last.Locations, location)
	}
	return regions, eris.Wrap(rows.Err(), "sqlite: regions iterate")
}

func (s *SQLiteStore) MappingFor(ctx context.Context, state, naic string) (model.MappingKind, error) {
	var kind string
	err := s.db.QueryRowContext(ctx,
		`SELECT kind FROM regions WHERE state = ? AND naic = ? LIMIT 1`,
		state, naic,
	).Scan(&kind)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", eris.Wrapf(err, "sqlite: mapping for %s/%s", state, naic)
	}
	return model.MappingKind(kind), nil
}

func (s *SQLiteStore) RegionForLocation(ctx context.Context, state, naic, location string) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx,
		`SELECT r.id FROM regions r
		 JOIN region_members m ON m.region_id = r.id
		 WHERE r.state = ? AND r.naic = ? AND m.location = ?
		 LIMIT 1`,
		state, naic, location,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", eris.Wrapf(err, "sqlite: region for location %s/%s/%s", state, naic, location)
	}
	return id, nil
}

func (s *SQLiteStore) SaveRates(ctx context.Context, rows []model.RateQuote) (*SaveResult, error) {
	if len(rows) == 0 {
		return &SaveResult{}, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: begin rates tx")
	}
	defer tx.Rollback() //nolint:errcheck

	result := &SaveResult{}
	for _, r := range rows {
		date := model.FormatDate(r.EffectiveDate)

		var oldRate, oldDiscount float64
		err := tx.QueryRowContext(ctx,
			`SELECT rate, discount_rate FROM rates
			 WHERE region_id = ? AND gender = ? AND tobacco = ? AND age = ? AND plan = ? AND effective_date = ?`,
			r.RegionID, r.Demographic.Gender, boolToInt(r.Demographic.Tobacco),
			r.Demographic.Age, r.Demographic.Plan, date,
		).Scan(&oldRate, &oldDiscount)
		switch {
		case err == nil:
			if oldRate != r.Rate || oldDiscount != r.DiscountRate {
				if _, err := tx.ExecContext(ctx,
					`INSERT INTO rate_corrections
						(id, region_id, naic, gender, tobacco, age, plan, effective_date,
						 old_rate, new_rate, old_discount, new_discount)
					 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
					uuid.New().String(), r.RegionID, r.NAIC,
					r.Demographic.Gender, boolToInt(r.Demographic.Tobacco), r.Demographic.Age, r.Demographic.Plan,
					date, oldRate, r.Rate, oldDiscount, r.DiscountRate,
				); err != nil {
					return nil, eris.Wrap(err, "sqlite: log rate correction")
				}
				result.Corrections++
			}
			continue
		case !errors.Is(err, sql.ErrNoRows):
			return nil, eris.Wrap(err, "sqlite: check existing rate")
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO rates (region_id, naic, state, gender, tobacco, age, plan, rate, discount_rate, effective_date)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			r.RegionID, r.NAIC, r.State,
			r.Demographic.Gender, boolToInt(r.Demographic.Tobacco), r.Demographic.Age, r.Demographic.Plan,
			r.Rate, r.DiscountRate, date,
		); err != nil {
			return nil, eris.Wrap(err, "sqlite: insert rate")
		}
		result.Inserted++
	}

	if err := tx.Commit(); err != nil {
		return nil, eris.Wrap(err, "sqlite: commit rates tx")
	}
	return result, nil
}

func (s *SQLiteStore) RatesAsOf(ctx context.Context, regionID string, asOf time.Time) ([]model.RateQuote, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT region_id, naic, state, gender, tobacco, age, plan, rate, discount_rate, effective_date
		 FROM rates
		 WHERE region_id = ? AND effective_date = (
			SELECT MAX(effective_date) FROM rates WHERE region_id = ? AND effective_date <= ?
		 )
		 ORDER BY plan, gender, tobacco, age`,
		regionID, regionID, model.FormatDate(asOf),
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: rates as of for %s", regionID)
	}
	defer rows.Close() //nolint:errcheck
	return scanSQLiteRates(rows)
}

func (s *SQLiteStore) RateFor(ctx context.Context, regionID, naic string, demo model.Demographic, asOf time.Time) (*model.RateQuote, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT region_id, naic, state, gender, tobacco, age, plan, rate, discount_rate, effective_date
		 FROM rates
		 WHERE region_id = ? AND naic = ? AND gender = ? AND tobacco = ? AND age = ? AND plan = ? AND effective_date <= ?
		 ORDER BY effective_date DESC LIMIT 1`,
		regionID, naic, demo.Gender, boolToInt(demo.Tobacco), demo.Age, demo.Plan, model.FormatDate(asOf),
	)
	q, err := scanSQLiteRate(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: rate for %s", regionID)
	}
	return q, nil
}

func (s *SQLiteStore) CountRates(ctx context.Context, state, naic string, dates []time.Time) (int64, error) {
	if len(dates) == 0 {
		return 0, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(dates)), ",")
	args := []any{state, naic}
	for _, d := range dates {
		args = append(args, model.FormatDate(d))
	}

	var count int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM rates WHERE state = ? AND naic = ? AND effective_date IN (`+placeholders+`)`,
		args...,
	).Scan(&count)
	return count, eris.Wrapf(err, "sqlite: count rates %s/%s", state, naic)
}

func (s *SQLiteStore) CopyForward(ctx context.Context, state, naic string, from, to time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO rates (region_id, naic, state, gender, tobacco, age, plan, rate, discount_rate, effective_date)
		SELECT r.region_id, r.naic, r.state, r.gender, r.tobacco, r.age, r.plan, r.rate, r.discount_rate, ?
		FROM rates r
		WHERE r.state = ? AND (? = '' OR r.naic = ?) AND r.effective_date = ?`,
		model.FormatDate(to), state, naic, naic, model.FormatDate(from),
	)
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: copy forward %s", state)
	}
	n, err := res.RowsAffected()
	return n, eris.Wrap(err, "sqlite: copy forward rows affected")
}

func (s *SQLiteStore) EffectiveDatesFor(ctx context.Context, state, naic string) ([]time.Time, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT effective_date FROM rates WHERE state = ? AND naic = ? ORDER BY effective_date`,
		state, naic,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: effective dates %s/%s", state, naic)
	}
	defer rows.Close() //nolint:errcheck

	var dates []time.Time
	for rows.Next() {
		var ds string
		if err := rows.Scan(&ds); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan effective date")
		}
		d, err := model.ParseDate(ds)
		if err != nil {
			return nil, eris.Wrapf(err, "sqlite: parse effective date %s", ds)
		}
		dates = append(dates, d)
	}
	return dates, eris.Wrap(rows.Err(), "sqlite: effective dates iterate")
}

func (s *SQLiteStore) RecordProcessing(ctx context.Context, rec model.ProcessingRecord) error {
	sourceDates := make([]string, len(rec.SourceDates))
	for i, d := range rec.SourceDates {
		sourceDates[i] = model.FormatDate(d)
	}
	datesJSON, err := json.Marshal(sourceDates)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal source dates")
	}

	processedAt := rec.ProcessedAt
	if processedAt.IsZero() {
		processedAt = time.Now().UTC()
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO processing_records (state, naic, requested_date, source_dates, success, processed_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (state, naic, requested_date) DO UPDATE SET
			source_dates = excluded.source_dates,
			success = excluded.success,
			processed_at = excluded.processed_at`,
		rec.State, rec.NAIC, model.FormatDate(rec.RequestedDate), string(datesJSON),
		boolToInt(rec.Success), processedAt,
	)
	return eris.Wrapf(err, "sqlite: record processing %s/%s", rec.State, rec.NAIC)
}

func (s *SQLiteStore) IsProcessed(ctx context.Context, state, naic string, requested time.Time) (bool, error) {
	var (
		success   int
		datesJSON sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT success, source_dates FROM processing_records
		 WHERE state = ? AND naic = ? AND requested_date = ?`,
		state, naic, model.FormatDate(requested),
	).Scan(&success, &datesJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: is processed %s/%s", state, naic)
	}
	if success == 0 {
		return false, nil
	}

	var sourceDates []string
	if datesJSON.Valid && datesJSON.String != "" {
		if err := json.Unmarshal([]byte(datesJSON.String), &sourceDates); err != nil {
			return false, eris.Wrap(err, "sqlite: unmarshal source dates")
		}
	}
	if len(sourceDates) == 0 {
		sourceDates = []string{model.FormatDate(requested)}
	}

	for _, ds := range sourceDates {
		var exists int
		err := s.db.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM rates WHERE state = ? AND naic = ? AND effective_date = ?)`,
			state, naic, ds,
		).Scan(&exists)
		if err != nil {
			return false, eris.Wrapf(err, "sqlite: verify rates %s/%s", state, naic)
		}
		if exists == 0 {
			return false, nil
		}
	}
	return true, nil
}

func (s *SQLiteStore) SaveCarriers(ctx context.Context, carriers []model.CarrierInfo) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin carriers tx")
	}
	defer tx.Rollback() //nolint:errcheck

	for _, c := range carriers {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO carrier_info (naic, company_name, category, selected)
			VALUES (?, ?, ?, ?)
			ON CONFLICT (naic) DO UPDATE SET
				company_name = excluded.company_name,
				category = excluded.category,
				selected = excluded.selected`,
			c.NAIC, c.CompanyName, c.Category, boolToInt(c.Selected),
		); err != nil {
			return eris.Wrapf(err, "sqlite: save carrier %s", c.NAIC)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit carriers tx")
}

func (s *SQLiteStore) Carriers(ctx context.Context, selectedOnly bool) ([]model.CarrierInfo, error) {
	query := `SELECT naic, company_name, category, selected FROM carrier_info`
	if selectedOnly {
		query += ` WHERE selected = 1`
	}
	query += ` ORDER BY naic`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list carriers")
	}
	defer rows.Close() //nolint:errcheck

	var carriers []model.CarrierInfo
	for rows.Next() {
		var (
			c        model.CarrierInfo
			selected int
		)
		if err := rows.Scan(&c.NAIC, &c.CompanyName, &c.Category, &selected); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan carrier")
		}
		c.Selected = selected != 0
		carriers = append(carriers, c)
	}
	return carriers, eris.Wrap(rows.Err(), "sqlite: carriers iterate")
}

func (s *SQLiteStore) CheckIntegrity(ctx context.Context) (*IntegrityReport, error) {
	report := &IntegrityReport{}

	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM regions`).Scan(&report.Regions); err != nil {
		return nil, eris.Wrap(err, "sqlite: count regions")
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM rates`).Scan(&report.Rates); err != nil {
		return nil, eris.Wrap(err, "sqlite: count rates")
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT r.id FROM regions r
		 WHERE NOT EXISTS (SELECT 1 FROM rates x WHERE x.region_id = r.id)
		 ORDER BY r.id`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: find empty regions")
	}
	defer rows.Close() //nolint:errcheck
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan empty region")
		}
		report.EmptyRegions = append(report.EmptyRegions, id)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: empty regions iterate")
	}

	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM rates x
		 WHERE NOT EXISTS (SELECT 1 FROM regions r WHERE r.id = x.region_id)`,
	).Scan(&report.DanglingRateRefs)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: count dangling rates")
	}

	orphanRows, err := s.db.QueryContext(ctx,
		`SELECT p.state, p.naic, p.requested_date, p.processed_at FROM processing_records p
		 WHERE p.success = 1 AND NOT EXISTS (
			SELECT 1 FROM rates x WHERE x.state = p.state AND x.naic = p.naic
		 )
		 ORDER BY p.state, p.naic`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: find orphan records")
	}
	defer orphanRows.Close() //nolint:errcheck
	for orphanRows.Next() {
		var (
			rec         model.ProcessingRecord
			requestedDS string
		)
		rec.Success = true
		if err := orphanRows.Scan(&rec.State, &rec.NAIC, &requestedDS, &rec.ProcessedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan orphan record")
		}
		if d, err := model.ParseDate(requestedDS); err == nil {
			rec.RequestedDate = d
		}
		report.OrphanRecords = append(report.OrphanRecords, rec)
	}
	return report, eris.Wrap(orphanRows.Err(), "sqlite: orphan records iterate")
}

func (s *SQLiteStore) RepairOrphans(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM processing_records
		 WHERE success = 1 AND NOT EXISTS (
			SELECT 1 FROM rates x WHERE x.state = processing_records.state AND x.naic = processing_records.naic
		 )`,
	)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: repair orphans")
	}
	n, err := res.RowsAffected()
	return n, eris.Wrap(err, "sqlite: repair orphans rows affected")
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteRate(row rowScanner) (*model.RateQuote, error) {
	var (
		q       model.RateQuote
		tobacco int
		dateStr string
	)
	if err := row.Scan(&q.RegionID, &q.NAIC, &q.State,
		&q.Demographic.Gender, &tobacco, &q.Demographic.Age, &q.Demographic.Plan,
		&q.Rate, &q.DiscountRate, &dateStr); err != nil {
		return nil, err
	}
	q.Demographic.Tobacco = tobacco != 0
	d, err := model.ParseDate(dateStr)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: parse rate date %s", dateStr)
	}
	q.EffectiveDate = d
	return &q, nil
}

func scanSQLiteRates(rows *sql.Rows) ([]model.RateQuote, error) {
	var out []model.RateQuote
	for rows.Next() {
		q, err := scanSQLiteRate(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan rate row")
		}
		out = append(out, *q)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: rates iterate")
}
