package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/blitzquote/rate-engine/internal/db"
	"github.com/blitzquote/rate-engine/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection. These
// run once per demographic per lookup, so they dominate query volume.
var preparedStatements = map[string]string{
	"rate_floor": `SELECT region_id, naic, state, gender, tobacco, age, plan, rate, discount_rate, effective_date
		FROM rates
		WHERE region_id = $1 AND naic = $2 AND gender = $3 AND tobacco = $4 AND age = $5 AND plan = $6 AND effective_date <= $7
		ORDER BY effective_date DESC LIMIT 1`,
	"region_for_location": `SELECT r.id FROM regions r
		JOIN region_members m ON m.region_id = r.id
		WHERE r.state = $1 AND r.naic = $2 AND m.location = $3
		LIMIT 1`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// Pool returns the underlying database pool for subsystems that need direct
// query access.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS regions (
	id         TEXT PRIMARY KEY,
	naic       TEXT NOT NULL,
	state      TEXT NOT NULL,
	kind       TEXT NOT NULL,
	hash       TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
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
	tobacco        BOOLEAN NOT NULL,
	age            INTEGER NOT NULL,
	plan           TEXT NOT NULL,
	rate           DOUBLE PRECISION NOT NULL,
	discount_rate  DOUBLE PRECISION NOT NULL,
	effective_date DATE NOT NULL,
	PRIMARY KEY (region_id, gender, tobacco, age, plan, effective_date)
);

CREATE TABLE IF NOT EXISTS rate_corrections (
	id             TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	region_id      TEXT NOT NULL,
	naic           TEXT NOT NULL,
	gender         TEXT NOT NULL,
	tobacco        BOOLEAN NOT NULL,
	age            INTEGER NOT NULL,
	plan           TEXT NOT NULL,
	effective_date DATE NOT NULL,
	old_rate       DOUBLE PRECISION NOT NULL,
	new_rate       DOUBLE PRECISION NOT NULL,
	old_discount   DOUBLE PRECISION NOT NULL,
	new_discount   DOUBLE PRECISION NOT NULL,
	detected_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS processing_records (
	state          TEXT NOT NULL,
	naic           TEXT NOT NULL,
	requested_date DATE NOT NULL,
	source_dates   JSONB,
	success        BOOLEAN NOT NULL,
	processed_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (state, naic, requested_date)
);

CREATE TABLE IF NOT EXISTS carrier_info (
	naic         TEXT PRIMARY KEY,
	company_name TEXT NOT NULL,
	category     INTEGER NOT NULL DEFAULT 2,
	selected     BOOLEAN NOT NULL DEFAULT false
);

CREATE INDEX IF NOT EXISTS idx_regions_naic_state ON regions(naic, state);
CREATE INDEX IF NOT EXISTS idx_region_members_location ON region_members(location);
CREATE INDEX IF NOT EXISTS idx_rates_state_naic_date ON rates(state, naic, effective_date);
CREATE INDEX IF NOT EXISTS idx_rates_region_date ON rates(region_id, effective_date DESC);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.pool.Ping(ctx), "postgres: ping")
}

// SaveRegions persists one discovery's regions in a single transaction,
// collapsing onto existing rows by content hash. A failure rolls back the
// whole batch so no partial region graph survives. Returned regions carry
// their persistent IDs.
func (s *PostgresStore) SaveRegions(ctx context.Context, regions []model.RatingRegion) ([]model.RatingRegion, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: begin regions tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	out := make([]model.RatingRegion, 0, len(regions))
	for _, region := range regions {
		if region.Hash == "" {
			region.Hash = model.RegionHash(region.Locations)
		}

		var existingID string
		err := tx.QueryRow(ctx,
			`SELECT id FROM regions WHERE naic = $1 AND state = $2 AND hash = $3`,
			region.NAIC, region.State, region.Hash,
		).Scan(&existingID)
		switch {
		case err == nil:
			region.ID = existingID
			out = append(out, region)
			continue
		case !errors.Is(err, pgx.ErrNoRows):
			return nil, eris.Wrapf(err, "postgres: lookup region %s/%s", region.State, region.NAIC)
		}

		region.ID = uuid.New().String()
		region.CreatedAt = time.Now().UTC()
		if err := insertRegion(ctx, tx, region); err != nil {
			return nil, err
		}
		out = append(out, region)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, eris.Wrap(err, "postgres: commit regions tx")
	}
	return out, nil
}

func insertRegion(ctx context.Context, tx pgx.Tx, region model.RatingRegion) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO regions (id, naic, state, kind, hash, created_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		region.ID, region.NAIC, region.State, string(region.Kind), region.Hash, region.CreatedAt,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: insert region %s/%s", region.State, region.NAIC)
	}

	memberRows := make([][]any, len(region.Locations))
	for i, loc := range region.Locations {
		memberRows[i] = []any{region.ID, loc}
	}
	_, err = tx.CopyFrom(ctx,
		pgx.Identifier{"region_members"},
		[]string{"region_id", "location"},
		pgx.CopyFromRows(memberRows),
	)
	return eris.Wrapf(err, "postgres: copy region members %s", region.ID)
}

func (s *PostgresStore) RegionsFor(ctx context.Context, state, naic string) ([]model.RatingRegion, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT r.id, r.naic, r.state, r.kind, r.hash, r.created_at, m.location
		 FROM regions r JOIN region_members m ON m.region_id = r.id
		 WHERE r.state = $1 AND r.naic = $2
		 ORDER BY r.id, m.location`,
		state, naic,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: regions for %s/%s", state, naic)
	}
	defer rows.Close()

	var regions []model.RatingRegion
	for rows.Next() {
		var (
			id, rNaic, rState, kind, hash, location string
			createdAt                               time.Time
		)
		if err := rows.Scan(&id, &rNaic, &rState, &kind, &hash, &createdAt, &location); err != nil {
			return nil, eris.Wrap(err, "postgres: scan region row")
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
	return regions, eris.Wrap(rows.Err(), "postgres: regions iterate")
}

func (s *PostgresStore) MappingFor(ctx context.Context, state, naic string) (model.MappingKind, error) {
	var kind string
	err := s.pool.QueryRow(ctx,
		`SELECT kind FROM regions WHERE state = $1 AND naic = $2 LIMIT 1`,
		state, naic,
	).Scan(&kind)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", eris.Wrapf(err, "postgres: mapping for %s/%s", state, naic)
	}
	return model.MappingKind(kind), nil
}

func (s *PostgresStore) RegionForLocation(ctx context.Context, state, naic, location string) (string, error) {
	var id string
	err := s.pool.QueryRow(ctx,
		`SELECT r.id FROM regions r
		 JOIN region_members m ON m.region_id = r.id
		 WHERE r.state = $1 AND r.naic = $2 AND m.location = $3
		 LIMIT 1`,
		state, naic, location,
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", eris.Wrapf(err, "postgres: region for location %s/%s/%s", state, naic, location)
	}
	return id, nil
}

var rateColumns = []string{
	"region_id", "naic", "state", "gender", "tobacco", "age", "plan",
	"rate", "discount_rate", "effective_date",
}

// SaveRates bulk-inserts rate rows. Existing rows are authoritative: a
// re-fetched row that differs from the stored one is logged to
// rate_corrections and the stored value kept.
func (s *PostgresStore) SaveRates(ctx context.Context, rows []model.RateQuote) (*SaveResult, error) {
	if len(rows) == 0 {
		return &SaveResult{}, nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: begin rates tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx,
		`CREATE TEMP TABLE "_incoming_rates" (LIKE "rates" INCLUDING DEFAULTS) ON COMMIT DROP`,
	); err != nil {
		return nil, eris.Wrap(err, "postgres: create incoming rates table")
	}

	copyRows := make([][]any, len(rows))
	for i, r := range rows {
		copyRows[i] = []any{
			r.RegionID, r.NAIC, r.State,
			r.Demographic.Gender, r.Demographic.Tobacco, r.Demographic.Age, r.Demographic.Plan,
			r.Rate, r.DiscountRate, r.EffectiveDate,
		}
	}
	if _, err := tx.CopyFrom(ctx, pgx.Identifier{"_incoming_rates"}, rateColumns, pgx.CopyFromRows(copyRows)); err != nil {
		return nil, eris.Wrap(err, "postgres: copy incoming rates")
	}

	corrTag, err := tx.Exec(ctx, `
		INSERT INTO rate_corrections
			(region_id, naic, gender, tobacco, age, plan, effective_date, old_rate, new_rate, old_discount, new_discount)
		SELECT r.region_id, r.naic, r.gender, r.tobacco, r.age, r.plan, r.effective_date,
		       r.rate, t.rate, r.discount_rate, t.discount_rate
		FROM rates r
		JOIN "_incoming_rates" t ON t.region_id = r.region_id
			AND t.gender = r.gender AND t.tobacco = r.tobacco
			AND t.age = r.age AND t.plan = r.plan AND t.effective_date = r.effective_date
		WHERE r.rate <> t.rate OR r.discount_rate <> t.discount_rate`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: log rate corrections")
	}

	insTag, err := tx.Exec(ctx, `
		INSERT INTO rates (region_id, naic, state, gender, tobacco, age, plan, rate, discount_rate, effective_date)
		SELECT region_id, naic, state, gender, tobacco, age, plan, rate, discount_rate, effective_date
		FROM "_incoming_rates"
		ON CONFLICT (region_id, gender, tobacco, age, plan, effective_date) DO NOTHING`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert rates")
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, eris.Wrap(err, "postgres: commit rates tx")
	}
	return &SaveResult{Inserted: insTag.RowsAffected(), Corrections: corrTag.RowsAffected()}, nil
}

// RatesAsOf returns the region's rate rows at the largest effective date
// that does not exceed asOf.
func (s *PostgresStore) RatesAsOf(ctx context.Context, regionID string, asOf time.Time) ([]model.RateQuote, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT region_id, naic, state, gender, tobacco, age, plan, rate, discount_rate, effective_date
		 FROM rates
		 WHERE region_id = $1 AND effective_date = (
			SELECT MAX(effective_date) FROM rates WHERE region_id = $1 AND effective_date <= $2
		 )
		 ORDER BY plan, gender, tobacco, age`,
		regionID, asOf,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: rates as of for %s", regionID)
	}
	defer rows.Close()
	return scanRateRows(rows)
}

func (s *PostgresStore) RateFor(ctx context.Context, regionID, naic string, demo model.Demographic, asOf time.Time) (*model.RateQuote, error) {
	var q model.RateQuote
	err := s.pool.QueryRow(ctx,
		`SELECT region_id, naic, state, gender, tobacco, age, plan, rate, discount_rate, effective_date
		 FROM rates
		 WHERE region_id = $1 AND naic = $2 AND gender = $3 AND tobacco = $4 AND age = $5 AND plan = $6 AND effective_date <= $7
		 ORDER BY effective_date DESC LIMIT 1`,
		regionID, naic, demo.Gender, demo.Tobacco, demo.Age, demo.Plan, asOf,
	).Scan(&q.RegionID, &q.NAIC, &q.State,
		&q.Demographic.Gender, &q.Demographic.Tobacco, &q.Demographic.Age, &q.Demographic.Plan,
		&q.Rate, &q.DiscountRate, &q.EffectiveDate)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: rate for %s", regionID)
	}
	return &q, nil
}

func (s *PostgresStore) CountRates(ctx context.Context, state, naic string, dates []time.Time) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM rates WHERE state = $1 AND naic = $2 AND effective_date = ANY($3)`,
		state, naic, dates,
	).Scan(&count)
	return count, eris.Wrapf(err, "postgres: count rates %s/%s", state, naic)
}

// CopyForward duplicates a state's rate rows from one effective date to a
// later one, skipping demographics that already have a row at the target
// date. An empty naic copies every carrier in the state.
func (s *PostgresStore) CopyForward(ctx context.Context, state, naic string, from, to time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO rates (region_id, naic, state, gender, tobacco, age, plan, rate, discount_rate, effective_date)
		SELECT r.region_id, r.naic, r.state, r.gender, r.tobacco, r.age, r.plan, r.rate, r.discount_rate, $4
		FROM rates r
		WHERE r.state = $1 AND ($2 = '' OR r.naic = $2) AND r.effective_date = $3
		ON CONFLICT (region_id, gender, tobacco, age, plan, effective_date) DO NOTHING`,
		state, naic, from, to,
	)
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: copy forward %s", state)
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) EffectiveDatesFor(ctx context.Context, state, naic string) ([]time.Time, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT DISTINCT effective_date FROM rates WHERE state = $1 AND naic = $2 ORDER BY effective_date`,
		state, naic,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: effective dates %s/%s", state, naic)
	}
	defer rows.Close()

	var dates []time.Time
	for rows.Next() {
		var d time.Time
		if err := rows.Scan(&d); err != nil {
			return nil, eris.Wrap(err, "postgres: scan effective date")
		}
		dates = append(dates, d)
	}
	return dates, eris.Wrap(rows.Err(), "postgres: effective dates iterate")
}

func (s *PostgresStore) RecordProcessing(ctx context.Context, rec model.ProcessingRecord) error {
	sourceDates := make([]string, len(rec.SourceDates))
	for i, d := range rec.SourceDates {
		sourceDates[i] = model.FormatDate(d)
	}
	datesJSON, err := json.Marshal(sourceDates)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal source dates")
	}

	processedAt := rec.ProcessedAt
	if processedAt.IsZero() {
		processedAt = time.Now().UTC()
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO processing_records (state, naic, requested_date, source_dates, success, processed_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (state, naic, requested_date) DO UPDATE SET
			source_dates = EXCLUDED.source_dates,
			success = EXCLUDED.success,
			processed_at = EXCLUDED.processed_at`,
		rec.State, rec.NAIC, rec.RequestedDate, datesJSON, rec.Success, processedAt,
	)
	return eris.Wrapf(err, "postgres: record processing %s/%s", rec.State, rec.NAIC)
}

// IsProcessed reports whether a build unit already has a validated success
// record. A success record whose source dates have no matching rate rows is
// an orphan and reports false so the unit reruns.
func (s *PostgresStore) IsProcessed(ctx context.Context, state, naic string, requested time.Time) (bool, error) {
	var (
		success   bool
		datesJSON []byte
	)
	err := s.pool.QueryRow(ctx,
		`SELECT success, source_dates FROM processing_records
		 WHERE state = $1 AND naic = $2 AND requested_date = $3`,
		state, naic, requested,
	).Scan(&success, &datesJSON)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, eris.Wrapf(err, "postgres: is processed %s/%s", state, naic)
	}
	if !success {
		return false, nil
	}

	var sourceDates []string
	if len(datesJSON) > 0 {
		if err := json.Unmarshal(datesJSON, &sourceDates); err != nil {
			return false, eris.Wrap(err, "postgres: unmarshal source dates")
		}
	}
	if len(sourceDates) == 0 {
		sourceDates = []string{model.FormatDate(requested)}
	}

	for _, ds := range sourceDates {
		d, err := model.ParseDate(ds)
		if err != nil {
			return false, eris.Wrapf(err, "postgres: parse source date %s", ds)
		}
		var exists bool
		err = s.pool.QueryRow(ctx,
			`SELECT EXISTS(SELECT 1 FROM rates WHERE state = $1 AND naic = $2 AND effective_date = $3)`,
			state, naic, d,
		).Scan(&exists)
		if err != nil {
			return false, eris.Wrapf(err, "postgres: verify rates %s/%s", state, naic)
		}
		if !exists {
			return false, nil
		}
	}
	return true, nil
}

var carrierColumns = []string{"naic", "company_name", "category", "selected"}

func (s *PostgresStore) SaveCarriers(ctx context.Context, carriers []model.CarrierInfo) error {
	rows := make([][]any, len(carriers))
	for i, c := range carriers {
		rows[i] = []any{c.NAIC, c.CompanyName, c.Category, c.Selected}
	}
	_, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "carrier_info",
		Columns:      carrierColumns,
		ConflictKeys: []string{"naic"},
	}, rows)
	return eris.Wrap(err, "postgres: save carriers")
}

func (s *PostgresStore) Carriers(ctx context.Context, selectedOnly bool) ([]model.CarrierInfo, error) {
	query := `SELECT naic, company_name, category, selected FROM carrier_info`
	if selectedOnly {
		query += ` WHERE selected`
	}
	query += ` ORDER BY naic`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list carriers")
	}
	defer rows.Close()

	var carriers []model.CarrierInfo
	for rows.Next() {
		var c model.CarrierInfo
		if err := rows.Scan(&c.NAIC, &c.CompanyName, &c.Category, &c.Selected); err != nil {
			return nil, eris.Wrap(err, "postgres: scan carrier")
		}
		carriers = append(carriers, c)
	}
	return carriers, eris.Wrap(rows.Err(), "postgres: carriers iterate")
}

// CheckIntegrity runs the cross-table consistency checks: row counts,
// regions with no rates, rate rows pointing at missing regions, and success
// records with no rate rows behind them.
func (s *PostgresStore) CheckIntegrity(ctx context.Context) (*IntegrityReport, error) {
	report := &IntegrityReport{}

	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM regions`).Scan(&report.Regions); err != nil {
		return nil, eris.Wrap(err, "postgres: count regions")
	}
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM rates`).Scan(&report.Rates); err != nil {
		return nil, eris.Wrap(err, "postgres: count rates")
	}

	rows, err := s.pool.Query(ctx,
		`SELECT r.id FROM regions r
		 WHERE NOT EXISTS (SELECT 1 FROM rates x WHERE x.region_id = r.id)
		 ORDER BY r.id`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: find empty regions")
	}
	defer rows.Close()
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, eris.Wrap(err, "postgres: scan empty region")
		}
		report.EmptyRegions = append(report.EmptyRegions, id)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: empty regions iterate")
	}

	err = s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM rates x
		 WHERE NOT EXISTS (SELECT 1 FROM regions r WHERE r.id = x.region_id)`,
	).Scan(&report.DanglingRateRefs)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: count dangling rates")
	}

	orphanRows, err := s.pool.Query(ctx,
		`SELECT p.state, p.naic, p.requested_date, p.processed_at FROM processing_records p
		 WHERE p.success AND NOT EXISTS (
			SELECT 1 FROM rates x WHERE x.state = p.state AND x.naic = p.naic
		 )
		 ORDER BY p.state, p.naic`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: find orphan records")
	}
	defer orphanRows.Close()
	for orphanRows.Next() {
		rec := model.ProcessingRecord{Success: true}
		if err := orphanRows.Scan(&rec.State, &rec.NAIC, &rec.RequestedDate, &rec.ProcessedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan orphan record")
		}
		report.OrphanRecords = append(report.OrphanRecords, rec)
	}
	return report, eris.Wrap(orphanRows.Err(), "postgres: orphan records iterate")
}

// RepairOrphans deletes success records that have no rate rows behind them,
// so the next build reruns those units.
func (s *PostgresStore) RepairOrphans(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM processing_records p
		 WHERE p.success AND NOT EXISTS (
			SELECT 1 FROM rates x WHERE x.state = p.state AND x.naic = p.naic
		 )`,
	)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: repair orphans")
	}
	return tag.RowsAffected(), nil
}

func scanRateRows(rows pgx.Rows) ([]model.RateQuote, error) {
	var out []model.RateQuote
	for rows.Next() {
		var q model.RateQuote
		if err := rows.Scan(&q.RegionID, &q.NAIC, &q.State,
			&q.Demographic.Gender, &q.Demographic.Tobacco, &q.Demographic.Age, &q.Demographic.Plan,
			&q.Rate, &q.DiscountRate, &q.EffectiveDate); err != nil {
			return nil, eris.Wrap(err, "postgres: scan rate row")
		}
		out = append(out, q)
	}
	return out, eris.Wrap(rows.Err(), "postgres: rates iterate")
}
