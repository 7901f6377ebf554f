package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/visibility-grader/internal/db"
	"github.com/sells-group/visibility-grader/internal/model"
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

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the most frequently used store operations.
var preparedStatements = map[string]string{
	"insert_scan":        `INSERT INTO scans (id, business_input, city, cuisine, status, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
	"get_scan":           `SELECT id, business_input, city, cuisine, status, place_id, lat, lng, scan_date, score, score_breakdown, issues, top_issues, insights, completed_at, created_at, updated_at FROM scans WHERE id = $1`,
	"set_resolved_place": `UPDATE scans SET place_id = $1, lat = $2, lng = $3, scan_date = $4, updated_at = $5 WHERE id = $6`,
	"mark_duplicate":     `UPDATE scans SET status = $1, issues = $2, top_issues = $3, completed_at = $4, updated_at = $5 WHERE id = $6`,
	"complete_scan":      `UPDATE scans SET status = $1, score = $2, score_breakdown = $3, issues = $4, top_issues = $5, insights = $6, completed_at = $7, updated_at = $8 WHERE id = $9`,
	"fail_scan":          `UPDATE scans SET status = $1, issues = $2, top_issues = $3, updated_at = $4 WHERE id = $5`,
	"list_competitors":   `SELECT scan_id, place_id, name, rating, reviews, distance_m, rank_map_pack, rank_organic FROM competitors WHERE scan_id = $1 ORDER BY rank_map_pack ASC`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pool, err := db.Connect(ctx, connString, func(pgxCfg *pgxpool.Config) {
		// Apply pool sizing from config with sensible defaults.
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

		// Prepare frequently-used statements on each new connection.
		pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
			for name, sql := range preparedStatements {
				if _, err := conn.Prepare(ctx, name, sql); err != nil {
					return eris.Wrapf(err, "postgres: prepare %s", name)
				}
			}
			return nil
		}
	})
	if err != nil {
		return nil, eris.Wrap(err, "postgres: connect")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresWithPool wraps an existing pool. Used by tests with pgxmock.
func NewPostgresWithPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Pool returns the underlying database pool for subsystems that need direct
// query access (e.g., bulk competitor upserts).
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS scans (
	id              TEXT PRIMARY KEY,
	business_input  JSONB NOT NULL,
	city            TEXT,
	cuisine         TEXT,
	status          TEXT NOT NULL DEFAULT 'queued',
	place_id        TEXT,
	lat             DOUBLE PRECISION,
	lng             DOUBLE PRECISION,
	scan_date       DATE,
	score           INTEGER,
	score_breakdown JSONB,
	issues          JSONB NOT NULL DEFAULT '[]'::jsonb,
	top_issues      JSONB NOT NULL DEFAULT '[]'::jsonb,
	insights        JSONB,
	completed_at    TIMESTAMPTZ,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE UNIQUE INDEX IF NOT EXISTS uq_scans_place_day
	ON scans(place_id, scan_date) WHERE place_id IS NOT NULL;
CREATE INDEX IF NOT EXISTS idx_scans_status ON scans(status);
CREATE INDEX IF NOT EXISTS idx_scans_created_at ON scans(created_at DESC);

CREATE TABLE IF NOT EXISTS competitors (
	id            TEXT PRIMARY KEY,
	scan_id       TEXT NOT NULL REFERENCES scans(id) ON DELETE CASCADE,
	place_id      TEXT NOT NULL,
	name          TEXT,
	rating        DOUBLE PRECISION,
	reviews       INTEGER,
	distance_m    INTEGER,
	rank_map_pack INTEGER NOT NULL,
	rank_organic  INTEGER,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (scan_id, place_id)
);

CREATE INDEX IF NOT EXISTS idx_competitors_scan_id ON competitors(scan_id);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

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

func (s *PostgresStore) CreateScan(ctx context.Context, input model.BusinessInput) (*model.Scan, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	inputJSON, err := json.Marshal(input)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal business input")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO scans (id, business_input, city, cuisine, status, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		id, inputJSON, nullifyEmpty(input.City), nullifyEmpty(input.Cuisine), string(model.StatusQueued), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert scan")
	}

	scan := &model.Scan{
		ID:            id,
		BusinessInput: string(inputJSON),
		Status:        model.StatusQueued,
		Issues:        []model.Issue{},
		TopIssues:     []model.Issue{},
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	scan.City = nullifyEmpty(input.City)
	scan.Cuisine = nullifyEmpty(input.Cuisine)
	return scan, nil
}

func (s *PostgresStore) GetScan(ctx context.Context, scanID string) (*model.Scan, error) {
	var sc model.Scan
	var inputJSON, issuesJSON, topIssuesJSON []byte
	var breakdownNull, insightsNull *[]byte

	err := s.pool.QueryRow(ctx,
		`SELECT id, business_input, city, cuisine, status, place_id, lat, lng, scan_date, score, score_breakdown, issues, top_issues, insights, completed_at, created_at, updated_at FROM scans WHERE id = $1`,
		scanID,
	).Scan(&sc.ID, &inputJSON, &sc.City, &sc.Cuisine, &sc.Status, &sc.PlaceID,
		&sc.Lat, &sc.Lng, &sc.ScanDate, &sc.Score, &breakdownNull,
		&issuesJSON, &topIssuesJSON, &insightsNull, &sc.CompletedAt,
		&sc.CreatedAt, &sc.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, eris.Wrapf(ErrScanNotFound, "postgres: get scan %s", scanID)
		}
		return nil, eris.Wrapf(err, "postgres: get scan %s", scanID)
	}

	sc.BusinessInput = string(inputJSON)
	if err := json.Unmarshal(issuesJSON, &sc.Issues); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal issues")
	}
	if err := json.Unmarshal(topIssuesJSON, &sc.TopIssues); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal top issues")
	}
	if breakdownNull != nil {
		sc.Breakdown = json.RawMessage(*breakdownNull)
	}
	if insightsNull != nil {
		sc.Insights = json.RawMessage(*insightsNull)
	}
	return &sc, nil
}

func (s *PostgresStore) UpdateScan(ctx context.Context, scanID string, update ScanUpdate) error {
	sets := []string{}
	args := []any{}
	argIdx := 1

	if update.Status != nil {
		sets = append(sets, fmt.Sprintf("status = $%d", argIdx))
		args = append(args, string(*update.Status))
		argIdx++
	}
	if update.Lat != nil {
		sets = append(sets, fmt.Sprintf("lat = $%d", argIdx))
		args = append(args, *update.Lat)
		argIdx++
	}
	if update.Lng != nil {
		sets = append(sets, fmt.Sprintf("lng = $%d", argIdx))
		args = append(args, *update.Lng)
		argIdx++
	}
	if len(sets) == 0 {
		return nil
	}

	sets = append(sets, fmt.Sprintf("updated_at = $%d", argIdx))
	args = append(args, time.Now().UTC())
	argIdx++
	args = append(args, scanID)

	query := fmt.Sprintf("UPDATE scans SET %s WHERE id = $%d", strings.Join(sets, ", "), argIdx)
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return eris.Wrapf(err, "postgres: update scan %s", scanID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrScanNotFound, "postgres: update scan %s", scanID)
	}
	return nil
}

func (s *PostgresStore) SetResolvedPlace(ctx context.Context, scanID, placeID string, lat, lng *float64, scanDate time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE scans SET place_id = $1, lat = $2, lng = $3, scan_date = $4, updated_at = $5 WHERE id = $6`,
		placeID, lat, lng, ScanDay(scanDate), time.Now().UTC(), scanID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return eris.Wrapf(ErrDuplicateScan, "postgres: set resolved place %s", scanID)
		}
		return eris.Wrapf(err, "postgres: set resolved place %s", scanID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrScanNotFound, "postgres: set resolved place %s", scanID)
	}
	return nil
}

func (s *PostgresStore) MarkDuplicate(ctx context.Context, scanID string, completedAt time.Time) error {
	issuesJSON, err := json.Marshal([]model.Issue{model.AlreadyGradedIssue()})
	if err != nil {
		return eris.Wrap(err, "postgres: marshal duplicate issues")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE scans SET status = $1, issues = $2, top_issues = $3, completed_at = $4, updated_at = $5 WHERE id = $6`,
		string(model.StatusDuplicate), issuesJSON, []byte(`[]`), completedAt.UTC(), time.Now().UTC(), scanID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: mark duplicate %s", scanID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrScanNotFound, "postgres: mark duplicate %s", scanID)
	}
	return nil
}

func (s *PostgresStore) CompleteScan(ctx context.Context, scanID string, params CompleteScanParams) error {
	issuesJSON, err := json.Marshal(emptyIfNil(params.Issues))
	if err != nil {
		return eris.Wrap(err, "postgres: marshal issues")
	}
	topIssuesJSON, err := json.Marshal(emptyIfNil(params.TopIssues))
	if err != nil {
		return eris.Wrap(err, "postgres: marshal top issues")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE scans SET status = $1, score = $2, score_breakdown = $3, issues = $4, top_issues = $5, insights = $6, completed_at = $7, updated_at = $8 WHERE id = $9`,
		string(model.StatusDone), params.Score, []byte(params.Breakdown),
		issuesJSON, topIssuesJSON, []byte(params.Insights),
		params.CompletedAt.UTC(), time.Now().UTC(), scanID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete scan %s", scanID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrScanNotFound, "postgres: complete scan %s", scanID)
	}
	return nil
}

func (s *PostgresStore) FailScan(ctx context.Context, scanID string, issue model.Issue) error {
	issuesJSON, err := json.Marshal([]model.Issue{issue})
	if err != nil {
		return eris.Wrap(err, "postgres: marshal failure issue")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE scans SET status = $1, issues = $2, top_issues = $3, updated_at = $4 WHERE id = $5`,
		string(model.StatusFailed), issuesJSON, []byte(`[]`), time.Now().UTC(), scanID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: fail scan %s", scanID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrScanNotFound, "postgres: fail scan %s", scanID)
	}
	return nil
}

// competitorUpsert describes the bulk upsert target for competitor batches.
var competitorUpsert = db.UpsertConfig{
	Table:        "competitors",
	Columns:      []string{"id", "scan_id", "place_id", "name", "rating", "reviews", "distance_m", "rank_map_pack", "rank_organic"},
	ConflictKeys: []string{"scan_id", "place_id"},
	UpdateCols:   []string{"name", "rating", "reviews", "distance_m", "rank_map_pack", "rank_organic"},
}

func (s *PostgresStore) UpsertCompetitors(ctx context.Context, records []model.CompetitorRecord) error {
	if len(records) == 0 {
		return nil
	}

	rows := make([][]any, 0, len(records))
	for _, r := range records {
		rows = append(rows, []any{
			uuid.New().String(), r.ScanID, r.PlaceID, r.Name, r.Rating,
			r.Reviews, r.DistanceM, r.RankMapPack, r.RankOrganic,
		})
	}

	_, err := db.BulkUpsert(ctx, s.pool, competitorUpsert, rows)
	return eris.Wrap(err, "postgres: upsert competitors")
}

func (s *PostgresStore) ListCompetitors(ctx context.Context, scanID string) ([]model.CompetitorRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT scan_id, place_id, name, rating, reviews, distance_m, rank_map_pack, rank_organic FROM competitors WHERE scan_id = $1 ORDER BY rank_map_pack ASC`,
		scanID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list competitors %s", scanID)
	}
	defer rows.Close()

	var records []model.CompetitorRecord
	for rows.Next() {
		var r model.CompetitorRecord
		if err := rows.Scan(&r.ScanID, &r.PlaceID, &r.Name, &r.Rating,
			&r.Reviews, &r.DistanceM, &r.RankMapPack, &r.RankOrganic); err != nil {
			return nil, eris.Wrap(err, "postgres: scan competitor")
		}
		records = append(records, r)
	}
	return records, eris.Wrap(rows.Err(), "postgres: list competitors iterate")
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func nullifyEmpty(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

func emptyIfNil(issues []model.Issue) []model.Issue {
	if issues == nil {
		return []model.Issue{}
	}
	return issues
}
