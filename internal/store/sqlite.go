package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/visibility-grader/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. It mirrors the
// Postgres schema for local development and the shared test suite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS scans (
	id              TEXT PRIMARY KEY,
	business_input  TEXT NOT NULL,
	city            TEXT,
	cuisine         TEXT,
	status          TEXT NOT NULL DEFAULT 'queued',
	place_id        TEXT,
	lat             REAL,
	lng             REAL,
	scan_date       TEXT,
	score           INTEGER,
	score_breakdown TEXT,
	issues          TEXT NOT NULL DEFAULT '[]',
	top_issues      TEXT NOT NULL DEFAULT '[]',
	insights        TEXT,
	completed_at    DATETIME,
	created_at      DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at      DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE UNIQUE INDEX IF NOT EXISTS uq_scans_place_day
	ON scans(place_id, scan_date) WHERE place_id IS NOT NULL;
CREATE INDEX IF NOT EXISTS idx_scans_status ON scans(status);

CREATE TABLE IF NOT EXISTS competitors (
	id            TEXT PRIMARY KEY,
	scan_id       TEXT NOT NULL REFERENCES scans(id) ON DELETE CASCADE,
	place_id      TEXT NOT NULL,
	name          TEXT,
	rating        REAL,
	reviews       INTEGER,
	distance_m    INTEGER,
	rank_map_pack INTEGER NOT NULL,
	rank_organic  INTEGER,
	created_at    DATETIME NOT NULL DEFAULT (datetime('now')),
	UNIQUE (scan_id, place_id)
);

CREATE INDEX IF NOT EXISTS idx_competitors_scan_id ON competitors(scan_id);
`

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateScan(ctx context.Context, input model.BusinessInput) (*model.Scan, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	inputJSON, err := json.Marshal(input)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal business input")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO scans (id, business_input, city, cuisine, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, string(inputJSON), nullifyEmpty(input.City), nullifyEmpty(input.Cuisine), string(model.StatusQueued), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert scan")
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

func (s *SQLiteStore) GetScan(ctx context.Context, scanID string) (*model.Scan, error) {
	var sc model.Scan
	var inputJSON, issuesJSON, topIssuesJSON string
	var breakdownNull, insightsNull, scanDateNull *string

	err := s.db.QueryRowContext(ctx,
		`SELECT id, business_input, city, cuisine, status, place_id, lat, lng, scan_date, score, score_breakdown, issues, top_issues, insights, completed_at, created_at, updated_at FROM scans WHERE id = ?`,
		scanID,
	).Scan(&sc.ID, &inputJSON, &sc.City, &sc.Cuisine, &sc.Status, &sc.PlaceID,
		&sc.Lat, &sc.Lng, &scanDateNull, &sc.Score, &breakdownNull,
		&issuesJSON, &topIssuesJSON, &insightsNull, &sc.CompletedAt,
		&sc.CreatedAt, &sc.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, eris.Wrapf(ErrScanNotFound, "sqlite: get scan %s", scanID)
		}
		return nil, eris.Wrapf(err, "sqlite: get scan %s", scanID)
	}

	sc.BusinessInput = inputJSON
	if err := json.Unmarshal([]byte(issuesJSON), &sc.Issues); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal issues")
	}
	if err := json.Unmarshal([]byte(topIssuesJSON), &sc.TopIssues); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal top issues")
	}
	if breakdownNull != nil {
		sc.Breakdown = json.RawMessage(*breakdownNull)
	}
	if insightsNull != nil {
		sc.Insights = json.RawMessage(*insightsNull)
	}
	if scanDateNull != nil {
		day, err := time.Parse("2006-01-02", *scanDateNull)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: parse scan date")
		}
		sc.ScanDate = &day
	}
	return &sc, nil
}

func (s *SQLiteStore) UpdateScan(ctx context.Context, scanID string, update ScanUpdate) error {
	sets := []string{}
	args := []any{}

	if update.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, string(*update.Status))
	}
	if update.Lat != nil {
		sets = append(sets, "lat = ?")
		args = append(args, *update.Lat)
	}
	if update.Lng != nil {
		sets = append(sets, "lng = ?")
		args = append(args, *update.Lng)
	}
	if len(sets) == 0 {
		return nil
	}

	sets = append(sets, "updated_at = ?")
	args = append(args, time.Now().UTC(), scanID)

	query := fmt.Sprintf("UPDATE scans SET %s WHERE id = ?", strings.Join(sets, ", "))
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update scan %s", scanID)
	}
	return checkRowsAffected(res, scanID)
}

func (s *SQLiteStore) SetResolvedPlace(ctx context.Context, scanID, placeID string, lat, lng *float64, scanDate time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE scans SET place_id = ?, lat = ?, lng = ?, scan_date = ?, updated_at = ? WHERE id = ?`,
		placeID, lat, lng, ScanDay(scanDate).Format("2006-01-02"), time.Now().UTC(), scanID,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return eris.Wrapf(ErrDuplicateScan, "sqlite: set resolved place %s", scanID)
		}
		return eris.Wrapf(err, "sqlite: set resolved place %s", scanID)
	}
	return checkRowsAffected(res, scanID)
}

func (s *SQLiteStore) MarkDuplicate(ctx context.Context, scanID string, completedAt time.Time) error {
	issuesJSON, err := json.Marshal([]model.Issue{model.AlreadyGradedIssue()})
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal duplicate issues")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE scans SET status = ?, issues = ?, top_issues = ?, completed_at = ?, updated_at = ? WHERE id = ?`,
		string(model.StatusDuplicate), string(issuesJSON), "[]", completedAt.UTC(), time.Now().UTC(), scanID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: mark duplicate %s", scanID)
	}
	return checkRowsAffected(res, scanID)
}

func (s *SQLiteStore) CompleteScan(ctx context.Context, scanID string, params CompleteScanParams) error {
	issuesJSON, err := json.Marshal(emptyIfNil(params.Issues))
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal issues")
	}
	topIssuesJSON, err := json.Marshal(emptyIfNil(params.TopIssues))
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal top issues")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE scans SET status = ?, score = ?, score_breakdown = ?, issues = ?, top_issues = ?, insights = ?, completed_at = ?, updated_at = ? WHERE id = ?`,
		string(model.StatusDone), params.Score, nullableRaw(params.Breakdown),
		string(issuesJSON), string(topIssuesJSON), nullableRaw(params.Insights),
		params.CompletedAt.UTC(), time.Now().UTC(), scanID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete scan %s", scanID)
	}
	return checkRowsAffected(res, scanID)
}

func (s *SQLiteStore) FailScan(ctx context.Context, scanID string, issue model.Issue) error {
	issuesJSON, err := json.Marshal([]model.Issue{issue})
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal failure issue")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE scans SET status = ?, issues = ?, top_issues = ?, updated_at = ? WHERE id = ?`,
		string(model.StatusFailed), string(issuesJSON), "[]", time.Now().UTC(), scanID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: fail scan %s", scanID)
	}
	return checkRowsAffected(res, scanID)
}

func (s *SQLiteStore) UpsertCompetitors(ctx context.Context, records []model.CompetitorRecord) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin upsert competitors")
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO competitors (id, scan_id, place_id, name, rating, reviews, distance_m, rank_map_pack, rank_organic)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (scan_id, place_id) DO UPDATE SET
		   name = excluded.name, rating = excluded.rating, reviews = excluded.reviews,
		   distance_m = excluded.distance_m, rank_map_pack = excluded.rank_map_pack,
		   rank_organic = excluded.rank_organic`,
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare upsert competitors")
	}
	defer stmt.Close()

	for _, r := range records {
		if _, err := stmt.ExecContext(ctx,
			uuid.New().String(), r.ScanID, r.PlaceID, r.Name, r.Rating,
			r.Reviews, r.DistanceM, r.RankMapPack, r.RankOrganic,
		); err != nil {
			return eris.Wrapf(err, "sqlite: upsert competitor %s", r.PlaceID)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit upsert competitors")
}

func (s *SQLiteStore) ListCompetitors(ctx context.Context, scanID string) ([]model.CompetitorRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT scan_id, place_id, name, rating, reviews, distance_m, rank_map_pack, rank_organic FROM competitors WHERE scan_id = ? ORDER BY rank_map_pack ASC`,
		scanID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list competitors %s", scanID)
	}
	defer rows.Close()

	var records []model.CompetitorRecord
	for rows.Next() {
		var r model.CompetitorRecord
		if err := rows.Scan(&r.ScanID, &r.PlaceID, &r.Name, &r.Rating,
			&r.Reviews, &r.DistanceM, &r.RankMapPack, &r.RankOrganic); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan competitor")
		}
		records = append(records, r)
	}
	return records, eris.Wrap(rows.Err(), "sqlite: list competitors iterate")
}

func checkRowsAffected(res sql.Result, scanID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrScanNotFound, "sqlite: scan %s", scanID)
	}
	return nil
}

func nullableRaw(raw json.RawMessage) any {
	if raw == nil {
		return nil
	}
	return string(raw)
}
