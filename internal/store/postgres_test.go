package store

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/visibility-grader/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	return NewPostgresWithPool(mock), mock
}

func TestPostgresStore_CreateScan(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO scans`).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			"queued", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	scan, err := s.CreateScan(context.Background(), model.BusinessInput{BusinessName: "Taco Haven", City: "San Antonio"})
	require.NoError(t, err)
	assert.NotEmpty(t, scan.ID)
	assert.Equal(t, model.StatusQueued, scan.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetScan_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT id, business_input, city, cuisine, status, place_id, lat, lng, scan_date`).
		WithArgs("nonexistent-scan").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetScan(context.Background(), "nonexistent-scan")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrScanNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateScan_StatusOnly(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE scans SET status = \$1, updated_at = \$2 WHERE id = \$3`).
		WithArgs("resolving", pgxmock.AnyArg(), "scan-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	status := model.StatusResolving
	err := s.UpdateScan(context.Background(), "scan-1", ScanUpdate{Status: &status})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateScan_NoFields(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	assert.NoError(t, s.UpdateScan(context.Background(), "scan-1", ScanUpdate{}))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SetResolvedPlace_Duplicate(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE scans SET place_id = \$1`).
		WithArgs("ChIJ-abc", pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), "scan-1").
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "uq_scans_place_day"})

	err := s.SetResolvedPlace(context.Background(), "scan-1", "ChIJ-abc", nil, nil, time.Now())
	assert.ErrorIs(t, err, ErrDuplicateScan)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SetResolvedPlace_TruncatesToDay(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	at := time.Date(2026, 8, 29, 15, 4, 5, 0, time.UTC)
	mock.ExpectExec(`UPDATE scans SET place_id = \$1`).
		WithArgs("ChIJ-abc", pgxmock.AnyArg(), pgxmock.AnyArg(),
			time.Date(2026, 8, 29, 0, 0, 0, 0, time.UTC), pgxmock.AnyArg(), "scan-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := s.SetResolvedPlace(context.Background(), "scan-1", "ChIJ-abc", nil, nil, at)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_MarkDuplicate(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE scans SET status = \$1, issues = \$2, top_issues = \$3, completed_at = \$4`).
		WithArgs("duplicate", pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), "scan-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := s.MarkDuplicate(context.Background(), "scan-1", time.Now())
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CompleteScan_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE scans SET status = \$1, score = \$2`).
		WithArgs("done", 67, pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), "nonexistent-scan").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.CompleteScan(context.Background(), "nonexistent-scan", CompleteScanParams{
		Score:       67,
		CompletedAt: time.Now(),
	})
	assert.ErrorIs(t, err, ErrScanNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_FailScan(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE scans SET status = \$1, issues = \$2, top_issues = \$3, updated_at = \$4`).
		WithArgs("failed", pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), "scan-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := s.FailScan(context.Background(), "scan-1", model.PlaceNotFoundIssue())
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListCompetitors(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	name := "Rival Tacos"
	rating := 4.2
	reviews := 88
	distance := 450
	mock.ExpectQuery(`SELECT scan_id, place_id, name, rating, reviews, distance_m, rank_map_pack, rank_organic FROM competitors`).
		WithArgs("scan-1").
		WillReturnRows(pgxmock.NewRows([]string{"scan_id", "place_id", "name", "rating", "reviews", "distance_m", "rank_map_pack", "rank_organic"}).
			AddRow("scan-1", "ChIJ-rival", &name, &rating, &reviews, &distance, 1, (*int)(nil)))

	got, err := s.ListCompetitors(context.Background(), "scan-1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "ChIJ-rival", got[0].PlaceID)
	assert.Equal(t, 1, got[0].RankMapPack)
	assert.Nil(t, got[0].RankOrganic)
	assert.NoError(t, mock.ExpectationsWereMet())
}
