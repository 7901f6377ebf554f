package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/visibility-grader/internal/model"
)

// ErrDuplicateScan reports that another scan already graded the same place on
// the same calendar day. Duplicate detection is the store's unique constraint,
// not a read-then-write check, so concurrent scans of the same place race
// safely.
var ErrDuplicateScan = eris.New("store: duplicate scan for place and day")

// ErrScanNotFound reports an update or read against an unknown scan id.
var ErrScanNotFound = eris.New("store: scan not found")

// ScanUpdate is a partial scan update. Nil fields are left untouched.
type ScanUpdate struct {
	Status *model.ScanStatus
	Lat    *float64
	Lng    *float64
}

// CompleteScanParams is the single final write that lands a scan in the done
// state.
type CompleteScanParams struct {
	Score       int
	Breakdown   json.RawMessage
	Issues      []model.Issue
	TopIssues   []model.Issue
	Insights    json.RawMessage
	CompletedAt time.Time
}

// Store defines the persistence interface for the scan pipeline.
type Store interface {
	// Scans
	CreateScan(ctx context.Context, input model.BusinessInput) (*model.Scan, error)
	GetScan(ctx context.Context, scanID string) (*model.Scan, error)
	UpdateScan(ctx context.Context, scanID string, update ScanUpdate) error
	// SetResolvedPlace writes the resolved place identity and the scan date.
	// A unique violation on (place_id, scan_date) comes back as
	// ErrDuplicateScan.
	SetResolvedPlace(ctx context.Context, scanID, placeID string, lat, lng *float64, scanDate time.Time) error
	MarkDuplicate(ctx context.Context, scanID string, completedAt time.Time) error
	CompleteScan(ctx context.Context, scanID string, params CompleteScanParams) error
	FailScan(ctx context.Context, scanID string, issue model.Issue) error

	// Competitors
	UpsertCompetitors(ctx context.Context, records []model.CompetitorRecord) error
	ListCompetitors(ctx context.Context, scanID string) ([]model.CompetitorRecord, error)

	// Lifecycle
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}

// ScanDay truncates a timestamp to its UTC calendar day, the granularity of
// the duplicate constraint.
func ScanDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
