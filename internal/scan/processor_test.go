package scan

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/visibility-grader/internal/gateway"
	"github.com/sells-group/visibility-grader/internal/geo"
	"github.com/sells-group/visibility-grader/internal/model"
	"github.com/sells-group/visibility-grader/internal/store"
	"github.com/sells-group/visibility-grader/pkg/pagespeed"
)

// recordingStore wraps a Store and captures the statuses written through
// UpdateScan, so tests can assert the stage order.
type recordingStore struct {
	store.Store

	mu       sync.Mutex
	statuses []model.ScanStatus
}

func (r *recordingStore) UpdateScan(ctx context.Context, scanID string, update store.ScanUpdate) error {
	if update.Status != nil {
		r.mu.Lock()
		r.statuses = append(r.statuses, *update.Status)
		r.mu.Unlock()
	}
	return r.Store.UpdateScan(ctx, scanID, update)
}

func (r *recordingStore) observed() []model.ScanStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.ScanStatus(nil), r.statuses...)
}

func newTestStore(t *testing.T) *recordingStore {
	t.Helper()
	s, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Migrate(context.Background()))
	return &recordingStore{Store: s}
}

func newTestProcessor(s store.Store, gw gateway.Gateway) *Processor {
	at := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	return &Processor{store: s, gw: gw, now: func() time.Time { return at }}
}

func createQueuedScan(t *testing.T, s store.Store, input model.BusinessInput) model.ScanJob {
	t.Helper()
	sc, err := s.CreateScan(context.Background(), input)
	require.NoError(t, err)
	return model.ScanJob{ScanID: sc.ID, BusinessInput: sc.BusinessInput}
}

func ptrFloat(v float64) *float64 { return &v }

func perfReport(score float64) *pagespeed.Report {
	r := &pagespeed.Report{}
	r.LighthouseResult.Categories.Performance = &pagespeed.Category{Score: ptrFloat(score)}
	return r
}

func fullDetails() *gateway.PlaceDetails {
	return &gateway.PlaceDetails{
		PlaceID:      "ChIJ-abc",
		Name:         "Taco Haven",
		Website:      "https://tacohaven.example",
		Rating:       ptrFloat(4.5),
		Photos:       make([]string, 12),
		OpeningHours: &gateway.OpeningHours{WeekdayText: []string{"Monday: 9-5"}},
		Location:     &geo.Point{Lat: 29.42, Lng: -98.49},
	}
}

func TestProcessHappyPath(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	gw := new(mockGateway)

	job := createQueuedScan(t, s, model.BusinessInput{BusinessName: "Taco Haven", City: "San Antonio"})

	details := fullDetails()
	name := "Rival Tacos"
	gw.On("ResolvePlace", mock.Anything, mock.Anything).
		Return(&gateway.ResolvedPlace{PlaceID: "ChIJ-abc", Lat: ptrFloat(29.42), Lng: ptrFloat(-98.49)}, nil)
	gw.On("FetchDetails", mock.Anything, "ChIJ-abc").
		Return(gateway.Ok(details))
	gw.On("FetchNearbyCompetitors", mock.Anything, mock.Anything, mock.Anything, "ChIJ-abc").
		Return(gateway.Ok([]gateway.Competitor{
			{PlaceID: "ChIJ-r1", Name: &name},
			{PlaceID: "ChIJ-r2"},
			{PlaceID: "ChIJ-r3"},
			{PlaceID: "ChIJ-r4"},
			{PlaceID: "ChIJ-r5"},
		}))
	report := perfReport(0.8)
	report.Raw = json.RawMessage(`{"lighthouseResult":{"categories":{"performance":{"score":0.8}},"audits":{"first-contentful-paint":{"score":0.9}}}}`)
	gw.On("FetchPerformance", mock.Anything, "https://tacohaven.example").
		Return(gateway.Ok(report))

	p := newTestProcessor(s, gw)
	require.NoError(t, p.Process(ctx, job))

	assert.Equal(t, []model.ScanStatus{
		model.StatusResolving,
		model.StatusDetails,
		model.StatusCompetitors,
		model.StatusPerformance,
		model.StatusScoring,
	}, s.observed())

	got, err := s.GetScan(ctx, job.ScanID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusDone, got.Status)
	require.NotNil(t, got.Score)
	assert.Equal(t, 67, *got.Score)
	require.NotNil(t, got.CompletedAt)
	require.NotNil(t, got.PlaceID)
	assert.Equal(t, "ChIJ-abc", *got.PlaceID)

	var breakdown map[string]float64
	require.NoError(t, json.Unmarshal(got.Breakdown, &breakdown))
	assert.Equal(t, float64(20), breakdown["gbp"])
	assert.Equal(t, float64(15), breakdown["rankings"])
	assert.Equal(t, float64(67), breakdown["raw_total"])

	var insights struct {
		CompetitorCount  int             `json:"competitor_count"`
		PerformanceScore *float64        `json:"performance_score"`
		PSI              json.RawMessage `json:"psi"`
	}
	require.NoError(t, json.Unmarshal(got.Insights, &insights))
	assert.Equal(t, 5, insights.CompetitorCount)
	require.NotNil(t, insights.PerformanceScore)
	assert.InDelta(t, 0.8, *insights.PerformanceScore, 0.001)
	// The stored payload is the full audit response, not just the score.
	assert.JSONEq(t, string(report.Raw), string(insights.PSI))

	competitors, err := s.ListCompetitors(ctx, job.ScanID)
	require.NoError(t, err)
	require.Len(t, competitors, 5)
	assert.Equal(t, "ChIJ-r1", competitors[0].PlaceID)
	assert.Equal(t, 1, competitors[0].RankMapPack)
	assert.Equal(t, 5, competitors[4].RankMapPack)
	assert.Nil(t, competitors[0].RankOrganic)

	gw.AssertExpectations(t)
}

func TestProcessPlaceNotFound(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	gw := new(mockGateway)

	job := createQueuedScan(t, s, model.BusinessInput{BusinessName: "Ghost Diner"})
	gw.On("ResolvePlace", mock.Anything, mock.Anything).Return(nil, gateway.ErrPlaceNotFound)

	p := newTestProcessor(s, gw)
	require.NoError(t, p.Process(ctx, job))

	got, err := s.GetScan(ctx, job.ScanID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, got.Status)
	require.Len(t, got.Issues, 1)
	assert.Equal(t, model.IssuePlaceNotFound, got.Issues[0].Key)
	assert.Empty(t, got.TopIssues)
	assert.Nil(t, got.Score)

	gw.AssertNotCalled(t, "FetchDetails", mock.Anything, mock.Anything)
	gw.AssertNotCalled(t, "FetchNearbyCompetitors", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestProcessDuplicate(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	// First scan grades the place today.
	first := new(mockGateway)
	firstJob := createQueuedScan(t, s, model.BusinessInput{BusinessName: "Taco Haven"})
	first.On("ResolvePlace", mock.Anything, mock.Anything).
		Return(&gateway.ResolvedPlace{PlaceID: "ChIJ-abc"}, nil)
	first.On("FetchDetails", mock.Anything, "ChIJ-abc").Return(gateway.Ok(fullDetails()))
	first.On("FetchNearbyCompetitors", mock.Anything, mock.Anything, mock.Anything, "ChIJ-abc").
		Return(gateway.Ok([]gateway.Competitor{}))
	first.On("FetchPerformance", mock.Anything, mock.Anything).
		Return(gateway.Ok[*pagespeed.Report](nil))
	require.NoError(t, newTestProcessor(s, first).Process(ctx, firstJob))

	// Second scan of the same place on the same day short-circuits.
	second := new(mockGateway)
	secondJob := createQueuedScan(t, s, model.BusinessInput{BusinessName: "Taco Haven"})
	second.On("ResolvePlace", mock.Anything, mock.Anything).
		Return(&gateway.ResolvedPlace{PlaceID: "ChIJ-abc"}, nil)

	require.NoError(t, newTestProcessor(s, second).Process(ctx, secondJob))

	got, err := s.GetScan(ctx, secondJob.ScanID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusDuplicate, got.Status)
	require.Len(t, got.Issues, 1)
	assert.Equal(t, model.IssueAlreadyGraded, got.Issues[0].Key)
	assert.NotNil(t, got.CompletedAt)

	second.AssertNotCalled(t, "FetchDetails", mock.Anything, mock.Anything)
	second.AssertNotCalled(t, "FetchNearbyCompetitors", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	second.AssertNotCalled(t, "FetchPerformance", mock.Anything, mock.Anything)

	// The first result is untouched.
	kept, err := s.GetScan(ctx, firstJob.ScanID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusDone, kept.Status)
}

func TestProcessDegradedDetailsStillCompletes(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	gw := new(mockGateway)

	job := createQueuedScan(t, s, model.BusinessInput{BusinessName: "Taco Haven"})

	gw.On("ResolvePlace", mock.Anything, mock.Anything).
		Return(&gateway.ResolvedPlace{PlaceID: "ChIJ-abc", Lat: ptrFloat(29.42), Lng: ptrFloat(-98.49)}, nil)
	gw.On("FetchDetails", mock.Anything, "ChIJ-abc").
		Return(gateway.Degraded[*gateway.PlaceDetails](nil, "upstream status 500"))
	gw.On("FetchNearbyCompetitors", mock.Anything, mock.Anything, mock.Anything, "ChIJ-abc").
		Return(gateway.Ok([]gateway.Competitor{}))
	gw.On("FetchPerformance", mock.Anything, "").
		Return(gateway.Ok[*pagespeed.Report](nil))

	p := newTestProcessor(s, gw)
	require.NoError(t, p.Process(ctx, job))

	got, err := s.GetScan(ctx, job.ScanID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusDone, got.Status)
	require.NotNil(t, got.Score)
	// All floors: 8 + 4 + 3 + 6 + 0.
	assert.Equal(t, 21, *got.Score)

	var insights map[string]any
	require.NoError(t, json.Unmarshal(got.Insights, &insights))
	degraded, ok := insights["degraded"].([]any)
	require.True(t, ok)
	require.Len(t, degraded, 1)
	assert.Equal(t, "details", degraded[0].(map[string]any)["stage"])
}

func TestProcessCoordinateBackfill(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	gw := new(mockGateway)

	job := createQueuedScan(t, s, model.BusinessInput{BusinessName: "Taco Haven"})

	details := fullDetails()
	gw.On("ResolvePlace", mock.Anything, mock.Anything).
		Return(&gateway.ResolvedPlace{PlaceID: "ChIJ-abc"}, nil)
	gw.On("FetchDetails", mock.Anything, "ChIJ-abc").Return(gateway.Ok(details))
	gw.On("FetchNearbyCompetitors", mock.Anything, mock.MatchedBy(func(lat *float64) bool {
		return lat != nil && *lat == details.Location.Lat
	}), mock.Anything, "ChIJ-abc").Return(gateway.Ok([]gateway.Competitor{}))
	gw.On("FetchPerformance", mock.Anything, mock.Anything).
		Return(gateway.Ok[*pagespeed.Report](nil))

	p := newTestProcessor(s, gw)
	require.NoError(t, p.Process(ctx, job))

	got, err := s.GetScan(ctx, job.ScanID)
	require.NoError(t, err)
	require.NotNil(t, got.Lat)
	assert.InDelta(t, details.Location.Lat, *got.Lat, 1e-9)
}

func TestProcessRedeliveryAfterDoneIsSafe(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	gw := new(mockGateway)

	job := createQueuedScan(t, s, model.BusinessInput{BusinessName: "Taco Haven"})
	gw.On("ResolvePlace", mock.Anything, mock.Anything).
		Return(&gateway.ResolvedPlace{PlaceID: "ChIJ-abc"}, nil)
	gw.On("FetchDetails", mock.Anything, "ChIJ-abc").Return(gateway.Ok(fullDetails()))
	gw.On("FetchNearbyCompetitors", mock.Anything, mock.Anything, mock.Anything, "ChIJ-abc").
		Return(gateway.Ok([]gateway.Competitor{}))
	gw.On("FetchPerformance", mock.Anything, mock.Anything).
		Return(gateway.Ok(perfReport(0.8)))

	p := newTestProcessor(s, gw)
	require.NoError(t, p.Process(ctx, job))

	first, err := s.GetScan(ctx, job.ScanID)
	require.NoError(t, err)

	// The queue re-delivers the same job; the terminal row is untouched and
	// no upstream call is made.
	redelivered := new(mockGateway)
	require.NoError(t, newTestProcessor(s, redelivered).Process(ctx, job))

	second, err := s.GetScan(ctx, job.ScanID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusDone, second.Status)
	assert.Equal(t, first.Score, second.Score)
	redelivered.AssertNotCalled(t, "ResolvePlace", mock.Anything, mock.Anything)
}

func TestProcessUnexpectedResolveError(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	gw := new(mockGateway)

	job := createQueuedScan(t, s, model.BusinessInput{BusinessName: "Taco Haven"})
	gw.On("ResolvePlace", mock.Anything, mock.Anything).Return(nil, assert.AnError)

	p := newTestProcessor(s, gw)
	err := p.Process(ctx, job)
	require.Error(t, err)

	got, err := s.GetScan(ctx, job.ScanID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, got.Status)
	require.Len(t, got.Issues, 1)
	assert.Equal(t, model.IssueUnexpectedError, got.Issues[0].Key)
}

func TestProcessRecoversFromPanic(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	gw := new(mockGateway)

	job := createQueuedScan(t, s, model.BusinessInput{BusinessName: "Taco Haven"})
	gw.On("ResolvePlace", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { panic("boom") }).
		Return(nil, nil)

	p := newTestProcessor(s, gw)
	err := p.Process(ctx, job)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panic")

	got, err := s.GetScan(ctx, job.ScanID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, got.Status)
	require.Len(t, got.Issues, 1)
	assert.Equal(t, model.IssueUnexpectedError, got.Issues[0].Key)
}

func TestProcessUnknownScan(t *testing.T) {
	s := newTestStore(t)
	p := newTestProcessor(s, new(mockGateway))

	err := p.Process(context.Background(), model.ScanJob{ScanID: "nonexistent"})
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrScanNotFound)
}

func TestProcessCapsCompetitors(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	gw := new(mockGateway)

	job := createQueuedScan(t, s, model.BusinessInput{BusinessName: "Taco Haven"})

	var nearby []gateway.Competitor
	for i := 0; i < 18; i++ {
		nearby = append(nearby, gateway.Competitor{PlaceID: "ChIJ-r" + string(rune('a'+i))})
	}
	gw.On("ResolvePlace", mock.Anything, mock.Anything).
		Return(&gateway.ResolvedPlace{PlaceID: "ChIJ-abc", Lat: ptrFloat(29.42), Lng: ptrFloat(-98.49)}, nil)
	gw.On("FetchDetails", mock.Anything, "ChIJ-abc").Return(gateway.Ok(fullDetails()))
	gw.On("FetchNearbyCompetitors", mock.Anything, mock.Anything, mock.Anything, "ChIJ-abc").
		Return(gateway.Ok(nearby))
	gw.On("FetchPerformance", mock.Anything, mock.Anything).
		Return(gateway.Ok[*pagespeed.Report](nil))

	p := newTestProcessor(s, gw)
	require.NoError(t, p.Process(ctx, job))

	competitors, err := s.ListCompetitors(ctx, job.ScanID)
	require.NoError(t, err)
	assert.Len(t, competitors, maxCompetitors)
}
