// Package scan orchestrates a single grading job through its stages:
// resolve, details, competitors, performance, scoring. Each stage persists
// its status before running so an interrupted scan is observable mid-flight.
package scan

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/visibility-grader/internal/gateway"
	"github.com/sells-group/visibility-grader/internal/model"
	"github.com/sells-group/visibility-grader/internal/scoring"
	"github.com/sells-group/visibility-grader/internal/store"
	"github.com/sells-group/visibility-grader/pkg/pagespeed"
)

// maxCompetitors caps how many nearby results are recorded per scan.
const maxCompetitors = 10

// Processor runs scan jobs against the store and the place gateway.
type Processor struct {
	store store.Store
	gw    gateway.Gateway
	now   func() time.Time
}

// NewProcessor creates a Processor with the real clock.
func NewProcessor(s store.Store, gw gateway.Gateway) *Processor {
	return &Processor{store: s, gw: gw, now: time.Now}
}

// scanInsights is the enrichment payload stored with a completed scan. PSI
// carries the full audit response so a report renderer can work from the
// scan row alone.
type scanInsights struct {
	Details          *gateway.PlaceDetails `json:"details,omitempty"`
	PSI              json.RawMessage       `json:"psi,omitempty"`
	PerformanceScore *float64              `json:"performance_score,omitempty"`
	CompetitorCount  int                   `json:"competitor_count"`
	Degraded         []degradedStage       `json:"degraded,omitempty"`
}

// degradedStage records a stage that fell back to a default, so a low score
// can be distinguished from a score computed on partial data.
type degradedStage struct {
	Stage  string `json:"stage"`
	Reason string `json:"reason"`
}

// Process runs one job to a terminal state. The returned error is non-nil
// only for the unexpected-failure class; defined outcomes (place not found,
// duplicate) are written to the scan row and return nil.
func (p *Processor) Process(ctx context.Context, job model.ScanJob) (retErr error) {
	log := zap.L().With(zap.String("scan_id", job.ScanID))

	sc, err := p.store.GetScan(ctx, job.ScanID)
	if err != nil {
		return eris.Wrapf(err, "scan: load %s", job.ScanID)
	}
	if sc.Status.Terminal() {
		log.Info("scan: already terminal, skipping re-delivery", zap.String("status", string(sc.Status)))
		return nil
	}
	if sc.Status != model.StatusQueued {
		log.Warn("scan: re-running interrupted scan", zap.String("status", string(sc.Status)))
	}

	defer func() {
		if r := recover(); r != nil {
			retErr = eris.Errorf("scan: panic: %v", r)
		}
		if retErr != nil {
			p.failUnexpected(ctx, job.ScanID, retErr, log)
		}
	}()

	input := model.ParseBusinessInput(job.BusinessInput)
	if input.BusinessName == "" {
		input = model.ParseBusinessInput(sc.BusinessInput)
	}
	if input.City == "" && job.City != "" {
		input.City = job.City
	}

	// A re-run starts the stage sequence over; the row's intermediate status
	// is overwritten by the same forward writes.
	current := model.StatusQueued

	// Stage: resolve the business to a canonical place.
	if err := p.advance(ctx, job.ScanID, &current, model.StatusResolving); err != nil {
		return err
	}
	resolved, err := p.resolve(ctx, job, sc, input)
	if err != nil {
		if errors.Is(err, gateway.ErrPlaceNotFound) {
			log.Info("scan: place not found", zap.String("business", input.BusinessName))
			if err := p.store.FailScan(ctx, job.ScanID, model.PlaceNotFoundIssue()); err != nil {
				return eris.Wrap(err, "scan: record place not found")
			}
			return nil
		}
		return eris.Wrap(err, "scan: resolve place")
	}

	// Stage: place details. The resolved identity is persisted first; a
	// unique violation here means another scan already graded this place
	// today.
	if err := p.advance(ctx, job.ScanID, &current, model.StatusDetails); err != nil {
		return err
	}
	if err := p.store.SetResolvedPlace(ctx, job.ScanID, resolved.PlaceID, resolved.Lat, resolved.Lng, p.now()); err != nil {
		if errors.Is(err, store.ErrDuplicateScan) {
			log.Info("scan: duplicate for place and day", zap.String("place_id", resolved.PlaceID))
			if err := p.store.MarkDuplicate(ctx, job.ScanID, p.now()); err != nil {
				return eris.Wrap(err, "scan: record duplicate")
			}
			return nil
		}
		return eris.Wrap(err, "scan: persist resolved place")
	}

	detailsOut := p.gw.FetchDetails(ctx, resolved.PlaceID)
	details := detailsOut.Value

	// Backfill coordinates from details when resolution supplied none. Best
	// effort: the nearby search uses the in-memory values either way.
	lat, lng := resolved.Lat, resolved.Lng
	if (lat == nil || lng == nil) && details != nil && details.Location != nil {
		lat = &details.Location.Lat
		lng = &details.Location.Lng
		if err := p.store.UpdateScan(ctx, job.ScanID, store.ScanUpdate{Lat: lat, Lng: lng}); err != nil {
			log.Warn("scan: coordinate backfill failed", zap.Error(err))
		}
	}

	// Stage: nearby competitors.
	if err := p.advance(ctx, job.ScanID, &current, model.StatusCompetitors); err != nil {
		return err
	}
	compOut := p.gw.FetchNearbyCompetitors(ctx, lat, lng, resolved.PlaceID)
	records := competitorRecords(job.ScanID, compOut.Value)
	if len(records) > 0 {
		if err := p.store.UpsertCompetitors(ctx, records); err != nil {
			return eris.Wrap(err, "scan: persist competitors")
		}
	}

	// Stage: website performance.
	if err := p.advance(ctx, job.ScanID, &current, model.StatusPerformance); err != nil {
		return err
	}
	perfOut := p.gw.FetchPerformance(ctx, details.WebsiteURL())

	// Stage: scoring and the single final write.
	if err := p.advance(ctx, job.ScanID, &current, model.StatusScoring); err != nil {
		return err
	}
	result := scoring.Score(details, perfOut.Value, len(records))
	issues := scoring.DeriveIssues(details)

	breakdownJSON, err := json.Marshal(result.Breakdown)
	if err != nil {
		return eris.Wrap(err, "scan: marshal breakdown")
	}
	insightsJSON, err := json.Marshal(buildInsights(details, perfOut, detailsOut, compOut, len(records)))
	if err != nil {
		return eris.Wrap(err, "scan: marshal insights")
	}

	if !model.CanTransition(current, model.StatusDone) {
		return eris.Errorf("scan: illegal transition %s -> %s", current, model.StatusDone)
	}
	if err := p.store.CompleteScan(ctx, job.ScanID, store.CompleteScanParams{
		Score:       result.Total,
		Breakdown:   breakdownJSON,
		Issues:      issues,
		TopIssues:   scoring.TopIssues(issues),
		Insights:    insightsJSON,
		CompletedAt: p.now(),
	}); err != nil {
		return eris.Wrap(err, "scan: complete")
	}

	log.Info("scan: done",
		zap.Int("score", result.Total),
		zap.Int("competitors", len(records)),
		zap.Bool("degraded", detailsOut.Degraded || compOut.Degraded || perfOut.Degraded))
	return nil
}

// resolve returns the place identity for the job, either pre-resolved on the
// payload or via a text search.
func (p *Processor) resolve(ctx context.Context, job model.ScanJob, sc *model.Scan, input model.BusinessInput) (*gateway.ResolvedPlace, error) {
	if job.PlaceID != "" {
		return &gateway.ResolvedPlace{PlaceID: job.PlaceID, Lat: sc.Lat, Lng: sc.Lng}, nil
	}
	return p.gw.ResolvePlace(ctx, input)
}

// advance persists the next pipeline status, refusing transitions the state
// machine does not define.
func (p *Processor) advance(ctx context.Context, scanID string, current *model.ScanStatus, next model.ScanStatus) error {
	if !model.CanTransition(*current, next) {
		return eris.Errorf("scan: illegal transition %s -> %s", *current, next)
	}
	if err := p.store.UpdateScan(ctx, scanID, store.ScanUpdate{Status: &next}); err != nil {
		return eris.Wrapf(err, "scan: advance to %s", next)
	}
	*current = next
	return nil
}

// failUnexpected records the generic failure outcome. The write gets its own
// deadline so a canceled job context cannot leave the row stuck mid-pipeline.
func (p *Processor) failUnexpected(ctx context.Context, scanID string, cause error, log *zap.Logger) {
	log.Error("scan: unexpected failure", zap.Error(cause))

	writeCtx := ctx
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		writeCtx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
	}
	if err := p.store.FailScan(writeCtx, scanID, model.UnexpectedErrorIssue()); err != nil {
		log.Error("scan: failed to record failure", zap.Error(err))
	}
}

func competitorRecords(scanID string, competitors []gateway.Competitor) []model.CompetitorRecord {
	if len(competitors) > maxCompetitors {
		competitors = competitors[:maxCompetitors]
	}
	records := make([]model.CompetitorRecord, 0, len(competitors))
	for i, c := range competitors {
		records = append(records, model.CompetitorRecord{
			ScanID:      scanID,
			PlaceID:     c.PlaceID,
			Name:        c.Name,
			Rating:      c.Rating,
			Reviews:     c.Reviews,
			DistanceM:   c.DistanceM,
			RankMapPack: i + 1,
		})
	}
	return records
}

func buildInsights(details *gateway.PlaceDetails, perf gateway.Outcome[*pagespeed.Report], detailsOut gateway.Outcome[*gateway.PlaceDetails], compOut gateway.Outcome[[]gateway.Competitor], competitorCount int) scanInsights {
	ins := scanInsights{
		Details:         details,
		CompetitorCount: competitorCount,
	}
	if perf.Value != nil {
		ins.PerformanceScore = perf.Value.PerformanceScore()
		ins.PSI = perf.Value.Raw
		if len(ins.PSI) == 0 {
			// Reports built in-process carry no captured body.
			ins.PSI, _ = json.Marshal(perf.Value)
		}
	}
	for _, d := range []struct {
		stage   string
		degrade bool
		reason  string
	}{
		{"details", detailsOut.Degraded, detailsOut.Reason},
		{"competitors", compOut.Degraded, compOut.Reason},
		{"performance", perf.Degraded, perf.Reason},
	} {
		if d.degrade {
			ins.Degraded = append(ins.Degraded, degradedStage{Stage: d.stage, Reason: d.reason})
		}
	}
	return ins
}
