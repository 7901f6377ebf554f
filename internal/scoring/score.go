// Package scoring turns gathered place data into a 0-100 visibility grade.
// Every dimension has a neutral floor so a scan with missing data still
// produces a plausible mid-range score instead of a punishing zero.
package scoring

import (
	"math"

	"github.com/sells-group/visibility-grader/internal/gateway"
	"github.com/sells-group/visibility-grader/pkg/pagespeed"
)

// Breakdown holds the per-dimension sub-scores that sum to the raw total.
type Breakdown struct {
	GBP         float64 `json:"gbp"`
	Reviews     float64 `json:"reviews"`
	Photos      float64 `json:"photos"`
	Performance float64 `json:"performance"`
	Rankings    float64 `json:"rankings"`
	RawTotal    float64 `json:"raw_total"`
}

// Result is the final grade: the rounded, capped total plus its breakdown.
type Result struct {
	Total     int
	RawTotal  float64
	Breakdown Breakdown
}

const (
	gbpFull    = 20
	gbpFloor   = 8
	reviewsCap = 15
	// reviewsFloor applies when the place has no rating at all.
	reviewsFloor     = 4
	photosCap        = 10
	photosFloor      = 3
	performanceMax   = 15
	performanceFloor = 6
	rankingsPerSlot  = 3
	rankingsMaxSlots = 5
	totalCap         = 100
)

// Score computes the visibility grade from normalized place details, an
// optional page-performance report, and the number of nearby competitors
// found. Details and report may be nil; each missing input falls back to the
// dimension floor.
func Score(details *gateway.PlaceDetails, report *pagespeed.Report, competitorCount int) Result {
	b := Breakdown{
		GBP:         scoreGBP(details),
		Reviews:     scoreReviews(details),
		Photos:      scorePhotos(details),
		Performance: scorePerformance(report),
		Rankings:    scoreRankings(competitorCount),
	}
	b.RawTotal = b.GBP + b.Reviews + b.Photos + b.Performance + b.Rankings

	return Result{
		Total:     int(math.Round(math.Min(b.RawTotal, totalCap))),
		RawTotal:  b.RawTotal,
		Breakdown: b,
	}
}

// scoreGBP rewards a profile with operating hours; a profile without them is
// treated as thin.
func scoreGBP(details *gateway.PlaceDetails) float64 {
	if details.HasOpeningHours() {
		return gbpFull
	}
	return gbpFloor
}

// scoreReviews scales the star rating to the dimension cap. The review count
// itself is surfaced in insights but does not move the score.
func scoreReviews(details *gateway.PlaceDetails) float64 {
	if details == nil || details.Rating == nil {
		return reviewsFloor
	}
	return math.Min(math.Round(*details.Rating*3), reviewsCap)
}

// scorePhotos awards half a point per photo up to the cap. A nil photo list
// means photos were never fetched and takes the floor; an empty list is a
// fetched zero and scores zero.
func scorePhotos(details *gateway.PlaceDetails) float64 {
	if details == nil || details.Photos == nil {
		return photosFloor
	}
	return math.Min(float64(len(details.Photos))/2.0, photosCap)
}

// scorePerformance scales the 0.0-1.0 page performance score to the dimension
// maximum. A missing report or a zero score takes the floor.
func scorePerformance(report *pagespeed.Report) float64 {
	score := report.PerformanceScore()
	if score == nil || *score <= 0 {
		return performanceFloor
	}
	return math.Round(*score * performanceMax)
}

// scoreRankings rewards presence in a competitive market: each competitor
// found, up to five, is worth three points.
func scoreRankings(competitorCount int) float64 {
	if competitorCount < 0 {
		competitorCount = 0
	}
	return float64(min(competitorCount, rankingsMaxSlots) * rankingsPerSlot)
}
