// Package gateway adapts third-party place and page-performance sources into
// the normalized shapes the scan pipeline consumes. Every fetch except the
// initial place resolution is individually optional: a vendor outage degrades
// score quality but never aborts a scan.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/visibility-grader/internal/geo"
	"github.com/sells-group/visibility-grader/internal/model"
	"github.com/sells-group/visibility-grader/internal/resilience"
	"github.com/sells-group/visibility-grader/pkg/pagespeed"
	"github.com/sells-group/visibility-grader/pkg/places"
)

// ErrPlaceNotFound is the defined outcome when place resolution yields no
// results. It is user-actionable, not a transient fault.
var ErrPlaceNotFound = eris.New("gateway: place not found")

// Outcome is the result of one optional pipeline stage. Degraded carries a
// reason so the provenance of a fallback value stays inspectable all the way
// into the stored insights.
type Outcome[T any] struct {
	Value    T
	Degraded bool
	Reason   string `json:"reason,omitempty"`
}

// Ok wraps a real stage value.
func Ok[T any](v T) Outcome[T] {
	return Outcome[T]{Value: v}
}

// Degraded wraps a fallback value with the reason the stage fell back.
func Degraded[T any](v T, reason string) Outcome[T] {
	return Outcome[T]{Value: v, Degraded: true, Reason: reason}
}

// ResolvedPlace is the outcome of resolving a business input to a canonical
// place record. Coordinates may be absent when the id was pre-resolved.
type ResolvedPlace struct {
	PlaceID          string
	Lat              *float64
	Lng              *float64
	FormattedAddress string
}

// Competitor is one normalized nearby comparable business.
type Competitor struct {
	PlaceID   string   `json:"place_id"`
	Name      *string  `json:"name,omitempty"`
	Rating    *float64 `json:"rating,omitempty"`
	Reviews   *int     `json:"reviews,omitempty"`
	DistanceM *int     `json:"distance_m,omitempty"`
}

// Gateway fetches and normalizes external place and performance data.
type Gateway interface {
	ResolvePlace(ctx context.Context, input model.BusinessInput) (*ResolvedPlace, error)
	FetchDetails(ctx context.Context, placeID string) Outcome[*PlaceDetails]
	FetchNearbyCompetitors(ctx context.Context, lat, lng *float64, excludePlaceID string) Outcome[[]Competitor]
	FetchPerformance(ctx context.Context, websiteURL string) Outcome[*pagespeed.Report]
}

const (
	nearbyRadiusMeters = 1500
	nearbyMaxResults   = 20
	searchMaxResults   = 3
)

type apiGateway struct {
	places    places.Client
	pagespeed pagespeed.Client
	region    string
	language  string
}

// New creates a Gateway over the given vendor clients.
func New(placesClient places.Client, pagespeedClient pagespeed.Client) Gateway {
	return &apiGateway{
		places:    placesClient,
		pagespeed: pagespeedClient,
		region:    "US",
		language:  "en",
	}
}

// ResolvePlace issues a text search built from business name and city and
// takes the first result. An empty result set (or an empty query) returns
// ErrPlaceNotFound; transport errors propagate as unexpected failures.
func (g *apiGateway) ResolvePlace(ctx context.Context, input model.BusinessInput) (*ResolvedPlace, error) {
	var parts []string
	for _, p := range []string{input.BusinessName, input.City} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	query := strings.Join(parts, ", ")
	if query == "" {
		return nil, ErrPlaceNotFound
	}

	resp, err := g.places.SearchText(ctx, places.TextSearchRequest{
		TextQuery:      query,
		RegionCode:     g.region,
		LanguageCode:   g.language,
		MaxResultCount: searchMaxResults,
	})
	if err != nil {
		return nil, eris.Wrap(err, "gateway: resolve place")
	}
	if len(resp.Places) == 0 {
		return nil, ErrPlaceNotFound
	}

	first := resp.Places[0]
	resolved := &ResolvedPlace{
		PlaceID:          first.PlaceID(),
		FormattedAddress: first.FormattedAddress,
	}
	if first.Location != nil {
		resolved.Lat = &first.Location.Latitude
		resolved.Lng = &first.Location.Longitude
	}
	return resolved, nil
}

// FetchDetails requests the full detail field set. Upstream failure is
// recoverable: the pipeline continues with nil details.
func (g *apiGateway) FetchDetails(ctx context.Context, placeID string) Outcome[*PlaceDetails] {
	raw, err := g.places.Details(ctx, placeID)
	if err != nil {
		g.logDegraded("details", placeID, err)
		return Degraded[*PlaceDetails](nil, degradeReason(err))
	}
	return Ok(normalizeDetails(raw))
}

// FetchNearbyCompetitors runs a nearby search around the subject place.
// Missing coordinates short-circuit to an empty list without a request; this
// is cost avoidance, not an error. Upstream failure degrades to empty.
func (g *apiGateway) FetchNearbyCompetitors(ctx context.Context, lat, lng *float64, excludePlaceID string) Outcome[[]Competitor] {
	if !validCoord(lat) || !validCoord(lng) {
		zap.L().Warn("gateway: skipping competitor fetch, coordinates unavailable",
			zap.String("exclude_place_id", excludePlaceID))
		return Ok([]Competitor{})
	}

	resp, err := g.places.SearchNearby(ctx, places.NearbySearchRequest{
		MaxResultCount: nearbyMaxResults,
		LocationRestriction: places.LocationRestriction{
			Circle: places.Circle{
				Center: places.LatLng{Latitude: *lat, Longitude: *lng},
				Radius: nearbyRadiusMeters,
			},
		},
	})
	if err != nil {
		g.logDegraded("competitors", excludePlaceID, err)
		return Degraded([]Competitor{}, degradeReason(err))
	}

	origin := &geo.Point{Lat: *lat, Lng: *lng}
	competitors := make([]Competitor, 0, len(resp.Places))
	for i := range resp.Places {
		c := normalizeNearby(&resp.Places[i], origin)
		if c == nil || c.PlaceID == "" || c.PlaceID == excludePlaceID {
			continue
		}
		competitors = append(competitors, *c)
	}
	return Ok(competitors)
}

// FetchPerformance audits the place website. No website means no request;
// failure yields a nil report. Never fatal.
func (g *apiGateway) FetchPerformance(ctx context.Context, websiteURL string) Outcome[*pagespeed.Report] {
	if websiteURL == "" {
		return Ok[*pagespeed.Report](nil)
	}

	report, err := g.pagespeed.Run(ctx, websiteURL)
	if err != nil {
		g.logDegraded("performance", websiteURL, err)
		return Degraded[*pagespeed.Report](nil, degradeReason(err))
	}
	return Ok(report)
}

// normalizeNearby maps one raw nearby result into a Competitor, computing
// the distance from the subject place when both coordinates are known.
func normalizeNearby(p *places.Place, origin *geo.Point) *Competitor {
	if p == nil {
		return nil
	}
	c := &Competitor{
		PlaceID: p.PlaceID(),
		Rating:  p.Rating,
		Reviews: p.UserRatingCount,
	}
	if p.DisplayName.Text != "" {
		name := p.DisplayName.Text
		c.Name = &name
	}
	if target := normalizeLocation(p.Location); target != nil {
		if meters, ok := geo.Distance(origin, target); ok {
			rounded := int(math.Round(meters))
			c.DistanceM = &rounded
		}
	}
	return c
}

func (g *apiGateway) logDegraded(stage, subject string, err error) {
	transient := resilience.IsTransient(err)
	fields := []zap.Field{
		zap.String("stage", stage),
		zap.String("subject", subject),
		zap.Error(err),
	}
	var apiErr *places.APIError
	if errors.As(err, &apiErr) {
		transient = resilience.IsTransientHTTPStatus(apiErr.StatusCode)
		fields = append(fields, zap.Int("upstream_status", apiErr.StatusCode))
	}
	fields = append(fields, zap.Bool("transient", transient))
	zap.L().Warn("gateway: stage degraded", fields...)
}

func degradeReason(err error) string {
	var apiErr *places.APIError
	if errors.As(err, &apiErr) {
		return fmt.Sprintf("upstream status %d", apiErr.StatusCode)
	}
	return err.Error()
}

func validCoord(v *float64) bool {
	return v != nil && !math.IsNaN(*v) && !math.IsInf(*v, 0)
}
