// Package places provides a client for the Google Places API (v1).
package places

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
)

const defaultBaseURL = "https://places.googleapis.com/v1"

const (
	searchFieldMask = "places.id,places.displayName,places.formattedAddress,places.location"
	detailFieldMask = "id,displayName,formattedAddress,location,types,rating,userRatingCount," +
		"websiteUri,googleMapsUri,nationalPhoneNumber,internationalPhoneNumber," +
		"regularOpeningHours,addressComponents,priceLevel,reservable,delivery,photos,editorialSummary"
	nearbyFieldMask = "places.id,places.displayName,places.rating,places.userRatingCount,places.location"
)

// Client performs Google Places API operations.
type Client interface {
	SearchText(ctx context.Context, req TextSearchRequest) (*TextSearchResponse, error)
	Details(ctx context.Context, placeID string) (*Place, error)
	SearchNearby(ctx context.Context, req NearbySearchRequest) (*NearbySearchResponse, error)
}

// TextSearchRequest is the body for places:searchText.
type TextSearchRequest struct {
	TextQuery      string `json:"textQuery"`
	RegionCode     string `json:"regionCode,omitempty"`
	LanguageCode   string `json:"languageCode,omitempty"`
	MaxResultCount int    `json:"maxResultCount,omitempty"`
}

// NearbySearchRequest is the body for places:searchNearby.
type NearbySearchRequest struct {
	MaxResultCount      int                 `json:"maxResultCount,omitempty"`
	LocationRestriction LocationRestriction `json:"locationRestriction"`
}

// LocationRestriction bounds a nearby search to a circle.
type LocationRestriction struct {
	Circle Circle `json:"circle"`
}

// Circle is a center point and radius in meters.
type Circle struct {
	Center LatLng  `json:"center"`
	Radius float64 `json:"radius"`
}

// APIError is a non-success response from the API, carrying the HTTP status
// and the vendor's error payload.
type APIError struct {
	StatusCode int
	Detail     json.RawMessage
}

func (e *APIError) Error() string {
	return fmt.Sprintf("places: api status %d: %s", e.StatusCode, string(e.Detail))
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the default API base URL.
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		c.baseURL = url
	}
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithRateLimit sets the requests-per-second limit for API calls.
func WithRateLimit(rps float64) Option {
	return func(c *httpClient) {
		c.limiter = rate.NewLimiter(rate.Limit(rps), int(rps)+1)
	}
}

type httpClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
}

// NewClient creates a Places API client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		http: &http.Client{
			Timeout: 10 * time.Second,
		},
		limiter: rate.NewLimiter(rate.Limit(10), 10),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *httpClient) SearchText(ctx context.Context, req TextSearchRequest) (*TextSearchResponse, error) {
	var result TextSearchResponse
	if err := c.do(ctx, http.MethodPost, "/places:searchText", searchFieldMask, req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *httpClient) Details(ctx context.Context, placeID string) (*Place, error) {
	var result Place
	if err := c.do(ctx, http.MethodGet, "/places/"+placeID, detailFieldMask, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *httpClient) SearchNearby(ctx context.Context, req NearbySearchRequest) (*NearbySearchResponse, error) {
	var result NearbySearchResponse
	if err := c.do(ctx, http.MethodPost, "/places:searchNearby", nearbyFieldMask, req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// do issues one API request. Non-2xx responses surface as *APIError so
// callers can inspect the vendor status and detail payload.
func (c *httpClient) do(ctx context.Context, method, path, fieldMask string, body, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return eris.Wrap(err, "places: rate limit")
	}

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return eris.Wrap(err, "places: marshal request")
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return eris.Wrap(err, "places: create request")
	}
	req.Header.Set("X-Goog-Api-Key", c.apiKey)
	req.Header.Set("X-Goog-FieldMask", fieldMask)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return eris.Wrap(err, "places: send request")
	}
	defer resp.Body.Close() //nolint:errcheck

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return eris.Wrap(err, "places: read response")
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{StatusCode: resp.StatusCode, Detail: respBody}
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return eris.Wrap(err, "places: unmarshal response")
	}
	return nil
}
