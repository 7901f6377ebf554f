package model

import (
	"encoding/json"
	"time"
)

// BusinessInput is the free-form business identification submitted with a scan.
type BusinessInput struct {
	BusinessName string `json:"businessName"`
	Address      string `json:"address,omitempty"`
	City         string `json:"city,omitempty"`
	Cuisine      string `json:"cuisine,omitempty"`
	Website      string `json:"website,omitempty"`
}

// ParseBusinessInput decodes the raw business-input JSON carried by a job.
// Malformed input yields the zero value rather than an error; a scan with an
// unusable input fails later at place resolution with a user-facing issue.
func ParseBusinessInput(raw string) BusinessInput {
	var in BusinessInput
	if raw == "" {
		return in
	}
	if err := json.Unmarshal([]byte(raw), &in); err != nil {
		return BusinessInput{}
	}
	return in
}

// Scan is one end-to-end grading job for a single business submission.
type Scan struct {
	ID            string          `json:"id"`
	BusinessInput string          `json:"business_input"`
	City          *string         `json:"city,omitempty"`
	Cuisine       *string         `json:"cuisine,omitempty"`
	Status        ScanStatus      `json:"status"`
	PlaceID       *string         `json:"place_id,omitempty"`
	Lat           *float64        `json:"lat,omitempty"`
	Lng           *float64        `json:"lng,omitempty"`
	ScanDate      *time.Time      `json:"scan_date,omitempty"`
	Score         *int            `json:"score,omitempty"`
	Breakdown     json.RawMessage `json:"score_breakdown,omitempty"`
	Issues        []Issue         `json:"issues"`
	TopIssues     []Issue         `json:"top_issues"`
	Insights      json.RawMessage `json:"insights,omitempty"`
	CompletedAt   *time.Time      `json:"completed_at,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// CompetitorRecord is one nearby comparable business captured for a scan.
// Records are written once per successful competitor fetch and never updated
// afterward; zero records for a scan is a valid state.
type CompetitorRecord struct {
	ScanID      string   `json:"scan_id"`
	PlaceID     string   `json:"place_id"`
	Name        *string  `json:"name,omitempty"`
	Rating      *float64 `json:"rating,omitempty"`
	Reviews     *int     `json:"reviews,omitempty"`
	DistanceM   *int     `json:"distance_m,omitempty"`
	RankMapPack int      `json:"rank_map_pack"`
	RankOrganic *int     `json:"rank_organic,omitempty"`
}

// ScanJob is the queue payload delivered once per scan submission.
type ScanJob struct {
	ScanID        string `json:"scanId"`
	BusinessInput string `json:"businessInput"`
	PlaceID       string `json:"placeId,omitempty"`
	City          string `json:"city,omitempty"`
	Cuisine       string `json:"cuisine,omitempty"`
}
