package gateway

import (
	"encoding/json"

	"github.com/sells-group/visibility-grader/internal/geo"
	"github.com/sells-group/visibility-grader/pkg/places"
)

// PlaceDetails is the normalized, vendor-independent view of a place record.
// Downstream code depends only on this shape; every vendor field-name variant
// is resolved by the adapter functions in this package and nowhere else.
type PlaceDetails struct {
	PlaceID                  string             `json:"place_id"`
	Name                     string             `json:"name,omitempty"`
	FormattedAddress         string             `json:"formatted_address,omitempty"`
	FormattedPhoneNumber     string             `json:"formatted_phone_number,omitempty"`
	InternationalPhoneNumber string             `json:"international_phone_number,omitempty"`
	Website                  string             `json:"website,omitempty"`
	MapsURL                  string             `json:"url,omitempty"`
	AddressComponents        []AddressComponent `json:"address_components"`
	Types                    []string           `json:"types"`
	Rating                   *float64           `json:"rating,omitempty"`
	UserRatingsTotal         *int               `json:"user_ratings_total,omitempty"`
	PriceLevel               string             `json:"price_level,omitempty"`
	OpeningHours             *OpeningHours      `json:"opening_hours,omitempty"`
	Reservable               *bool              `json:"reservable,omitempty"`
	Delivery                 *bool              `json:"delivery,omitempty"`
	Photos                   []string           `json:"photos"`
	Location                 *geo.Point         `json:"location,omitempty"`
	EditorialSummary         *EditorialSummary  `json:"editorial_summary,omitempty"`
}

// HasOpeningHours reports whether hours-of-operation data is present.
func (d *PlaceDetails) HasOpeningHours() bool {
	return d != nil && d.OpeningHours != nil
}

// WebsiteURL returns the place website, empty when details are absent.
func (d *PlaceDetails) WebsiteURL() string {
	if d == nil {
		return ""
	}
	return d.Website
}

// AddressComponent is one structured address part in canonical long/short form.
type AddressComponent struct {
	LongName  string   `json:"long_name,omitempty"`
	ShortName string   `json:"short_name,omitempty"`
	Types     []string `json:"types"`
}

// OpeningHours is the normalized hours-of-operation structure.
type OpeningHours struct {
	Periods     json.RawMessage `json:"periods,omitempty"`
	WeekdayText []string        `json:"weekday_text"`
}

// EditorialSummary is the vendor-authored place description.
type EditorialSummary struct {
	Overview string `json:"overview,omitempty"`
	Review   string `json:"review,omitempty"`
}

// normalizeDetails maps a raw vendor place record into the canonical
// PlaceDetails shape, resolving every known field-name alias and defaulting
// absent optionals to nil/empty.
func normalizeDetails(p *places.Place) *PlaceDetails {
	if p == nil {
		return nil
	}

	d := &PlaceDetails{
		PlaceID:                  p.PlaceID(),
		Name:                     p.DisplayName.Text,
		FormattedAddress:         p.FormattedAddress,
		FormattedPhoneNumber:     firstNonEmpty(p.NationalPhoneNumber, p.FormattedPhoneNumber),
		InternationalPhoneNumber: p.InternationalPhoneNumber,
		Website:                  firstNonEmpty(p.WebsiteURI, p.Website),
		MapsURL:                  firstNonEmpty(p.GoogleMapsURI, p.URL),
		AddressComponents:        normalizeAddressComponents(p.AddressComponents),
		Types:                    p.Types,
		Rating:                   p.Rating,
		UserRatingsTotal:         p.UserRatingCount,
		PriceLevel:               p.PriceLevel,
		Reservable:               p.Reservable,
		Delivery:                 p.Delivery,
		EditorialSummary:         normalizeEditorialSummary(p.EditorialSummary),
	}

	if p.RegularOpeningHours != nil {
		d.OpeningHours = &OpeningHours{
			Periods:     p.RegularOpeningHours.Periods,
			WeekdayText: p.RegularOpeningHours.WeekdayDescriptions,
		}
		if d.OpeningHours.WeekdayText == nil {
			d.OpeningHours.WeekdayText = []string{}
		}
	}

	if p.Photos != nil {
		d.Photos = make([]string, 0, len(p.Photos))
		for _, photo := range p.Photos {
			d.Photos = append(d.Photos, photo.Name)
		}
	}

	d.Location = normalizeLocation(p.Location)
	return d
}

func normalizeAddressComponents(components []places.AddressComponent) []AddressComponent {
	if components == nil {
		return []AddressComponent{}
	}
	out := make([]AddressComponent, 0, len(components))
	for _, c := range components {
		types := c.Types
		if types == nil {
			types = []string{}
		}
		out = append(out, AddressComponent{
			LongName:  firstNonEmpty(c.LongName, c.LongText),
			ShortName: firstNonEmpty(c.ShortName, c.ShortText),
			Types:     types,
		})
	}
	return out
}

func normalizeEditorialSummary(s *places.EditorialSummary) *EditorialSummary {
	if s == nil {
		return nil
	}
	return &EditorialSummary{Overview: s.Overview, Review: s.Review}
}

func normalizeLocation(loc *places.LatLng) *geo.Point {
	if loc == nil {
		return nil
	}
	return &geo.Point{Lat: loc.Latitude, Lng: loc.Longitude}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
