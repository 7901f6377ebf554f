package places

import (
	"bytes"
	"encoding/json"
	"strings"
)

// DisplayName holds a place's display name. Current API revisions return an
// object with a text field; older payloads carry a bare string. Both decode
// into Text.
type DisplayName struct {
	Text         string `json:"text"`
	LanguageCode string `json:"languageCode,omitempty"`
}

func (d *DisplayName) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '"' {
		return json.Unmarshal(trimmed, &d.Text)
	}
	type alias DisplayName
	var a alias
	if err := json.Unmarshal(trimmed, &a); err != nil {
		return err
	}
	*d = DisplayName(a)
	return nil
}

// LatLng is a coordinate pair as returned by the API.
type LatLng struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// AddressComponent carries one structured address part. Field names changed
// between API revisions (long_name vs longText); both variants are kept so
// the gateway can normalize them in one place.
type AddressComponent struct {
	LongName  string   `json:"long_name,omitempty"`
	LongText  string   `json:"longText,omitempty"`
	ShortName string   `json:"short_name,omitempty"`
	ShortText string   `json:"shortText,omitempty"`
	Types     []string `json:"types,omitempty"`
}

// OpeningHours is the hours-of-operation structure.
type OpeningHours struct {
	Periods             json.RawMessage `json:"periods,omitempty"`
	WeekdayDescriptions []string        `json:"weekdayDescriptions,omitempty"`
}

// Photo references one place photo resource.
type Photo struct {
	Name     string `json:"name"`
	WidthPx  int    `json:"widthPx,omitempty"`
	HeightPx int    `json:"heightPx,omitempty"`
}

// EditorialSummary is the vendor-authored place description.
type EditorialSummary struct {
	Overview string `json:"overview,omitempty"`
	Review   string `json:"review,omitempty"`
}

// Place is the raw vendor shape shared by text search, details and nearby
// search responses. All fields are optional at the wire level; several
// concepts appear under two historical names and are resolved by PlaceID
// or by the gateway's normalization.
type Place struct {
	ID           string      `json:"id,omitempty"`
	ResourceName string      `json:"name,omitempty"` // "places/<id>" resource path
	DisplayName  DisplayName `json:"displayName"`

	FormattedAddress  string             `json:"formattedAddress,omitempty"`
	AddressComponents []AddressComponent `json:"addressComponents,omitempty"`
	Location          *LatLng            `json:"location,omitempty"`
	Types             []string           `json:"types,omitempty"`

	NationalPhoneNumber      string `json:"nationalPhoneNumber,omitempty"`
	FormattedPhoneNumber     string `json:"formattedPhoneNumber,omitempty"`
	InternationalPhoneNumber string `json:"internationalPhoneNumber,omitempty"`

	WebsiteURI    string `json:"websiteUri,omitempty"`
	Website       string `json:"website,omitempty"`
	GoogleMapsURI string `json:"googleMapsUri,omitempty"`
	URL           string `json:"url,omitempty"`

	Rating          *float64 `json:"rating,omitempty"`
	UserRatingCount *int     `json:"userRatingCount,omitempty"`
	PriceLevel      string   `json:"priceLevel,omitempty"`

	RegularOpeningHours *OpeningHours     `json:"regularOpeningHours,omitempty"`
	Reservable          *bool             `json:"reservable,omitempty"`
	Delivery            *bool             `json:"delivery,omitempty"`
	Photos              []Photo           `json:"photos,omitempty"`
	EditorialSummary    *EditorialSummary `json:"editorialSummary,omitempty"`
}

// PlaceID returns the place identifier, falling back to the trailing segment
// of the resource name when the id field is absent.
func (p *Place) PlaceID() string {
	if p == nil {
		return ""
	}
	if p.ID != "" {
		return p.ID
	}
	if p.ResourceName != "" {
		parts := strings.Split(p.ResourceName, "/")
		return parts[len(parts)-1]
	}
	return ""
}

// TextSearchResponse is the response from places:searchText.
type TextSearchResponse struct {
	Places []Place `json:"places"`
}

// NearbySearchResponse is the response from places:searchNearby.
type NearbySearchResponse struct {
	Places []Place `json:"places"`
}
