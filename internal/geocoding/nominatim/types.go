package nominatim

// SearchOptions narrows a forward search.
type SearchOptions struct {
	// CountryCodes is a comma-separated list of ISO 3166-1 alpha-2 codes.
	CountryCodes string
	// Limit caps the result count (default 5, max 50).
	Limit int
	// Language is sent as accept-language so names come back localized.
	Language string
}

// SearchResult is one entry of /search?format=jsonv2.
type SearchResult struct {
	PlaceID     int64    `json:"place_id"`
	Lat         string   `json:"lat"`
	Lon         string   `json:"lon"`
	DisplayName string   `json:"display_name"`
	Type        string   `json:"type"`
	Class       string   `json:"class"`
	Importance  float64  `json:"importance"`
	OSMID       int64    `json:"osm_id"`
	OSMType     string   `json:"osm_type"`
	Address     *Address `json:"address,omitempty"`
}

// ReverseResult is the body of /reverse?format=jsonv2. Error is set instead
// of the other fields when nothing lies at the coordinates.
type ReverseResult struct {
	PlaceID     int64   `json:"place_id"`
	Lat         string  `json:"lat"`
	Lon         string  `json:"lon"`
	DisplayName string  `json:"display_name"`
	Type        string  `json:"type"`
	Class       string  `json:"class"`
	OSMID       int64   `json:"osm_id"`
	OSMType     string  `json:"osm_type"`
	Address     Address `json:"address"`
	Error       string  `json:"error,omitempty"`
}

type Address struct {
	Road        string `json:"road,omitempty"`
	HouseNumber string `json:"house_number,omitempty"`
	Suburb      string `json:"suburb,omitempty"`
	Village     string `json:"village,omitempty"`
	Town        string `json:"town,omitempty"`
	City        string `json:"city,omitempty"`
	County      string `json:"county,omitempty"`
	State       string `json:"state,omitempty"`
	Postcode    string `json:"postcode,omitempty"`
	Country     string `json:"country,omitempty"`
	CountryCode string `json:"country_code,omitempty"`
}

// Locality returns the most specific settlement name available.
func (a Address) Locality() string {
	switch {
	case a.City != "":
		return a.City
	case a.Town != "":
		return a.Town
	case a.Village != "":
		return a.Village
	default:
		return a.County
	}
}
