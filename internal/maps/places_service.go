package maps

import (
	"context"
	"fmt"
	"strings"

	"googlemaps.github.io/maps"

	"rider/internal/types"
)

// Landmark is a simplified place result suitable for a pickup or destination.
type Landmark struct {
	Name     string      `json:"name"`
	Address  string      `json:"address"`
	PlaceID  string      `json:"place_id"`
	Location types.Point `json:"location"`
}

// SearchOptions narrows a landmark search.
type SearchOptions struct {
	// Near biases results around a coordinate when RadiusMeters > 0.
	Near         types.Point
	RadiusMeters uint
	// ExcludeKeywords disqualify any result whose name contains them.
	ExcludeKeywords []string
	Limit           int
}

// PlacesService handles interactions with Google Places API.
type PlacesService struct {
	client   *maps.Client
	language string
	region   string
}

// NewPlacesService creates a new PlacesService with the given API Key.
func NewPlacesService(apiKey, language, region string) (*PlacesService, error) {
	client, err := maps.NewClient(maps.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create maps client: %w", err)
	}
	return &PlacesService{client: client, language: language, region: region}, nil
}

// SearchLandmarks runs a text search and returns de-duplicated landmarks.
// opts can be nil.
func (s *PlacesService) SearchLandmarks(ctx context.Context, query string, opts *SearchOptions) ([]Landmark, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}

	r := &maps.TextSearchRequest{
		Query:    query,
		Language: s.language,
		Region:   s.region,
	}
	limit := 10
	var exclude []string
	if opts != nil {
		if opts.RadiusMeters > 0 {
			r.Location = &maps.LatLng{Lat: opts.Near.Lat, Lng: opts.Near.Lng}
			r.Radius = opts.RadiusMeters
		}
		if opts.Limit > 0 {
			limit = opts.Limit
		}
		exclude = opts.ExcludeKeywords
	}

	resp, err := s.client.TextSearch(ctx, r)
	if err != nil {
		return nil, fmt.Errorf("places api error: %w", err)
	}

	seen := make(map[string]struct{})
	var results []Landmark
	for _, result := range resp.Results {
		if excluded(result.Name, exclude) {
			continue
		}
		if _, dup := seen[result.PlaceID]; dup {
			continue
		}
		seen[result.PlaceID] = struct{}{}

		results = append(results, Landmark{
			Name:     result.Name,
			Address:  result.FormattedAddress,
			PlaceID:  result.PlaceID,
			Location: types.Point{Lat: result.Geometry.Location.Lat, Lng: result.Geometry.Location.Lng},
		})
		if len(results) >= limit {
			break
		}
	}
	return results, nil
}

func excluded(name string, keywords []string) bool {
	for _, kw := range keywords {
		if kw != "" && containsIgnoreCase(name, kw) {
			return true
		}
	}
	return false
}

func containsIgnoreCase(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
