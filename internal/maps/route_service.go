package maps

import (
	"context"
	"errors"
	"fmt"
	"time"

	"googlemaps.github.io/maps"

	"rider/internal/modules/route"
	"rider/internal/types"
)

var ErrNoRoute = errors.New("no route found")

// RouteService handles interactions with the Google Maps Directions API.
// It implements route.Provider.
type RouteService struct {
	client *maps.Client
	region string
}

// NewRouteService creates a new RouteService with the given API Key.
func NewRouteService(apiKey, region string) (*RouteService, error) {
	client, err := maps.NewClient(maps.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create maps client: %w", err)
	}
	return &RouteService{client: client, region: region}, nil
}

// GetRoute returns the driving route between two coordinates. Standard mode
// asks for a traffic-aware route avoiding tolls; relaxed mode drops both.
func (s *RouteService) GetRoute(ctx context.Context, origin, destination types.Point, mode route.Mode) (route.Info, error) {
	r := &maps.DirectionsRequest{
		Origin:      latLng(origin),
		Destination: latLng(destination),
		Mode:        maps.TravelModeDriving,
		Region:      s.region,
	}
	if mode == route.ModeStandard {
		r.DepartureTime = "now"
		r.Avoid = []maps.Avoid{maps.AvoidTolls}
	}

	routes, _, err := s.client.Directions(ctx, r)
	if err != nil {
		return route.Info{}, fmt.Errorf("maps api error: %w", err)
	}
	if len(routes) == 0 || len(routes[0].Legs) == 0 {
		return route.Info{}, ErrNoRoute
	}

	best := routes[0]
	path, err := best.OverviewPolyline.Decode()
	if err != nil {
		return route.Info{}, fmt.Errorf("decode polyline: %w", err)
	}

	info := route.Info{Kind: route.KindRouted}
	for _, ll := range path {
		info.Waypoints = append(info.Waypoints, types.Point{Lat: ll.Lat, Lng: ll.Lng})
	}
	for _, leg := range best.Legs {
		info.DistanceMeters += float64(leg.Distance.Meters)
		info.Duration += legDuration(leg)
	}
	return info, nil
}

func legDuration(leg *maps.Leg) time.Duration {
	if leg.DurationInTraffic > 0 {
		return leg.DurationInTraffic
	}
	return leg.Duration
}

func latLng(p types.Point) string {
	return fmt.Sprintf("%f,%f", p.Lat, p.Lng)
}
