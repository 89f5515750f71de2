// Package geo contains pure geographic computation helpers: great-circle
// distance, point-in-polygon and polygon area over WGS84 rings.
package geo

import (
	"math"

	"rider/internal/types"
)

const earthRadiusMeters = 6371000.0

// edgeTolerance is the slack, in degrees, used when deciding whether a point
// lies on a polygon edge.
const edgeTolerance = 1e-9

// HaversineMeters returns the great-circle distance in metres between two
// points specified in decimal degrees.
func HaversineMeters(a, b types.Point) float64 {
	dLat := degreesToRadians(b.Lat - a.Lat)
	dLng := degreesToRadians(b.Lng - a.Lng)

	rLat1 := degreesToRadians(a.Lat)
	rLat2 := degreesToRadians(b.Lat)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(rLat1)*math.Cos(rLat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))

	return earthRadiusMeters * c
}

func degreesToRadians(deg float64) float64 {
	return deg * math.Pi / 180.0
}

// PointInPolygon reports whether p lies inside ring. Points on an edge count
// as inside. The ring may or may not repeat its first vertex at the end.
func PointInPolygon(p types.Point, ring []types.Point) bool {
	n := len(ring)
	if n < 3 {
		return false
	}

	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		if onSegment(p, ring[j], ring[i]) {
			return true
		}
	}

	inside := false
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		yi, yj := ring[i].Lat, ring[j].Lat
		xi, xj := ring[i].Lng, ring[j].Lng
		if (yi > p.Lat) != (yj > p.Lat) &&
			p.Lng < (xj-xi)*(p.Lat-yi)/(yj-yi)+xi {
			inside = !inside
		}
	}
	return inside
}

// onSegment reports whether p lies on the segment a-b within edgeTolerance.
func onSegment(p, a, b types.Point) bool {
	cross := (b.Lng-a.Lng)*(p.Lat-a.Lat) - (b.Lat-a.Lat)*(p.Lng-a.Lng)
	if math.Abs(cross) > edgeTolerance {
		return false
	}
	return p.Lng >= math.Min(a.Lng, b.Lng)-edgeTolerance &&
		p.Lng <= math.Max(a.Lng, b.Lng)+edgeTolerance &&
		p.Lat >= math.Min(a.Lat, b.Lat)-edgeTolerance &&
		p.Lat <= math.Max(a.Lat, b.Lat)+edgeTolerance
}

// PolygonArea returns the unsigned Shoelace area of ring in squared degrees.
// The unit is only meaningful for comparing rings against each other.
func PolygonArea(ring []types.Point) float64 {
	n := len(ring)
	if n < 3 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		j := (i + 1) % n
		sum += ring[i].Lng*ring[j].Lat - ring[j].Lng*ring[i].Lat
	}
	return math.Abs(sum) / 2
}

// MinDistanceToWaypoints returns the smallest haversine distance from p to any
// point of path, or +Inf when path is empty.
func MinDistanceToWaypoints(p types.Point, path []types.Point) float64 {
	best := math.Inf(1)
	for _, w := range path {
		if d := HaversineMeters(p, w); d < best {
			best = d
		}
	}
	return best
}

// SortByDistance performs an insertion sort (fine for small N) on any slice
// where each element exposes a distance via the accessor function.
func SortByDistance[T any](items []T, dist func(T) float64) {
	for i := 1; i < len(items); i++ {
		key := items[i]
		j := i - 1
		for j >= 0 && dist(items[j]) > dist(key) {
			items[j+1] = items[j]
			j--
		}
		items[j+1] = key
	}
}
