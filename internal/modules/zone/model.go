// README: Fare zones and service boundaries (admin-defined polygons).
package zone

import "rider/internal/types"

// Zone is a named polygon used for fare lookup.
type Zone struct {
	Name        string
	Points      []types.Point
	FillColor   string
	StrokeColor string
	Active      bool
}

// Boundary is an operational area; bookings are only allowed inside one.
type Boundary struct {
	Name   string
	Points []types.Point
	Active bool
}
