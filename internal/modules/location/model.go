// README: Driver positions streamed from the realtime database.
package location

import (
	"time"

	"rider/internal/types"
)

const (
	DriverOnline  = "online"
	DriverOffline = "offline"
	DriverBusy    = "busy"
)

// DriverLocation is a driver's last reported position. Never persisted here.
type DriverLocation struct {
	DriverID    types.ID    `json:"driver_id"`
	Position    types.Point `json:"position"`
	Status      string      `json:"status"`
	VehicleType string      `json:"vehicle_type,omitempty"`
	UpdatedAt   time.Time   `json:"updated_at"`
	// Distance is meters from the queried origin, zero for direct lookups.
	Distance float64 `json:"distance,omitempty"`
}

// BookingNotice is the payload pushed to a driver about a new booking.
type BookingNotice struct {
	BookingID   types.ID
	Pickup      types.Point
	Destination types.Point
	Address     string
	Fare        int64
	Currency    string
}
