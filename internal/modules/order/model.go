// README: Booking aggregate and status definitions.
package order

import (
	"time"

	"rider/internal/modules/pricing"
	"rider/internal/types"
)

type Status string

const (
	StatusPending          Status = "PENDING"
	StatusLookingForDriver Status = "LOOKING_FOR_DRIVER"
	StatusAccepted         Status = "ACCEPTED"
	StatusDriverArriving   Status = "DRIVER_ARRIVING"
	StatusDriverArrived    Status = "DRIVER_ARRIVED"
	StatusInProgress       Status = "IN_PROGRESS"
	StatusCompleted        Status = "COMPLETED"
	StatusCancelled        Status = "CANCELLED"
	StatusExpired          Status = "EXPIRED"
)

// statusRank orders the forward flow. Terminal statuses are handled separately.
var statusRank = map[Status]int{
	StatusPending:          0,
	StatusLookingForDriver: 1,
	StatusAccepted:         2,
	StatusDriverArriving:   3,
	StatusDriverArrived:    4,
	StatusInProgress:       5,
	StatusCompleted:        6,
}

func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusExpired
}

// IsAcceptedOrLater reports whether a driver had accepted the booking.
// A cancelled or expired status carries no acceptance information.
func (s Status) IsAcceptedOrLater() bool {
	r, ok := statusRank[s]
	return ok && r >= statusRank[StatusAccepted]
}

func (s Status) Valid() bool {
	_, ok := statusRank[s]
	return ok || s == StatusCancelled || s == StatusExpired
}

// CanTransition allows forward moves (skipping is fine, events can be missed)
// and cancel/expire from any non-terminal status. Nothing leaves a terminal
// status.
func CanTransition(from, to Status) bool {
	if !from.Valid() || !to.Valid() || from.IsTerminal() {
		return false
	}
	if to == StatusCancelled || to == StatusExpired {
		return true
	}
	return statusRank[to] > statusRank[from]
}

type CancelledBy string

const (
	CancelledByPassenger CancelledBy = "passenger"
	CancelledByDriver    CancelledBy = "driver"
	CancelledBySystem    CancelledBy = "system"
)

type Place struct {
	Address  string      `firestore:"address" json:"address"`
	Location types.Point `firestore:"location" json:"location"`
}

type FareEstimate struct {
	Base            int64   `firestore:"base" json:"base"`
	Total           int64   `firestore:"total" json:"total"`
	Currency        string  `firestore:"currency" json:"currency"`
	DistanceMeters  float64 `firestore:"distanceMeters" json:"distance_meters"`
	DurationSeconds int64   `firestore:"durationSeconds" json:"duration_seconds"`
	Breakdown       string  `firestore:"breakdown" json:"breakdown"`
}

type Companion struct {
	Type pricing.CompanionType `firestore:"type" json:"type"`
	Name string                `firestore:"name,omitempty" json:"name,omitempty"`
	Fare int64                 `firestore:"fare" json:"fare"`
}

type Cancellation struct {
	By     CancelledBy `firestore:"by" json:"by"`
	Reason string      `firestore:"reason" json:"reason"`
	At     time.Time   `firestore:"at" json:"at"`
}

type Booking struct {
	ID           types.ID      `firestore:"-" json:"id"`
	PassengerID  types.ID      `firestore:"passengerId" json:"passenger_id"`
	DriverID     *types.ID     `firestore:"driverId,omitempty" json:"driver_id,omitempty"`
	Pickup       Place         `firestore:"pickup" json:"pickup"`
	Destination  Place         `firestore:"destination" json:"destination"`
	Fare         FareEstimate  `firestore:"fare" json:"fare"`
	Status       Status        `firestore:"status" json:"status"`
	Companions   []Companion   `firestore:"companions,omitempty" json:"companions,omitempty"`
	Comment      string        `firestore:"comment,omitempty" json:"comment,omitempty"`
	RequestedAt  time.Time     `firestore:"requestedAt" json:"requested_at"`
	CompletedAt  *time.Time    `firestore:"completedAt,omitempty" json:"completed_at,omitempty"`
	Cancellation *Cancellation `firestore:"cancellation,omitempty" json:"cancellation,omitempty"`
}

// CancelledByDriver reports whether the driver, not the passenger, ended the booking.
func (b *Booking) CancelledByDriver() bool {
	return b.Status == StatusCancelled && b.Cancellation != nil && b.Cancellation.By == CancelledByDriver
}
