// README: Passenger session snapshot, requests and tuning knobs.
package trip

import (
	"time"

	"rider/internal/modules/location"
	"rider/internal/modules/order"
	"rider/internal/modules/pricing"
	"rider/internal/modules/route"
	"rider/internal/types"
)

// AlertLevel is a proximity alert strength.
type AlertLevel string

const (
	AlertNone     AlertLevel = ""
	AlertNear     AlertLevel = "near"
	AlertVeryNear AlertLevel = "very_near"
)

type Alert struct {
	Level          AlertLevel `json:"level"`
	DistanceMeters float64    `json:"distance_meters"`
	At             time.Time  `json:"at"`
}

// NoticeKind is a one-off dialog the client should show until dismissed.
type NoticeKind string

const (
	NoticeNoDrivers       NoticeKind = "no_drivers"
	NoticeDriverCancelled NoticeKind = "driver_cancelled"
	NoticeRatePrompt      NoticeKind = "rate_trip"
)

type Notice struct {
	Kind      NoticeKind `json:"kind"`
	BookingID types.ID   `json:"booking_id"`
	Message   string     `json:"message"`
}

// State is an immutable snapshot of one passenger session. Writers publish a
// new State; nothing mutates a published one.
type State struct {
	Version         uint64                    `json:"version"`
	UpdatedAt       time.Time                 `json:"updated_at"`
	PassengerID     types.ID                  `json:"passenger_id"`
	DiscountPercent int                       `json:"discount_percent"`
	Blocked         bool                      `json:"blocked"`
	Booking         *order.Booking            `json:"booking,omitempty"`
	Driver          *location.DriverLocation  `json:"driver,omitempty"`
	Route           *route.Info               `json:"route,omitempty"`
	EtaMinutes      int                       `json:"eta_minutes,omitempty"`
	Alert           *Alert                    `json:"alert,omitempty"`
	Notice          *Notice                   `json:"notice,omitempty"`
	NearbyDrivers   []location.DriverLocation `json:"nearby_drivers,omitempty"`
	History         []order.Booking           `json:"history,omitempty"`
}

type BookingRequest struct {
	Pickup order.Place
	// Destination.Address may carry a display suffix such as "City Hall - ₱50".
	Destination order.Place
	Comment     string
	Companions  []CompanionRequest
}

type CompanionRequest struct {
	Type pricing.CompanionType
	Name string
}

type Config struct {
	DriverMinMoveMeters float64
	DriverMinInterval   time.Duration
	DriverStaleAfter    time.Duration
	WatchdogInterval    time.Duration

	NearMeters     float64
	VeryNearMeters float64
	AlertCooldown  time.Duration

	CancelGrace time.Duration

	// DetourFactor inflates straight-line distance for ETA.
	DetourFactor float64
	AvgSpeedKmh  float64

	HistoryLimit       int
	NearbyRadiusMeters float64
	Currency           string
	CurrencySymbol     string

	// SessionIdleTimeout is how long an idle session lives after its last use.
	SessionIdleTimeout  time.Duration
	SessionReapInterval time.Duration

	Route route.Config
}

func DefaultConfig() Config {
	return Config{
		DriverMinMoveMeters: 10,
		DriverMinInterval:   time.Second,
		DriverStaleAfter:    30 * time.Second,
		WatchdogInterval:    5 * time.Second,
		NearMeters:          500,
		VeryNearMeters:      150,
		AlertCooldown:       10 * time.Second,
		CancelGrace:         60 * time.Second,
		DetourFactor:        1.4,
		AvgSpeedKmh:         20,
		HistoryLimit:        20,
		NearbyRadiusMeters:  3000,
		Currency:            "PHP",
		CurrencySymbol:      "₱",
		SessionIdleTimeout:  30 * time.Minute,
		SessionReapInterval: time.Minute,
		Route:               route.DefaultConfig(),
	}
}

// withDefaults fills zero fields from DefaultConfig.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.DriverMinMoveMeters <= 0 {
		c.DriverMinMoveMeters = d.DriverMinMoveMeters
	}
	if c.DriverMinInterval <= 0 {
		c.DriverMinInterval = d.DriverMinInterval
	}
	if c.DriverStaleAfter <= 0 {
		c.DriverStaleAfter = d.DriverStaleAfter
	}
	if c.WatchdogInterval <= 0 {
		c.WatchdogInterval = d.WatchdogInterval
	}
	if c.NearMeters <= 0 {
		c.NearMeters = d.NearMeters
	}
	if c.VeryNearMeters <= 0 {
		c.VeryNearMeters = d.VeryNearMeters
	}
	if c.AlertCooldown <= 0 {
		c.AlertCooldown = d.AlertCooldown
	}
	if c.CancelGrace <= 0 {
		c.CancelGrace = d.CancelGrace
	}
	if c.DetourFactor <= 0 {
		c.DetourFactor = d.DetourFactor
	}
	if c.AvgSpeedKmh <= 0 {
		c.AvgSpeedKmh = d.AvgSpeedKmh
	}
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = d.HistoryLimit
	}
	if c.NearbyRadiusMeters <= 0 {
		c.NearbyRadiusMeters = d.NearbyRadiusMeters
	}
	if c.Currency == "" {
		c.Currency = d.Currency
	}
	if c.CurrencySymbol == "" {
		c.CurrencySymbol = d.CurrencySymbol
	}
	if c.SessionIdleTimeout <= 0 {
		c.SessionIdleTimeout = d.SessionIdleTimeout
	}
	if c.SessionReapInterval <= 0 {
		c.SessionReapInterval = d.SessionReapInterval
	}
	return c
}
