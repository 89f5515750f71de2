// README: Route geometry produced by the tracker and its provider contract.
package route

import (
	"context"
	"time"

	"rider/internal/types"
)

// Kind distinguishes provider geometry from the straight-line fallback.
type Kind string

const (
	KindRouted Kind = "routed"
	KindDirect Kind = "direct"
)

type Info struct {
	Waypoints      []types.Point `json:"waypoints"`
	DistanceMeters float64       `json:"distance_meters"`
	Duration       time.Duration `json:"duration"`
	Kind           Kind          `json:"kind"`
}

// Mode selects how strict a provider request is.
type Mode string

const (
	ModeStandard Mode = "standard"
	// ModeRelaxed drops optional constraints so the provider is more likely to answer.
	ModeRelaxed Mode = "relaxed"
)

// Provider is a metered routing backend.
type Provider interface {
	GetRoute(ctx context.Context, origin, destination types.Point, mode Mode) (Info, error)
}

type State string

const (
	StateNone   State = "none"
	StateRouted State = "routed"
)

type Config struct {
	CheckInterval   time.Duration
	DeviationMeters float64
	Cooldown        time.Duration
	// FallbackSpeedMps is used to estimate the duration of a direct route.
	FallbackSpeedMps float64
}

func DefaultConfig() Config {
	return Config{
		CheckInterval:    5 * time.Second,
		DeviationMeters:  50,
		Cooldown:         30 * time.Second,
		FallbackSpeedMps: 20.0 / 3.6,
	}
}
