// README: Matching dispatch configuration and results.
package matching

import (
	"time"

	"rider/internal/types"
)

type Config struct {
	// MaxCandidates caps how many drivers are notified about one booking.
	MaxCandidates int
	// PoolSize is how many of the nearest drivers are sampled before picking MaxCandidates.
	PoolSize     int
	RadiusMeters float64
}

func DefaultConfig() Config {
	return Config{MaxCandidates: 5, PoolSize: 10, RadiusMeters: 3000}
}

type Result struct {
	BookingID    types.ID
	DispatchedAt time.Time
	Nearby       int
	Notified     []types.ID
	// Skipped is true when the booking had already been dispatched.
	Skipped bool
}
