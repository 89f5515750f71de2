package trip

import (
	"sync"
	"time"

	"rider/internal/geo"
	"rider/internal/types"
)

// proximityTracker fires each alert level once per approach. Moving back
// beyond the near threshold re-arms both levels; no alert fires within the
// cooldown of the previous one.
type proximityTracker struct {
	mu            sync.Mutex
	near          float64
	veryNear      float64
	cooldown      time.Duration
	nearFired     bool
	veryNearFired bool
	lastAlert     time.Time
}

func newProximityTracker(near, veryNear float64, cooldown time.Duration) *proximityTracker {
	return &proximityTracker{near: near, veryNear: veryNear, cooldown: cooldown}
}

func (p *proximityTracker) observe(distance float64, now time.Time) AlertLevel {
	p.mu.Lock()
	defer p.mu.Unlock()

	if distance > p.near {
		p.nearFired, p.veryNearFired = false, false
		return AlertNone
	}
	if !p.lastAlert.IsZero() && now.Sub(p.lastAlert) < p.cooldown {
		return AlertNone
	}
	if distance <= p.veryNear && !p.veryNearFired {
		// the stronger alert covers the weaker one
		p.veryNearFired, p.nearFired = true, true
		p.lastAlert = now
		return AlertVeryNear
	}
	if !p.nearFired {
		p.nearFired = true
		p.lastAlert = now
		return AlertNear
	}
	return AlertNone
}

func (p *proximityTracker) reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nearFired, p.veryNearFired = false, false
	p.lastAlert = time.Time{}
}

// driverThrottle passes a position when the driver moved at least minMove
// meters or minInterval elapsed since the last passed one.
type driverThrottle struct {
	mu          sync.Mutex
	minMove     float64
	minInterval time.Duration
	last        types.Point
	lastAt      time.Time
	has         bool
}

func newDriverThrottle(minMove float64, minInterval time.Duration) *driverThrottle {
	return &driverThrottle{minMove: minMove, minInterval: minInterval}
}

func (t *driverThrottle) allow(p types.Point, now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.has && geo.HaversineMeters(t.last, p) < t.minMove && now.Sub(t.lastAt) < t.minInterval {
		return false
	}
	t.last, t.lastAt, t.has = p, now, true
	return true
}

func (t *driverThrottle) reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.has = false
}
