// README: Route tracker computes one route per leg and recalculates only on deviation.
package route

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"rider/internal/geo"
	"rider/internal/observability"
	"rider/internal/types"
)

// Tracker owns the current route of one trip leg. Provider calls are
// metered, so a leg gets one call plus rare deviation-triggered
// recalculations.
type Tracker struct {
	provider Provider
	cfg      Config
	log      *logrus.Entry
	now      func() time.Time

	// calcMu serialises provider calls so concurrent callers for the same
	// leg share one result.
	calcMu sync.Mutex

	mu          sync.Mutex
	state       State
	legOrigin   types.Point
	destination types.Point
	current     Info
	position    types.Point
	hasPosition bool
	lastRecalc  time.Time

	stopFollow context.CancelFunc
	followDone chan struct{}
}

func NewTracker(provider Provider, cfg Config, log *logrus.Entry) *Tracker {
	def := DefaultConfig()
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = def.CheckInterval
	}
	if cfg.DeviationMeters <= 0 {
		cfg.DeviationMeters = def.DeviationMeters
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = def.Cooldown
	}
	if cfg.FallbackSpeedMps <= 0 {
		cfg.FallbackSpeedMps = def.FallbackSpeedMps
	}
	return &Tracker{provider: provider, cfg: cfg, log: log, now: time.Now, state: StateNone}
}

// WithClock replaces the time source. Intended for tests.
func (t *Tracker) WithClock(now func() time.Time) *Tracker {
	t.now = now
	return t
}

// CalculateOnce returns the route for the leg origin->destination, calling
// the provider only if no route exists for this exact leg. A different leg
// replaces the stored route. The only error is ctx cancellation.
func (t *Tracker) CalculateOnce(ctx context.Context, origin, destination types.Point) (Info, error) {
	t.calcMu.Lock()
	defer t.calcMu.Unlock()

	t.mu.Lock()
	if t.state == StateRouted && t.legOrigin == origin && t.destination == destination {
		info := t.current
		t.mu.Unlock()
		return info, nil
	}
	t.mu.Unlock()

	info, err := t.compute(ctx, origin, destination)
	if err != nil {
		return Info{}, err
	}

	t.mu.Lock()
	t.state = StateRouted
	t.legOrigin = origin
	t.destination = destination
	t.current = info
	t.lastRecalc = time.Time{}
	t.mu.Unlock()
	return info, nil
}

// UpdatePosition records the latest tracked position.
func (t *Tracker) UpdatePosition(p types.Point) {
	t.mu.Lock()
	t.position = p
	t.hasPosition = true
	t.mu.Unlock()
}

// Current returns the stored route, if any.
func (t *Tracker) Current() (Info, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current, t.state == StateRouted
}

func (t *Tracker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// StartFollowing checks the tracked position against the stored route every
// CheckInterval and calls onDeviation with each recalculated route. It
// replaces any running follower. onDeviation must not call StopFollowing or
// Clear.
func (t *Tracker) StartFollowing(ctx context.Context, onDeviation func(Info)) {
	t.StopFollowing()

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	t.mu.Lock()
	t.stopFollow = cancel
	t.followDone = done
	t.mu.Unlock()

	go func() {
		defer close(done)
		ticker := time.NewTicker(t.cfg.CheckInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if info, ok := t.checkDeviation(ctx); ok && onDeviation != nil {
					onDeviation(info)
				}
			}
		}
	}()
}

// StopFollowing cancels the periodic check and waits for it to exit.
func (t *Tracker) StopFollowing() {
	t.mu.Lock()
	cancel, done := t.stopFollow, t.followDone
	t.stopFollow, t.followDone = nil, nil
	t.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

// Clear stops following and discards the route.
func (t *Tracker) Clear() {
	t.StopFollowing()

	t.mu.Lock()
	t.state = StateNone
	t.current = Info{}
	t.legOrigin, t.destination = types.Point{}, types.Point{}
	t.hasPosition = false
	t.lastRecalc = time.Time{}
	t.mu.Unlock()
}

// checkDeviation recalculates from the tracked position when it is farther
// than DeviationMeters from every waypoint and the cooldown has passed.
func (t *Tracker) checkDeviation(ctx context.Context) (Info, bool) {
	t.mu.Lock()
	if t.state != StateRouted || !t.hasPosition {
		t.mu.Unlock()
		return Info{}, false
	}
	pos := t.position
	if geo.MinDistanceToWaypoints(pos, t.current.Waypoints) <= t.cfg.DeviationMeters {
		t.mu.Unlock()
		return Info{}, false
	}
	now := t.now()
	if !t.lastRecalc.IsZero() && now.Sub(t.lastRecalc) < t.cfg.Cooldown {
		t.mu.Unlock()
		return Info{}, false
	}
	t.lastRecalc = now
	legOrigin, dest := t.legOrigin, t.destination
	t.mu.Unlock()

	t.calcMu.Lock()
	info, err := t.compute(ctx, pos, dest)
	t.calcMu.Unlock()
	if err != nil {
		return Info{}, false
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != StateRouted || t.legOrigin != legOrigin || t.destination != dest {
		// leg changed while the provider was answering
		return Info{}, false
	}
	t.current = info
	observability.RouteRecalculationsTotal.Inc()
	t.log.WithFields(logrus.Fields{
		"lat": pos.Lat, "lng": pos.Lng, "kind": info.Kind,
	}).Info("route recalculated after deviation")
	return info, true
}

// compute asks the provider in standard then relaxed mode and falls back to
// a straight line, so callers always get a route.
func (t *Tracker) compute(ctx context.Context, origin, destination types.Point) (Info, error) {
	for _, mode := range []Mode{ModeStandard, ModeRelaxed} {
		info, err := t.provider.GetRoute(ctx, origin, destination, mode)
		if err == nil && len(info.Waypoints) >= 2 {
			observability.RoutingCallsTotal.WithLabelValues(string(mode), "ok").Inc()
			info.Kind = KindRouted
			return info, nil
		}
		observability.RoutingCallsTotal.WithLabelValues(string(mode), "error").Inc()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Info{}, ctxErr
		}
		t.log.WithError(err).WithField("mode", mode).Warn("routing provider failed")
	}

	observability.RouteFallbacksTotal.Inc()
	return t.direct(origin, destination), nil
}

func (t *Tracker) direct(origin, destination types.Point) Info {
	d := geo.HaversineMeters(origin, destination)
	return Info{
		Waypoints:      []types.Point{origin, destination},
		DistanceMeters: d,
		Duration:       time.Duration(d / t.cfg.FallbackSpeedMps * float64(time.Second)),
		Kind:           KindDirect,
	}
}
