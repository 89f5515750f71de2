package trip

import (
	"context"
	"math"
	"time"

	"rider/internal/geo"
	"rider/internal/modules/location"
	"rider/internal/modules/order"
	"rider/internal/modules/route"
	"rider/internal/observability"
	"rider/internal/types"
)

// TrackDriver follows a driver's live position. Tracking the same driver
// again is a no-op; a different driver replaces the subscription.
func (c *Controller) TrackDriver(driverID types.ID) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.ctx == nil {
		c.mu.Unlock()
		return ErrNotStarted
	}
	if c.driverSub != nil && c.driverSub.key == driverID {
		c.mu.Unlock()
		return nil
	}
	if c.driverSub != nil {
		c.driverSub.cancel()
	}
	ctx, cancel := context.WithCancel(c.ctx)
	sub := &subscription{key: driverID, cancel: cancel}
	c.driverSub = sub
	c.lastDriverSeen = c.now()
	c.mu.Unlock()

	c.throttle.reset()
	c.proximity.reset()

	c.spawn(func() {
		defer cancel()
		err := c.deps.Drivers.WatchDriver(ctx, driverID, func(loc location.DriverLocation) {
			c.onDriverLocation(ctx, sub, loc)
		})
		if err != nil {
			c.log.WithError(err).WithField("driver_id", driverID).Warn("driver listener stopped")
		}
	})
	return nil
}

// onDriverLocation forwards a position when it passes the throttle and then
// refreshes the ETA, proximity alerts and the route leg.
func (c *Controller) onDriverLocation(ctx context.Context, sub *subscription, loc location.DriverLocation) {
	if ctx.Err() != nil {
		return
	}
	now := c.now()
	c.mu.Lock()
	if c.driverSub != sub {
		c.mu.Unlock()
		return
	}
	c.lastDriverSeen = now
	currentLeg := c.currentLeg
	c.mu.Unlock()

	if !c.throttle.allow(loc.Position, now) {
		return
	}
	observability.DriverUpdatesForwardedTotal.Inc()
	c.tracker.UpdatePosition(loc.Position)

	b := c.Snapshot().Booking
	if b == nil {
		return
	}
	eta := c.ComputeRemainingEta(loc.Position)

	var alert *Alert
	if enRouteToPickup(b.Status) {
		dist := geo.HaversineMeters(loc.Position, b.Pickup.Location)
		if level := c.proximity.observe(dist, now); level != AlertNone {
			observability.ProximityAlertsTotal.WithLabelValues(string(level)).Inc()
			alert = &Alert{Level: level, DistanceMeters: dist, At: now}
		}
	}

	driver := loc
	c.update(func(s *State) {
		if s.Booking == nil {
			return
		}
		s.Driver = &driver
		s.EtaMinutes = eta
		if alert != nil {
			s.Alert = alert
		}
	})

	if currentLeg == legNone && enRouteToPickup(b.Status) {
		if sessionCtx, err := c.sessionContext(); err == nil {
			c.startLeg(sessionCtx, legToPickup, loc.Position, b.Pickup.Location)
		}
	}
}

func enRouteToPickup(s order.Status) bool {
	return s == order.StatusAccepted || s == order.StatusDriverArriving
}

// startLeg computes the route for a new leg once and follows it for
// deviations. Calls for the leg already being followed do nothing.
func (c *Controller) startLeg(ctx context.Context, l leg, origin, destination types.Point) {
	c.mu.Lock()
	if c.currentLeg == l {
		c.mu.Unlock()
		return
	}
	prev := c.currentLeg
	c.currentLeg = l
	c.mu.Unlock()

	if prev != legNone {
		c.tracker.Clear()
	}
	info, err := c.tracker.CalculateOnce(ctx, origin, destination)
	if err != nil {
		c.log.WithError(err).Debug("route calculation abandoned")
		return
	}

	c.mu.Lock()
	stillCurrent := c.currentLeg == l
	c.mu.Unlock()
	if !stillCurrent {
		return
	}
	if !c.publishRoute(info) {
		c.mu.Lock()
		if c.currentLeg == l {
			c.currentLeg = legNone
		}
		c.mu.Unlock()
		return
	}
	c.tracker.StartFollowing(ctx, func(info route.Info) { c.publishRoute(info) })

	// the booking was cleared while following started
	c.mu.Lock()
	cleared := c.currentLeg == legNone
	c.mu.Unlock()
	if cleared {
		c.tracker.StopFollowing()
	}
}

// publishRoute stores info unless the booking has been cleared.
func (c *Controller) publishRoute(info route.Info) bool {
	published := false
	c.update(func(s *State) {
		if s.Booking == nil {
			return
		}
		s.Route = &info
		published = true
	})
	return published
}

// ComputeRemainingEta returns minutes from driverPos to the pickup, or to the
// destination once the trip is in progress. Never below one; zero without a
// booking.
func (c *Controller) ComputeRemainingEta(driverPos types.Point) int {
	b := c.Snapshot().Booking
	if b == nil {
		return 0
	}
	target := b.Pickup.Location
	if b.Status == order.StatusInProgress {
		target = b.Destination.Location
	}
	return etaMinutes(geo.HaversineMeters(driverPos, target), c.cfg.DetourFactor, c.cfg.AvgSpeedKmh)
}

func etaMinutes(meters, detourFactor, speedKmh float64) int {
	minutes := int(math.Round(meters * detourFactor / 1000 / speedKmh * 60))
	if minutes < 1 {
		return 1
	}
	return minutes
}

func (c *Controller) runWatchdog(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.WatchdogInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.checkStaleDriver(ctx)
		}
	}
}

// checkStaleDriver refreshes the online driver list when the tracked driver
// has been silent for DriverStaleAfter.
func (c *Controller) checkStaleDriver(ctx context.Context) bool {
	now := c.now()
	c.mu.Lock()
	if c.driverSub == nil || now.Sub(c.lastDriverSeen) < c.cfg.DriverStaleAfter {
		c.mu.Unlock()
		return false
	}
	driverID := c.driverSub.key
	c.lastDriverSeen = now
	c.mu.Unlock()

	s := c.Snapshot()
	var center types.Point
	switch {
	case s.Driver != nil:
		center = s.Driver.Position
	case s.Booking != nil:
		center = s.Booking.Pickup.Location
	default:
		return false
	}
	c.log.WithField("driver_id", driverID).Warn("driver location stale, refreshing nearby drivers")
	c.RefreshNearbyDrivers(ctx, center)
	return true
}
