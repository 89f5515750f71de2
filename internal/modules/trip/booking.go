package trip

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/sirupsen/logrus"

	"rider/internal/geo"
	"rider/internal/modules/matching"
	"rider/internal/modules/order"
	"rider/internal/modules/pricing"
	"rider/internal/observability"
	"rider/internal/types"
)

// RequestBooking validates the passenger and both endpoints, prices the trip,
// persists the booking, starts monitoring it and dispatches it to drivers in
// the background.
func (c *Controller) RequestBooking(ctx context.Context, req BookingRequest) (*order.Booking, error) {
	sessionCtx, err := c.sessionContext()
	if err != nil {
		return nil, err
	}

	profile, err := c.deps.Profiles.Get(ctx, c.passengerID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrProfileUnavailable, err)
	}
	c.applyProfile(profile)
	if err := profile.CanBook(); err != nil {
		return nil, err
	}

	if err := c.ensureNoActiveBooking(ctx); err != nil {
		return nil, err
	}
	companions, err := validateCompanions(req.Companions)
	if err != nil {
		return nil, err
	}

	for _, ep := range []struct {
		name string
		p    types.Point
	}{{"pickup", req.Pickup.Location}, {"destination", req.Destination.Location}} {
		ok, err := c.deps.ServiceArea.WithinServiceArea(ctx, ep.p)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrServiceAreaUnknown, err)
		}
		if !ok {
			return nil, &OutOfAreaError{Endpoint: ep.name}
		}
	}

	quote, err := c.deps.Fares.ResolveFare(ctx, req.Pickup.Location, req.Destination.Address, req.Destination.Location)
	if err != nil {
		return nil, err
	}
	split := pricing.SplitFare(quote.Amount, float64(profile.DiscountPercent), companions, c.cfg.CurrencySymbol)

	cmd := order.CreateCommand{
		PassengerID: c.passengerID,
		Pickup:      req.Pickup,
		Destination: order.Place{
			Address:  pricing.CanonicalDestination(req.Destination.Address),
			Location: req.Destination.Location,
		},
		Fare:    c.estimate(req.Pickup.Location, req.Destination.Location, quote, split),
		Comment: req.Comment,
	}
	for i, comp := range req.Companions {
		cmd.Companions = append(cmd.Companions, order.Companion{
			Type: comp.Type,
			Name: comp.Name,
			Fare: split.Shares[i+1].Amount,
		})
	}

	b, err := c.deps.Bookings.Create(ctx, cmd)
	if err != nil {
		if errors.Is(err, order.ErrActiveBooking) || errors.Is(err, order.ErrBadRequest) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrBookingFailed, err)
	}
	observability.BookingsCreatedTotal.Inc()
	c.log.WithFields(logrus.Fields{
		"booking_id": b.ID,
		"zone":       quote.PickupZone,
		"source":     quote.Source,
		"total":      b.Fare.Total,
	}).Info("booking requested")

	c.update(func(s *State) {
		s.Booking = b
		s.Notice = nil
		s.Alert = nil
	})
	if err := c.MonitorBooking(b.ID); err != nil && !errors.Is(err, ErrAlreadyMonitoring) {
		c.log.WithError(err).WithField("booking_id", b.ID).Warn("booking monitor not started")
	}
	c.spawn(func() { c.dispatch(sessionCtx, b) })
	return b, nil
}

// ensureNoActiveBooking checks the session first and then the backend, which
// itself re-checks its index against the booking record.
func (c *Controller) ensureNoActiveBooking(ctx context.Context) error {
	if cur := c.Snapshot().Booking; cur != nil && !cur.Status.IsTerminal() {
		return ErrActiveBooking
	}
	_, err := c.deps.Bookings.ActiveByPassenger(ctx, c.passengerID)
	switch {
	case err == nil:
		return ErrActiveBooking
	case errors.Is(err, order.ErrNotFound):
		return nil
	default:
		return fmt.Errorf("%w: %w", ErrBookingFailed, err)
	}
}

func (c *Controller) dispatch(ctx context.Context, b *order.Booking) {
	res, err := c.deps.Dispatcher.Dispatch(ctx, b)
	switch {
	case errors.Is(err, matching.ErrNoDrivers):
		c.log.WithField("booking_id", b.ID).Info("no drivers nearby at dispatch")
	case err != nil:
		c.log.WithError(err).WithField("booking_id", b.ID).Warn("dispatch failed")
	case res.Skipped:
		c.log.WithFields(logrus.Fields{"booking_id": b.ID, "dispatched_at": res.DispatchedAt}).Debug("booking already dispatched")
	default:
		c.log.WithFields(logrus.Fields{"booking_id": b.ID, "notified": len(res.Notified)}).Debug("dispatch done")
	}
	c.RefreshNearbyDrivers(ctx, b.Pickup.Location)
}

// estimate fills the stored fare with the split and a straight-line trip
// estimate. No routing call is spent before a driver accepts.
func (c *Controller) estimate(pickup, destination types.Point, quote pricing.Quote, split pricing.Split) order.FareEstimate {
	meters := geo.HaversineMeters(pickup, destination) * c.cfg.DetourFactor
	seconds := meters / (c.cfg.AvgSpeedKmh / 3.6)
	return order.FareEstimate{
		Base:            int64(math.Floor(quote.Amount)),
		Total:           split.Total,
		Currency:        c.cfg.Currency,
		DistanceMeters:  meters,
		DurationSeconds: int64(seconds),
		Breakdown:       split.Breakdown(),
	}
}

func validateCompanions(reqs []CompanionRequest) ([]pricing.CompanionType, error) {
	out := make([]pricing.CompanionType, 0, len(reqs))
	for _, r := range reqs {
		if _, ok := pricing.CompanionDiscounts[r.Type]; !ok {
			return nil, fmt.Errorf("%w: %q", ErrInvalidCompanion, r.Type)
		}
		out = append(out, r.Type)
	}
	return out, nil
}
