package trip

import (
	"context"

	"github.com/sirupsen/logrus"

	"rider/internal/modules/order"
	"rider/internal/types"
)

// MonitorBooking follows status changes of one booking. Monitoring the same
// id twice returns ErrAlreadyMonitoring; a different id replaces the
// previous subscription.
func (c *Controller) MonitorBooking(id types.ID) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.ctx == nil {
		c.mu.Unlock()
		return ErrNotStarted
	}
	if c.bookingSub != nil && c.bookingSub.key == id {
		c.mu.Unlock()
		return ErrAlreadyMonitoring
	}
	if c.bookingSub != nil {
		c.bookingSub.cancel()
	}
	ctx, cancel := context.WithCancel(c.ctx)
	sub := &subscription{key: id, cancel: cancel}
	c.bookingSub = sub
	c.mu.Unlock()

	c.spawn(func() {
		defer cancel()
		err := c.deps.Bookings.Watch(ctx, id, func(b *order.Booking) {
			c.onBookingUpdate(ctx, sub, b)
		})
		if err != nil {
			c.log.WithError(err).WithField("booking_id", id).Warn("booking listener stopped")
		}
	})
	return nil
}

func (c *Controller) isBookingSub(sub *subscription) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bookingSub == sub
}

func (c *Controller) onBookingUpdate(ctx context.Context, sub *subscription, b *order.Booking) {
	if ctx.Err() != nil || !c.isBookingSub(sub) {
		return
	}
	log := c.log.WithFields(logrus.Fields{"booking_id": b.ID, "status": b.Status})
	if c.isSuppressed(b.ID) {
		log.Debug("ignoring update for locally cancelled booking")
		return
	}
	if cur := c.Snapshot().Booking; cur != nil && cur.ID == b.ID &&
		cur.Status != b.Status && !order.CanTransition(cur.Status, b.Status) {
		log.WithField("current", cur.Status).Debug("ignoring out of order status")
		return
	}

	sessionCtx, err := c.sessionContext()
	if err != nil {
		return
	}

	switch b.Status {
	case order.StatusExpired:
		log.Info("booking expired without a driver")
		c.clearBooking(&Notice{
			Kind:      NoticeNoDrivers,
			BookingID: b.ID,
			Message:   "No drivers were found nearby. Please try again.",
		})
		return
	case order.StatusCompleted:
		log.Info("trip completed")
		c.clearBooking(nil)
		c.promptRating(sessionCtx, b)
		c.RefreshHistory(sessionCtx)
		return
	case order.StatusCancelled:
		var notice *Notice
		if b.CancelledByDriver() {
			notice = &Notice{
				Kind:      NoticeDriverCancelled,
				BookingID: b.ID,
				Message:   "Your driver cancelled the trip.",
			}
		}
		log.WithField("by_driver", notice != nil).Info("booking cancelled")
		c.clearBooking(notice)
		c.RefreshHistory(sessionCtx)
		return
	}

	c.update(func(s *State) { s.Booking = b })

	if b.Status.IsAcceptedOrLater() && b.DriverID != nil {
		if err := c.TrackDriver(*b.DriverID); err != nil {
			log.WithError(err).Warn("driver tracking not started")
		}
	}
	if b.Status == order.StatusInProgress {
		c.startLeg(sessionCtx, legToDestination, b.Pickup.Location, b.Destination.Location)
	}
}

// promptRating shows the rating notice once per booking, across restarts.
func (c *Controller) promptRating(ctx context.Context, b *order.Booking) {
	first, err := c.deps.RatingFlags.MarkPrompted(ctx, c.passengerID, b.ID)
	if err != nil {
		c.log.WithError(err).WithField("booking_id", b.ID).Warn("rating flag update failed")
		return
	}
	if !first {
		return
	}
	c.update(func(s *State) {
		s.Notice = &Notice{Kind: NoticeRatePrompt, BookingID: b.ID, Message: "How was your trip?"}
	})
}
