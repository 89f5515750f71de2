package trip

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"rider/internal/modules/order"
	"rider/internal/modules/passenger"
	"rider/internal/observability"
	"rider/internal/types"
)

// CancelBooking cancels the current booking on behalf of the passenger.
//
// The session clears the booking before the backend answers and ignores
// updates for that id during the grace window. Only bookings that had been
// accepted count toward the cancellation ledger; once the ledger is at its
// limit the backend call is skipped and a *passenger.LimitError is returned.
// The cleared session state is kept in that case. Any other failure restores
// the booking so the cancellation can be retried.
func (c *Controller) CancelBooking(ctx context.Context, reason string) error {
	if _, err := c.sessionContext(); err != nil {
		return err
	}
	if !c.cancelling.CompareAndSwap(false, true) {
		return ErrCancelInProgress
	}
	defer c.cancelling.Store(false)

	cur := c.Snapshot().Booking
	if cur == nil {
		return ErrNoActiveBooking
	}
	id := cur.ID
	log := c.log.WithField("booking_id", id)

	c.suppressed.Set(string(id), struct{}{})
	c.clearBooking(nil)

	fresh, err := c.deps.Bookings.Get(ctx, id)
	if err != nil {
		return c.cancelFailed(cur, err)
	}
	if fresh.Status.IsTerminal() {
		log.WithField("status", fresh.Status).Info("booking already ended before cancellation")
		observability.CancellationsTotal.WithLabelValues("already_ended").Inc()
		return nil
	}

	counted := fresh.Status.IsAcceptedOrLater()
	if counted {
		if err := c.deps.Ledger.Check(ctx, c.passengerID); err != nil {
			if errors.Is(err, passenger.ErrCancelLimit) {
				observability.CancellationsTotal.WithLabelValues("limited").Inc()
				log.Warn("cancellation blocked by ledger")
				return err
			}
			return c.cancelFailed(cur, err)
		}
	}

	if _, err := c.deps.Bookings.Cancel(ctx, order.CancelCommand{
		BookingID: id,
		By:        order.CancelledByPassenger,
		Reason:    reason,
	}); err != nil {
		if errors.Is(err, order.ErrInvalidState) {
			// ended between the re-read and the write
			observability.CancellationsTotal.WithLabelValues("already_ended").Inc()
			return nil
		}
		return c.cancelFailed(cur, err)
	}

	if counted {
		if l, err := c.deps.Ledger.Record(ctx, c.passengerID); err != nil {
			log.WithError(err).Warn("ledger update failed")
		} else {
			log.WithField("count", l.Count).Debug("ledger updated")
		}
	}
	observability.CancellationsTotal.WithLabelValues("cancelled").Inc()
	log.WithFields(logrus.Fields{"status": fresh.Status, "counted": counted}).Info("booking cancelled")
	return nil
}

// cancelFailed puts b back into the session and resumes following it.
func (c *Controller) cancelFailed(b *order.Booking, cause error) error {
	observability.CancellationsTotal.WithLabelValues("error").Inc()
	log := c.log.WithField("booking_id", b.ID)
	log.WithError(cause).Warn("cancellation failed, restoring booking")

	c.suppressed.Delete(string(b.ID))
	c.update(func(s *State) { s.Booking = b })

	if err := c.MonitorBooking(b.ID); err != nil && !errors.Is(err, ErrAlreadyMonitoring) {
		log.WithError(err).Warn("restore booking monitor failed")
	}
	if b.Status.IsAcceptedOrLater() && b.DriverID != nil {
		if err := c.TrackDriver(*b.DriverID); err != nil {
			log.WithError(err).Warn("restore driver tracking failed")
		}
	}
	if b.Status == order.StatusInProgress {
		if sessionCtx, err := c.sessionContext(); err == nil {
			c.spawn(func() {
				c.startLeg(sessionCtx, legToDestination, b.Pickup.Location, b.Destination.Location)
			})
		}
	}
	return fmt.Errorf("%w: %w", ErrCancellationFailed, cause)
}

// isSuppressed reports whether id was cancelled locally within the grace window.
func (c *Controller) isSuppressed(id types.ID) bool {
	return c.suppressed.Has(string(id))
}

// clearBooking stops following the booking and its driver and publishes a
// state without them. notice, when non-nil, is shown to the passenger.
func (c *Controller) clearBooking(notice *Notice) {
	c.mu.Lock()
	if c.bookingSub != nil {
		c.bookingSub.cancel()
		c.bookingSub = nil
	}
	if c.driverSub != nil {
		c.driverSub.cancel()
		c.driverSub = nil
	}
	c.currentLeg = legNone
	c.lastDriverSeen = time.Time{}
	c.mu.Unlock()

	c.tracker.Clear()
	c.throttle.reset()
	c.proximity.reset()

	c.update(func(s *State) {
		s.Booking = nil
		s.Driver = nil
		s.Route = nil
		s.EtaMinutes = 0
		s.Alert = nil
		if notice != nil {
			s.Notice = notice
		}
	})
}
