// README: Matching service fans a new booking out to a bounded set of nearby drivers.
package matching

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"rider/internal/modules/location"
	"rider/internal/modules/order"
	"rider/internal/types"
)

var ErrNoDrivers = errors.New("no drivers nearby")

type Locator interface {
	GetNearbyDrivers(ctx context.Context, center types.Point, radiusMeters float64) ([]location.DriverLocation, error)
}

type Notifier interface {
	DeviceToken(ctx context.Context, driverID types.ID) (string, error)
	NotifyDriverNewBooking(ctx context.Context, deviceToken string, n location.BookingNotice) error
}

type StatusUpdater interface {
	Transition(ctx context.Context, id types.ID, to order.Status, cancel *order.Cancellation) (*order.Booking, error)
}

type Service struct {
	store    DispatchStore
	locator  Locator
	notifier Notifier
	bookings StatusUpdater
	cfg      Config
	log      *logrus.Entry
}

func NewService(store DispatchStore, locator Locator, notifier Notifier, bookings StatusUpdater, cfg Config, log *logrus.Entry) *Service {
	def := DefaultConfig()
	if cfg.MaxCandidates <= 0 {
		cfg.MaxCandidates = def.MaxCandidates
	}
	if cfg.PoolSize < cfg.MaxCandidates {
		cfg.PoolSize = cfg.MaxCandidates
	}
	if cfg.RadiusMeters <= 0 {
		cfg.RadiusMeters = def.RadiusMeters
	}
	return &Service{store: store, locator: locator, notifier: notifier, bookings: bookings, cfg: cfg, log: log}
}

// Dispatch notifies at most MaxCandidates drivers sampled from the nearest
// PoolSize online drivers, then marks the booking as looking for a driver.
// A booking is dispatched once; later calls return a skipped Result.
func (s *Service) Dispatch(ctx context.Context, b *order.Booking) (Result, error) {
	now := time.Now()
	res := Result{BookingID: b.ID}
	first, err := s.store.ClaimDispatch(ctx, b.ID, now)
	if err != nil {
		return res, fmt.Errorf("claim dispatch: %w", err)
	}
	if !first {
		res.Skipped = true
		at, ok, err := s.store.GetDispatchedAt(ctx, b.ID)
		if err != nil {
			s.log.WithError(err).WithField("booking_id", b.ID).Warn("read dispatch time failed")
		} else if ok {
			res.DispatchedAt = at
		}
		return res, nil
	}
	res.DispatchedAt = now

	drivers, err := s.locator.GetNearbyDrivers(ctx, b.Pickup.Location, s.cfg.RadiusMeters)
	if err != nil {
		return res, fmt.Errorf("nearby drivers: %w", err)
	}
	res.Nearby = len(drivers)
	if len(drivers) == 0 {
		return res, ErrNoDrivers
	}
	if len(drivers) > s.cfg.PoolSize {
		drivers = drivers[:s.cfg.PoolSize]
	}
	pool := make([]types.ID, len(drivers))
	for i, d := range drivers {
		pool[i] = d.DriverID
	}

	res.Notified = s.notifyAll(ctx, b, PickRandomDrivers(pool, s.cfg.MaxCandidates))
	if err := s.store.RecordNotified(ctx, b.ID, res.Notified); err != nil {
		s.log.WithError(err).WithField("booking_id", b.ID).Warn("record notified drivers failed")
	}

	if len(res.Notified) > 0 {
		if _, err := s.bookings.Transition(ctx, b.ID, order.StatusLookingForDriver, nil); err != nil && !errors.Is(err, order.ErrInvalidState) {
			return res, fmt.Errorf("mark looking for driver: %w", err)
		}
	}
	s.log.WithFields(logrus.Fields{
		"booking_id": b.ID,
		"nearby":     res.Nearby,
		"notified":   len(res.Notified),
	}).Info("booking dispatched")
	return res, nil
}

// notifyAll pushes the booking to each driver concurrently and returns the
// drivers that were reached.
func (s *Service) notifyAll(ctx context.Context, b *order.Booking, drivers []types.ID) []types.ID {
	notice := location.BookingNotice{
		BookingID:   b.ID,
		Pickup:      b.Pickup.Location,
		Destination: b.Destination.Location,
		Address:     b.Pickup.Address,
		Fare:        b.Fare.Total,
		Currency:    b.Fare.Currency,
	}

	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		reached []types.ID
	)
	for _, id := range drivers {
		wg.Add(1)
		go func(id types.ID) {
			defer wg.Done()
			token, err := s.notifier.DeviceToken(ctx, id)
			if err == nil {
				err = s.notifier.NotifyDriverNewBooking(ctx, token, notice)
			}
			if err != nil {
				s.log.WithError(err).WithFields(logrus.Fields{"booking_id": b.ID, "driver_id": id}).Warn("driver notification failed")
				return
			}
			mu.Lock()
			reached = append(reached, id)
			mu.Unlock()
		}(id)
	}
	wg.Wait()
	return reached
}

// PickRandomDrivers returns up to n distinct drivers from pool in random
// order. The pool is not modified.
func PickRandomDrivers(pool []types.ID, n int) []types.ID {
	if n <= 0 || len(pool) == 0 {
		return nil
	}
	if n > len(pool) {
		n = len(pool)
	}
	cp := make([]types.ID, len(pool))
	copy(cp, pool)
	rand.Shuffle(len(cp), func(i, j int) { cp[i], cp[j] = cp[j], cp[i] })
	return cp[:n]
}
