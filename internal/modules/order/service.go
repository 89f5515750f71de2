// README: Booking service implements creation, cancellation and lookups over a Store.
package order

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"rider/internal/types"
)

var (
	ErrInvalidState  = errors.New("invalid state transition")
	ErrNotFound      = errors.New("booking not found")
	ErrActiveBooking = errors.New("passenger has active booking")
	ErrBadRequest    = errors.New("bad request")
)

const defaultHistoryLimit = 20

type Service struct {
	store Store
	log   *logrus.Entry
	now   func() time.Time
}

func NewService(store Store, log *logrus.Entry) *Service {
	return &Service{store: store, log: log, now: time.Now}
}

type CreateCommand struct {
	PassengerID types.ID
	Pickup      Place
	Destination Place
	Fare        FareEstimate
	Companions  []Companion
	Comment     string
}

type CancelCommand struct {
	BookingID types.ID
	By        CancelledBy
	Reason    string
}

func (s *Service) Create(ctx context.Context, cmd CreateCommand) (*Booking, error) {
	if cmd.PassengerID == "" || strings.TrimSpace(cmd.Destination.Address) == "" {
		return nil, ErrBadRequest
	}
	if _, err := s.ActiveByPassenger(ctx, cmd.PassengerID); err == nil {
		return nil, ErrActiveBooking
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	b := &Booking{
		ID:          types.ID(uuid.NewString()),
		PassengerID: cmd.PassengerID,
		Pickup:      cmd.Pickup,
		Destination: cmd.Destination,
		Fare:        cmd.Fare,
		Status:      StatusPending,
		Companions:  cmd.Companions,
		Comment:     strings.TrimSpace(cmd.Comment),
		RequestedAt: s.now(),
	}
	if err := s.store.Create(ctx, b); err != nil {
		return nil, err
	}
	s.log.WithFields(logrus.Fields{
		"booking_id":   b.ID,
		"passenger_id": b.PassengerID,
		"total":        b.Fare.Total,
	}).Info("booking created")
	return b, nil
}

func (s *Service) Get(ctx context.Context, id types.ID) (*Booking, error) {
	return s.store.Get(ctx, id)
}

func (s *Service) Cancel(ctx context.Context, cmd CancelCommand) (*Booking, error) {
	if cmd.BookingID == "" {
		return nil, ErrBadRequest
	}
	by := cmd.By
	if by == "" {
		by = CancelledByPassenger
	}
	return s.store.Transition(ctx, cmd.BookingID, StatusCancelled, &Cancellation{
		By:     by,
		Reason: cmd.Reason,
		At:     s.now(),
	})
}

// ActiveByPassenger follows the active booking index and confirms it against
// the booking record. A stale index entry reads as no active booking.
func (s *Service) ActiveByPassenger(ctx context.Context, passengerID types.ID) (*Booking, error) {
	id, ok, err := s.store.ActiveIndex(ctx, passengerID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}
	b, err := s.store.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		s.log.WithFields(logrus.Fields{"passenger_id": passengerID, "booking_id": id}).Warn("active index points at missing booking")
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if b.Status.IsTerminal() || b.PassengerID != passengerID {
		return nil, ErrNotFound
	}
	return b, nil
}

func (s *Service) History(ctx context.Context, passengerID types.ID, limit int) ([]Booking, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	return s.store.History(ctx, passengerID, limit)
}

func (s *Service) Watch(ctx context.Context, id types.ID, fn func(*Booking)) error {
	return s.store.Watch(ctx, id, fn)
}
