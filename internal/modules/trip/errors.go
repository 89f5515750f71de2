package trip

import (
	"errors"
	"fmt"
	"time"

	"rider/internal/modules/order"
	"rider/internal/modules/passenger"
	"rider/internal/modules/pricing"
	"rider/internal/modules/zone"
)

var (
	ErrNotStarted         = errors.New("session not started")
	ErrClosed             = errors.New("session closed")
	ErrActiveBooking      = errors.New("passenger already has an active booking")
	ErrNoActiveBooking    = errors.New("no active booking")
	ErrCancelInProgress   = errors.New("cancellation already in progress")
	ErrAlreadyMonitoring  = errors.New("booking already monitored")
	ErrOutOfServiceArea   = errors.New("outside service area")
	ErrServiceAreaUnknown = errors.New("service area unavailable")
	ErrProfileUnavailable = errors.New("passenger profile unavailable")
	ErrInvalidCompanion   = errors.New("unknown companion type")
	ErrBookingFailed      = errors.New("booking failed")
	ErrCancellationFailed = errors.New("cancellation failed")
)

// OutOfAreaError names the endpoint that fell outside every service boundary.
type OutOfAreaError struct {
	Endpoint string
}

func (e *OutOfAreaError) Error() string {
	return fmt.Sprintf("%s is outside the service area", e.Endpoint)
}

func (e *OutOfAreaError) Is(target error) bool {
	return target == ErrOutOfServiceArea
}

// UserMessage turns a session error into text fit for the passenger.
// Provider and backend details never leak through.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var area *OutOfAreaError
	var limit *passenger.LimitError
	switch {
	case errors.As(err, &area):
		return fmt.Sprintf("Sorry, your %s is outside our service area.", area.Endpoint)
	case errors.As(err, &limit):
		return fmt.Sprintf("You have cancelled %d accepted trips recently. You can cancel again after %s.",
			limit.Count, limit.ResetAt.Local().Format(time.Kitchen))
	case errors.Is(err, pricing.ErrNoPickupZone):
		return "We don't have fares for your pickup location yet."
	case errors.Is(err, pricing.ErrFareUnavailable):
		return "No fare is configured for this trip. Please choose another destination."
	case errors.Is(err, zone.ErrZonesUnavailable):
		return "Fares are unavailable right now. Please try again shortly."
	case errors.Is(err, ErrActiveBooking), errors.Is(err, order.ErrActiveBooking):
		return "You already have a trip in progress."
	case errors.Is(err, ErrNoActiveBooking):
		return "There is no trip to cancel."
	case errors.Is(err, ErrCancelInProgress):
		return "Your cancellation is already being processed."
	case errors.Is(err, passenger.ErrBlocked):
		return "Your account has been blocked. Please contact support."
	case errors.Is(err, passenger.ErrInactive):
		return "Your account is inactive. Please contact support."
	case errors.Is(err, passenger.ErrNotFound), errors.Is(err, ErrProfileUnavailable):
		return "We couldn't load your account. Please try again."
	case errors.Is(err, ErrServiceAreaUnknown):
		return "We couldn't check the service area right now. Please try again."
	case errors.Is(err, ErrInvalidCompanion), errors.Is(err, order.ErrBadRequest):
		return "Some booking details are invalid. Please check and try again."
	case errors.Is(err, ErrCancellationFailed):
		return "We couldn't cancel your trip. Please try again."
	case errors.Is(err, ErrBookingFailed):
		return "We couldn't create your booking. Please try again."
	case errors.Is(err, ErrClosed), errors.Is(err, ErrNotStarted):
		return "Your session has ended. Please reopen the app."
	}
	return "Something went wrong. Please try again."
}
