// README: Base handler utilities (session lookup, JSON helpers, error mapping).
package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"rider/internal/http/middleware"
	"rider/internal/maps"
	"rider/internal/modules/order"
	"rider/internal/modules/passenger"
	"rider/internal/modules/pricing"
	"rider/internal/modules/trip"
	"rider/internal/modules/zone"
	"rider/internal/types"
)

// Session is the part of trip.Controller the API drives.
type Session interface {
	RequestBooking(ctx context.Context, req trip.BookingRequest) (*order.Booking, error)
	CancelBooking(ctx context.Context, reason string) error
	Snapshot() *trip.State
	Subscribe() (<-chan *trip.State, func())
	Dismiss()
	RefreshHistory(ctx context.Context)
	RefreshNearbyDrivers(ctx context.Context, center types.Point)
	Landmarks(ctx context.Context, query string, near *types.Point) []maps.Landmark
}

type Sessions interface {
	Session(passengerID types.ID) (Session, error)
}

type managerSessions struct {
	m *trip.Manager
}

// ManagerSessions serves sessions from a trip.Manager.
func ManagerSessions(m *trip.Manager) Sessions {
	return managerSessions{m: m}
}

func (s managerSessions) Session(passengerID types.ID) (Session, error) {
	c, err := s.m.Session(passengerID)
	if err != nil {
		return nil, err
	}
	return c, nil
}

type errorResponse struct {
	Error string `json:"error"`
}

// callerSession resolves the authenticated passenger's session. It writes the
// error response and returns false when none is available.
func callerSession(c *gin.Context, sessions Sessions) (Session, bool) {
	uid := middleware.CallerUID(c)
	if uid == "" {
		writeError(c, http.StatusUnauthorized, "unauthenticated")
		return nil, false
	}
	s, err := sessions.Session(types.ID(uid))
	if err != nil {
		writeTripError(c, err)
		return nil, false
	}
	return s, true
}

func writeJSON(c *gin.Context, status int, v any) {
	c.JSON(status, v)
}

func writeError(c *gin.Context, status int, msg string) {
	writeJSON(c, status, errorResponse{Error: msg})
}

// writeTripError maps session errors to a status code and the passenger
// facing message.
func writeTripError(c *gin.Context, err error) {
	writeError(c, tripErrorStatus(err), trip.UserMessage(err))
}

func tripErrorStatus(err error) int {
	switch {
	case errors.Is(err, trip.ErrInvalidCompanion), errors.Is(err, order.ErrBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, passenger.ErrBlocked), errors.Is(err, passenger.ErrInactive):
		return http.StatusForbidden
	case errors.Is(err, trip.ErrNoActiveBooking), errors.Is(err, passenger.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, trip.ErrActiveBooking), errors.Is(err, order.ErrActiveBooking),
		errors.Is(err, trip.ErrCancelInProgress):
		return http.StatusConflict
	case errors.Is(err, trip.ErrClosed):
		return http.StatusGone
	case errors.Is(err, trip.ErrOutOfServiceArea), errors.Is(err, pricing.ErrFareUnavailable):
		return http.StatusUnprocessableEntity
	case errors.Is(err, passenger.ErrCancelLimit):
		return http.StatusTooManyRequests
	case errors.Is(err, zone.ErrZonesUnavailable), errors.Is(err, trip.ErrServiceAreaUnknown),
		errors.Is(err, trip.ErrProfileUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
