// README: Booking handlers for request and cancel.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"rider/internal/modules/order"
	"rider/internal/modules/pricing"
	"rider/internal/modules/trip"
	"rider/internal/types"
)

type OrderHandler struct {
	sessions Sessions
}

func NewOrderHandler(sessions Sessions) *OrderHandler {
	return &OrderHandler{sessions: sessions}
}

type placeReq struct {
	Address string  `json:"address" binding:"required"`
	Lat     float64 `json:"lat" binding:"min=-90,max=90"`
	Lng     float64 `json:"lng" binding:"min=-180,max=180"`
}

func (p placeReq) toPlace() order.Place {
	return order.Place{Address: p.Address, Location: types.Point{Lat: p.Lat, Lng: p.Lng}}
}

type companionReq struct {
	Type string `json:"type" binding:"required"`
	Name string `json:"name"`
}

type createBookingReq struct {
	Pickup      placeReq       `json:"pickup"`
	Destination placeReq       `json:"destination"`
	Comment     string         `json:"comment" binding:"max=500"`
	Companions  []companionReq `json:"companions" binding:"max=6,dive"`
}

type cancelBookingReq struct {
	Reason string `json:"reason" binding:"max=500"`
}

func (h *OrderHandler) Create(c *gin.Context) {
	var req createBookingReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid booking request")
		return
	}
	s, ok := callerSession(c, h.sessions)
	if !ok {
		return
	}

	br := trip.BookingRequest{
		Pickup:      req.Pickup.toPlace(),
		Destination: req.Destination.toPlace(),
		Comment:     req.Comment,
	}
	for _, cp := range req.Companions {
		br.Companions = append(br.Companions, trip.CompanionRequest{Type: pricing.CompanionType(cp.Type), Name: cp.Name})
	}

	b, err := s.RequestBooking(c.Request.Context(), br)
	if err != nil {
		writeTripError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, b)
}

func (h *OrderHandler) Cancel(c *gin.Context) {
	var req cancelBookingReq
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			writeError(c, http.StatusBadRequest, "invalid cancel request")
			return
		}
	}
	s, ok := callerSession(c, h.sessions)
	if !ok {
		return
	}
	if err := s.CancelBooking(c.Request.Context(), req.Reason); err != nil {
		writeTripError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, map[string]any{"status": order.StatusCancelled})
}
