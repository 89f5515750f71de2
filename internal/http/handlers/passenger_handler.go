// README: Passenger session handlers (snapshot, dismiss, history).
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type PassengerHandler struct {
	sessions Sessions
}

func NewPassengerHandler(sessions Sessions) *PassengerHandler {
	return &PassengerHandler{sessions: sessions}
}

// GetSession returns the passenger's current session state.
func (h *PassengerHandler) GetSession(c *gin.Context) {
	s, ok := callerSession(c, h.sessions)
	if !ok {
		return
	}
	writeJSON(c, http.StatusOK, s.Snapshot())
}

// Dismiss clears the visible notice and proximity alert.
func (h *PassengerHandler) Dismiss(c *gin.Context) {
	s, ok := callerSession(c, h.sessions)
	if !ok {
		return
	}
	s.Dismiss()
	writeJSON(c, http.StatusOK, s.Snapshot())
}

func (h *PassengerHandler) History(c *gin.Context) {
	s, ok := callerSession(c, h.sessions)
	if !ok {
		return
	}
	s.RefreshHistory(c.Request.Context())
	history := s.Snapshot().History
	if history == nil {
		writeJSON(c, http.StatusOK, gin.H{"bookings": []any{}})
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"bookings": history})
}
