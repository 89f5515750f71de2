// README: Location handlers for landmark search and nearby drivers.
package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"rider/internal/types"
)

type LocationHandler struct {
	sessions Sessions
}

func NewLocationHandler(sessions Sessions) *LocationHandler {
	return &LocationHandler{sessions: sessions}
}

type pointQuery struct {
	Lat *float64 `form:"lat" binding:"omitempty,min=-90,max=90"`
	Lng *float64 `form:"lng" binding:"omitempty,min=-180,max=180"`
}

func (q pointQuery) point() *types.Point {
	if q.Lat == nil || q.Lng == nil {
		return nil
	}
	return &types.Point{Lat: *q.Lat, Lng: *q.Lng}
}

// Landmarks searches places by name, biased to lat/lng when given.
func (h *LocationHandler) Landmarks(c *gin.Context) {
	query := strings.TrimSpace(c.Query("q"))
	if query == "" {
		writeError(c, http.StatusBadRequest, "missing query")
		return
	}
	var q pointQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		writeError(c, http.StatusBadRequest, "invalid coordinates")
		return
	}
	s, ok := callerSession(c, h.sessions)
	if !ok {
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"landmarks": s.Landmarks(c.Request.Context(), query, q.point())})
}

// NearbyDrivers refreshes and returns online drivers around lat/lng.
func (h *LocationHandler) NearbyDrivers(c *gin.Context) {
	var q pointQuery
	if err := c.ShouldBindQuery(&q); err != nil || q.point() == nil {
		writeError(c, http.StatusBadRequest, "lat and lng are required")
		return
	}
	s, ok := callerSession(c, h.sessions)
	if !ok {
		return
	}
	s.RefreshNearbyDrivers(c.Request.Context(), *q.point())
	drivers := s.Snapshot().NearbyDrivers
	if drivers == nil {
		writeJSON(c, http.StatusOK, gin.H{"drivers": []any{}})
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"drivers": drivers})
}
