// README: HTTP router registration.
package http

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"rider/internal/http/handlers"
	"rider/internal/http/middleware"
	"rider/internal/infra"
)

type RouterDeps struct {
	Sessions handlers.Sessions
	Verifier infra.TokenVerifier
	// BookingRate limits booking mutations per passenger, e.g. "10-M".
	BookingRate string
	// Redis shares rate limit counters across instances. Nil keeps them in memory.
	Redis *redis.Client
	Log   *logrus.Entry
}

func NewRouter(deps RouterDeps) (*gin.Engine, error) {
	limit, err := middleware.RateLimit(deps.BookingRate, deps.Redis)
	if err != nil {
		return nil, fmt.Errorf("booking rate %q: %w", deps.BookingRate, err)
	}

	r := gin.New()
	r.Use(middleware.Recovery(deps.Log), middleware.Logging(deps.Log))

	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api", middleware.Auth(deps.Verifier))

	orderHandler := handlers.NewOrderHandler(deps.Sessions)
	api.POST("/bookings", limit, orderHandler.Create)
	api.POST("/bookings/cancel", limit, orderHandler.Cancel)

	passengerHandler := handlers.NewPassengerHandler(deps.Sessions)
	api.GET("/session", passengerHandler.GetSession)
	api.POST("/session/dismiss", passengerHandler.Dismiss)
	api.GET("/history", passengerHandler.History)

	streamHandler := handlers.NewStreamHandler(deps.Sessions, deps.Log)
	api.GET("/session/stream", streamHandler.Stream)

	locationHandler := handlers.NewLocationHandler(deps.Sessions)
	api.GET("/landmarks", locationHandler.Landmarks)
	api.GET("/drivers/nearby", locationHandler.NearbyDrivers)

	return r, nil
}
