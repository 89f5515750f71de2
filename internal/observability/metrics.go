// README: Prometheus collectors for routing cost, fare resolution and trip session activity.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "rider"

var (
	RoutingCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "routing_calls_total", Help: "Routing provider calls by mode and outcome"},
		[]string{"mode", "outcome"},
	)
	RouteRecalculationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Name: "route_recalculations_total", Help: "Deviation-triggered route recalculations",
	})
	RouteFallbacksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Name: "route_direct_fallbacks_total", Help: "Routes synthesized as straight lines after provider failures",
	})

	ZoneFetchFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "zone_fetch_failures_total", Help: "Failed zone or boundary fetches"},
		[]string{"kind"},
	)
	FareResolutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "fare_resolutions_total", Help: "Fare resolutions by source"},
		[]string{"source"},
	)

	BookingsCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Name: "bookings_created_total", Help: "Bookings created by passengers",
	})
	CancellationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "cancellations_total", Help: "Passenger cancellations by outcome"},
		[]string{"outcome"},
	)
	DriverUpdatesForwardedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace, Name: "driver_updates_forwarded_total", Help: "Driver positions forwarded to the session snapshot",
	})
	ProximityAlertsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "proximity_alerts_total", Help: "Proximity alerts fired by level"},
		[]string{"level"},
	)
	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Name: "active_sessions", Help: "Passenger sessions currently open",
	})
)
