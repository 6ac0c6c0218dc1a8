// README: Prometheus metrics for ride lifecycle, dispatch and HTTP traffic.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "sharedride"

// RidesCreatedTotal counts rides persisted as REQUESTED, by ride class.
var RidesCreatedTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rides_created_total",
		Help:      "Total number of rides created, by ride class.",
	},
	[]string{"class"},
)

// AssignAttemptsTotal counts AssignDriver calls.
// Label result: "won", "conflict", "not_found" or "error".
var AssignAttemptsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ride_assign_attempts_total",
		Help:      "Total number of driver assignment attempts, by outcome.",
	},
	[]string{"result"},
)

var TransitionsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ride_transitions_total",
		Help:      "Total number of applied ride status transitions, by target status.",
	},
	[]string{"to"},
)

var PaymentsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ride_payments_total",
		Help:      "Total number of completion charges, by outcome.",
	},
	[]string{"result"},
)

// NotificationsTotal counts dispatch deliveries.
// Labels:
//   - event: newRide, rideWithdrawn, rideMatched, rideCancelled
//   - result: "sent", "offline", "failed" or "dropped"; the Redis relay adds
//     "delivered" and "offline" per instance for messages it forwards
var NotificationsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "dispatch_notifications_total",
		Help:      "Total number of dispatch notifications, by event and outcome.",
	},
	[]string{"event", "result"},
)

var WebsocketClients = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "websocket_clients",
		Help:      "Current number of connected notification websocket clients.",
	},
)

var HTTPRequestsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "Total number of HTTP requests, by method, route and status code.",
	},
	[]string{"method", "route", "status"},
)

var HTTPRequestDuration = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "Duration of HTTP requests.",
		Buckets:   prometheus.DefBuckets,
	},
	[]string{"method", "route"},
)
