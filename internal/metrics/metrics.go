// ABOUTME: Prometheus collectors for booking flows, backend calls, and inbound chat traffic
// ABOUTME: Thin Record* helpers keep label handling out of the calling packages

package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "garage"

// Flow outcomes
const (
	OutcomeSubmitted = "submitted"
	OutcomeCancelled = "cancelled"
	OutcomeFailed    = "failed"
	OutcomeExpired   = "expired"
)

// Inbound routes
const (
	RouteFlow      = "flow"
	RouteCommand   = "command"
	RouteDuplicate = "duplicate"
	RouteIgnored   = "ignored"
)

var (
	// FlowsStarted counts booking flows that created a session.
	FlowsStarted = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flows_started_total",
			Help:      "Total number of booking flows started",
		},
	)

	// FlowsFinished counts booking flows by how they ended.
	FlowsFinished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flows_finished_total",
			Help:      "Total number of booking flows finished, by outcome",
		},
		[]string{"outcome"},
	)

	// GatewayRequests counts backend API calls by endpoint and HTTP status.
	// Transport failures are recorded with status "error".
	GatewayRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gateway_requests_total",
			Help:      "Total number of backend API requests",
		},
		[]string{"endpoint", "status"},
	)

	// GatewayDuration measures backend API call latency.
	GatewayDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "gateway_request_duration_seconds",
			Help:      "Duration of backend API requests in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"endpoint"},
	)

	// InboundMessages counts chat messages by how the dispatcher routed them.
	InboundMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inbound_messages_total",
			Help:      "Total number of inbound chat messages, by route",
		},
		[]string{"route"},
	)
)

// RecordFlowStarted records a new booking session.
func RecordFlowStarted() {
	FlowsStarted.Inc()
}

// RecordFlowFinished records the end of a booking session.
func RecordFlowFinished(outcome string) {
	FlowsFinished.WithLabelValues(outcome).Inc()
}

// RecordGatewayRequest records one backend call. A status of 0 means the
// request never produced an HTTP response.
func RecordGatewayRequest(endpoint string, status int, duration time.Duration) {
	label := "error"
	if status > 0 {
		label = strconv.Itoa(status)
	}
	GatewayRequests.WithLabelValues(endpoint, label).Inc()
	GatewayDuration.WithLabelValues(endpoint).Observe(duration.Seconds())
}

// RecordInbound records how an inbound message was routed.
func RecordInbound(route string) {
	InboundMessages.WithLabelValues(route).Inc()
}
