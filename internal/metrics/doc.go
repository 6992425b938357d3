// Package metrics provides Prometheus metrics for garage-assistant.
//
// Collectors are registered on the default registry at package init and are
// exposed by the binary on metrics.addr/metrics.path when metrics.enabled is set.
//
//   - garage_flows_started_total: booking flows that created a session
//   - garage_flows_finished_total{outcome}: submitted, cancelled, failed, expired
//   - garage_gateway_requests_total{endpoint,status}: backend calls by HTTP status
//   - garage_gateway_request_duration_seconds{endpoint}
//   - garage_inbound_messages_total{route}: flow, command, duplicate, ignored
package metrics
