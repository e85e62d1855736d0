// Package metrics provides Prometheus metrics for monitoring.
//
// Key metrics:
//   - Collab client events by kind and current connection state
//   - Reconnect attempts, dropped publishes and fallback deliveries
//   - Recorder inserts, conflicts, errors and queue depth
package metrics
