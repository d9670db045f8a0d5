// Package metrics provides Prometheus metrics for monitoring.
//
// Key metrics:
//   - Connection state, transitions and scheduled reconnects
//   - Events dispatched, frames dropped and handler failures per topic
//   - Cache prefix invalidations and their failures
//
// Metrics implements the observer interfaces of the connection, dispatch
// and invalidation packages so it can be passed straight to their
// constructors.
package metrics
