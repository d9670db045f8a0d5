// Package invalidation implements the Invalidation Router component.
//
// The Router maps each event topic to the cache-key prefixes whose data the
// event changes, and marks those prefixes stale when the event arrives. This
// is the one place that knows, for example, that a transaction affects both
// the transaction list and the dashboard summary; review the rule table
// whenever a new cross-cutting read is added to the console.
package invalidation
