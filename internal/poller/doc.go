// Package poller implements the polling fallback for live updates.
//
// Once the connection manager has given up reconnecting, pushed events stop
// arriving. The poller then invalidates every prefix of the rule table on a
// fixed interval so consumers of those cache entries still refresh. While the
// live connection is healthy each tick is a no-op.
package poller
