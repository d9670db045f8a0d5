// Package livesync assembles the live-update layer into one lifecycle object.
//
// A Service owns the event dispatcher, the invalidation router, the
// connection manager, the fallback poller, the response cache and the
// persisted disable flag. The process-wide instance is created with Init,
// read with Default and torn down with ResetDefault; nothing is created at
// import time.
//
// Lifecycle:
//
//	Start   honours live.enabled and the persisted flag, then connects
//	Login   clears the flag, resets the manager and reconnects
//	Logout  disables the manager until the next Login
//	Stop    unregisters the router, stops every component, closes backends
package livesync
