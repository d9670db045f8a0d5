// Package event defines the live-update event model shared by the
// Connection Manager, the Event Dispatcher and the Invalidation Router.
//
// Frames arrive from the push endpoint as JSON objects of the form
//
//	{"topic": "transaction", "payload": {...}}
//
// Decode is the only place raw bytes become an Event. Topics form a closed
// set; anything else decodes with Known() == false and is ignored downstream.
package event
