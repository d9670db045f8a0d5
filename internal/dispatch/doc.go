// Package dispatch implements the Event Dispatcher component.
//
// The Dispatcher:
//   - Accepts raw frames from the Connection Manager without blocking it
//   - Decodes frames and drops malformed or unknown-topic ones
//   - Fans each event out to the handlers registered for its topic, in
//     registration order, isolating handler failures
package dispatch
