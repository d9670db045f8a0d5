// Package connection implements the Connection Manager component.
//
// The Connection Manager:
//   - Maintains exactly one live push connection per process
//   - Drives the Disconnected/Connecting/Open/Reconnecting/PermanentlyDisabled
//     state machine from transport callbacks and explicit calls
//   - Reconnects with capped exponential backoff and gives up after
//     MaxAttempts consecutive failures, persisting that decision
//   - Hands every received frame to the Event Dispatcher without blocking
package connection
