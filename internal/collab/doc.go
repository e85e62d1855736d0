// Package collab implements the collaboration socket client.
//
// The Client:
//   - Owns one logical connection to the collaboration server
//   - Multiplexes many topic subscriptions over it
//   - Joins concurrent Connect calls onto a single handshake
//   - Rebinds every registered subscription after each (re)connect
//   - Reconnects with a fixed delay after the connection drops
//   - Reports non-fatal conditions through an Observer
package collab
