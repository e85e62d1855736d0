// Package transport implements STOMP over WebSocket for the collaboration client.
//
// A Dialer opens a gorilla/websocket connection, either raw or through the
// SockJS websocket transport, and performs the STOMP CONNECT handshake with the
// bearer credential. The resulting session:
//   - Dispatches MESSAGE frames to subscriptions by id
//   - Sends heart-beats at the negotiated interval
//   - Declares the connection stale when the server goes quiet
//   - Reports loss of the connection through Done and Err
package transport
