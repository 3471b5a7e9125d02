// Package relayclient connects to relay-server as an end user would.
//
// Client.Dial opens a WebSocket Session. Session.Bind sends the identity bind
// request and waits for its acknowledgement; every other frame is delivered
// on Session.Events.
//
// Client.Run keeps a bound session alive: it dials, binds, forwards events to
// a handler and, when the connection is lost, reconnects with truncated
// exponential backoff (1s→60s, ±25% jitter by default) and binds again.
// Bindings are not removed when a connection drops, so the identity routes to
// the old connection until the new bind lands.
//
// Deliver calls POST /api/v1/deliver on the HTTP API.
package relayclient
