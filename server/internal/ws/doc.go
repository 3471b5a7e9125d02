// Package ws implements the WebSocket transport of the relay.
//
// Hub.ServeHTTP upgrades a request, assigns the connection a random id and
// registers it with the connection registry, which announces the new
// presence count. The connection is unregistered when the read side fails
// or the client closes.
//
// Frames are JSON envelopes (see pkg/events):
//
//	client → server  {"event":"userid","data":"abcd","ack":1}
//	server → client  {"event":"ack","ack":1,"data":"ok"}
//	server → client  {"event":"ack","ack":1,"error":"..."}
//	server → client  {"event":"users","data":3}
//	server → client  {"event":"hello","data":"你好"}
//
// Outgoing frames go through a bounded per-connection buffer. Send never
// blocks: a full buffer drops the frame and reports ErrSendBufferFull.
// Unknown client events are logged and ignored.
package ws
