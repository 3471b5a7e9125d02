// Package events defines the wire format shared by relay-server and
// relay-client.
//
// Every WebSocket text frame carries one JSON envelope:
//
//	{ "event": "userid", "data": "abcd", "ack": 1 }
//
// Ack is set by the sender of a request that expects an acknowledgement. The
// receiver answers with an "ack" envelope carrying the same Ack number and
// either Data (success) or Error.
package events
