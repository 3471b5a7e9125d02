// Package gateway routes messages to identities.
//
// BindIdentity records identity → connection in the binding store.
// Deliver resolves an identity, looks the connection up in the local
// registry and sends the payload once. Every failure is reported to the
// caller as an Outcome; nothing is retried or queued:
//
//	Delivered        - the payload was queued on the live connection
//	Unroutable       - never bound, removed, or bound to a connection that is
//	                   not live on this node (stale binding)
//	StoreUnavailable - the binding store failed or timed out
//	SendFailed       - the live connection refused the payload
//
// Each store call runs under Options.StoreTimeout and the whole delivery
// under Options.DeliveryTimeout. Options can be replaced at runtime.
package gateway
