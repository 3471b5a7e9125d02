// Package registry tracks the live transport connections of one node and the
// node's presence count.
//
// OnConnect and OnDisconnect are the only ways to change the count. Each call
// that changes the live set triggers exactly one Announce, and announcements
// leave the registry in the order the events were observed. A disconnect for
// an id that is not live is a no-op.
//
// Lookup and Snapshot take a read lock only and never wait for an
// announcement in progress.
package registry
