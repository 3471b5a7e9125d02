// Package presence announces connection counts.
//
// Broadcaster implements registry.Announcer: on every connect or disconnect
// it pushes the node's count to each local connection (best effort, a full
// buffer drops the frame) and hands the count to a Fanout for other nodes.
// Publishing runs in Broadcaster.Run so a slow fan-out never delays local
// connection handling; only the latest count is published, and it is
// republished on every heartbeat.
//
// Cluster consumes a Fanout and keeps the last announcement of every node,
// dropping nodes that stay silent longer than the configured TTL.
//
// The count pushed to clients is always the local node's count. The cluster
// total is informational and served by the REST API.
package presence
