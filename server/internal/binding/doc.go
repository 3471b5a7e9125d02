// Package binding maps application-level identities to the id of the
// transport connection currently representing them.
//
// A Store is shared by every node of a deployment. Bind overwrites (last
// writer wins) and never checks that the connection is live; a binding
// outlives its connection until it is overwritten or explicitly removed with
// Unbind. Resolve reports ErrNotFound for identities that were never bound or
// were removed, and ErrUnavailable when the backing store cannot answer. The
// two are never conflated.
//
// Implementations:
//   - MemoryStore   - single-node deployments and tests
//   - RedisStore    - SET/GET/DEL on "<prefix><identity>"
//   - PostgresStore - upsert into the identity_bindings table
package binding
