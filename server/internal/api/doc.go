// Package api implements the HTTP surface of the relay.
//
// New(deps) returns an http.Handler that serves:
//
//	GET  /                          - greeting trigger; delivers the configured
//	                                  message to the configured identity
//	POST /api/v1/deliver            - {identity, payload} → {outcome, connection_id}
//	GET  /api/v1/bindings/{identity} - current binding and whether it is live here
//	GET  /api/v1/presence           - node-local and cluster presence counts
//	GET  /healthz                   - liveness
//
// The greeting trigger answers in plain text:
//
//	200 <reply>               delivered
//	404 unroutable            identity unbound or its connection is gone
//	503 store unavailable
//	502 send failed
//
// All /api/v1 endpoints respond with application/json and return 405 for
// unsupported methods. JSON types are defined in types.go.
package api
