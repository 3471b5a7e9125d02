package api

import "encoding/json"

// DeliverRequest is the body of POST /api/v1/deliver.
type DeliverRequest struct {
	Identity string          `json:"identity"`
	Payload  json.RawMessage `json:"payload"`
}

// DeliverResponse is the payload for POST /api/v1/deliver.
type DeliverResponse struct {
	Outcome      string `json:"outcome"`
	ConnectionID string `json:"connection_id,omitempty"`
	Error        string `json:"error,omitempty"`
}

// BindingResponse is the payload for GET /api/v1/bindings/{identity}.
type BindingResponse struct {
	Identity     string `json:"identity"`
	ConnectionID string `json:"connection_id"`
	Live         bool   `json:"live"`
}

// NodeResponse is one node entry in PresenceResponse.
type NodeResponse struct {
	NodeID   string `json:"node_id"`
	Count    int    `json:"count"`
	LastSeen string `json:"last_seen"` // RFC3339
}

// PresenceResponse is the payload for GET /api/v1/presence.
type PresenceResponse struct {
	NodeID       string         `json:"node_id"`
	LocalCount   int            `json:"local_count"`
	ClusterCount int            `json:"cluster_count"`
	Nodes        []NodeResponse `json:"nodes"`
}

// errorResponse is a generic JSON error body.
type errorResponse struct {
	Error string `json:"error"`
}
