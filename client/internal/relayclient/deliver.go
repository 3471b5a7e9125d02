package relayclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// DeliverResult is the response of POST /api/v1/deliver.
type DeliverResult struct {
	Outcome      string `json:"outcome"`
	ConnectionID string `json:"connection_id,omitempty"`
	Error        string `json:"error,omitempty"`
}

// Delivered reports whether the payload reached a live connection.
func (r DeliverResult) Delivered() bool { return r.Outcome == "delivered" }

// Deliver asks the relay at apiURL to push payload to identity. Undelivered
// outcomes are returned in the result; err is set only when the request
// itself failed.
func Deliver(ctx context.Context, hc *http.Client, apiURL, identity string, payload any) (DeliverResult, error) {
	if hc == nil {
		hc = http.DefaultClient
	}

	body, err := json.Marshal(map[string]any{"identity": identity, "payload": payload})
	if err != nil {
		return DeliverResult{}, fmt.Errorf("relayclient: encode request: %w", err)
	}

	url := strings.TrimSuffix(apiURL, "/") + "/api/v1/deliver"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return DeliverResult{}, fmt.Errorf("relayclient: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := hc.Do(req)
	if err != nil {
		return DeliverResult{}, fmt.Errorf("relayclient: POST %s: %w", url, err)
	}
	defer resp.Body.Close()

	var res DeliverResult
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return DeliverResult{}, fmt.Errorf("relayclient: POST %s: status %d: decode response: %w", url, resp.StatusCode, err)
	}
	if res.Outcome == "" {
		return res, fmt.Errorf("relayclient: POST %s: status %d: %s", url, resp.StatusCode, res.Error)
	}
	return res, nil
}
