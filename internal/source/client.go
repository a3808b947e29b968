// Package source extracts records from the two upstream APIs: Wrike for the
// project-management hierarchy and HubSpot for the CRM objects. Both clients
// flatten raw payloads into engine.SourceRecord so the rest of the pipeline
// never sees API-shaped JSON.
package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// apiClient is the HTTP plumbing shared by both upstream clients: bearer
// auth, query encoding, status checking, and JSON decoding.
type apiClient struct {
	http    *http.Client
	baseURL string
	token   string
}

func newAPIClient(baseURL, token string, httpClient *http.Client) apiClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return apiClient{http: httpClient, baseURL: baseURL, token: token}
}

// errBodyLimit caps how much of an error response body ends up in an error
// message.
const errBodyLimit = 512

func (c apiClient) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("building request for %s: %w", path, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("requesting %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, errBodyLimit))
		return fmt.Errorf("%s returned %s: %s", path, resp.Status, body)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s response: %w", path, err)
	}
	return nil
}

// stringOf returns the string form of a JSON scalar, or "" for anything
// else. Used when lifting ids out of raw payloads.
func stringOf(v any) string {
	s, _ := v.(string)
	return s
}

// firstString returns the first element of a JSON string array, or "".
func firstString(v any) string {
	arr, ok := v.([]any)
	if !ok || len(arr) == 0 {
		return ""
	}
	return stringOf(arr[0])
}
