package source

import (
	"context"
	"log"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/Presh-Marketing/wrike-neon-sync/internal/engine"
)

// DefaultHubSpotBaseURL is the production HubSpot API root.
const DefaultHubSpotBaseURL = "https://api.hubapi.com"

// hubSpotPageSize is the CRM list endpoint's maximum page size.
const hubSpotPageSize = 100

// HubSpot pulls CRM objects through the v3 list endpoints with cursor
// pagination.
type HubSpot struct {
	api    apiClient
	logger *log.Logger
}

// NewHubSpot returns a HubSpot client. Empty baseURL means production; nil
// logger means stderr.
func NewHubSpot(baseURL, token string, httpClient *http.Client, logger *log.Logger) *HubSpot {
	if baseURL == "" {
		baseURL = DefaultHubSpotBaseURL
	}
	if logger == nil {
		logger = log.New(os.Stderr, "[hubspot] ", log.LstdFlags)
	}
	return &HubSpot{api: newAPIClient(baseURL, token, httpClient), logger: logger}
}

// Ping performs a cheap authenticated call for pre-flight checks.
func (h *HubSpot) Ping(ctx context.Context) error {
	query := url.Values{"limit": {"1"}}
	var resp struct{}
	return h.api.getJSON(ctx, "/crm/v3/objects/contacts", query, &resp)
}

type hubSpotPage struct {
	Results []struct {
		ID         string         `json:"id"`
		Properties map[string]any `json:"properties"`
	} `json:"results"`
	Paging struct {
		Next struct {
			After string `json:"after"`
		} `json:"next"`
	} `json:"paging"`
}

// FetchAll walks an object's list endpoint until the cursor runs out or
// limit records have been collected (limit <= 0 means everything).
//
// A page error mid-walk degrades instead of failing the run: whatever was
// already fetched is returned and the error is logged, matching the rest of
// the pipeline's record-what-you-can posture. Callers that need a hard
// answer about connectivity use Ping.
func (h *HubSpot) FetchAll(ctx context.Context, objectPath string, properties []string, limit int) []engine.SourceRecord {
	path := "/crm/v3/objects/" + objectPath
	props := strings.Join(properties, ",")

	var records []engine.SourceRecord
	after := ""
	for {
		pageSize := hubSpotPageSize
		if limit > 0 && limit-len(records) < pageSize {
			pageSize = limit - len(records)
		}

		query := url.Values{"limit": {strconv.Itoa(pageSize)}}
		if props != "" {
			query.Set("properties", props)
		}
		if after != "" {
			query.Set("after", after)
		}

		var page hubSpotPage
		if err := h.api.getJSON(ctx, path, query, &page); err != nil {
			h.logger.Printf("%s: page fetch failed after %d records: %v", objectPath, len(records), err)
			return records
		}

		for _, result := range page.Results {
			records = append(records, engine.SourceRecord{
				ID:    result.ID,
				Props: result.Properties,
			})
			if limit > 0 && len(records) >= limit {
				return records
			}
		}

		after = page.Paging.Next.After
		if after == "" {
			return records
		}
	}
}
