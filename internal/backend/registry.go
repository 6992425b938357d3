// ABOUTME: Network registry lookup that discovers the data API base URL
// ABOUTME: Used at startup when backend.base_url is not pinned in config

package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/2389/garage-assistant/internal/metrics"
)

// registryEntry is the registry's answer for this service
type registryEntry struct {
	APIURL string `json:"api_url"`
}

// ResolveBaseURL asks the registry at registryURL where the data API lives.
func ResolveBaseURL(ctx context.Context, httpClient *http.Client, registryURL string) (string, error) {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, registryURL, nil)
	if err != nil {
		return "", fmt.Errorf("creating registry request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := httpClient.Do(req)
	if err != nil {
		metrics.RecordGatewayRequest("registry", 0, time.Since(start))
		return "", fmt.Errorf("registry request failed: %w", err)
	}
	defer resp.Body.Close()
	metrics.RecordGatewayRequest("registry", resp.StatusCode, time.Since(start))

	if resp.StatusCode != http.StatusOK {
		return "", &APIError{Endpoint: "registry", StatusCode: resp.StatusCode}
	}

	var entry registryEntry
	if err := json.NewDecoder(resp.Body).Decode(&entry); err != nil {
		return "", fmt.Errorf("decoding registry response: %w", err)
	}

	u, err := url.Parse(entry.APIURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", fmt.Errorf("registry returned invalid api_url %q", entry.APIURL)
	}
	return strings.TrimSuffix(entry.APIURL, "/"), nil
}
