// Package search provides the web-search API client: query in, list of
// text snippets out.
package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Client talks to a Serper-style web search endpoint.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	stubMode   bool
}

// NewClient creates a new search client with the given configuration
func NewClient(baseURL, apiKey string, stubMode bool) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		stubMode:   stubMode,
	}
}

// Configured reports whether a search API key is available.
func (c *Client) Configured() bool {
	return c.stubMode || c.apiKey != ""
}

type searchRequest struct {
	Query string `json:"q"`
	Num   int    `json:"num"`
}

type searchResponse struct {
	Organic []struct {
		Title   string `json:"title"`
		Snippet string `json:"snippet"`
	} `json:"organic"`
}

// Search issues one query with a result cap and returns snippet strings.
// An optional per-request API key overrides the client key (user-supplied
// keys for deep research).
func (c *Client) Search(ctx context.Context, query string, limit int, apiKeyOverride string) ([]string, error) {
	if c.stubMode {
		return []string{"Stub search result for: " + query}, nil
	}

	apiKey := c.apiKey
	if apiKeyOverride != "" {
		apiKey = apiKeyOverride
	}
	if apiKey == "" {
		return nil, fmt.Errorf("search API key is not configured")
	}

	jsonData, err := json.Marshal(searchRequest{Query: query, Num: limit})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/search", bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("X-API-KEY", apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("search API returned status %d: %s", resp.StatusCode, string(body))
	}

	var parsed searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	snippets := make([]string, 0, len(parsed.Organic))
	for _, r := range parsed.Organic {
		text := strings.TrimSpace(r.Snippet)
		if text == "" {
			continue
		}
		if r.Title != "" {
			text = r.Title + ": " + text
		}
		snippets = append(snippets, text)
	}
	return snippets, nil
}
