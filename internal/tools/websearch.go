// Package tools holds the builtin Tool Registry implementations wired by
// cmd/agentrund. Grounded on the pack's own web-search tool (nevindra-oasis
// tools/search), trimmed to a single HTTP round trip since this core has no
// embedding-based re-ranking step of its own at the tool layer (that
// happens in the Retrieval Engine instead).
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/tarsy-labs/agentrun/internal/config"
	"github.com/tarsy-labs/agentrun/internal/runerr"
	"github.com/tarsy-labs/agentrun/internal/toolregistry"
)

// WebSearch implements the "web_search.search" tool against a
// Brave-Search-compatible HTTP API. apiKey/baseURL are resolved once at
// startup; an empty baseURL disables the tool (NewWebSearch still returns an
// Implementation so the registry entry is stable, but every call fails fast
// with an upstream error rather than panicking on a nil client).
type WebSearch struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func NewWebSearch(baseURL, apiKey string) *WebSearch {
	return &WebSearch{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// Descriptor returns the registry descriptor for this implementation from
// its declared config/defaults.go entry.
func (w *WebSearch) Descriptor(cfg config.ToolConfig) toolregistry.Descriptor {
	return toolregistry.Descriptor{
		Name:        "web_search.search",
		Description: cfg.Description,
		Schema:      toolregistry.Schema{"query": {Type: "string", Required: true}},
		Timeout:     cfg.Timeout(),
		Fallback:    cfg.Fallback,
		Idempotent:  cfg.Idempotent,
		SideEffects: toolregistry.SideEffectRead,
	}
}

// Implementation is the toolregistry.Implementation for "web_search.search".
func (w *WebSearch) Implementation(ctx context.Context, params map[string]any) (any, error) {
	query, _ := params["query"].(string)
	if query == "" {
		return nil, runerr.InvalidInput("web_search.search requires a non-empty query", nil)
	}
	if w.baseURL == "" {
		return nil, runerr.UpstreamError("web_search.search has no configured search backend", nil)
	}

	u := fmt.Sprintf("%s?q=%s", w.baseURL, url.QueryEscape(query))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, runerr.Internal("building search request", err)
	}
	req.Header.Set("Accept", "application/json")
	if w.apiKey != "" {
		req.Header.Set("X-Subscription-Token", w.apiKey)
	}

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return nil, runerr.UpstreamError("web search request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, runerr.UpstreamError(fmt.Sprintf("web search API returned %d: %s", resp.StatusCode, body), nil)
	}

	var data struct {
		Web struct {
			Results []struct {
				Title       string `json:"title"`
				URL         string `json:"url"`
				Description string `json:"description"`
			} `json:"results"`
		} `json:"web"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return nil, runerr.UpstreamError("parsing web search response", err)
	}

	results := make([]map[string]string, 0, len(data.Web.Results))
	for _, r := range data.Web.Results {
		results = append(results, map[string]string{"title": r.Title, "url": r.URL, "snippet": r.Description})
	}
	return map[string]any{"query": query, "results": results}, nil
}
