package actions

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// searchResult is one hit returned by webSearch, independent of which
// backend answered the query.
type searchResult struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	URL         string `json:"url"`
}

const defaultMaxSearchResults = 5

// webSearch looks up programming resources and documentation on behalf
// of the tool loop. It runs on the Agent side (not the Gateway) since the
// Agent is the process with outbound network access to the laptop's
// environment.
func webSearch(ctx context.Context, params map[string]any) (Result, error) {
	query, err := requireString(params, "query")
	if err != nil {
		return Result{}, err
	}
	maxResults := defaultMaxSearchResults
	if n, ok := params["num_results"].(float64); ok && n > 0 {
		maxResults = int(n)
	}
	if maxResults > 10 {
		maxResults = 10
	}

	results, err := duckDuckGoSearch(ctx, query, maxResults)
	if err != nil {
		return Result{ExitCode: 1, Stderr: err.Error()}, nil
	}

	payload := map[string]any{
		"query":        query,
		"result_count": len(results),
		"results":      results,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return Result{ExitCode: 1, Stderr: err.Error()}, nil
	}
	return Result{ExitCode: 0, Stdout: string(body)}, nil
}

// duckDuckGoSearch queries DuckDuckGo's Instant Answer API. It only
// surfaces encyclopedic/instant answers rather than general web results,
// but needs no API key, which keeps this action runnable out of the box.
func duckDuckGoSearch(ctx context.Context, query string, maxResults int) ([]searchResult, error) {
	searchURL := fmt.Sprintf(
		"https://api.duckduckgo.com/?q=%s&format=json&no_html=1&skip_disambig=1",
		url.QueryEscape(query),
	)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, searchURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("building search request: %w", err)
	}
	req.Header.Set("User-Agent", "openclaw-agent/1.0")

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading search response: %w", err)
	}

	var ddg struct {
		AbstractText string `json:"AbstractText"`
		Heading      string `json:"Heading"`
		AbstractURL  string `json:"AbstractURL"`
		RelatedTopics []struct {
			Text     string `json:"Text"`
			FirstURL string `json:"FirstURL"`
		} `json:"RelatedTopics"`
	}
	if err := json.Unmarshal(raw, &ddg); err != nil {
		return nil, fmt.Errorf("parsing search response: %w", err)
	}

	var results []searchResult
	if ddg.AbstractText != "" {
		results = append(results, searchResult{Title: ddg.Heading, Description: ddg.AbstractText, URL: ddg.AbstractURL})
	}
	for _, topic := range ddg.RelatedTopics {
		if len(results) >= maxResults {
			break
		}
		if topic.Text != "" {
			results = append(results, searchResult{Description: topic.Text, URL: topic.FirstURL})
		}
	}
	return results, nil
}
