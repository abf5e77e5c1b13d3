package builtin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"loom/internal/agent/ports"
)

// WebSearchConfig points the web.search tool at a search API.
type WebSearchConfig struct {
	Endpoint string        `yaml:"endpoint" json:"endpoint"`
	APIKey   string        `yaml:"api_key" json:"api_key"`
	Timeout  time.Duration `yaml:"timeout" json:"timeout"`
}

type webSearch struct {
	config WebSearchConfig
	client *http.Client
}

// NewWebSearch creates the web.search tool.
func NewWebSearch(config WebSearchConfig) ports.ToolExecutor {
	if config.Timeout <= 0 {
		config.Timeout = 15 * time.Second
	}
	return &webSearch{
		config: config,
		client: &http.Client{Timeout: config.Timeout},
	}
}

type searchHit struct {
	Title   string  `json:"title"`
	URL     string  `json:"url"`
	Content string  `json:"content"`
	Score   float64 `json:"score,omitempty"`
}

func (t *webSearch) Execute(ctx context.Context, call *ports.ToolCall) (*ports.ToolResult, error) {
	if t.config.Endpoint == "" {
		return errorResult(call.CallID, "web search is not configured", "set tools.web_search.endpoint in the server config", "not_configured"), nil
	}

	queries := extractQueries(call.Params)
	if len(queries) == 0 {
		return errorResult(call.CallID, "missing \"query\"", "", "validation_error"), nil
	}
	perQuery := int(call.Params.GetInt("results_per_query", 5))

	var b strings.Builder
	allHits := make(map[string][]searchHit, len(queries))
	for _, query := range queries {
		hits, err := t.search(ctx, query, perQuery)
		if err != nil {
			return errorResult(call.CallID, fmt.Sprintf("search %q: %v", query, err), "retry, or narrow the query", "search_error"), nil
		}
		allHits[query] = hits
		fmt.Fprintf(&b, "## %s\n", query)
		for _, hit := range hits {
			fmt.Fprintf(&b, "- %s (%s)\n  %s\n", hit.Title, hit.URL, hit.Content)
		}
	}

	result := successResult(call.CallID, b.String())
	result.Payload = map[string]any{"results": allHits}
	result.Metadata["queries"] = len(queries)
	return result, nil
}

func (t *webSearch) search(ctx context.Context, query string, maxResults int) ([]searchHit, error) {
	body, err := json.Marshal(map[string]any{
		"query":       query,
		"max_results": maxResults,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.config.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if t.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+t.config.APIKey)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search API returned %s", resp.Status)
	}

	var decoded struct {
		Results []searchHit `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return decoded.Results, nil
}

// extractQueries accepts query as a single string or an array of strings.
func extractQueries(params ports.Params) []string {
	value, ok := params.Get("query")
	if !ok {
		return nil
	}
	switch value.Kind {
	case ports.KindArray:
		var out []string
		for _, item := range value.Array {
			if q := strings.TrimSpace(item.AsString()); q != "" {
				out = append(out, q)
			}
		}
		return out
	default:
		if q := strings.TrimSpace(value.AsString()); q != "" {
			return []string{q}
		}
		return nil
	}
}

func (t *webSearch) Definition() ports.ToolDefinition {
	return ports.ToolDefinition{
		Name:        "web.search",
		Version:     "1.0.0",
		Description: "Search the web and return summarized results",
		Effects:     []ports.Effect{ports.EffectNet},
		Params: []ports.ParamSpec{
			{Name: "query", Type: "string", Description: "Search query, or an array of queries", Required: true},
			{Name: "results_per_query", Type: "integer", Description: "Results per query", Default: 5},
		},
		OutputDesc: "structured results per query",
	}
}
