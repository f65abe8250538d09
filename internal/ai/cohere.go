package ai

import (
	"context"
	"fmt"
	"strings"
)

const defaultCohereBaseURL = "https://api.cohere.com/v2"

type cohereConfig struct {
	APIKey    string `json:"api_key"`
	APIKeyEnv string `json:"api_key_env"`
	BaseURL   string `json:"base_url"`
}

type cohereRerankRequest struct {
	Model     string   `json:"model"`
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	TopN      int      `json:"top_n"`
}

type cohereRerankResponse struct {
	Results []struct {
		Index          int     `json:"index"`
		RelevanceScore float64 `json:"relevance_score"`
	} `json:"results"`
}

// cohereRerankProvider speaks the /rerank shape shared by Cohere and Jina.
type cohereRerankProvider struct {
	apiKey  string
	baseURL string
}

func (p *cohereRerankProvider) Name() string {
	return "cohere"
}

func (p *cohereRerankProvider) Rerank(ctx context.Context, model string, query string, docs []string, limit int) ([]RerankResult, error) {
	if p.apiKey == "" {
		return nil, ErrUnavailable
	}
	endpoint := strings.TrimRight(p.baseURL, "/") + "/rerank"
	req := cohereRerankRequest{Model: model, Query: query, Documents: docs, TopN: limit}
	var out cohereRerankResponse
	headers := map[string]string{"Authorization": "Bearer " + p.apiKey}
	if err := postJSON(ctx, nil, endpoint, headers, req, &out); err != nil {
		return nil, fmt.Errorf("cohere: %w", err)
	}
	res := make([]RerankResult, 0, len(out.Results))
	for _, item := range out.Results {
		res = append(res, RerankResult{Index: item.Index, Score: item.RelevanceScore})
	}
	return res, nil
}

func createCohereRerankFactory(args interface{}) (IRerankProvider, error) {
	cfg := &cohereConfig{}
	if err := decodeConfig(args, cfg); err != nil {
		return nil, err
	}
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = defaultCohereBaseURL
	}
	return &cohereRerankProvider{
		apiKey:  resolveKey(cfg.APIKey, cfg.APIKeyEnv),
		baseURL: baseURL,
	}, nil
}

func init() {
	RegisterRerank("cohere", createCohereRerankFactory)
}
