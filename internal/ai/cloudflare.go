package ai

import (
	"context"
	"fmt"
	"strings"
)

const (
	defaultCloudflareBaseURL     = "https://api.cloudflare.com/client/v4"
	defaultCloudflareEmbedModel  = "@cf/baai/bge-m3"
	defaultCloudflareRerankModel = "@cf/baai/bge-reranker-base"
)

type cloudflareConfig struct {
	AccountID string `json:"account_id"`
	APIKey    string `json:"api_key"`
	APIKeyEnv string `json:"api_key_env"`
	BaseURL   string `json:"base_url"`
}

type cloudflareError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type cloudflareEmbedResponse struct {
	Success bool              `json:"success"`
	Errors  []cloudflareError `json:"errors"`
	Result  struct {
		Data [][]float32 `json:"data"`
	} `json:"result"`
}

type cloudflareRerankContext struct {
	Text string `json:"text"`
}

type cloudflareRerankRequest struct {
	Query    string                    `json:"query"`
	Contexts []cloudflareRerankContext `json:"contexts"`
	TopK     int                       `json:"top_k"`
}

type cloudflareRerankResponse struct {
	Success bool              `json:"success"`
	Errors  []cloudflareError `json:"errors"`
	Result  struct {
		Response []struct {
			ID    int     `json:"id"`
			Score float64 `json:"score"`
		} `json:"response"`
	} `json:"result"`
}

// cloudflareClient calls Workers AI models through the REST API.
type cloudflareClient struct {
	accountID string
	apiKey    string
	baseURL   string
}

func (c *cloudflareClient) run(ctx context.Context, model string, in interface{}, out interface{}) error {
	if c.apiKey == "" || c.accountID == "" {
		return ErrUnavailable
	}
	endpoint := fmt.Sprintf("%s/accounts/%s/ai/run/%s", strings.TrimRight(c.baseURL, "/"), c.accountID, model)
	headers := map[string]string{"Authorization": "Bearer " + c.apiKey}
	if err := postJSON(ctx, nil, endpoint, headers, in, out); err != nil {
		return fmt.Errorf("cloudflare: %w", err)
	}
	return nil
}

func cloudflareFailure(errs []cloudflareError) error {
	msgs := make([]string, 0, len(errs))
	for _, e := range errs {
		msgs = append(msgs, fmt.Sprintf("%d %s", e.Code, e.Message))
	}
	return fmt.Errorf("cloudflare request unsuccessful: %s", strings.Join(msgs, "; "))
}

type cloudflareEmbedProvider struct {
	client *cloudflareClient
}

func (p *cloudflareEmbedProvider) Name() string {
	return "cloudflare"
}

func (p *cloudflareEmbedProvider) Embed(ctx context.Context, model string, text string, taskType string) ([]float32, error) {
	vecs, err := p.EmbedBatch(ctx, model, []string{text}, taskType)
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (p *cloudflareEmbedProvider) EmbedBatch(ctx context.Context, model string, texts []string, _ string) ([][]float32, error) {
	if model == "" {
		model = defaultCloudflareEmbedModel
	}
	var out cloudflareEmbedResponse
	if err := p.client.run(ctx, model, map[string]interface{}{"text": texts}, &out); err != nil {
		return nil, err
	}
	if !out.Success {
		return nil, cloudflareFailure(out.Errors)
	}
	if len(out.Result.Data) != len(texts) {
		return nil, fmt.Errorf("cloudflare returned %d embeddings for %d inputs", len(out.Result.Data), len(texts))
	}
	return out.Result.Data, nil
}

type cloudflareRerankProvider struct {
	client *cloudflareClient
}

func (p *cloudflareRerankProvider) Name() string {
	return "cloudflare"
}

func (p *cloudflareRerankProvider) Rerank(ctx context.Context, model string, query string, docs []string, limit int) ([]RerankResult, error) {
	if model == "" {
		model = defaultCloudflareRerankModel
	}
	contexts := make([]cloudflareRerankContext, 0, len(docs))
	for _, doc := range docs {
		contexts = append(contexts, cloudflareRerankContext{Text: doc})
	}
	var out cloudflareRerankResponse
	req := cloudflareRerankRequest{Query: query, Contexts: contexts, TopK: limit}
	if err := p.client.run(ctx, model, req, &out); err != nil {
		return nil, err
	}
	if !out.Success {
		return nil, cloudflareFailure(out.Errors)
	}
	res := make([]RerankResult, 0, len(out.Result.Response))
	for _, item := range out.Result.Response {
		res = append(res, RerankResult{Index: item.ID, Score: item.Score})
	}
	return res, nil
}

func newCloudflareClient(args interface{}) (*cloudflareClient, error) {
	cfg := &cloudflareConfig{}
	if err := decodeConfig(args, cfg); err != nil {
		return nil, err
	}
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = defaultCloudflareBaseURL
	}
	return &cloudflareClient{
		accountID: strings.TrimSpace(cfg.AccountID),
		apiKey:    resolveKey(cfg.APIKey, cfg.APIKeyEnv),
		baseURL:   baseURL,
	}, nil
}

func createCloudflareEmbedFactory(args interface{}) (IEmbedProvider, error) {
	client, err := newCloudflareClient(args)
	if err != nil {
		return nil, err
	}
	return &cloudflareEmbedProvider{client: client}, nil
}

func createCloudflareRerankFactory(args interface{}) (IRerankProvider, error) {
	client, err := newCloudflareClient(args)
	if err != nil {
		return nil, err
	}
	return &cloudflareRerankProvider{client: client}, nil
}

func init() {
	RegisterEmbed("cloudflare", createCloudflareEmbedFactory)
	RegisterRerank("cloudflare", createCloudflareRerankFactory)
}
