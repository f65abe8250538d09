package ai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	appErr "github.com/xxxsen/mrag/internal/pkg/errors"
)

func TestOpenAIEmbedBatch_RealignsByIndex(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/embeddings", r.URL.Path)
		require.Equal(t, "Bearer k", r.Header.Get("Authorization"))
		var req openAIEmbedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, []string{"a", "b"}, req.Input)
		_, _ = w.Write([]byte(`{"data":[{"index":1,"embedding":[2,2]},{"index":0,"embedding":[1,1]}]}`))
	}))
	defer srv.Close()

	p, err := NewEmbedProvider("openai", map[string]interface{}{"api_key": "k", "base_url": srv.URL + "/v1"})
	require.NoError(t, err)
	vecs, err := p.EmbedBatch(context.Background(), "m", []string{"a", "b"}, "")
	require.NoError(t, err)
	require.Equal(t, [][]float32{{1, 1}, {2, 2}}, vecs)
}

func TestOpenAIEmbed_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	p, err := NewEmbedProvider("openai", map[string]interface{}{"api_key": "k", "base_url": srv.URL})
	require.NoError(t, err)
	e := NewEmbedder(p, EmbedderConfig{Model: "m", Dimension: 2})
	_, err = e.Embed(context.Background(), "hello", TaskRetrievalQuery)
	require.ErrorIs(t, err, appErr.ErrEmbedding)
	require.Contains(t, err.Error(), "429")
}

func TestOpenAIEmbed_MissingKeyUnavailable(t *testing.T) {
	t.Setenv("MRAG_TEST_EMPTY_KEY", "")
	p, err := NewEmbedProvider("openai", map[string]interface{}{"api_key_env": "MRAG_TEST_EMPTY_KEY"})
	require.NoError(t, err)
	_, err = p.Embed(context.Background(), "m", "x", "")
	require.ErrorIs(t, err, ErrUnavailable)
}

func TestResolveKey_FromEnv(t *testing.T) {
	t.Setenv("MRAG_TEST_KEY", " secret ")
	require.Equal(t, "secret", resolveKey("", "MRAG_TEST_KEY"))
	require.Equal(t, "inline", resolveKey("inline", "MRAG_TEST_KEY"))
	require.Equal(t, "", resolveKey("", ""))
}

func TestCloudflareEmbedBatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/accounts/acc/ai/run/@cf/baai/bge-m3", r.URL.Path)
		var req map[string][]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, []string{"x", "y"}, req["text"])
		_, _ = w.Write([]byte(`{"success":true,"errors":[],"result":{"shape":[2,2],"data":[[1,0],[0,1]]}}`))
	}))
	defer srv.Close()

	p, err := NewEmbedProvider("cloudflare", map[string]interface{}{"account_id": "acc", "api_key": "k", "base_url": srv.URL})
	require.NoError(t, err)
	vecs, err := p.EmbedBatch(context.Background(), "", []string{"x", "y"}, "")
	require.NoError(t, err)
	require.Equal(t, [][]float32{{1, 0}, {0, 1}}, vecs)
}

func TestCloudflareEmbed_Unsuccessful(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"success":false,"errors":[{"code":5006,"message":"bad input"}]}`))
	}))
	defer srv.Close()

	p, err := NewEmbedProvider("cloudflare", map[string]interface{}{"account_id": "acc", "api_key": "k", "base_url": srv.URL})
	require.NoError(t, err)
	_, err = p.Embed(context.Background(), "", "x", "")
	require.Error(t, err)
	require.Contains(t, err.Error(), "bad input")
}

func TestCloudflareRerank(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/accounts/acc/ai/run/@cf/baai/bge-reranker-base", r.URL.Path)
		var req cloudflareRerankRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "q", req.Query)
		require.Equal(t, 2, req.TopK)
		require.Len(t, req.Contexts, 3)
		_, _ = w.Write([]byte(`{"success":true,"result":{"response":[{"id":2,"score":0.4},{"id":0,"score":0.9}]}}`))
	}))
	defer srv.Close()

	p, err := NewRerankProvider("cloudflare", map[string]interface{}{"account_id": "acc", "api_key": "k", "base_url": srv.URL})
	require.NoError(t, err)
	r := NewReranker(p, RerankerConfig{})
	res, err := r.Rerank(context.Background(), "q", []string{"a", "b", "c"}, 2)
	require.NoError(t, err)
	require.Equal(t, []RerankResult{{Index: 0, Score: 0.9}, {Index: 2, Score: 0.4}}, res)
}

func TestCohereRerank(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/rerank", r.URL.Path)
		var req cohereRerankRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "rerank-v3.5", req.Model)
		require.Equal(t, 1, req.TopN)
		_, _ = w.Write([]byte(`{"results":[{"index":1,"relevance_score":0.8}]}`))
	}))
	defer srv.Close()

	p, err := NewRerankProvider("cohere", map[string]interface{}{"api_key": "k", "base_url": srv.URL})
	require.NoError(t, err)
	r := NewReranker(p, RerankerConfig{Model: "rerank-v3.5"})
	res, err := r.Rerank(context.Background(), "q", []string{"a", "b"}, 1)
	require.NoError(t, err)
	require.Equal(t, []RerankResult{{Index: 1, Score: 0.8}}, res)
}

func TestRegistry_Unknown(t *testing.T) {
	_, err := NewEmbedProvider("nope", nil)
	require.Error(t, err)
	_, err = NewEmbedProvider("", nil)
	require.Error(t, err)
	_, err = NewRerankProvider("nope", nil)
	require.Error(t, err)
	_, err = NewEmbedProvider("openai", nil)
	require.Error(t, err)
}
