package ai

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	appErr "github.com/xxxsen/mrag/internal/pkg/errors"
)

type stubRerankProvider struct {
	res []RerankResult
	err error
}

func (p *stubRerankProvider) Name() string { return "stub" }

func (p *stubRerankProvider) Rerank(ctx context.Context, model string, query string, docs []string, limit int) ([]RerankResult, error) {
	return p.res, p.err
}

func TestReranker_ValidatesAnswer(t *testing.T) {
	docs := []string{"a", "b", "c"}
	tests := []struct {
		name string
		res  []RerankResult
	}{
		{name: "out of range", res: []RerankResult{{Index: 3, Score: 1}}},
		{name: "negative", res: []RerankResult{{Index: -1, Score: 1}}},
		{name: "duplicate", res: []RerankResult{{Index: 1, Score: 1}, {Index: 1, Score: 0.5}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewReranker(&stubRerankProvider{res: tt.res}, RerankerConfig{})
			_, err := r.Rerank(context.Background(), "q", docs, 2)
			require.ErrorIs(t, err, appErr.ErrRerank)
		})
	}
}

func TestReranker_SortsByScore(t *testing.T) {
	r := NewReranker(&stubRerankProvider{res: []RerankResult{{Index: 0, Score: 0.1}, {Index: 2, Score: 0.7}, {Index: 1, Score: 0.3}}}, RerankerConfig{})
	res, err := r.Rerank(context.Background(), "q", []string{"a", "b", "c"}, 3)
	require.NoError(t, err)
	require.Equal(t, []int{2, 1, 0}, []int{res[0].Index, res[1].Index, res[2].Index})
}

func TestReranker_TruncatesToLimit(t *testing.T) {
	r := NewReranker(&stubRerankProvider{res: []RerankResult{
		{Index: 0, Score: 0.2},
		{Index: 1, Score: 0.9},
		{Index: 2, Score: 0.5},
	}}, RerankerConfig{})
	res, err := r.Rerank(context.Background(), "q", []string{"a", "b", "c"}, 2)
	require.NoError(t, err)
	require.Equal(t, []RerankResult{{Index: 1, Score: 0.9}, {Index: 2, Score: 0.5}}, res)
}

func TestReranker_RemoteError(t *testing.T) {
	r := NewReranker(&stubRerankProvider{err: errors.New("down")}, RerankerConfig{})
	_, err := r.Rerank(context.Background(), "q", []string{"a"}, 1)
	require.ErrorIs(t, err, appErr.ErrRerank)
}

func TestReranker_NoDocs(t *testing.T) {
	r := NewReranker(&stubRerankProvider{err: errors.New("must not be called")}, RerankerConfig{})
	res, err := r.Rerank(context.Background(), "q", nil, 5)
	require.NoError(t, err)
	require.Empty(t, res)
}
