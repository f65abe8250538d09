package ai

import (
	"context"
	"fmt"
	"sort"
	"time"

	appErr "github.com/xxxsen/mrag/internal/pkg/errors"
)

type RerankerConfig struct {
	Model   string
	Timeout int
}

type reranker struct {
	provider IRerankProvider
	cfg      RerankerConfig
}

func NewReranker(p IRerankProvider, cfg RerankerConfig) IReranker {
	return &reranker{provider: p, cfg: cfg}
}

func (r *reranker) Rerank(ctx context.Context, query string, docs []string, limit int) ([]RerankResult, error) {
	if len(docs) == 0 || limit <= 0 {
		return []RerankResult{}, nil
	}
	if limit > len(docs) {
		limit = len(docs)
	}
	if r.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(r.cfg.Timeout)*time.Second)
		defer cancel()
	}
	res, err := r.provider.Rerank(ctx, r.cfg.Model, query, docs, limit)
	if err != nil {
		return nil, appErr.Wrap(appErr.ErrRerank, fmt.Errorf("%s: %w", r.provider.Name(), err))
	}
	if err := validateRerank(res, len(docs)); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", appErr.ErrRerank, r.provider.Name(), err)
	}
	out := make([]RerankResult, len(res))
	copy(out, res)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Score > out[j].Score
	})
	// some backends ignore top_k
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func validateRerank(res []RerankResult, total int) error {
	seen := make(map[int]struct{}, len(res))
	for _, item := range res {
		if item.Index < 0 || item.Index >= total {
			return fmt.Errorf("index %d out of range [0,%d)", item.Index, total)
		}
		if _, ok := seen[item.Index]; ok {
			return fmt.Errorf("duplicate index %d", item.Index)
		}
		seen[item.Index] = struct{}{}
	}
	return nil
}
