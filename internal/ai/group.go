package ai

import (
	"context"
	"fmt"
	"strings"

	"github.com/xxxsen/common/logutil"
	appErr "github.com/xxxsen/mrag/internal/pkg/errors"
	"go.uber.org/zap"
)

type EmbedderEntry struct {
	Name     string
	Embedder IEmbedder
}

// groupEmbedder tries each entry in order and returns the first success.
// Every entry must produce vectors of the same dimension.
type groupEmbedder struct {
	items []EmbedderEntry
}

func NewGroupEmbedder(items []EmbedderEntry) (IEmbedder, error) {
	if len(items) == 0 {
		return nil, fmt.Errorf("embedder not configured")
	}
	dim := items[0].Embedder.Dimension()
	for _, item := range items[1:] {
		if item.Embedder.Dimension() != dim {
			return nil, fmt.Errorf("embedder %s dimension %d differs from %d", item.Name, item.Embedder.Dimension(), dim)
		}
	}
	if len(items) == 1 {
		return items[0].Embedder, nil
	}
	return &groupEmbedder{items: items}, nil
}

func (g *groupEmbedder) Embed(ctx context.Context, text string, taskType string) ([]float32, error) {
	var lastErr error
	for i, item := range g.items {
		res, err := item.Embedder.Embed(ctx, text, taskType)
		if err == nil {
			return res, nil
		}
		if appErr.IsInvalid(err) {
			return nil, err
		}
		lastErr = err
		logutil.GetLogger(ctx).Warn("embedder failed", zap.Int("index", i), zap.String("name", item.Name), zap.Error(err))
	}
	return nil, lastErr
}

func (g *groupEmbedder) EmbedBatch(ctx context.Context, texts []string, taskType string) ([][]float32, error) {
	var lastErr error
	for i, item := range g.items {
		res, err := item.Embedder.EmbedBatch(ctx, texts, taskType)
		if err == nil {
			return res, nil
		}
		if appErr.IsInvalid(err) {
			return nil, err
		}
		lastErr = err
		logutil.GetLogger(ctx).Warn("batch embedder failed", zap.Int("index", i), zap.String("name", item.Name), zap.Error(err))
	}
	return nil, lastErr
}

func (g *groupEmbedder) ModelName() string {
	names := make([]string, 0, len(g.items))
	for _, item := range g.items {
		if item.Name == "" {
			continue
		}
		names = append(names, item.Name)
	}
	return strings.Join(names, "|")
}

func (g *groupEmbedder) Dimension() int {
	return g.items[0].Embedder.Dimension()
}
