package embedcache

import (
	"context"
	"strings"
	"time"

	"github.com/xxxsen/common/logutil"
	"github.com/xxxsen/mrag/internal/ai"
	"github.com/xxxsen/mrag/internal/model"
	"go.uber.org/zap"
)

type ICacheStore interface {
	Get(ctx context.Context, modelName, taskType, contentHash string) ([]float32, bool, error)
	GetBatch(ctx context.Context, modelName, taskType string, contentHashes []string) (map[string][]float32, error)
	Save(ctx context.Context, item *model.EmbeddingCache) error
}

func WrapDBCacheToEmbedder(e ai.IEmbedder, store ICacheStore) ai.IEmbedder {
	if e == nil || store == nil {
		return e
	}
	return &dbEmbedder{next: e, store: store}
}

// dbEmbedder treats the cache table as best effort: read and write failures
// are logged and the call goes to the wrapped embedder.
type dbEmbedder struct {
	next  ai.IEmbedder
	store ICacheStore
}

func (d *dbEmbedder) Embed(ctx context.Context, text string, taskType string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return d.next.Embed(ctx, text, taskType)
	}
	_, contentHash, modelName := buildCacheKey(d.next.ModelName(), taskType, text)
	values, ok, err := d.store.Get(ctx, modelName, taskType, contentHash)
	if err != nil {
		logutil.GetLogger(ctx).Warn("read embedding cache failed", zap.Error(err))
	}
	if ok && len(values) == d.next.Dimension() {
		logutil.GetLogger(ctx).Debug("embedding cache hit (db)", zap.String("task_type", taskType))
		return values, nil
	}
	res, err := d.next.Embed(ctx, text, taskType)
	if err != nil {
		return nil, err
	}
	d.save(ctx, modelName, taskType, contentHash, res)
	return res, nil
}

func (d *dbEmbedder) EmbedBatch(ctx context.Context, texts []string, taskType string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	hashes := make([]string, len(texts))
	var modelName string
	for i, text := range texts {
		_, hashes[i], modelName = buildCacheKey(d.next.ModelName(), taskType, text)
	}
	if len(texts) > 0 {
		cached, err := d.store.GetBatch(ctx, modelName, taskType, hashes)
		if err != nil {
			logutil.GetLogger(ctx).Warn("read embedding cache batch failed", zap.Error(err))
		}
		for i, hash := range hashes {
			if v, ok := cached[hash]; ok && len(v) == d.next.Dimension() {
				out[i] = cloneEmbedding(v)
			}
		}
	}
	filled, err := embedMissing(ctx, d.next, texts, taskType, out)
	if err != nil {
		return nil, err
	}
	for _, idx := range filled {
		d.save(ctx, modelName, taskType, hashes[idx], out[idx])
	}
	logutil.GetLogger(ctx).Debug("embedding batch via db cache",
		zap.Int("count", len(texts)),
		zap.Int("hits", len(texts)-len(filled)),
	)
	return out, nil
}

func (d *dbEmbedder) save(ctx context.Context, modelName, taskType, contentHash string, values []float32) {
	if err := d.store.Save(ctx, &model.EmbeddingCache{
		ModelName:   modelName,
		TaskType:    taskType,
		ContentHash: contentHash,
		Embedding:   values,
		Ctime:       time.Now().Unix(),
	}); err != nil {
		logutil.GetLogger(ctx).Warn("failed to cache embedding", zap.Error(err))
	}
}

func (d *dbEmbedder) ModelName() string {
	return d.next.ModelName()
}

func (d *dbEmbedder) Dimension() int {
	return d.next.Dimension()
}
