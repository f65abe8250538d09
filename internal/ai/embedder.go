package ai

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/xxxsen/common/logutil"
	appErr "github.com/xxxsen/mrag/internal/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	defaultBatchSize   = 16
	defaultConcurrency = 4
)

type EmbedderConfig struct {
	Model       string
	Dimension   int
	BatchSize   int
	Concurrency int
	Timeout     int
}

type embedder struct {
	provider IEmbedProvider
	cfg      EmbedderConfig
}

func NewEmbedder(p IEmbedProvider, cfg EmbedderConfig) IEmbedder {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	return &embedder{provider: p, cfg: cfg}
}

func (e *embedder) ModelName() string {
	return e.cfg.Model
}

func (e *embedder) Dimension() int {
	return e.cfg.Dimension
}

func (e *embedder) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.cfg.Timeout > 0 {
		return context.WithTimeout(ctx, time.Duration(e.cfg.Timeout)*time.Second)
	}
	return ctx, func() {}
}

func (e *embedder) Embed(ctx context.Context, text string, taskType string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: empty text", appErr.ErrInvalid)
	}
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()
	vec, err := e.provider.Embed(ctx, e.cfg.Model, text, taskType)
	if err != nil {
		return nil, appErr.Wrap(appErr.ErrEmbedding, fmt.Errorf("%s: %w", e.provider.Name(), err))
	}
	if err := e.checkDimension(vec); err != nil {
		return nil, err
	}
	return vec, nil
}

func (e *embedder) EmbedBatch(ctx context.Context, texts []string, taskType string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	for i, text := range texts {
		if strings.TrimSpace(text) == "" {
			return nil, fmt.Errorf("%w: empty text at position %d", appErr.ErrInvalid, i)
		}
	}
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	out := make([][]float32, len(texts))
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(e.cfg.Concurrency)
	for start := 0; start < len(texts); start += e.cfg.BatchSize {
		end := start + e.cfg.BatchSize
		if end > len(texts) {
			end = len(texts)
		}
		eg.Go(func() error {
			part := texts[start:end]
			vecs, err := e.provider.EmbedBatch(egCtx, e.cfg.Model, part, taskType)
			if err != nil {
				return fmt.Errorf("%s: batch [%d,%d): %w", e.provider.Name(), start, end, err)
			}
			if len(vecs) != len(part) {
				return fmt.Errorf("%s: batch [%d,%d): got %d vectors for %d inputs", e.provider.Name(), start, end, len(vecs), len(part))
			}
			// each goroutine owns out[start:end]
			copy(out[start:end], vecs)
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		logutil.GetLogger(ctx).Error("batch embedding failed", zap.Int("count", len(texts)), zap.Error(err))
		return nil, appErr.Wrap(appErr.ErrEmbedding, err)
	}
	for _, vec := range out {
		if err := e.checkDimension(vec); err != nil {
			return nil, err
		}
	}
	logutil.GetLogger(ctx).Debug("batch embedding finished",
		zap.Int("count", len(texts)),
		zap.Int("batch_size", e.cfg.BatchSize),
		zap.String("model", e.cfg.Model),
	)
	return out, nil
}

func (e *embedder) checkDimension(vec []float32) error {
	if e.cfg.Dimension > 0 && len(vec) != e.cfg.Dimension {
		return fmt.Errorf("%w: malformed vector, dimension %d, expected %d", appErr.ErrEmbedding, len(vec), e.cfg.Dimension)
	}
	if len(vec) == 0 {
		return fmt.Errorf("%w: malformed vector, empty", appErr.ErrEmbedding)
	}
	return nil
}
