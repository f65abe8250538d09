package embedcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/xxxsen/mrag/internal/ai"
)

func buildCacheKey(modelName, taskType, text string) (string, string, string) {
	modelName = strings.TrimSpace(modelName)
	if modelName == "" {
		modelName = "unknown"
	}
	hash := sha256.Sum256([]byte(text))
	contentHash := hex.EncodeToString(hash[:])
	return "embed:" + modelName + ":" + taskType + ":" + contentHash, contentHash, modelName
}

// embedMissing embeds only the positions of out that are still nil, in one
// batch, and writes the vectors back into those positions.
func embedMissing(ctx context.Context, next ai.IEmbedder, texts []string, taskType string, out [][]float32) ([]int, error) {
	missing := make([]int, 0, len(texts))
	pending := make([]string, 0, len(texts))
	for i := range texts {
		if out[i] != nil {
			continue
		}
		missing = append(missing, i)
		pending = append(pending, texts[i])
	}
	if len(pending) == 0 {
		return missing, nil
	}
	vecs, err := next.EmbedBatch(ctx, pending, taskType)
	if err != nil {
		return nil, err
	}
	for j, idx := range missing {
		out[idx] = vecs[j]
	}
	return missing, nil
}

func cloneEmbedding(values []float32) []float32 {
	if len(values) == 0 {
		return nil
	}
	clone := make([]float32, len(values))
	copy(clone, values)
	return clone
}
