package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
)

const (
	TaskRetrievalDocument = "RETRIEVAL_DOCUMENT"
	TaskRetrievalQuery    = "RETRIEVAL_QUERY"
)

var ErrUnavailable = errors.New("ai provider unavailable")

// IEmbedProvider is one remote embedding backend.
type IEmbedProvider interface {
	Name() string
	Embed(ctx context.Context, model string, text string, taskType string) ([]float32, error)
	EmbedBatch(ctx context.Context, model string, texts []string, taskType string) ([][]float32, error)
}

type IEmbedder interface {
	Embed(ctx context.Context, text string, taskType string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string, taskType string) ([][]float32, error)
	ModelName() string
	Dimension() int
}

type RerankResult struct {
	Index int
	Score float64
}

type IRerankProvider interface {
	Name() string
	Rerank(ctx context.Context, model string, query string, docs []string, limit int) ([]RerankResult, error)
}

type IReranker interface {
	Rerank(ctx context.Context, query string, docs []string, limit int) ([]RerankResult, error)
}

type EmbedProviderFactory func(args interface{}) (IEmbedProvider, error)
type RerankProviderFactory func(args interface{}) (IRerankProvider, error)

var (
	embedRegistry  = map[string]EmbedProviderFactory{}
	rerankRegistry = map[string]RerankProviderFactory{}
)

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func RegisterEmbed(name string, factory EmbedProviderFactory) {
	key := normalizeName(name)
	if key == "" || factory == nil {
		return
	}
	embedRegistry[key] = factory
}

func RegisterRerank(name string, factory RerankProviderFactory) {
	key := normalizeName(name)
	if key == "" || factory == nil {
		return
	}
	rerankRegistry[key] = factory
}

func NewEmbedProvider(name string, args interface{}) (IEmbedProvider, error) {
	key := normalizeName(name)
	if key == "" {
		return nil, fmt.Errorf("embedding provider is required")
	}
	factory := embedRegistry[key]
	if factory == nil {
		return nil, fmt.Errorf("unsupported embedding provider: %s", name)
	}
	return factory(args)
}

func NewRerankProvider(name string, args interface{}) (IRerankProvider, error) {
	key := normalizeName(name)
	if key == "" {
		return nil, fmt.Errorf("rerank provider is required")
	}
	factory := rerankRegistry[key]
	if factory == nil {
		return nil, fmt.Errorf("unsupported rerank provider: %s", name)
	}
	return factory(args)
}

func decodeConfig(args interface{}, dst interface{}) error {
	if args == nil {
		return fmt.Errorf("ai provider config is required")
	}
	data, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("encode ai provider config: %w", err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("decode ai provider config: %w", err)
	}
	return nil
}

// resolveKey prefers an inline key and falls back to the named env var.
func resolveKey(key string, env string) string {
	key = strings.TrimSpace(key)
	if key != "" {
		return key
	}
	if env = strings.TrimSpace(env); env != "" {
		return strings.TrimSpace(os.Getenv(env))
	}
	return ""
}
