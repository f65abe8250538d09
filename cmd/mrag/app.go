package main

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/xxxsen/common/logger"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/mrag/internal/ai"
	"github.com/xxxsen/mrag/internal/config"
	"github.com/xxxsen/mrag/internal/db"
	"github.com/xxxsen/mrag/internal/embedcache"
	"github.com/xxxsen/mrag/internal/repo"
	"github.com/xxxsen/mrag/internal/sanitize"
	"github.com/xxxsen/mrag/internal/service"
)

type app struct {
	cfg        *config.Config
	db         *sql.DB
	rag        *service.RagService
	cacheStore *repo.EmbeddingCacheRepo
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return nil, fmt.Errorf("--config is required")
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	logger.Init(
		cfg.LogConfig.File,
		cfg.LogConfig.Level,
		int(cfg.LogConfig.FileCount),
		int(cfg.LogConfig.FileSize),
		int(cfg.LogConfig.KeepDays),
		cfg.LogConfig.Console,
	)
	logutil.GetLogger(context.Background()).Info("config loaded", zap.String("config", path))
	return cfg, nil
}

func openDB(cfg *config.Config) (*sql.DB, error) {
	conn, err := db.Open(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.ApplyMigrations(conn, cfg.Database.Driver); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("migrations: %w", err)
	}
	return conn, nil
}

func buildEmbedder(cfg *config.Config, cacheStore *repo.EmbeddingCacheRepo) (ai.IEmbedder, error) {
	entries := make([]ai.EmbedderEntry, 0, len(cfg.Embedding.Providers))
	for _, pc := range cfg.Embedding.Providers {
		provider, err := ai.NewEmbedProvider(pc.Provider, pc.Data)
		if err != nil {
			return nil, fmt.Errorf("init embed provider %s: %w", pc.Provider, err)
		}
		name := pc.Name
		if name == "" {
			name = pc.Provider
		}
		entries = append(entries, ai.EmbedderEntry{
			Name: name,
			Embedder: ai.NewEmbedder(provider, ai.EmbedderConfig{
				Model:       pc.Model,
				Dimension:   cfg.Embedding.Dimension,
				BatchSize:   cfg.Embedding.BatchSize,
				Concurrency: cfg.Embedding.Concurrency,
				Timeout:     cfg.Embedding.Timeout,
			}),
		})
	}
	embedder, err := ai.NewGroupEmbedder(entries)
	if err != nil {
		return nil, err
	}
	if cacheStore != nil {
		embedder = embedcache.WrapDBCacheToEmbedder(embedder, cacheStore)
	}
	if cfg.EmbedCache.LRUSize > 0 {
		ttl := time.Duration(cfg.EmbedCache.LRUTTLMinutes) * time.Minute
		embedder = embedcache.WrapLruCacheToEmbedder(embedder, cfg.EmbedCache.LRUSize, ttl)
	}
	return embedder, nil
}

func buildReranker(cfg *config.Config) (ai.IReranker, error) {
	if !cfg.Rerank.Enabled {
		return nil, nil
	}
	pc := cfg.Rerank.Provider
	provider, err := ai.NewRerankProvider(pc.Provider, pc.Data)
	if err != nil {
		return nil, fmt.Errorf("init rerank provider %s: %w", pc.Provider, err)
	}
	return ai.NewReranker(provider, ai.RerankerConfig{Model: pc.Model, Timeout: cfg.Rerank.Timeout}), nil
}

// buildApp wires the retrieval pipeline on top of an opened database.
func buildApp(cfg *config.Config) (*app, error) {
	conn, err := openDB(cfg)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, db: conn}
	if cfg.EmbedCache.EnableDB {
		a.cacheStore = repo.NewEmbeddingCacheRepo(conn)
	}
	embedder, err := buildEmbedder(cfg, a.cacheStore)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	reranker, err := buildReranker(cfg)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	chunker, err := ai.NewChunker(ai.ChunkOptions{
		ChunkSize:    cfg.Chunker.ChunkSize,
		ChunkOverlap: cfg.Chunker.ChunkOverlap,
	})
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	docs, err := repo.NewDocumentRepo(conn, cfg.Database.Driver)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	a.rag = service.NewRagService(chunker, embedder, reranker, docs, sanitize.New(), service.RagConfig{
		CandidateCount: cfg.Retrieval.CandidateCount,
		ResultCount:    cfg.Retrieval.ResultCount,
	})
	logutil.GetLogger(context.Background()).Info("pipeline ready",
		zap.String("driver", cfg.Database.Driver),
		zap.String("embed_model", embedder.ModelName()),
		zap.Int("dimension", embedder.Dimension()),
		zap.Bool("rerank", reranker != nil),
	)
	return a, nil
}

func (a *app) Close() error {
	return a.db.Close()
}
