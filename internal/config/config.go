package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/xxxsen/common/logger"
	"gopkg.in/yaml.v3"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

type Config struct {
	Port       int              `json:"port"`
	LogConfig  logger.LogConfig `json:"log_config"`
	Database   DatabaseConfig   `json:"database"`
	Embedding  EmbeddingConfig  `json:"embedding"`
	Rerank     RerankConfig     `json:"rerank"`
	Retrieval  RetrievalConfig  `json:"retrieval"`
	Chunker    ChunkerConfig    `json:"chunker"`
	EmbedCache EmbedCacheConfig `json:"embed_cache"`
	BasicAuth  BasicAuthConfig  `json:"basic_auth"`
	CORS       []string         `json:"cors"`
	SearchRate RateLimitConfig  `json:"search_rate_limit"`
	Source     SourceConfig     `json:"source"`
}

type DatabaseConfig struct {
	Driver   string `json:"driver"`
	DSN      string `json:"dsn"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	DBName   string `json:"dbname"`
	SSLMode  string `json:"sslmode"`
	Path     string `json:"path"`
}

type ProviderConfig struct {
	Name     string      `json:"name"`
	Provider string      `json:"provider"`
	Model    string      `json:"model"`
	Data     interface{} `json:"data"`
}

type EmbeddingConfig struct {
	Providers   []ProviderConfig `json:"providers"`
	Dimension   int              `json:"dimension"`
	BatchSize   int              `json:"batch_size"`
	Concurrency int              `json:"concurrency"`
	Timeout     int              `json:"timeout"`
}

type RerankConfig struct {
	Enabled  bool           `json:"enabled"`
	Provider ProviderConfig `json:"provider"`
	Timeout  int            `json:"timeout"`
}

type RetrievalConfig struct {
	CandidateCount int `json:"candidate_count"`
	ResultCount    int `json:"result_count"`
}

type ChunkerConfig struct {
	ChunkSize    int `json:"chunk_size"`
	ChunkOverlap int `json:"chunk_overlap"`
}

type EmbedCacheConfig struct {
	LRUSize       int    `json:"lru_size"`
	LRUTTLMinutes int    `json:"lru_ttl_minutes"`
	EnableDB      bool   `json:"enable_db"`
	MaxAgeDays    int    `json:"max_age_days"`
	CleanupSpec   string `json:"cleanup_spec"`
}

type BasicAuthConfig struct {
	Username     string `json:"username"`
	PasswordHash string `json:"password_hash"`
}

type RateLimitConfig struct {
	PerSecond float64 `json:"per_second"`
	Burst     int     `json:"burst"`
}

type SourceConfig struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	var cfg Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := decodeYAML(raw, &cfg); err != nil {
			return nil, fmt.Errorf("decode config: %w", err)
		}
	default:
		if err := json.Unmarshal(raw, &cfg); err != nil {
			return nil, fmt.Errorf("decode config: %w", err)
		}
	}
	applyEnv(&cfg)
	if err := normalize(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// decodeYAML goes through a JSON round trip so the json tags (including the
// ones on logger.LogConfig) are the single source of field names.
func decodeYAML(raw []byte, dst interface{}) error {
	var m map[string]interface{}
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return err
	}
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, dst)
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("RAG_DATABASE_DSN"); v != "" {
		cfg.Database.DSN = v
	}
	if v := os.Getenv("RAG_BASIC_AUTH_USERNAME"); v != "" {
		cfg.BasicAuth.Username = v
	}
	if v := os.Getenv("RAG_BASIC_AUTH_PASSWORD_HASH"); v != "" {
		cfg.BasicAuth.PasswordHash = v
	}
}

func normalize(cfg *Config) error {
	if cfg.Port == 0 {
		cfg.Port = 3000
	}
	if cfg.LogConfig.Level == "" {
		cfg.LogConfig.Level = "info"
	}
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = DriverPostgres
	}
	switch cfg.Database.Driver {
	case DriverPostgres:
		if cfg.Database.DSN == "" && cfg.Database.Host == "" {
			return fmt.Errorf("database.dsn or database.host is required for postgres")
		}
		if cfg.Database.Port == 0 {
			cfg.Database.Port = 5432
		}
	case DriverSQLite:
		if cfg.Database.Path == "" {
			return fmt.Errorf("database.path is required for sqlite")
		}
	default:
		return fmt.Errorf("database.driver must be postgres or sqlite")
	}
	if len(cfg.Embedding.Providers) == 0 {
		return fmt.Errorf("embedding.providers is required")
	}
	for i, p := range cfg.Embedding.Providers {
		if strings.TrimSpace(p.Provider) == "" || strings.TrimSpace(p.Model) == "" {
			return fmt.Errorf("embedding.providers[%d] provider/model are required", i)
		}
	}
	if cfg.Embedding.Dimension <= 0 {
		return fmt.Errorf("embedding.dimension is required")
	}
	if cfg.Embedding.BatchSize <= 0 {
		cfg.Embedding.BatchSize = 16
	}
	if cfg.Embedding.Concurrency <= 0 {
		cfg.Embedding.Concurrency = 4
	}
	if cfg.Embedding.Timeout <= 0 {
		cfg.Embedding.Timeout = 30
	}
	if cfg.Rerank.Enabled {
		if strings.TrimSpace(cfg.Rerank.Provider.Provider) == "" {
			return fmt.Errorf("rerank.provider.provider is required when rerank is enabled")
		}
		if cfg.Rerank.Timeout <= 0 {
			cfg.Rerank.Timeout = 30
		}
	}
	if cfg.Retrieval.ResultCount <= 0 {
		cfg.Retrieval.ResultCount = 5
	}
	if cfg.Retrieval.CandidateCount <= 0 {
		cfg.Retrieval.CandidateCount = 20
	}
	if cfg.Retrieval.CandidateCount < cfg.Retrieval.ResultCount {
		return fmt.Errorf("retrieval.candidate_count must be >= retrieval.result_count")
	}
	if cfg.Chunker.ChunkSize <= 0 {
		cfg.Chunker.ChunkSize = 1000
	}
	if cfg.Chunker.ChunkOverlap < 0 {
		return fmt.Errorf("chunker.chunk_overlap must not be negative")
	}
	if cfg.Chunker.ChunkOverlap == 0 && cfg.Chunker.ChunkSize == 1000 {
		cfg.Chunker.ChunkOverlap = 200
	}
	if cfg.Chunker.ChunkOverlap >= cfg.Chunker.ChunkSize {
		return fmt.Errorf("chunker.chunk_overlap must be smaller than chunker.chunk_size")
	}
	if cfg.EmbedCache.EnableDB && cfg.Database.Driver != DriverPostgres {
		return fmt.Errorf("embed_cache.enable_db requires the postgres driver")
	}
	if cfg.EmbedCache.MaxAgeDays <= 0 {
		cfg.EmbedCache.MaxAgeDays = 30
	}
	if cfg.EmbedCache.CleanupSpec == "" {
		cfg.EmbedCache.CleanupSpec = "0 3 * * *"
	}
	if cfg.SearchRate.PerSecond > 0 && cfg.SearchRate.Burst <= 0 {
		cfg.SearchRate.Burst = 1
	}
	if cfg.Source.Type == "" {
		cfg.Source.Type = "local"
	}
	return nil
}
