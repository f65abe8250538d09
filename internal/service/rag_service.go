package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/mrag/internal/ai"
	"github.com/xxxsen/mrag/internal/model"
	appErr "github.com/xxxsen/mrag/internal/pkg/errors"
)

const (
	defaultCandidateCount = 20
	defaultResultCount    = 5
)

type IChunker interface {
	Chunk(ctx context.Context, text string) ([]ai.TextChunk, error)
}

type ISanitizer interface {
	Clean(ctx context.Context, content string, format string) (string, error)
}

// DocumentStore is the persistence the pipeline needs. Mutations must be
// atomic: a document and its chunk set change together or not at all.
type DocumentStore interface {
	SaveDocument(ctx context.Context, doc *model.Document, chunks []model.DocumentChunk) (int64, error)
	UpdateDocument(ctx context.Context, doc *model.Document, chunks []model.DocumentChunk) error
	DeleteDocument(ctx context.Context, id int64) (bool, error)
	GetDocumentByID(ctx context.Context, id int64) (*model.Document, error)
	ListDocuments(ctx context.Context, page, pageSize int) (*model.Page[model.Document], error)
	GetRelevantChunks(ctx context.Context, vec []float32, topK int) ([]model.RetrievedChunk, error)
}

type DocumentInput struct {
	Content string `json:"content"`
	Format  string `json:"format"`
}

type RagConfig struct {
	CandidateCount int
	ResultCount    int
}

type RagService struct {
	chunker   IChunker
	embedder  ai.IEmbedder
	reranker  ai.IReranker
	store     DocumentStore
	sanitizer ISanitizer
	cfg       RagConfig
	now       func() time.Time
}

// NewRagService wires the pipeline. reranker may be nil, in which case
// queries return the nearest ResultCount chunks directly.
func NewRagService(chunker IChunker, embedder ai.IEmbedder, reranker ai.IReranker, store DocumentStore, sanitizer ISanitizer, cfg RagConfig) *RagService {
	if cfg.ResultCount <= 0 {
		cfg.ResultCount = defaultResultCount
	}
	if cfg.CandidateCount <= 0 {
		cfg.CandidateCount = defaultCandidateCount
	}
	if cfg.CandidateCount < cfg.ResultCount {
		cfg.CandidateCount = cfg.ResultCount
	}
	return &RagService{
		chunker:   chunker,
		embedder:  embedder,
		reranker:  reranker,
		store:     store,
		sanitizer: sanitizer,
		cfg:       cfg,
		now:       time.Now,
	}
}

type chunkMetadata struct {
	Index int `json:"index"`
	Start int `json:"start"`
	End   int `json:"end"`
}

// prepare runs everything that can fail before the store is touched:
// validation, sanitizing, chunking and embedding.
func (s *RagService) prepare(ctx context.Context, input DocumentInput) (string, []model.DocumentChunk, error) {
	if strings.TrimSpace(input.Content) == "" {
		return "", nil, fmt.Errorf("%w: content must not be empty", appErr.ErrInvalid)
	}
	content, err := s.sanitizer.Clean(ctx, input.Content, input.Format)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %w", appErr.ErrInvalid, err)
	}
	if strings.TrimSpace(content) == "" {
		return "", nil, fmt.Errorf("%w: content is empty after sanitizing", appErr.ErrInvalid)
	}
	pieces, err := s.chunker.Chunk(ctx, content)
	if err != nil {
		return "", nil, err
	}
	texts := make([]string, 0, len(pieces))
	for _, p := range pieces {
		texts = append(texts, p.Content)
	}
	vecs, err := s.embedder.EmbedBatch(ctx, texts, ai.TaskRetrievalDocument)
	if err != nil {
		return "", nil, appErr.Wrap(appErr.ErrEmbedding, err)
	}
	chunks := make([]model.DocumentChunk, 0, len(pieces))
	for i, p := range pieces {
		raw, err := json.Marshal(chunkMetadata{Index: i, Start: p.Start, End: p.End})
		if err != nil {
			return "", nil, err
		}
		meta := string(raw)
		chunks = append(chunks, model.DocumentChunk{
			Chunk:     p.Content,
			Metadata:  &meta,
			Embedding: vecs[i],
		})
	}
	return content, chunks, nil
}

func (s *RagService) InsertDocument(ctx context.Context, input DocumentInput) (*model.Document, error) {
	content, chunks, err := s.prepare(ctx, input)
	if err != nil {
		return nil, err
	}
	now := s.now().UnixMilli()
	doc := &model.Document{
		Content:   content,
		CreatedAt: now,
		UpdatedAt: now,
	}
	id, err := s.store.SaveDocument(ctx, doc, chunks)
	if err != nil {
		return nil, appErr.Wrap(appErr.ErrStore, err)
	}
	doc.ID = id
	logutil.GetLogger(ctx).Info("document inserted", zap.Int64("doc_id", id), zap.Int("chunks", len(chunks)))
	return doc, nil
}

func (s *RagService) UpdateDocument(ctx context.Context, id int64, input DocumentInput) error {
	if id <= 0 {
		return fmt.Errorf("%w: invalid document id", appErr.ErrInvalid)
	}
	if strings.TrimSpace(input.Content) == "" {
		return fmt.Errorf("%w: content must not be empty", appErr.ErrInvalid)
	}
	if _, err := s.GetDocumentByID(ctx, id); err != nil {
		return err
	}
	content, chunks, err := s.prepare(ctx, input)
	if err != nil {
		return err
	}
	doc := &model.Document{
		ID:        id,
		Content:   content,
		UpdatedAt: s.now().UnixMilli(),
	}
	if err := s.store.UpdateDocument(ctx, doc, chunks); err != nil {
		return appErr.Wrap(appErr.ErrStore, err)
	}
	logutil.GetLogger(ctx).Info("document updated", zap.Int64("doc_id", id), zap.Int("chunks", len(chunks)))
	return nil
}

func (s *RagService) DeleteDocument(ctx context.Context, id int64) (bool, error) {
	if id <= 0 {
		return false, fmt.Errorf("%w: invalid document id", appErr.ErrInvalid)
	}
	ok, err := s.store.DeleteDocument(ctx, id)
	if err != nil {
		return false, appErr.Wrap(appErr.ErrStore, err)
	}
	if ok {
		logutil.GetLogger(ctx).Info("document deleted", zap.Int64("doc_id", id))
	}
	return ok, nil
}

func (s *RagService) GetDocumentByID(ctx context.Context, id int64) (*model.Document, error) {
	if id <= 0 {
		return nil, fmt.Errorf("%w: invalid document id", appErr.ErrInvalid)
	}
	doc, err := s.store.GetDocumentByID(ctx, id)
	if err != nil {
		return nil, appErr.Wrap(appErr.ErrStore, err)
	}
	return doc, nil
}

func (s *RagService) ListDocuments(ctx context.Context, page, pageSize int) (*model.Page[model.Document], error) {
	res, err := s.store.ListDocuments(ctx, page, pageSize)
	if err != nil {
		return nil, appErr.Wrap(appErr.ErrStore, err)
	}
	return res, nil
}

// GetRelevantChunks embeds the query once, over-fetches candidates when a
// reranker is configured and returns at most ResultCount chunks, best first.
func (s *RagService) GetRelevantChunks(ctx context.Context, query string) ([]model.RetrievedChunk, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("%w: query must not be empty", appErr.ErrInvalid)
	}
	vec, err := s.embedder.Embed(ctx, query, ai.TaskRetrievalQuery)
	if err != nil {
		return nil, appErr.Wrap(appErr.ErrEmbedding, err)
	}
	fetch := s.cfg.ResultCount
	if s.reranker != nil {
		fetch = s.cfg.CandidateCount
	}
	candidates, err := s.store.GetRelevantChunks(ctx, vec, fetch)
	if err != nil {
		return nil, appErr.Wrap(appErr.ErrStore, err)
	}
	logger := logutil.GetLogger(ctx).With(zap.Int("candidates", len(candidates)))
	if s.reranker == nil || len(candidates) == 0 {
		logger.Debug("relevant chunks fetched")
		return candidates, nil
	}
	docs := make([]string, 0, len(candidates))
	for _, c := range candidates {
		docs = append(docs, c.Chunk)
	}
	ranked, err := s.reranker.Rerank(ctx, query, docs, s.cfg.ResultCount)
	if err != nil {
		return nil, appErr.Wrap(appErr.ErrRerank, err)
	}
	out := make([]model.RetrievedChunk, 0, len(ranked))
	for _, r := range ranked {
		item := candidates[r.Index]
		score := r.Score
		item.Score = &score
		out = append(out, item)
	}
	logger.Debug("relevant chunks reranked", zap.Int("results", len(out)))
	return out, nil
}
