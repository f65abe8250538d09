package service

import (
	"context"
	"fmt"
	"io"
	"unicode/utf8"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/mrag/internal/filestore"
	"github.com/xxxsen/mrag/internal/model"
	appErr "github.com/xxxsen/mrag/internal/pkg/errors"
)

const maxImportBytes = 4 * 1024 * 1024

type IDocumentInserter interface {
	InsertDocument(ctx context.Context, input DocumentInput) (*model.Document, error)
}

// ImportService bulk ingests every supported object under a prefix. One bad
// object never stops the run; it is recorded in the report instead.
type ImportService struct {
	docs   IDocumentInserter
	source filestore.Source
}

func NewImportService(docs IDocumentInserter, source filestore.Source) *ImportService {
	return &ImportService{docs: docs, source: source}
}

func (s *ImportService) Import(ctx context.Context, prefix string) (*model.ImportReport, error) {
	logger := logutil.GetLogger(ctx).With(zap.String("prefix", prefix))
	objects, err := s.source.List(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("list source: %w", err)
	}
	report := &model.ImportReport{Failed: []model.ImportFailure{}, DocumentIDs: []int64{}}
	for _, obj := range objects {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if obj.Size > maxImportBytes {
			logger.Warn("skip oversized object", zap.String("key", obj.Key), zap.Int64("size", obj.Size))
			report.Skipped++
			continue
		}
		doc, err := s.importOne(ctx, obj)
		if err != nil {
			if appErr.IsInvalid(err) {
				logger.Warn("skip invalid object", zap.String("key", obj.Key), zap.Error(err))
				report.Skipped++
				continue
			}
			logger.Error("import object failed", zap.String("key", obj.Key), zap.Error(err))
			report.Failed = append(report.Failed, model.ImportFailure{Key: obj.Key, Error: err.Error()})
			continue
		}
		report.Imported++
		report.DocumentIDs = append(report.DocumentIDs, doc.ID)
	}
	logger.Info("import finished",
		zap.Int("imported", report.Imported),
		zap.Int("skipped", report.Skipped),
		zap.Int("failed", len(report.Failed)),
	)
	return report, nil
}

func (s *ImportService) importOne(ctx context.Context, obj model.ImportObject) (*model.Document, error) {
	rc, err := s.source.Open(ctx, obj.Key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	data, err := io.ReadAll(io.LimitReader(rc, maxImportBytes+1))
	if err != nil {
		return nil, err
	}
	if len(data) > maxImportBytes {
		return nil, fmt.Errorf("%w: object larger than %d bytes", appErr.ErrInvalid, maxImportBytes)
	}
	if !utf8.Valid(data) {
		return nil, fmt.Errorf("%w: object is not valid utf-8", appErr.ErrInvalid)
	}
	return s.docs.InsertDocument(ctx, DocumentInput{Content: string(data), Format: obj.Format})
}
