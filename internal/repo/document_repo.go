package repo

import (
	"context"
	"database/sql"
	"fmt"
	"math"

	"github.com/didi/gendry/builder"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/mrag/internal/model"
	appErr "github.com/xxxsen/mrag/internal/pkg/errors"
)

const (
	chunkInsertBatch = 500
	maxPageSize      = 100
	// keeps (page-1)*pageSize inside int32
	maxPage = math.MaxInt32 / maxPageSize
)

var documentColumns = []string{"id", "content", "created_at", "updated_at"}

// DocumentRepo stores documents and their chunks. Every mutation runs in a
// single transaction so a document is never visible with a partial chunk set.
type DocumentRepo struct {
	db      *sql.DB
	dialect dialect
}

func NewDocumentRepo(db *sql.DB, driver string) (*DocumentRepo, error) {
	d, err := dialectFor(driver)
	if err != nil {
		return nil, err
	}
	return &DocumentRepo{db: db, dialect: d}, nil
}

func (r *DocumentRepo) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func (r *DocumentRepo) SaveDocument(ctx context.Context, doc *model.Document, chunks []model.DocumentChunk) (int64, error) {
	var id int64
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		data := map[string]interface{}{
			"content":    doc.Content,
			"created_at": doc.CreatedAt,
			"updated_at": doc.UpdatedAt,
		}
		sqlStr, args, err := builder.BuildInsert("documents", []map[string]interface{}{data})
		if err != nil {
			return err
		}
		sqlStr, args = r.dialect.finalize(sqlStr+" RETURNING id", args)
		if err := tx.QueryRowContext(ctx, sqlStr, args...).Scan(&id); err != nil {
			return err
		}
		return r.insertChunks(ctx, tx, id, chunks)
	})
	if err != nil {
		return 0, err
	}
	logutil.GetLogger(ctx).Debug("document saved", zap.Int64("doc_id", id), zap.Int("chunks", len(chunks)))
	return id, nil
}

func (r *DocumentRepo) UpdateDocument(ctx context.Context, doc *model.Document, chunks []model.DocumentChunk) error {
	return r.withTx(ctx, func(tx *sql.Tx) error {
		where := map[string]interface{}{"id": doc.ID}
		update := map[string]interface{}{
			"content":    doc.Content,
			"updated_at": doc.UpdatedAt,
		}
		sqlStr, args, err := builder.BuildUpdate("documents", where, update)
		if err != nil {
			return err
		}
		sqlStr, args = r.dialect.finalize(sqlStr, args)
		result, err := tx.ExecContext(ctx, sqlStr, args...)
		if err != nil {
			return err
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return appErr.ErrNotFound
		}
		if err := r.deleteChunks(ctx, tx, doc.ID); err != nil {
			return err
		}
		return r.insertChunks(ctx, tx, doc.ID, chunks)
	})
}

func (r *DocumentRepo) DeleteDocument(ctx context.Context, id int64) (bool, error) {
	deleted := false
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		sqlStr, args := r.dialect.finalize("SELECT COUNT(*) FROM documents WHERE id=?", []interface{}{id})
		var count int
		if err := tx.QueryRowContext(ctx, sqlStr, args...).Scan(&count); err != nil {
			return err
		}
		if count == 0 {
			return nil
		}
		if err := r.deleteChunks(ctx, tx, id); err != nil {
			return err
		}
		sqlStr, args, err := builder.BuildDelete("documents", map[string]interface{}{"id": id})
		if err != nil {
			return err
		}
		sqlStr, args = r.dialect.finalize(sqlStr, args)
		if _, err := tx.ExecContext(ctx, sqlStr, args...); err != nil {
			return err
		}
		deleted = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return deleted, nil
}

func (r *DocumentRepo) GetDocumentByID(ctx context.Context, id int64) (*model.Document, error) {
	sqlStr, args, err := builder.BuildSelect("documents", map[string]interface{}{"id": id}, documentColumns)
	if err != nil {
		return nil, err
	}
	sqlStr, args = r.dialect.finalize(sqlStr, args)
	var doc model.Document
	err = r.db.QueryRowContext(ctx, sqlStr, args...).Scan(&doc.ID, &doc.Content, &doc.CreatedAt, &doc.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, appErr.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

func (r *DocumentRepo) ListDocuments(ctx context.Context, page, pageSize int) (*model.Page[model.Document], error) {
	page, pageSize = ClampPage(page, pageSize)
	var total int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM documents").Scan(&total); err != nil {
		return nil, err
	}
	where := map[string]interface{}{
		"_orderby": "id desc",
		"_limit":   []uint{uint((page - 1) * pageSize), uint(pageSize)},
	}
	sqlStr, args, err := builder.BuildSelect("documents", where, documentColumns)
	if err != nil {
		return nil, err
	}
	sqlStr, args = r.dialect.finalize(sqlStr, args)
	rows, err := r.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := make([]model.Document, 0, pageSize)
	for rows.Next() {
		var doc model.Document
		if err := rows.Scan(&doc.ID, &doc.Content, &doc.CreatedAt, &doc.UpdatedAt); err != nil {
			return nil, err
		}
		items = append(items, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &model.Page[model.Document]{
		Items:      items,
		Page:       page,
		PageSize:   pageSize,
		TotalItems: total,
		TotalPages: TotalPages(total, pageSize),
	}, nil
}

func (r *DocumentRepo) GetRelevantChunks(ctx context.Context, vec []float32, topK int) ([]model.RetrievedChunk, error) {
	if topK <= 0 {
		return []model.RetrievedChunk{}, nil
	}
	if len(vec) == 0 {
		return nil, fmt.Errorf("%w: empty query vector", appErr.ErrInvalid)
	}
	return r.dialect.relevantChunks(ctx, r.db, vec, topK)
}

func (r *DocumentRepo) deleteChunks(ctx context.Context, tx *sql.Tx, docID int64) error {
	sqlStr, args, err := builder.BuildDelete("document_chunks", map[string]interface{}{"document_id": docID})
	if err != nil {
		return err
	}
	sqlStr, args = r.dialect.finalize(sqlStr, args)
	_, err = tx.ExecContext(ctx, sqlStr, args...)
	return err
}

func (r *DocumentRepo) insertChunks(ctx context.Context, tx *sql.Tx, docID int64, chunks []model.DocumentChunk) error {
	for start := 0; start < len(chunks); start += chunkInsertBatch {
		end := start + chunkInsertBatch
		if end > len(chunks) {
			end = len(chunks)
		}
		data := make([]map[string]interface{}, 0, end-start)
		for _, c := range chunks[start:end] {
			vec, err := r.dialect.encodeVector(c.Embedding)
			if err != nil {
				return err
			}
			data = append(data, map[string]interface{}{
				"document_id": docID,
				"chunk":       c.Chunk,
				"metadata":    c.Metadata,
				"embedding":   vec,
			})
		}
		sqlStr, args, err := builder.BuildInsert("document_chunks", data)
		if err != nil {
			return err
		}
		sqlStr, args = r.dialect.finalize(sqlStr, args)
		if _, err := tx.ExecContext(ctx, sqlStr, args...); err != nil {
			return err
		}
	}
	return nil
}

func ClampPage(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if page > maxPage {
		page = maxPage
	}
	if pageSize < 1 {
		pageSize = 1
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return page, pageSize
}

func TotalPages(total, pageSize int) int {
	if total <= 0 || pageSize <= 0 {
		return 1
	}
	return (total + pageSize - 1) / pageSize
}
