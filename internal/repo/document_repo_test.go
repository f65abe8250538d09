package repo_test

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xxxsen/mrag/internal/config"
	"github.com/xxxsen/mrag/internal/model"
	appErr "github.com/xxxsen/mrag/internal/pkg/errors"
	"github.com/xxxsen/mrag/internal/repo"
	"github.com/xxxsen/mrag/internal/testutil"
)

func forEachStore(t *testing.T, fn func(t *testing.T, r *repo.DocumentRepo, conn *sql.DB)) {
	t.Run("sqlite", func(t *testing.T) {
		conn := testutil.OpenSQLite(t)
		r, err := repo.NewDocumentRepo(conn, config.DriverSQLite)
		require.NoError(t, err)
		fn(t, r, conn)
	})
	t.Run("postgres", func(t *testing.T) {
		conn, cleanup := testutil.OpenTestDB(t)
		defer cleanup()
		r, err := repo.NewDocumentRepo(conn, config.DriverPostgres)
		require.NoError(t, err)
		fn(t, r, conn)
	})
}

func chunk(text string, vec ...float32) model.DocumentChunk {
	return model.DocumentChunk{Chunk: text, Embedding: vec}
}

func countChunks(t *testing.T, conn *sql.DB, docID int64) int {
	t.Helper()
	var n int
	require.NoError(t, conn.QueryRow(fmt.Sprintf("SELECT COUNT(*) FROM document_chunks WHERE document_id = %d", docID)).Scan(&n))
	return n
}

func TestDocumentRepo_SaveAndGet(t *testing.T) {
	forEachStore(t, func(t *testing.T, r *repo.DocumentRepo, conn *sql.DB) {
		ctx := context.Background()
		meta := `{"index":0}`
		chunks := []model.DocumentChunk{chunk("a", 1, 0), chunk("b", 0, 1)}
		chunks[0].Metadata = &meta
		id, err := r.SaveDocument(ctx, &model.Document{Content: "<p>a b</p>", CreatedAt: 10, UpdatedAt: 10}, chunks)
		require.NoError(t, err)
		require.Greater(t, id, int64(0))

		doc, err := r.GetDocumentByID(ctx, id)
		require.NoError(t, err)
		require.Equal(t, model.Document{ID: id, Content: "<p>a b</p>", CreatedAt: 10, UpdatedAt: 10}, *doc)

		again, err := r.GetDocumentByID(ctx, id)
		require.NoError(t, err)
		require.Equal(t, doc, again)
		require.Equal(t, 2, countChunks(t, conn, id))

		res, err := r.GetRelevantChunks(ctx, []float32{1, 0}, 1)
		require.NoError(t, err)
		require.Len(t, res, 1)
		require.Equal(t, "a", res[0].Chunk)
		require.NotNil(t, res[0].Metadata)
		require.Equal(t, meta, *res[0].Metadata)

		_, err = r.GetDocumentByID(ctx, id+100)
		require.ErrorIs(t, err, appErr.ErrNotFound)
	})
}

func TestDocumentRepo_SaveRollsBackOnChunkFailure(t *testing.T) {
	t.Run("sqlite", func(t *testing.T) {
		conn := testutil.OpenSQLite(t)
		r, err := repo.NewDocumentRepo(conn, config.DriverSQLite)
		require.NoError(t, err)
		ctx := context.Background()
		nan := float32(math.NaN())
		_, err = r.SaveDocument(ctx, &model.Document{Content: "x"}, []model.DocumentChunk{chunk("ok", 1, 0), chunk("bad", nan, 0)})
		require.Error(t, err)

		page, err := r.ListDocuments(ctx, 1, 20)
		require.NoError(t, err)
		require.Equal(t, 0, page.TotalItems)
		var n int
		require.NoError(t, conn.QueryRow("SELECT COUNT(*) FROM document_chunks").Scan(&n))
		require.Equal(t, 0, n)
	})
}

func TestDocumentRepo_UpdateReplacesChunks(t *testing.T) {
	forEachStore(t, func(t *testing.T, r *repo.DocumentRepo, conn *sql.DB) {
		ctx := context.Background()
		id, err := r.SaveDocument(ctx, &model.Document{Content: "old", CreatedAt: 1, UpdatedAt: 1},
			[]model.DocumentChunk{chunk("o1", 1, 0), chunk("o2", 1, 1), chunk("o3", 0, 1)})
		require.NoError(t, err)

		err = r.UpdateDocument(ctx, &model.Document{ID: id, Content: "new", UpdatedAt: 5}, []model.DocumentChunk{chunk("n1", 1, 0)})
		require.NoError(t, err)

		doc, err := r.GetDocumentByID(ctx, id)
		require.NoError(t, err)
		require.Equal(t, "new", doc.Content)
		require.Equal(t, int64(1), doc.CreatedAt)
		require.Equal(t, int64(5), doc.UpdatedAt)
		require.Equal(t, 1, countChunks(t, conn, id))

		res, err := r.GetRelevantChunks(ctx, []float32{0, 1}, 10)
		require.NoError(t, err)
		require.Len(t, res, 1)
		require.Equal(t, "n1", res[0].Chunk)
	})
}

func TestDocumentRepo_UpdateMissing(t *testing.T) {
	forEachStore(t, func(t *testing.T, r *repo.DocumentRepo, conn *sql.DB) {
		ctx := context.Background()
		err := r.UpdateDocument(ctx, &model.Document{ID: 404, Content: "x", UpdatedAt: 1}, []model.DocumentChunk{chunk("c", 1, 0)})
		require.ErrorIs(t, err, appErr.ErrNotFound)
		var n int
		require.NoError(t, conn.QueryRow("SELECT COUNT(*) FROM document_chunks").Scan(&n))
		require.Equal(t, 0, n)
	})
}

func TestDocumentRepo_Delete(t *testing.T) {
	forEachStore(t, func(t *testing.T, r *repo.DocumentRepo, conn *sql.DB) {
		ctx := context.Background()
		id, err := r.SaveDocument(ctx, &model.Document{Content: "x"}, []model.DocumentChunk{chunk("c", 1, 0)})
		require.NoError(t, err)

		ok, err := r.DeleteDocument(ctx, id)
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, 0, countChunks(t, conn, id))

		ok, err = r.DeleteDocument(ctx, id)
		require.NoError(t, err)
		require.False(t, ok)

		_, err = r.GetDocumentByID(ctx, id)
		require.ErrorIs(t, err, appErr.ErrNotFound)
	})
}

func TestDocumentRepo_ListDocuments(t *testing.T) {
	forEachStore(t, func(t *testing.T, r *repo.DocumentRepo, conn *sql.DB) {
		ctx := context.Background()
		page, err := r.ListDocuments(ctx, 1, 20)
		require.NoError(t, err)
		require.Equal(t, &model.Page[model.Document]{Items: []model.Document{}, Page: 1, PageSize: 20, TotalItems: 0, TotalPages: 1}, page)

		var ids []int64
		for _, content := range []string{"d1", "d2", "d3"} {
			id, err := r.SaveDocument(ctx, &model.Document{Content: content}, nil)
			require.NoError(t, err)
			ids = append(ids, id)
		}

		page, err = r.ListDocuments(ctx, 1, 2)
		require.NoError(t, err)
		require.Equal(t, 3, page.TotalItems)
		require.Equal(t, 2, page.TotalPages)
		require.Len(t, page.Items, 2)
		require.Equal(t, ids[2], page.Items[0].ID)
		require.Equal(t, ids[1], page.Items[1].ID)

		page, err = r.ListDocuments(ctx, 2, 2)
		require.NoError(t, err)
		require.Len(t, page.Items, 1)
		require.Equal(t, ids[0], page.Items[0].ID)

		page, err = r.ListDocuments(ctx, 9, 2)
		require.NoError(t, err)
		require.Empty(t, page.Items)
		require.Equal(t, 9, page.Page)

		page, err = r.ListDocuments(ctx, math.MaxInt64/50, 100)
		require.NoError(t, err)
		require.Empty(t, page.Items)
		require.Equal(t, math.MaxInt32/100, page.Page)
		require.Equal(t, 3, page.TotalItems)

		page, err = r.ListDocuments(ctx, 0, 1000)
		require.NoError(t, err)
		require.Equal(t, 1, page.Page)
		require.Equal(t, 100, page.PageSize)
		require.Len(t, page.Items, 3)
	})
}

func TestDocumentRepo_GetRelevantChunksRanking(t *testing.T) {
	forEachStore(t, func(t *testing.T, r *repo.DocumentRepo, conn *sql.DB) {
		ctx := context.Background()
		_, err := r.SaveDocument(ctx, &model.Document{Content: "x"}, []model.DocumentChunk{
			chunk("far", 0, 1),
			chunk("near", 1, 0),
			chunk("mid", 1, 1),
			chunk("near-twin", 1, 0),
		})
		require.NoError(t, err)

		res, err := r.GetRelevantChunks(ctx, []float32{1, 0}, 10)
		require.NoError(t, err)
		require.Len(t, res, 4)
		got := []string{res[0].Chunk, res[1].Chunk, res[2].Chunk, res[3].Chunk}
		require.Equal(t, []string{"near", "near-twin", "mid", "far"}, got)
		require.InDelta(t, 0, res[0].Distance, 1e-6)
		require.InDelta(t, 1-1/math.Sqrt2, res[2].Distance, 1e-6)
		require.InDelta(t, 1, res[3].Distance, 1e-6)
		for i := 1; i < len(res); i++ {
			require.LessOrEqual(t, res[i-1].Distance, res[i].Distance)
		}

		res, err = r.GetRelevantChunks(ctx, []float32{1, 0}, 2)
		require.NoError(t, err)
		require.Len(t, res, 2)

		res, err = r.GetRelevantChunks(ctx, []float32{1, 0}, 0)
		require.NoError(t, err)
		require.Empty(t, res)
	})
}

func TestDocumentRepo_ManyChunks(t *testing.T) {
	conn := testutil.OpenSQLite(t)
	r, err := repo.NewDocumentRepo(conn, config.DriverSQLite)
	require.NoError(t, err)
	chunks := make([]model.DocumentChunk, 0, 1201)
	for i := 0; i < 1201; i++ {
		chunks = append(chunks, chunk("c", 1, float32(i)))
	}
	id, err := r.SaveDocument(context.Background(), &model.Document{Content: "big"}, chunks)
	require.NoError(t, err)
	require.Equal(t, 1201, countChunks(t, conn, id))
}

func TestClampPage(t *testing.T) {
	p, s := repo.ClampPage(-3, 0)
	require.Equal(t, 1, p)
	require.Equal(t, 1, s)
	p, s = repo.ClampPage(4, 101)
	require.Equal(t, 4, p)
	require.Equal(t, 100, s)
	p, _ = repo.ClampPage(math.MaxInt64/50, 100)
	require.Equal(t, math.MaxInt32/100, p)
	require.Equal(t, 1, repo.TotalPages(0, 20))
	require.Equal(t, 3, repo.TotalPages(41, 20))
	require.Equal(t, 2, repo.TotalPages(40, 20))
}

func TestNewDocumentRepo_UnknownDriver(t *testing.T) {
	_, err := repo.NewDocumentRepo(nil, "mysql")
	require.Error(t, err)
}
