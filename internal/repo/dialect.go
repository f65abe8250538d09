package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"sort"

	"github.com/pgvector/pgvector-go"

	"github.com/xxxsen/mrag/internal/config"
	"github.com/xxxsen/mrag/internal/model"
	"github.com/xxxsen/mrag/internal/pkg/dbutil"
)

// dialect holds what differs between the storage backends. Everything else
// in DocumentRepo is shared SQL.
type dialect interface {
	finalize(query string, args []interface{}) (string, []interface{})
	encodeVector(vec []float32) (interface{}, error)
	relevantChunks(ctx context.Context, db *sql.DB, vec []float32, topK int) ([]model.RetrievedChunk, error)
}

func dialectFor(driver string) (dialect, error) {
	switch driver {
	case config.DriverPostgres, "":
		return postgresDialect{}, nil
	case config.DriverSQLite:
		return sqliteDialect{}, nil
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", driver)
	}
}

type postgresDialect struct{}

func (postgresDialect) finalize(query string, args []interface{}) (string, []interface{}) {
	return dbutil.Finalize(query, args)
}

func (postgresDialect) encodeVector(vec []float32) (interface{}, error) {
	return pgvector.NewVector(vec), nil
}

func (postgresDialect) relevantChunks(ctx context.Context, db *sql.DB, vec []float32, topK int) ([]model.RetrievedChunk, error) {
	const query = `
		SELECT id, document_id, chunk, metadata, embedding <=> $1 AS distance
		FROM document_chunks
		ORDER BY distance ASC, id ASC
		LIMIT $2
	`
	rows, err := db.QueryContext(ctx, query, pgvector.NewVector(vec), topK)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]model.RetrievedChunk, 0, topK)
	for rows.Next() {
		var item model.RetrievedChunk
		var metadata sql.NullString
		if err := rows.Scan(&item.ID, &item.DocumentID, &item.Chunk, &metadata, &item.Distance); err != nil {
			return nil, err
		}
		item.Metadata = nullStringPtr(metadata)
		out = append(out, item)
	}
	return out, rows.Err()
}

// sqliteDialect keeps embeddings as JSON arrays and ranks with a full scan.
type sqliteDialect struct{}

func (sqliteDialect) finalize(query string, args []interface{}) (string, []interface{}) {
	return dbutil.FinalizeFor(config.DriverSQLite, query, args)
}

func (sqliteDialect) encodeVector(vec []float32) (interface{}, error) {
	blob, err := json.Marshal(vec)
	if err != nil {
		return nil, err
	}
	return string(blob), nil
}

func (sqliteDialect) relevantChunks(ctx context.Context, db *sql.DB, vec []float32, topK int) ([]model.RetrievedChunk, error) {
	const query = `SELECT id, document_id, chunk, metadata, embedding FROM document_chunks`
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var all []model.RetrievedChunk
	for rows.Next() {
		var item model.RetrievedChunk
		var metadata sql.NullString
		var blob string
		if err := rows.Scan(&item.ID, &item.DocumentID, &item.Chunk, &metadata, &blob); err != nil {
			return nil, err
		}
		var stored []float32
		if err := json.Unmarshal([]byte(blob), &stored); err != nil {
			return nil, fmt.Errorf("decode embedding of chunk %d: %w", item.ID, err)
		}
		if len(stored) != len(vec) {
			return nil, fmt.Errorf("chunk %d has dimension %d, query has %d", item.ID, len(stored), len(vec))
		}
		item.Metadata = nullStringPtr(metadata)
		item.Distance = cosineDistance(vec, stored)
		all = append(all, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sort.SliceStable(all, func(i, j int) bool {
		if all[i].Distance != all[j].Distance {
			return all[i].Distance < all[j].Distance
		}
		return all[i].ID < all[j].ID
	})
	if len(all) > topK {
		all = all[:topK]
	}
	if all == nil {
		all = []model.RetrievedChunk{}
	}
	return all, nil
}

// cosineDistance is 1 - cos(a, b); a zero vector is at distance 1 from
// everything.
func cosineDistance(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 1
	}
	return 1 - dot/(math.Sqrt(na)*math.Sqrt(nb))
}

func nullStringPtr(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}
