package model

type Document struct {
	ID        int64  `json:"id"`
	Content   string `json:"content"`
	CreatedAt int64  `json:"created_at"`
	UpdatedAt int64  `json:"updated_at"`
}

// DocumentChunk is a stored passage of a document together with its
// embedding. Embedding is never returned by read projections.
type DocumentChunk struct {
	ID         int64     `json:"id"`
	DocumentID int64     `json:"document_id"`
	Chunk      string    `json:"chunk"`
	Metadata   *string   `json:"metadata,omitempty"`
	Embedding  []float32 `json:"-"`
}

type RetrievedChunk struct {
	ID         int64    `json:"id"`
	DocumentID int64    `json:"document_id"`
	Chunk      string   `json:"chunk"`
	Metadata   *string  `json:"metadata,omitempty"`
	Distance   float64  `json:"distance"`
	Score      *float64 `json:"score,omitempty"`
}

type Page[T any] struct {
	Items      []T `json:"items"`
	Page       int `json:"page"`
	PageSize   int `json:"pageSize"`
	TotalItems int `json:"totalItems"`
	TotalPages int `json:"totalPages"`
}
