package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/xxxsen/mrag/internal/model"
	"github.com/xxxsen/mrag/internal/pkg/errcode"
	appErr "github.com/xxxsen/mrag/internal/pkg/errors"
	"github.com/xxxsen/mrag/internal/pkg/response"
	"github.com/xxxsen/mrag/internal/service"
)

const (
	defaultPage     = 1
	defaultPageSize = 20
)

type IDocumentService interface {
	InsertDocument(ctx context.Context, input service.DocumentInput) (*model.Document, error)
	UpdateDocument(ctx context.Context, id int64, input service.DocumentInput) error
	DeleteDocument(ctx context.Context, id int64) (bool, error)
	GetDocumentByID(ctx context.Context, id int64) (*model.Document, error)
	ListDocuments(ctx context.Context, page, pageSize int) (*model.Page[model.Document], error)
	GetRelevantChunks(ctx context.Context, query string) ([]model.RetrievedChunk, error)
}

type DocumentHandler struct {
	documents IDocumentService
}

func NewDocumentHandler(documents IDocumentService) *DocumentHandler {
	return &DocumentHandler{documents: documents}
}

type documentRequest struct {
	Content string `json:"content"`
	Format  string `json:"format"`
}

func (h *DocumentHandler) bind(c *gin.Context) (service.DocumentInput, bool) {
	var req documentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			response.ErrorWithStatus(c, http.StatusRequestEntityTooLarge, errcode.ErrInvalid,
				"request body too large (max "+formatUploadLimit(tooLarge.Limit)+")")
			return service.DocumentInput{}, false
		}
		handleError(c, fmt.Errorf("%w: invalid json", appErr.ErrInvalid))
		return service.DocumentInput{}, false
	}
	return service.DocumentInput{Content: req.Content, Format: req.Format}, true
}

func (h *DocumentHandler) Create(c *gin.Context) {
	input, ok := h.bind(c)
	if !ok {
		return
	}
	doc, err := h.documents.InsertDocument(c.Request.Context(), input)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, doc)
}

func (h *DocumentHandler) List(c *gin.Context) {
	page := queryInt(c, "page", defaultPage)
	pageSize := queryInt(c, "pageSize", defaultPageSize)
	res, err := h.documents.ListDocuments(c.Request.Context(), page, pageSize)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, res)
}

func (h *DocumentHandler) Get(c *gin.Context) {
	id, err := parseID(c)
	if err != nil {
		handleError(c, err)
		return
	}
	doc, err := h.documents.GetDocumentByID(c.Request.Context(), id)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, doc)
}

func (h *DocumentHandler) Update(c *gin.Context) {
	id, err := parseID(c)
	if err != nil {
		handleError(c, err)
		return
	}
	input, ok := h.bind(c)
	if !ok {
		return
	}
	if err := h.documents.UpdateDocument(c.Request.Context(), id, input); err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"id": id})
}

func (h *DocumentHandler) Delete(c *gin.Context) {
	id, err := parseID(c)
	if err != nil {
		handleError(c, err)
		return
	}
	deleted, err := h.documents.DeleteDocument(c.Request.Context(), id)
	if err != nil {
		handleError(c, err)
		return
	}
	if !deleted {
		handleError(c, appErr.ErrNotFound)
		return
	}
	response.Success(c, gin.H{"id": id})
}

func (h *DocumentHandler) Search(c *gin.Context) {
	query := c.Query("q")
	if query == "" {
		handleError(c, fmt.Errorf("%w: query parameter 'q' is required", appErr.ErrInvalid))
		return
	}
	chunks, err := h.documents.GetRelevantChunks(c.Request.Context(), query)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, chunks)
}
