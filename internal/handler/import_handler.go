package handler

import (
	"context"
	"fmt"

	"github.com/gin-gonic/gin"

	"github.com/xxxsen/mrag/internal/model"
	appErr "github.com/xxxsen/mrag/internal/pkg/errors"
	"github.com/xxxsen/mrag/internal/pkg/response"
)

type IImportService interface {
	Import(ctx context.Context, prefix string) (*model.ImportReport, error)
}

type ImportHandler struct {
	imports IImportService
}

func NewImportHandler(imports IImportService) *ImportHandler {
	return &ImportHandler{imports: imports}
}

type importRequest struct {
	Prefix string `json:"prefix"`
}

// Run imports synchronously and answers with the report.
func (h *ImportHandler) Run(c *gin.Context) {
	var req importRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			handleError(c, fmt.Errorf("%w: invalid json", appErr.ErrInvalid))
			return
		}
	}
	report, err := h.imports.Import(c.Request.Context(), req.Prefix)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, report)
}
