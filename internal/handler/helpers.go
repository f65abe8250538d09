package handler

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/mrag/internal/middleware"
	"github.com/xxxsen/mrag/internal/pkg/errcode"
	appErr "github.com/xxxsen/mrag/internal/pkg/errors"
	"github.com/xxxsen/mrag/internal/pkg/response"
)

type errorMapping struct {
	kind   error
	status int
	code   int
	msg    string
}

var errorMappings = []errorMapping{
	{appErr.ErrInvalid, http.StatusBadRequest, errcode.ErrInvalid, "invalid request"},
	{appErr.ErrNotFound, http.StatusNotFound, errcode.ErrNotFound, "not found"},
	{appErr.ErrUnauthorized, http.StatusUnauthorized, errcode.ErrUnauthorized, "unauthorized"},
	{appErr.ErrTooMany, http.StatusTooManyRequests, errcode.ErrTooMany, "too many requests"},
	{appErr.ErrEmbedding, http.StatusBadGateway, errcode.ErrEmbeddingFailed, "embedding service failed"},
	{appErr.ErrRerank, http.StatusBadGateway, errcode.ErrRerankFailed, "rerank service failed"},
	{appErr.ErrStore, http.StatusServiceUnavailable, errcode.ErrStoreFailed, "storage unavailable"},
}

// handleError answers with the status and code of the first error kind err
// carries. Validation messages are returned to the caller, everything else
// is logged and replaced by a generic text.
func handleError(c *gin.Context, err error) {
	logger := logutil.GetLogger(c.Request.Context()).With(
		zap.String("request_id", c.GetString(middleware.ContextRequestIDKey)),
		zap.String("method", c.Request.Method),
		zap.String("path", c.Request.URL.Path),
		zap.Error(err),
	)
	for _, m := range errorMappings {
		if !errors.Is(err, m.kind) {
			continue
		}
		msg := m.msg
		if m.kind == appErr.ErrInvalid {
			msg = err.Error()
		}
		if m.status >= http.StatusInternalServerError {
			logger.Error("request failed")
		} else {
			logger.Debug("request rejected")
		}
		response.ErrorWithStatus(c, m.status, m.code, msg)
		return
	}
	logger.Error("request failed")
	response.ErrorWithStatus(c, http.StatusInternalServerError, errcode.ErrInternal, "internal error")
}

func parseID(c *gin.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: invalid document id", appErr.ErrInvalid)
	}
	return id, nil
}

func queryInt(c *gin.Context, name string, def int) int {
	v, err := strconv.Atoi(c.Query(name))
	if err != nil || v <= 0 {
		return def
	}
	return v
}
