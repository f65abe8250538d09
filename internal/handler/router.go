package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/xxxsen/mrag/internal/middleware"
)

type RouterDeps struct {
	Documents *DocumentHandler
	// Import is optional; the route is not registered when nil.
	Import       *ImportHandler
	Username     string
	PasswordHash string
	// SearchRate is requests per second per client, zero disables it.
	SearchRate   float64
	SearchBurst  int
	MaxBodyBytes int64
}

func RegisterRoutes(api *gin.RouterGroup, deps RouterDeps) {
	api.GET("/public/health", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})

	maxBody := deps.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = defaultMaxBodyBytes
	}
	internal := api.Group("/internal")
	internal.Use(middleware.BasicAuth(deps.Username, deps.PasswordHash))
	internal.GET("/search/document", middleware.RateLimit(deps.SearchRate, deps.SearchBurst), deps.Documents.Search)

	docs := internal.Group("/document")
	docs.Use(limitBody(maxBody))
	docs.POST("", deps.Documents.Create)
	docs.GET("", deps.Documents.List)
	docs.GET("/:id", deps.Documents.Get)
	docs.PUT("/:id", deps.Documents.Update)
	docs.DELETE("/:id", deps.Documents.Delete)

	if deps.Import != nil {
		internal.POST("/import", deps.Import.Run)
	}
}
