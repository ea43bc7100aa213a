package handler

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/xxxsen/contentvec/internal/middleware"
)

type RouterDeps struct {
	Content     *ContentHandler
	Search      *SearchHandler
	Index       *IndexHandler
	Health      *HealthHandler
	SearchLimit time.Duration
}

func RegisterRoutes(api *gin.RouterGroup, deps RouterDeps) {
	api.GET("/health", deps.Health.Health)
	api.GET("/ready", deps.Health.Ready)

	api.POST("/embeddings", deps.Content.Create)
	api.POST("/embeddings/bulk", deps.Content.Bulk)
	api.GET("/embeddings/:id", deps.Content.Get)
	api.DELETE("/embeddings/:id", deps.Content.Delete)

	api.POST("/search", middleware.RateLimit(deps.SearchLimit), deps.Search.Search)

	api.GET("/index/status", deps.Index.Status)
	api.POST("/index/ensure", deps.Index.Ensure)
}
