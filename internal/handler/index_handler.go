package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/xxxsen/contentvec/internal/pkg/response"
	"github.com/xxxsen/contentvec/internal/service"
)

type IndexHandler struct {
	index *service.IndexService
}

func NewIndexHandler(index *service.IndexService) *IndexHandler {
	return &IndexHandler{index: index}
}

func (h *IndexHandler) Status(c *gin.Context) {
	st, err := h.index.Status(c.Request.Context())
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, http.StatusOK, st)
}

func (h *IndexHandler) Ensure(c *gin.Context) {
	ok, err := h.index.EnsureIndex(c.Request.Context())
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"indexed": ok})
}
