package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/xxxsen/contentvec/internal/model"
	"github.com/xxxsen/contentvec/internal/pkg/response"
	"github.com/xxxsen/contentvec/internal/service"
)

type SearchHandler struct {
	search *service.SearchService
}

func NewSearchHandler(search *service.SearchService) *SearchHandler {
	return &SearchHandler{search: search}
}

func (h *SearchHandler) Search(c *gin.Context) {
	var req service.SearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body: "+err.Error())
		return
	}
	results, err := h.search.Search(c.Request.Context(), req)
	if err != nil {
		handleError(c, err)
		return
	}
	for _, r := range results {
		r.Embedding = nil
	}
	if results == nil {
		results = []*model.ScoredRecord{}
	}
	response.Success(c, http.StatusOK, gin.H{"results": results})
}
