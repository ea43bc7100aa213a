package handler

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/xxxsen/contentvec/internal/model"
	"github.com/xxxsen/contentvec/internal/pkg/response"
	"github.com/xxxsen/contentvec/internal/service"
)

type ContentHandler struct {
	ingest       *service.IngestService
	records      *service.RecordService
	maxBulkItems int
}

func NewContentHandler(ingest *service.IngestService, records *service.RecordService, maxBulkItems int) *ContentHandler {
	return &ContentHandler{ingest: ingest, records: records, maxBulkItems: maxBulkItems}
}

type bulkResponse struct {
	Success    bool                    `json:"success"`
	Count      int                     `json:"count"`
	ErrorCount int                     `json:"error_count"`
	Duplicates int                     `json:"duplicates,omitempty"`
	Aborted    bool                    `json:"aborted,omitempty"`
	Failures   []service.IngestFailure `json:"failures,omitempty"`
}

func (h *ContentHandler) Create(c *gin.Context) {
	var req model.ContentPayload
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body: "+err.Error())
		return
	}
	rec, err := h.ingest.IngestOne(c.Request.Context(), &req)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, http.StatusCreated, gin.H{"success": true, "id": rec.ID})
}

func (h *ContentHandler) Bulk(c *gin.Context) {
	var req []*model.ContentPayload
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body: "+err.Error())
		return
	}
	if len(req) == 0 {
		badRequest(c, "at least one item is required")
		return
	}
	if h.maxBulkItems > 0 && len(req) > h.maxBulkItems {
		badRequest(c, fmt.Sprintf("at most %d items are allowed", h.maxBulkItems))
		return
	}
	report, err := h.ingest.IngestPayloads(c.Request.Context(), req)
	if err != nil && !report.Aborted {
		handleError(c, err)
		return
	}
	response.Success(c, http.StatusOK, bulkResponse{
		Success:    report.ErrorCount == 0,
		Count:      report.SuccessCount,
		ErrorCount: report.ErrorCount,
		Duplicates: report.Duplicates,
		Aborted:    report.Aborted,
		Failures:   report.Failures,
	})
}

func (h *ContentHandler) Get(c *gin.Context) {
	includeEmbedding := false
	if raw := c.Query("include_embedding"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			badRequest(c, "include_embedding must be a boolean")
			return
		}
		includeEmbedding = v
	}
	rec, err := h.records.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		handleError(c, err)
		return
	}
	if !includeEmbedding {
		rec.Embedding = nil
	}
	response.Success(c, http.StatusOK, rec)
}

func (h *ContentHandler) Delete(c *gin.Context) {
	id := c.Param("id")
	if err := h.records.Delete(c.Request.Context(), id); err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"success": true, "id": id})
}
