package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/contentvec/internal/ai"
	"github.com/xxxsen/contentvec/internal/middleware"
	"github.com/xxxsen/contentvec/internal/pkg/errcode"
	appErr "github.com/xxxsen/contentvec/internal/pkg/errors"
	"github.com/xxxsen/contentvec/internal/pkg/response"
)

type errorMapping struct {
	status int
	code   int
	kind   string
}

var providerMappings = map[ai.ErrorKind]errorMapping{
	ai.KindQuotaExceeded:      {http.StatusBadGateway, errcode.ErrQuotaExceeded, "quota_exceeded"},
	ai.KindInvalidCredentials: {http.StatusBadGateway, errcode.ErrInvalidCredentials, "invalid_credentials"},
	ai.KindRateLimited:        {http.StatusTooManyRequests, errcode.ErrRateLimited, "rate_limited"},
	ai.KindTransient:          {http.StatusBadGateway, errcode.ErrTransient, "transient"},
	ai.KindMalformedResponse:  {http.StatusBadGateway, errcode.ErrMalformedResponse, "malformed_response"},
}

func mapError(err error) errorMapping {
	var pe *ai.ProviderError
	switch {
	case errors.Is(err, appErr.ErrContentEmpty):
		return errorMapping{http.StatusBadRequest, errcode.ErrContentEmpty, "content_empty"}
	case errors.Is(err, appErr.ErrInvalid):
		return errorMapping{http.StatusBadRequest, errcode.ErrInvalid, "validation"}
	case errors.Is(err, appErr.ErrNotFound):
		return errorMapping{http.StatusNotFound, errcode.ErrNotFound, "not_found"}
	case errors.Is(err, appErr.ErrSchemaMismatch):
		return errorMapping{http.StatusServiceUnavailable, errcode.ErrSchemaMismatch, "schema_mismatch"}
	case errors.Is(err, appErr.ErrIndex):
		return errorMapping{http.StatusInternalServerError, errcode.ErrIndex, "index"}
	case errors.Is(err, appErr.ErrTooMany):
		return errorMapping{http.StatusTooManyRequests, errcode.ErrTooMany, "too_many_requests"}
	case errors.As(err, &pe):
		if m, ok := providerMappings[pe.Kind]; ok {
			return m
		}
		return providerMappings[ai.KindTransient]
	default:
		return errorMapping{http.StatusInternalServerError, errcode.ErrInternal, "internal"}
	}
}

func handleError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	m := mapError(err)
	logger := logutil.GetLogger(c.Request.Context()).With(
		zap.String("request_id", c.GetString(middleware.RequestIDKey)),
		zap.String("method", c.Request.Method),
		zap.String("path", c.Request.URL.Path),
		zap.String("kind", m.kind),
	)
	message := err.Error()
	if m.status >= http.StatusInternalServerError {
		logger.Error("request failed", zap.Error(err))
		if m.kind == "internal" {
			message = "internal error"
		}
	} else {
		logger.Warn("request rejected", zap.Error(err))
	}
	response.Error(c, m.status, m.code, m.kind, message)
}

func badRequest(c *gin.Context, message string) {
	response.Error(c, http.StatusBadRequest, errcode.ErrInvalid, "validation", message)
}
