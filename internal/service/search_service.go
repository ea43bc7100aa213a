package service

import (
	"context"
	"sort"
	"strings"

	"github.com/xxxsen/common/logutil"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/xxxsen/contentvec/internal/model"
	appErr "github.com/xxxsen/contentvec/internal/pkg/errors"
	"github.com/xxxsen/contentvec/internal/repo"
)

const (
	DefaultSearchLimit    = 10
	DefaultMaxSearchLimit = 100
)

var tracer = otel.Tracer("github.com/xxxsen/contentvec/internal/service")

type queryEmbedder interface {
	GenerateQuery(ctx context.Context, text string) ([]float32, error)
}

type SearchConfig struct {
	DefaultLimit int
	MaxLimit     int
}

type SearchRequest struct {
	Query        string              `json:"query"`
	Vector       []float32           `json:"vector,omitempty"`
	Limit        int                 `json:"limit"`
	ContentTypes []model.ContentType `json:"content_types,omitempty"`
	Threshold    *float64            `json:"threshold,omitempty"`
}

type SearchService struct {
	table repo.ContentTable
	gen   queryEmbedder
	cfg   SearchConfig
}

func NewSearchService(table repo.ContentTable, gen queryEmbedder, cfg SearchConfig) *SearchService {
	if cfg.DefaultLimit <= 0 {
		cfg.DefaultLimit = DefaultSearchLimit
	}
	if cfg.MaxLimit <= 0 {
		cfg.MaxLimit = DefaultMaxSearchLimit
	}
	if cfg.DefaultLimit > cfg.MaxLimit {
		cfg.DefaultLimit = cfg.MaxLimit
	}
	return &SearchService{table: table, gen: gen, cfg: cfg}
}

func (s *SearchService) clampLimit(limit int) int {
	if limit <= 0 {
		return s.cfg.DefaultLimit
	}
	if limit > s.cfg.MaxLimit {
		return s.cfg.MaxLimit
	}
	return limit
}

// Search returns the records nearest to the query text or vector, best
// first. A vector in the request takes precedence over the query text.
func (s *SearchService) Search(ctx context.Context, req SearchRequest) ([]*model.ScoredRecord, error) {
	ctx, span := tracer.Start(ctx, "SearchService.Search", trace.WithAttributes(
		attribute.Bool("search.by_vector", len(req.Vector) > 0),
		attribute.Int("search.limit", req.Limit),
	))
	defer span.End()

	res, err := s.search(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("search.results", len(res)))
	return res, nil
}

func (s *SearchService) search(ctx context.Context, req SearchRequest) ([]*model.ScoredRecord, error) {
	for _, ct := range req.ContentTypes {
		if !ct.Valid() {
			return nil, appErr.Invalid("content_types", "unsupported value %q", ct)
		}
	}
	if req.Threshold != nil && (*req.Threshold < -1 || *req.Threshold > 1) {
		return nil, appErr.Invalid("threshold", "must be within [-1, 1]")
	}
	limit := s.clampLimit(req.Limit)
	vec := req.Vector
	if len(vec) > 0 {
		if len(vec) != model.EmbeddingDimension {
			return nil, appErr.Invalid("vector", "has %d dimensions, want %d", len(vec), model.EmbeddingDimension)
		}
	} else {
		query := strings.TrimSpace(req.Query)
		if query == "" {
			return nil, appErr.Invalid("query", "must not be empty")
		}
		var err error
		vec, err = s.gen.GenerateQuery(ctx, query)
		if err != nil {
			return nil, err
		}
	}
	res, err := s.table.VectorSearch(ctx, repo.VectorQuery{Vector: vec, Limit: limit, ContentTypes: req.ContentTypes})
	if err != nil {
		logutil.GetLogger(ctx).Error("vector search failed", zap.Int("limit", limit), zap.Error(err))
		return nil, err
	}
	if req.Threshold != nil {
		kept := res[:0]
		for _, r := range res {
			if r.Score >= *req.Threshold {
				kept = append(kept, r)
			}
		}
		res = kept
	}
	sort.SliceStable(res, func(i, j int) bool { return res[i].Score > res[j].Score })
	if len(res) > limit {
		res = res[:limit]
	}
	return res, nil
}
