package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/xxxsen/contentvec/internal/model"
	appErr "github.com/xxxsen/contentvec/internal/pkg/errors"
	"github.com/xxxsen/contentvec/internal/repo"
)

const DefaultIndexMinRows = 256

// IndexService builds the vector index once the table is large enough.
// Search works without it through a full scan.
type IndexService struct {
	table   repo.ContentTable
	minRows int64
	group   singleflight.Group
}

func NewIndexService(table repo.ContentTable, minRows int64) *IndexService {
	if minRows <= 0 {
		minRows = DefaultIndexMinRows
	}
	return &IndexService{table: table, minRows: minRows}
}

// EnsureIndex reports whether a vector index exists after the call.
// Concurrent callers share one build.
func (s *IndexService) EnsureIndex(ctx context.Context) (bool, error) {
	v, err, _ := s.group.Do("ensure", func() (interface{}, error) {
		return s.ensure(ctx)
	})
	if err != nil {
		return false, err
	}
	return v.(bool), nil
}

func (s *IndexService) ensure(ctx context.Context) (bool, error) {
	logger := logutil.GetLogger(ctx).With(zap.String("table", s.table.Name()))
	indices, err := s.table.ListIndices(ctx)
	if err != nil {
		return false, err
	}
	if len(indices) > 0 {
		return true, nil
	}
	rows, err := s.table.CountRows(ctx)
	if err != nil {
		return false, err
	}
	if rows < s.minRows {
		logger.Debug("skip index build, not enough rows", zap.Int64("rows", rows), zap.Int64("min_rows", s.minRows))
		return false, nil
	}
	logger.Info("building vector index", zap.Int64("rows", rows))
	if err := s.table.CreateIndex(ctx, repo.EmbeddingColumn, true); err != nil {
		logger.Error("build vector index failed", zap.Error(err))
		if errors.Is(err, appErr.ErrIndex) {
			return false, err
		}
		return false, fmt.Errorf("%w: %v", appErr.ErrIndex, err)
	}
	indices, err = s.table.ListIndices(ctx)
	if err != nil {
		return false, err
	}
	if len(indices) == 0 {
		logger.Error("vector index missing after build")
		return false, fmt.Errorf("%w: index missing after build", appErr.ErrIndex)
	}
	logger.Info("vector index ready", zap.String("kind", indices[0].Kind), zap.Int64("rows", rows))
	return true, nil
}

func (s *IndexService) Status(ctx context.Context) (*model.IndexStatus, error) {
	rows, err := s.table.CountRows(ctx)
	if err != nil {
		return nil, err
	}
	indices, err := s.table.ListIndices(ctx)
	if err != nil {
		return nil, err
	}
	return &model.IndexStatus{RowCount: rows, HasIndex: len(indices) > 0, MinRows: s.minRows}, nil
}
