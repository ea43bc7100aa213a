package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	appErr "github.com/xxxsen/contentvec/internal/pkg/errors"
	"github.com/xxxsen/contentvec/internal/repo"
)

const recreateHint = "run `contentvec schema recreate --yes` to drop and recreate it, all rows will be lost"

type SchemaConfig struct {
	Table         string
	AllowRecreate bool
}

// SchemaService owns the lifecycle of the content table. EnsureTable runs
// once at startup and the returned handle is shared by every other service.
type SchemaService struct {
	db  repo.Database
	cfg SchemaConfig
}

func NewSchemaService(db repo.Database, cfg SchemaConfig) *SchemaService {
	if cfg.Table == "" {
		cfg.Table = "content"
	}
	return &SchemaService{db: db, cfg: cfg}
}

func (s *SchemaService) Table() string {
	return s.cfg.Table
}

// EnsureTable opens the content table, creating it when absent. An existing
// table with an incompatible layout is only recreated when allowed.
func (s *SchemaService) EnsureTable(ctx context.Context) (repo.ContentTable, error) {
	logger := logutil.GetLogger(ctx).With(zap.String("table", s.cfg.Table), zap.String("driver", s.db.Driver()))
	tbl, err := s.db.OpenTable(ctx, s.cfg.Table)
	if errors.Is(err, appErr.ErrTableNotFound) {
		logger.Info("content table not found, creating")
		return s.create(ctx)
	}
	if err != nil {
		logger.Error("open content table failed", zap.Error(err))
		return nil, err
	}
	err = tbl.Probe(ctx)
	if err == nil {
		logger.Info("content table ready")
		return tbl, nil
	}
	if !errors.Is(err, appErr.ErrSchemaMismatch) {
		logger.Error("probe content table failed", zap.Error(err))
		return nil, err
	}
	if !s.cfg.AllowRecreate {
		logger.Error("content table schema is incompatible", zap.Error(err))
		return nil, fmt.Errorf("table %s: %w; %s", s.cfg.Table, err, recreateHint)
	}
	logger.Warn("content table schema is incompatible, recreating because schema.allow_recreate is set",
		zap.Error(err))
	return s.RecreateTable(ctx)
}

// RecreateTable drops the content table and creates it empty.
func (s *SchemaService) RecreateTable(ctx context.Context) (repo.ContentTable, error) {
	logger := logutil.GetLogger(ctx).With(zap.String("table", s.cfg.Table))
	logger.Warn("dropping content table, every stored record is deleted")
	if err := s.db.DropTable(ctx, s.cfg.Table); err != nil {
		logger.Error("drop content table failed", zap.Error(err))
		return nil, err
	}
	return s.create(ctx)
}

func (s *SchemaService) create(ctx context.Context) (repo.ContentTable, error) {
	logger := logutil.GetLogger(ctx).With(zap.String("table", s.cfg.Table))
	tbl, err := s.db.CreateTable(ctx, s.cfg.Table)
	if err != nil {
		logger.Error("create content table failed", zap.Error(err))
		return nil, err
	}
	if err := tbl.Probe(ctx); err != nil {
		logger.Error("probe of new content table failed", zap.Error(err))
		return nil, err
	}
	logger.Info("content table created")
	return tbl, nil
}
