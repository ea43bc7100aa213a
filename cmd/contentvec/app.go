package main

import (
	"context"
	"fmt"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/contentvec/internal/ai"
	"github.com/xxxsen/contentvec/internal/config"
	"github.com/xxxsen/contentvec/internal/embedcache"
	"github.com/xxxsen/contentvec/internal/filestore"
	"github.com/xxxsen/contentvec/internal/repo"
	"github.com/xxxsen/contentvec/internal/service"
)

// app holds the services shared by every command. The content table is
// ensured once here and injected everywhere else.
type app struct {
	cfg     *config.Config
	db      repo.Database
	schema  *service.SchemaService
	table   repo.ContentTable
	gen     *ai.EmbeddingGenerator
	store   filestore.Store
	index   *service.IndexService
	records *service.RecordService
	search  *service.SearchService
	ingest  *service.IngestService
}

func openDatabase(cfg *config.Config) (repo.Database, *service.SchemaService, error) {
	db, err := repo.Open(cfg.Database)
	if err != nil {
		return nil, nil, fmt.Errorf("open db: %w", err)
	}
	schema := service.NewSchemaService(db, service.SchemaConfig{
		Table:         cfg.Database.Table,
		AllowRecreate: cfg.Schema.AllowRecreate,
	})
	return db, schema, nil
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	db, schema, err := openDatabase(cfg)
	if err != nil {
		return nil, err
	}
	table, err := schema.EnsureTable(ctx)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	embedder, err := buildEmbedder(cfg.Embedding)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	gen := ai.NewEmbeddingGenerator(embedder, ai.GeneratorConfig{
		MaxTokens:     cfg.Embedding.MaxTokens,
		CharsPerToken: cfg.Embedding.CharsPerToken,
		Timeout:       time.Duration(cfg.Embedding.TimeoutSeconds) * time.Second,
	})
	var store filestore.Store
	if cfg.FileStore.Type != "" {
		store, err = filestore.New(cfg.FileStore)
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("init file store: %w", err)
		}
	}
	index := service.NewIndexService(table, cfg.Index.MinRows)
	records := service.NewRecordService(table, index)
	a := &app{
		cfg:     cfg,
		db:      db,
		schema:  schema,
		table:   table,
		gen:     gen,
		store:   store,
		index:   index,
		records: records,
		search: service.NewSearchService(table, gen, service.SearchConfig{
			DefaultLimit: cfg.Search.DefaultLimit,
			MaxLimit:     cfg.Search.MaxLimit,
		}),
		ingest: service.NewIngestService(records, gen, store, service.IngestConfig{
			Concurrency:  cfg.Ingest.Concurrency,
			GroupDelay:   time.Duration(cfg.Ingest.GroupDelayMs) * time.Millisecond,
			SourcePrefix: cfg.Ingest.SourcePrefix,
			ReportPrefix: cfg.Ingest.ReportPrefix,
		}),
	}
	logutil.GetLogger(ctx).Info("app initialized",
		zap.String("driver", db.Driver()),
		zap.String("table", table.Name()),
		zap.String("embedding_model", gen.ModelName()),
		zap.String("file_store", cfg.FileStore.Type),
	)
	return a, nil
}

func (a *app) Close() error {
	return a.db.Close()
}

// buildEmbedder chains the configured providers in order behind the LRU
// cache.
func buildEmbedder(cfg config.EmbeddingConfig) (ai.IEmbedder, error) {
	entries := make([]ai.EmbedderEntry, 0, len(cfg.Providers))
	for _, p := range cfg.Providers {
		provider, err := ai.NewEmbedProvider(p.Name, p.Data)
		if err != nil {
			return nil, fmt.Errorf("init embedding provider %s: %w", p.Name, err)
		}
		entries = append(entries, ai.EmbedderEntry{Name: p.Name, Embedder: ai.NewEmbedder(provider, p.Model)})
	}
	embedder := ai.NewGroupEmbedder(entries)
	if embedder == nil {
		return nil, fmt.Errorf("no embedding provider configured")
	}
	return embedcache.WrapLruCacheToEmbedder(embedder, cfg.CacheSize, time.Duration(cfg.CacheTTLSeconds)*time.Second), nil
}
