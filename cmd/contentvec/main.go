package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/xxxsen/common/logger"
	"github.com/xxxsen/common/logutil"
	"github.com/xxxsen/common/webapi"
	"go.uber.org/zap"

	"github.com/xxxsen/contentvec/internal/config"
	"github.com/xxxsen/contentvec/internal/handler"
	"github.com/xxxsen/contentvec/internal/job"
	"github.com/xxxsen/contentvec/internal/middleware"
	"github.com/xxxsen/contentvec/internal/schedule"
)

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return nil, fmt.Errorf("--config is required")
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	logger.Init(
		cfg.LogConfig.File,
		cfg.LogConfig.Level,
		int(cfg.LogConfig.FileCount),
		int(cfg.LogConfig.FileSize),
		int(cfg.LogConfig.KeepDays),
		cfg.LogConfig.Console,
	)
	logutil.GetLogger(context.Background()).Info("config loaded", zap.String("config", path))
	return cfg, nil
}

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:           "contentvec",
		Short:         "content ingestion and vector search service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config.json")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "run the http server and scheduled jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()
			return runServer(ctx, a)
		},
	}

	var prefix string
	ingestCmd := &cobra.Command{
		Use:   "ingest",
		Short: "ingest descriptor manifests from the file store",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()
			report, runErr := a.ingest.IngestFromSource(ctx, prefix)
			if report != nil {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				_ = enc.Encode(report)
			}
			return runErr
		},
	}
	ingestCmd.Flags().StringVar(&prefix, "prefix", "", "manifest key prefix, defaults to ingest.source_prefix")

	var confirmed bool
	schemaCmd := &cobra.Command{Use: "schema", Short: "manage the content table"}
	recreateCmd := &cobra.Command{
		Use:   "recreate",
		Short: "drop and recreate the content table, deleting every record",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !confirmed {
				return fmt.Errorf("refusing to drop the content table without --yes")
			}
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			db, schema, err := openDatabase(cfg)
			if err != nil {
				return err
			}
			defer db.Close()
			tbl, err := schema.RecreateTable(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "table %s recreated\n", tbl.Name())
			return nil
		},
	}
	recreateCmd.Flags().BoolVar(&confirmed, "yes", false, "confirm that all stored records are deleted")
	schemaCmd.AddCommand(recreateCmd)

	indexCmd := &cobra.Command{Use: "index", Short: "manage the vector index"}
	ensureCmd := &cobra.Command{
		Use:   "ensure",
		Short: "build the vector index when the table is large enough",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.Close()
			if err := schedule.RunJob(cmd.Context(), job.NewIndexEnsureJob(a.index)); err != nil {
				return err
			}
			st, err := a.index.Status(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "rows=%d indexed=%t min_rows=%d\n", st.RowCount, st.HasIndex, st.MinRows)
			return nil
		},
	}
	indexCmd.AddCommand(ensureCmd)

	rootCmd.AddCommand(runCmd, ingestCmd, schemaCmd, indexCmd)
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		logutil.GetLogger(context.Background()).Fatal("command failed", zap.Error(err))
	}
}

func runServer(ctx context.Context, a *app) error {
	cfg := a.cfg
	addr := fmt.Sprintf("0.0.0.0:%d", cfg.Port)
	logutil.GetLogger(ctx).Info("starting server",
		zap.String("addr", addr),
		zap.String("driver", a.db.Driver()),
	)

	scheduler := schedule.NewCronScheduler()
	if cfg.Schedule.IndexEnsure != "" {
		if err := scheduler.AddJob(job.NewIndexEnsureJob(a.index), cfg.Schedule.IndexEnsure); err != nil {
			return err
		}
	}
	if cfg.Schedule.SourceIngest != "" {
		if err := scheduler.AddJob(job.NewSourceIngestJob(a.ingest, cfg.Ingest.SourcePrefix), cfg.Schedule.SourceIngest); err != nil {
			return err
		}
	}
	scheduler.Start(ctx)
	defer scheduler.Stop()

	// Rows may have been written by an earlier run that stopped before the
	// index build.
	if err := schedule.RunJob(ctx, job.NewIndexEnsureJob(a.index)); err != nil {
		logutil.GetLogger(ctx).Warn("initial index ensure failed", zap.Error(err))
	}

	deps := handler.RouterDeps{
		Content:     handler.NewContentHandler(a.ingest, a.records, cfg.Server.MaxBulkItems),
		Search:      handler.NewSearchHandler(a.search),
		Index:       handler.NewIndexHandler(a.index),
		Health:      handler.NewHealthHandler(a.db),
		SearchLimit: time.Duration(cfg.Server.SearchRateLimitMs) * time.Millisecond,
	}
	engine, err := webapi.NewEngine(
		"/",
		addr,
		webapi.WithRegister(func(group *gin.RouterGroup) {
			handler.RegisterRoutes(group, deps)
		}),
		webapi.WithExtraMiddlewares(
			middleware.RequestID(),
			middleware.CORS(cfg.Server.CORSOrigins),
			gzip.Gzip(gzip.DefaultCompression),
		),
	)
	if err != nil {
		return fmt.Errorf("init web engine: %w", err)
	}
	go func() {
		if err := engine.Run(); err != nil && err != http.ErrServerClosed {
			logutil.GetLogger(context.Background()).Error("server error", zap.Error(err))
		}
	}()
	logutil.GetLogger(ctx).Info("http server listening", zap.String("addr", addr))

	<-ctx.Done()
	logutil.GetLogger(context.Background()).Info("server stopping...")
	return nil
}
