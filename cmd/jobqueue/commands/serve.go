package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/cyberkid042/distributed-job-queue/config"
	"github.com/cyberkid042/distributed-job-queue/ctxutil"
	"github.com/cyberkid042/distributed-job-queue/data"
	"github.com/cyberkid042/distributed-job-queue/data/cache"
	"github.com/cyberkid042/distributed-job-queue/job"
	"github.com/cyberkid042/distributed-job-queue/job/data/repository"
	"github.com/cyberkid042/distributed-job-queue/job/handler"
	"github.com/cyberkid042/distributed-job-queue/job/structs"
	"github.com/cyberkid042/distributed-job-queue/logging/logger"
	"github.com/cyberkid042/distributed-job-queue/logging/observes"
	"github.com/cyberkid042/distributed-job-queue/metrics"
)

// NewServeCommand creates the serve command
func NewServeCommand() *cobra.Command {
	var configFile string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the job queue server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(configFile)
			if err != nil {
				return fmt.Errorf("failed to load config: %v", err)
			}
			return runServer(cfg)
		},
	}

	cmd.Flags().StringVarP(&configFile, "config", "c", "config.yaml", "config file path")
	return cmd
}

func runServer(cfg *config.Config) error {
	logCleanup, err := logger.New(cfg.Logger)
	if err != nil {
		return fmt.Errorf("failed to create logger: %v", err)
	}
	defer logCleanup()
	log := logger.StdLogger()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Observes != nil && cfg.Observes.Tracer != nil && cfg.Observes.Tracer.Enabled {
		shutdownTracer, err := observes.NewTracer(cfg.AppName, cfg.Observes.Tracer)
		if err != nil {
			return fmt.Errorf("failed to init tracer: %v", err)
		}
		defer func() {
			if err := shutdownTracer(context.Background()); err != nil {
				log.Error(context.Background(), "Tracer shutdown failed", "error", err)
			}
		}()
	}

	collector := metrics.NewQueueCollector()

	d, dataCleanup, err := data.New(cfg.Data, cfg.Queue, data.WithMetricsCollector(collector))
	if err != nil {
		return fmt.Errorf("failed to init data layer: %v", err)
	}
	defer dataCleanup()

	repo, err := repository.NewJobRepository(d.DB(), cfg.Data.Database.Driver, collector)
	if err != nil {
		return fmt.Errorf("failed to init job repository: %v", err)
	}

	registry := job.NewRegistry()
	job.RegisterBuiltInHandlers(registry, log)

	opts := []job.ServiceOption{job.WithCollector(collector)}
	if rc := d.Redis(); rc != nil {
		jobCache := cache.NewCacheWithMetrics[structs.Job](rc, "jobs", collector)
		opts = append(opts, job.WithCache(jobCache, cfg.Data.Redis.CacheTTL))
	}
	svc := job.NewService(repo, d.Channel(), registry, cfg.Queue, log, opts...)

	consumer := job.NewConsumer(svc)
	if err := consumer.Start(ctx); err != nil {
		return fmt.Errorf("failed to start consumer: %v", err)
	}

	reconciler := job.NewReconciler(svc)
	reconciler.Start(ctx)

	if cfg.RunMode != "" {
		gin.SetMode(cfg.RunMode)
	}

	r := gin.New()
	r.Use(gin.Recovery(), traceMiddleware())
	handler.NewJobHandler(svc, log).RegisterRoutes(r)

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info(context.Background(), "Starting server", "addr", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error(context.Background(), "Server failed", "error", err)
		}
	}()

	// Wait for interrupt
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info(context.Background(), "Shutting down server")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error(context.Background(), "Server forced to shutdown", "error", err)
	}

	// The reconciler may be mid-pass; let it finish before closing the
	// data layer underneath it.
	reconciler.Wait()

	log.Info(context.Background(), "Server exited")
	return nil
}

// traceMiddleware guarantees every request context carries a trace id
// and echoes it back to the caller.
func traceMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, traceID := ctxutil.EnsureTraceID(c.Request.Context())
		c.Request = c.Request.WithContext(ctx)
		c.Header("X-Trace-Id", traceID)
		c.Next()
	}
}
