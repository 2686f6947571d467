// tasksvr serves a task database over the Model Context Protocol: seven
// tools, three resources, and three prompts behind STDIO and HTTP+SSE
// transports. Configuration comes entirely from the environment.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/taskmcp/tasksvr/internal/audit"
	"github.com/taskmcp/tasksvr/internal/batch"
	"github.com/taskmcp/tasksvr/internal/config"
	"github.com/taskmcp/tasksvr/internal/metrics"
	"github.com/taskmcp/tasksvr/internal/prompts"
	"github.com/taskmcp/tasksvr/internal/ratelimit"
	"github.com/taskmcp/tasksvr/internal/resources"
	"github.com/taskmcp/tasksvr/internal/server"
	"github.com/taskmcp/tasksvr/internal/store"
	"github.com/taskmcp/tasksvr/internal/store/memstore"
	"github.com/taskmcp/tasksvr/internal/store/pgstore"
	"github.com/taskmcp/tasksvr/internal/tools"
)

func main() {
	if err := run(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg := config.Get()

	// On the STDIO transport stdout carries the protocol, so every log
	// line goes to stderr.
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.Level()}))
	slog.SetDefault(logger)

	var taskStore store.TaskStore
	var jobStore batch.JobStore
	if cfg.UsePostgres() {
		pg, err := pgstore.Open(ctx, cfg.DSN(), logger)
		if err != nil {
			return fmt.Errorf("open postgres store: %w", err)
		}
		defer pg.Close()
		taskStore, jobStore = pg, pg
	} else {
		mem := memstore.New()
		taskStore, jobStore = mem, mem
		logger.LogAttrs(ctx, slog.LevelInfo, "DB_HOST not set, using the in-memory store")
	}

	auditLog := audit.New(audit.Config{
		Enabled:            cfg.AuditEnabled,
		Categories:         cfg.AuditCategories,
		SensitiveMaxLength: cfg.AuditSensitiveMaxLength,
		SensitiveStrategy:  cfg.AuditSensitiveStrategy,
		FilePath:           cfg.AuditFile,
		MaxSizeMB:          cfg.AuditFileMaxSizeMB,
		MaxAgeDays:         cfg.AuditFileMaxAgeDays,
		MaxBackups:         cfg.AuditFileMaxBackups,
	})

	m := metrics.New()

	limiter := ratelimit.New(ratelimit.Limit{
		Capacity:       cfg.RateLimitCapacity,
		RefillTokens:   cfg.RateLimitRefillTokens,
		RefillInterval: time.Duration(cfg.RateLimitRefillSecs) * time.Second,
	}, toolLimits(cfg.RateLimitTools))
	if len(cfg.RateLimitTools) > 0 {
		logger.LogAttrs(ctx, slog.LevelInfo, "per-tool rate limits are tracked in this process only, not shared across instances",
			slog.Int("overrides", len(cfg.RateLimitTools)))
	}

	hub := server.NewHub(server.HubConfig{Logger: logger})

	pool := batch.NewPool(batch.PoolConfig{
		CoreWorkers: cfg.BatchCorePoolSize,
		MaxWorkers:  cfg.BatchMaxPoolSize,
		QueueSize:   cfg.BatchQueueCapacity,
		Logger:      logger,
		Metrics:     m,
	})
	jobs := batch.NewRegistry(jobStore, auditLog, m, logger)
	engine := batch.NewEngine(batch.EngineConfig{
		Tasks:  taskStore,
		Jobs:   jobs,
		Pool:   pool,
		Events: hub,
		Logger: logger,
	})

	registry, err := tools.NewRegistry(tools.Config{
		Store:   taskStore,
		Engine:  engine,
		Limiter: limiter,
		Audit:   auditLog,
		Metrics: m,
		Logger:  logger,
	})
	if err != nil {
		return fmt.Errorf("build tool registry: %w", err)
	}
	resourceProvider := resources.NewProvider(resources.Config{
		Store:    taskStore,
		Audit:    auditLog,
		Logger:   logger,
		MaxTasks: cfg.ResourceMaxTasks,
	})
	promptProvider := prompts.NewProvider(prompts.Config{
		Store:  taskStore,
		Audit:  auditLog,
		Logger: logger,
	})
	dispatcher := server.NewDispatcher(registry, resourceProvider, promptProvider, auditLog, logger)

	var stdioSrv *server.StdioServer
	if cfg.StdioEnabled() {
		stdioSrv = server.NewStdioServer(server.StdioConfig{
			Dispatcher: dispatcher,
			Hub:        hub,
			Logger:     logger,
		})
	}
	var httpSrv *server.HTTPServer
	if cfg.HTTPEnabled() {
		httpSrv = server.NewHTTPServer(server.HTTPConfig{
			Port:               cfg.HTTPPort,
			Keys:               cfg.Keys(),
			AuthDisabled:       cfg.AuthDisabled,
			CORSEnabled:        cfg.CORSEnabled,
			CORSAllowedOrigins: cfg.CORSAllowedOrigins,
			HeartbeatInterval:  time.Duration(cfg.SSEHeartbeatIntervalSeconds) * time.Second,
			StreamTimeout:      time.Duration(cfg.SSEConnectionTimeoutMinutes) * time.Minute,
			MaxStreams:         cfg.SSEMaxConnections,
			Dispatcher:         dispatcher,
			Hub:                hub,
			Audit:              auditLog,
			Metrics:            m,
			Logger:             logger,
		})
	}

	srv := server.New(server.Config{
		Stdio:        stdioSrv,
		HTTP:         httpSrv,
		Hub:          hub,
		Engine:       engine,
		Pool:         pool,
		Audit:        auditLog,
		Logger:       logger,
		DrainTimeout: time.Duration(cfg.BatchTerminationSeconds) * time.Second,
	})
	return srv.Run(ctx)
}

func toolLimits(overrides []config.ToolLimit) map[string]ratelimit.Limit {
	if len(overrides) == 0 {
		return nil
	}
	limits := make(map[string]ratelimit.Limit, len(overrides))
	for _, o := range overrides {
		limits[o.Tool] = ratelimit.Limit{
			Capacity:       o.Capacity,
			RefillTokens:   o.RefillTokens,
			RefillInterval: time.Duration(o.RefillSeconds) * time.Second,
		}
	}
	return limits
}
